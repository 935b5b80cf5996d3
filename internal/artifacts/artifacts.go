// Package artifacts collects files produced by job steps into the shared
// artifacts directory. Collection is best-effort: a pattern that matches
// nothing is logged and skipped rather than failing the job, so coverage
// uploads and similar optional outputs never break an otherwise green run.
package artifacts

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"flywheel/internal/fileutil"
	"flywheel/internal/logging"
	"flywheel/internal/textutil"
)

// Collector copies job artifacts into a per-run, per-job directory under the
// configured artifacts root.
type Collector struct {
	root   string
	logger *slog.Logger
}

// NewCollector returns a collector rooted at dir.
func NewCollector(dir string, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Collector{root: dir, logger: logger}
}

// Collect copies every file matching the patterns (relative to workDir) into
// <root>/<runID>/<jobName>/ and returns the destination paths. Patterns that
// match nothing produce a warning, not an error.
func (c *Collector) Collect(runID, jobName, workDir string, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	destDir := filepath.Join(c.root, runID, textutil.PathSegment(jobName))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	var collected []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(workDir, pattern))
		if err != nil {
			return collected, fmt.Errorf("artifact pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			c.logger.Warn("artifact pattern matched no files",
				logging.String("pattern", pattern),
				logging.String(logging.FieldRunID, runID),
				logging.String(logging.FieldJob, jobName))
			continue
		}
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return collected, fmt.Errorf("stat artifact %s: %w", match, err)
			}
			if info.IsDir() {
				continue
			}
			dest := filepath.Join(destDir, filepath.Base(match))
			if err := fileutil.CopyFileVerified(match, dest); err != nil {
				return collected, fmt.Errorf("copy artifact %s: %w", match, err)
			}
			collected = append(collected, dest)
		}
	}
	return collected, nil
}

