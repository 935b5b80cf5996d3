package preflight_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"flywheel/internal/preflight"
	"flywheel/internal/testsupport"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()

	result := preflight.CheckDirectoryAccess("Workspace directory", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir: %+v", result)
	}

	result = preflight.CheckDirectoryAccess("Workspace directory", filepath.Join(dir, "missing"))
	if result.Passed {
		t.Fatalf("expected failure for missing dir: %+v", result)
	}

	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result = preflight.CheckDirectoryAccess("Workspace directory", file)
	if result.Passed {
		t.Fatalf("expected failure for non-directory: %+v", result)
	}
}

func TestCheckCoverageService(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	result := preflight.CheckCoverageService(context.Background(), server.URL)
	if !result.Passed {
		t.Fatalf("expected reachable service: %+v", result)
	}

	result = preflight.CheckCoverageService(context.Background(), "")
	if result.Passed {
		t.Fatal("expected failure for missing base url")
	}
}

func TestRunAllCoversDirectoriesAndBinaries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}

	results := preflight.RunAll(context.Background(), cfg)
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	byName := make(map[string]preflight.Result, len(results))
	for _, result := range results {
		byName[result.Name] = result
	}
	for _, name := range []string{"Workflows directory", "Workspace directory", "Artifacts directory", "Log directory", "Shell"} {
		result, ok := byName[name]
		if !ok {
			t.Fatalf("missing check %q in %+v", name, results)
		}
		if !result.Passed {
			t.Fatalf("check %q failed: %+v", name, result)
		}
	}
}
