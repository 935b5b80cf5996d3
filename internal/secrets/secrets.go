// Package secrets resolves secret references used by workflow steps and the
// notifier. Values come from a TOML secrets file with FLYWHEEL_SECRET_*
// environment variables taking precedence.
package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const envPrefix = "FLYWHEEL_SECRET_"

// Store holds resolved secret values keyed by name.
type Store struct {
	values map[string]string
}

// Load reads the secrets file (if present) and overlays environment values.
// A missing file yields an empty store; any other read error is returned.
func Load(path string) (*Store, error) {
	values := make(map[string]string)

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			var decoded map[string]string
			if err := toml.Unmarshal(data, &decoded); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			for name, value := range decoded {
				values[name] = value
			}
		case errors.Is(err, fs.ErrNotExist):
			// No secrets file is fine; env vars may still provide values.
		default:
			return nil, fmt.Errorf("read secrets file: %w", err)
		}
	}

	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, envPrefix) {
			continue
		}
		rest := strings.TrimPrefix(entry, envPrefix)
		name, value, ok := strings.Cut(rest, "=")
		if !ok || name == "" {
			continue
		}
		values[name] = value
	}

	return &Store{values: values}, nil
}

// Empty returns a store with no values, for tests and optional wiring.
func Empty() *Store {
	return &Store{values: map[string]string{}}
}

// WithValues returns a store seeded from the provided map.
func WithValues(values map[string]string) *Store {
	cp := make(map[string]string, len(values))
	for name, value := range values {
		cp[name] = value
	}
	return &Store{values: cp}
}

// Get returns the named secret value.
func (s *Store) Get(name string) (string, bool) {
	if s == nil {
		return "", false
	}
	value, ok := s.values[name]
	return value, ok
}

// Names returns the sorted-insensitive set of known secret names.
func (s *Store) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.values))
	for name := range s.values {
		names = append(names, name)
	}
	return names
}

var refPattern = regexp.MustCompile(`\$\{\{\s*secrets\.([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Resolve substitutes ${{ secrets.NAME }} references in the input. Every
// referenced name must exist; the first missing one fails resolution so a
// step never runs with a silently empty credential.
func (s *Store) Resolve(input string) (string, error) {
	var missing string
	resolved := refPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := refPattern.FindStringSubmatch(match)[1]
		value, ok := s.Get(name)
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return value
	})
	if missing != "" {
		return "", fmt.Errorf("secret %q is not defined", missing)
	}
	return resolved, nil
}

// ResolveMap resolves every value of the provided environment map.
func (s *Store) ResolveMap(env map[string]string) (map[string]string, error) {
	if len(env) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(env))
	for key, value := range env {
		resolved, err := s.Resolve(value)
		if err != nil {
			return nil, fmt.Errorf("env %s: %w", key, err)
		}
		out[key] = resolved
	}
	return out, nil
}
