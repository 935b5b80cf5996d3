// Package textutil provides small text sanitizers shared by the runner,
// artifact collector, and executor.
package textutil

import "strings"

// PathSegment flattens a job display name like "tests (ubuntu, 3.10)" into a
// filesystem path component like "tests-ubuntu-3.10". Returns "job" when
// nothing survives.
func PathSegment(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-.")
	if out == "" {
		return "job"
	}
	return out
}

// EnvToken converts a matrix axis name like "python-version" into an
// environment variable fragment like "PYTHON_VERSION".
func EnvToken(axis string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(axis) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
