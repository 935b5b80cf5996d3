package deps_test

import (
	"testing"

	"flywheel/internal/deps"
)

func TestCheckBinariesFindsShell(t *testing.T) {
	results := deps.CheckBinaries([]deps.Requirement{
		{Name: "Shell", Command: "sh", Description: "Runs workflow steps"},
	})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Available {
		t.Fatalf("expected sh to be available: %+v", results[0])
	}
}

func TestCheckBinariesReportsMissing(t *testing.T) {
	results := deps.CheckBinaries([]deps.Requirement{
		{Name: "Ghost", Command: "definitely-not-a-real-binary-zz", Optional: true},
	})
	if results[0].Available {
		t.Fatal("expected missing binary to be unavailable")
	}
	if results[0].Detail == "" {
		t.Fatal("expected a detail message")
	}
	if !results[0].Optional {
		t.Fatal("optional flag should carry through")
	}
}

func TestCheckBinariesEmptyCommand(t *testing.T) {
	results := deps.CheckBinaries([]deps.Requirement{{Name: "Unset"}})
	if results[0].Available {
		t.Fatal("empty command must not be available")
	}
	if results[0].Detail != "command not configured" {
		t.Fatalf("unexpected detail: %q", results[0].Detail)
	}
}
