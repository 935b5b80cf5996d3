package trigger_test

import (
	"testing"

	"flywheel/internal/trigger"
	"flywheel/internal/workflowdef"
)

func mustParse(t *testing.T, body string) *workflowdef.Definition {
	t.Helper()
	def, err := workflowdef.Parse([]byte(body))
	if err != nil {
		t.Fatalf("parse workflow: %v", err)
	}
	return def
}

const testsWorkflow = `
name: tests
on:
  push:
    branches: [main, 2.x]
  pull_request:
  schedule:
    - cron: "5 1 * * *"
  workflow_dispatch:
jobs:
  a:
    steps:
      - run: true
`

func TestMatchesPushBranchFilter(t *testing.T) {
	def := mustParse(t, testsWorkflow)

	cases := []struct {
		name  string
		event trigger.Event
		want  bool
	}{
		{"push to main", trigger.Event{Kind: trigger.KindPush, Branch: "main"}, true},
		{"push to 2.x", trigger.Event{Kind: trigger.KindPush, Branch: "2.x"}, true},
		{"push to feature branch", trigger.Event{Kind: trigger.KindPush, Branch: "feature/z"}, false},
		{"pull request from any branch", trigger.Event{Kind: trigger.KindPullRequest, Branch: "feature/z"}, true},
		{"schedule", trigger.Event{Kind: trigger.KindSchedule, Branch: "main"}, true},
		{"dispatch", trigger.Event{Kind: trigger.KindDispatch, Branch: "main"}, true},
		{"dispatch for other workflow", trigger.Event{Kind: trigger.KindDispatch, Workflow: "release"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := trigger.Matches(def, tc.event); got != tc.want {
				t.Fatalf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMatchesRejectsUndeclaredTriggers(t *testing.T) {
	def := mustParse(t, "name: narrow\non:\n  push:\n    branches: [main]\njobs:\n  a:\n    steps:\n      - run: true\n")

	if trigger.Matches(def, trigger.Event{Kind: trigger.KindPullRequest, Branch: "main"}) {
		t.Fatal("pull_request should not match a push-only workflow")
	}
	if trigger.Matches(def, trigger.Event{Kind: trigger.KindSchedule}) {
		t.Fatal("schedule should not match without schedule trigger")
	}
	if trigger.Matches(def, trigger.Event{Kind: trigger.KindDispatch}) {
		t.Fatal("dispatch should not match without workflow_dispatch trigger")
	}
}

func TestSelectFansOutSorted(t *testing.T) {
	defs := map[string]*workflowdef.Definition{
		"tests": mustParse(t, testsWorkflow),
		"docs":  mustParse(t, "name: docs\non:\n  push:\njobs:\n  a:\n    steps:\n      - run: true\n"),
	}
	names := trigger.Select(defs, trigger.Event{Kind: trigger.KindPush, Branch: "main"})
	if len(names) != 2 || names[0] != "docs" || names[1] != "tests" {
		t.Fatalf("unexpected selection: %v", names)
	}

	names = trigger.Select(defs, trigger.Event{Kind: trigger.KindPush, Branch: "feature/q"})
	if len(names) != 1 || names[0] != "docs" {
		t.Fatalf("expected only unfiltered workflow, got %v", names)
	}
}

func TestParseKind(t *testing.T) {
	for _, valid := range []string{"push", "pull_request", "schedule", "workflow_dispatch"} {
		if _, err := trigger.ParseKind(valid); err != nil {
			t.Fatalf("ParseKind(%q) failed: %v", valid, err)
		}
	}
	if _, err := trigger.ParseKind("release"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
