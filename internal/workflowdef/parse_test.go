package workflowdef_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"flywheel/internal/workflowdef"
)

func TestLoadParsesFullWorkflow(t *testing.T) {
	def, err := workflowdef.Load(filepath.Join("testdata", "tests.yml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if def.Name != "tests" {
		t.Fatalf("unexpected name: %q", def.Name)
	}
	if def.On.Push == nil || len(def.On.Push.Branches) != 2 {
		t.Fatalf("unexpected push trigger: %#v", def.On.Push)
	}
	if def.On.PullRequest == nil {
		t.Fatal("expected pull_request trigger enabled")
	}
	if len(def.On.PullRequest.Branches) != 0 {
		t.Fatalf("expected unfiltered pull_request trigger, got %#v", def.On.PullRequest)
	}
	if len(def.On.Schedule) != 1 || def.On.Schedule[0].Cron != "5 1 * * *" {
		t.Fatalf("unexpected schedule: %#v", def.On.Schedule)
	}
	if !def.On.WorkflowDispatch {
		t.Fatal("expected workflow_dispatch enabled")
	}
	if def.Concurrency == nil || !def.Concurrency.CancelInProgress {
		t.Fatalf("unexpected concurrency: %#v", def.Concurrency)
	}

	tests := def.Jobs["tests"]
	if tests == nil {
		t.Fatal("expected tests job")
	}
	if tests.TimeoutMinutes != 50 {
		t.Fatalf("unexpected job timeout: %d", tests.TimeoutMinutes)
	}
	if tests.Strategy.FailFastEnabled() {
		t.Fatal("expected fail_fast disabled")
	}
	if got := tests.Strategy.Matrix["python"]; len(got) != 4 || got[1] != "3.10" {
		t.Fatalf("expected literal version strings, got %v", got)
	}
	if len(tests.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(tests.Steps))
	}
	testStep := tests.Steps[2]
	if testStep.TimeoutMinutes != 40 {
		t.Fatalf("unexpected step timeout: %d", testStep.TimeoutMinutes)
	}
	if testStep.Env["PYTHONUTF8"] != "1" {
		t.Fatalf("unexpected step env: %v", testStep.Env)
	}
	if len(testStep.Artifacts) != 1 || testStep.Artifacts[0] != "coverage.xml" {
		t.Fatalf("unexpected artifacts: %v", testStep.Artifacts)
	}
	if !tests.Steps[3].ContinueOnError {
		t.Fatal("expected coverage upload step to continue on error")
	}

	check := def.Jobs["check"]
	if check == nil || len(check.Needs) != 1 || check.Needs[0] != "tests" {
		t.Fatalf("unexpected check job needs: %#v", check)
	}
	if check.If != "always()" {
		t.Fatalf("unexpected check condition: %q", check.If)
	}

	notify := def.Jobs["notify"]
	if notify == nil || notify.If != "failure() && branch == 'main'" {
		t.Fatalf("unexpected notify condition: %#v", notify)
	}
}

func TestLevelsOrdersByNeeds(t *testing.T) {
	def, err := workflowdef.Load(filepath.Join("testdata", "tests.yml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	levels := def.Levels()
	if len(levels) != 3 {
		t.Fatalf("expected 3 levels, got %v", levels)
	}
	if levels[0][0] != "tests" || levels[1][0] != "check" || levels[2][0] != "notify" {
		t.Fatalf("unexpected level order: %v", levels)
	}
}

func TestParseRejectsBadDefinitions(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no triggers",
			yaml: "name: x\njobs:\n  a:\n    steps:\n      - run: true\n",
			want: "no triggers",
		},
		{
			name: "unknown need",
			yaml: "name: x\non:\n  workflow_dispatch:\njobs:\n  a:\n    needs: ghost\n    steps:\n      - run: true\n",
			want: "unknown job",
		},
		{
			name: "dependency cycle",
			yaml: "name: x\non:\n  workflow_dispatch:\njobs:\n  a:\n    needs: b\n    steps:\n      - run: true\n  b:\n    needs: a\n    steps:\n      - run: true\n",
			want: "cycle",
		},
		{
			name: "bad cron",
			yaml: "name: x\non:\n  schedule:\n    - cron: \"not a cron\"\njobs:\n  a:\n    steps:\n      - run: true\n",
			want: "invalid cron",
		},
		{
			name: "empty run",
			yaml: "name: x\non:\n  workflow_dispatch:\njobs:\n  a:\n    steps:\n      - name: noop\n",
			want: "no run command",
		},
		{
			name: "step timeout exceeds job timeout",
			yaml: "name: x\non:\n  workflow_dispatch:\njobs:\n  a:\n    timeout_minutes: 5\n    steps:\n      - run: true\n        timeout_minutes: 10\n",
			want: "exceeds job timeout",
		},
		{
			name: "exclude names unknown axis",
			yaml: "name: x\non:\n  workflow_dispatch:\njobs:\n  a:\n    strategy:\n      matrix:\n        os: [linux]\n      exclude:\n        - arch: arm64\n    steps:\n      - run: true\n",
			want: "unknown axis",
		},
		{
			name: "unsupported trigger",
			yaml: "name: x\non:\n  release:\njobs:\n  a:\n    steps:\n      - run: true\n",
			want: "unsupported trigger",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := workflowdef.Parse([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected parse error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadDirRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	body := "name: same\non:\n  workflow_dispatch:\njobs:\n  a:\n    steps:\n      - run: true\n"
	for _, file := range []string{"one.yml", "two.yaml"} {
		if err := os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644); err != nil {
			t.Fatalf("write workflow: %v", err)
		}
	}
	if _, err := workflowdef.LoadDir(dir); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestLoadDefaultsNameFromFile(t *testing.T) {
	dir := t.TempDir()
	body := "on:\n  workflow_dispatch:\njobs:\n  a:\n    steps:\n      - run: true\n"
	path := filepath.Join(dir, "nightly.yml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write workflow: %v", err)
	}
	def, err := workflowdef.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if def.Name != "nightly" {
		t.Fatalf("expected name from file base, got %q", def.Name)
	}
}

func TestBranchFilterMatching(t *testing.T) {
	filter := &workflowdef.BranchFilter{Branches: []string{"main", "2.x"}}
	if !filter.Matches("main") || !filter.Matches("2.x") {
		t.Fatal("expected listed branches to match")
	}
	if filter.Matches("feature/x") {
		t.Fatal("expected unlisted branch to be rejected")
	}
	open := &workflowdef.BranchFilter{}
	if !open.Matches("anything") {
		t.Fatal("expected empty filter to match all branches")
	}
	var nilFilter *workflowdef.BranchFilter
	if nilFilter.Matches("main") {
		t.Fatal("expected nil filter to match nothing")
	}
}
