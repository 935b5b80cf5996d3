package workflowdef

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Definition is a parsed workflow file.
type Definition struct {
	Name        string            `yaml:"name"`
	On          Triggers          `yaml:"on"`
	Concurrency *Concurrency      `yaml:"concurrency"`
	Env         map[string]string `yaml:"env"`
	Jobs        map[string]*Job   `yaml:"jobs"`

	// Path records the source file the definition was loaded from.
	Path string `yaml:"-"`
}

// Triggers declares which events start a workflow.
type Triggers struct {
	Push             *BranchFilter
	PullRequest      *BranchFilter
	Schedule         []Schedule
	WorkflowDispatch bool
}

// BranchFilter limits push and pull_request triggers to matching branches.
// An empty Branches list matches every branch.
type BranchFilter struct {
	Branches []string `yaml:"branches"`
}

// Schedule is a cron trigger entry.
type Schedule struct {
	Cron string `yaml:"cron"`
}

// Concurrency serializes runs sharing a group; when CancelInProgress is set a
// newer run requests cancellation of in-flight runs in the same group and ref.
type Concurrency struct {
	Group            string `yaml:"group"`
	CancelInProgress bool   `yaml:"cancel_in_progress"`
}

// Job is one node of the workflow graph, optionally expanded by a matrix.
type Job struct {
	Name           string            `yaml:"name"`
	RunsOn         string            `yaml:"runs_on"`
	Needs          StringList        `yaml:"needs"`
	If             string            `yaml:"if"`
	TimeoutMinutes int               `yaml:"timeout_minutes"`
	Env            map[string]string `yaml:"env"`
	Strategy       *Strategy         `yaml:"strategy"`
	Steps          []Step            `yaml:"steps"`
}

// Strategy declares matrix expansion behavior for a job.
type Strategy struct {
	Matrix      map[string]Axis     `yaml:"matrix"`
	Exclude     []map[string]string `yaml:"exclude"`
	FailFast    *bool               `yaml:"fail_fast"`
	MaxParallel int                 `yaml:"max_parallel"`
}

// FailFastEnabled reports whether a failing cell should cancel its siblings.
// Matrix jobs default to fail-fast like the hosted runners they imitate.
func (s *Strategy) FailFastEnabled() bool {
	if s == nil || s.FailFast == nil {
		return true
	}
	return *s.FailFast
}

// Step is a single shell command inside a job.
type Step struct {
	Name            string            `yaml:"name"`
	Run             string            `yaml:"run"`
	If              string            `yaml:"if"`
	Env             map[string]string `yaml:"env"`
	TimeoutMinutes  int               `yaml:"timeout_minutes"`
	ContinueOnError bool              `yaml:"continue_on_error"`
	Artifacts       []string          `yaml:"artifacts"`
}

// Axis is a list of matrix values. Scalars keep their literal YAML spelling
// so version numbers like 3.10 survive as "3.10" rather than 3.1.
type Axis []string

// UnmarshalYAML decodes a sequence of scalars into their raw string forms.
func (a *Axis) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("matrix axis must be a list, got %s", nodeKind(node))
	}
	values := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind != yaml.ScalarNode {
			return fmt.Errorf("matrix axis values must be scalars, got %s", nodeKind(item))
		}
		values = append(values, item.Value)
	}
	*a = values
	return nil
}

// StringList accepts either a single string or a list of strings.
type StringList []string

// UnmarshalYAML allows `needs: build` and `needs: [build, lint]` alike.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = []string{node.Value}
		return nil
	case yaml.SequenceNode:
		values := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("list entries must be strings, got %s", nodeKind(item))
			}
			values = append(values, item.Value)
		}
		*l = values
		return nil
	default:
		return fmt.Errorf("expected string or list, got %s", nodeKind(node))
	}
}

// UnmarshalYAML decodes the `on:` block, treating a bare key (null value) as
// an enabled trigger so `workflow_dispatch:` works without a body.
func (t *Triggers) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("on: must be a mapping, got %s", nodeKind(node))
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		value := node.Content[i+1]
		switch key {
		case "push":
			filter := &BranchFilter{}
			if !isNull(value) {
				if err := value.Decode(filter); err != nil {
					return fmt.Errorf("on.push: %w", err)
				}
			}
			t.Push = filter
		case "pull_request":
			filter := &BranchFilter{}
			if !isNull(value) {
				if err := value.Decode(filter); err != nil {
					return fmt.Errorf("on.pull_request: %w", err)
				}
			}
			t.PullRequest = filter
		case "schedule":
			if err := value.Decode(&t.Schedule); err != nil {
				return fmt.Errorf("on.schedule: %w", err)
			}
		case "workflow_dispatch":
			t.WorkflowDispatch = true
		default:
			return fmt.Errorf("on.%s: unsupported trigger", key)
		}
	}
	return nil
}

// JobIDs returns job identifiers in deterministic order.
func (d *Definition) JobIDs() []string {
	ids := make([]string, 0, len(d.Jobs))
	for id := range d.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Levels orders jobs into dependency levels: every job in level N depends
// only on jobs in earlier levels. Validate guarantees the graph is acyclic.
func (d *Definition) Levels() [][]string {
	remaining := make(map[string][]string, len(d.Jobs))
	for id, job := range d.Jobs {
		remaining[id] = append([]string{}, job.Needs...)
	}

	done := make(map[string]bool, len(d.Jobs))
	var levels [][]string
	for len(done) < len(d.Jobs) {
		var level []string
		for _, id := range d.JobIDs() {
			if done[id] {
				continue
			}
			ready := true
			for _, dep := range remaining[id] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			// Unreachable after Validate; avoid spinning on a bad graph.
			break
		}
		for _, id := range level {
			done[id] = true
		}
		levels = append(levels, level)
	}
	return levels
}

func isNull(node *yaml.Node) bool {
	return node.Kind == 0 || node.Tag == "!!null"
}

func nodeKind(node *yaml.Node) string {
	switch node.Kind {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	default:
		return "unknown"
	}
}
