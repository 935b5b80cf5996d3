// Package trigger defines the events that start workflow runs and decides
// which workflows react to them. The daemon feeds it webhook events, manual
// dispatches, and cron firings from the embedded scheduler.
package trigger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"flywheel/internal/workflowdef"
)

// Kind identifies the source of an event.
type Kind string

const (
	KindPush        Kind = "push"
	KindPullRequest Kind = "pull_request"
	KindSchedule    Kind = "schedule"
	KindDispatch    Kind = "workflow_dispatch"
)

// Event is a single occurrence that may start workflow runs.
type Event struct {
	Kind   Kind
	Branch string
	Commit string
	Actor  string
	// Workflow restricts the event to one workflow by name. Dispatch events
	// always set it; webhook events leave it empty to fan out.
	Workflow   string
	ReceivedAt time.Time
}

// ParseKind validates an event kind received over the wire.
func ParseKind(value string) (Kind, error) {
	switch Kind(strings.TrimSpace(value)) {
	case KindPush:
		return KindPush, nil
	case KindPullRequest:
		return KindPullRequest, nil
	case KindSchedule:
		return KindSchedule, nil
	case KindDispatch:
		return KindDispatch, nil
	default:
		return "", fmt.Errorf("unknown event kind %q", value)
	}
}

// Matches reports whether a workflow's triggers admit the event.
func Matches(def *workflowdef.Definition, event Event) bool {
	if def == nil {
		return false
	}
	if event.Workflow != "" && event.Workflow != def.Name {
		return false
	}
	switch event.Kind {
	case KindPush:
		return def.On.Push.Matches(event.Branch)
	case KindPullRequest:
		return def.On.PullRequest.Matches(event.Branch)
	case KindSchedule:
		return len(def.On.Schedule) > 0
	case KindDispatch:
		return def.On.WorkflowDispatch
	default:
		return false
	}
}

// Select returns the names of workflows the event should start, sorted.
func Select(defs map[string]*workflowdef.Definition, event Event) []string {
	var names []string
	for name, def := range defs {
		if Matches(def, event) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
