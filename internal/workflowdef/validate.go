package workflowdef

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validate checks a definition for structural problems: missing jobs or
// steps, unknown or cyclic needs, malformed cron expressions, and matrix
// excludes naming unknown axes.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("workflow name must be set")
	}
	if !d.On.Push.active() && !d.On.PullRequest.active() && len(d.On.Schedule) == 0 && !d.On.WorkflowDispatch {
		return fmt.Errorf("workflow %q declares no triggers", d.Name)
	}
	for _, schedule := range d.On.Schedule {
		if _, err := cron.ParseStandard(schedule.Cron); err != nil {
			return fmt.Errorf("workflow %q: invalid cron %q: %w", d.Name, schedule.Cron, err)
		}
	}
	if d.Concurrency != nil && strings.TrimSpace(d.Concurrency.Group) == "" {
		return fmt.Errorf("workflow %q: concurrency.group must be set", d.Name)
	}
	if len(d.Jobs) == 0 {
		return fmt.Errorf("workflow %q has no jobs", d.Name)
	}

	for _, id := range d.JobIDs() {
		if err := d.validateJob(id, d.Jobs[id]); err != nil {
			return err
		}
	}
	return d.validateGraph()
}

func (f *BranchFilter) active() bool {
	return f != nil
}

// Matches reports whether the filter admits the given branch.
func (f *BranchFilter) Matches(branch string) bool {
	if f == nil {
		return false
	}
	if len(f.Branches) == 0 {
		return true
	}
	for _, candidate := range f.Branches {
		if candidate == branch {
			return true
		}
	}
	return false
}

func (d *Definition) validateJob(id string, job *Job) error {
	if job == nil {
		return fmt.Errorf("job %q is empty", id)
	}
	if len(job.Steps) == 0 {
		return fmt.Errorf("job %q has no steps", id)
	}
	if job.TimeoutMinutes < 0 {
		return fmt.Errorf("job %q: timeout_minutes must not be negative", id)
	}
	for _, dep := range job.Needs {
		if _, ok := d.Jobs[dep]; !ok {
			return fmt.Errorf("job %q needs unknown job %q", id, dep)
		}
		if dep == id {
			return fmt.Errorf("job %q needs itself", id)
		}
	}
	for i, step := range job.Steps {
		if strings.TrimSpace(step.Run) == "" {
			return fmt.Errorf("job %q step %d has no run command", id, i+1)
		}
		if step.TimeoutMinutes < 0 {
			return fmt.Errorf("job %q step %d: timeout_minutes must not be negative", id, i+1)
		}
		if job.TimeoutMinutes > 0 && step.TimeoutMinutes > job.TimeoutMinutes {
			return fmt.Errorf("job %q step %d: step timeout %dm exceeds job timeout %dm",
				id, i+1, step.TimeoutMinutes, job.TimeoutMinutes)
		}
	}
	return d.validateStrategy(id, job.Strategy)
}

func (d *Definition) validateStrategy(id string, strategy *Strategy) error {
	if strategy == nil {
		return nil
	}
	if strategy.MaxParallel < 0 {
		return fmt.Errorf("job %q: strategy.max_parallel must not be negative", id)
	}
	for axis, values := range strategy.Matrix {
		if len(values) == 0 {
			return fmt.Errorf("job %q: matrix axis %q has no values", id, axis)
		}
	}
	for i, exclude := range strategy.Exclude {
		if len(exclude) == 0 {
			return fmt.Errorf("job %q: matrix exclude %d is empty", id, i+1)
		}
		for axis := range exclude {
			if _, ok := strategy.Matrix[axis]; !ok {
				return fmt.Errorf("job %q: matrix exclude %d names unknown axis %q", id, i+1, axis)
			}
		}
	}
	return nil
}

func (d *Definition) validateGraph() error {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(d.Jobs))

	var visit func(id string, trail []string) error
	visit = func(id string, trail []string) error {
		switch state[id] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("workflow %q: dependency cycle through %s", d.Name, strings.Join(append(trail, id), " -> "))
		}
		state[id] = visiting
		for _, dep := range d.Jobs[id].Needs {
			if err := visit(dep, append(trail, id)); err != nil {
				return err
			}
		}
		state[id] = visited
		return nil
	}

	for _, id := range d.JobIDs() {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}
