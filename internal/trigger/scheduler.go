package trigger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"flywheel/internal/logging"
	"flywheel/internal/workflowdef"
)

// FireFunc receives schedule events as their cron expressions come due.
type FireFunc func(workflow string, event Event)

// Scheduler turns workflow cron declarations into schedule events.
type Scheduler struct {
	logger *slog.Logger
	fire   FireFunc
	branch string

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler builds a scheduler that fires schedule events on the given
// branch (the repository default branch, typically "main").
func NewScheduler(logger *slog.Logger, branch string, fire FireFunc) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	if branch == "" {
		branch = "main"
	}
	return &Scheduler{logger: logger, fire: fire, branch: branch}
}

// Update replaces all registered schedules with those of the given
// definitions. Safe to call while running; the previous cron table stops
// before the new one starts.
func (s *Scheduler) Update(defs map[string]*workflowdef.Definition) error {
	table := cron.New()
	count := 0
	for name, def := range defs {
		for _, schedule := range def.On.Schedule {
			workflow := name
			spec := schedule.Cron
			_, err := table.AddFunc(spec, func() {
				s.logger.Info("schedule fired",
					logging.String(logging.FieldComponent, "scheduler"),
					logging.String(logging.FieldWorkflow, workflow),
					logging.String("cron", spec),
				)
				s.fire(workflow, Event{
					Kind:       KindSchedule,
					Branch:     s.branch,
					Actor:      "scheduler",
					Workflow:   workflow,
					ReceivedAt: time.Now().UTC(),
				})
			})
			if err != nil {
				return err
			}
			count++
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	s.cron = table
	if s.running {
		s.cron.Start()
	}
	s.logger.Info("schedules registered",
		logging.String(logging.FieldComponent, "scheduler"),
		logging.Int("entries", count),
	)
	return nil
}

// Start begins firing schedule events.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	if s.cron != nil {
		s.cron.Start()
	}
}

// Stop halts the cron table and waits for in-flight firings to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
}
