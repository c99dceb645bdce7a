// Package scheduling re-checks permissions on a timer. It catches changes
// no feed reports, such as a session cookie passing its expiry.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"permgate/internal/domain"
)

const taskTimeout = 5 * time.Minute

// ScheduledAction identifies a type of scheduled action.
type ScheduledAction string

const (
	ActionRecheck    ScheduledAction = "recheck"     // the task's permissions
	ActionRecheckAll ScheduledAction = "recheck_all" // every catalogue entry
)

// ScheduledTask defines a recurring task.
type ScheduledTask struct {
	Name        string
	Schedule    string // cron expression "*/5 * * * *" OR duration "30m"
	Action      ScheduledAction
	Permissions []domain.PermissionName // for recheck
	OneShot     bool
}

// ActionFunc runs one firing of a task.
type ActionFunc func(ctx context.Context, task ScheduledTask) error

// Scheduler runs tasks on a recurring schedule using cron expressions or durations.
type Scheduler struct {
	cron    *cron.Cron
	actions map[ScheduledAction]ActionFunc
	entries map[string]cron.EntryID
	logger  *slog.Logger
	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		actions: make(map[ScheduledAction]ActionFunc),
		entries: make(map[string]cron.EntryID),
		logger:  logger.With("component", "scheduling"),
	}
}

// RegisterAction registers a handler for a scheduled action type.
func (s *Scheduler) RegisterAction(action ScheduledAction, fn ActionFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action] = fn
}

// AddTask adds a scheduled task. Task names must be unique.
func (s *Scheduler) AddTask(task ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn, ok := s.actions[task.Action]
	if !ok {
		return fmt.Errorf("scheduler: %w: unknown action %q for task %q", domain.ErrInvalidInput, task.Action, task.Name)
	}
	if _, dup := s.entries[task.Name]; dup {
		return fmt.Errorf("scheduler: %w: task %q", domain.ErrDuplicate, task.Name)
	}
	schedule, err := parseSchedule(task.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for task %q: %w", task.Schedule, task.Name, err)
	}

	var entryID cron.EntryID
	entryID = s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			s.logger.Debug("scheduler stopped, skipping task", "task", task.Name)
			return
		}

		taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
		defer cancel()

		start := time.Now()
		if err := fn(taskCtx, task); err != nil {
			s.logger.Warn("scheduled task failed", "task", task.Name, "error", err, "duration", time.Since(start))
		} else {
			s.logger.Debug("scheduled task completed", "task", task.Name, "duration", time.Since(start))
		}

		if task.OneShot {
			s.cron.Remove(entryID)
			s.mu.Lock()
			delete(s.entries, task.Name)
			s.mu.Unlock()
		}
	}))
	s.entries[task.Name] = entryID

	s.logger.Info("task added to scheduler", "name", task.Name, "schedule", task.Schedule, "action", string(task.Action))
	return nil
}

// NextRun returns the next scheduled run of the named task.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if entry.ID == 0 {
		return time.Time{}, false
	}
	return entry.Next, true
}

// Start begins running the scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop cancels running tasks and waits for them to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	// Jobs take mu, so wait without holding it.
	<-s.cron.Stop().Done()
	return nil
}

// Rechecker re-runs one permission's provider.
type Rechecker interface {
	Recheck(ctx context.Context, name domain.PermissionName) (domain.Verdict, error)
}

// RegisterRecheckActions wires ActionRecheck and ActionRecheckAll to r.
// all is the permission list ActionRecheckAll walks.
func RegisterRecheckActions(s *Scheduler, r Rechecker, all []domain.PermissionName) {
	recheck := func(ctx context.Context, names []domain.PermissionName) error {
		var errs []error
		for _, name := range names {
			if ctx.Err() != nil {
				errs = append(errs, ctx.Err())
				break
			}
			if _, err := r.Recheck(ctx, name); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	s.RegisterAction(ActionRecheck, func(ctx context.Context, t ScheduledTask) error {
		return recheck(ctx, t.Permissions)
	})
	s.RegisterAction(ActionRecheckAll, func(ctx context.Context, _ ScheduledTask) error {
		return recheck(ctx, all)
	})
}

// parseSchedule tries to parse a schedule string as a cron expression first,
// then falls back to time.ParseDuration.
func parseSchedule(schedule string) (cron.Schedule, error) {
	if schedule == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(schedule); err == nil {
		return sched, nil
	}

	dur, err := time.ParseDuration(schedule)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", schedule)
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", schedule)
	}
	return &constantDelay{delay: dur}, nil
}

// ParseSchedule exposes schedule parsing for config validation.
func ParseSchedule(schedule string) error {
	_, err := parseSchedule(schedule)
	return err
}

// constantDelay fires at a fixed interval. Unlike cron.Every it supports
// sub-second durations.
type constantDelay struct {
	delay time.Duration
}

func (d *constantDelay) Next(t time.Time) time.Time {
	return t.Add(d.delay)
}
