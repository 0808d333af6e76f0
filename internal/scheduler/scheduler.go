// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is the callback invoked when a scheduled job fires. ctx is cancelled
// when the scheduler stops.
type Job func(ctx context.Context) error

// Entry describes a registered job.
type Entry struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Next     time.Time `json:"next"`
	Prev     time.Time `json:"prev,omitempty"`
}

// Scheduler runs named maintenance jobs on cron schedules.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]entry
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
}

type entry struct {
	id       cron.EntryID
	schedule string
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports whether schedule is a valid cron expression.
func Validate(schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// New creates a stopped Scheduler.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithParser(cronParser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		entries: make(map[string]entry),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Add registers job under name. Adding a name twice replaces the earlier
// job.
func (s *Scheduler) Add(name, schedule string, job Job) error {
	if err := Validate(schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[name]; ok {
		s.cron.Remove(old.id)
	}
	id, err := s.cron.AddFunc(schedule, func() {
		start := time.Now()
		s.logger.Debug("cron firing job", "name", name)
		if err := job(s.ctx); err != nil {
			s.logger.Error("scheduled job failed", "name", name, "error", err)
			return
		}
		s.logger.Debug("scheduled job done", "name", name, "duration", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("add job %s: %w", name, err)
	}
	s.entries[name] = entry{id: id, schedule: schedule}
	s.logger.Info("scheduled job", "name", name, "schedule", schedule)
	return nil
}

// Entries lists the registered jobs by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for name, e := range s.entries {
		ce := s.cron.Entry(e.id)
		out = append(out, Entry{Name: name, Schedule: e.schedule, Next: ce.Next, Prev: ce.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start starts the cron ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the cron ticker, cancels running jobs and waits for them to
// return.
func (s *Scheduler) Stop() {
	done := s.cron.Stop()
	s.cancel()
	<-done.Done()
}
