// Package scheduler runs reminders: one-shot at a point in time, or
// recurring on a cron expression. Fired reminders are delivered
// through an announce callback supplied by the driver.
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field expressions plus descriptors
// like "@hourly".
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Announce delivers a fired reminder to the user.
type Announce func(message string)

// Reminder is one scheduled announcement.
type Reminder struct {
	ID       string
	Message  string
	Schedule string    // cron expression, empty for one-shot
	At       time.Time // fire time for one-shot, next run for recurring
}

// Scheduler owns the reminder timers. Start must be called before
// scheduling; Stop cancels everything outstanding.
type Scheduler struct {
	announce Announce
	logger   *slog.Logger
	cron     *cron.Cron

	mu        sync.Mutex
	reminders map[string]*entry
}

type entry struct {
	reminder Reminder
	timer    *time.Timer  // one-shot
	cronID   cron.EntryID // recurring
}

// New creates a scheduler delivering fired reminders via announce.
func New(announce Announce, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		announce:  announce,
		logger:    logger,
		cron:      cron.New(cron.WithParser(cronParser)),
		reminders: make(map[string]*entry),
	}
}

// Start begins dispatching recurring reminders.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels all outstanding reminders and halts the cron loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, e := range s.reminders {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(s.reminders, id)
	}
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
}

// At schedules a one-shot reminder. The fire time must be in the
// future.
func (s *Scheduler) At(at time.Time, message string) (Reminder, error) {
	delay := time.Until(at)
	if delay <= 0 {
		return Reminder{}, fmt.Errorf("reminder time %s is in the past", at.Format(time.RFC3339))
	}

	r := Reminder{
		ID:      uuid.NewString(),
		Message: message,
		At:      at,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := &entry{reminder: r}
	e.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.reminders, r.ID)
		s.mu.Unlock()
		s.fire(r)
	})
	s.reminders[r.ID] = e

	s.logger.Info("reminder scheduled", "id", r.ID, "at", at)
	return r, nil
}

// Every schedules a recurring reminder on a cron expression.
func (s *Scheduler) Every(schedule, message string) (Reminder, error) {
	sched, err := cronParser.Parse(schedule)
	if err != nil {
		return Reminder{}, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	r := Reminder{
		ID:       uuid.NewString(),
		Message:  message,
		Schedule: schedule,
		At:       sched.Next(time.Now()),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cronID := s.cron.Schedule(sched, cron.FuncJob(func() {
		s.fire(r)
	}))
	s.reminders[r.ID] = &entry{reminder: r, cronID: cronID}

	s.logger.Info("recurring reminder scheduled", "id", r.ID, "schedule", schedule)
	return r, nil
}

// List returns the outstanding reminders ordered by next fire time.
func (s *Scheduler) List() []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Reminder, 0, len(s.reminders))
	for _, e := range s.reminders {
		r := e.reminder
		if r.Schedule != "" {
			r.At = s.cron.Entry(e.cronID).Next
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Cancel removes a reminder by ID.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.reminders[id]
	if !ok {
		return fmt.Errorf("no reminder with id %q", id)
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.reminder.Schedule != "" {
		s.cron.Remove(e.cronID)
	}
	delete(s.reminders, id)

	s.logger.Info("reminder cancelled", "id", id)
	return nil
}

func (s *Scheduler) fire(r Reminder) {
	s.logger.Info("reminder fired", "id", r.ID)
	if s.announce != nil {
		s.announce(r.Message)
	}
}
