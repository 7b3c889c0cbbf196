// Package sched runs the nightly session-price jobs on a plain timer loop.
// Each job fires at a fixed wall-clock time in the configured timezone and
// receives the trading date it should process.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"investloader/internal/domain"
)

// JobFunc runs one scheduled sync for the given trading date.
type JobFunc func(ctx context.Context, date time.Time) (domain.SyncOutcome, error)

// Job is one recurring entry: a name, a local fire time, a day offset applied
// to the fire date to get the trading date, and the work itself.
type Job struct {
	Name      string
	At        ClockTime
	DayOffset int // 0 = the day the job fires, -1 = the previous day
	Run       JobFunc
}

// ClockTime is a wall-clock HH:MM time of day.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM" in 24-hour form.
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return ClockTime{}, fmt.Errorf("clock time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("clock time %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("clock time %q: bad minute", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Scheduler drives a set of jobs, one goroutine per job. The engine's own
// calendar gate decides whether a fired job does any work, so the scheduler
// fires on weekends too and lets the run report "non-trading day".
type Scheduler struct {
	loc  *time.Location
	log  *slog.Logger
	jobs []Job

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Scheduler firing in the given location.
func New(loc *time.Location, log *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{loc: loc, log: log.With("component", "scheduler")}
}

// Add registers a job. Must be called before Start.
func (s *Scheduler) Add(job Job) {
	s.jobs = append(s.jobs, job)
}

// Start launches the timer loops. Stop (or cancelling ctx) ends them.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		s.wg.Add(1)
		go func(job Job) {
			defer s.wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	s.log.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop cancels all job loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	for {
		fireAt := nextOccurrence(time.Now().In(s.loc), job.At)
		s.log.Info("job scheduled", "job", job.Name, "at", fireAt.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(fireAt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		target := fireAt.AddDate(0, 0, job.DayOffset)
		date := time.Date(target.Year(), target.Month(), target.Day(), 0, 0, 0, 0, time.UTC)

		outcome, err := job.Run(ctx, date)
		if err != nil {
			s.log.Error("scheduled job failed", "job", job.Name, "date", date.Format("2006-01-02"), "err", err)
			continue
		}
		s.log.Info("scheduled job finished",
			"job", job.Name,
			"date", date.Format("2006-01-02"),
			"taskId", outcome.TaskID,
			"saved", outcome.NewItemsSaved,
			"skipped", outcome.ExistingItemsSkipped,
			"missing", outcome.MissingFromAPI,
		)
	}
}

// nextOccurrence returns the next time at strictly after now that the clock
// reads at in now's location.
func nextOccurrence(now time.Time, at ClockTime) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), at.Hour, at.Minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
