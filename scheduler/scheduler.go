package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var timeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])$`)

// Scheduler manages the cron-based job set with timezone support. Jobs are
// registered by name so their next run times can be reported.
type Scheduler struct {
	cron     *cron.Cron
	location *time.Location
	mu       sync.Mutex
	entries  map[string]cron.EntryID
	started  bool
}

// NewScheduler creates a scheduler for the given timezone.
func NewScheduler(timezone string) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		location: loc,
		entries:  make(map[string]cron.EntryID),
	}, nil
}

// Location returns the scheduler's timezone.
func (s *Scheduler) Location() *time.Location {
	return s.location
}

// Daily registers a job that runs once a day at the given local time (HH:MM).
// Registering an existing name replaces the previous job.
func (s *Scheduler) Daily(name, timeStr string, fn func()) error {
	hour, minute, err := parseTime(timeStr)
	if err != nil {
		return err
	}
	return s.add(name, buildCronSpec(hour, minute), fn)
}

// Every registers a job that runs at a fixed interval.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval for %q: %s", name, interval)
	}
	return s.add(name, fmt.Sprintf("@every %s", interval), fn)
}

// EveryOffset registers an interval job whose first run is delayed, so jobs
// sharing an interval do not all fire at once.
func (s *Scheduler) EveryOffset(name string, interval, offset time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval for %q: %s", name, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
	}

	sched := offsetSchedule{
		interval: interval,
		first:    time.Now().In(s.location).Add(offset),
	}
	s.entries[name] = s.cron.Schedule(sched, cron.FuncJob(fn))
	return nil
}

func (s *Scheduler) add(name, spec string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
	}

	id, err := s.cron.AddFunc(spec, fn)
	if err != nil {
		return fmt.Errorf("add job %q: %w", name, err)
	}
	s.entries[name] = id
	return nil
}

// NextRuns reports the next scheduled run time per job name. Times are zero
// until the scheduler has started.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		next[name] = s.cron.Entry(id).Next
	}
	return next
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.cron.Start()
		s.started = true
	}
}

// Stop halts the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.cron.Stop()
		s.started = false
	}
}

// offsetSchedule fires first at a fixed point, then at the interval.
type offsetSchedule struct {
	interval time.Duration
	first    time.Time
}

func (o offsetSchedule) Next(t time.Time) time.Time {
	if t.Before(o.first) {
		return o.first
	}
	return t.Add(o.interval)
}

func parseTime(timeStr string) (int, int, error) {
	matches := timeRegex.FindStringSubmatch(timeStr)
	if len(matches) != 3 {
		return 0, 0, fmt.Errorf("invalid time format: %q (expected HH:MM)", timeStr)
	}

	hour, _ := strconv.Atoi(matches[1])
	minute, _ := strconv.Atoi(matches[2])

	return hour, minute, nil
}

func buildCronSpec(hour, minute int) string {
	// Cron format: minute hour day month weekday
	return fmt.Sprintf("%d %d * * *", minute, hour)
}
