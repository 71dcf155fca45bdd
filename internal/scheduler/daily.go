package scheduler

import (
	"log/slog"
	"sync"
	"time"
)

// Daily fires a callback once per day at a fixed local wall-clock hour and
// minute. After every fire it recomputes the next occurrence from the current
// clock and re-arms, so the schedule recurs for the whole process lifetime
// and stays aligned across DST transitions.
type Daily struct {
	hour   int
	minute int
	loc    *time.Location
	task   func()

	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
	now     func() time.Time
}

// NewDaily creates a daily scheduler firing task at hour:minute in loc.
// A nil loc defaults to the local time zone.
func NewDaily(hour, minute int, loc *time.Location, task func()) *Daily {
	if loc == nil {
		loc = time.Local
	}
	return &Daily{
		hour:   hour,
		minute: minute,
		loc:    loc,
		task:   task,
		stop:   make(chan struct{}),
		now:    time.Now,
	}
}

// NextFire returns the first scheduled occurrence strictly after the given
// instant: today at the configured time, or tomorrow if that has passed.
func (d *Daily) NextFire(after time.Time) time.Time {
	after = after.In(d.loc)
	next := time.Date(after.Year(), after.Month(), after.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start launches the scheduling loop. The task runs in its own goroutine on
// every fire, so a slow broadcast cannot delay re-arming the timer.
func (d *Daily) Start() {
	go d.run()
}

func (d *Daily) run() {
	next := d.NextFire(d.now())
	slog.Info("Daily scheduler armed", "next_fire", next, "hour", d.hour, "minute", d.minute)
	timer := time.NewTimer(next.Sub(d.now()))
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			slog.Info("Daily scheduler firing", "scheduled_for", next)
			go d.task()
			// Recompute from the clock rather than adding 24h so a fire
			// that ran late or crossed a DST boundary cannot skew the
			// next occurrence.
			next = d.NextFire(d.now())
			timer.Reset(next.Sub(d.now()))
			slog.Info("Daily scheduler re-armed", "next_fire", next)
		case <-d.stop:
			slog.Debug("Daily scheduler stopping")
			return
		}
	}
}

// Stop halts the scheduling loop. Safe to call multiple times. A task already
// started keeps running to completion.
func (d *Daily) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	close(d.stop)
}
