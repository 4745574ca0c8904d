// Package scheduler owns one timer goroutine per pending booking and fires
// the submission pipeline at each booking's target instant. For a single
// booking, cancel-before-fire and fire-to-completion are mutually exclusive:
// once the fire path has claimed a timer, Cancel reports AlreadyFired and the
// in-flight submission runs to completion.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/example/courtsched/internal/clock"
	"github.com/example/courtsched/internal/pipeline"
)

var ErrAlreadyScheduled = errors.New("timer already scheduled for booking")

type CancelOutcome int

const (
	CancelOK CancelOutcome = iota
	CancelNotFound
	CancelAlreadyFired
)

// Submitter runs the submission pipeline for a booking id. Implemented by the
// booking service, which loads the record and maps it onto the pipeline.
type Submitter interface {
	Submit(ctx context.Context, bookingID string) pipeline.Result
}

// Reporter receives the terminal outcome of a fired timer.
type Reporter interface {
	Completed(ctx context.Context, bookingID string, submitted bool, detail string)
}

type Config struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

type Scheduler struct {
	sleeper   clock.Sleeper
	submitter Submitter
	reporter  Reporter
	cfg       Config

	mu     sync.Mutex
	timers map[string]*timer
	wg     sync.WaitGroup

	ctx  context.Context
	stop context.CancelFunc
}

type timer struct {
	id       string
	fireAt   time.Time
	cancel   context.CancelFunc
	fired    bool
	attempts int
}

func New(sleeper clock.Sleeper, submitter Submitter, reporter Reporter, cfg Config) *Scheduler {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		sleeper:   sleeper,
		submitter: submitter,
		reporter:  reporter,
		cfg:       cfg,
		timers:    make(map[string]*timer),
		ctx:       ctx,
		stop:      stop,
	}
}

// Schedule registers a timer for the booking with the configured attempt
// budget.
func (s *Scheduler) Schedule(bookingID string, fireAt time.Time) error {
	return s.schedule(bookingID, fireAt, s.cfg.MaxAttempts)
}

// ScheduleImmediate fires the booking right away with a single attempt. Used
// for bookings whose window was missed while the process was down.
func (s *Scheduler) ScheduleImmediate(bookingID string) error {
	return s.schedule(bookingID, time.Now(), 1)
}

func (s *Scheduler) schedule(bookingID string, fireAt time.Time, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[bookingID]; ok {
		return ErrAlreadyScheduled
	}

	waitCtx, cancel := context.WithCancel(s.ctx)
	t := &timer{id: bookingID, fireAt: fireAt, cancel: cancel, attempts: attempts}
	s.timers[bookingID] = t

	s.wg.Add(1)
	go s.run(t, waitCtx)
	return nil
}

// Cancel signals the booking's timer if it has not fired yet.
func (s *Scheduler) Cancel(bookingID string) CancelOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[bookingID]
	if !ok {
		return CancelNotFound
	}
	if t.fired {
		return CancelAlreadyFired
	}
	delete(s.timers, bookingID)
	t.cancel()
	return CancelOK
}

// Pending reports the number of live timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every not-yet-fired timer and waits for in-flight fires.
func (s *Scheduler) Stop() {
	s.stop()
	s.wg.Wait()
}

func (s *Scheduler) run(t *timer, waitCtx context.Context) {
	defer s.wg.Done()

	if s.sleeper.WaitUntil(waitCtx, t.fireAt) == clock.Cancelled {
		// per-id Cancel already dropped the entry; a Stop-cancelled wait has
		// to drop it here
		s.remove(t)
		return
	}

	// claim the timer; from here on cancellation reports AlreadyFired
	s.mu.Lock()
	if cur, ok := s.timers[t.id]; !ok || cur != t {
		s.mu.Unlock()
		return
	}
	t.fired = true
	s.mu.Unlock()

	submitted, detail := s.attempt(t)

	if !submitted && s.ctx.Err() != nil {
		// shutting down mid-fire; leave the booking pending so the next start
		// restores it instead of recording a spurious failure
		s.remove(t)
		log.Printf("scheduler: booking %s interrupted by shutdown, left pending", t.id)
		return
	}

	// the entry stays until the outcome is recorded so Cancel keeps reporting
	// AlreadyFired through the whole completion; afterwards the persisted
	// terminal state rejects cancellation on its own
	s.reporter.Completed(context.Background(), t.id, submitted, detail)
	s.remove(t)
}

func (s *Scheduler) remove(t *timer) {
	s.mu.Lock()
	if cur, ok := s.timers[t.id]; ok && cur == t {
		delete(s.timers, t.id)
	}
	s.mu.Unlock()
}

func (s *Scheduler) attempt(t *timer) (bool, string) {
	var last pipeline.Result
	for i := 1; i <= t.attempts; i++ {
		res := s.submitter.Submit(s.ctx, t.id)
		if res.OK {
			log.Printf("scheduler: booking %s submitted on attempt %d/%d", t.id, i, t.attempts)
			return true, res.Detail
		}
		last = res
		log.Printf("scheduler: booking %s attempt %d/%d failed at step %d: %s", t.id, i, t.attempts, res.StepIndex, res.Reason)

		if res.Kind == pipeline.KindProtocol {
			// a malformed sequence will not heal on retry
			break
		}
		if i < t.attempts && !s.pause() {
			break
		}
	}
	return false, fmt.Sprintf("step %d: %s", last.StepIndex, last.Reason)
}

func (s *Scheduler) pause() bool {
	d := time.NewTimer(s.cfg.RetryDelay)
	defer d.Stop()
	select {
	case <-d.C:
		return true
	case <-s.ctx.Done():
		return false
	}
}
