package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/courtsched/internal/clock"
	"github.com/example/courtsched/internal/pipeline"
)

// immediate fires every wait without sleeping.
type immediate struct{}

func (immediate) WaitUntil(context.Context, time.Time) clock.WaitResult { return clock.Fired }

// held blocks every wait until the context is cancelled.
type held struct{}

func (held) WaitUntil(ctx context.Context, _ time.Time) clock.WaitResult {
	<-ctx.Done()
	return clock.Cancelled
}

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   int
	results []pipeline.Result
	started chan struct{}
	release chan struct{}
}

func (f *fakeSubmitter) Submit(ctx context.Context, id string) pipeline.Result {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if n <= len(f.results) {
		return f.results[n-1]
	}
	return f.results[len(f.results)-1]
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type report struct {
	id        string
	submitted bool
	detail    string
}

type fakeReporter struct{ ch chan report }

func newFakeReporter() *fakeReporter { return &fakeReporter{ch: make(chan report, 4)} }

func (f *fakeReporter) Completed(_ context.Context, id string, submitted bool, detail string) {
	f.ch <- report{id, submitted, detail}
}

func (f *fakeReporter) wait(t *testing.T) report {
	t.Helper()
	select {
	case r := <-f.ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no completion report")
		return report{}
	}
}

func ok() pipeline.Result { return pipeline.Result{OK: true, Detail: "done"} }

func transportFail() pipeline.Result {
	return pipeline.Result{StepIndex: 1, Kind: pipeline.KindTransport, Reason: "timeout"}
}

func protocolFail() pipeline.Result {
	return pipeline.Result{StepIndex: 0, Kind: pipeline.KindProtocol, Reason: "token missing"}
}

func TestFireSubmitsOnce(t *testing.T) {
	sub := &fakeSubmitter{results: []pipeline.Result{ok()}}
	rep := newFakeReporter()
	s := New(immediate{}, sub, rep, Config{MaxAttempts: 3, RetryDelay: time.Millisecond})
	defer s.Stop()

	require.NoError(t, s.Schedule("b1", time.Now()))

	r := rep.wait(t)
	assert.Equal(t, "b1", r.id)
	assert.True(t, r.submitted)
	assert.Equal(t, "done", r.detail)
	assert.Equal(t, 1, sub.count(), "success on the first attempt must not retry")
	assert.Equal(t, 0, s.Pending())
}

func TestTransportFailureRetriesUpToBudget(t *testing.T) {
	sub := &fakeSubmitter{results: []pipeline.Result{transportFail()}}
	rep := newFakeReporter()
	s := New(immediate{}, sub, rep, Config{MaxAttempts: 3, RetryDelay: time.Millisecond})
	defer s.Stop()

	require.NoError(t, s.Schedule("b1", time.Now()))

	r := rep.wait(t)
	assert.False(t, r.submitted)
	assert.Contains(t, r.detail, "timeout")
	assert.Equal(t, 3, sub.count())
}

func TestRetrySucceedsMidBudget(t *testing.T) {
	sub := &fakeSubmitter{results: []pipeline.Result{transportFail(), ok()}}
	rep := newFakeReporter()
	s := New(immediate{}, sub, rep, Config{MaxAttempts: 3, RetryDelay: time.Millisecond})
	defer s.Stop()

	require.NoError(t, s.Schedule("b1", time.Now()))

	r := rep.wait(t)
	assert.True(t, r.submitted)
	assert.Equal(t, 2, sub.count())
}

func TestProtocolFailureIsTerminal(t *testing.T) {
	sub := &fakeSubmitter{results: []pipeline.Result{protocolFail()}}
	rep := newFakeReporter()
	s := New(immediate{}, sub, rep, Config{MaxAttempts: 3, RetryDelay: time.Millisecond})
	defer s.Stop()

	require.NoError(t, s.Schedule("b1", time.Now()))

	r := rep.wait(t)
	assert.False(t, r.submitted)
	assert.Contains(t, r.detail, "token missing")
	assert.Equal(t, 1, sub.count(), "protocol failures must not be retried")
}

func TestCancelBeforeFire(t *testing.T) {
	sub := &fakeSubmitter{results: []pipeline.Result{ok()}}
	rep := newFakeReporter()
	s := New(held{}, sub, rep, Config{MaxAttempts: 1})
	defer s.Stop()

	require.NoError(t, s.Schedule("b1", time.Now().Add(time.Hour)))
	assert.Equal(t, 1, s.Pending())

	assert.Equal(t, CancelOK, s.Cancel("b1"))
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, CancelNotFound, s.Cancel("b1"))

	s.Stop()
	assert.Equal(t, 0, sub.count(), "cancelled timer must never submit")
	select {
	case r := <-rep.ch:
		t.Fatalf("unexpected completion report %+v", r)
	default:
	}
}

func TestCancelDuringFireReportsAlreadyFired(t *testing.T) {
	sub := &fakeSubmitter{
		results: []pipeline.Result{ok()},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	rep := newFakeReporter()
	s := New(immediate{}, sub, rep, Config{MaxAttempts: 1})
	defer s.Stop()

	require.NoError(t, s.Schedule("b1", time.Now()))
	<-sub.started // pipeline is in flight

	assert.Equal(t, CancelAlreadyFired, s.Cancel("b1"))

	close(sub.release)
	r := rep.wait(t)
	assert.True(t, r.submitted, "in-flight submission runs to completion")
}

// gatedReporter holds the completion open so the window between pipeline
// success and outcome recording can be observed.
type gatedReporter struct {
	inner   *fakeReporter
	entered chan struct{}
	release chan struct{}
}

func (g *gatedReporter) Completed(ctx context.Context, id string, submitted bool, detail string) {
	g.entered <- struct{}{}
	<-g.release
	g.inner.Completed(ctx, id, submitted, detail)
}

func TestCancelDuringCompletionReportsAlreadyFired(t *testing.T) {
	sub := &fakeSubmitter{results: []pipeline.Result{ok()}}
	rep := newFakeReporter()
	gated := &gatedReporter{inner: rep, entered: make(chan struct{}, 1), release: make(chan struct{})}
	s := New(immediate{}, sub, gated, Config{MaxAttempts: 1})
	defer s.Stop()

	require.NoError(t, s.Schedule("b1", time.Now()))
	<-gated.entered // submission went out, outcome not yet recorded

	assert.Equal(t, CancelAlreadyFired, s.Cancel("b1"),
		"cancel between fire and outcome recording must not look like a missing timer")
	assert.Equal(t, 1, s.Pending())

	close(gated.release)
	r := rep.wait(t)
	assert.True(t, r.submitted)
	assert.Eventually(t, func() bool { return s.Pending() == 0 },
		2*time.Second, 10*time.Millisecond, "timer entry drops once the outcome is recorded")
}

func TestStopClearsPendingTimers(t *testing.T) {
	sub := &fakeSubmitter{results: []pipeline.Result{ok()}}
	rep := newFakeReporter()
	s := New(held{}, sub, rep, Config{MaxAttempts: 1})

	require.NoError(t, s.Schedule("b1", time.Now().Add(time.Hour)))
	require.NoError(t, s.Schedule("b2", time.Now().Add(time.Hour)))
	require.Equal(t, 2, s.Pending())

	s.Stop()
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, 0, sub.count())
}

func TestScheduleDuplicate(t *testing.T) {
	sub := &fakeSubmitter{results: []pipeline.Result{ok()}}
	rep := newFakeReporter()
	s := New(held{}, sub, rep, Config{MaxAttempts: 1})
	defer s.Stop()

	require.NoError(t, s.Schedule("b1", time.Now().Add(time.Hour)))
	assert.ErrorIs(t, s.Schedule("b1", time.Now().Add(time.Hour)), ErrAlreadyScheduled)
}

func TestStopLeavesInterruptedBookingUnreported(t *testing.T) {
	sub := &fakeSubmitter{
		results: []pipeline.Result{transportFail()},
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	rep := newFakeReporter()
	s := New(immediate{}, sub, rep, Config{MaxAttempts: 5, RetryDelay: time.Minute})

	require.NoError(t, s.Schedule("b1", time.Now()))
	<-sub.started

	close(sub.release)
	s.Stop()

	select {
	case r := <-rep.ch:
		t.Fatalf("shutdown must not record an outcome, got %+v", r)
	default:
	}
}
