package booking

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/courtsched/internal/apperr"
	"github.com/example/courtsched/internal/config"
	"github.com/example/courtsched/internal/notify"
	"github.com/example/courtsched/internal/otp"
	"github.com/example/courtsched/internal/pipeline"
	"github.com/example/courtsched/internal/scheduler"
)

var ErrNotFound = errors.New("booking not found")

// Store is the persistence contract the service consumes. Implementations
// live in internal/storage.
type Store interface {
	Put(ctx context.Context, b Booking) error
	Get(ctx context.Context, id string) (Booking, error)
	ListAll(ctx context.Context) ([]Booking, error)
	ListPending(ctx context.Context) ([]Booking, error)
}

// Timers is the scheduler surface the service drives.
type Timers interface {
	Schedule(bookingID string, fireAt time.Time) error
	ScheduleImmediate(bookingID string) error
	Cancel(bookingID string) scheduler.CancelOutcome
}

// FormSubmitter runs the submission pipeline for one booking's data.
type FormSubmitter interface {
	Submit(ctx context.Context, sub pipeline.Submission) pipeline.Result
}

type Params struct {
	Store      Store
	Pipeline   FormSubmitter
	Codes      *otp.Manager
	CodeSink   notify.Notifier // cancellation codes -> operator channels
	StatusSink notify.Notifier // outcome messages -> per-booking target

	Form              config.Form
	Participants      int
	Location          *time.Location
	DefaultSubmitTime string
	MissedPolicy      string
	CancelSecretHash  string
}

// Service is the booking lifecycle component. All state mutations for one
// booking are serialized under a per-id lock; creation additionally holds a
// single lock so the duplicate check cannot race with itself.
type Service struct {
	store      Store
	timers     Timers
	pipe       FormSubmitter
	codes      *otp.Manager
	codeSink   notify.Notifier
	statusSink notify.Notifier

	form              config.Form
	participants      int
	loc               *time.Location
	defaultSubmitTime string
	missedPolicy      string
	cancelSecretHash  []byte

	createMu sync.Mutex
	locks    keyedLocks
}

func NewService(p Params) *Service {
	return &Service{
		store:             p.Store,
		pipe:              p.Pipeline,
		codes:             p.Codes,
		codeSink:          p.CodeSink,
		statusSink:        p.StatusSink,
		form:              p.Form,
		participants:      p.Participants,
		loc:               p.Location,
		defaultSubmitTime: p.DefaultSubmitTime,
		missedPolicy:      p.MissedPolicy,
		cancelSecretHash:  []byte(p.CancelSecretHash),
		locks:             keyedLocks{m: make(map[string]*sync.Mutex)},
	}
}

// AttachTimers wires the scheduler in after construction; the scheduler needs
// the service as its submitter, so the two are linked in two phases.
func (s *Service) AttachTimers(t Timers) { s.timers = t }

type CreateRequest struct {
	Participants []string
	Resource     string
	TargetAt     time.Time // used when set; otherwise SubmitTime resolves it
	SubmitTime   string    // "HH:MM" in the configured timezone
	NotifyTarget string
}

// Create validates the request, persists a pending booking and registers its
// timer.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Booking, error) {
	names, err := s.sanitizeParticipants(req.Participants)
	if err != nil {
		return Booking{}, err
	}
	if !s.form.HasResource(req.Resource) {
		return Booking{}, apperr.Validation("unknown resource %q", req.Resource)
	}

	now := time.Now()
	target := req.TargetAt
	if target.IsZero() {
		hhmm := req.SubmitTime
		if hhmm == "" {
			hhmm = s.defaultSubmitTime
		}
		target, err = NextSubmitTime(now, hhmm, s.loc)
		if err != nil {
			return Booking{}, apperr.Validation("%v", err)
		}
	}
	if !target.After(now) {
		return Booking{}, apperr.Validation("target time must be in the future")
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	if err := s.checkDuplicate(ctx, req.Resource, target); err != nil {
		return Booking{}, err
	}

	b := Booking{
		ID:           uuid.NewString(),
		Participants: names,
		Resource:     req.Resource,
		TargetAt:     target,
		State:        StatePending,
		CreatedAt:    now.UTC(),
		NotifyTarget: strings.TrimSpace(req.NotifyTarget),
	}
	if err := s.store.Put(ctx, b); err != nil {
		return Booking{}, apperr.Internal(err, "failed to persist booking")
	}
	if err := s.timers.Schedule(b.ID, target); err != nil {
		return Booking{}, apperr.Internal(err, "failed to schedule booking")
	}

	log.Printf("booking: scheduled %s for %s at %s", b.ID, b.Resource, target.In(s.loc).Format("2006-01-02 15:04"))
	s.sendStatus(ctx, b, "Booking scheduled",
		fmt.Sprintf("Submission for %s is scheduled at %s.", s.form.Alias(b.Resource), target.In(s.loc).Format("2006-01-02 15:04")))
	return b, nil
}

// checkDuplicate enforces at most one pending booking per (resource, local
// date of the target instant).
func (s *Service) checkDuplicate(ctx context.Context, resource string, target time.Time) error {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return apperr.Internal(err, "failed to list bookings")
	}
	ty, tm, td := target.In(s.loc).Date()
	for _, b := range pending {
		if b.Resource != resource {
			continue
		}
		by, bm, bd := b.TargetAt.In(s.loc).Date()
		if by == ty && bm == tm && bd == td {
			return apperr.Conflict("a pending booking for %s on %04d-%02d-%02d already exists", resource, ty, tm, td)
		}
	}
	return nil
}

// Cancel moves a pending booking to cancelled, provided the credential is the
// master secret or a live one-time code and the timer has not fired yet.
func (s *Service) Cancel(ctx context.Context, id, credential string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	b, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if b.State != StatePending {
		return apperr.InvalidState("booking is %s and can no longer be cancelled", b.State)
	}
	if !s.authorize(id, credential) {
		log.Printf("booking: rejected cancel attempt for %s", id)
		return apperr.Unauthorized("invalid password or expired code")
	}

	switch s.timers.Cancel(id) {
	case scheduler.CancelAlreadyFired:
		return apperr.TooLate("submission already started; the booking cannot be cancelled")
	case scheduler.CancelNotFound:
		// no live timer (e.g. scheduling was skipped on a restore edge); the
		// record is still pending, so cancelling it is safe
		log.Printf("booking: no timer for %s, cancelling record only", id)
	}

	b.State = StateCancelled
	b.ResultDetail = "cancelled"
	if err := s.store.Put(ctx, b); err != nil {
		return apperr.Internal(err, "failed to persist cancellation")
	}
	log.Printf("booking: cancelled %s (%s)", b.ID, b.Resource)
	s.sendStatus(ctx, b, "Booking cancelled",
		fmt.Sprintf("The booking for %s at %s was cancelled.", s.form.Alias(b.Resource), b.TargetAt.In(s.loc).Format("2006-01-02 15:04")))
	return nil
}

// authorize accepts the master secret or a live unconsumed code. Expired,
// consumed and plain wrong credentials are indistinguishable to the caller.
func (s *Service) authorize(id, credential string) bool {
	if credential == "" {
		return false
	}
	if s.VerifyMaster(credential) {
		return true
	}
	return s.codes.Validate(id, credential)
}

// VerifyMaster checks a credential against the configured master secret hash.
func (s *Service) VerifyMaster(credential string) bool {
	if len(s.cancelSecretHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(s.cancelSecretHash, []byte(credential)) == nil
}

// RequestCancelCode issues a fresh one-time code for the booking and delivers
// it through the operator channels.
func (s *Service) RequestCancelCode(ctx context.Context, id string) error {
	b, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	code, err := s.codes.Issue(id)
	if err != nil {
		if errors.Is(err, otp.ErrRateLimited) {
			return apperr.RateLimited("a code was requested recently; wait before requesting another")
		}
		return apperr.Internal(err, "failed to generate code")
	}

	msg := notify.Message{
		Subject: fmt.Sprintf("Cancellation code requested for booking %s", shortID(id)),
		Body: fmt.Sprintf("Booked by %s for %s at %s. The code expires at %s.",
			first(b.Participants), s.form.Alias(b.Resource),
			b.TargetAt.In(s.loc).Format("2006-01-02 15:04"),
			code.ExpiresAt.In(s.loc).Format("15:04:05")),
		Code: code.Value,
	}
	if err := s.codeSink.Send(ctx, msg); err != nil {
		return apperr.Internal(err, "failed to deliver the code to any channel")
	}
	return nil
}

// Get returns the booking with its display alias resolved.
func (s *Service) Get(ctx context.Context, id string) (View, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return View{}, err
	}
	return s.view(b), nil
}

// List returns all bookings, newest first.
func (s *Service) List(ctx context.Context) ([]View, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, apperr.Internal(err, "failed to list bookings")
	}
	views := make([]View, 0, len(all))
	for _, b := range all {
		views = append(views, s.view(b))
	}
	return views, nil
}

// Submit implements scheduler.Submitter: it loads the booking and runs the
// pipeline with its data.
func (s *Service) Submit(ctx context.Context, id string) pipeline.Result {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return pipeline.Result{Kind: pipeline.KindTransport, Reason: fmt.Sprintf("load booking: %v", err)}
	}
	return s.pipe.Submit(ctx, pipeline.Submission{Participants: b.Participants, Resource: b.Resource})
}

// Completed implements scheduler.Reporter: it records the terminal outcome of
// a fired timer and notifies the booking's target, if any.
func (s *Service) Completed(ctx context.Context, id string, submitted bool, detail string) {
	unlock := s.locks.lock(id)
	defer unlock()

	b, err := s.store.Get(ctx, id)
	if err != nil {
		log.Printf("booking: completion for unknown booking %s: %v", id, err)
		return
	}
	if b.State != StatePending {
		log.Printf("booking: dropping stale completion for %s (state=%s)", id, b.State)
		return
	}

	if submitted {
		b.State = StateSubmitted
	} else {
		b.State = StateFailed
	}
	b.ResultDetail = detail
	if err := s.store.Put(ctx, b); err != nil {
		log.Printf("booking: failed to persist outcome for %s: %v", id, err)
		return
	}
	log.Printf("booking: %s is %s (%s)", id, b.State, detail)

	subject := "Booking submitted"
	if !submitted {
		subject = "Booking submission failed"
	}
	s.sendStatus(ctx, b, subject,
		fmt.Sprintf("%s for %s at %s: %s", subject, s.form.Alias(b.Resource),
			b.TargetAt.In(s.loc).Format("2006-01-02 15:04"), detail))
}

// Restore re-registers timers for persisted pending bookings after a restart.
// Past-due ones follow the missed-window policy.
func (s *Service) Restore(ctx context.Context) error {
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	now := time.Now()
	restored, missed := 0, 0
	for _, b := range pending {
		if b.TargetAt.After(now) {
			if err := s.timers.Schedule(b.ID, b.TargetAt); err != nil {
				log.Printf("booking: restore %s: %v", b.ID, err)
				continue
			}
			restored++
			continue
		}
		missed++
		switch s.missedPolicy {
		case config.PolicyFail:
			s.Completed(ctx, b.ID, false, "missed submission window while the service was down")
		default:
			if err := s.timers.ScheduleImmediate(b.ID); err != nil {
				log.Printf("booking: restore %s: %v", b.ID, err)
			}
		}
	}
	if restored+missed > 0 {
		log.Printf("booking: restored %d timer(s), %d past-due handled via %s policy", restored, missed, s.missedPolicy)
	}
	return nil
}

// RunJanitor periodically sweeps expired one-time codes until ctx ends.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.codes.PurgeExpired(); n > 0 {
				log.Printf("booking: purged %d expired code(s)", n)
			}
		}
	}
}

func (s *Service) load(ctx context.Context, id string) (Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Booking{}, apperr.NotFound("booking")
		}
		return Booking{}, apperr.Internal(err, "failed to load booking")
	}
	return b, nil
}

func (s *Service) view(b Booking) View {
	return View{Booking: b, ResourceAlias: s.form.Alias(b.Resource)}
}

func (s *Service) sanitizeParticipants(raw []string) ([]string, error) {
	if len(raw) != s.participants {
		return nil, apperr.Validation("exactly %d participant name(s) required", s.participants)
	}
	names := make([]string, len(raw))
	for i, n := range raw {
		n = strings.TrimSpace(n)
		if n == "" {
			return nil, apperr.Validation("participant %d name is empty", i+1)
		}
		names[i] = html.EscapeString(n)
	}
	return names, nil
}

// sendStatus is best-effort: delivery failures are logged and never affect
// booking state.
func (s *Service) sendStatus(ctx context.Context, b Booking, subject, body string) {
	if s.statusSink == nil {
		return
	}
	msg := notify.Message{Subject: subject, Body: body, Address: b.NotifyTarget}
	if err := s.statusSink.Send(ctx, msg); err != nil {
		log.Printf("booking: status notification for %s failed: %v", b.ID, err)
	}
}

func first(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// keyedLocks serializes operations per booking id while letting different ids
// proceed concurrently.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *keyedLocks) lock(id string) func() {
	l.mu.Lock()
	mu, ok := l.m[id]
	if !ok {
		mu = &sync.Mutex{}
		l.m[id] = mu
	}
	l.mu.Unlock()
	mu.Lock()
	return mu.Unlock
}
