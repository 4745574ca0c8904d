package booking

import (
	"fmt"
	"time"
)

type State string

const (
	StatePending   State = "pending"
	StateSubmitted State = "submitted"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition may leave s.
func (s State) Terminal() bool {
	switch s {
	case StateSubmitted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Booking is one requested reservation. Records are never deleted; terminal
// ones are retained for listing and audit.
type Booking struct {
	ID           string    `json:"id"`
	Participants []string  `json:"participants"`
	Resource     string    `json:"resource"`
	TargetAt     time.Time `json:"target_at"`
	State        State     `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	ResultDetail string    `json:"result_detail,omitempty"`
	NotifyTarget string    `json:"notify_target,omitempty"`
}

// View is the listing representation handed to the CLI/HTTP layer, with the
// resource alias resolved for display.
type View struct {
	Booking
	ResourceAlias string `json:"resource_alias"`
}

// NextSubmitTime resolves a bare HH:MM submit time to its next occurrence in
// loc: today if still ahead, otherwise tomorrow.
func NextSubmitTime(now time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("15:04", hhmm, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid submit time %q (want HH:MM)", hhmm)
	}
	local := now.In(loc)
	target := time.Date(local.Year(), local.Month(), local.Day(), t.Hour(), t.Minute(), 0, 0, loc)
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target, nil
}
