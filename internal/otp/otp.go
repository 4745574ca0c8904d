// Package otp issues and validates the one-time codes that authorize booking
// cancellation. Codes are single-use, expire after a fixed TTL, and at most
// one live code exists per booking: issuing a new one invalidates the old.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

var ErrRateLimited = errors.New("code requested too recently")

const CodeLength = 6

type Code struct {
	Value     string
	BookingID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Manager struct {
	ttl         time.Duration
	minInterval time.Duration

	mu        sync.Mutex
	codes     map[string]Code
	lastIssue map[string]time.Time

	now func() time.Time
}

func NewManager(ttl, minInterval time.Duration) *Manager {
	return &Manager{
		ttl:         ttl,
		minInterval: minInterval,
		codes:       make(map[string]Code),
		lastIssue:   make(map[string]time.Time),
		now:         time.Now,
	}
}

// Issue generates a fresh code for the booking, replacing any prior live one.
// Repeated requests inside the issue interval are rejected with
// ErrRateLimited.
func (m *Manager) Issue(bookingID string) (Code, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if last, ok := m.lastIssue[bookingID]; ok && now.Sub(last) < m.minInterval {
		return Code{}, ErrRateLimited
	}

	value, err := generate()
	if err != nil {
		return Code{}, err
	}
	c := Code{
		Value:     value,
		BookingID: bookingID,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	m.codes[bookingID] = c
	m.lastIssue[bookingID] = now
	return c, nil
}

// Validate reports whether presented matches the live code for the booking.
// A match consumes the code. Expired, consumed and wrong codes are all
// rejected the same way.
func (m *Manager) Validate(bookingID, presented string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.codes[bookingID]
	if !ok {
		return false
	}
	if m.now().After(c.ExpiresAt) {
		delete(m.codes, bookingID)
		return false
	}
	if subtle.ConstantTimeCompare([]byte(c.Value), []byte(presented)) != 1 {
		return false
	}
	delete(m.codes, bookingID)
	return true
}

// PurgeExpired drops dead codes and stale rate-limit entries. Returns the
// number of codes removed.
func (m *Manager) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for id, c := range m.codes {
		if now.After(c.ExpiresAt) {
			delete(m.codes, id)
			removed++
		}
	}
	for id, last := range m.lastIssue {
		if now.Sub(last) > m.minInterval {
			delete(m.lastIssue, id)
		}
	}
	return removed
}

func generate() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < CodeLength; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n), nil
}
