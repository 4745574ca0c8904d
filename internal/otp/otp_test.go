package otp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(5*time.Minute, time.Minute)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestIssueAndValidate(t *testing.T) {
	m, _ := testManager(t)

	c, err := m.Issue("b1")
	require.NoError(t, err)
	assert.Len(t, c.Value, CodeLength)

	assert.False(t, m.Validate("b1", "000000"), "wrong code")
	assert.False(t, m.Validate("other", c.Value), "wrong booking")
	assert.True(t, m.Validate("b1", c.Value))
	assert.False(t, m.Validate("b1", c.Value), "codes are single-use")
}

func TestIssueRateLimited(t *testing.T) {
	m, now := testManager(t)

	_, err := m.Issue("b1")
	require.NoError(t, err)

	_, err = m.Issue("b1")
	assert.ErrorIs(t, err, ErrRateLimited)

	// a different booking is not throttled
	_, err = m.Issue("b2")
	assert.NoError(t, err)

	*now = now.Add(61 * time.Second)
	_, err = m.Issue("b1")
	assert.NoError(t, err)
}

func TestReissueInvalidatesPriorCode(t *testing.T) {
	m, now := testManager(t)

	first, err := m.Issue("b1")
	require.NoError(t, err)

	*now = now.Add(2 * time.Minute)
	second, err := m.Issue("b1")
	require.NoError(t, err)

	assert.False(t, m.Validate("b1", first.Value))
	assert.True(t, m.Validate("b1", second.Value))
}

func TestValidateExpired(t *testing.T) {
	m, now := testManager(t)

	c, err := m.Issue("b1")
	require.NoError(t, err)

	*now = now.Add(5*time.Minute + time.Second)
	assert.False(t, m.Validate("b1", c.Value))
}

func TestPurgeExpired(t *testing.T) {
	m, now := testManager(t)

	_, err := m.Issue("b1")
	require.NoError(t, err)
	*now = now.Add(2 * time.Minute)
	live, err := m.Issue("b2")
	require.NoError(t, err)

	*now = now.Add(3*time.Minute + time.Second) // b1 expired, b2 still live
	assert.Equal(t, 1, m.PurgeExpired())
	assert.True(t, m.Validate("b2", live.Value))
}
