package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/courtsched/internal/booking"
)

func sample(id string, state booking.State, created time.Time) booking.Booking {
	return booking.Booking{
		ID:           id,
		Participants: []string{"alice", "bob", "carol"},
		Resource:     "Court-2",
		TargetAt:     created.Add(24 * time.Hour),
		State:        state,
		CreatedAt:    created,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "bookings.json")
	s, err := OpenFile(path)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	b := sample("b1", booking.StatePending, now)
	require.NoError(t, s.Put(ctx, b))

	got, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, b, got)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookings.json")
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	s, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, sample("b1", booking.StatePending, now)))
	require.NoError(t, s.Put(ctx, sample("b2", booking.StateSubmitted, now.Add(time.Minute))))

	reopened, err := OpenFile(path)
	require.NoError(t, err)

	all, err := reopened.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	// newest first
	assert.Equal(t, "b2", all[0].ID)
	assert.Equal(t, "b1", all[1].ID)
}

func TestFileStoreListPending(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookings.json")
	ctx := context.Background()
	now := time.Now().UTC()

	s, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, sample("p1", booking.StatePending, now)))
	require.NoError(t, s.Put(ctx, sample("s1", booking.StateSubmitted, now)))
	require.NoError(t, s.Put(ctx, sample("c1", booking.StateCancelled, now)))

	pending, err := s.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "p1", pending[0].ID)
}

func TestFileStoreUpdateOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookings.json")
	ctx := context.Background()

	s, err := OpenFile(path)
	require.NoError(t, err)
	b := sample("b1", booking.StatePending, time.Now().UTC())
	require.NoError(t, s.Put(ctx, b))

	b.State = booking.StateCancelled
	b.ResultDetail = "cancelled"
	require.NoError(t, s.Put(ctx, b))

	got, err := s.Get(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, booking.StateCancelled, got.State)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestOpenFileRejectsCorruptData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bookings.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := OpenFile(path)
	assert.Error(t, err)
}
