package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/example/courtsched/internal/booking"
)

// FileStore keeps every booking in a single JSON document on disk. Writes
// rewrite the whole file through a temp-file rename so a crash mid-write
// leaves the previous snapshot intact.
type FileStore struct {
	path string

	mu    sync.Mutex
	cache map[string]booking.Booking
}

func OpenFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &FileStore{path: path, cache: make(map[string]booking.Booking)}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	var all []booking.Booking
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, bk := range all {
		s.cache[bk.ID] = bk
	}
	return s, nil
}

func (s *FileStore) Put(_ context.Context, b booking.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[b.ID] = b
	return s.flush()
}

func (s *FileStore) Get(_ context.Context, id string) (booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.cache[id]
	if !ok {
		return booking.Booking{}, booking.ErrNotFound
	}
	return b, nil
}

func (s *FileStore) ListAll(_ context.Context) ([]booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(func(booking.Booking) bool { return true }), nil
}

func (s *FileStore) ListPending(_ context.Context) ([]booking.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(func(b booking.Booking) bool { return b.State == booking.StatePending }), nil
}

func (s *FileStore) Close() {}

func (s *FileStore) snapshot(keep func(booking.Booking) bool) []booking.Booking {
	out := make([]booking.Booking, 0, len(s.cache))
	for _, b := range s.cache {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// flush writes the full snapshot; caller holds the lock.
func (s *FileStore) flush() error {
	all := s.snapshot(func(booking.Booking) bool { return true })
	b, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
