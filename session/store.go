package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoSnapshot is returned by Load when nothing has been persisted.
var ErrNoSnapshot = errors.New("no persisted snapshot")

// ErrCorruptSnapshot is returned by Load when the persisted record cannot be parsed.
var ErrCorruptSnapshot = errors.New("corrupt persisted snapshot")

// ErrBackendUnavailable wraps failures of the underlying backend.
var ErrBackendUnavailable = errors.New("session backend unavailable")

// ErrKeyNotFound is returned by a Backend when a key does not exist.
var ErrKeyNotFound = errors.New("key not found")

const (
	// DefaultSnapshotKey holds the serialized identity snapshot.
	DefaultSnapshotKey = "reviewpulse_user"
	// DefaultPendingKey holds the email of an in-progress challenge.
	DefaultPendingKey = "reviewpulse_pending_email"
)

// Backend is a key/value persistence engine that survives reloads.
//
// Get returns ErrKeyNotFound for missing keys. Delete of a missing key is not
// an error.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Store persists the identity snapshot and the pending-challenge marker.
//
// Writes are last-writer-wins. The engine only writes after a successful
// state transition, so no read-modify-write protection is needed here.
type Store struct {
	backend     Backend
	snapshotKey string
	pendingKey  string
}

// NewStore wraps backend. Empty keys fall back to the defaults.
func NewStore(backend Backend, snapshotKey, pendingKey string) *Store {
	if snapshotKey == "" {
		snapshotKey = DefaultSnapshotKey
	}
	if pendingKey == "" {
		pendingKey = DefaultPendingKey
	}
	return &Store{
		backend:     backend,
		snapshotKey: snapshotKey,
		pendingKey:  pendingKey,
	}
}

// Ping reads the snapshot key to check the backend is reachable and
// reports how long the read took. A missing key counts as reachable.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	_, err := s.backend.Get(ctx, s.snapshotKey)
	if errors.Is(err, ErrKeyNotFound) {
		err = nil
	}
	return time.Since(start), err
}

// Save persists s, replacing any previous snapshot.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	data, err := Encode(snap)
	if err != nil {
		return err
	}
	if err := s.backend.Set(ctx, s.snapshotKey, data); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// Load returns the persisted snapshot.
//
// It returns ErrNoSnapshot when nothing is stored and ErrCorruptSnapshot when
// the stored record is malformed. In the latter case the caller is expected
// to call Clear.
func (s *Store) Load(ctx context.Context) (Snapshot, error) {
	data, err := s.backend.Get(ctx, s.snapshotKey)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return Snapshot{}, ErrNoSnapshot
		}
		return Snapshot{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return Decode(data)
}

// Clear removes the snapshot. Clearing an empty store is a no-op.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Delete(ctx, s.snapshotKey); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// SavePending records the email of a pending challenge.
func (s *Store) SavePending(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errors.New("pending email is empty")
	}
	if err := s.backend.Set(ctx, s.pendingKey, []byte(email)); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// LoadPending returns the pending-challenge email, or ok=false when none is set.
func (s *Store) LoadPending(ctx context.Context) (string, bool, error) {
	data, err := s.backend.Get(ctx, s.pendingKey)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	email := strings.TrimSpace(string(data))
	if email == "" {
		return "", false, nil
	}
	return email, true, nil
}

// ClearPending removes the pending-challenge marker.
func (s *Store) ClearPending(ctx context.Context) error {
	if err := s.backend.Delete(ctx, s.pendingKey); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}
