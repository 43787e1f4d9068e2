// Package policy manages per-room budget ceilings and the enhanced-mode flag.
// Rooms are materialized lazily on first reference with process-wide defaults
// and persisted wholesale on every mutation.
package policy

import (
	"context"
	"fmt"
	"sync"
)

// RoomPolicy is the per-room configuration. Ceilings are read-only after
// creation; only the enhanced-mode flag is mutated at runtime.
type RoomPolicy struct {
	MaxHourly    int
	MaxDaily     int
	EnhancedMode bool
}

// Defaults are the process-wide values copied into a room on first reference.
type Defaults struct {
	MaxHourly int
	MaxDaily  int
}

// Persistence stores room policies keyed by room id. Save writes the whole
// object; there is no partial-field persistence.
type Persistence interface {
	Load(ctx context.Context) (map[string]RoomPolicy, error)
	Save(ctx context.Context, roomID string, p RoomPolicy) error
}

// PersistenceError reports a failed policy read or write. It is fatal for the
// request that hit it: admission must not proceed on unknown limits.
type PersistenceError struct {
	Op     string // "load" or "save"
	RoomID string // empty for startup load
	Err    error
}

func (e *PersistenceError) Error() string {
	if e.RoomID == "" {
		return fmt.Sprintf("room policy %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("room policy %s failed for room %s: %v", e.Op, e.RoomID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store is the in-memory view of room policies backed by a Persistence.
type Store struct {
	mu       sync.Mutex
	defaults Defaults
	persist  Persistence
	rooms    map[string]RoomPolicy
}

// NewStore loads all persisted policies and returns a ready store.
func NewStore(ctx context.Context, defaults Defaults, persist Persistence) (*Store, error) {
	rooms, err := persist.Load(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}
	if rooms == nil {
		rooms = make(map[string]RoomPolicy)
	}
	return &Store{defaults: defaults, persist: persist, rooms: rooms}, nil
}

// Ensure returns the room's policy, creating and persisting it with the
// defaults if the room is unknown. This is the single get-or-create step; all
// reads go through it so a persistence failure surfaces before any decision.
func (s *Store) Ensure(ctx context.Context, roomID string) (RoomPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.rooms[roomID]; ok {
		return p, nil
	}
	p := RoomPolicy{MaxHourly: s.defaults.MaxHourly, MaxDaily: s.defaults.MaxDaily}
	if err := s.persist.Save(ctx, roomID, p); err != nil {
		return RoomPolicy{}, &PersistenceError{Op: "save", RoomID: roomID, Err: err}
	}
	s.rooms[roomID] = p
	return p, nil
}

// Limits returns the room's hourly and daily ceilings, creating the room if needed.
func (s *Store) Limits(ctx context.Context, roomID string) (maxHourly, maxDaily int, err error) {
	p, err := s.Ensure(ctx, roomID)
	if err != nil {
		return 0, 0, err
	}
	return p.MaxHourly, p.MaxDaily, nil
}

// EnhancedMode returns the room's enhanced-mode flag, creating the room if needed.
func (s *Store) EnhancedMode(ctx context.Context, roomID string) (bool, error) {
	p, err := s.Ensure(ctx, roomID)
	if err != nil {
		return false, err
	}
	return p.EnhancedMode, nil
}

// SetEnhancedMode updates the room's enhanced-mode flag and persists the whole
// policy object synchronously.
func (s *Store) SetEnhancedMode(ctx context.Context, roomID string, enabled bool) error {
	if _, err := s.Ensure(ctx, roomID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.rooms[roomID]
	p.EnhancedMode = enabled
	if err := s.persist.Save(ctx, roomID, p); err != nil {
		return &PersistenceError{Op: "save", RoomID: roomID, Err: err}
	}
	s.rooms[roomID] = p
	return nil
}
