package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/meghashyamc/presssync/db/kvdb"
)

const stateKey = "state"

// StateStore persists the sync state between batches.
type StateStore interface {
	// Load returns the saved state, or an idle state when none is saved.
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, state *State) error
	Delete(ctx context.Context) error
}

// KVStateStore keeps the state as JSON in the sync bucket.
type KVStateStore struct {
	db kvdb.DB
}

func NewKVStateStore(db kvdb.DB) *KVStateStore {
	return &KVStateStore{db: db}
}

func (s *KVStateStore) Load(ctx context.Context) (*State, error) {
	value, err := s.db.Get(kvdb.SyncBucket, stateKey)
	if errors.Is(err, kvdb.ErrNotFound) {
		return idleState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}

	state := &State{}
	if err := json.Unmarshal([]byte(value), state); err != nil {
		return nil, fmt.Errorf("failed to decode sync state: %w", err)
	}
	if state.Messages == nil {
		state.Messages = map[string][]string{}
	}
	return state, nil
}

func (s *KVStateStore) Save(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode sync state: %w", err)
	}
	if err := s.db.Set(kvdb.SyncBucket, stateKey, string(data)); err != nil {
		return fmt.Errorf("failed to save sync state: %w", err)
	}
	return nil
}

func (s *KVStateStore) Delete(ctx context.Context) error {
	err := s.db.Delete(kvdb.SyncBucket, stateKey)
	if err != nil && !errors.Is(err, kvdb.ErrNotFound) {
		return fmt.Errorf("failed to delete sync state: %w", err)
	}
	return nil
}

// MemoryStateStore keeps the state in process memory, for one-shot runs.
type MemoryStateStore struct {
	mu    sync.Mutex
	state []byte
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

func (s *MemoryStateStore) Load(ctx context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil {
		return idleState(), nil
	}
	state := &State{}
	if err := json.Unmarshal(s.state, state); err != nil {
		return nil, fmt.Errorf("failed to decode sync state: %w", err)
	}
	return state, nil
}

func (s *MemoryStateStore) Save(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode sync state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = data
	return nil
}

func (s *MemoryStateStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	return nil
}
