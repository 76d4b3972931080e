// SPDX-License-Identifier: MIT

package capacity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/eventkiosk/cardforge/internal/config"
)

// Store persists controller state. Update applies fn to the current state
// inside one atomic read-modify-write; fn may see a zero-valued state when
// nothing was persisted yet (the controller normalizes it).
type Store interface {
	Update(ctx context.Context, fn func(*State) error) (*State, error)
	Load(ctx context.Context) (*State, error)
	Close() error
}

// NewStore selects a store backend by name.
func NewStore(backend, path string) (Store, error) {
	switch backend {
	case config.BackendBadger:
		return OpenBadgerStore(path)
	case config.BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown capacity store backend %q", backend)
	}
}

const stateKey = "capacity:state"

// BadgerStore keeps the controller state under a single key. Badger's
// serializable transactions give us the single-writer closure semantics the
// admission race depends on.
type BadgerStore struct {
	db *badger.DB
}

func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func (s *BadgerStore) Update(ctx context.Context, fn func(*State) error) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out State
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stateKey))
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &out)
			}); err != nil {
				return err
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if err := fn(&out); err != nil {
			return err
		}
		buf, err := json.Marshal(&out)
		if err != nil {
			return err
		}
		return txn.Set([]byte(stateKey), buf)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) Load(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out State
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(stateKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil // Not found, no error
		}
		return nil, err
	}
	return &out, nil
}

// MemoryStore is the in-memory Store used in tests and single-node dev runs.
type MemoryStore struct {
	mu sync.Mutex
	st *State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(*State) error) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st == nil {
		s.st = &State{}
	}
	if err := fn(s.st); err != nil {
		return nil, err
	}
	return s.st.clone(), nil
}

func (s *MemoryStore) Load(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.clone(), nil
}

func (s *MemoryStore) Close() error { return nil }

// Ensure interface compliance at compile time.
var _ Store = (*BadgerStore)(nil)
var _ Store = (*MemoryStore)(nil)
