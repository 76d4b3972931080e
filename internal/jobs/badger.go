// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const jobKeyPrefix = "job:"

// BadgerStore keeps job records in an embedded badger database, one JSON
// value per record under "job:<id>".
type BadgerStore struct {
	db  *badger.DB
	now func() time.Time
}

// OpenBadgerStore opens (or creates) the database at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	return &BadgerStore{db: db, now: time.Now}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func jobKey(id string) []byte { return []byte(jobKeyPrefix + id) }

func (s *BadgerStore) Create(ctx context.Context, job *Job) error {
	if err := prepareCreate(job, s.now().UTC()); err != nil {
		return err
	}
	buf, err := json.Marshal(job)
	if err != nil {
		return err
	}
	key := jobKey(job.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return ErrAlreadyExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, buf)
	})
}

func (s *BadgerStore) Get(ctx context.Context, id string) (*Job, error) {
	var out Job
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (s *BadgerStore) Transition(ctx context.Context, id string, to Status, mutate func(*Job)) (*Job, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, to)
	}
	key := jobKey(id)
	var out Job
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		}); err != nil {
			return err
		}
		if out.Status.Terminal() {
			if out.Status == to {
				return nil // idempotent redelivery, keep stored record
			}
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, out.Status, to)
		}
		if !canTransition(out.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, out.Status, to)
		}
		applyTransition(&out, to, mutate, s.now().UTC())
		buf, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

// Ping probes the database with a read; a missing probe key is healthy.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("job:ping"))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

var _ Store = (*BadgerStore)(nil)
