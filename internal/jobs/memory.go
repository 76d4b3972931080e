// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node development.
// Not durable.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]*Job
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recs: make(map[string]*Job),
		now:  time.Now,
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Create(ctx context.Context, job *Job) error {
	if err := prepareCreate(job, m.now().UTC()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[job.ID]; ok {
		return ErrAlreadyExists
	}
	m.recs[job.ID] = job.clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

func (m *MemoryStore) Transition(ctx context.Context, id string, to Status, mutate func(*Job)) (*Job, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrIllegalTransition, to)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status.Terminal() {
		if rec.Status == to {
			return rec.clone(), nil
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, rec.Status, to)
	}
	if !canTransition(rec.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, rec.Status, to)
	}
	next := rec.clone()
	applyTransition(next, to, mutate, m.now().UTC())
	m.recs[id] = next
	return next.clone(), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

var _ Store = (*MemoryStore)(nil)
