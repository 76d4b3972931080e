// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memEntry struct {
	id           string
	body         []byte
	receiveCount int
	visibleAt    time.Time // zero means visible immediately
	receipt      string    // valid while the entry is invisible
}

// MemoryQueue is the in-process Queue used by tests and single-node dev runs.
// Entries keep their slice position for their whole life, so an expired
// visibility window puts a message back exactly where it was.
type MemoryQueue struct {
	mu         sync.Mutex
	entries    []*memEntry
	visibility time.Duration
	clock      func() time.Time
	closed     bool
}

func NewMemoryQueue(visibility time.Duration, opts ...Option) *MemoryQueue {
	o := buildOptions(opts)
	if visibility <= 0 {
		visibility = 90 * time.Second
	}
	return &MemoryQueue{
		visibility: visibility,
		clock:      o.clock,
	}
}

func (q *MemoryQueue) Send(ctx context.Context, body []byte, groupID, dedupID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	entry := &memEntry{
		id:   uuid.NewString(),
		body: append([]byte(nil), body...),
	}
	q.entries = append(q.entries, entry)
	return entry.id, nil
}

func (q *MemoryQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max < 1 {
		max = 1
	}
	deadline := q.clock().Add(wait)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgs := q.receiveVisible(max)
		if len(msgs) > 0 || wait <= 0 || !q.clock().Before(deadline) {
			return msgs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) receiveVisible(max int) []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock()

	var out []Message
	for _, e := range q.entries {
		if len(out) >= max {
			break
		}
		if e.visibleAt.After(now) {
			continue
		}
		e.receiveCount++
		e.receipt = uuid.NewString()
		e.visibleAt = now.Add(q.visibility)
		out = append(out, Message{
			ID:            e.id,
			Body:          append([]byte(nil), e.body...),
			ReceiptHandle: e.receipt,
			ReceiveCount:  e.receiveCount,
		})
	}
	return out
}

func (q *MemoryQueue) Delete(ctx context.Context, receiptHandle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock()
	for i, e := range q.entries {
		if e.receipt == receiptHandle && e.visibleAt.After(now) {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return ErrUnknownReceipt
}

// Len returns the number of live messages, visible or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *MemoryQueue) Ping(ctx context.Context) error { return ctx.Err() }

func (q *MemoryQueue) Close() error { return nil }

var _ Queue = (*MemoryQueue)(nil)
