// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(time.Hour)

	for i := 0; i < 5; i++ {
		if _, err := q.Send(ctx, []byte(fmt.Sprintf("msg-%d", i)), "", ""); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	var got []string
	for len(got) < 5 {
		msgs, err := q.Receive(ctx, 2, 0)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		for _, m := range msgs {
			got = append(got, string(m.Body))
			if err := q.Delete(ctx, m.ReceiptHandle); err != nil {
				t.Fatalf("Delete: %v", err)
			}
		}
	}

	for i, body := range got {
		want := fmt.Sprintf("msg-%d", i)
		if body != want {
			t.Errorf("position %d = %q, want %q", i, body, want)
		}
	}
}

func TestMemoryQueueVisibilityRedelivery(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	q := NewMemoryQueue(90*time.Second, WithClock(func() time.Time { return now }))

	q.Send(ctx, []byte("first"), "", "")
	q.Send(ctx, []byte("second"), "", "")

	msgs, err := q.Receive(ctx, 1, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Receive = %v, %v", msgs, err)
	}
	if string(msgs[0].Body) != "first" {
		t.Fatalf("body = %q, want first", msgs[0].Body)
	}
	if msgs[0].ReceiveCount != 1 {
		t.Errorf("receive count = %d, want 1", msgs[0].ReceiveCount)
	}

	// While invisible, only the second message is deliverable.
	peek, _ := q.Receive(ctx, 5, 0)
	if len(peek) != 1 || string(peek[0].Body) != "second" {
		t.Fatalf("expected only second message, got %v", peek)
	}
	q.Delete(ctx, peek[0].ReceiptHandle)

	// Window lapses without an ack: the first message comes back, at the
	// head, with an incremented receive count.
	now = now.Add(2 * time.Minute)
	msgs, err = q.Receive(ctx, 5, 0)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("Receive after expiry = %v, %v", msgs, err)
	}
	if string(msgs[0].Body) != "first" {
		t.Errorf("redelivered body = %q, want first", msgs[0].Body)
	}
	if msgs[0].ReceiveCount != 2 {
		t.Errorf("receive count = %d, want 2", msgs[0].ReceiveCount)
	}
}

func TestMemoryQueueExpiredReceiptCannotDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	q := NewMemoryQueue(time.Minute, WithClock(func() time.Time { return now }))

	q.Send(ctx, []byte("payload"), "", "")
	msgs, _ := q.Receive(ctx, 1, 0)
	stale := msgs[0].ReceiptHandle

	now = now.Add(5 * time.Minute)
	if err := q.Delete(ctx, stale); !errors.Is(err, ErrUnknownReceipt) {
		t.Fatalf("Delete with expired receipt = %v, want ErrUnknownReceipt", err)
	}

	// Message is still alive and deliverable.
	msgs, _ = q.Receive(ctx, 1, 0)
	if len(msgs) != 1 {
		t.Fatal("message should be redeliverable after failed delete")
	}
	if err := q.Delete(ctx, msgs[0].ReceiptHandle); err != nil {
		t.Fatalf("Delete with fresh receipt: %v", err)
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestMemoryQueueDeleteUnknownReceipt(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	if err := q.Delete(context.Background(), "no-such-receipt"); !errors.Is(err, ErrUnknownReceipt) {
		t.Fatalf("err = %v, want ErrUnknownReceipt", err)
	}
}

func TestMemoryQueueReceiveEmptyNoWait(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	msgs, err := q.Receive(context.Background(), 5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty receive, got %d", len(msgs))
	}
}

func TestMemoryQueueReceiveHonorsContext(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Receive(ctx, 1, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
