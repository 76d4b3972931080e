// SPDX-License-Identifier: MIT

// Package queue provides the ordered job queue backing the dispatcher.
//
// Semantics are deliberately SQS-shaped regardless of backend: FIFO order,
// at-least-once delivery, and a visibility window per delivery. A received
// message stays in the queue, invisible, until it is deleted with its receipt
// handle; if the handle is never used the message reappears at its original
// position once the window lapses. Not acknowledging is therefore the only
// backpressure mechanism a consumer needs.
package queue

import (
	"context"
	"errors"
	"time"
)

// Message is one delivery. ReceiptHandle is valid for this delivery only;
// after the visibility window lapses it can no longer acknowledge anything.
type Message struct {
	ID            string
	Body          []byte
	ReceiptHandle string
	ReceiveCount  int
}

// Queue is the FIFO queue contract shared by all backends.
type Queue interface {
	// Send appends a message. groupID and dedupID are honored by backends
	// with native support (SQS FIFO) and ignored elsewhere.
	Send(ctx context.Context, body []byte, groupID, dedupID string) (string, error)
	// Receive returns up to max visible messages, oldest first, waiting up to
	// wait when the queue is empty. Delivered messages become invisible for
	// the backend's visibility window.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	// Delete acknowledges a delivery, permanently removing the message.
	Delete(ctx context.Context, receiptHandle string) error
	// Ping reports backend reachability for health checks.
	Ping(ctx context.Context) error
	Close() error
}

// ErrUnknownReceipt is returned by Delete when the receipt handle does not
// match an in-flight delivery, typically because the visibility window
// already lapsed and the message was redelivered.
var ErrUnknownReceipt = errors.New("unknown or expired receipt handle")

// Option configures backend construction.
type Option func(*options)

type options struct {
	clock func() time.Time
}

// WithClock injects a time source. Tests use it to expire visibility windows
// without sleeping.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
