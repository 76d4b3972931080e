// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// withStores runs fn against every backend so the lifecycle rules cannot
// drift between them.
func withStores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("badger", func(t *testing.T) {
		s, err := OpenBadgerStore(t.TempDir())
		if err != nil {
			t.Fatalf("open badger: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
}

func seedJob(t *testing.T, s Store, status Status) *Job {
	t.Helper()
	job := &Job{
		ID:        uuid.NewString(),
		Prompt:    "a knight riding a flamingo through a thunderstorm",
		SessionID: "203.0.113.7",
		ClientIP:  "203.0.113.7",
	}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	var path []Status
	switch status {
	case StatusQueued:
	case StatusProcessing:
		path = []Status{StatusProcessing}
	case StatusCompleted:
		path = []Status{StatusProcessing, StatusCompleted}
	case StatusFailed:
		path = []Status{StatusProcessing, StatusFailed}
	}
	for _, st := range path {
		if _, err := s.Transition(context.Background(), job.ID, st, nil); err != nil {
			t.Fatalf("seed transition to %s: %v", st, err)
		}
	}
	return job
}

func TestCreateAndGet(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		job := seedJob(t, s, StatusQueued)

		got, err := s.Get(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != StatusQueued {
			t.Errorf("status = %s, want queued", got.Status)
		}
		if got.Prompt != job.Prompt {
			t.Errorf("prompt = %q", got.Prompt)
		}
		if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
			t.Error("timestamps not stamped on create")
		}
		if got.CompletedAt != nil {
			t.Error("completed_at set on a queued record")
		}

		// Mutating the returned record must not leak into the store.
		got.Prompt = "tampered"
		again, _ := s.Get(context.Background(), job.ID)
		if again.Prompt != job.Prompt {
			t.Error("store record aliased to caller copy")
		}
	})
}

func TestGetMissing(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestCreateDuplicateID(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		job := seedJob(t, s, StatusQueued)
		dup := &Job{ID: job.ID, Prompt: "second attempt same id xx", SessionID: "x", ClientIP: "x"}
		if err := s.Create(context.Background(), dup); !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("err = %v, want ErrAlreadyExists", err)
		}
	})
}

func TestTransitionCompletesWithArtifact(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		job := seedJob(t, s, StatusProcessing)

		got, err := s.Transition(context.Background(), job.ID, StatusCompleted, func(j *Job) {
			j.ArtifactKey = "cards/203.0.113.7_card_1_20260815_120000_a1b2.png"
		})
		if err != nil {
			t.Fatalf("Transition: %v", err)
		}
		if got.Status != StatusCompleted {
			t.Errorf("status = %s, want completed", got.Status)
		}
		if got.ArtifactKey == "" {
			t.Error("artifact key not persisted")
		}
		if got.CompletedAt == nil {
			t.Error("completed_at not stamped")
		}
	})
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		name    string
		from    Status
		to      Status
		wantErr error
	}{
		{"queued to processing", StatusQueued, StatusProcessing, nil},
		{"queued to failed", StatusQueued, StatusFailed, nil},
		{"queued to completed skips processing", StatusQueued, StatusCompleted, ErrIllegalTransition},
		{"processing repeat after redelivery", StatusProcessing, StatusProcessing, nil},
		{"processing to completed", StatusProcessing, StatusCompleted, nil},
		{"processing to failed", StatusProcessing, StatusFailed, nil},
		{"completed repeat is idempotent", StatusCompleted, StatusCompleted, nil},
		{"completed cannot fail", StatusCompleted, StatusFailed, ErrIllegalTransition},
		{"completed cannot reprocess", StatusCompleted, StatusProcessing, ErrIllegalTransition},
		{"failed repeat is idempotent", StatusFailed, StatusFailed, nil},
		{"failed cannot complete", StatusFailed, StatusCompleted, ErrIllegalTransition},
	}
	withStores(t, func(t *testing.T, s Store) {
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				job := seedJob(t, s, tc.from)
				_, err := s.Transition(context.Background(), job.ID, tc.to, nil)
				if tc.wantErr == nil {
					if err != nil {
						t.Fatalf("Transition: %v", err)
					}
					return
				}
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
			})
		}
	})
}

func TestTerminalRepeatKeepsStoredRecord(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		job := seedJob(t, s, StatusProcessing)
		if _, err := s.Transition(context.Background(), job.ID, StatusCompleted, func(j *Job) {
			j.ArtifactKey = "cards/first.png"
		}); err != nil {
			t.Fatal(err)
		}

		// A redelivered completion must not rewrite the artifact key.
		got, err := s.Transition(context.Background(), job.ID, StatusCompleted, func(j *Job) {
			j.ArtifactKey = "cards/second.png"
		})
		if err != nil {
			t.Fatalf("repeat Transition: %v", err)
		}
		if got.ArtifactKey != "cards/first.png" {
			t.Errorf("artifact key = %q, want cards/first.png", got.ArtifactKey)
		}
	})
}

func TestTransitionMissingJob(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		if _, err := s.Transition(context.Background(), "ghost", StatusProcessing, nil); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestTransitionUnknownStatus(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		job := seedJob(t, s, StatusQueued)
		if _, err := s.Transition(context.Background(), job.ID, Status("paused"), nil); !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("err = %v, want ErrIllegalTransition", err)
		}
	})
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadgerStore(dir)
	require.NoError(t, err)
	job := &Job{ID: uuid.NewString(), Prompt: "persistent prompt text", SessionID: "s", ClientIP: "s"}
	require.NoError(t, s.Create(ctx, job))
	_, err = s.Transition(ctx, job.ID, StatusProcessing, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenBadgerStore(dir)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, got.Status)
}

func TestNewStoreFactory(t *testing.T) {
	s, err := NewStore("memory", "")
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, s)

	s, err = NewStore("badger", t.TempDir())
	require.NoError(t, err)
	require.IsType(t, &BadgerStore{}, s)
	require.NoError(t, s.Close())

	_, err = NewStore("sqlite", "")
	require.Error(t, err)
}
