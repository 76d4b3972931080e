// SPDX-License-Identifier: MIT

package objstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestMemoryStorePutGetHead(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("bucket")

	err := s.Put(ctx, "cards/a.png", []byte("png-bytes"), "image/png", map[string]string{"Session": "203.0.113.7_override1"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, err := s.Get(ctx, "cards/a.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("data = %q", data)
	}

	info, err := s.Head(ctx, "cards/a.png")
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if info.Size != int64(len("png-bytes")) {
		t.Errorf("size = %d", info.Size)
	}
	if info.LastModified.IsZero() {
		t.Error("last modified not stamped")
	}
}

func TestMemoryStoreMissingObject(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("bucket")

	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get err = %v, want ErrNotFound", err)
	}
	if _, err := s.Head(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Head err = %v, want ErrNotFound", err)
	}
	if _, err := s.PresignGet(ctx, "nope", time.Minute); !errors.Is(err, ErrNotFound) {
		t.Errorf("PresignGet err = %v, want ErrNotFound", err)
	}
	// Deleting a missing object is fine.
	if err := s.Delete(ctx, "nope"); err != nil {
		t.Errorf("Delete err = %v", err)
	}
}

func TestMemoryStoreListSortedByKey(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("bucket")

	for _, key := range []string{"cards/c.png", "cards/a.png", "videos/v.mp4", "cards/b.png"} {
		if err := s.Put(ctx, key, []byte("x"), "", nil); err != nil {
			t.Fatal(err)
		}
	}

	infos, err := s.List(ctx, "cards/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"cards/a.png", "cards/b.png", "cards/c.png"}
	if len(infos) != len(want) {
		t.Fatalf("got %d objects, want %d", len(infos), len(want))
	}
	for i, info := range infos {
		if info.Key != want[i] {
			t.Errorf("position %d = %q, want %q", i, info.Key, want[i])
		}
	}
}

func TestMemoryStoreCopyFrom(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("bucket")

	if err := s.Put(ctx, "output/render.mp4", []byte("mp4-bytes"), "video/mp4", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.CopyFrom(ctx, "provider-bucket", "output/render.mp4", "videos/dest.mp4"); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	data, err := s.Get(ctx, "videos/dest.mp4")
	if err != nil {
		t.Fatalf("Get copy: %v", err)
	}
	if string(data) != "mp4-bytes" {
		t.Errorf("copied data = %q", data)
	}

	if err := s.CopyFrom(ctx, "provider-bucket", "missing", "videos/x.mp4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CopyFrom missing = %v, want ErrNotFound", err)
	}
}

func TestMemoryStorePresignGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("bucket")
	if err := s.Put(ctx, "cards/a.png", []byte("x"), "image/png", nil); err != nil {
		t.Fatal(err)
	}

	u, err := s.PresignGet(ctx, "cards/a.png", 15*time.Minute)
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	if !strings.Contains(u, "cards/a.png") {
		t.Errorf("url %q does not reference the key", u)
	}
	if !strings.Contains(u, "X-Amz-Expires=900") {
		t.Errorf("url %q does not carry the ttl", u)
	}
}

func TestNewFactory(t *testing.T) {
	s, err := New(context.Background(), Config{Backend: "memory", Bucket: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("got %T, want *MemoryStore", s)
	}
	if _, err := New(context.Background(), Config{Backend: "ftp"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
