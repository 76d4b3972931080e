// SPDX-License-Identifier: MIT

package objstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

// MemoryStore is a single-bucket in-memory Store. CopyFrom ignores the
// source bucket name and resolves the source key locally, which is enough
// for tests that stage provider output themselves.
type MemoryStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memObject
	now     func() time.Time
}

func NewMemoryStore(bucket string) *MemoryStore {
	if bucket == "" {
		bucket = "cardforge-test"
	}
	return &MemoryStore{
		bucket:  bucket,
		objects: make(map[string]memObject),
		now:     time.Now,
	}
}

func (m *MemoryStore) Bucket() string { return m.bucket }

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	if key == "" {
		return fmt.Errorf("object key must not be empty")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	meta := make(map[string]string, len(metadata))
	for k, v := range metadata {
		meta[strings.ToLower(k)] = v
	}
	m.mu.Lock()
	m.objects[key] = memObject{
		data:        buf,
		contentType: contentType,
		metadata:    meta,
		modified:    m.now().UTC(),
	}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

func (m *MemoryStore) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified}, nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ObjectInfo
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, Size: int64(len(obj.data)), LastModified: obj.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *MemoryStore) CopyFrom(ctx context.Context, srcBucket, srcKey, dstKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.objects[srcKey]
	if !ok {
		return ErrNotFound
	}
	buf := make([]byte, len(src.data))
	copy(buf, src.data)
	m.objects[dstKey] = memObject{
		data:        buf,
		contentType: src.contentType,
		metadata:    src.metadata,
		modified:    m.now().UTC(),
	}
	return nil
}

// PresignGet returns a deterministic fake URL so handlers can be tested
// without a real bucket.
func (m *MemoryStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	return fmt.Sprintf("https://objstore.invalid/%s/%s?X-Amz-Expires=%d",
		m.bucket, key, int(ttl.Seconds())), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
