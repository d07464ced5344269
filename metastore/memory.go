// File: metastore/memory.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package metastore

import (
	"context"
	"sync"

	"github.com/momentics/hioload-evloop/api"
	"github.com/momentics/hioload-evloop/core/concurrency"
)

type entry struct {
	value   []byte
	version uint64
}

// MemoryStore is an in-process VersionedConfigStore.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]entry
	closed bool
	async  *async
}

var _ api.VersionedConfigStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		data:  make(map[string]entry),
		async: newAsync("metastore-memory", opts),
	}
}

func (m *MemoryStore) GetConfigSync(ctx context.Context, key string) ([]byte, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, 0, ErrStoreClosed
	}
	e, ok := m.data[key]
	if !ok {
		return nil, 0, ErrKeyNotFound
	}
	return append([]byte(nil), e.value...), e.version, nil
}

func (m *MemoryStore) UpdateConfigSync(ctx context.Context, key string, value []byte, base *uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrStoreClosed
	}
	e, ok := m.data[key]
	if err := checkBase(base, e.version, ok); err != nil {
		return 0, err
	}
	e = entry{value: append([]byte(nil), value...), version: e.version + 1}
	m.data[key] = e
	return e.version, nil
}

func (m *MemoryStore) UpdateConfig(key string, value []byte, base *uint64, cb api.UpdateCallback) {
	value = append([]byte(nil), value...)
	var b *uint64
	if base != nil {
		v := *base
		b = &v
	}
	m.async.update(func(ctx context.Context) (uint64, error) {
		return m.UpdateConfigSync(ctx, key, value, b)
	}, cb)
}

func (m *MemoryStore) DeleteConfigSync(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	delete(m.data, key)
	return nil
}

// Keys returns the number of stored keys.
func (m *MemoryStore) Keys() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Pool returns the store's own worker pool, or nil.
func (m *MemoryStore) Pool() *concurrency.Executor { return m.async.pool() }

// Close waits for pending asynchronous updates, then rejects further calls.
func (m *MemoryStore) Close() error {
	m.async.close()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
