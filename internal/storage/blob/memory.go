/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package blob

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store used in unit tests and the Runtime step
// API's local-driver mode; it is never used against real tenant data.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStore) GetRange(ctx context.Context, key string, start, end int64) ([]byte, error) {
	full, err := m.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if start < 0 {
		start = 0
	}
	if end > int64(len(full)) {
		end = int64(len(full))
	}
	if start >= end {
		return []byte{}, nil
	}
	return full[start:end], nil
}

func (m *MemoryStore) Put(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(body))
	copy(cp, body)
	m.data[key] = cp
	return nil
}
