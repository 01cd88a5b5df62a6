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
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisFrontedStore consults a Redis instance before falling through to an
// inner Store, and populates Redis on read-through. It is only ever placed in
// front of the content-addressed LLM/search caches, where the same key is
// expected to be requested repeatedly within a short window; it is never used
// for state or document blobs, whose keys are turn- or ingest-unique.
type RedisFrontedStore struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
}

// NewRedisFrontedStore wraps inner with a Redis read-through cache.
func NewRedisFrontedStore(inner Store, client *redis.Client, ttl time.Duration) *RedisFrontedStore {
	return &RedisFrontedStore{inner: inner, client: client, ttl: ttl}
}

func (r *RedisFrontedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if v, err := r.client.Get(ctx, key).Bytes(); err == nil {
		return v, nil
	}
	v, err := r.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	_ = r.client.Set(ctx, key, v, r.ttl).Err()
	return v, nil
}

func (r *RedisFrontedStore) GetRange(ctx context.Context, key string, start, end int64) ([]byte, error) {
	return r.inner.GetRange(ctx, key, start, end)
}

func (r *RedisFrontedStore) Put(ctx context.Context, key string, body []byte) error {
	if err := r.inner.Put(ctx, key, body); err != nil {
		return err
	}
	_ = r.client.Set(ctx, key, body, r.ttl).Err()
	return nil
}
