/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package search implements the SearchBackend abstraction (spec.md §4.7's
// search counterpart): resolving a queued SearchToolRequest into a list of
// character-range hits over a session's documents, fronted by a
// content-addressed cache.
package search

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/rlmerrors"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
)

// Backend is the interface every search implementation satisfies.
// Implementations must be safe for concurrent use.
type Backend interface {
	Search(ctx context.Context, tenantID, sessionID string, request models.SearchToolRequest, docIndexes []int, docLengths []int) ([]models.SearchHit, error)
}

// DefaultCachePrefix is the blob-store key prefix for search cache entries.
const DefaultCachePrefix = "cache"

type cacheRecord struct {
	Backend  string              `json:"backend"`
	Request  cacheRequestRecord  `json:"request"`
	Response cacheResponseRecord `json:"response"`
}

type cacheRequestRecord struct {
	Query      string         `json:"query"`
	K          int            `json:"k"`
	Filters    map[string]any `json:"filters,omitempty"`
	DocIndexes []int          `json:"doc_indexes"`
	DocLengths []int          `json:"doc_lengths,omitempty"`
}

type cacheResponseRecord struct {
	Hits []models.SearchHit `json:"hits"`
}

// CachedBackend wraps a Backend with a content-addressed cache over Search,
// keyed by sha256(json{session_id, query, k, filters, doc_indexes,
// doc_lengths}). Any cache-read failure (missing key or a genuine backend
// error) is treated uniformly as a miss: the inner backend remains the
// source of truth.
type CachedBackend struct {
	inner       Backend
	backendName string
	store       blob.Store
	prefix      string
}

// NewCachedBackend wraps inner with a cache backed by store. backendName is
// recorded in cache entries for operator inspection.
func NewCachedBackend(inner Backend, backendName string, store blob.Store) *CachedBackend {
	return &CachedBackend{inner: inner, backendName: backendName, store: store, prefix: DefaultCachePrefix}
}

func (c *CachedBackend) Search(ctx context.Context, tenantID, sessionID string, request models.SearchToolRequest, docIndexes []int, docLengths []int) ([]models.SearchHit, error) {
	key, err := c.cacheKey(tenantID, sessionID, request, docIndexes, docLengths)
	if err != nil {
		return nil, err
	}
	if hits, ok := c.get(ctx, key); ok {
		return hits, nil
	}
	hits, err := c.inner.Search(ctx, tenantID, sessionID, request, docIndexes, docLengths)
	if err != nil {
		return nil, err
	}
	c.put(ctx, key, request, docIndexes, docLengths, hits)
	return hits, nil
}

func (c *CachedBackend) cacheKey(tenantID, sessionID string, request models.SearchToolRequest, docIndexes, docLengths []int) (string, error) {
	payload := map[string]any{
		"session_id":  sessionID,
		"query":       request.Query,
		"k":           request.K,
		"filters":     request.Filters,
		"doc_indexes": docIndexes,
	}
	if docLengths != nil {
		payload["doc_lengths"] = docLengths
	}
	digest, err := blob.DeterministicJSONBytes(payload)
	if err != nil {
		return "", rlmerrors.Newf(rlmerrors.InternalError, "build search cache key: %v", err)
	}
	sum := sha256.Sum256(digest)
	return fmt.Sprintf("%s/%s/search/%s.json", c.prefix, tenantID, hex.EncodeToString(sum[:])), nil
}

func (c *CachedBackend) get(ctx context.Context, key string) ([]models.SearchHit, bool) {
	var record cacheRecord
	if err := blob.GetJSON(ctx, c.store, key, &record); err != nil {
		return nil, false
	}
	return record.Response.Hits, true
}

func (c *CachedBackend) put(ctx context.Context, key string, request models.SearchToolRequest, docIndexes, docLengths []int, hits []models.SearchHit) {
	record := cacheRecord{
		Backend: c.backendName,
		Request: cacheRequestRecord{
			Query:      request.Query,
			K:          request.K,
			Filters:    request.Filters,
			DocIndexes: docIndexes,
			DocLengths: docLengths,
		},
		Response: cacheResponseRecord{Hits: hits},
	}
	_ = blob.PutJSON(ctx, c.store, key, record)
}

func stableSeed(query string) uint32 {
	sum := sha256.Sum256([]byte(query))
	return binary.BigEndian.Uint32(sum[:4])
}

func spanLength(query string) int {
	n := len(query)
	if n < 1 {
		return 1
	}
	if n > 200 {
		return 200
	}
	return n
}
