/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package provider defines the CompletionProvider abstraction (spec.md
// §4.7): root and sub completions against an upstream LLM, retried on
// transient errors, with a content-addressed cache in front of sub-calls.
package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/kestrelrun/rlmrs/internal/rlmerrors"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
)

// Provider is the interface every LLM backend implements. Implementations
// must be safe for concurrent use.
type Provider interface {
	// CompleteRoot issues an uncached root-model completion.
	CompleteRoot(ctx context.Context, prompt string, model string, tenantID string) (string, error)

	// CompleteSubcall issues a sub-model completion. Callers that want the
	// content-addressed cache should wrap the Provider in CachedProvider
	// rather than calling this directly.
	CompleteSubcall(ctx context.Context, prompt string, model string, maxTokens int, temperature *float64, tenantID string) (string, error)

	// Name returns the provider identifier ("anthropic", "openai", "bedrock", "fake").
	Name() string
}

// DefaultCachePrefix is the blob-store key prefix under which sub-completion
// cache entries are written.
const DefaultCachePrefix = "cache"

// cacheRecord is the JSON payload written for every cache entry, matching
// the shape a future operator might want to inspect directly in the bucket.
type cacheRecord struct {
	Provider string        `json:"provider"`
	Model    string        `json:"model"`
	Request  cacheRequest  `json:"request"`
	Response cacheResponse `json:"response"`
}

type cacheRequest struct {
	PromptSHA256 string   `json:"prompt_sha256"`
	MaxTokens    int      `json:"max_tokens"`
	Temperature  *float64 `json:"temperature"`
}

type cacheResponse struct {
	Text string `json:"text"`
}

// CachedProvider wraps a Provider with a content-addressed cache over
// CompleteSubcall, keyed by sha256(json{provider, model, max_tokens,
// temperature, sha256(prompt)}). Cache misses are populated after a
// successful upstream call (write-after-success, never write-before-read).
// A 404-shaped GET is treated as a miss; any other GET error also falls
// through to a miss rather than failing the request, since the upstream
// call remains the source of truth.
type CachedProvider struct {
	inner  Provider
	store  blob.Store
	prefix string
}

// NewCachedProvider wraps inner with a cache backed by store.
func NewCachedProvider(inner Provider, store blob.Store) *CachedProvider {
	return &CachedProvider{inner: inner, store: store, prefix: DefaultCachePrefix}
}

func (c *CachedProvider) Name() string { return c.inner.Name() }

func (c *CachedProvider) CompleteRoot(ctx context.Context, prompt string, model string, tenantID string) (string, error) {
	return c.inner.CompleteRoot(ctx, prompt, model, tenantID)
}

func (c *CachedProvider) CompleteSubcall(ctx context.Context, prompt string, model string, maxTokens int, temperature *float64, tenantID string) (string, error) {
	key, err := c.cacheKey(tenantID, model, maxTokens, temperature, prompt)
	if err != nil {
		return "", err
	}
	if tenantID != "" {
		if text, ok := c.get(ctx, key); ok {
			return text, nil
		}
	}
	text, err := c.inner.CompleteSubcall(ctx, prompt, model, maxTokens, temperature, tenantID)
	if err != nil {
		return "", err
	}
	if tenantID != "" {
		c.put(ctx, key, model, maxTokens, temperature, prompt, text)
	}
	return text, nil
}

func (c *CachedProvider) cacheKey(tenantID, model string, maxTokens int, temperature *float64, prompt string) (string, error) {
	payload := map[string]any{
		"provider":      c.inner.Name(),
		"model":         model,
		"temperature":   temperature,
		"max_tokens":    maxTokens,
		"prompt_sha256": promptSHA256(prompt),
	}
	digest, err := blob.DeterministicJSONBytes(payload)
	if err != nil {
		return "", rlmerrors.Newf(rlmerrors.InternalError, "build cache key: %v", err)
	}
	sum := sha256.Sum256(digest)
	return fmt.Sprintf("%s/%s/llm/%s.json", c.prefix, tenantID, hex.EncodeToString(sum[:])), nil
}

func (c *CachedProvider) get(ctx context.Context, key string) (string, bool) {
	var record cacheRecord
	if err := blob.GetJSON(ctx, c.store, key, &record); err != nil {
		return "", false
	}
	if record.Response.Text == "" {
		return "", false
	}
	return record.Response.Text, true
}

func (c *CachedProvider) put(ctx context.Context, key, model string, maxTokens int, temperature *float64, prompt, text string) {
	record := cacheRecord{
		Provider: c.inner.Name(),
		Model:    model,
		Request: cacheRequest{
			PromptSHA256: promptSHA256(prompt),
			MaxTokens:    maxTokens,
			Temperature:  temperature,
		},
		Response: cacheResponse{Text: text},
	}
	_ = blob.PutJSON(ctx, c.store, key, record)
}

func promptSHA256(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
