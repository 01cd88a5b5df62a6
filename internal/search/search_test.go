/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package search

import (
	"context"
	"testing"

	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
)

func TestFakeSearchBackendZeroK(t *testing.T) {
	b := NewFakeSearchBackend()
	hits, err := b.Search(context.Background(), "tenant-a", "session-a", models.SearchToolRequest{Query: "q", K: 0}, []int{0, 1}, []int{100, 200})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits for k=0, got %d", len(hits))
	}
}

func TestFakeSearchBackendDeterministic(t *testing.T) {
	b := NewFakeSearchBackend()
	req := models.SearchToolRequest{Query: "find the answer", K: 3}
	hits1, err := b.Search(context.Background(), "tenant-a", "session-a", req, []int{0, 1, 2}, []int{500, 800, 120})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hits2, err := b.Search(context.Background(), "tenant-a", "session-a", req, []int{0, 1, 2}, []int{500, 800, 120})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits1) != 3 || len(hits2) != 3 {
		t.Fatalf("expected 3 hits each, got %d and %d", len(hits1), len(hits2))
	}
	for i := range hits1 {
		if hits1[i] != hits2[i] {
			t.Errorf("expected identical hits for identical input, got %+v vs %+v", hits1[i], hits2[i])
		}
	}
	for _, h := range hits1 {
		if h.StartChar < 0 || h.EndChar < h.StartChar {
			t.Errorf("invalid char range: %+v", h)
		}
	}
}

func TestFakeSearchBackendNoDocs(t *testing.T) {
	b := NewFakeSearchBackend()
	hits, err := b.Search(context.Background(), "tenant-a", "session-a", models.SearchToolRequest{Query: "q", K: 5}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits with no documents, got %d", len(hits))
	}
}

func TestCachedBackendPopulatesOnMiss(t *testing.T) {
	store := blob.NewMemoryStore()
	inner := NewFakeSearchBackend()
	cached := NewCachedBackend(inner, "fake", store)

	req := models.SearchToolRequest{Query: "lookup", K: 2}
	hits1, err := cached.Search(context.Background(), "tenant-a", "session-a", req, []int{0}, []int{400})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hits2, err := cached.Search(context.Background(), "tenant-a", "session-a", req, []int{0}, []int{400})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits1) != len(hits2) {
		t.Fatalf("expected same hit count from cache, got %d vs %d", len(hits1), len(hits2))
	}
	for i := range hits1 {
		if hits1[i] != hits2[i] {
			t.Errorf("expected cached hits to match, got %+v vs %+v", hits1[i], hits2[i])
		}
	}
}
