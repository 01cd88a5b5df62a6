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
	"github.com/kestrelrun/rlmrs/internal/sandbox/docview"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
)

// newTestContextView stores a single ASCII document's text and offsets
// blob directly, bypassing the ingestion pipeline this package doesn't own.
func newTestContextView(t *testing.T, store blob.Store, docID string, docIndex int, text string) *docview.ContextView {
	t.Helper()
	textURI := "text/" + docID
	offsetsURI := "offsets/" + docID

	if err := store.Put(context.Background(), textURI, []byte(text)); err != nil {
		t.Fatalf("put text: %v", err)
	}
	offsets := models.Offsets{
		DocID:       docID,
		CharLength:  len(text),
		ByteLength:  len(text),
		Encoding:    "utf-8",
		Checkpoints: []models.Checkpoint{{Char: 0, Byte: 0}, {Char: len(text), Byte: len(text)}},
	}
	if err := blob.PutJSON(context.Background(), store, offsetsURI, offsets); err != nil {
		t.Fatalf("put offsets: %v", err)
	}

	manifest := models.ContextManifest{Docs: []models.ContextDocument{
		{DocID: docID, DocIndex: docIndex, TextURI: textURI, OffsetsURI: offsetsURI},
	}}
	return docview.New(manifest, store)
}

func TestTrigramBackendRanksMatchingChunkFirst(t *testing.T) {
	store := blob.NewMemoryStore()
	cv := newTestContextView(t, store, "doc-0", 0, "the quick brown fox jumps over the lazy dog. completely unrelated filler text goes here instead.")

	backend := NewTrigramBackend(store, DefaultIndexConfig(), func(_ context.Context, _, _ string) (*docview.ContextView, error) {
		return cv, nil
	})

	hits, err := backend.Search(context.Background(), "tenant-a", "session-a", models.SearchToolRequest{Query: "quick brown fox", K: 1}, []int{0}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Score <= 0 {
		t.Errorf("expected a positive score, got %v", hits[0].Score)
	}
}

func TestTrigramBackendEmptyQuery(t *testing.T) {
	store := blob.NewMemoryStore()
	cv := newTestContextView(t, store, "doc-0", 0, "some text")
	backend := NewTrigramBackend(store, DefaultIndexConfig(), func(_ context.Context, _, _ string) (*docview.ContextView, error) {
		return cv, nil
	})

	hits, err := backend.Search(context.Background(), "tenant-a", "session-a", models.SearchToolRequest{Query: "", K: 5}, []int{0}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits for an empty query, got %d", len(hits))
	}
}

func TestLoadIndexConfigRejectsOverlapTooLarge(t *testing.T) {
	_, err := LoadIndexConfig(map[string]any{"chunk_size_chars": 100, "chunk_overlap_chars": 100})
	if err == nil {
		t.Error("expected an error when overlap equals chunk size")
	}
}
