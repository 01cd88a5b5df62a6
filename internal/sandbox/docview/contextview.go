/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package docview

import (
	"sync"

	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
)

// ContextView is the ordered set of DocViews a single step sees, and the
// shared span log every read across those DocViews is appended to.
type ContextView struct {
	docs []*DocView

	mu      sync.Mutex
	spanLog []models.SpanLogEntry
}

// New builds a ContextView over a manifest, lazily loading each document's
// offsets/meta blobs on first access.
func New(manifest models.ContextManifest, store blob.Store) *ContextView {
	cv := &ContextView{}
	for _, doc := range manifest.Docs {
		cv.docs = append(cv.docs, newDocView(doc, store, cv.appendSpan))
	}
	return cv
}

func (cv *ContextView) appendSpan(entry models.SpanLogEntry) {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	cv.spanLog = append(cv.spanLog, entry)
}

// Len returns the number of documents in the context.
func (cv *ContextView) Len() int { return len(cv.docs) }

// Doc returns the DocView at index, or nil if out of range.
func (cv *ContextView) Doc(index int) *DocView {
	if index < 0 || index >= len(cv.docs) {
		return nil
	}
	return cv.docs[index]
}

// SpanLog returns a snapshot of every span logged so far across all DocViews.
func (cv *ContextView) SpanLog() []models.SpanLogEntry {
	cv.mu.Lock()
	defer cv.mu.Unlock()
	out := make([]models.SpanLogEntry, len(cv.spanLog))
	copy(out, cv.spanLog)
	return out
}
