/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package trace aggregates one execution's turn-by-turn artifacts into a
// single gzipped JSON blob for offline inspection and fine-tuning export
// (spec.md §12, elaborated from original_source's code_log.py and
// storage/contexts.py: a turn-indexed log the orchestrator is not blocked
// on, written best-effort alongside the authoritative execution state).
package trace

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
)

// DefaultPrefix is the blob-store key prefix for trace artifacts.
const DefaultPrefix = "traces"

// Entry is one turn's complete record: the program source the root model
// produced, what it printed, the spans it read, the tools it queued and
// what those tools resolved to, and any classified step error.
type Entry struct {
	TurnIndex    int                         `json:"turn_index"`
	Code         string                      `json:"code"`
	Stdout       string                      `json:"stdout"`
	SpanLog      []models.SpanLogEntry       `json:"span_log,omitempty"`
	ToolRequests models.ToolRequestsEnvelope `json:"tool_requests"`
	ToolResults  models.ToolResultsEnvelope  `json:"tool_results"`
	ToolStatuses map[string]string           `json:"tool_statuses,omitempty"`
	Error        *models.StepError           `json:"error,omitempty"`
	Final        *models.StepFinal           `json:"final,omitempty"`
	CreatedAt    time.Time                   `json:"created_at"`
}

// Collector accumulates one execution's Entries across its turn loop. It is
// safe for concurrent use, though in practice only the orchestrator's own
// goroutine records against it.
type Collector struct {
	mu      sync.Mutex
	entries []Entry
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Record appends entry to the collector.
func (c *Collector) Record(entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

// Entries returns a snapshot of everything recorded so far, in turn order.
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// AttachToolResults fills in the resolved tool results/statuses for the
// entry previously recorded at turnIndex, once tool resolution (which
// happens after the step itself) has completed. A turnIndex with no
// matching entry (should not happen in practice) is a no-op.
func (c *Collector) AttachToolResults(turnIndex int, results models.ToolResultsEnvelope, statuses map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if c.entries[i].TurnIndex == turnIndex {
			c.entries[i].ToolResults = results
			c.entries[i].ToolStatuses = statuses
			return
		}
	}
}

// Key is the fixed blob-store location for one execution's trace artifact.
func Key(tenantID, executionID string) string {
	return fmt.Sprintf("%s/%s/%s/trace.json.gz", DefaultPrefix, tenantID, executionID)
}

// Persist writes entries to their fixed key, overwriting any prior write for
// the same execution. The whole trace is rewritten each call, the same
// whole-object approach original_source's contexts.py uses for its own
// inline-or-offloaded payload rather than an append-only log; unlike that
// payload, a trace is always gzipped to a fixed S3-style key rather than
// inlined, since its purpose is archival export, not the hot execution path.
func Persist(ctx context.Context, store blob.Store, tenantID, executionID string, entries []Entry) error {
	return blob.PutGzipJSON(ctx, store, Key(tenantID, executionID), entries)
}

// Load reads back a previously persisted trace, for export tooling.
func Load(ctx context.Context, store blob.Store, tenantID, executionID string) ([]Entry, error) {
	var entries []Entry
	if err := blob.GetGzipJSON(ctx, store, Key(tenantID, executionID), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
