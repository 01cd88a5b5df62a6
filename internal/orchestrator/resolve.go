/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package orchestrator

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kestrelrun/rlmrs/internal/metrics"
	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/provider"
	"github.com/kestrelrun/rlmrs/internal/rlmerrors"
	"github.com/kestrelrun/rlmrs/internal/search"
)

const (
	statusResolved = "resolved"
	statusError    = "error"
)

// searchDisabledMeta matches original_source/search/backends.py's
// search_disabled_error_meta shape.
func searchDisabledMeta() map[string]any {
	return map[string]any{
		"error": map[string]any{
			"code":    string(rlmerrors.ValidationError),
			"message": "Search is disabled",
			"details": map[string]any{"reason": "search_disabled"},
		},
	}
}

func searchBackendErrorMeta(err error) map[string]any {
	return map[string]any{
		"error": map[string]any{
			"code":    string(rlmerrors.InternalError),
			"message": "Search backend error",
			"details": map[string]any{"error": err.Error()},
		},
	}
}

// resolveToolRequests resolves every queued LLM and search request against a
// bounded-concurrency worker pool (spec.md §4.11, default concurrency 4).
// A request that exceeds tracker's remaining subcall/prompt budget aborts the
// whole round with errBudgetExceeded — the Python original raises
// BudgetExceededError synchronously per-request in queue order; since an
// abort here discards the whole in-flight round's results anyway, the budget
// check runs sequentially before anything is dispatched concurrently.
func resolveToolRequests(
	ctx context.Context,
	requests models.ToolRequestsEnvelope,
	tenantID, sessionID string,
	llm provider.Provider,
	tracker *BudgetTracker,
	subModel *string,
	enableSearch bool,
	searchBackend search.Backend,
	docIndexes, docLengths []int,
	maxConcurrency int,
) (models.ToolResultsEnvelope, map[string]string, error) {
	for _, req := range requests.LLM {
		if !tracker.CanAcceptPrompt(len(req.Prompt)) || !tracker.CanAcceptSubcalls(1) {
			return models.ToolResultsEnvelope{}, nil, errBudgetExceeded{}
		}
		tracker.RecordPrompt(len(req.Prompt))
		tracker.RecordSubcalls(1)
	}

	results := models.NewToolResultsEnvelope()
	statuses := make(map[string]string, len(requests.LLM)+len(requests.Search))
	var mu sync.Mutex

	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrency)

	modelHint := ""
	if subModel != nil {
		modelHint = *subModel
	}

	for _, req := range requests.LLM {
		req := req
		group.Go(func() error {
			text, err := llm.CompleteSubcall(gctx, req.Prompt, modelHint, req.MaxTokens, nonZeroTemperature(req.Temperature), tenantID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results.LLM[req.Key] = models.LLMToolResult{Text: "", Meta: map[string]any{"error": err.Error()}}
				statuses[req.Key] = statusError
				metrics.RecordToolRequest("llm", statusError)
				return nil
			}
			results.LLM[req.Key] = models.LLMToolResult{Text: text, Meta: map[string]any{"model": modelHint}}
			statuses[req.Key] = statusResolved
			metrics.RecordToolRequest("llm", statusResolved)
			return nil
		})
	}

	for _, req := range requests.Search {
		req := req
		group.Go(func() error {
			mu.Lock()
			if !enableSearch {
				results.Search[req.Key] = models.SearchToolResult{Hits: nil, Meta: searchDisabledMeta()}
				statuses[req.Key] = statusError
				mu.Unlock()
				metrics.RecordToolRequest("search", statusError)
				return nil
			}
			mu.Unlock()

			hits, err := searchBackend.Search(gctx, tenantID, sessionID, req, docIndexes, docLengths)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results.Search[req.Key] = models.SearchToolResult{Hits: nil, Meta: searchBackendErrorMeta(err)}
				statuses[req.Key] = statusError
				metrics.RecordToolRequest("search", statusError)
				return nil
			}
			results.Search[req.Key] = models.SearchToolResult{Hits: hits, Meta: map[string]any{"query": req.Query}}
			statuses[req.Key] = statusResolved
			metrics.RecordToolRequest("search", statusResolved)
			return nil
		})
	}

	_ = group.Wait()
	return results, statuses, nil
}

func nonZeroTemperature(t float64) *float64 {
	if t == 0 {
		return nil
	}
	return &t
}
