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
	"errors"
	"fmt"
	"testing"

	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/search"
)

type stubProvider struct {
	name    string
	fail    bool
	replyFn func(prompt string) string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) CompleteRoot(_ context.Context, prompt, _ string, _ string) (string, error) {
	if p.fail {
		return "", errors.New("stub provider root failure")
	}
	if p.replyFn != nil {
		return p.replyFn(prompt), nil
	}
	return "", nil
}

func (p *stubProvider) CompleteSubcall(_ context.Context, prompt, _ string, _ int, _ *float64, _ string) (string, error) {
	if p.fail {
		return "", errors.New("stub provider subcall failure")
	}
	return "sub:" + prompt, nil
}

type erroringSearchBackend struct{ err error }

func (b erroringSearchBackend) Search(context.Context, string, string, models.SearchToolRequest, []int, []int) ([]models.SearchHit, error) {
	return nil, b.err
}

func TestResolveToolRequestsLLMAndSearch(t *testing.T) {
	requests := models.ToolRequestsEnvelope{
		LLM:    []models.LLMToolRequest{{Key: "a", Prompt: "hello", MaxTokens: 100}},
		Search: []models.SearchToolRequest{{Key: "b", Query: "find it", K: 2}},
	}
	tracker := NewBudgetTracker(nil)
	results, statuses, err := resolveToolRequests(
		context.Background(), requests, "tenant-a", "session-a",
		&stubProvider{name: "stub"}, tracker, nil, true, search.NewFakeSearchBackend(),
		[]int{0, 1}, []int{100, 200}, 2,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if statuses["a"] != statusResolved {
		t.Errorf("expected llm key a resolved, got %q", statuses["a"])
	}
	if statuses["b"] != statusResolved {
		t.Errorf("expected search key b resolved, got %q", statuses["b"])
	}
	if _, ok := results.LLM["a"]; !ok {
		t.Errorf("expected an llm result for key a")
	}
	if _, ok := results.Search["b"]; !ok {
		t.Errorf("expected a search result for key b")
	}
}

func TestResolveToolRequestsSearchDisabled(t *testing.T) {
	requests := models.ToolRequestsEnvelope{
		Search: []models.SearchToolRequest{{Key: "b", Query: "q", K: 1}},
	}
	tracker := NewBudgetTracker(nil)
	results, statuses, err := resolveToolRequests(
		context.Background(), requests, "tenant-a", "session-a",
		&stubProvider{name: "stub"}, tracker, nil, false, search.NewFakeSearchBackend(),
		nil, nil, 2,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if statuses["b"] != statusError {
		t.Fatalf("expected search-disabled status to be %q, got %q", statusError, statuses["b"])
	}
	meta := results.Search["b"].Meta
	errBlock, ok := meta["error"].(map[string]any)
	if !ok {
		t.Fatalf("expected meta.error to be an object, got %#v", meta)
	}
	if errBlock["message"] != "Search is disabled" {
		t.Errorf("expected the disabled-search message, got %v", errBlock["message"])
	}
}

func TestResolveToolRequestsSearchBackendErrorSwallowed(t *testing.T) {
	requests := models.ToolRequestsEnvelope{
		Search: []models.SearchToolRequest{{Key: "b", Query: "q", K: 1}},
	}
	tracker := NewBudgetTracker(nil)
	backendErr := fmt.Errorf("index unavailable")
	results, statuses, err := resolveToolRequests(
		context.Background(), requests, "tenant-a", "session-a",
		&stubProvider{name: "stub"}, tracker, nil, true, erroringSearchBackend{err: backendErr},
		nil, nil, 2,
	)
	if err != nil {
		t.Fatalf("expected the backend error to be swallowed into a result, not returned: %v", err)
	}
	if statuses["b"] != statusError {
		t.Fatalf("expected error status, got %q", statuses["b"])
	}
	meta := results.Search["b"].Meta["error"].(map[string]any)
	details := meta["details"].(map[string]any)
	if details["error"] != backendErr.Error() {
		t.Errorf("expected the backend error text to surface in meta.details.error, got %v", details["error"])
	}
}

func TestResolveToolRequestsLLMFailureSwallowed(t *testing.T) {
	requests := models.ToolRequestsEnvelope{
		LLM: []models.LLMToolRequest{{Key: "a", Prompt: "hello", MaxTokens: 100}},
	}
	tracker := NewBudgetTracker(nil)
	results, statuses, err := resolveToolRequests(
		context.Background(), requests, "tenant-a", "session-a",
		&stubProvider{name: "stub", fail: true}, tracker, nil, true, search.NewFakeSearchBackend(),
		nil, nil, 2,
	)
	if err != nil {
		t.Fatalf("expected the provider error to be swallowed into a result, not returned: %v", err)
	}
	if statuses["a"] != statusError {
		t.Fatalf("expected error status, got %q", statuses["a"])
	}
	if _, ok := results.LLM["a"].Meta["error"]; !ok {
		t.Errorf("expected the swallowed error text in the result meta")
	}
}

func TestResolveToolRequestsBudgetExceededAbortsWholeRound(t *testing.T) {
	requests := models.ToolRequestsEnvelope{
		LLM: []models.LLMToolRequest{{Key: "a", Prompt: "hello", MaxTokens: 100}},
	}
	tracker := NewBudgetTracker(&models.Budgets{MaxLLMSubcalls: intPtr(0)})
	_, _, err := resolveToolRequests(
		context.Background(), requests, "tenant-a", "session-a",
		&stubProvider{name: "stub"}, tracker, nil, true, search.NewFakeSearchBackend(),
		nil, nil, 2,
	)
	var budgetErr errBudgetExceeded
	if !errors.As(err, &budgetErr) {
		t.Fatalf("expected errBudgetExceeded, got %v", err)
	}
}
