/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package orchestrator

import (
	"testing"

	"github.com/kestrelrun/rlmrs/internal/config"
	"github.com/kestrelrun/rlmrs/internal/models"
)

func TestSortedDocumentsOrdersByDocIndex(t *testing.T) {
	docs := []models.Document{{DocID: "c", DocIndex: 2}, {DocID: "a", DocIndex: 0}, {DocID: "b", DocIndex: 1}}
	sorted := sortedDocuments(docs)
	if sorted[0].DocID != "a" || sorted[1].DocID != "b" || sorted[2].DocID != "c" {
		t.Fatalf("expected documents ordered a,b,c by DocIndex, got %v,%v,%v", sorted[0].DocID, sorted[1].DocID, sorted[2].DocID)
	}
	if docs[0].DocID != "c" {
		t.Errorf("sortedDocuments must not mutate its input")
	}
}

func TestBuildContextManifestRejectsMissingBlobURIs(t *testing.T) {
	docs := []models.Document{{DocID: "a", DocIndex: 0}}
	if _, err := buildContextManifest(docs); err == nil {
		t.Fatalf("expected an error for a document missing text/offsets URIs")
	}
}

func TestBuildContextManifestOrdersDocs(t *testing.T) {
	docs := []models.Document{
		{DocID: "b", DocIndex: 1, TextURI: "text/b", OffsetsURI: "off/b"},
		{DocID: "a", DocIndex: 0, TextURI: "text/a", OffsetsURI: "off/a"},
	}
	manifest, err := buildContextManifest(docs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(manifest.Docs) != 2 || manifest.Docs[0].DocID != "a" || manifest.Docs[1].DocID != "b" {
		t.Fatalf("expected manifest ordered by DocIndex, got %+v", manifest.Docs)
	}
}

func TestResolveModelsWaterfall(t *testing.T) {
	settings := config.Settings{DefaultRootModel: "settings-root"}
	session := &models.Session{}
	exec := &models.Execution{}

	if got := resolveModels(exec, session, settings); got.RootModel != "settings-root" {
		t.Fatalf("expected settings default to win when nothing else is set, got %+v", got)
	}

	session.ModelsDefault = &models.ModelsConfig{RootModel: "session-root"}
	if got := resolveModels(exec, session, settings); got.RootModel != "session-root" {
		t.Fatalf("expected session default to beat settings default, got %+v", got)
	}

	exec.Models = &models.ModelsConfig{RootModel: "exec-root"}
	if got := resolveModels(exec, session, settings); got.RootModel != "exec-root" {
		t.Fatalf("expected execution override to beat session default, got %+v", got)
	}
}

func TestResolveModelsNoneConfiguredReturnsNil(t *testing.T) {
	got := resolveModels(&models.Execution{}, &models.Session{}, config.Settings{})
	if got != nil {
		t.Fatalf("expected nil when no model is configured anywhere, got %+v", got)
	}
}

func TestResolveBudgetsWaterfall(t *testing.T) {
	session := &models.Session{BudgetsDefault: &models.Budgets{MaxTurns: intPtr(5)}}
	exec := &models.Execution{}

	if got := resolveBudgets(exec, session); got.MaxTurns == nil || *got.MaxTurns != 5 {
		t.Fatalf("expected the session default budgets, got %+v", got)
	}

	exec.BudgetsRequested = &models.Budgets{MaxTurns: intPtr(10)}
	if got := resolveBudgets(exec, session); got.MaxTurns == nil || *got.MaxTurns != 10 {
		t.Fatalf("expected the execution override to beat the session default, got %+v", got)
	}
}

func TestFormatStepErrorNilIsNil(t *testing.T) {
	if got := formatStepError(nil); got != nil {
		t.Fatalf("expected nil for a nil step error, got %v", *got)
	}
}

func TestFormatStepErrorRendersCodeAndMessage(t *testing.T) {
	got := formatStepError(&models.StepError{Code: "BUDGET_EXCEEDED", Message: "too many turns"})
	if got == nil || *got != "BUDGET_EXCEEDED: too many turns" {
		t.Fatalf("expected formatted code/message string, got %v", got)
	}
}

func TestApplyToolResultsMergesIntoReservedKeys(t *testing.T) {
	state := map[string]any{}
	if err := ensureToolStateInPlace(state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	results := models.ToolResultsEnvelope{
		LLM: map[string]models.LLMToolResult{"a": {Text: "hi", Meta: map[string]any{"model": "sub"}}},
		Search: map[string]models.SearchToolResult{
			"b": {Hits: []models.SearchHit{{DocIndex: 0, StartChar: 1, EndChar: 2}}},
		},
	}
	statuses := map[string]string{"a": statusResolved, "b": statusResolved}
	if err := applyToolResults(state, results, statuses); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	toolResults := state["_tool_results"].(map[string]any)
	llmBucket := toolResults["llm"].(map[string]any)
	entry := llmBucket["a"].(map[string]any)
	if entry["text"] != "hi" {
		t.Errorf("expected llm result text to round-trip, got %+v", entry)
	}
	searchBucket := toolResults["search"].(map[string]any)
	if _, ok := searchBucket["b"]; !ok {
		t.Errorf("expected a search result under key b")
	}
	toolStatus := state["_tool_status"].(map[string]any)
	if toolStatus["a"] != statusResolved || toolStatus["b"] != statusResolved {
		t.Errorf("expected both keys marked resolved in _tool_status, got %+v", toolStatus)
	}
}

// ensureToolStateInPlace is a thin test helper over the package's own
// ensureToolState that drops the returned map: the fixture above is already
// a map, which the coercion passes through unchanged, so it is filled in place.
func ensureToolStateInPlace(state map[string]any) error {
	_, err := ensureToolState(state)
	return err
}
