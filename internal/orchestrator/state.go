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
	"fmt"
	"sort"

	"github.com/kestrelrun/rlmrs/internal/citations"
	"github.com/kestrelrun/rlmrs/internal/config"
	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/rlmerrors"
	"github.com/kestrelrun/rlmrs/internal/statecodec"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
)

// sortedDocuments orders documents by their dense DocIndex, the order every
// other per-document slice below (context manifest, doc lengths, doc
// indexes) is built in.
func sortedDocuments(docs []models.Document) []models.Document {
	out := append([]models.Document(nil), docs...)
	sort.Slice(out, func(i, j int) bool { return out[i].DocIndex < out[j].DocIndex })
	return out
}

func docIndexesOf(docs []models.Document) []int {
	sorted := sortedDocuments(docs)
	out := make([]int, len(sorted))
	for i, d := range sorted {
		out[i] = d.DocIndex
	}
	return out
}

func docLengthsOf(docs []models.Document) []int {
	sorted := sortedDocuments(docs)
	out := make([]int, len(sorted))
	for i, d := range sorted {
		out[i] = int(d.CharLength)
	}
	return out
}

// buildContextManifest projects a session's documents into the blob
// references a StepEvent carries; a document still missing its text or
// offsets blob means the session isn't ready for execution.
func buildContextManifest(docs []models.Document) (models.ContextManifest, error) {
	sorted := sortedDocuments(docs)
	manifest := models.ContextManifest{Docs: make([]models.ContextDocument, 0, len(sorted))}
	for _, d := range sorted {
		if d.TextURI == "" || d.OffsetsURI == "" {
			return models.ContextManifest{}, rlmerrors.New(rlmerrors.SessionNotReady, "session not ready")
		}
		manifest.Docs = append(manifest.Docs, models.ContextDocument{
			DocID: d.DocID, DocIndex: d.DocIndex, TextURI: d.TextURI, OffsetsURI: d.OffsetsURI,
		})
	}
	return manifest, nil
}

// loadDocumentsText reads every document's full text, for citation
// checksumming at finalization.
func loadDocumentsText(ctx context.Context, store blob.Store, docs []models.Document) ([]citations.DocumentText, error) {
	sorted := sortedDocuments(docs)
	out := make([]citations.DocumentText, 0, len(sorted))
	for _, d := range sorted {
		if d.TextURI == "" {
			return nil, rlmerrors.New(rlmerrors.ValidationError, "missing text_uri")
		}
		raw, err := store.Get(ctx, d.TextURI)
		if err != nil {
			return nil, err
		}
		out = append(out, citations.DocumentText{DocID: d.DocID, DocIndex: d.DocIndex, Text: string(raw)})
	}
	return out, nil
}

// resolveModels waterfalls execution override -> session default -> settings
// default, same precedence as original_source's _resolve_models.
func resolveModels(exec *models.Execution, session *models.Session, settings config.Settings) *models.ModelsConfig {
	if exec.Models != nil && exec.Models.RootModel != "" {
		return exec.Models
	}
	if session.ModelsDefault != nil && session.ModelsDefault.RootModel != "" {
		return session.ModelsDefault
	}
	if settings.DefaultRootModel != "" || settings.DefaultSubModel != "" {
		cfg := &models.ModelsConfig{RootModel: settings.DefaultRootModel}
		if settings.DefaultSubModel != "" {
			sub := settings.DefaultSubModel
			cfg.SubModel = &sub
		}
		return cfg
	}
	return nil
}

// resolveBudgets waterfalls execution override -> session default; the
// Go settings surface carries no budgets default, unlike the Python original
// (its default_budgets_json is an operator escape hatch this port leaves to
// the session/execution budgets_default fields instead).
func resolveBudgets(exec *models.Execution, session *models.Session) *models.Budgets {
	if exec.BudgetsRequested != nil {
		return exec.BudgetsRequested
	}
	return session.BudgetsDefault
}

// ensureToolState coerces state into the map shape EnsureToolState expects,
// treating a fresh state payload (nil, on a brand-new execution) as an empty
// object.
func ensureToolState(state any) (map[string]any, error) {
	obj, ok := statecodec.AsObject(state)
	if !ok {
		return nil, rlmerrors.New(rlmerrors.StateInvalidType, "state must be a JSON object")
	}
	if err := statecodec.EnsureToolState(obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// formatStepError renders a structured step error as the single-line
// "{code}: {message}" string the root prompt's {{LAST_ERROR}} token expects.
func formatStepError(stepErr *models.StepError) *string {
	if stepErr == nil {
		return nil
	}
	s := fmt.Sprintf("%s: %s", stepErr.Code, stepErr.Message)
	return &s
}

// applyToolResults writes newly resolved tool results and per-key statuses
// into state's reserved _tool_results/_tool_status namespace.
func applyToolResults(state map[string]any, results models.ToolResultsEnvelope, statuses map[string]string) error {
	if err := statecodec.EnsureToolState(state); err != nil {
		return err
	}
	toolResults := state["_tool_results"].(map[string]any)
	llmBucket := toolResults["llm"].(map[string]any)
	searchBucket := toolResults["search"].(map[string]any)
	for key, result := range results.LLM {
		llmBucket[key] = map[string]any{"text": result.Text, "meta": result.Meta}
	}
	for key, result := range results.Search {
		searchBucket[key] = map[string]any{"hits": hitsToAny(result.Hits), "meta": result.Meta}
	}
	toolStatus := state["_tool_status"].(map[string]any)
	for key, status := range statuses {
		toolStatus[key] = status
	}
	return nil
}

func hitsToAny(hits []models.SearchHit) []any {
	out := make([]any, len(hits))
	for i, h := range hits {
		out[i] = map[string]any{
			"doc_index":  h.DocIndex,
			"start_char": h.StartChar,
			"end_char":   h.EndChar,
			"score":      h.Score,
			"snippet":    h.Snippet,
		}
	}
	return out
}

// setBudgetSnapshot writes the tracker's current snapshot into state's
// reserved _budgets key.
func setBudgetSnapshot(state map[string]any, tracker *BudgetTracker) {
	state["_budgets"] = tracker.Snapshot()
}
