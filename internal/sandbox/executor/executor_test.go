/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package executor

import (
	"context"
	"testing"

	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/rlmerrors"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
)

func seedDoc(t *testing.T, store blob.Store, docID string, docIndex int, text string) models.ContextDocument {
	t.Helper()
	textURI, offsetsURI := "text/"+docID, "offsets/"+docID
	if err := store.Put(context.Background(), textURI, []byte(text)); err != nil {
		t.Fatalf("put text: %v", err)
	}
	offsets := models.Offsets{
		DocID: docID, CharLength: len(text), ByteLength: len(text), Encoding: "utf-8",
		Checkpoints: []models.Checkpoint{{Char: 0, Byte: 0}, {Char: len(text), Byte: len(text)}},
	}
	if err := blob.PutJSON(context.Background(), store, offsetsURI, offsets); err != nil {
		t.Fatalf("put offsets: %v", err)
	}
	return models.ContextDocument{DocID: docID, DocIndex: docIndex, TextURI: textURI, OffsetsURI: offsetsURI}
}

func intPtr(n int) *int { return &n }

func TestExecuteFinalReturnsIsFinal(t *testing.T) {
	store := blob.NewMemoryStore()
	event := models.StepEvent{
		Code:  `tool.final("the answer is 42");`,
		State: map[string]any{},
	}
	result := Execute(context.Background(), event, store)
	if !result.Success {
		t.Fatalf("expected success, got error: %+v", result.Error)
	}
	if result.Final == nil || !result.Final.IsFinal || result.Final.Answer != "the answer is 42" {
		t.Fatalf("expected a final answer, got %+v", result.Final)
	}
}

func TestExecuteYieldIsNotFinal(t *testing.T) {
	store := blob.NewMemoryStore()
	event := models.StepEvent{
		Code:  `tool.yield("need another turn");`,
		State: map[string]any{},
	}
	result := Execute(context.Background(), event, store)
	if !result.Success {
		t.Fatalf("expected success, got error: %+v", result.Error)
	}
	if result.Final == nil || result.Final.IsFinal {
		t.Fatalf("expected a non-final yield, got %+v", result.Final)
	}
	if result.Final.Answer != "need another turn" {
		t.Fatalf("expected yield reason to round-trip, got %q", result.Final.Answer)
	}
}

func TestExecuteSlicesDocumentAndLogsSpan(t *testing.T) {
	store := blob.NewMemoryStore()
	doc := seedDoc(t, store, "doc-0", 0, "the quick brown fox")
	event := models.StepEvent{
		Code:            `var text = context.doc(0).slice(4, 9); console.log(text); tool.final(text);`,
		State:           map[string]any{},
		ContextManifest: models.ContextManifest{Docs: []models.ContextDocument{doc}},
	}
	result := Execute(context.Background(), event, store)
	if !result.Success {
		t.Fatalf("expected success, got error: %+v", result.Error)
	}
	if result.Final == nil || result.Final.Answer != "quick" {
		t.Fatalf("expected sliced text %q, got %+v", "quick", result.Final)
	}
	if result.Stdout != "quick\n" {
		t.Errorf("expected stdout to capture the console.log call, got %q", result.Stdout)
	}
	if len(result.SpanLog) != 1 || result.SpanLog[0] != (models.SpanLogEntry{DocIndex: 0, StartChar: 4, EndChar: 9}) {
		t.Errorf("expected one logged span [4:9) on doc 0, got %+v", result.SpanLog)
	}
}

func TestExecutePolicyViolationIsClassified(t *testing.T) {
	store := blob.NewMemoryStore()
	event := models.StepEvent{
		Code:  `state.__secret = 1; tool.final("nope");`,
		State: map[string]any{},
	}
	result := Execute(context.Background(), event, store)
	if result.Success {
		t.Fatalf("expected a policy violation to fail the step")
	}
	if result.Error == nil || result.Error.Code != string(rlmerrors.SandboxAstRejected) {
		t.Fatalf("expected %s, got %+v", rlmerrors.SandboxAstRejected, result.Error)
	}
}

func TestExecuteTimeoutIsClassified(t *testing.T) {
	store := blob.NewMemoryStore()
	event := models.StepEvent{
		Code:   `while (true) {}`,
		State:  map[string]any{},
		Limits: &models.LimitsSnapshot{MaxStepSeconds: intPtr(0)},
	}
	result := Execute(context.Background(), event, store)
	if result.Success {
		t.Fatalf("expected a zero-second step budget to time out immediately")
	}
	if result.Error == nil || result.Error.Code != string(rlmerrors.StepTimeout) {
		t.Fatalf("expected %s, got %+v", rlmerrors.StepTimeout, result.Error)
	}
}

func TestExecuteUncaughtThrowIsInternalError(t *testing.T) {
	store := blob.NewMemoryStore()
	event := models.StepEvent{
		Code:  `throw new Error("boom");`,
		State: map[string]any{"x": 0},
	}
	result := Execute(context.Background(), event, store)
	if result.Success {
		t.Fatalf("expected failure")
	}
	if result.Error == nil || result.Error.Code != string(rlmerrors.InternalError) {
		t.Fatalf("expected %s, got %+v", rlmerrors.InternalError, result.Error)
	}
}

func TestExecuteSpanLimitExceeded(t *testing.T) {
	store := blob.NewMemoryStore()
	doc := seedDoc(t, store, "doc-0", 0, "the quick brown fox jumps over the lazy dog")
	event := models.StepEvent{
		Code: `context.doc(0).slice(0, 3); context.doc(0).slice(4, 9); context.doc(0).slice(10, 15); tool.final("done");`,
		State:           map[string]any{},
		ContextManifest: models.ContextManifest{Docs: []models.ContextDocument{doc}},
		Limits:          &models.LimitsSnapshot{MaxSpansPerStep: intPtr(2)},
	}
	result := Execute(context.Background(), event, store)
	if result.Success {
		t.Fatalf("expected the third span read to exceed max_spans_per_step")
	}
	if result.Error == nil || result.Error.Code != string(rlmerrors.BudgetExceeded) {
		t.Fatalf("expected %s, got %+v", rlmerrors.BudgetExceeded, result.Error)
	}
}
