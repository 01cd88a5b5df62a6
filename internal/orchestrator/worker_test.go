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
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/kestrelrun/rlmrs/internal/config"
	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/search"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
	"github.com/kestrelrun/rlmrs/internal/storage/record"
)

func newTestWorker(t *testing.T, store *record.MemoryStore, blobStore blob.Store, llm *stubProvider) *Worker {
	t.Helper()
	settings := config.Defaults()
	settings.TickIntervalSeconds = 1
	w := NewWorker(settings, store, blobStore, llm, search.NewFakeSearchBackend(), logr.Discard())
	w.LeaseDuration = time.Minute
	return w
}

func seedExecution(store *record.MemoryStore, blobStore blob.Store, t *testing.T) models.Execution {
	t.Helper()
	now := time.Now()
	store.PutSession(models.Session{
		TenantID:  "tenant-a",
		SessionID: "session-a",
		Status:    models.SessionReady,
		TTL:       time.Hour,
		CreatedAt: now,
	})
	if err := blobStore.Put(context.Background(), "text/doc-0", []byte("the quick brown fox")); err != nil {
		t.Fatalf("seed blob: %v", err)
	}
	if err := blobStore.Put(context.Background(), "offsets/doc-0", []byte("{}")); err != nil {
		t.Fatalf("seed blob: %v", err)
	}
	store.PutDocument(models.Document{
		SessionID: "session-a", DocID: "doc-0", DocIndex: 0,
		Status: models.DocIndexed, TextURI: "text/doc-0", OffsetsURI: "offsets/doc-0",
		CharLength: 20,
	})
	exec := models.Execution{
		TenantID: "tenant-a", SessionID: "session-a", ExecutionID: "exec-1",
		Mode: models.ModeAnswerer, Status: models.StatusRunning,
		Question: "what does the fox do?",
		Models:   &models.ModelsConfig{RootModel: "root-model"},
		StartedAt: now,
	}
	store.PutExecution(exec)
	if err := store.PutExecutionState(context.Background(), models.ExecutionState{
		ExecutionID: "exec-1", TurnIndex: 0, UpdatedAt: now, TTL: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed execution state: %v", err)
	}
	return exec
}

func TestRunOnceCompletesOnImmediateFinal(t *testing.T) {
	store := record.NewMemoryStore()
	blobStore := blob.NewMemoryStore()
	seedExecution(store, blobStore, t)

	llm := &stubProvider{name: "stub", replyFn: func(string) string {
		return "```repl\ntool.final(\"the fox jumps\");\n```"
	}}
	w := newTestWorker(t, store, blobStore, llm)

	processed, err := w.RunOnce(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 execution processed, got %d", processed)
	}

	exec, err := store.GetExecution(context.Background(), "session-a", "exec-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.Status != models.StatusCompleted {
		t.Fatalf("expected COMPLETED status, got %s", exec.Status)
	}
	if exec.Answer != "the fox jumps" {
		t.Fatalf("expected the final answer to be persisted, got %q", exec.Answer)
	}
}

func TestRunOnceRetriesOnParseFailureWithoutAdvancingTurn(t *testing.T) {
	store := record.NewMemoryStore()
	blobStore := blob.NewMemoryStore()
	seedExecution(store, blobStore, t)

	calls := 0
	llm := &stubProvider{name: "stub", replyFn: func(string) string {
		calls++
		if calls == 1 {
			return "not a repl block"
		}
		return "```repl\ntool.final(\"second try\");\n```"
	}}
	w := newTestWorker(t, store, blobStore, llm)

	processed, err := w.RunOnce(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 execution processed, got %d", processed)
	}
	if calls != 2 {
		t.Fatalf("expected the worker to retry the root call once after a parse failure, got %d calls", calls)
	}

	exec, err := store.GetExecution(context.Background(), "session-a", "exec-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.Status != models.StatusCompleted || exec.Answer != "second try" {
		t.Fatalf("expected completion with the retried answer, got status=%s answer=%q", exec.Status, exec.Answer)
	}
}

func TestRunOnceFinalizesFailedWhenSessionMissing(t *testing.T) {
	store := record.NewMemoryStore()
	blobStore := blob.NewMemoryStore()
	store.PutExecution(models.Execution{
		TenantID: "tenant-a", SessionID: "session-missing", ExecutionID: "exec-1",
		Mode: models.ModeAnswerer, Status: models.StatusRunning,
	})
	llm := &stubProvider{name: "stub"}
	w := newTestWorker(t, store, blobStore, llm)

	processed, err := w.RunOnce(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 execution processed (to a FAILED terminal state), got %d", processed)
	}
	exec, err := store.GetExecution(context.Background(), "session-missing", "exec-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.Status != models.StatusFailed {
		t.Fatalf("expected FAILED status for a missing session, got %s", exec.Status)
	}
}

func TestRunOnceMaxTurnsExceeded(t *testing.T) {
	store := record.NewMemoryStore()
	blobStore := blob.NewMemoryStore()
	exec := seedExecution(store, blobStore, t)
	exec.BudgetsRequested = &models.Budgets{MaxTurns: intPtr(0)}
	store.PutExecution(exec)

	llm := &stubProvider{name: "stub"}
	w := newTestWorker(t, store, blobStore, llm)

	processed, err := w.RunOnce(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 execution processed, got %d", processed)
	}
	got, err := store.GetExecution(context.Background(), "session-a", "exec-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != models.StatusMaxTurnsExceeded {
		t.Fatalf("expected MAX_TURNS_EXCEEDED, got %s", got.Status)
	}
}
