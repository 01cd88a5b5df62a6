/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package record

import (
	"context"
	"testing"
	"time"

	"github.com/kestrelrun/rlmrs/internal/models"
)

func TestCreateSessionIsReadableByGetSession(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	session := models.Session{
		TenantID: "tenant-a", SessionID: "session-a",
		Status: models.SessionReady, CreatedAt: time.Now(),
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := store.GetSession(ctx, "tenant-a", "session-a")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil || got.Status != models.SessionReady {
		t.Fatalf("expected the created session to be readable, got %+v", got)
	}
}

func TestCreateSessionUpsertsExistingRow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.PutSession(models.Session{TenantID: "t", SessionID: "s", Status: models.SessionCreating})

	if err := store.CreateSession(ctx, models.Session{TenantID: "t", SessionID: "s", Status: models.SessionReady}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	got, err := store.GetSession(ctx, "t", "s")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != models.SessionReady {
		t.Fatalf("expected CreateSession to overwrite the prior row, got status %v", got.Status)
	}
}

func TestCreateExecutionIsReadableByGetExecution(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	execution := models.Execution{
		TenantID: "tenant-a", SessionID: "session-a", ExecutionID: "exec-1",
		Mode: models.ModeAnswerer, Status: models.StatusRunning,
		Question: "what is the answer?", StartedAt: time.Now(),
	}
	if err := store.CreateExecution(ctx, execution); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	got, err := store.GetExecution(ctx, "session-a", "exec-1")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got == nil || got.Status != models.StatusRunning || got.Question != execution.Question {
		t.Fatalf("expected the created execution to round-trip, got %+v", got)
	}
}

func TestCreateExecutionIsVisibleToLeaseAcquisition(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.CreateExecution(ctx, models.Execution{
		SessionID: "session-a", ExecutionID: "exec-1",
		Mode: models.ModeAnswerer, Status: models.StatusRunning, StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	acquired, err := store.AcquireLease(ctx, "session-a", "exec-1", "owner-1", time.Now(), time.Minute)
	if err != nil {
		t.Fatalf("AcquireLease: %v", err)
	}
	if !acquired {
		t.Fatalf("expected the freshly submitted execution to be leasable")
	}
}
