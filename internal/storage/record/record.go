/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package record defines the RecordStore abstraction: the single-table
// (PK, SK) layout spec.md §6 describes, covering sessions, documents,
// executions, execution state and code-log entries, plus the conditional
// writes the lease protocol and status-transition discipline depend on.
package record

import (
	"context"
	"time"

	"github.com/kestrelrun/rlmrs/internal/models"
)

// ErrConditionFailed is returned by UpdateExecutionStatus when its
// expected_status precondition does not hold. It is not an error in the
// orchestrator's control flow: it means another replica already moved the
// execution out of that status. Lease contention is reported by
// AcquireLease's false result, not by this error.
var ErrConditionFailed = errConditionFailed{}

type errConditionFailed struct{}

func (errConditionFailed) Error() string { return "record: condition failed" }

// Store is the RecordStore interface. Implementations: Postgres (production)
// and an in-memory store (tests, the Runtime step API's local-driver mode).
type Store interface {
	// CreateSession and CreateExecution are the operator/ingestion-side
	// writes: unconditional upserts, used by cmd/rlmrs-ctl to submit new
	// work rather than by the orchestrator's own turn loop.
	CreateSession(ctx context.Context, session models.Session) error
	CreateExecution(ctx context.Context, execution models.Execution) error

	GetSession(ctx context.Context, tenantID, sessionID string) (*models.Session, error)
	QueryDocuments(ctx context.Context, sessionID string) ([]models.Document, error)

	ScanRunningAnswererExecutions(ctx context.Context) ([]models.Execution, error)
	GetExecution(ctx context.Context, sessionID, executionID string) (*models.Execution, error)

	// AcquireLease succeeds (returns true, nil) iff the lease is absent, expired,
	// or already owned by ownerID; it conditionally writes the new owner/expiry.
	AcquireLease(ctx context.Context, sessionID, executionID, ownerID string, now time.Time, duration time.Duration) (bool, error)
	// ReleaseLease clears the lease iff it is currently held by ownerID.
	ReleaseLease(ctx context.Context, sessionID, executionID, ownerID string) error

	// UpdateExecutionStatus performs the conditional expected_status == Running
	// transition to a terminal status, recording the answer/citations/consumed
	// budgets/duration when present.
	UpdateExecutionStatus(ctx context.Context, sessionID, executionID string, expected, next models.ExecutionStatus, outcome StatusOutcome) error

	GetExecutionState(ctx context.Context, executionID string) (*models.ExecutionState, error)
	PutExecutionState(ctx context.Context, state models.ExecutionState) error

	AppendCodeLog(ctx context.Context, entry models.CodeLogEntry) error
}

// StatusOutcome carries the fields a terminal-status transition may set.
type StatusOutcome struct {
	Answer          string
	Citations       []models.CitationSpan
	BudgetsConsumed *models.BudgetsConsumed
	CompletedAt     time.Time
	DurationMS      int64
}

// PK/SK prefixes for the single-table layout (spec.md §6).
const (
	TenantPKPrefix   = "TENANT#"
	SessionPKPrefix  = "SESSION#"
	ExecPKPrefix     = "EXEC#"
	DocumentPKPrefix = "DOCUMENT#"

	SessionSK        = "SESSION"
	DocumentSKPrefix = "DOCUMENT#"
	ExecutionSK      = "EXECUTION"
	ExecStateSK      = "EXEC_STATE"
	CodeLogSKPrefix  = "CODE_LOG#"
)
