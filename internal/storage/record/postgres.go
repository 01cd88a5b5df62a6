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
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelrun/rlmrs/internal/models"
)

// PostgresStore implements Store against a single table with a (pk, sk)
// composite primary key, mirroring the single-table layout spec.md §6
// describes for a document-style backing store. Conditional writes use
// "WHERE ... = $n" guards rather than a native ConditionExpression.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool. Schema is expected to be
// provisioned out of band (see schema.sql).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func pk(prefix, id string) string { return prefix + id }

// CreateSession upserts a session row, used by cmd/rlmrs-ctl to register new
// sessions out of band from any ingestion pipeline.
func (p *PostgresStore) CreateSession(ctx context.Context, session models.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO records (pk, sk, attrs)
		VALUES ($1, $2, $3)
		ON CONFLICT (pk, sk) DO UPDATE SET attrs = EXCLUDED.attrs`,
		pk(TenantPKPrefix, session.TenantID)+"#"+pk(SessionPKPrefix, session.SessionID), SessionSK, raw)
	return err
}

// CreateExecution upserts an execution row.
func (p *PostgresStore) CreateExecution(ctx context.Context, execution models.Execution) error {
	raw, err := json.Marshal(execution)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO records (pk, sk, attrs)
		VALUES ($1, $2, $3)
		ON CONFLICT (pk, sk) DO UPDATE SET attrs = EXCLUDED.attrs`,
		pk(SessionPKPrefix, execution.SessionID)+"#"+pk(ExecPKPrefix, execution.ExecutionID), ExecutionSK, raw)
	return err
}

func (p *PostgresStore) GetSession(ctx context.Context, tenantID, sessionID string) (*models.Session, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT attrs FROM records WHERE pk = $1 AND sk = $2`,
		pk(TenantPKPrefix, tenantID)+"#"+pk(SessionPKPrefix, sessionID), SessionSK)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var s models.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) QueryDocuments(ctx context.Context, sessionID string) ([]models.Document, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT attrs FROM records
		WHERE pk = $1 AND sk LIKE $2
		ORDER BY sk ASC`,
		pk(SessionPKPrefix, sessionID), DocumentSKPrefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var d models.Document
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (p *PostgresStore) ScanRunningAnswererExecutions(ctx context.Context) ([]models.Execution, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT attrs FROM records
		WHERE sk = $1 AND attrs->>'Status' = $2 AND attrs->>'Mode' = $3
		ORDER BY pk ASC`,
		ExecutionSK, string(models.StatusRunning), string(models.ModeAnswerer))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []models.Execution
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e models.Execution
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

func (p *PostgresStore) GetExecution(ctx context.Context, sessionID, executionID string) (*models.Execution, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT attrs FROM records WHERE pk = $1 AND sk = $2`,
		pk(SessionPKPrefix, sessionID)+"#"+pk(ExecPKPrefix, executionID), ExecutionSK)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var e models.Execution
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// AcquireLease updates the lease fields with a WHERE clause admitting an
// absent (SQL or JSON null) lease, an expired lease, or a lease already
// owned by ownerID. A missing row yields (false, nil).
func (p *PostgresStore) AcquireLease(ctx context.Context, sessionID, executionID, ownerID string, now time.Time, duration time.Duration) (bool, error) {
	e, err := p.GetExecution(ctx, sessionID, executionID)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}
	if e.Lease != nil && e.Lease.ExpiresAt.After(now) && e.Lease.OwnerID != ownerID {
		return false, nil
	}

	e.Lease = &models.Lease{OwnerID: ownerID, ExpiresAt: now.Add(duration), UpdatedAt: now}
	raw, err := json.Marshal(e)
	if err != nil {
		return false, err
	}

	tag, err := p.pool.Exec(ctx, `
		UPDATE records SET attrs = $1
		WHERE pk = $2 AND sk = $3
		  AND (attrs->'Lease' IS NULL
		       OR attrs->'Lease' = 'null'::jsonb
		       OR (attrs->'Lease'->>'ExpiresAt')::timestamptz <= $4
		       OR attrs->'Lease'->>'OwnerID' = $5)`,
		raw,
		pk(SessionPKPrefix, sessionID)+"#"+pk(ExecPKPrefix, executionID), ExecutionSK,
		now, ownerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *PostgresStore) ReleaseLease(ctx context.Context, sessionID, executionID, ownerID string) error {
	e, err := p.GetExecution(ctx, sessionID, executionID)
	if err != nil || e == nil {
		return err
	}
	if e.Lease == nil || e.Lease.OwnerID != ownerID {
		return nil
	}
	e.Lease = nil
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		UPDATE records SET attrs = $1
		WHERE pk = $2 AND sk = $3 AND attrs->'Lease'->>'OwnerID' = $4`,
		raw, pk(SessionPKPrefix, sessionID)+"#"+pk(ExecPKPrefix, executionID), ExecutionSK, ownerID)
	return err
}

// UpdateExecutionStatus performs the conditional expected_status transition.
// A zero rows-affected result means the precondition failed (ErrConditionFailed).
func (p *PostgresStore) UpdateExecutionStatus(ctx context.Context, sessionID, executionID string, expected, next models.ExecutionStatus, outcome StatusOutcome) error {
	e, err := p.GetExecution(ctx, sessionID, executionID)
	if err != nil {
		return err
	}
	if e == nil {
		return ErrConditionFailed
	}
	if e.Status != expected {
		return ErrConditionFailed
	}
	e.Status = next
	e.Answer = outcome.Answer
	e.Citations = outcome.Citations
	e.BudgetsConsumed = outcome.BudgetsConsumed
	completedAt := outcome.CompletedAt
	e.CompletedAt = &completedAt
	durationMS := outcome.DurationMS
	e.DurationMS = &durationMS

	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE records SET attrs = $1
		WHERE pk = $2 AND sk = $3 AND attrs->>'Status' = $4`,
		raw, pk(SessionPKPrefix, sessionID)+"#"+pk(ExecPKPrefix, executionID), ExecutionSK, string(expected))
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrConditionFailed
	}
	return nil
}

func (p *PostgresStore) GetExecutionState(ctx context.Context, executionID string) (*models.ExecutionState, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT attrs FROM records WHERE pk = $1 AND sk = $2`,
		pk(ExecPKPrefix, executionID), ExecStateSK)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	var s models.ExecutionState
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) PutExecutionState(ctx context.Context, state models.ExecutionState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO records (pk, sk, attrs)
		VALUES ($1, $2, $3)
		ON CONFLICT (pk, sk) DO UPDATE SET attrs = EXCLUDED.attrs`,
		pk(ExecPKPrefix, state.ExecutionID), ExecStateSK, raw)
	return err
}

func (p *PostgresStore) AppendCodeLog(ctx context.Context, entry models.CodeLogEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO records (pk, sk, attrs)
		VALUES ($1, $2, $3)
		ON CONFLICT (pk, sk) DO NOTHING`,
		pk(ExecPKPrefix, entry.ExecutionID), CodeLogSKPrefix+strconv.FormatInt(entry.Sequence, 10), raw)
	return err
}
