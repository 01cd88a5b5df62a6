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
	"sort"
	"sync"
	"time"

	"github.com/kestrelrun/rlmrs/internal/models"
)

// MemoryStore is an in-process Store, used by unit tests and the Runtime step
// API's local-driver mode.
type MemoryStore struct {
	mu         sync.Mutex
	sessions   map[string]*models.Session // tenant/session
	documents  map[string][]models.Document // session -> docs
	executions map[string]*models.Execution // session/execution
	states     map[string]*models.ExecutionState // execution
	codeLog    []models.CodeLogEntry
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:   map[string]*models.Session{},
		documents:  map[string][]models.Document{},
		executions: map[string]*models.Execution{},
		states:     map[string]*models.ExecutionState{},
	}
}

func sessionKey(tenant, session string) string { return tenant + "/" + session }
func execKey(session, execution string) string { return session + "/" + execution }

// PutSession seeds a session (test/setup helper, not part of the Store interface).
func (m *MemoryStore) PutSession(s models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := s
	m.sessions[sessionKey(s.TenantID, s.SessionID)] = &cp
}

// PutDocument seeds a document (test/setup helper).
func (m *MemoryStore) PutDocument(d models.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[d.SessionID] = append(m.documents[d.SessionID], d)
}

// PutExecution seeds an execution (test/setup helper).
func (m *MemoryStore) PutExecution(e models.Execution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := e
	m.executions[execKey(e.SessionID, e.ExecutionID)] = &cp
}

// CreateSession upserts a session row.
func (m *MemoryStore) CreateSession(_ context.Context, session models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := session
	m.sessions[sessionKey(session.TenantID, session.SessionID)] = &cp
	return nil
}

// CreateExecution upserts an execution row.
func (m *MemoryStore) CreateExecution(_ context.Context, execution models.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := execution
	m.executions[execKey(execution.SessionID, execution.ExecutionID)] = &cp
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, tenantID, sessionID string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionKey(tenantID, sessionID)]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) QueryDocuments(_ context.Context, sessionID string) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	docs := append([]models.Document(nil), m.documents[sessionID]...)
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocIndex < docs[j].DocIndex })
	return docs, nil
}

func (m *MemoryStore) ScanRunningAnswererExecutions(_ context.Context) ([]models.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Execution
	for _, e := range m.executions {
		if e.Status == models.StatusRunning && e.Mode == models.ModeAnswerer {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].ExecutionID < out[j].ExecutionID
	})
	return out, nil
}

func (m *MemoryStore) GetExecution(_ context.Context, sessionID, executionID string) (*models.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[execKey(sessionID, executionID)]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) AcquireLease(_ context.Context, sessionID, executionID, ownerID string, now time.Time, duration time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[execKey(sessionID, executionID)]
	if !ok {
		return false, nil
	}
	if e.Lease != nil && e.Lease.ExpiresAt.After(now) && e.Lease.OwnerID != ownerID {
		return false, nil
	}
	e.Lease = &models.Lease{OwnerID: ownerID, ExpiresAt: now.Add(duration), UpdatedAt: now}
	return true, nil
}

func (m *MemoryStore) ReleaseLease(_ context.Context, sessionID, executionID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[execKey(sessionID, executionID)]
	if !ok {
		return nil
	}
	if e.Lease != nil && e.Lease.OwnerID == ownerID {
		e.Lease = nil
	}
	return nil
}

func (m *MemoryStore) UpdateExecutionStatus(_ context.Context, sessionID, executionID string, expected, next models.ExecutionStatus, outcome StatusOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.executions[execKey(sessionID, executionID)]
	if !ok {
		return nil
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
	return nil
}

func (m *MemoryStore) GetExecutionState(_ context.Context, executionID string) (*models.ExecutionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[executionID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) PutExecutionState(_ context.Context, state models.ExecutionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := state
	m.states[state.ExecutionID] = &cp
	return nil
}

func (m *MemoryStore) AppendCodeLog(_ context.Context, entry models.CodeLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codeLog = append(m.codeLog, entry)
	return nil
}
