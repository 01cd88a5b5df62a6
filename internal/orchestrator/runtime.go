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
	"time"

	"github.com/kestrelrun/rlmrs/internal/citations"
	"github.com/kestrelrun/rlmrs/internal/config"
	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/provider"
	"github.com/kestrelrun/rlmrs/internal/rlmerrors"
	"github.com/kestrelrun/rlmrs/internal/sandbox/executor"
	"github.com/kestrelrun/rlmrs/internal/search"
	"github.com/kestrelrun/rlmrs/internal/statecodec"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
	"github.com/kestrelrun/rlmrs/internal/storage/record"
)

// RuntimeStepper is the external-driver façade spec.md §4.12 describes: the
// same StepExecutor and state-persistence path Worker drives internally for
// Answerer mode, exposed as single calls a caller outside this process makes
// one at a time, supplying the code for each turn itself instead of letting
// a root model generate it.
type RuntimeStepper struct {
	Store         record.Store
	Blob          blob.Store
	Provider      provider.Provider
	SearchBackend search.Backend

	MaxConcurrency        int
	CitationMergeGapChars int
}

// NewRuntimeStepper builds a RuntimeStepper sharing the same stores and
// backends a Worker for this deployment would use.
func NewRuntimeStepper(settings config.Settings, store record.Store, blobStore blob.Store, llm provider.Provider, searchBackend search.Backend) *RuntimeStepper {
	return &RuntimeStepper{
		Store:                 store,
		Blob:                  blobStore,
		Provider:              llm,
		SearchBackend:         searchBackend,
		MaxConcurrency:        settings.ToolResolutionMaxConcurrency,
		CitationMergeGapChars: settings.CitationMergeGapChars,
	}
}

// StepRequest is one caller-driven turn.
type StepRequest struct {
	TenantID    string
	SessionID   string
	ExecutionID string
	Code        string
	// StateOverride, if non-nil, replaces the non-reserved keys of the
	// stored state before this step runs; reserved keys (_tool_results,
	// _tool_status, _budgets, _trace) always come from the stored state
	// regardless of what the caller supplies.
	StateOverride map[string]any
}

// StepResponse mirrors the persisted turn outcome back to the caller.
type StepResponse struct {
	TurnIndex    int
	Success      bool
	Stdout       string
	State        any
	SpanLog      []models.SpanLogEntry
	ToolRequests models.ToolRequestsEnvelope
	Final        *models.StepFinal
	Error        *models.StepError
	Status       models.ExecutionStatus
}

// Step runs one externally-supplied program against execution's current
// state, persists the result, bumps turn_index, and — when the program
// calls tool.final — transitions the execution to Completed the same way
// Worker.finalizeCompleted does.
func (r *RuntimeStepper) Step(ctx context.Context, req StepRequest) (*StepResponse, error) {
	exec, session, documents, executionState, err := r.loadRuntimeExecution(ctx, req.TenantID, req.SessionID, req.ExecutionID)
	if err != nil {
		return nil, err
	}

	manifest, err := buildContextManifest(documents)
	if err != nil {
		return nil, err
	}

	statePayload, err := statecodec.Load(ctx, r.Blob, executionState.StateJSON, executionState.StateURI)
	if err != nil {
		return nil, err
	}
	state, err := ensureToolState(statePayload)
	if err != nil {
		return nil, err
	}
	if req.StateOverride != nil {
		state = statecodec.MergeReserved(req.StateOverride, state)
		if _, err := ensureToolState(state); err != nil {
			return nil, err
		}
	}

	budgets := resolveBudgets(exec, session)
	limits := models.LimitsFromBudgets(budgets)
	turnIndex := nextTurnIndex(executionState)

	event := models.StepEvent{
		TenantID: req.TenantID, SessionID: req.SessionID, ExecutionID: req.ExecutionID,
		TurnIndex: turnIndex, Code: req.Code, State: state, ContextManifest: manifest, Limits: limits,
	}
	result := executor.Execute(ctx, event, r.Blob)

	nextState := state
	if resultState, ok := result.State.(map[string]any); ok {
		nextState = statecodec.MergeReserved(resultState, state)
	}
	if result.Success {
		appendTraceSpans(nextState, result.SpanLog)
	}

	if err := r.Store.AppendCodeLog(ctx, models.CodeLogEntry{
		ExecutionID: req.ExecutionID, Sequence: int64(turnIndex), TurnIndex: turnIndex,
		Code: req.Code, CreatedAt: time.Now(),
	}); err != nil {
		return nil, err
	}

	persisted, err := statecodec.Persist(ctx, r.Blob, nextState, req.TenantID, req.ExecutionID, turnIndex, 0)
	if err != nil {
		return nil, err
	}
	if err := r.Store.PutExecutionState(ctx, models.ExecutionState{
		ExecutionID: req.ExecutionID, TurnIndex: turnIndex,
		StateJSON: persisted.StateJSON, StateURI: persisted.StateURI,
		Checksum: persisted.Checksum, Summary: persisted.Summary,
		UpdatedAt: time.Now(), TTL: session.CreatedAt.Add(session.TTL),
		HasStepSnapshot: true, Success: result.Success, Stdout: result.Stdout,
		SpanLog: result.SpanLog, ToolRequests: result.ToolRequests,
		Final: result.Final, StepError: result.Error,
	}); err != nil {
		return nil, err
	}

	status := exec.Status
	if result.Final != nil && result.Final.IsFinal {
		status = models.StatusCompleted
		if err := r.finalize(ctx, exec, documents, nextState, result.Final.Answer); err != nil {
			return nil, err
		}
	}

	return &StepResponse{
		TurnIndex: turnIndex, Success: result.Success, Stdout: result.Stdout,
		State: nextState, SpanLog: result.SpanLog, ToolRequests: result.ToolRequests,
		Final: result.Final, Error: result.Error, Status: status,
	}, nil
}

// ResolveToolsRequest drives the §4.11 resolution path against whatever
// ToolRequestsEnvelope the execution's most recent Step call queued.
type ResolveToolsRequest struct {
	TenantID     string
	SessionID    string
	ExecutionID  string
	SubModel     *string
	EnableSearch bool
}

// ResolveToolsResponse reports per-key outcomes so the caller can decide
// whether to retry or surface a partial result.
type ResolveToolsResponse struct {
	Results  models.ToolResultsEnvelope
	Statuses map[string]string
}

// ResolveTools resolves the pending tool requests from the execution's last
// recorded step through the same LLM/search backends §4.11 uses for
// Answerer mode, then applies the results into state and re-persists at the
// same turn_index the requests were queued at — the step itself does not
// advance.
func (r *RuntimeStepper) ResolveTools(ctx context.Context, req ResolveToolsRequest) (*ResolveToolsResponse, error) {
	exec, session, documents, executionState, err := r.loadRuntimeExecution(ctx, req.TenantID, req.SessionID, req.ExecutionID)
	if err != nil {
		return nil, err
	}
	if executionState.ToolRequests.Empty() {
		return &ResolveToolsResponse{Results: models.NewToolResultsEnvelope(), Statuses: map[string]string{}}, nil
	}

	docIndexes := docIndexesOf(documents)
	docLengths := docLengthsOf(documents)
	tracker := NewBudgetTracker(resolveBudgets(exec, session))

	results, statuses, err := resolveToolRequests(
		ctx, executionState.ToolRequests, req.TenantID, req.SessionID,
		r.Provider, tracker, req.SubModel, req.EnableSearch, r.SearchBackend,
		docIndexes, docLengths, r.MaxConcurrency,
	)
	if err != nil {
		return nil, err
	}

	if err := r.applyAndPersistToolResults(ctx, req.TenantID, req.ExecutionID, session, executionState, results, statuses); err != nil {
		return nil, err
	}
	return &ResolveToolsResponse{Results: results, Statuses: statuses}, nil
}

// SynthesizeToolResultsRequest is the "stub path" from spec.md §4.12: the
// caller has already obtained results for some or all pending requests by
// its own means (a test harness, a previously-run external tool) and wants
// them written into state without this process calling out to a provider or
// search backend at all.
type SynthesizeToolResultsRequest struct {
	TenantID    string
	SessionID   string
	ExecutionID string
	Results     models.ToolResultsEnvelope
	Statuses    map[string]string
}

// SynthesizeToolResults applies caller-supplied results directly, bypassing
// Provider and SearchBackend entirely.
func (r *RuntimeStepper) SynthesizeToolResults(ctx context.Context, req SynthesizeToolResultsRequest) error {
	_, session, _, executionState, err := r.loadRuntimeExecution(ctx, req.TenantID, req.SessionID, req.ExecutionID)
	if err != nil {
		return err
	}
	return r.applyAndPersistToolResults(ctx, req.TenantID, req.ExecutionID, session, executionState, req.Results, req.Statuses)
}

func (r *RuntimeStepper) applyAndPersistToolResults(ctx context.Context, tenantID, executionID string, session *models.Session, executionState *models.ExecutionState, results models.ToolResultsEnvelope, statuses map[string]string) error {
	statePayload, err := statecodec.Load(ctx, r.Blob, executionState.StateJSON, executionState.StateURI)
	if err != nil {
		return err
	}
	state, err := ensureToolState(statePayload)
	if err != nil {
		return err
	}
	if err := applyToolResults(state, results, statuses); err != nil {
		return err
	}

	persisted, err := statecodec.Persist(ctx, r.Blob, state, tenantID, executionID, executionState.TurnIndex, 0)
	if err != nil {
		return err
	}
	executionState.StateJSON = persisted.StateJSON
	executionState.StateURI = persisted.StateURI
	executionState.Checksum = persisted.Checksum
	executionState.Summary = persisted.Summary
	executionState.UpdatedAt = time.Now()
	executionState.TTL = session.CreatedAt.Add(session.TTL)
	return r.Store.PutExecutionState(ctx, *executionState)
}

// loadRuntimeExecution fetches and validates the execution, session,
// documents, and current state row a Runtime-mode call needs, rejecting an
// execution that is not RUNTIME mode or not currently RUNNING — an external
// driver is the sole owner of a Runtime execution, so there is no lease to
// acquire, but a terminal or Answerer-mode execution must still be refused.
func (r *RuntimeStepper) loadRuntimeExecution(ctx context.Context, tenantID, sessionID, executionID string) (*models.Execution, *models.Session, []models.Document, *models.ExecutionState, error) {
	exec, err := r.Store.GetExecution(ctx, sessionID, executionID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if exec == nil {
		return nil, nil, nil, nil, rlmerrors.New(rlmerrors.ExecutionNotFound, "execution not found")
	}
	if exec.Mode != models.ModeRuntime {
		return nil, nil, nil, nil, rlmerrors.New(rlmerrors.ValidationError, "execution is not in RUNTIME mode")
	}
	if exec.Status != models.StatusRunning {
		return nil, nil, nil, nil, rlmerrors.New(rlmerrors.ValidationError, "execution is not RUNNING")
	}

	session, err := r.Store.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if session == nil {
		return nil, nil, nil, nil, rlmerrors.New(rlmerrors.SessionNotFound, "session not found")
	}

	documents, err := r.Store.QueryDocuments(ctx, sessionID)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	executionState, err := r.Store.GetExecutionState(ctx, executionID)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if executionState == nil {
		return nil, nil, nil, nil, rlmerrors.New(rlmerrors.ExecutionNotFound, "execution state not found")
	}

	return exec, session, documents, executionState, nil
}

// finalize transitions exec to Completed with a citation set built from the
// full cross-turn span log accumulated under state._trace.
func (r *RuntimeStepper) finalize(ctx context.Context, exec *models.Execution, documents []models.Document, state map[string]any, answer string) error {
	texts, err := loadDocumentsText(ctx, r.Blob, documents)
	if err != nil {
		return err
	}
	spanLog := traceSpans(state)
	citationSpans, err := citations.MakeCitationSpans(spanLog, texts, exec.TenantID, exec.SessionID, r.CitationMergeGapChars)
	if err != nil {
		citationSpans = nil
	}

	outcome := record.StatusOutcome{
		Answer:      answer,
		Citations:   citationSpans,
		CompletedAt: time.Now(),
	}
	return r.Store.UpdateExecutionStatus(ctx, exec.SessionID, exec.ExecutionID, models.StatusRunning, models.StatusCompleted, outcome)
}

// appendTraceSpans accumulates one step's span log into the reserved _trace
// key, the running record RuntimeStepper.finalize reads back at completion
// time — unlike Worker, whose turn loop keeps the cumulative span log on the
// Go stack for the lifetime of one runExecution call, a Runtime execution is
// driven by a new Step call per turn with nothing held in memory between them.
func appendTraceSpans(state map[string]any, spans []models.SpanLogEntry) {
	if len(spans) == 0 {
		return
	}
	traceState, ok := state["_trace"].(map[string]any)
	if !ok {
		traceState = map[string]any{}
	}
	existing, _ := traceState["span_log"].([]any)
	for _, s := range spans {
		existing = append(existing, map[string]any{
			"doc_index": s.DocIndex, "start_char": s.StartChar, "end_char": s.EndChar, "tag": s.Tag,
		})
	}
	traceState["span_log"] = existing
	state["_trace"] = traceState
}

func traceSpans(state map[string]any) []models.SpanLogEntry {
	traceState, ok := state["_trace"].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := traceState["span_log"].([]any)
	if !ok {
		return nil
	}
	out := make([]models.SpanLogEntry, 0, len(raw))
	for _, v := range raw {
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, models.SpanLogEntry{
			DocIndex:  intField(entry, "doc_index"),
			StartChar: intField(entry, "start_char"),
			EndChar:   intField(entry, "end_char"),
			Tag:       stringField(entry, "tag"),
		})
	}
	return out
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
