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
	"sort"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/kestrelrun/rlmrs/internal/citations"
	"github.com/kestrelrun/rlmrs/internal/config"
	"github.com/kestrelrun/rlmrs/internal/metrics"
	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/provider"
	"github.com/kestrelrun/rlmrs/internal/rootprompt"
	"github.com/kestrelrun/rlmrs/internal/sandbox/executor"
	"github.com/kestrelrun/rlmrs/internal/search"
	"github.com/kestrelrun/rlmrs/internal/statecodec"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
	"github.com/kestrelrun/rlmrs/internal/storage/record"
	"github.com/kestrelrun/rlmrs/internal/telemetry"
	"github.com/kestrelrun/rlmrs/internal/trace"
)

// Worker is one orchestrator replica: it leases RUNNING Answerer executions,
// drives each one's turn loop to a terminal status, and releases the lease.
// Multiple Workers (distinct OwnerID) can run concurrently against the same
// Store; AcquireLease is the only coordination they need.
type Worker struct {
	Settings      config.Settings
	Store         record.Store
	Blob          blob.Store
	Provider      provider.Provider
	SearchBackend search.Backend
	Logger        logr.Logger
	OwnerID       string

	LeaseDuration  time.Duration
	MaxConcurrency int
}

// NewWorker builds a Worker with an OwnerID and concurrency/lease defaults
// sourced from settings.
func NewWorker(settings config.Settings, store record.Store, blobStore blob.Store, llm provider.Provider, searchBackend search.Backend, logger logr.Logger) *Worker {
	return &Worker{
		Settings:       settings,
		Store:          store,
		Blob:           blobStore,
		Provider:       llm,
		SearchBackend:  searchBackend,
		Logger:         logger.WithName("orchestrator"),
		OwnerID:        uuid.NewString(),
		LeaseDuration:  time.Duration(settings.LeaseDurationSeconds) * time.Second,
		MaxConcurrency: settings.ToolResolutionMaxConcurrency,
	}
}

// Run drives RunOnce on a fixed tick until ctx is cancelled, the scheduler.go
// ticker+select idiom adapted to a single outer loop rather than a
// per-candidate goroutine dispatch (the per-execution work already runs
// serially within one tick by design: a slow execution on this replica
// should not free up a second concurrent lease against the same store).
func (w *Worker) Run(ctx context.Context) error {
	interval := time.Duration(w.Settings.TickIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.Logger.Info("worker stopping")
			return nil
		case <-ticker.C:
			if _, err := w.RunOnce(ctx, 0); err != nil {
				w.Logger.Error(err, "tick failed")
			}
		}
	}
}

// RunOnce scans candidate executions, leases and drives each one in turn up
// to limit executions (0 means no limit), and returns how many it processed.
func (w *Worker) RunOnce(ctx context.Context, limit int) (int, error) {
	candidates, err := w.Store.ScanRunningAnswererExecutions(ctx)
	if err != nil {
		return 0, err
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].SessionID != candidates[j].SessionID {
			return candidates[i].SessionID < candidates[j].SessionID
		}
		return candidates[i].ExecutionID < candidates[j].ExecutionID
	})

	processed := 0
	for _, exec := range candidates {
		if limit > 0 && processed >= limit {
			break
		}
		if exec.SessionID == "" || exec.ExecutionID == "" {
			continue
		}
		acquired, err := w.Store.AcquireLease(ctx, exec.SessionID, exec.ExecutionID, w.OwnerID, time.Now(), w.LeaseDuration)
		if err != nil {
			w.Logger.Error(err, "acquire lease failed", "session", exec.SessionID, "execution", exec.ExecutionID)
			continue
		}
		if !acquired {
			continue
		}
		metrics.LeasesAcquiredTotal.Inc()
		metrics.ActiveExecutions.Inc()

		ran, err := w.runExecution(ctx, exec)
		if err != nil {
			w.Logger.Error(err, "run execution failed", "session", exec.SessionID, "execution", exec.ExecutionID)
		} else if ran {
			processed++
		}

		metrics.ActiveExecutions.Dec()
		if err := w.Store.ReleaseLease(ctx, exec.SessionID, exec.ExecutionID, w.OwnerID); err != nil {
			w.Logger.Error(err, "release lease failed", "session", exec.SessionID, "execution", exec.ExecutionID)
		}
	}
	return processed, nil
}

// runExecution drives one execution's turn loop from its current state to a
// terminal status, or until ctx is cancelled. It returns (true, nil) once a
// terminal status has been written, and (false, nil) for a malformed
// candidate silently ignored (no session_id/execution_id/tenant_id).
func (w *Worker) runExecution(ctx context.Context, exec models.Execution) (bool, error) {
	if exec.SessionID == "" || exec.ExecutionID == "" || exec.TenantID == "" {
		return false, nil
	}
	ctx, span := telemetry.StartExecutionSpan(ctx, exec.TenantID, exec.SessionID, exec.ExecutionID)
	defer span.End()

	start := time.Now()

	tracer := trace.NewCollector()
	defer func() {
		entries := tracer.Entries()
		if len(entries) == 0 {
			return
		}
		if err := trace.Persist(ctx, w.Blob, exec.TenantID, exec.ExecutionID, entries); err != nil {
			w.Logger.Error(err, "trace persist failed", "execution", exec.ExecutionID)
		}
	}()

	session, err := w.Store.GetSession(ctx, exec.TenantID, exec.SessionID)
	if err != nil {
		return false, err
	}
	if session == nil {
		return w.finalizeFailed(ctx, exec, start)
	}

	documents, err := w.Store.QueryDocuments(ctx, exec.SessionID)
	if err != nil {
		return false, err
	}
	if len(documents) == 0 {
		return w.finalizeFailed(ctx, exec, start)
	}

	resolvedModels := resolveModels(&exec, session, w.Settings)
	if resolvedModels == nil || resolvedModels.RootModel == "" {
		return w.finalizeFailed(ctx, exec, start)
	}
	budgets := resolveBudgets(&exec, session)
	rootModel := resolvedModels.RootModel
	subModel := resolvedModels.SubModel
	subcallsEnabled := subModel != nil

	manifest, err := buildContextManifest(documents)
	if err != nil {
		return w.finalizeFailed(ctx, exec, start)
	}
	docLengthsChars := docLengthsOf(documents)
	docIndexes := docIndexesOf(documents)

	executionState, err := w.Store.GetExecutionState(ctx, exec.ExecutionID)
	if err != nil {
		return false, err
	}
	if executionState == nil {
		return w.finalizeFailed(ctx, exec, start)
	}

	statePayload, err := statecodec.Load(ctx, w.Blob, executionState.StateJSON, executionState.StateURI)
	if err != nil {
		return w.finalizeFailed(ctx, exec, start)
	}
	state, err := ensureToolState(statePayload)
	if err != nil {
		return w.finalizeFailed(ctx, exec, start)
	}

	tracker := BudgetTrackerFromState(state, budgets)
	turnIndex := nextTurnIndex(executionState)
	lastStdout := executionState.Stdout
	var lastError *string
	if executionState.HasStepSnapshot {
		lastError = formatStepError(executionState.StepError)
	}
	limits := models.LimitsFromBudgets(budgets)
	// Session.Options.EnableSearch is set at session-creation time (falling
	// back to Settings.EnableSearch there); the orchestrator only reads it.
	enableSearch := session.Options.EnableSearch

	var spanLog []models.SpanLogEntry

	for {
		if tracker.OverMaxTurns() {
			return w.finalizeTerminal(ctx, exec, models.StatusMaxTurnsExceeded, "", nil, tracker, start)
		}
		if tracker.OverTotalSeconds() {
			return w.finalizeTerminal(ctx, exec, models.StatusBudgetExceeded, "", nil, tracker, start)
		}

		setBudgetSnapshot(state, tracker)
		prompt, err := rootprompt.Build(rootprompt.BuildArgs{
			Question:        exec.Question,
			DocCount:        len(docLengthsChars),
			DocLengthsChars: docLengthsChars,
			BudgetSnapshot:  tracker.Snapshot(),
			LastStdout:      orNilIfEmpty(lastStdout),
			LastError:       lastError,
			SubcallsEnabled: subcallsEnabled,
		})
		if err != nil {
			return w.finalizeFailed(ctx, exec, start)
		}
		if !tracker.CanAcceptPrompt(len(prompt)) {
			return w.finalizeTerminal(ctx, exec, models.StatusBudgetExceeded, "", nil, tracker, start)
		}

		turnCtx, turnSpan := telemetry.StartTurnSpan(ctx, exec.ExecutionID, turnIndex)
		llmCtx, llmSpan := telemetry.StartLLMCallSpan(turnCtx, rootModel, w.Provider.Name(), true)
		rootOutput, err := w.Provider.CompleteRoot(llmCtx, prompt, rootModel, exec.TenantID)
		telemetry.EndLLMCallSpan(llmSpan, len(prompt), false)
		if err != nil {
			turnSpan.End()
			return false, err
		}
		tracker.RecordPrompt(len(prompt))

		code, err := rootprompt.Parse(rootOutput)
		if err != nil {
			msg := err.Error()
			lastError = &msg
			tracker.RecordTurn()
			turnSpan.End()
			continue
		}

		event := models.StepEvent{
			TenantID: exec.TenantID, SessionID: exec.SessionID, ExecutionID: exec.ExecutionID,
			TurnIndex: turnIndex, Code: code, State: state, ContextManifest: manifest, Limits: limits,
		}
		stepCtx, stepSpan := telemetry.StartStepSpan(turnCtx, exec.ExecutionID, turnIndex)
		result := executor.Execute(stepCtx, event, w.Blob)
		errorCode := ""
		if result.Error != nil {
			errorCode = result.Error.Code
			metrics.RecordStepError(errorCode)
		}
		telemetry.EndStepSpan(stepSpan, result.Success, len(result.SpanLog), len(result.ToolRequests.LLM)+len(result.ToolRequests.Search), errorCode)
		metrics.TurnsTotal.WithLabelValues(string(models.ModeAnswerer)).Inc()

		tracer.Record(trace.Entry{
			TurnIndex: turnIndex, Code: code, Stdout: result.Stdout,
			SpanLog: result.SpanLog, ToolRequests: result.ToolRequests,
			Error: result.Error, Final: result.Final, CreatedAt: time.Now(),
		})
		if err := w.Store.AppendCodeLog(ctx, models.CodeLogEntry{
			ExecutionID: exec.ExecutionID, Sequence: int64(turnIndex), TurnIndex: turnIndex,
			Code: code, CreatedAt: time.Now(),
		}); err != nil {
			w.Logger.Error(err, "code log append failed", "execution", exec.ExecutionID, "turn", turnIndex)
		}

		spanLog = append(spanLog, result.SpanLog...)
		tracker.RecordTurn()

		nextState := state
		if resultState, ok := result.State.(map[string]any); ok {
			nextState = statecodec.MergeReserved(resultState, state)
		}
		if _, err := ensureToolState(nextState); err != nil {
			turnSpan.End()
			return w.finalizeFailed(ctx, exec, start)
		}
		setBudgetSnapshot(nextState, tracker)

		persisted, err := statecodec.Persist(ctx, w.Blob, nextState, exec.TenantID, exec.ExecutionID, turnIndex, 0)
		if err != nil {
			turnSpan.End()
			return w.finalizeFailed(ctx, exec, start)
		}
		if err := w.Store.PutExecutionState(ctx, models.ExecutionState{
			ExecutionID: exec.ExecutionID, TurnIndex: turnIndex,
			StateJSON: persisted.StateJSON, StateURI: persisted.StateURI,
			Checksum: persisted.Checksum, Summary: persisted.Summary,
			UpdatedAt: time.Now(), TTL: session.CreatedAt.Add(session.TTL),
			HasStepSnapshot: true, Success: result.Success, Stdout: result.Stdout,
			SpanLog: result.SpanLog, ToolRequests: result.ToolRequests,
			Final: result.Final, StepError: result.Error,
		}); err != nil {
			turnSpan.End()
			return w.finalizeFailed(ctx, exec, start)
		}

		state = nextState
		lastStdout = result.Stdout
		lastError = formatStepError(result.Error)
		turnIndex++
		turnSpan.End()

		if result.Final != nil && result.Final.IsFinal {
			return w.finalizeCompleted(ctx, exec, documents, spanLog, result.Final.Answer, tracker, start)
		}

		if !result.Success || result.ToolRequests.Empty() {
			continue
		}

		resolveCtx, resolveSpan := telemetry.StartToolResolveSpan(ctx, exec.ExecutionID, len(result.ToolRequests.LLM), len(result.ToolRequests.Search))
		toolResults, statuses, err := resolveToolRequests(
			resolveCtx, result.ToolRequests, exec.TenantID, exec.SessionID,
			w.Provider, tracker, subModel, enableSearch, w.SearchBackend,
			docIndexes, docLengthsChars, w.MaxConcurrency,
		)
		resolveSpan.End()
		if err != nil {
			var budgetErr errBudgetExceeded
			if errors.As(err, &budgetErr) {
				return w.finalizeTerminal(ctx, exec, models.StatusBudgetExceeded, "", nil, tracker, start)
			}
			return false, err
		}
		tracer.AttachToolResults(turnIndex-1, toolResults, statuses)

		if err := applyToolResults(state, toolResults, statuses); err != nil {
			return w.finalizeFailed(ctx, exec, start)
		}
		setBudgetSnapshot(state, tracker)
		persisted, err = statecodec.Persist(ctx, w.Blob, state, exec.TenantID, exec.ExecutionID, turnIndex-1, 0)
		if err != nil {
			return w.finalizeFailed(ctx, exec, start)
		}
		if err := w.Store.PutExecutionState(ctx, models.ExecutionState{
			ExecutionID: exec.ExecutionID, TurnIndex: turnIndex - 1,
			StateJSON: persisted.StateJSON, StateURI: persisted.StateURI,
			Checksum: persisted.Checksum, Summary: persisted.Summary,
			UpdatedAt: time.Now(), TTL: session.CreatedAt.Add(session.TTL),
			HasStepSnapshot: true, Success: result.Success, Stdout: result.Stdout,
			SpanLog: result.SpanLog, ToolRequests: result.ToolRequests,
			Final: result.Final, StepError: result.Error,
		}); err != nil {
			return w.finalizeFailed(ctx, exec, start)
		}
	}
}

func orNilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (w *Worker) finalizeFailed(ctx context.Context, exec models.Execution, start time.Time) (bool, error) {
	return w.finalizeTerminal(ctx, exec, models.StatusFailed, "", nil, nil, start)
}

func (w *Worker) finalizeCompleted(ctx context.Context, exec models.Execution, documents []models.Document, spanLog []models.SpanLogEntry, answer string, tracker *BudgetTracker, start time.Time) (bool, error) {
	citationSpans, err := w.buildCitations(ctx, exec, documents, spanLog)
	if err != nil {
		w.Logger.Error(err, "citation computation failed, finalizing with none", "execution", exec.ExecutionID)
		citationSpans = nil
	}
	return w.finalizeTerminal(ctx, exec, models.StatusCompleted, answer, citationSpans, tracker, start)
}

func (w *Worker) buildCitations(ctx context.Context, exec models.Execution, documents []models.Document, spanLog []models.SpanLogEntry) ([]models.CitationSpan, error) {
	texts, err := loadDocumentsText(ctx, w.Blob, documents)
	if err != nil {
		return nil, err
	}
	return citations.MakeCitationSpans(spanLog, texts, exec.TenantID, exec.SessionID, w.Settings.CitationMergeGapChars)
}

// finalizeTerminal performs the conditional RUNNING -> status transition and
// records the terminal-status metric. tracker is nil only for the earliest
// failures (session/documents/models not resolvable), before any turn has
// been charged against a budget.
func (w *Worker) finalizeTerminal(ctx context.Context, exec models.Execution, status models.ExecutionStatus, answer string, citationSpans []models.CitationSpan, tracker *BudgetTracker, start time.Time) (bool, error) {
	outcome := record.StatusOutcome{
		Answer:      answer,
		Citations:   citationSpans,
		CompletedAt: time.Now(),
		DurationMS:  time.Since(start).Milliseconds(),
	}
	if tracker != nil {
		outcome.BudgetsConsumed = tracker.Consumed()
	}
	err := w.Store.UpdateExecutionStatus(ctx, exec.SessionID, exec.ExecutionID, models.StatusRunning, status, outcome)
	if errors.Is(err, record.ErrConditionFailed) {
		// Another replica already moved this execution out of RUNNING; this
		// pass did not finalize anything.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	metrics.RecordExecutionTerminal(string(status), time.Since(start))
	return true, nil
}
