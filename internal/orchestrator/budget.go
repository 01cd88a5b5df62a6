/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package orchestrator drives the Answerer-mode control loop spec.md §4.10
// describes: it leases a RUNNING execution, builds the root prompt, invokes
// the StepExecutor, resolves queued tool requests, persists state, and
// repeats until the execution reaches a terminal status.
package orchestrator

import (
	"encoding/json"
	"time"

	"github.com/kestrelrun/rlmrs/internal/models"
)

// errBudgetExceeded marks a tool-resolution call that exceeded the execution's
// remaining subcall or prompt-char budget; it is not a wire error, only a
// control-flow signal back to runExecution.
type errBudgetExceeded struct{}

func (errBudgetExceeded) Error() string { return "budget exceeded" }

// BudgetTracker accumulates what one execution has spent against its
// requested Budgets. A tracker is scoped to a single runExecution call; it is
// rebuilt from the persisted state at the start of every orchestrator pass.
type BudgetTracker struct {
	Budgets     *models.Budgets
	StartTime   time.Time
	Turns       int
	LLMSubcalls int
	// TotalPromptChars accumulates root-prompt and sub-call prompt lengths
	// alike, both recorded through RecordPrompt.
	TotalPromptChars int
}

// NewBudgetTracker starts a fresh tracker against budgets, with the clock
// starting now.
func NewBudgetTracker(budgets *models.Budgets) *BudgetTracker {
	return &BudgetTracker{Budgets: budgets, StartTime: time.Now()}
}

// ElapsedSeconds is whole seconds since the tracker's StartTime.
func (t *BudgetTracker) ElapsedSeconds() int {
	return int(time.Since(t.StartTime).Seconds())
}

// OverMaxTurns reports whether the next turn would exceed MaxTurns.
func (t *BudgetTracker) OverMaxTurns() bool {
	if t.Budgets == nil || t.Budgets.MaxTurns == nil {
		return false
	}
	return t.Turns >= *t.Budgets.MaxTurns
}

// OverTotalSeconds reports whether the execution has run past MaxTotalSeconds.
func (t *BudgetTracker) OverTotalSeconds() bool {
	if t.Budgets == nil || t.Budgets.MaxTotalSeconds == nil {
		return false
	}
	return t.ElapsedSeconds() >= *t.Budgets.MaxTotalSeconds
}

// CanAcceptPrompt reports whether a prompt of promptLen chars fits within
// MaxLLMPromptChars and the running MaxTotalLLMPromptChars.
func (t *BudgetTracker) CanAcceptPrompt(promptLen int) bool {
	if t.Budgets == nil {
		return true
	}
	if t.Budgets.MaxLLMPromptChars != nil && promptLen > *t.Budgets.MaxLLMPromptChars {
		return false
	}
	if t.Budgets.MaxTotalLLMPromptChars != nil && t.TotalPromptChars+promptLen > *t.Budgets.MaxTotalLLMPromptChars {
		return false
	}
	return true
}

// CanAcceptSubcalls reports whether count more sub-completion calls fit
// within MaxLLMSubcalls.
func (t *BudgetTracker) CanAcceptSubcalls(count int) bool {
	if t.Budgets == nil || t.Budgets.MaxLLMSubcalls == nil {
		return true
	}
	return t.LLMSubcalls+count <= *t.Budgets.MaxLLMSubcalls
}

// RecordPrompt accounts for a root-prompt or sub-prompt call of promptLen chars.
func (t *BudgetTracker) RecordPrompt(promptLen int) {
	t.TotalPromptChars += promptLen
}

// RecordSubcalls accounts for count completed sub-calls.
func (t *BudgetTracker) RecordSubcalls(count int) {
	t.LLMSubcalls += count
}

// RecordTurn accounts for one completed orchestrator turn.
func (t *BudgetTracker) RecordTurn() {
	t.Turns++
}

// BudgetSnapshot is the JSON shape written into state._budgets and into a
// terminal execution's consumed-budget summary: limits (omitting unset
// fields, same as Budgets' own omitempty tags), what has been consumed so
// far, and what remains where a limit is set.
type BudgetSnapshot struct {
	Limits    map[string]any `json:"limits"`
	Consumed  map[string]any `json:"consumed"`
	Remaining map[string]any `json:"remaining"`
}

// Snapshot renders the tracker's current state. Limits is built by
// marshaling Budgets through its own omitempty tags rather than by
// hand-listing fields, so the snapshot always matches Budgets' JSON shape.
func (t *BudgetTracker) Snapshot() *BudgetSnapshot {
	limits := map[string]any{}
	if t.Budgets != nil {
		raw, err := json.Marshal(t.Budgets)
		if err == nil {
			_ = json.Unmarshal(raw, &limits)
		}
	}

	consumed := map[string]any{
		"turns":              t.Turns,
		"llm_subcalls":       t.LLMSubcalls,
		"total_seconds":      t.ElapsedSeconds(),
		"total_prompt_chars": t.TotalPromptChars,
	}

	remaining := map[string]any{}
	if t.Budgets != nil {
		if t.Budgets.MaxTurns != nil {
			remaining["max_turns"] = maxInt(0, *t.Budgets.MaxTurns-t.Turns)
		}
		if t.Budgets.MaxTotalSeconds != nil {
			remaining["max_total_seconds"] = maxInt(0, *t.Budgets.MaxTotalSeconds-t.ElapsedSeconds())
		}
		if t.Budgets.MaxLLMSubcalls != nil {
			remaining["max_llm_subcalls"] = maxInt(0, *t.Budgets.MaxLLMSubcalls-t.LLMSubcalls)
		}
		if t.Budgets.MaxTotalLLMPromptChars != nil {
			remaining["max_total_llm_prompt_chars"] = maxInt(0, *t.Budgets.MaxTotalLLMPromptChars-t.TotalPromptChars)
		}
	}

	return &BudgetSnapshot{Limits: limits, Consumed: consumed, Remaining: remaining}
}

// Consumed reduces the tracker to the terminal-status BudgetsConsumed shape.
func (t *BudgetTracker) Consumed() *models.BudgetsConsumed {
	return &models.BudgetsConsumed{
		Turns:            t.Turns,
		LLMSubcalls:      t.LLMSubcalls,
		TotalSeconds:     t.ElapsedSeconds(),
		TotalPromptChars: t.TotalPromptChars,
	}
}

// BudgetTrackerFromState restores a tracker from a previously persisted
// state._budgets.consumed block, backdating StartTime by total_seconds so
// elapsed-time accounting stays continuous across orchestrator resumptions.
// A missing or malformed block yields a fresh tracker.
func BudgetTrackerFromState(state map[string]any, budgets *models.Budgets) *BudgetTracker {
	tracker := NewBudgetTracker(budgets)
	raw, ok := state["_budgets"]
	if !ok {
		return tracker
	}
	budgetsState, ok := raw.(map[string]any)
	if !ok {
		return tracker
	}
	consumed, ok := budgetsState["consumed"].(map[string]any)
	if !ok {
		return tracker
	}

	tracker.Turns = intField(consumed, "turns")
	tracker.LLMSubcalls = intField(consumed, "llm_subcalls")
	tracker.TotalPromptChars = intField(consumed, "total_prompt_chars")
	totalSeconds := intField(consumed, "total_seconds")
	tracker.StartTime = time.Now().Add(-time.Duration(totalSeconds) * time.Second)
	return tracker
}

func intField(m map[string]any, key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// nextTurnIndex resolves the turn a fresh orchestrator pass should run.
// A state row with no step snapshot yet (the execution's very first pass, or
// one resumed before any step completed) is already positioned at its
// TurnIndex; one with a completed step snapshot advances past it.
func nextTurnIndex(state *models.ExecutionState) int {
	if !state.HasStepSnapshot {
		return state.TurnIndex
	}
	return state.TurnIndex + 1
}
