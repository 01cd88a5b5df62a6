/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package orchestrator

import (
	"testing"
	"time"

	"github.com/kestrelrun/rlmrs/internal/models"
)

func intPtr(n int) *int { return &n }

func TestBudgetTrackerOverLimits(t *testing.T) {
	tracker := NewBudgetTracker(&models.Budgets{MaxTurns: intPtr(2), MaxTotalSeconds: intPtr(100)})
	if tracker.OverMaxTurns() {
		t.Fatalf("fresh tracker should not be over max turns")
	}
	tracker.RecordTurn()
	tracker.RecordTurn()
	if !tracker.OverMaxTurns() {
		t.Errorf("expected over max turns after 2 recorded turns against a limit of 2")
	}
}

func TestBudgetTrackerNilBudgetsNeverLimits(t *testing.T) {
	tracker := NewBudgetTracker(nil)
	if tracker.OverMaxTurns() || tracker.OverTotalSeconds() {
		t.Fatalf("a nil Budgets should never report over-limit")
	}
	if !tracker.CanAcceptPrompt(1_000_000) || !tracker.CanAcceptSubcalls(1_000_000) {
		t.Errorf("a nil Budgets should accept any prompt/subcall volume")
	}
}

func TestBudgetTrackerCanAcceptPrompt(t *testing.T) {
	tracker := NewBudgetTracker(&models.Budgets{
		MaxLLMPromptChars:      intPtr(10),
		MaxTotalLLMPromptChars: intPtr(15),
	})
	if !tracker.CanAcceptPrompt(10) {
		t.Errorf("a prompt exactly at the per-call limit should be accepted")
	}
	if tracker.CanAcceptPrompt(11) {
		t.Errorf("a prompt over the per-call limit should be rejected")
	}
	tracker.RecordPrompt(10)
	if tracker.CanAcceptPrompt(6) {
		t.Errorf("expected the running total limit (15) to reject a 10+6 prompt")
	}
	if !tracker.CanAcceptPrompt(5) {
		t.Errorf("expected a 10+5 prompt to fit the running total limit of 15")
	}
}

func TestBudgetTrackerCanAcceptSubcalls(t *testing.T) {
	tracker := NewBudgetTracker(&models.Budgets{MaxLLMSubcalls: intPtr(2)})
	if !tracker.CanAcceptSubcalls(2) {
		t.Errorf("expected 2 subcalls to fit a limit of 2")
	}
	tracker.RecordSubcalls(2)
	if tracker.CanAcceptSubcalls(1) {
		t.Errorf("expected no further subcalls to fit once the limit is reached")
	}
}

func TestBudgetTrackerSnapshotShape(t *testing.T) {
	tracker := NewBudgetTracker(&models.Budgets{MaxTurns: intPtr(5), MaxLLMSubcalls: intPtr(3)})
	tracker.RecordTurn()
	tracker.RecordSubcalls(1)
	snap := tracker.Snapshot()

	if snap.Limits["max_turns"] != float64(5) {
		t.Errorf("expected limits.max_turns to round-trip through JSON as 5, got %v", snap.Limits["max_turns"])
	}
	if _, ok := snap.Limits["max_total_seconds"]; ok {
		t.Errorf("expected an unset budget field to be omitted from limits, matching Budgets' omitempty tags")
	}
	if snap.Consumed["turns"] != 1 {
		t.Errorf("expected consumed.turns == 1, got %v", snap.Consumed["turns"])
	}
	if snap.Remaining["max_turns"] != 4 {
		t.Errorf("expected remaining.max_turns == 4, got %v", snap.Remaining["max_turns"])
	}
}

func TestBudgetTrackerFromStateRestoresAndBackdates(t *testing.T) {
	state := map[string]any{
		"_budgets": map[string]any{
			"consumed": map[string]any{
				"turns":              float64(3),
				"llm_subcalls":       float64(2),
				"total_prompt_chars": float64(400),
				"total_seconds":      float64(120),
			},
		},
	}
	before := time.Now()
	tracker := BudgetTrackerFromState(state, &models.Budgets{MaxTotalSeconds: intPtr(1000)})

	if tracker.Turns != 3 || tracker.LLMSubcalls != 2 || tracker.TotalPromptChars != 400 {
		t.Fatalf("expected restored counters, got %+v", tracker)
	}
	if !tracker.StartTime.Before(before) {
		t.Errorf("expected StartTime backdated by total_seconds, got %v (before test start %v)", tracker.StartTime, before)
	}
	if elapsed := tracker.ElapsedSeconds(); elapsed < 120 {
		t.Errorf("expected elapsed seconds to already reflect the backdated total_seconds, got %d", elapsed)
	}
}

func TestBudgetTrackerFromStateMissingBlockYieldsFreshTracker(t *testing.T) {
	tracker := BudgetTrackerFromState(map[string]any{}, nil)
	if tracker.Turns != 0 || tracker.LLMSubcalls != 0 || tracker.TotalPromptChars != 0 {
		t.Fatalf("expected a fresh tracker when state carries no _budgets block, got %+v", tracker)
	}
}

func TestNextTurnIndexNoStepSnapshotStaysPut(t *testing.T) {
	state := &models.ExecutionState{TurnIndex: 0, HasStepSnapshot: false}
	if got := nextTurnIndex(state); got != 0 {
		t.Errorf("expected turn index 0 for a never-stepped execution, got %d", got)
	}
}

func TestNextTurnIndexAdvancesPastCompletedSnapshot(t *testing.T) {
	state := &models.ExecutionState{TurnIndex: 2, HasStepSnapshot: true}
	if got := nextTurnIndex(state); got != 3 {
		t.Errorf("expected turn index to advance to 3, got %d", got)
	}
}
