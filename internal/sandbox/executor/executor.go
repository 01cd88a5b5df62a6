/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package executor implements the StepExecutor (spec.md §4.5): validates a
// queued program against policy, runs it inside a goja VM against the
// context/state/tool bindings, and classifies the outcome (yield, final,
// timeout, budget, validation, internal error) into a StepResult.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/rlmerrors"
	"github.com/kestrelrun/rlmrs/internal/sandbox/docview"
	"github.com/kestrelrun/rlmrs/internal/sandbox/policy"
	"github.com/kestrelrun/rlmrs/internal/sandbox/toolapi"
	"github.com/kestrelrun/rlmrs/internal/statecodec"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
)

type stepTimeout struct{}

func (stepTimeout) Error() string { return "step exceeded max_step_seconds" }

// Execute runs event.Code inside a fresh goja VM. Every failure, whether
// program-level or a host-side setup failure (a binding that cannot be
// installed), is reported as a StepResult with Success=false and a
// populated Error, matching spec.md's classified failure taxonomy.
func Execute(ctx context.Context, event models.StepEvent, store blob.Store) models.StepResult {
	if err := policy.ValidateSource(event.Code); err != nil {
		if polErr, ok := err.(*policy.Error); ok {
			return errorResult(event.State, rlmerrors.SandboxAstRejected, err.Error(), violationDetails(polErr))
		}
		return errorResult(event.State, rlmerrors.ValidationError, err.Error(), nil)
	}

	cv := docview.New(event.ContextManifest, store)
	tool := toolapi.New(event.Limits, asObject(event.State))

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	var stdout strings.Builder
	maxStdout := -1
	if event.Limits != nil && event.Limits.MaxStdoutChars != nil {
		maxStdout = *event.Limits.MaxStdoutChars
	}

	installConsole(vm, &stdout)
	if err := installContext(vm, cv); err != nil {
		return errorResult(event.State, rlmerrors.InternalError, err.Error(), nil)
	}
	if err := vm.Set("state", event.State); err != nil {
		return errorResult(event.State, rlmerrors.InternalError, err.Error(), nil)
	}
	if err := installTool(vm, tool); err != nil {
		return errorResult(event.State, rlmerrors.InternalError, err.Error(), nil)
	}
	if err := policy.PruneGlobals(vm, "context", "state", "tool", "console", "print"); err != nil {
		return errorResult(event.State, rlmerrors.InternalError, err.Error(), nil)
	}

	var maxStepSeconds *int
	if event.Limits != nil {
		maxStepSeconds = event.Limits.MaxStepSeconds
	}
	stopTimer := armTimeout(vm, maxStepSeconds)
	defer stopTimer()

	final, execErr := runProgram(vm, event.Code)

	stdoutStr := truncate(stdout.String(), maxStdout)
	spanLog := cv.SpanLog()
	toolRequests := tool.ToolRequests()
	var toolRequestsPtr *models.ToolRequestsEnvelope
	if !toolRequests.Empty() {
		toolRequestsPtr = &toolRequests
	}

	if execErr != nil {
		code, message, details := classify(execErr, maxStepSeconds, event.Limits)
		return models.StepResult{
			Success: false,
			Stdout:  stdoutStr,
			State:   event.State,
			SpanLog: spanLog,
			ToolRequests: orEmpty(toolRequestsPtr),
			Error:   &models.StepError{Code: string(code), Message: message, Details: details},
		}
	}

	stateValue := exportState(vm, event.State)

	if errResult := stateLimitError(stateValue, event.Limits); errResult != nil {
		return models.StepResult{
			Success: false, Stdout: stdoutStr, State: event.State, SpanLog: spanLog,
			ToolRequests: orEmpty(toolRequestsPtr), Error: errResult,
		}
	}
	if errResult := toolLimitError(toolRequests, event.Limits); errResult != nil {
		return models.StepResult{
			Success: false, Stdout: stdoutStr, State: stateValue, SpanLog: spanLog,
			ToolRequests: orEmpty(toolRequestsPtr), Error: errResult,
		}
	}
	if errResult := spanLimitError(len(spanLog), event.Limits); errResult != nil {
		return models.StepResult{
			Success: false, Stdout: stdoutStr, State: stateValue, SpanLog: spanLog,
			ToolRequests: orEmpty(toolRequestsPtr), Error: errResult,
		}
	}

	return models.StepResult{
		Success: true, Stdout: stdoutStr, State: stateValue, SpanLog: spanLog,
		ToolRequests: orEmpty(toolRequestsPtr), Final: final,
	}
}

func orEmpty(p *models.ToolRequestsEnvelope) models.ToolRequestsEnvelope {
	if p == nil {
		return models.ToolRequestsEnvelope{}
	}
	return *p
}

func runProgram(vm *goja.Runtime, code string) (final *models.StepFinal, err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case *toolapi.Yield:
				final = &models.StepFinal{IsFinal: false, Answer: v.Reason}
			case *toolapi.Final:
				final = &models.StepFinal{IsFinal: true, Answer: v.Answer}
			case *toolapi.RequestLimitError, *toolapi.PreconditionError, *toolapi.ArgumentError:
				err = r.(error)
			case error:
				err = v
			default:
				err = fmt.Errorf("panic: %v", r)
			}
		}
	}()
	_, runErr := vm.RunString(code)
	if runErr == nil {
		return nil, nil
	}
	if ie, ok := runErr.(*goja.InterruptedError); ok {
		if _, isYield := ie.Value().(*toolapi.Yield); isYield {
			return nil, nil
		}
		return nil, runErr
	}
	return nil, runErr
}

func armTimeout(vm *goja.Runtime, maxStepSeconds *int) func() {
	if maxStepSeconds == nil {
		return func() {}
	}
	if *maxStepSeconds <= 0 {
		vm.Interrupt(stepTimeout{})
		return func() {}
	}
	timer := time.AfterFunc(time.Duration(*maxStepSeconds)*time.Second, func() {
		vm.Interrupt(stepTimeout{})
	})
	return func() { timer.Stop() }
}

func classify(err error, maxStepSeconds *int, limits *models.LimitsSnapshot) (rlmerrors.Code, string, map[string]any) {
	if ie, ok := err.(*goja.InterruptedError); ok {
		if _, isTimeout := ie.Value().(stepTimeout); isTimeout {
			return rlmerrors.StepTimeout, "step exceeded max_step_seconds", map[string]any{"limit": maxStepSeconds}
		}
	}
	switch v := err.(type) {
	case *toolapi.RequestLimitError:
		return rlmerrors.BudgetExceeded, v.Error(), map[string]any{"limit": v.Limit}
	case *toolapi.PreconditionError:
		return rlmerrors.ValidationError, v.Error(), map[string]any{"key": v.Key, "missing_llm_keys": v.MissingLLMKeys}
	case *toolapi.ArgumentError:
		return rlmerrors.ValidationError, v.Error(), nil
	}
	return rlmerrors.InternalError, err.Error(), map[string]any{"type": fmt.Sprintf("%T", err)}
}

func violationDetails(polErr *policy.Error) map[string]any {
	violations := make([]map[string]any, len(polErr.Violations))
	for i, v := range polErr.Violations {
		violations[i] = map[string]any{
			"rule": string(v.Rule), "message": v.Message, "line": v.Line, "col": v.Col,
		}
	}
	return map[string]any{"violations": violations}
}

func errorResult(state any, code rlmerrors.Code, message string, details map[string]any) models.StepResult {
	return models.StepResult{
		Success: false,
		State:   state,
		Error:   &models.StepError{Code: string(code), Message: message, Details: details},
	}
}

func truncate(s string, limit int) string {
	if limit < 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func asObject(state any) map[string]any {
	obj, _ := statecodec.AsObject(state)
	return obj
}

func exportState(vm *goja.Runtime, fallback any) any {
	v := vm.Get("state")
	if v == nil {
		return fallback
	}
	return v.Export()
}

func stateLimitError(state any, limits *models.LimitsSnapshot) *models.StepError {
	if err := statecodec.ValidateStatePayload(state); err != nil {
		if rerr, ok := err.(*rlmerrors.Error); ok {
			return &models.StepError{Code: string(rerr.Code), Message: rerr.Message}
		}
		return &models.StepError{Code: string(rlmerrors.StateInvalidType), Message: err.Error()}
	}
	if limits == nil || limits.MaxStateChars == nil {
		return nil
	}
	canonical, err := statecodec.CanonicalBytes(state)
	if err != nil {
		return &models.StepError{Code: string(rlmerrors.InternalError), Message: err.Error()}
	}
	length := statecodec.CharLen(canonical)
	limit := *limits.MaxStateChars
	if length <= limit {
		return nil
	}
	return &models.StepError{
		Code:    string(rlmerrors.StateTooLarge),
		Message: fmt.Sprintf("state size exceeded: %d", limit),
		Details: map[string]any{"limit": limit, "observed": length},
	}
}

func toolLimitError(envelope models.ToolRequestsEnvelope, limits *models.LimitsSnapshot) *models.StepError {
	if limits == nil || limits.MaxToolRequestsPerStep == nil {
		return nil
	}
	limit := *limits.MaxToolRequestsPerStep
	observed := len(envelope.LLM) + len(envelope.Search)
	if observed <= limit {
		return nil
	}
	return &models.StepError{
		Code:    string(rlmerrors.BudgetExceeded),
		Message: fmt.Sprintf("tool request limit exceeded: %d", limit),
		Details: map[string]any{"limit": limit, "observed": observed},
	}
}

func spanLimitError(spanCount int, limits *models.LimitsSnapshot) *models.StepError {
	if limits == nil || limits.MaxSpansPerStep == nil {
		return nil
	}
	limit := *limits.MaxSpansPerStep
	if spanCount <= limit {
		return nil
	}
	return &models.StepError{
		Code:    string(rlmerrors.BudgetExceeded),
		Message: fmt.Sprintf("span limit exceeded: %d", limit),
		Details: map[string]any{"limit": limit, "observed": spanCount},
	}
}
