/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kestrelrun/rlmrs/internal/citations"
	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/orchestrator"
	"github.com/kestrelrun/rlmrs/internal/trace"
)

// submitArgs is the flag set runSubmit understands; unlike status/trace/
// citations (which take positional IDs) submit needs enough fields to build
// a whole Session and Execution, so it uses --flag value pairs like
// legatorctl's own mutating commands do.
type submitArgs struct {
	tenantID    string
	sessionID   string
	executionID string
	question    string
	rootModel   string
	subModel    string
	maxTurns    int
}

func parseSubmitArgs(args []string) (submitArgs, error) {
	var out submitArgs
	i := 0
	for i < len(args) {
		if i+1 >= len(args) {
			return out, fmt.Errorf("flag %s requires a value", args[i])
		}
		flag, value := args[i], args[i+1]
		switch flag {
		case "--tenant":
			out.tenantID = value
		case "--session":
			out.sessionID = value
		case "--execution":
			out.executionID = value
		case "--question":
			out.question = value
		case "--root-model":
			out.rootModel = value
		case "--sub-model":
			out.subModel = value
		case "--max-turns":
			n, err := intArg([]string{value}, 0)
			if err != nil {
				return out, err
			}
			out.maxTurns = n
		default:
			return out, fmt.Errorf("unknown flag: %s", flag)
		}
		i += 2
	}

	switch {
	case out.tenantID == "":
		return out, fmt.Errorf("--tenant is required")
	case out.sessionID == "":
		return out, fmt.Errorf("--session is required")
	case out.executionID == "":
		return out, fmt.Errorf("--execution is required")
	case out.question == "":
		return out, fmt.Errorf("--question is required")
	case out.rootModel == "":
		return out, fmt.Errorf("--root-model is required")
	}
	return out, nil
}

// runSubmit registers the session if it does not already exist, then writes
// a RUNNING execution row. A worker's next lease scan picks it up; rlmrs-ctl
// does not invoke the orchestrator directly.
func runSubmit(ctx context.Context, client *storeClient, cfg cliConfig, args []string) error {
	parsed, err := parseSubmitArgs(args)
	if err != nil {
		return err
	}

	existing, err := client.Store.GetSession(ctx, parsed.tenantID, parsed.sessionID)
	if err != nil {
		return fmt.Errorf("checking existing session: %w", err)
	}
	if existing == nil {
		session := models.Session{
			TenantID:  parsed.tenantID,
			SessionID: parsed.sessionID,
			Status:    models.SessionReady,
			TTL:       30 * 24 * time.Hour,
			Options:   models.SessionOptions{EnableSearch: true, Readiness: models.ReadinessLax},
			CreatedAt: time.Now().UTC(),
		}
		if err := client.Store.CreateSession(ctx, session); err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		printDim("created session %s/%s", parsed.tenantID, parsed.sessionID)
	}

	modelsConfig := &models.ModelsConfig{RootModel: parsed.rootModel}
	if parsed.subModel != "" {
		modelsConfig.SubModel = &parsed.subModel
	}
	var budgets *models.Budgets
	if parsed.maxTurns > 0 {
		budgets = &models.Budgets{MaxTurns: &parsed.maxTurns}
	}

	execution := models.Execution{
		TenantID:         parsed.tenantID,
		SessionID:        parsed.sessionID,
		ExecutionID:      parsed.executionID,
		Mode:             models.ModeAnswerer,
		Status:           models.StatusRunning,
		Question:         parsed.question,
		Models:           modelsConfig,
		BudgetsRequested: budgets,
		StartedAt:        time.Now().UTC(),
	}
	if err := client.Store.CreateExecution(ctx, execution); err != nil {
		return fmt.Errorf("creating execution: %w", err)
	}

	printHeading("submitted execution %s", parsed.executionID)
	fmt.Printf("  session:  %s/%s\n", parsed.tenantID, parsed.sessionID)
	fmt.Printf("  question: %s\n", truncate(parsed.question, 120))
	fmt.Printf("  status:   %s\n", colorizeStatus(execution.Status))
	return nil
}

func runStatus(ctx context.Context, client *storeClient, cfg cliConfig, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: status <session> <execution>")
	}
	sessionID, executionID := args[0], args[1]

	exec, err := client.Store.GetExecution(ctx, sessionID, executionID)
	if err != nil {
		return fmt.Errorf("fetching execution: %w", err)
	}
	if exec == nil {
		return fmt.Errorf("no execution %s/%s", sessionID, executionID)
	}

	if cfg.jsonOutput {
		return printJSON(exec)
	}

	printHeading("execution %s", exec.ExecutionID)
	fmt.Printf("  tenant:   %s\n", exec.TenantID)
	fmt.Printf("  mode:     %s\n", exec.Mode)
	fmt.Printf("  status:   %s\n", colorizeStatus(exec.Status))
	fmt.Printf("  question: %s\n", truncate(exec.Question, 120))
	fmt.Printf("  started:  %s\n", exec.StartedAt.Format(time.RFC3339))
	if exec.CompletedAt != nil {
		fmt.Printf("  completed: %s\n", exec.CompletedAt.Format(time.RFC3339))
	}
	if exec.DurationMS != nil {
		fmt.Printf("  duration: %dms\n", *exec.DurationMS)
	}
	if exec.BudgetsConsumed != nil {
		fmt.Printf("  turns:    %d\n", exec.BudgetsConsumed.Turns)
		fmt.Printf("  subcalls: %d\n", exec.BudgetsConsumed.LLMSubcalls)
	}
	if exec.Answer != "" {
		fmt.Printf("  answer:\n    %s\n", truncate(exec.Answer, 2000))
	}
	fmt.Printf("  citations: %d\n", len(exec.Citations))
	return nil
}

// runTrace tails a completed execution's persisted turn-by-turn trace,
// printing the code each turn ran, what it printed, and what it decided.
func runTrace(ctx context.Context, client *storeClient, cfg cliConfig, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: trace <tenant> <execution>")
	}
	tenantID, executionID := args[0], args[1]

	entries, err := trace.Load(ctx, client.Blob, tenantID, executionID)
	if err != nil {
		return fmt.Errorf("loading trace: %w", err)
	}
	if len(entries) == 0 {
		printDim("no trace entries for %s/%s", tenantID, executionID)
		return nil
	}

	for _, e := range entries {
		printHeading("turn %d", e.TurnIndex)
		fmt.Printf("  code:\n%s\n", indent(e.Code, "    "))
		if e.Stdout != "" {
			fmt.Printf("  stdout: %s\n", truncate(e.Stdout, 500))
		}
		if len(e.SpanLog) > 0 {
			fmt.Printf("  spans:  %d read\n", len(e.SpanLog))
		}
		if !e.ToolRequests.Empty() {
			fmt.Printf("  tools:  %d llm, %d search queued\n", len(e.ToolRequests.LLM), len(e.ToolRequests.Search))
		}
		if e.Error != nil {
			fmt.Printf("  error:  %s\n", statusBad.Sprint(e.Error.Code))
		}
		if e.Final != nil && e.Final.IsFinal {
			fmt.Printf("  final:  %s\n", statusGood.Sprint("yes"))
		}
	}
	return nil
}

// runCitations re-derives each citation span's checksum from the session's
// stored document text and reports whether it still matches, catching drift
// between an answer's citations and documents edited or re-parsed since.
func runCitations(ctx context.Context, client *storeClient, cfg cliConfig, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: citations <session> <execution>")
	}
	sessionID, executionID := args[0], args[1]

	exec, err := client.Store.GetExecution(ctx, sessionID, executionID)
	if err != nil {
		return fmt.Errorf("fetching execution: %w", err)
	}
	if exec == nil {
		return fmt.Errorf("no execution %s/%s", sessionID, executionID)
	}
	if len(exec.Citations) == 0 {
		printDim("execution %s has no citations", executionID)
		return nil
	}

	docs, err := client.Store.QueryDocuments(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}
	textByDocID := make(map[string]string, len(docs))
	uriByDocID := make(map[string]string, len(docs))
	for _, d := range docs {
		uriByDocID[d.DocID] = d.TextURI
	}

	type verification struct {
		models.CitationSpan
		Verified bool   `json:"verified"`
		Error    string `json:"error,omitempty"`
	}
	var results []verification

	mismatches := 0
	for _, span := range exec.Citations {
		text, ok := textByDocID[span.DocID]
		if !ok {
			uri, known := uriByDocID[span.DocID]
			if !known {
				results = append(results, verification{CitationSpan: span, Error: "document not found"})
				mismatches++
				continue
			}
			raw, err := client.Blob.Get(ctx, uri)
			if err != nil {
				return fmt.Errorf("fetching document text for %s: %w", span.DocID, err)
			}
			text = string(raw)
			textByDocID[span.DocID] = text
		}

		recomputed, err := citations.BuildCitationSpan(span.TenantID, span.SessionID, span.DocID, span.DocIndex, span.StartChar, span.EndChar, text)
		if err != nil {
			results = append(results, verification{CitationSpan: span, Error: err.Error()})
			mismatches++
			continue
		}
		verified := recomputed.Checksum == span.Checksum
		if !verified {
			mismatches++
		}
		results = append(results, verification{CitationSpan: span, Verified: verified})
	}

	if cfg.jsonOutput {
		if err := printJSON(results); err != nil {
			return err
		}
	} else {
		printHeading("citations for %s", executionID)
		for _, r := range results {
			if r.Error != "" {
				fmt.Printf("  %s[%d:%d] %s: %s\n", r.DocID, r.StartChar, r.EndChar, statusBad.Sprint("ERROR"), r.Error)
				continue
			}
			fmt.Printf("  %s[%d:%d] %s\n", r.DocID, r.StartChar, r.EndChar, checkMark(r.Verified))
		}
	}

	if mismatches > 0 {
		return fmt.Errorf("%d of %d citations failed checksum verification", mismatches, len(exec.Citations))
	}
	printDim("all %d citations verified", len(exec.Citations))
	return nil
}

// stepArgs is the flag set runStep understands. Unlike submit, which writes
// a fresh execution row for a worker to pick up, step drives an existing
// RUNTIME-mode execution one turn at a time from the terminal, so it needs
// the code for that turn rather than a question for a root model to answer.
type stepArgs struct {
	tenantID    string
	sessionID   string
	executionID string
	code        string
	codeFile    string
	stateJSON   string
}

func parseStepArgs(args []string) (stepArgs, error) {
	var out stepArgs
	i := 0
	for i < len(args) {
		if i+1 >= len(args) {
			return out, fmt.Errorf("flag %s requires a value", args[i])
		}
		flag, value := args[i], args[i+1]
		switch flag {
		case "--tenant":
			out.tenantID = value
		case "--session":
			out.sessionID = value
		case "--execution":
			out.executionID = value
		case "--code":
			out.code = value
		case "--code-file":
			out.codeFile = value
		case "--state":
			out.stateJSON = value
		default:
			return out, fmt.Errorf("unknown flag: %s", flag)
		}
		i += 2
	}

	switch {
	case out.tenantID == "":
		return out, fmt.Errorf("--tenant is required")
	case out.sessionID == "":
		return out, fmt.Errorf("--session is required")
	case out.executionID == "":
		return out, fmt.Errorf("--execution is required")
	case out.code == "" && out.codeFile == "":
		return out, fmt.Errorf("--code or --code-file is required")
	}
	return out, nil
}

// runStep drives one external turn of a RUNTIME-mode execution: the operator
// supplies the code for the turn directly (spec.md §4.12's single-step
// façade) rather than having a root model generate it, and rlmrs-ctl prints
// back whatever StepExecutor decided — stdout, the spans it read, any queued
// tool requests, and whether the turn finalized the execution.
func runStep(ctx context.Context, client *storeClient, cfg cliConfig, args []string) error {
	parsed, err := parseStepArgs(args)
	if err != nil {
		return err
	}

	code := parsed.code
	if parsed.codeFile != "" {
		raw, err := os.ReadFile(parsed.codeFile)
		if err != nil {
			return fmt.Errorf("reading --code-file: %w", err)
		}
		code = string(raw)
	}

	var stateOverride map[string]any
	if parsed.stateJSON != "" {
		if err := json.Unmarshal([]byte(parsed.stateJSON), &stateOverride); err != nil {
			return fmt.Errorf("parsing --state as JSON object: %w", err)
		}
	}

	resp, err := client.Runtime.Step(ctx, orchestrator.StepRequest{
		TenantID:      parsed.tenantID,
		SessionID:     parsed.sessionID,
		ExecutionID:   parsed.executionID,
		Code:          code,
		StateOverride: stateOverride,
	})
	if err != nil {
		return fmt.Errorf("running step: %w", err)
	}

	if cfg.jsonOutput {
		return printJSON(resp)
	}

	printHeading("turn %d", resp.TurnIndex)
	fmt.Printf("  status:  %s\n", colorizeStatus(resp.Status))
	fmt.Printf("  success: %v\n", resp.Success)
	if resp.Stdout != "" {
		fmt.Printf("  stdout:  %s\n", truncate(resp.Stdout, 500))
	}
	if len(resp.SpanLog) > 0 {
		fmt.Printf("  spans:   %d read\n", len(resp.SpanLog))
	}
	if !resp.ToolRequests.Empty() {
		fmt.Printf("  tools:   %d llm, %d search queued\n", len(resp.ToolRequests.LLM), len(resp.ToolRequests.Search))
	}
	if resp.Error != nil {
		fmt.Printf("  error:   %s\n", statusBad.Sprint(resp.Error.Code))
	}
	if resp.Final != nil && resp.Final.IsFinal {
		fmt.Printf("  final:   %s\n", statusGood.Sprint("yes"))
		fmt.Printf("  answer:\n    %s\n", truncate(resp.Final.Answer, 2000))
	}
	return nil
}

func indent(s, prefix string) string {
	out := prefix
	for _, r := range s {
		out += string(r)
		if r == '\n' {
			out += prefix
		}
	}
	return out
}
