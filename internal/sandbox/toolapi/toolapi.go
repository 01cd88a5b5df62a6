/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package toolapi implements the program-facing tool object (spec.md §4.3):
// queue_llm, queue_search, yield and final, plus the schema introspection a
// root prompt or caller uses to learn which tools are available.
package toolapi

import (
	"fmt"
	"strings"

	"github.com/kestrelrun/rlmrs/internal/models"
)

// SchemaVersion is the tool-schema format version reported in Schema().
const SchemaVersion = "v1"

// Yield is raised by Yield() to end a step early so queued tools can be
// resolved. It carries no error semantics of its own; the executor recovers
// it to build a StepResult with a Final{IsFinal:false} marker.
type Yield struct{ Reason string }

func (y *Yield) Error() string { return y.Reason }

// Final is raised by Final() to end the execution with an answer.
type Final struct{ Answer string }

func (f *Final) Error() string { return f.Answer }

// PreconditionError is queue_llm's rejection when requires_llm_keys names
// keys that have no resolved, non-empty text yet.
type PreconditionError struct {
	Key             string
	MissingLLMKeys  []string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("queue_llm blocked: missing required tool results for keys: %s", strings.Join(e.MissingLLMKeys, ", "))
}

// RequestLimitError is raised when queuing would exceed max_tool_requests_per_step.
type RequestLimitError struct{ Limit int }

func (e *RequestLimitError) Error() string { return fmt.Sprintf("tool request limit exceeded: %d", e.Limit) }

// ArgumentError covers argument-shape violations queue_llm enforces (the
// exactly-one-of-three max-tokens aliases constraint).
type ArgumentError struct{ Message string }

func (e *ArgumentError) Error() string { return e.Message }

// ToolAPI accumulates queued tool requests during one step execution.
type ToolAPI struct {
	limits *models.LimitsSnapshot
	state  map[string]any

	llm    []models.LLMToolRequest
	search []models.SearchToolRequest
}

// New builds a ToolAPI bound to the step's limits and pre-step state (the
// latter is consulted for requires_llm_keys preconditions).
func New(limits *models.LimitsSnapshot, state map[string]any) *ToolAPI {
	return &ToolAPI{limits: limits, state: state}
}

// QueueLLMArgs is queue_llm's keyword-argument set. Exactly one of MaxTokens,
// MaxOutputTokens, MaxOutputChars must be set (non-nil).
type QueueLLMArgs struct {
	ModelHint       string
	MaxTokens       *int
	MaxOutputTokens *int
	MaxOutputChars  *int
	Temperature     float64
	Metadata        map[string]any
}

// QueueLLM queues a sub-completion request.
func (t *ToolAPI) QueueLLM(key, prompt string, args QueueLLMArgs) error {
	if missing := t.missingRequiredLLMKeys(args.Metadata); len(missing) > 0 {
		return &PreconditionError{Key: key, MissingLLMKeys: missing}
	}
	provided := 0
	var resolved int
	for _, v := range []*int{args.MaxTokens, args.MaxOutputTokens, args.MaxOutputChars} {
		if v != nil {
			provided++
			resolved = *v
		}
	}
	if provided != 1 {
		return &ArgumentError{Message: "queue_llm requires exactly one of max_tokens, max_output_tokens, max_output_chars"}
	}
	if err := t.ensureCapacity(); err != nil {
		return err
	}
	modelHint := args.ModelHint
	if modelHint == "" {
		modelHint = "sub"
	}
	t.llm = append(t.llm, models.LLMToolRequest{
		Key:         key,
		Prompt:      prompt,
		ModelHint:   modelHint,
		MaxTokens:   resolved,
		Temperature: args.Temperature,
		Metadata:    args.Metadata,
	})
	return nil
}

// QueueSearchArgs is queue_search's keyword-argument set.
type QueueSearchArgs struct {
	K       int
	Filters map[string]any
}

// QueueSearch queues a search request.
func (t *ToolAPI) QueueSearch(key, query string, args QueueSearchArgs) error {
	if err := t.ensureCapacity(); err != nil {
		return err
	}
	k := args.K
	if k == 0 {
		k = 10
	}
	t.search = append(t.search, models.SearchToolRequest{Key: key, Query: query, K: k, Filters: args.Filters})
	return nil
}

// Yield ends the step so already-queued tools can be resolved before the
// next turn. It returns a *Yield value rather than panicking: callers
// (the goja host bindings) translate it into a thrown exception at the call
// site, the Go-idiomatic mirror of original_source's BaseException signal.
func (t *ToolAPI) Yield(reason string) *Yield { return &Yield{Reason: reason} }

// Final ends the execution with an answer.
func (t *ToolAPI) Final(answer string) *Final { return &Final{Answer: answer} }

// ToolRequests returns everything queued so far, in queue order.
func (t *ToolAPI) ToolRequests() models.ToolRequestsEnvelope {
	return models.ToolRequestsEnvelope{
		LLM:    append([]models.LLMToolRequest(nil), t.llm...),
		Search: append([]models.SearchToolRequest(nil), t.search...),
	}
}

func (t *ToolAPI) ensureCapacity() error {
	if t.limits == nil || t.limits.MaxToolRequestsPerStep == nil {
		return nil
	}
	limit := *t.limits.MaxToolRequestsPerStep
	if len(t.llm)+len(t.search) >= limit {
		return &RequestLimitError{Limit: limit}
	}
	return nil
}

func (t *ToolAPI) missingRequiredLLMKeys(metadata map[string]any) []string {
	if metadata == nil {
		return nil
	}
	requiredRaw, ok := metadata["requires_llm_keys"].([]any)
	if !ok {
		return nil
	}
	var required []string
	for _, v := range requiredRaw {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			required = append(required, s)
		}
	}
	if len(required) == 0 {
		return nil
	}
	bucket := t.llmResultsBucket()
	var missing []string
	for _, key := range required {
		entry, ok := bucket[key].(map[string]any)
		if !ok {
			missing = append(missing, key)
			continue
		}
		text, ok := entry["text"].(string)
		if !ok || strings.TrimSpace(text) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

func (t *ToolAPI) llmResultsBucket() map[string]any {
	if t.state == nil {
		return nil
	}
	toolResults, ok := t.state["_tool_results"].(map[string]any)
	if !ok {
		return nil
	}
	llmBucket, ok := toolResults["llm"].(map[string]any)
	if !ok {
		return nil
	}
	return llmBucket
}
