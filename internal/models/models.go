/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package models holds the data-model types shared across storage, sandbox
// and orchestrator packages: sessions, documents, executions, persisted
// execution state, and the step-level request/result envelopes that flow
// between them.
package models

import "time"

// SessionStatus is a session's lifecycle state.
type SessionStatus string

const (
	SessionCreating SessionStatus = "CREATING"
	SessionReady    SessionStatus = "READY"
	SessionFailed   SessionStatus = "FAILED"
	SessionExpired  SessionStatus = "EXPIRED"
	SessionDeleting SessionStatus = "DELETING"
)

// Readiness selects whether a session requires documents to be parsed only
// (Lax) or parsed and search-indexed (Strict) before it is Ready.
type Readiness string

const (
	ReadinessLax    Readiness = "LAX"
	ReadinessStrict Readiness = "STRICT"
)

// SessionOptions is the immutable option snapshot captured at session creation.
type SessionOptions struct {
	EnableSearch bool      `json:"enable_search"`
	Readiness    Readiness `json:"readiness"`
}

// Session is keyed by (TenantID, SessionID).
type Session struct {
	TenantID       string
	SessionID      string
	Status         SessionStatus
	TTL            time.Duration
	Options        SessionOptions
	ModelsDefault  *ModelsConfig
	BudgetsDefault *Budgets
	CreatedAt      time.Time
}

// DocumentStatus is a document's ingest state.
type DocumentStatus string

const (
	DocRegistered DocumentStatus = "REGISTERED"
	DocParsing    DocumentStatus = "PARSING"
	DocParsed     DocumentStatus = "PARSED"
	DocIndexing   DocumentStatus = "INDEXING"
	DocIndexed    DocumentStatus = "INDEXED"
	DocFailed     DocumentStatus = "FAILED"
)

// Document is keyed by (SessionID, DocID). DocIndex is a dense 0-based
// ordering within the session; once assigned it is never reused.
type Document struct {
	SessionID     string
	DocID         string
	DocIndex      int
	Status        DocumentStatus
	RawURI        string
	TextURI       string
	OffsetsURI    string
	SearchIndexURI string
	CharLength    int64
}

// ExecutionMode selects whether an execution is driven by the orchestrator's
// own loop (Answerer) or single-stepped by an external caller (Runtime).
type ExecutionMode string

const (
	ModeAnswerer ExecutionMode = "ANSWERER"
	ModeRuntime  ExecutionMode = "RUNTIME"
)

// ExecutionStatus is an execution's lifecycle state. Every terminal value is
// reached only from Running, by a conditional write guarded by
// expected_status == Running.
type ExecutionStatus string

const (
	StatusRunning           ExecutionStatus = "RUNNING"
	StatusCompleted         ExecutionStatus = "COMPLETED"
	StatusFailed            ExecutionStatus = "FAILED"
	StatusCancelled         ExecutionStatus = "CANCELLED"
	StatusTimeout           ExecutionStatus = "TIMEOUT"
	StatusBudgetExceeded    ExecutionStatus = "BUDGET_EXCEEDED"
	StatusMaxTurnsExceeded  ExecutionStatus = "MAX_TURNS_EXCEEDED"
)

// ModelsConfig resolves which root and (optional) sub model an execution uses.
type ModelsConfig struct {
	RootModel string  `json:"root_model"`
	SubModel  *string `json:"sub_model,omitempty"`
}

// Budgets are the requested limits for an execution; nil fields mean unlimited.
type Budgets struct {
	MaxTurns                 *int `json:"max_turns,omitempty"`
	MaxTotalSeconds          *int `json:"max_total_seconds,omitempty"`
	MaxLLMSubcalls           *int `json:"max_llm_subcalls,omitempty"`
	MaxLLMPromptChars        *int `json:"max_llm_prompt_chars,omitempty"`
	MaxTotalLLMPromptChars   *int `json:"max_total_llm_prompt_chars,omitempty"`
	MaxStepSeconds           *int `json:"max_step_seconds,omitempty"`
	MaxSpansPerStep          *int `json:"max_spans_per_step,omitempty"`
	MaxToolRequestsPerStep   *int `json:"max_tool_requests_per_step,omitempty"`
	MaxStdoutChars           *int `json:"max_stdout_chars,omitempty"`
	MaxStateChars            *int `json:"max_state_chars,omitempty"`
}

// LimitsSnapshot is the per-step subset of Budgets the StepExecutor enforces.
type LimitsSnapshot struct {
	MaxStepSeconds         *int
	MaxSpansPerStep        *int
	MaxToolRequestsPerStep *int
	MaxStdoutChars         *int
	MaxStateChars          *int
}

// LimitsFromBudgets projects the per-step fields out of a full Budgets value.
func LimitsFromBudgets(b *Budgets) *LimitsSnapshot {
	if b == nil {
		return nil
	}
	return &LimitsSnapshot{
		MaxStepSeconds:         b.MaxStepSeconds,
		MaxSpansPerStep:        b.MaxSpansPerStep,
		MaxToolRequestsPerStep: b.MaxToolRequestsPerStep,
		MaxStdoutChars:         b.MaxStdoutChars,
		MaxStateChars:          b.MaxStateChars,
	}
}

// Lease is the conditional mutual-exclusion token on an Execution row.
type Lease struct {
	OwnerID   string
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// BudgetsConsumed is the terminal-status snapshot of what an execution spent.
type BudgetsConsumed struct {
	Turns            int `json:"turns"`
	LLMSubcalls      int `json:"llm_subcalls"`
	TotalSeconds     int `json:"total_seconds"`
	TotalPromptChars int `json:"total_prompt_chars"`
}

// CitationSpan backs a claim in a completed execution's answer.
type CitationSpan struct {
	TenantID   string `json:"tenant_id"`
	SessionID  string `json:"session_id"`
	DocID      string `json:"doc_id"`
	DocIndex   int    `json:"doc_index"`
	StartChar  int    `json:"start_char"`
	EndChar    int    `json:"end_char"`
	Checksum   string `json:"checksum"`
}

// Execution is keyed by (SessionID, ExecutionID).
type Execution struct {
	TenantID        string
	SessionID       string
	ExecutionID     string
	Mode            ExecutionMode
	Status          ExecutionStatus
	Question        string
	Models          *ModelsConfig
	BudgetsRequested *Budgets
	Lease           *Lease
	StartedAt       time.Time
	CompletedAt     *time.Time
	DurationMS      *int64
	Answer          string
	Citations       []CitationSpan
	BudgetsConsumed *BudgetsConsumed
}

// ExecutionState is the single mutable row per execution: the persisted
// payload plus a snapshot of the most recent step's observables. Invariant:
// the payload fields and the step-snapshot fields always describe the same
// turn.
type ExecutionState struct {
	ExecutionID string
	TurnIndex   int
	StateJSON   any
	StateURI    string
	Checksum    string
	Summary     StateSummary
	UpdatedAt   time.Time
	TTL         time.Time

	// Step snapshot, absent before the first step has run.
	HasStepSnapshot bool
	Success         bool
	Stdout          string
	SpanLog         []SpanLogEntry
	ToolRequests    ToolRequestsEnvelope
	Final           *StepFinal
	StepError       *StepError
}

// StateSummary is the byte/char length of the canonicalized state payload.
type StateSummary struct {
	ByteLength int `json:"byte_length"`
	CharLength int `json:"char_length"`
}

// SpanLogEntry is one document read logged by a DocView/ContextView.
type SpanLogEntry struct {
	DocIndex  int    `json:"doc_index"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	Tag       string `json:"tag,omitempty"`
}

// LLMToolRequest is a queued sub-completion request.
type LLMToolRequest struct {
	Key         string
	Prompt      string
	ModelHint   string
	MaxTokens   int
	Temperature float64
	Metadata    map[string]any
}

// SearchToolRequest is a queued search request.
type SearchToolRequest struct {
	Key     string
	Query   string
	K       int
	Filters map[string]any
}

// ToolRequestsEnvelope holds everything a step queued, in queue order.
type ToolRequestsEnvelope struct {
	LLM    []LLMToolRequest
	Search []SearchToolRequest
}

// Empty reports whether no requests were queued.
func (e ToolRequestsEnvelope) Empty() bool {
	return len(e.LLM) == 0 && len(e.Search) == 0
}

// LLMToolResult is one resolved sub-completion, written into state._tool_results.llm.
type LLMToolResult struct {
	Text string         `json:"text"`
	Meta map[string]any `json:"meta,omitempty"`
}

// SearchHit is a single search result, a character range plus a score.
type SearchHit struct {
	DocIndex  int     `json:"doc_index"`
	StartChar int     `json:"start_char"`
	EndChar   int     `json:"end_char"`
	Score     float64 `json:"score"`
	Snippet   string  `json:"snippet,omitempty"`
}

// SearchToolResult is one resolved search request, written into state._tool_results.search.
type SearchToolResult struct {
	Hits []SearchHit    `json:"hits"`
	Meta map[string]any `json:"meta,omitempty"`
}

// ToolResultsEnvelope is the reserved state._tool_results shape.
type ToolResultsEnvelope struct {
	LLM    map[string]LLMToolResult    `json:"llm"`
	Search map[string]SearchToolResult `json:"search"`
}

// NewToolResultsEnvelope returns an envelope with both buckets initialized.
func NewToolResultsEnvelope() ToolResultsEnvelope {
	return ToolResultsEnvelope{
		LLM:    map[string]LLMToolResult{},
		Search: map[string]SearchToolResult{},
	}
}

// StepFinal is the step's terminal marker: either a yield (is_final=false,
// with the yield reason as Answer) or a final answer (is_final=true).
type StepFinal struct {
	IsFinal bool   `json:"is_final"`
	Answer  string `json:"answer"`
}

// StepError is a structured step failure.
type StepError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ContextDocument is the manifest entry the StepExecutor builds a ContextView
// from; it carries only blob references, never document text.
type ContextDocument struct {
	DocID      string
	DocIndex   int
	TextURI    string
	MetaURI    string
	OffsetsURI string
}

// ContextManifest is the ordered set of documents visible to one step.
type ContextManifest struct {
	Docs []ContextDocument
}

// StepEvent is the StepExecutor's input.
type StepEvent struct {
	TenantID        string
	SessionID       string
	ExecutionID     string
	TurnIndex       int
	Code            string
	State           any
	ContextManifest ContextManifest
	Limits          *LimitsSnapshot
}

// StepResult is the StepExecutor's output.
type StepResult struct {
	Success      bool
	Stdout       string
	State        any
	SpanLog      []SpanLogEntry
	ToolRequests ToolRequestsEnvelope
	Final        *StepFinal
	Error        *StepError
}

// CodeLogEntry is an append-only introspection record, keyed by (ExecutionID, Sequence).
type CodeLogEntry struct {
	ExecutionID string
	Sequence    int64
	TurnIndex   int
	Code        string
	CreatedAt   time.Time
}

// Offsets is the decoded contents of a document's offsets blob.
type Offsets struct {
	Version            int         `json:"version"`
	DocID              string      `json:"doc_id"`
	CharLength         int         `json:"char_length"`
	ByteLength         int         `json:"byte_length"`
	Encoding           string      `json:"encoding"`
	Checkpoints        []Checkpoint `json:"checkpoints"`
	CheckpointInterval int         `json:"checkpoint_interval"`
}

// Checkpoint is one (char, byte) pair in a document's character→byte index.
type Checkpoint struct {
	Char int `json:"char"`
	Byte int `json:"byte"`
}
