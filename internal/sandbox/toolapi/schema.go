/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package toolapi

// ParamSpec describes one parameter in a tool's schema entry.
type ParamSpec struct {
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	Type     any    `json:"type"`
	Required bool   `json:"required,omitempty"`
	Default  any    `json:"default,omitempty"`
}

// Availability marks whether a tool is usable for this execution, and why not.
type Availability struct {
	Enabled        bool   `json:"enabled"`
	DisabledReason string `json:"disabled_reason,omitempty"`
}

// ToolSpec is one entry in the schema's tools list.
type ToolSpec struct {
	Name         string            `json:"name"`
	Signature    string            `json:"signature"`
	Description  string            `json:"description"`
	Params       []ParamSpec       `json:"params"`
	Aliases      map[string]string `json:"aliases,omitempty"`
	Constraints  map[string]any    `json:"constraints,omitempty"`
	Returns      string            `json:"returns"`
	Availability *Availability     `json:"availability,omitempty"`
}

// Schema is the whole tool introspection payload.
type Schema struct {
	Version       string     `json:"version"`
	SignatureText string     `json:"signature_text"`
	Tools         []ToolSpec `json:"tools"`
}

func baseTools() []ToolSpec {
	return []ToolSpec{
		{
			Name:        "queue_llm",
			Signature:   `tool.queue_llm(key, prompt, {model_hint: "sub", max_tokens, max_output_tokens, max_output_chars, temperature: 0, metadata})`,
			Description: "Queue a sub-LLM call for the orchestrator to resolve.",
			Params: []ParamSpec{
				{Name: "key", Kind: "positional", Type: "string", Required: true},
				{Name: "prompt", Kind: "positional", Type: "string", Required: true},
				{Name: "model_hint", Kind: "keyword", Type: []string{"string", "null"}, Default: "sub"},
				{Name: "max_tokens", Kind: "keyword", Type: []string{"integer", "null"}},
				{Name: "max_output_tokens", Kind: "keyword", Type: []string{"integer", "null"}},
				{Name: "max_output_chars", Kind: "keyword", Type: []string{"integer", "null"}},
				{Name: "temperature", Kind: "keyword", Type: []string{"number", "null"}, Default: 0},
				{Name: "metadata", Kind: "keyword", Type: []string{"object", "null"}},
			},
			Aliases: map[string]string{
				"max_output_tokens": "max_tokens",
				"max_output_chars":  "max_tokens",
			},
			Constraints: map[string]any{
				"exactly_one_of": []string{"max_tokens", "max_output_tokens", "max_output_chars"},
			},
			Returns: "undefined",
		},
		{
			Name:        "queue_search",
			Signature:   `tool.queue_search(key, query, {k: 10, filters})`,
			Description: "Queue a search request for the orchestrator to resolve.",
			Params: []ParamSpec{
				{Name: "key", Kind: "positional", Type: "string", Required: true},
				{Name: "query", Kind: "positional", Type: "string", Required: true},
				{Name: "k", Kind: "keyword", Type: "integer", Default: 10},
				{Name: "filters", Kind: "keyword", Type: []string{"object", "null"}},
			},
			Returns: "undefined",
		},
		{
			Name:        "yield",
			Signature:   `tool.yield(reason)`,
			Description: "End the step so queued tools can be resolved.",
			Params: []ParamSpec{
				{Name: "reason", Kind: "positional", Type: []string{"string", "null"}},
			},
			Returns: "throws Yield",
		},
		{
			Name:        "final",
			Signature:   `tool.final(answer)`,
			Description: "Finalize the execution with an answer.",
			Params: []ParamSpec{
				{Name: "answer", Kind: "positional", Type: "string", Required: true},
			},
			Returns: "throws Final",
		},
	}
}

func renderSignatureText(tools []ToolSpec) string {
	text := "Tool signatures"
	for _, t := range tools {
		text += "\n- " + t.Signature
	}
	return text
}

// BaseSchema returns the tool schema with no availability annotations applied.
func BaseSchema() Schema {
	tools := baseTools()
	return Schema{Version: SchemaVersion, SignatureText: renderSignatureText(tools), Tools: tools}
}

// BuildSchema applies availability flags for queue_llm (subcallsEnabled) and
// queue_search (searchEnabled). A nil pointer leaves that tool's
// availability unset (neither enabled nor disabled is asserted).
func BuildSchema(subcallsEnabled, searchEnabled *bool) Schema {
	schema := BaseSchema()
	applyAvailability(schema.Tools, "queue_llm", subcallsEnabled, "subcalls disabled")
	applyAvailability(schema.Tools, "queue_search", searchEnabled, "search disabled")
	return schema
}

func applyAvailability(tools []ToolSpec, name string, enabled *bool, disabledReason string) {
	if enabled == nil {
		return
	}
	for i := range tools {
		if tools[i].Name != name {
			continue
		}
		av := &Availability{Enabled: *enabled}
		if !*enabled {
			av.DisabledReason = disabledReason
		}
		tools[i].Availability = av
		return
	}
}
