/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package statecodec

import "github.com/kestrelrun/rlmrs/internal/rlmerrors"

// ReservedKeys are the top-level state keys owned by the orchestrator. A
// sandboxed program may read them but any program-provided state is merged
// with these preserved from the pre-step state before persistence.
var ReservedKeys = []string{"_tool_results", "_tool_status", "_budgets", "_trace"}

// EnsureToolState guarantees state["_tool_results"] has "llm" and "search"
// object buckets and state["_tool_status"] is an object, creating them if
// absent. It mutates state in place and returns an error if an existing value
// has the wrong shape.
func EnsureToolState(state map[string]any) error {
	toolResults, ok := state["_tool_results"]
	if !ok || toolResults == nil {
		toolResults = map[string]any{"llm": map[string]any{}, "search": map[string]any{}}
		state["_tool_results"] = toolResults
	}
	bucket, ok := toolResults.(map[string]any)
	if !ok {
		return rlmerrors.New(rlmerrors.StateInvalidType, "_tool_results must be an object")
	}
	for _, key := range []string{"llm", "search"} {
		v, present := bucket[key]
		if !present || v == nil {
			bucket[key] = map[string]any{}
			continue
		}
		if _, ok := v.(map[string]any); !ok {
			return rlmerrors.Newf(rlmerrors.StateInvalidType, "_tool_results.%s must be an object", key)
		}
	}
	status, ok := state["_tool_status"]
	if !ok || status == nil {
		state["_tool_status"] = map[string]any{}
	} else if _, ok := status.(map[string]any); !ok {
		return rlmerrors.New(rlmerrors.StateInvalidType, "_tool_status must be an object")
	}
	return nil
}

// MergeReserved shallow-merges the reserved namespace from previous onto
// next, so a program that rebinds state wholesale cannot shadow the
// orchestrator's bookkeeping (spec.md §9 "Reserved-namespace merge").
func MergeReserved(next, previous map[string]any) map[string]any {
	merged := make(map[string]any, len(next))
	for k, v := range next {
		merged[k] = v
	}
	for _, key := range ReservedKeys {
		if v, ok := previous[key]; ok {
			merged[key] = v
		}
	}
	return merged
}

// AsObject coerces a JSON-decoded state value into a map, treating nil as an
// empty object (a brand-new execution's first turn).
func AsObject(state any) (map[string]any, bool) {
	if state == nil {
		return map[string]any{}, true
	}
	obj, ok := state.(map[string]any)
	return obj, ok
}
