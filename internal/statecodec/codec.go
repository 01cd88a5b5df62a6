/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package statecodec implements the execution-state canonicalization,
// validation, checksumming, and inline-vs-offload storage decision described
// in spec.md §4.1.
package statecodec

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/rlmerrors"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
)

// DefaultInlineMaxBytes is the inline/offload threshold: canonical payloads at
// or below this size are stored inline in the ExecutionState row.
const DefaultInlineMaxBytes = 350 * 1024

// DefaultStatePrefix is the blob-store prefix offloaded state is written under.
const DefaultStatePrefix = "state"

// ChecksumPrefix is prepended to every state checksum.
const ChecksumPrefix = "sha256:"

// ValidateStatePayload rejects anything that is not (absent | string |
// object of string -> valid-JSON), per spec.md §4.1's value-type rules:
// no NaN/Inf numbers, no non-string object keys, no unsupported Go types.
func ValidateStatePayload(state any) error {
	if state == nil {
		return nil
	}
	if _, ok := state.(string); ok {
		return nil
	}
	obj, ok := state.(map[string]any)
	if !ok {
		return rlmerrors.New(rlmerrors.StateInvalidType, "state must be a JSON object or string")
	}
	return validateValue(obj, "$")
}

func validateValue(v any, path string) error {
	switch val := v.(type) {
	case nil, bool, string:
		return nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return rlmerrors.Newf(rlmerrors.StateInvalidType, "invalid JSON number at %s", path)
		}
		return nil
	case int, int32, int64:
		return nil
	case []any:
		for i, item := range val {
			if err := validateValue(item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for k, item := range val {
			if err := validateValue(item, path+"."+k); err != nil {
				return err
			}
		}
		return nil
	default:
		return rlmerrors.Newf(rlmerrors.StateInvalidType, "invalid JSON value at %s: %T", path, v)
	}
}

// CanonicalBytes returns the deterministic UTF-8 JSON encoding of state.
func CanonicalBytes(state any) ([]byte, error) {
	return blob.DeterministicJSONBytes(state)
}

// Checksum returns the sha256:-prefixed checksum of the canonical encoding.
func Checksum(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return ChecksumPrefix + hex.EncodeToString(sum[:])
}

// Summary returns the byte/char length of a canonical encoding.
func Summary(canonical []byte) models.StateSummary {
	return models.StateSummary{
		ByteLength: len(canonical),
		CharLength: len([]rune(string(canonical))),
	}
}

// Record is the outcome of Persist: exactly one of StateJSON and StateURI is set.
type Record struct {
	StateJSON any
	StateURI  string
	Checksum  string
	Summary   models.StateSummary
}

// Persist validates, canonicalizes, checksums, and either inlines or offloads
// state, matching original_source/storage/state.py's persist_state_payload.
func Persist(ctx context.Context, store blob.Store, state any, tenantID, executionID string, turnIndex int, maxInlineBytes int) (Record, error) {
	if err := ValidateStatePayload(state); err != nil {
		return Record{}, err
	}
	canonical, err := CanonicalBytes(state)
	if err != nil {
		return Record{}, rlmerrors.Newf(rlmerrors.InternalError, "canonicalize state: %v", err)
	}
	checksum := Checksum(canonical)
	summary := Summary(canonical)

	if maxInlineBytes <= 0 {
		maxInlineBytes = DefaultInlineMaxBytes
	}
	if len(canonical) <= maxInlineBytes {
		return Record{StateJSON: state, Checksum: checksum, Summary: summary}, nil
	}

	if store == nil {
		return Record{}, rlmerrors.New(rlmerrors.InternalError, "blob store required for offloaded state")
	}
	key := blob.StateKey(tenantID, executionID, turnIndex)
	if err := blob.PutGzipJSON(ctx, store, key, state); err != nil {
		return Record{}, rlmerrors.Newf(rlmerrors.StateOffloadError, "offload state: %v", err)
	}
	return Record{StateURI: key, Checksum: checksum, Summary: summary}, nil
}

// Load resolves an ExecutionState row's inline-or-offloaded payload back into
// a JSON value.
func Load(ctx context.Context, store blob.Store, stateJSON any, stateURI string) (any, error) {
	if stateURI == "" {
		return stateJSON, nil
	}
	var out any
	if err := blob.GetGzipJSON(ctx, store, stateURI, &out); err != nil {
		return nil, rlmerrors.Newf(rlmerrors.S3ReadError, "load offloaded state: %v", err)
	}
	return out, nil
}

// CharLen matches Python len() semantics (counting runes, not bytes) for
// state-size budget checks against max_state_chars.
func CharLen(canonical []byte) int {
	return len([]rune(string(canonical)))
}
