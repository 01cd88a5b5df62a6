/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package blob defines the BlobStore abstraction used for parsed-text,
// offsets, meta, state, cache and trace artifacts, plus a deterministic
// canonical-JSON byte encoding shared by every caller that needs a stable
// hash of a JSON value (state checksums, cache keys).
package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
)

// ErrNotFound is returned by Get/GetRange when the key does not exist. Every
// Store implementation must map its backend's "no such key" condition
// (S3 NoSuchKey/404, an empty map lookup, ...) onto this sentinel so callers
// can treat it uniformly as a cache miss.
var ErrNotFound = errors.New("blob: not found")

// Store is the minimal byte-oriented interface every backend implements.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	GetRange(ctx context.Context, key string, start, end int64) ([]byte, error)
	Put(ctx context.Context, key string, body []byte) error
}

// DeterministicJSONBytes serializes v as canonical UTF-8 JSON: object keys
// sorted lexicographically at every level, no insignificant whitespace. It is
// the single normalization point every checksum and cache key in this module
// goes through.
func DeterministicJSONBytes(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return marshalCanonical(normalized)
}

// normalize round-trips v through encoding/json with UseNumber so that
// integers and floats decoded from JSON keep their original shape instead of
// collapsing to float64, which would corrupt checksums for large integers.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalCanonical(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := marshalCanonical(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(val)
	}
}
