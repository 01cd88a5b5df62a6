/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/klauspost/compress/gzip"
)

// GetJSON fetches a key and decodes it as JSON. A missing key surfaces as
// ErrNotFound so callers can treat it as a cache miss.
func GetJSON(ctx context.Context, store Store, key string, out any) error {
	raw, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// PutJSON canonicalizes v and writes it uncompressed.
func PutJSON(ctx context.Context, store Store, key string, v any) error {
	raw, err := DeterministicJSONBytes(v)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, raw)
}

// PutGzipJSON canonicalizes v, gzips it, and writes the compressed bytes.
func PutGzipJSON(ctx context.Context, store Store, key string, v any) error {
	raw, err := DeterministicJSONBytes(v)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return store.Put(ctx, key, buf.Bytes())
}

// GetGzipJSON fetches a gzipped canonical-JSON blob and decodes it.
func GetGzipJSON(ctx context.Context, store Store, key string, out any) error {
	raw, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	defer gz.Close()
	dec := json.NewDecoder(gz)
	return dec.Decode(out)
}

// IsNotFound reports whether err represents a missing key in any backend.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
