/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package search

import (
	"fmt"
	"strings"

	"github.com/kestrelrun/rlmrs/internal/rlmerrors"
)

const (
	DefaultChunkSizeChars    = 1000
	DefaultChunkOverlapChars = 200
	DefaultIndexPrefix       = "search-index"
)

// IndexConfig controls how document text is split into chunks for the
// trigram index.
type IndexConfig struct {
	ChunkSizeChars    int
	ChunkOverlapChars int
	IndexPrefix       string
}

// DefaultIndexConfig returns the chunking defaults.
func DefaultIndexConfig() IndexConfig {
	return IndexConfig{
		ChunkSizeChars:    DefaultChunkSizeChars,
		ChunkOverlapChars: DefaultChunkOverlapChars,
		IndexPrefix:       DefaultIndexPrefix,
	}
}

// LoadIndexConfig builds an IndexConfig from a loosely-typed config map,
// falling back to defaults for absent keys and rejecting nonsensical
// combinations (zero/negative chunk size, overlap as large as the chunk).
func LoadIndexConfig(raw map[string]any) (IndexConfig, error) {
	cfg := DefaultIndexConfig()

	if v, ok := raw["chunk_size_chars"]; ok {
		n, err := readInt(v)
		if err != nil {
			return IndexConfig{}, rlmerrors.Newf(rlmerrors.ValidationError, "chunk_size_chars must be an integer: %v", err)
		}
		cfg.ChunkSizeChars = n
	}
	if v, ok := raw["chunk_overlap_chars"]; ok {
		n, err := readInt(v)
		if err != nil {
			return IndexConfig{}, rlmerrors.Newf(rlmerrors.ValidationError, "chunk_overlap_chars must be an integer: %v", err)
		}
		cfg.ChunkOverlapChars = n
	}
	if v, ok := raw["index_prefix"]; ok {
		s, ok := v.(string)
		if !ok {
			return IndexConfig{}, rlmerrors.New(rlmerrors.ValidationError, "index_prefix must be a string")
		}
		cleaned := strings.Trim(strings.TrimSpace(s), "/")
		if cleaned == "" {
			return IndexConfig{}, rlmerrors.New(rlmerrors.ValidationError, "index_prefix must be a non-empty string")
		}
		cfg.IndexPrefix = cleaned
	}

	if cfg.ChunkSizeChars <= 0 {
		return IndexConfig{}, rlmerrors.New(rlmerrors.ValidationError, "chunk_size_chars must be positive")
	}
	if cfg.ChunkOverlapChars < 0 {
		return IndexConfig{}, rlmerrors.New(rlmerrors.ValidationError, "chunk_overlap_chars must be non-negative")
	}
	if cfg.ChunkOverlapChars >= cfg.ChunkSizeChars {
		return IndexConfig{}, rlmerrors.New(rlmerrors.ValidationError, "chunk_overlap_chars must be smaller than chunk_size_chars")
	}
	return cfg, nil
}

func readInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

type textChunk struct {
	StartChar int
	EndChar   int
	Text      string
}

// chunkText splits text into overlapping windows, matching the sliding
// window a trigram index is built from: each window covers
// chunkSizeChars runes, advancing by chunkSizeChars-chunkOverlapChars
// runes per step, stopping once a window reaches the end of the text.
func chunkText(text string, chunkSizeChars, chunkOverlapChars int) []textChunk {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	step := chunkSizeChars - chunkOverlapChars
	var chunks []textChunk
	for start := 0; start < len(runes); start += step {
		end := start + chunkSizeChars
		if end > len(runes) {
			end = len(runes)
		}
		if start >= end {
			break
		}
		chunks = append(chunks, textChunk{StartChar: start, EndChar: end, Text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

type chunkRecord struct {
	DocIndex  int    `json:"doc_index"`
	StartChar int    `json:"start_char"`
	EndChar   int    `json:"end_char"`
	ChunkText string `json:"chunk_text"`
}

type indexPayload struct {
	TenantID          string        `json:"tenant_id"`
	SessionID         string        `json:"session_id"`
	DocID             string        `json:"doc_id"`
	DocIndex          int           `json:"doc_index"`
	ChunkSizeChars    int           `json:"chunk_size_chars"`
	ChunkOverlapChars int           `json:"chunk_overlap_chars"`
	Chunks            []chunkRecord `json:"chunks"`
}

// buildIndexKey mirrors the layout search indexes are stored under:
// {prefix}/{tenant}/{session}/{docID}/index.json.
func buildIndexKey(prefix, tenantID, sessionID, docID string) string {
	cleaned := strings.Trim(strings.TrimSpace(prefix), "/")
	if cleaned == "" {
		cleaned = DefaultIndexPrefix
	}
	return fmt.Sprintf("%s/%s/%s/%s/index.json", cleaned, tenantID, sessionID, docID)
}

// buildIndexPayload chunks text and assembles the stored index record for
// one document.
func buildIndexPayload(tenantID, sessionID, docID string, docIndex int, cfg IndexConfig, text string) indexPayload {
	chunks := chunkText(text, cfg.ChunkSizeChars, cfg.ChunkOverlapChars)
	records := make([]chunkRecord, len(chunks))
	for i, c := range chunks {
		records[i] = chunkRecord{DocIndex: docIndex, StartChar: c.StartChar, EndChar: c.EndChar, ChunkText: c.Text}
	}
	return indexPayload{
		TenantID:          tenantID,
		SessionID:         sessionID,
		DocID:             docID,
		DocIndex:          docIndex,
		ChunkSizeChars:    cfg.ChunkSizeChars,
		ChunkOverlapChars: cfg.ChunkOverlapChars,
		Chunks:            records,
	}
}
