/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package search

import (
	"context"
	"sort"
	"strings"

	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/sandbox/docview"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
)

// ContextViewResolver looks up the ContextView backing a session's
// documents, the same one the sandbox's `context` global reads from.
type ContextViewResolver func(ctx context.Context, tenantID, sessionID string) (*docview.ContextView, error)

// TrigramBackend is a real, non-fake SearchBackend: it chunks each
// document's text into overlapping windows, builds (or loads a
// previously-built) character-trigram index per document, and scores
// chunks against the query by trigram Jaccard overlap. It exists so the
// repo has one working search implementation beyond the deterministic
// stub; a production deployment would more likely front a managed search
// service instead.
type TrigramBackend struct {
	store    blob.Store
	config   IndexConfig
	resolver ContextViewResolver
}

// NewTrigramBackend builds a TrigramBackend. resolver supplies the
// ContextView for a (tenant, session) pair; store holds built indexes,
// keyed under config.IndexPrefix.
func NewTrigramBackend(store blob.Store, config IndexConfig, resolver ContextViewResolver) *TrigramBackend {
	return &TrigramBackend{store: store, config: config, resolver: resolver}
}

func (b *TrigramBackend) Search(ctx context.Context, tenantID, sessionID string, request models.SearchToolRequest, docIndexes []int, _ []int) ([]models.SearchHit, error) {
	k := request.K
	if k <= 0 || strings.TrimSpace(request.Query) == "" {
		return nil, nil
	}
	queryTrigrams := trigramSet(strings.ToLower(request.Query))
	if len(queryTrigrams) == 0 {
		return nil, nil
	}

	cv, err := b.resolver(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		docIndex  int
		startChar int
		endChar   int
		score     float64
	}
	var candidates []candidate

	for _, docIndex := range docIndexes {
		doc := cv.Doc(docIndex)
		if doc == nil {
			continue
		}
		payload, err := b.loadOrBuildIndex(ctx, tenantID, sessionID, doc)
		if err != nil {
			continue
		}
		for _, chunk := range payload.Chunks {
			score := jaccard(queryTrigrams, trigramSet(strings.ToLower(chunk.ChunkText)))
			if score <= 0 {
				continue
			}
			candidates = append(candidates, candidate{docIndex: docIndex, startChar: chunk.StartChar, endChar: chunk.EndChar, score: score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].docIndex != candidates[j].docIndex {
			return candidates[i].docIndex < candidates[j].docIndex
		}
		return candidates[i].startChar < candidates[j].startChar
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	hits := make([]models.SearchHit, len(candidates))
	for i, c := range candidates {
		hits[i] = models.SearchHit{DocIndex: c.docIndex, StartChar: c.startChar, EndChar: c.endChar, Score: c.score}
	}
	return hits, nil
}

func (b *TrigramBackend) loadOrBuildIndex(ctx context.Context, tenantID, sessionID string, doc *docview.DocView) (indexPayload, error) {
	key := buildIndexKey(b.config.IndexPrefix, tenantID, sessionID, doc.DocID())

	var payload indexPayload
	if err := blob.GetJSON(ctx, b.store, key, &payload); err == nil {
		return payload, nil
	}

	length, err := doc.Len(ctx)
	if err != nil {
		return indexPayload{}, err
	}
	text, err := doc.Slice(ctx, 0, length, "search:index")
	if err != nil {
		return indexPayload{}, err
	}
	payload = buildIndexPayload(tenantID, sessionID, doc.DocID(), doc.DocIndex(), b.config, text)
	_ = blob.PutJSON(ctx, b.store, key, payload)
	return payload, nil
}

// trigramSet returns the set of distinct 3-rune windows in s. Shorter
// strings contribute their single whole-string trigram-shaped window.
func trigramSet(s string) map[string]struct{} {
	runes := []rune(s)
	set := make(map[string]struct{})
	if len(runes) == 0 {
		return set
	}
	if len(runes) < 3 {
		set[string(runes)] = struct{}{}
		return set
	}
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

// jaccard is the intersection-over-union similarity of two trigram sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(large) < len(small) {
		small, large = large, small
	}
	intersection := 0
	for t := range small {
		if _, ok := large[t]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
