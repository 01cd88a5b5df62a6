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

	"github.com/kestrelrun/rlmrs/internal/models"
)

type docInfo struct {
	docIndex  int
	docLength int
}

// FakeSearchBackend synthesizes deterministic hits from a sha256-derived
// seed over the query text, cycling through the supplied document indexes
// (and, when given, their lengths) without touching any real index. It
// exists for tests and local development, matching the fixture behavior of
// a Python sibling backend used for the same purpose.
type FakeSearchBackend struct{}

func NewFakeSearchBackend() *FakeSearchBackend {
	return &FakeSearchBackend{}
}

func (b *FakeSearchBackend) Search(_ context.Context, _, _ string, request models.SearchToolRequest, docIndexes []int, docLengths []int) ([]models.SearchHit, error) {
	k := request.K
	if k <= 0 {
		return nil, nil
	}
	info := buildDocInfo(docIndexes, docLengths)
	if len(info) == 0 {
		return nil, nil
	}

	seed := int(stableSeed(request.Query))
	span := spanLength(request.Query)

	hits := make([]models.SearchHit, 0, k)
	for i := 0; i < k; i++ {
		d := info[(seed+i)%len(info)]
		var startChar, endChar int
		if d.docLength <= 0 {
			startChar, endChar = 0, 0
		} else {
			startChar = mod(seed+i*97, d.docLength)
			endChar = min(startChar+span, d.docLength)
			if endChar == startChar {
				endChar = min(startChar+1, d.docLength)
			}
		}
		hits = append(hits, models.SearchHit{
			DocIndex:  d.docIndex,
			StartChar: startChar,
			EndChar:   endChar,
		})
	}
	return hits, nil
}

// buildDocInfo pairs each doc index with its length, defaulting to a
// single-char length when docLengths is shorter than docIndexes or absent.
func buildDocInfo(docIndexes []int, docLengths []int) []docInfo {
	info := make([]docInfo, len(docIndexes))
	for i, idx := range docIndexes {
		length := 1
		if i < len(docLengths) {
			length = docLengths[i]
		}
		info[i] = docInfo{docIndex: idx, docLength: length}
	}
	return info
}

func mod(a, m int) int {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}
