/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package citations resolves a completed execution's span log into
// checksummed CitationSpan values (spec.md §4.9): scan-tagged reads are
// excluded, overlapping/adjacent reads within the same document are merged,
// and each surviving span is checksummed over NFC-normalized UTF-8 text.
package citations

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/rlmerrors"
)

// ChecksumPrefix is prepended to every citation checksum.
const ChecksumPrefix = "sha256:"

// DocumentText is the full decoded text of one document, addressed by its
// dense doc_index.
type DocumentText struct {
	DocID    string
	DocIndex int
	Text     string
}

type spanRange struct {
	docIndex           int
	startChar, endChar int
}

// NormalizeText applies Unicode NFC normalization.
func NormalizeText(text string) string {
	return norm.NFC.String(text)
}

// ChecksumText returns the sha256:-prefixed checksum of text's NFC form.
func ChecksumText(text string) string {
	normalized := NormalizeText(text)
	sum := sha256.Sum256([]byte(normalized))
	return ChecksumPrefix + hex.EncodeToString(sum[:])
}

// MergeSpanLog groups non-scan spans by document and merges overlapping or
// near-adjacent (within mergeGapChars) ranges into minimal covering spans.
func MergeSpanLog(spanLog []models.SpanLogEntry, mergeGapChars int) ([]spanRange, error) {
	if mergeGapChars < 0 {
		return nil, rlmerrors.New(rlmerrors.ValidationError, "merge_gap_chars must be >= 0")
	}
	byDoc := map[int][]spanRange{}
	for _, s := range spanLog {
		if s.StartChar < 0 || s.EndChar < 0 {
			return nil, rlmerrors.New(rlmerrors.ValidationError, "span bounds must be non-negative")
		}
		if s.EndChar < s.StartChar {
			return nil, rlmerrors.New(rlmerrors.ValidationError, "span end_char precedes start_char")
		}
		byDoc[s.DocIndex] = append(byDoc[s.DocIndex], spanRange{docIndex: s.DocIndex, startChar: s.StartChar, endChar: s.EndChar})
	}

	docIndexes := make([]int, 0, len(byDoc))
	for k := range byDoc {
		docIndexes = append(docIndexes, k)
	}
	sort.Ints(docIndexes)

	var merged []spanRange
	for _, docIndex := range docIndexes {
		spans := byDoc[docIndex]
		sort.Slice(spans, func(i, j int) bool {
			if spans[i].startChar != spans[j].startChar {
				return spans[i].startChar < spans[j].startChar
			}
			return spans[i].endChar < spans[j].endChar
		})
		currentStart, currentEnd := spans[0].startChar, spans[0].endChar
		for _, s := range spans[1:] {
			if s.startChar <= currentEnd+mergeGapChars {
				if s.endChar > currentEnd {
					currentEnd = s.endChar
				}
				continue
			}
			merged = append(merged, spanRange{docIndex: docIndex, startChar: currentStart, endChar: currentEnd})
			currentStart, currentEnd = s.startChar, s.endChar
		}
		merged = append(merged, spanRange{docIndex: docIndex, startChar: currentStart, endChar: currentEnd})
	}
	return merged, nil
}

// BuildCitationSpan validates bounds against the document's full text length
// and checksums the referenced substring.
func BuildCitationSpan(tenantID, sessionID, docID string, docIndex, startChar, endChar int, text string) (models.CitationSpan, error) {
	if startChar < 0 || endChar < 0 {
		return models.CitationSpan{}, rlmerrors.New(rlmerrors.ValidationError, "span bounds must be non-negative")
	}
	if endChar < startChar {
		return models.CitationSpan{}, rlmerrors.New(rlmerrors.ValidationError, "span end_char precedes start_char")
	}
	runes := []rune(text)
	if endChar > len(runes) {
		return models.CitationSpan{}, rlmerrors.New(rlmerrors.ValidationError, "span end_char exceeds text length")
	}
	checksum := ChecksumText(string(runes[startChar:endChar]))
	return models.CitationSpan{
		TenantID: tenantID, SessionID: sessionID, DocID: docID, DocIndex: docIndex,
		StartChar: startChar, EndChar: endChar, Checksum: checksum,
	}, nil
}

// MakeCitationSpans filters scan:-tagged entries out of spanLog, merges what
// remains, and checksums every surviving span against the matching document.
func MakeCitationSpans(spanLog []models.SpanLogEntry, documents []DocumentText, tenantID, sessionID string, mergeGapChars int) ([]models.CitationSpan, error) {
	lookup := make(map[int]DocumentText, len(documents))
	for _, d := range documents {
		lookup[d.DocIndex] = d
	}

	filtered := make([]models.SpanLogEntry, 0, len(spanLog))
	for _, s := range spanLog {
		if strings.HasPrefix(s.Tag, "scan:") {
			continue
		}
		filtered = append(filtered, s)
	}

	merged, err := MergeSpanLog(filtered, mergeGapChars)
	if err != nil {
		return nil, err
	}

	spans := make([]models.CitationSpan, 0, len(merged))
	for _, m := range merged {
		doc, ok := lookup[m.docIndex]
		if !ok {
			return nil, rlmerrors.Newf(rlmerrors.InternalError, "missing document for doc_index=%d", m.docIndex)
		}
		span, err := BuildCitationSpan(tenantID, sessionID, doc.DocID, m.docIndex, m.startChar, m.endChar, doc.Text)
		if err != nil {
			return nil, err
		}
		spans = append(spans, span)
	}
	return spans, nil
}
