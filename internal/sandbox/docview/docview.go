/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package docview implements DocView and ContextView (spec.md §4.2): random
// access into a document's text via its character→byte checkpoint index,
// span logging of every read for later citation resolution, and bounded
// streaming scans for find/regex.
package docview

import (
	"context"
	"regexp"
	"sort"

	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/rlmerrors"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
)

// Hit is one match from find or regex.
type Hit struct {
	StartChar int
	EndChar   int
}

// DocView is random, span-logged access to a single document's text.
type DocView struct {
	doc        models.ContextDocument
	store      blob.Store
	logSpan    func(models.SpanLogEntry)
	offsets    *models.Offsets
	meta       map[string]any
	metaLoaded bool
}

func newDocView(doc models.ContextDocument, store blob.Store, logSpan func(models.SpanLogEntry)) *DocView {
	return &DocView{doc: doc, store: store, logSpan: logSpan}
}

// DocID returns the document's stable identifier.
func (d *DocView) DocID() string { return d.doc.DocID }

// DocIndex returns the document's dense 0-based position in the session.
func (d *DocView) DocIndex() int { return d.doc.DocIndex }

// Len returns the document's character length.
func (d *DocView) Len(ctx context.Context) (int, error) {
	o, err := d.getOffsets(ctx)
	if err != nil {
		return 0, err
	}
	return o.CharLength, nil
}

// Slice reads [start, end) and logs the read under tag. spec.md requires
// input-validation errors, not clamping, for inverted or out-of-bounds
// ranges (unlike the slice() clamping original_source uses).
func (d *DocView) Slice(ctx context.Context, start, end int, tag string) (string, error) {
	startChar, endChar, err := d.normalizeRange(ctx, start, end)
	if err != nil {
		return "", err
	}
	d.logSpan(models.SpanLogEntry{DocIndex: d.doc.DocIndex, StartChar: startChar, EndChar: endChar, Tag: tag})
	if startChar == endChar {
		return "", nil
	}
	return d.readRange(ctx, startChar, endChar)
}

// PageSpans returns the document's page boundaries from its meta blob, or an
// empty slice if no meta blob is configured or it carries no pages.
func (d *DocView) PageSpans(ctx context.Context) ([]models.SpanLogEntry, error) {
	meta, err := d.getMeta(ctx)
	if err != nil {
		return nil, err
	}
	pagesRaw, ok := meta["pages"].([]any)
	if !ok {
		return nil, nil
	}
	var spans []models.SpanLogEntry
	for _, item := range pagesRaw {
		page, ok := item.(map[string]any)
		if !ok {
			continue
		}
		startChar, ok1 := asInt(page["start_char"])
		endChar, ok2 := asInt(page["end_char"])
		if !ok1 || !ok2 {
			continue
		}
		spans = append(spans, models.SpanLogEntry{DocIndex: d.doc.DocIndex, StartChar: startChar, EndChar: endChar})
	}
	return spans, nil
}

// Find does a bounded, streaming substring scan over [start, end), reading
// only as much of the document as the checkpoint window requires per chunk,
// and logs a single scan:find span for the whole searched range.
func (d *DocView) Find(ctx context.Context, term string, start, end, maxHits int) ([]Hit, error) {
	if term == "" || maxHits <= 0 {
		return nil, nil
	}
	startChar, endChar, err := d.normalizeRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if startChar >= endChar {
		return nil, nil
	}
	d.logSpan(models.SpanLogEntry{DocIndex: d.doc.DocIndex, StartChar: startChar, EndChar: endChar, Tag: "scan:find"})

	offsets, err := d.getOffsets(ctx)
	if err != nil {
		return nil, err
	}
	chars := checkpointChars(offsets.Checkpoints)
	startIdx := upperBound(chars, startChar) - 1
	if startIdx < 0 {
		startIdx = 0
	}
	endIdx := lowerBound(chars, endChar)
	if endIdx >= len(offsets.Checkpoints) {
		endIdx = len(offsets.Checkpoints) - 1
	}

	termRunes := []rune(term)
	overlap := len(termRunes) - 1
	if overlap < 0 {
		overlap = 0
	}
	var tail []rune
	var hits []Hit

	for i := startIdx; i <= endIdx; i++ {
		chunkStart := max(startChar, offsets.Checkpoints[i].Char)
		chunkEnd := endChar
		if i+1 < len(offsets.Checkpoints) {
			chunkEnd = min(endChar, offsets.Checkpoints[i+1].Char)
		}
		if chunkEnd <= chunkStart {
			continue
		}
		chunk, err := d.readRange(ctx, chunkStart, chunkEnd)
		if err != nil {
			return nil, err
		}
		textRunes := append(append([]rune{}, tail...), []rune(chunk)...)
		textStart := chunkStart - len(tail)

		searchFrom := 0
		for {
			pos := indexRunePos(textRunes, termRunes, searchFrom)
			if pos == -1 {
				break
			}
			matchStart := textStart + pos
			matchEnd := matchStart + len(termRunes)
			if matchStart < startChar || matchEnd > endChar || matchEnd <= chunkStart {
				searchFrom = pos + 1
				continue
			}
			hits = append(hits, Hit{StartChar: matchStart, EndChar: matchEnd})
			if len(hits) >= maxHits {
				return hits, nil
			}
			searchFrom = pos + 1
		}
		if overlap > 0 && len(textRunes) >= overlap {
			tail = append([]rune{}, textRunes[len(textRunes)-overlap:]...)
		} else {
			tail = nil
		}
	}
	return hits, nil
}

// Regex scans [start, end) against a compiled RE2 pattern. Unlike find, the
// whole range is read and matched at once: RE2 gives no cheap streaming
// guarantee against arbitrary patterns, and range sizes are bounded by the
// same budget checks callers apply to slice/find.
func (d *DocView) Regex(ctx context.Context, pattern string, start, end, maxHits int) ([]Hit, error) {
	if pattern == "" || maxHits <= 0 {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, nil
	}
	startChar, endChar, err := d.normalizeRange(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if startChar >= endChar {
		return nil, nil
	}
	d.logSpan(models.SpanLogEntry{DocIndex: d.doc.DocIndex, StartChar: startChar, EndChar: endChar, Tag: "scan:regex"})

	text, err := d.readRange(ctx, startChar, endChar)
	if err != nil {
		return nil, err
	}
	textRunes := []rune(text)
	byteToRune := make(map[int]int, len(textRunes)+1)
	runeIdx := 0
	for b := range text {
		byteToRune[b] = runeIdx
		runeIdx++
	}
	byteToRune[len(text)] = len(textRunes)

	var hits []Hit
	for _, loc := range re.FindAllStringIndex(text, -1) {
		hits = append(hits, Hit{StartChar: startChar + byteToRune[loc[0]], EndChar: startChar + byteToRune[loc[1]]})
		if len(hits) >= maxHits {
			break
		}
	}
	return hits, nil
}

func (d *DocView) normalizeRange(ctx context.Context, start, end int) (int, int, error) {
	length, err := d.Len(ctx)
	if err != nil {
		return 0, 0, err
	}
	if start < 0 || end < 0 || start > end {
		return 0, 0, rlmerrors.New(rlmerrors.ValidationError, "invalid character range")
	}
	if end > length {
		return 0, 0, rlmerrors.New(rlmerrors.ValidationError, "character range exceeds document length")
	}
	return start, end, nil
}

func (d *DocView) getOffsets(ctx context.Context) (*models.Offsets, error) {
	if d.offsets != nil {
		return d.offsets, nil
	}
	var offsets models.Offsets
	if err := blob.GetJSON(ctx, d.store, d.doc.OffsetsURI, &offsets); err != nil {
		return nil, rlmerrors.Newf(rlmerrors.S3ReadError, "load offsets: %v", err)
	}
	if len(offsets.Checkpoints) == 0 {
		return nil, rlmerrors.New(rlmerrors.S3ReadError, "offsets checkpoints missing")
	}
	d.offsets = &offsets
	return d.offsets, nil
}

func (d *DocView) getMeta(ctx context.Context) (map[string]any, error) {
	if d.metaLoaded {
		return d.meta, nil
	}
	d.metaLoaded = true
	if d.doc.MetaURI == "" {
		d.meta = map[string]any{}
		return d.meta, nil
	}
	var meta map[string]any
	if err := blob.GetJSON(ctx, d.store, d.doc.MetaURI, &meta); err != nil {
		d.meta = map[string]any{}
		return d.meta, nil
	}
	d.meta = meta
	return d.meta, nil
}

func (d *DocView) readRange(ctx context.Context, startChar, endChar int) (string, error) {
	offsets, err := d.getOffsets(ctx)
	if err != nil {
		return "", err
	}
	startCp, endCp := resolveWindow(offsets.Checkpoints, startChar, endChar)
	if endCp.Byte <= startCp.Byte {
		return "", nil
	}
	raw, err := d.store.GetRange(ctx, d.doc.TextURI, int64(startCp.Byte), int64(endCp.Byte))
	if err != nil {
		return "", rlmerrors.Newf(rlmerrors.S3ReadError, "read text range: %v", err)
	}
	text := string(raw)
	runes := []rune(text)
	startOffset := startChar - startCp.Char
	endOffset := endChar - startCp.Char
	if startOffset < 0 {
		startOffset = 0
	}
	if endOffset > len(runes) {
		endOffset = len(runes)
	}
	return string(runes[startOffset:endOffset]), nil
}

func resolveWindow(checkpoints []models.Checkpoint, startChar, endChar int) (models.Checkpoint, models.Checkpoint) {
	chars := checkpointChars(checkpoints)
	startIdx := upperBound(chars, startChar) - 1
	if startIdx < 0 {
		startIdx = 0
	}
	endIdx := lowerBound(chars, endChar)
	if endIdx >= len(checkpoints) {
		endIdx = len(checkpoints) - 1
	}
	return checkpoints[startIdx], checkpoints[endIdx]
}

func checkpointChars(checkpoints []models.Checkpoint) []int {
	chars := make([]int, len(checkpoints))
	for i, c := range checkpoints {
		chars[i] = c.Char
	}
	return chars
}

func upperBound(sorted []int, v int) int {
	return sort.Search(len(sorted), func(i int) bool { return sorted[i] > v })
}

func lowerBound(sorted []int, v int) int {
	return sort.Search(len(sorted), func(i int) bool { return sorted[i] >= v })
}

func indexRunePos(haystack, needle []rune, from int) int {
	if len(needle) == 0 || from > len(haystack)-len(needle) {
		return -1
	}
	for i := from; i <= len(haystack)-len(needle); i++ {
		if runesEqual(haystack[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
