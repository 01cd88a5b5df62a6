/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package rootprompt builds the root model's prompt (spec.md §4.8) from one
// of two fixed templates and parses its strictly-fenced output back into
// program source.
package rootprompt

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/kestrelrun/rlmrs/internal/rlmerrors"
)

var replBlockRE = regexp.MustCompile("(?s)```repl[ \t]*\n(.*?)\n?```")

// BuildArgs is everything the root prompt's token replacements need.
type BuildArgs struct {
	Question        string
	DocCount        int
	DocLengthsChars []int
	BudgetSnapshot  any
	LastStdout      *string
	LastError       *string
	SubcallsEnabled bool
}

// Build renders the fixed template selected by SubcallsEnabled with every
// {{TOKEN}} literally replaced.
func Build(args BuildArgs) (string, error) {
	docLengths, err := json.Marshal(args.DocLengthsChars)
	if err != nil {
		return "", rlmerrors.Newf(rlmerrors.InternalError, "encode doc_lengths_chars: %v", err)
	}
	budgetText, err := formatJSONValue(args.BudgetSnapshot)
	if err != nil {
		return "", err
	}
	replacements := map[string]string{
		"{{QUESTION}}":          args.Question,
		"{{DOC_COUNT}}":         strconv.Itoa(args.DocCount),
		"{{DOC_LENGTHS_CHARS}}": string(docLengths),
		"{{BUDGET_SNAPSHOT}}":   budgetText,
		"{{LAST_STDOUT}}":       formatOptionalText(args.LastStdout),
		"{{LAST_ERROR}}":        formatOptionalText(args.LastError),
	}
	return applyReplacements(template(args.SubcallsEnabled), replacements), nil
}

// Parse extracts the program source from exactly one ```repl fenced block
// that spans the entire (CRLF-normalized) output.
func Parse(output string) (string, error) {
	normalized := strings.ReplaceAll(strings.ReplaceAll(output, "\r\n", "\n"), "\r", "\n")
	matches := replBlockRE.FindAllStringSubmatchIndex(normalized, -1)
	if len(matches) != 1 {
		return "", rlmerrors.New(rlmerrors.ParserError, "root output must contain exactly one repl code block")
	}
	m := matches[0]
	if m[0] != 0 || m[1] != len(normalized) {
		return "", rlmerrors.New(rlmerrors.ParserError, "root output must contain only the repl code block")
	}
	return normalized[m[2]:m[3]], nil
}

func formatJSONValue(value any) (string, error) {
	if value == nil {
		return "null", nil
	}
	if s, ok := value.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", rlmerrors.Newf(rlmerrors.InternalError, "encode budget_snapshot: %v", err)
	}
	return string(raw), nil
}

func formatOptionalText(value *string) string {
	if value == nil {
		return "null"
	}
	return *value
}
