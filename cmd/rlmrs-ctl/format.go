/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/kestrelrun/rlmrs/internal/models"
)

func init() {
	// fatih/color already checks NO_COLOR and whether stdout is a character
	// device on its own, but rlmrs-ctl's output is also piped into scripts
	// (citations | jq, trace | less), so disable proactively when isatty
	// says stdout isn't a terminal rather than trusting color's default.
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

var (
	statusGood = color.New(color.FgGreen, color.Bold)
	statusBad  = color.New(color.FgRed, color.Bold)
	statusWarn = color.New(color.FgYellow, color.Bold)
	statusDim  = color.New(color.Faint)
	heading    = color.New(color.FgCyan, color.Bold)
)

// colorizeStatus renders an ExecutionStatus with the teacher's traffic-light
// convention: green for a clean completion, red for a failure terminal
// state, yellow for anything still in flight or cut short by a budget.
func colorizeStatus(status models.ExecutionStatus) string {
	switch status {
	case models.StatusCompleted:
		return statusGood.Sprint(string(status))
	case models.StatusFailed, models.StatusCancelled:
		return statusBad.Sprint(string(status))
	case models.StatusRunning:
		return statusWarn.Sprint(string(status))
	case models.StatusTimeout, models.StatusBudgetExceeded, models.StatusMaxTurnsExceeded:
		return statusWarn.Sprint(string(status))
	default:
		return string(status)
	}
}

func checkMark(ok bool) string {
	if ok {
		return statusGood.Sprint("OK")
	}
	return statusBad.Sprint("MISMATCH")
}

func printHeading(format string, args ...any) {
	heading.Printf(format+"\n", args...)
}

func printDim(format string, args ...any) {
	statusDim.Printf(format+"\n", args...)
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}

// printJSON writes v as indented JSON to stdout, for --json callers piping
// rlmrs-ctl's output into jq or another script rather than reading it.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}
