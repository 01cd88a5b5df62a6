/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package main

import (
	"errors"
	"testing"
)

func TestParseArgsSplitsFlagsFromCommand(t *testing.T) {
	cfg, command, rest, err := parseArgs([]string{"--config", "/tmp/settings.yaml", "--json", "status", "session-a", "exec-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.configPath != "/tmp/settings.yaml" || !cfg.jsonOutput {
		t.Fatalf("expected flags to populate cliConfig, got %+v", cfg)
	}
	if command != "status" {
		t.Fatalf("expected command %q, got %q", "status", command)
	}
	if len(rest) != 2 || rest[0] != "session-a" || rest[1] != "exec-1" {
		t.Fatalf("expected positional args to survive, got %+v", rest)
	}
}

func TestParseArgsNoArgsShowsUsage(t *testing.T) {
	_, _, _, err := parseArgs(nil)
	if !errors.Is(err, errShowUsage) {
		t.Fatalf("expected errShowUsage, got %v", err)
	}
}

func TestParseArgsUnknownFlagErrors(t *testing.T) {
	_, _, _, err := parseArgs([]string{"--bogus", "status"})
	if err == nil || errors.Is(err, errShowUsage) {
		t.Fatalf("expected an unknown-flag error, got %v", err)
	}
}

func TestParseSubmitArgsRequiresCoreFields(t *testing.T) {
	_, err := parseSubmitArgs([]string{"--tenant", "t"})
	if err == nil {
		t.Fatalf("expected an error for missing required fields")
	}
}

func TestParseSubmitArgsPopulatesAllFields(t *testing.T) {
	out, err := parseSubmitArgs([]string{
		"--tenant", "t", "--session", "s", "--execution", "e",
		"--question", "why?", "--root-model", "root-1", "--sub-model", "sub-1", "--max-turns", "5",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.tenantID != "t" || out.sessionID != "s" || out.executionID != "e" || out.question != "why?" {
		t.Fatalf("expected required fields to populate, got %+v", out)
	}
	if out.rootModel != "root-1" || out.subModel != "sub-1" || out.maxTurns != 5 {
		t.Fatalf("expected optional fields to populate, got %+v", out)
	}
}
