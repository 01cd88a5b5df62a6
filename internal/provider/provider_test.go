/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package provider

import (
	"context"
	"testing"

	"github.com/kestrelrun/rlmrs/internal/storage/blob"
)

func TestFakeProviderCompleteSubcall(t *testing.T) {
	p := NewFakeProvider(nil, "")
	text, err := p.CompleteSubcall(context.Background(), "summarize this", "sub", 100, nil, "tenant-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "fake:summarize this" {
		t.Errorf("expected fake: prefix, got %q", text)
	}
	if len(p.Calls) != 1 || p.Calls[0].MaxTokens != 100 {
		t.Errorf("expected call recorded with max_tokens=100, got %+v", p.Calls)
	}
}

func TestFakeProviderCompleteRootQueueAndDefault(t *testing.T) {
	p := NewFakeProvider([]string{"```repl\ntool.yield(\"x\");\n```"}, "")

	first, err := p.CompleteRoot(context.Background(), "q", "root", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != "```repl\ntool.yield(\"x\");\n```" {
		t.Errorf("expected queued output, got %q", first)
	}

	second, err := p.CompleteRoot(context.Background(), "q", "root", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != "```repl\ntool.final(\"ok\");\n```" {
		t.Errorf("expected default output once queue is exhausted, got %q", second)
	}
}

func TestCachedProviderPopulatesOnMiss(t *testing.T) {
	store := blob.NewMemoryStore()
	inner := NewFakeProvider(nil, "")
	cached := NewCachedProvider(inner, store)

	temp := 0.0
	text1, err := cached.CompleteSubcall(context.Background(), "extract", "sub", 50, &temp, "tenant-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inner.Calls) != 1 {
		t.Fatalf("expected one upstream call on miss, got %d", len(inner.Calls))
	}

	text2, err := cached.CompleteSubcall(context.Background(), "extract", "sub", 50, &temp, "tenant-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text1 != text2 {
		t.Errorf("expected cached text to match, got %q vs %q", text1, text2)
	}
	if len(inner.Calls) != 1 {
		t.Errorf("expected no second upstream call on cache hit, got %d calls", len(inner.Calls))
	}
}

func TestCachedProviderSkipsCacheWithoutTenant(t *testing.T) {
	store := blob.NewMemoryStore()
	inner := NewFakeProvider(nil, "")
	cached := NewCachedProvider(inner, store)

	_, err := cached.CompleteSubcall(context.Background(), "extract", "sub", 50, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = cached.CompleteSubcall(context.Background(), "extract", "sub", 50, nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inner.Calls) != 2 {
		t.Errorf("expected every call to reach upstream without a tenant, got %d", len(inner.Calls))
	}
}

func TestUsesMaxCompletionTokens(t *testing.T) {
	cases := map[string]bool{
		"gpt-5":        true,
		"gpt-5-mini":   true,
		"o1":           true,
		"o3-mini":      true,
		"gpt-4o":       false,
		"gpt-4o-mini":  false,
		"claude-sonnet": false,
	}
	for model, want := range cases {
		if got := usesMaxCompletionTokens(model); got != want {
			t.Errorf("usesMaxCompletionTokens(%q) = %v, want %v", model, got, want)
		}
	}
}

func TestNewAnthropicProviderRequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicProvider(AnthropicConfig{})
	if err == nil {
		t.Error("expected error when no API key")
	}
}
