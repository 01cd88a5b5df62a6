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
	"sync"
)

// Call records one request made through a FakeProvider, for tests that
// assert on what the orchestrator actually sent.
type Call struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature *float64
}

// FakeProvider is a deterministic, in-memory Provider for tests and local
// development: CompleteRoot pops from a queue of canned outputs (falling
// back to a default that immediately calls tool.final), and CompleteSubcall
// always answers "fake:" + prompt.
type FakeProvider struct {
	mu                sync.Mutex
	rootOutputs       []string
	defaultRootOutput string
	Calls             []Call
}

// NewFakeProvider constructs a FakeProvider. rootOutputs are served in
// order to successive CompleteRoot calls; once exhausted, every further
// call returns defaultRootOutput (or the built-in default if empty).
func NewFakeProvider(rootOutputs []string, defaultRootOutput string) *FakeProvider {
	if defaultRootOutput == "" {
		defaultRootOutput = "```repl\ntool.final(\"ok\");\n```"
	}
	return &FakeProvider{
		rootOutputs:       append([]string(nil), rootOutputs...),
		defaultRootOutput: defaultRootOutput,
	}
}

func (p *FakeProvider) Name() string { return "fake" }

func (p *FakeProvider) CompleteRoot(_ context.Context, prompt string, model string, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, Call{Prompt: prompt, Model: model})
	if len(p.rootOutputs) > 0 {
		out := p.rootOutputs[0]
		p.rootOutputs = p.rootOutputs[1:]
		return out, nil
	}
	return p.defaultRootOutput, nil
}

func (p *FakeProvider) CompleteSubcall(_ context.Context, prompt string, model string, maxTokens int, temperature *float64, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, Call{Prompt: prompt, Model: model, MaxTokens: maxTokens, Temperature: temperature})
	return "fake:" + prompt, nil
}
