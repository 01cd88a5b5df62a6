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
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/kestrelrun/rlmrs/internal/rlmerrors"
)

const openaiDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	TimeoutSeconds int
	MaxRetries     int
}

// OpenAIProvider calls the Chat Completions API via the go-openai SDK,
// wrapped in the teacher's exponential-backoff retry loop. It also performs
// the one-shot model-family quirk retry described in
// original_source/orchestrator/providers.py: some models reject max_tokens
// in favor of max_completion_tokens, and reasoning models reject any
// temperature other than their default.
type OpenAIProvider struct {
	client     *openai.Client
	maxRetries int
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = openaiDefaultBaseURL
	}
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL
	clientCfg.HTTPClient = &http.Client{Timeout: time.Duration(timeout) * time.Second}

	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(clientCfg),
		maxRetries: maxRetries,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) CompleteRoot(ctx context.Context, prompt string, model string, _ string) (string, error) {
	return p.chatCompletion(ctx, prompt, model, nil, nil)
}

func (p *OpenAIProvider) CompleteSubcall(ctx context.Context, prompt string, model string, maxTokens int, temperature *float64, _ string) (string, error) {
	effectiveTemp := 0.0
	if temperature != nil {
		effectiveTemp = *temperature
	}
	mt := maxTokens
	return p.chatCompletion(ctx, prompt, model, &mt, &effectiveTemp)
}

func (p *OpenAIProvider) chatCompletion(ctx context.Context, prompt, model string, maxTokens *int, temperature *float64) (string, error) {
	if model == "" {
		return "", rlmerrors.New(rlmerrors.ValidationError, "model is required for openai provider")
	}
	req := buildRequest(model, prompt, maxTokens, temperature)

	resp, err := p.withRetries(ctx, req)
	if err != nil {
		if quirkReq, retry := adaptForQuirk(req, err); retry {
			resp, err = p.withRetries(ctx, quirkReq)
		}
	}
	if err != nil {
		return "", rlmerrors.Newf(rlmerrors.LLMProviderError, "openai request failed: %v", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func buildRequest(model, prompt string, maxTokens *int, temperature *float64) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}},
	}
	if maxTokens != nil {
		if usesMaxCompletionTokens(model) {
			req.MaxCompletionTokens = *maxTokens
		} else {
			req.MaxTokens = *maxTokens
		}
	}
	if temperature != nil {
		req.Temperature = float32(*temperature)
	}
	return req
}

// usesMaxCompletionTokens reports whether model is known up front to require
// max_completion_tokens instead of max_tokens (gpt-5 and the oN reasoning
// family). Models outside that naming convention are still handled via the
// one-shot adaptForQuirk retry below.
func usesMaxCompletionTokens(model string) bool {
	normalized := strings.ToLower(model)
	if strings.HasPrefix(normalized, "gpt-5") {
		return true
	}
	if len(normalized) > 1 && normalized[0] == 'o' && normalized[1] >= '0' && normalized[1] <= '9' {
		return true
	}
	return false
}

// adaptForQuirk inspects a failed request's error for the two documented
// model-family quirks and, if found, returns a single adapted retry
// request. It never loops more than once.
func adaptForQuirk(req openai.ChatCompletionRequest, err error) (openai.ChatCompletionRequest, bool) {
	msg := strings.ToLower(err.Error())
	retried := false

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Param != nil && *apiErr.Param == "max_tokens" && req.MaxTokens > 0 {
			req.MaxCompletionTokens = req.MaxTokens
			req.MaxTokens = 0
			retried = true
		}
		if apiErr.Param != nil && *apiErr.Param == "temperature" {
			req.Temperature = 0
			retried = true
		}
	}
	if !retried {
		if strings.Contains(msg, "max_completion_tokens") && req.MaxTokens > 0 {
			req.MaxCompletionTokens = req.MaxTokens
			req.MaxTokens = 0
			retried = true
		}
		if strings.Contains(msg, "temperature") && strings.Contains(msg, "only the default") {
			req.Temperature = 0
			retried = true
		}
	}
	return req, retried
}

func (p *OpenAIProvider) withRetries(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				return openai.ChatCompletionResponse{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !shouldRetry(err) || attempt == p.maxRetries {
			return openai.ChatCompletionResponse{}, err
		}
	}
	return openai.ChatCompletionResponse{}, lastErr
}

func shouldRetry(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return true
	}
	return false
}
