/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/kestrelrun/rlmrs/internal/rlmerrors"
)

const (
	anthropicDefaultEndpoint  = "https://api.anthropic.com"
	anthropicAPIVersion       = "2023-06-01"
	anthropicDefaultMaxTokens = 4096
)

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey         string
	Endpoint       string
	TimeoutSeconds int
	MaxRetries     int
}

// AnthropicProvider calls the Anthropic Messages API directly over HTTP —
// there is no official Anthropic Go SDK in the dependency pack, so this
// keeps the teacher's hand-rolled client and exponential-backoff retry loop.
type AnthropicProvider struct {
	endpoint   string
	apiKey     string
	client     *http.Client
	maxRetries int
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, rlmerrors.New(rlmerrors.InternalError, "anthropic provider requires API key")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = anthropicDefaultEndpoint
	}

	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 120
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	return &AnthropicProvider{
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		client:     &http.Client{Timeout: time.Duration(timeout) * time.Second},
		maxRetries: maxRetries,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Error      *anthropicError         `json:"error,omitempty"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (p *AnthropicProvider) CompleteRoot(ctx context.Context, prompt string, model string, _ string) (string, error) {
	return p.chatCompletion(ctx, prompt, model, anthropicDefaultMaxTokens, nil)
}

func (p *AnthropicProvider) CompleteSubcall(ctx context.Context, prompt string, model string, maxTokens int, temperature *float64, _ string) (string, error) {
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	return p.chatCompletion(ctx, prompt, model, maxTokens, temperature)
}

func (p *AnthropicProvider) chatCompletion(ctx context.Context, prompt, model string, maxTokens int, temperature *float64) (string, error) {
	if model == "" {
		return "", rlmerrors.New(rlmerrors.ValidationError, "model is required for anthropic provider")
	}
	req := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt}},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", rlmerrors.Newf(rlmerrors.InternalError, "marshal anthropic request: %v", err)
	}

	var resp anthropicResponse
	if err := p.doWithRetry(ctx, body, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", rlmerrors.Newf(rlmerrors.LLMProviderError, "anthropic API error (%s): %s", resp.Error.Type, resp.Error.Message)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

func (p *AnthropicProvider) doWithRetry(ctx context.Context, body []byte, result *anthropicResponse) error {
	url := p.endpoint + "/v1/messages"

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return rlmerrors.Newf(rlmerrors.InternalError, "create HTTP request: %v", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", p.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

		httpResp, err := p.client.Do(httpReq)
		if err != nil {
			if attempt < p.maxRetries {
				continue
			}
			return rlmerrors.Newf(rlmerrors.LLMProviderError, "anthropic request failed: %v", err)
		}

		respBody, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			return rlmerrors.Newf(rlmerrors.LLMProviderError, "read anthropic response: %v", err)
		}

		if httpResp.StatusCode == 429 || httpResp.StatusCode >= 500 {
			if attempt < p.maxRetries {
				continue
			}
			return rlmerrors.Newf(rlmerrors.LLMProviderError, "anthropic API returned %d after %d retries: %s",
				httpResp.StatusCode, p.maxRetries, string(respBody))
		}
		if httpResp.StatusCode != 200 {
			return rlmerrors.Newf(rlmerrors.LLMProviderError, "anthropic API returned %d: %s", httpResp.StatusCode, string(respBody))
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return rlmerrors.Newf(rlmerrors.InternalError, "unmarshal anthropic response: %v", err)
		}
		return nil
	}

	return rlmerrors.New(rlmerrors.LLMProviderError, "exhausted retries")
}
