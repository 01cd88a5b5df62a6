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
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/kestrelrun/rlmrs/internal/rlmerrors"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockProvider calls Anthropic models hosted on Amazon Bedrock via
// InvokeModel, using the same Anthropic Messages wire format as
// AnthropicProvider but addressed by a Bedrock model ID instead of a
// direct API call.
type BedrockProvider struct {
	client     *bedrockruntime.Client
	maxRetries int
}

// NewBedrockClient builds a bedrockruntime.Client from the ambient AWS config.
func NewBedrockClient(ctx context.Context, region string) (*bedrockruntime.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return bedrockruntime.NewFromConfig(cfg), nil
}

// NewBedrockProvider wraps an already-configured bedrockruntime.Client.
func NewBedrockProvider(client *bedrockruntime.Client, maxRetries int) *BedrockProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &BedrockProvider{client: client, maxRetries: maxRetries}
}

func (p *BedrockProvider) Name() string { return "bedrock" }

type bedrockRequest struct {
	AnthropicVersion string             `json:"anthropic_version"`
	MaxTokens        int                `json:"max_tokens"`
	Temperature      *float64           `json:"temperature,omitempty"`
	Messages         []anthropicMessage `json:"messages"`
}

type bedrockResponse struct {
	Content []anthropicContentBlock `json:"content"`
}

func (p *BedrockProvider) CompleteRoot(ctx context.Context, prompt string, model string, _ string) (string, error) {
	return p.invoke(ctx, prompt, model, anthropicDefaultMaxTokens, nil)
}

func (p *BedrockProvider) CompleteSubcall(ctx context.Context, prompt string, model string, maxTokens int, temperature *float64, _ string) (string, error) {
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	return p.invoke(ctx, prompt, model, maxTokens, temperature)
}

func (p *BedrockProvider) invoke(ctx context.Context, prompt, model string, maxTokens int, temperature *float64) (string, error) {
	if model == "" {
		return "", rlmerrors.New(rlmerrors.ValidationError, "model is required for bedrock provider")
	}
	body, err := json.Marshal(bedrockRequest{
		AnthropicVersion: bedrockAnthropicVersion,
		MaxTokens:        maxTokens,
		Temperature:      temperature,
		Messages:         []anthropicMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", rlmerrors.Newf(rlmerrors.InternalError, "marshal bedrock request: %v", err)
	}

	out, err := p.withRetries(ctx, model, body)
	if err != nil {
		return "", rlmerrors.Newf(rlmerrors.LLMProviderError, "bedrock invoke failed: %v", err)
	}

	var resp bedrockResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", rlmerrors.Newf(rlmerrors.InternalError, "unmarshal bedrock response: %v", err)
	}
	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return text, nil
}

func (p *BedrockProvider) withRetries(ctx context.Context, model string, body []byte) (*bedrockruntime.InvokeModelOutput, error) {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(model),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err == nil {
			return out, nil
		}
		lastErr = err
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) && respErr.HTTPStatusCode() != 429 && respErr.HTTPStatusCode() < 500 {
			return nil, err
		}
		if attempt == p.maxRetries {
			return nil, err
		}
	}
	return nil, lastErr
}
