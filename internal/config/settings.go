/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package config loads the orchestrator worker's settings from a YAML file,
// with environment-variable overrides for the values operators most commonly
// need to change per-deployment (credentials, endpoints).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Settings is the orchestrator worker's full configuration.
type Settings struct {
	AWSRegion          string `yaml:"aws_region"`
	S3Bucket           string `yaml:"s3_bucket"`
	S3Endpoint         string `yaml:"s3_endpoint"`
	CacheBucketPrefix  string `yaml:"cache_bucket_prefix"`

	PostgresDSN string `yaml:"postgres_dsn"`

	RedisAddr string `yaml:"redis_addr"`

	LLMProvider        string `yaml:"llm_provider"` // "anthropic" | "openai" | "bedrock" | "fake"
	AnthropicAPIKey    string `yaml:"anthropic_api_key"`
	OpenAIAPIKey       string `yaml:"openai_api_key"`
	OpenAIBaseURL      string `yaml:"openai_base_url"`
	OpenAIMaxRetries   int    `yaml:"openai_max_retries"`
	DefaultRootModel   string `yaml:"default_root_model"`
	DefaultSubModel    string `yaml:"default_sub_model"`

	EnableSearch bool `yaml:"enable_search"`

	LeaseDurationSeconds int `yaml:"lease_duration_seconds"`
	TickIntervalSeconds  int `yaml:"tick_interval_seconds"`
	MaxConcurrentRuns    int `yaml:"max_concurrent_runs"`

	ToolResolutionMaxConcurrency int `yaml:"tool_resolution_max_concurrency"`

	// CitationMergeGapChars is the character distance within which two reads
	// of the same document are merged into one citation span (spec.md §4.9).
	// Defaults to 0 if unset; at 0, only overlapping or touching reads merge.
	CitationMergeGapChars int `yaml:"citation_merge_gap_chars"`

	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Defaults returns a Settings populated with the runtime's documented defaults.
func Defaults() Settings {
	return Settings{
		AWSRegion:                    "us-east-1",
		CacheBucketPrefix:            "cache",
		LLMProvider:                  "fake",
		OpenAIMaxRetries:             3,
		LeaseDurationSeconds:         30,
		TickIntervalSeconds:          5,
		MaxConcurrentRuns:            10,
		ToolResolutionMaxConcurrency: 4,
	}
}

// Load reads a YAML settings file, falling back to Defaults() for unset
// fields, then applies the RLMRS_* environment-variable overrides a deployment
// most commonly needs (credentials, endpoints) without editing the file.
func Load(path string) (Settings, error) {
	s := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read settings file: %w", err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, fmt.Errorf("parse settings file: %w", err)
		}
	}
	applyEnvOverrides(&s)
	if s.S3Bucket == "" {
		return Settings{}, fmt.Errorf("s3_bucket is required for the orchestrator")
	}
	return s, nil
}

func applyEnvOverrides(s *Settings) {
	overrideString(&s.S3Bucket, "RLMRS_S3_BUCKET")
	overrideString(&s.S3Endpoint, "RLMRS_S3_ENDPOINT")
	overrideString(&s.PostgresDSN, "RLMRS_POSTGRES_DSN")
	overrideString(&s.RedisAddr, "RLMRS_REDIS_ADDR")
	overrideString(&s.LLMProvider, "RLMRS_LLM_PROVIDER")
	overrideString(&s.AnthropicAPIKey, "RLMRS_ANTHROPIC_API_KEY")
	overrideString(&s.OpenAIAPIKey, "RLMRS_OPENAI_API_KEY")
	overrideString(&s.OTLPEndpoint, "RLMRS_OTLP_ENDPOINT")
}

func overrideString(dst *string, envVar string) {
	if v := os.Getenv(envVar); v != "" {
		*dst = v
	}
}
