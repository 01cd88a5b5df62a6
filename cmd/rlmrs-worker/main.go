/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Command rlmrs-worker is one orchestrator replica: it loads Settings, wires
// the record store, blob store, completion provider and search backend, and
// runs orchestrator.Worker.Run until signalled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelrun/rlmrs/internal/config"
	"github.com/kestrelrun/rlmrs/internal/metrics"
	"github.com/kestrelrun/rlmrs/internal/models"
	"github.com/kestrelrun/rlmrs/internal/orchestrator"
	"github.com/kestrelrun/rlmrs/internal/provider"
	"github.com/kestrelrun/rlmrs/internal/sandbox/docview"
	"github.com/kestrelrun/rlmrs/internal/search"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
	"github.com/kestrelrun/rlmrs/internal/storage/record"
	"github.com/kestrelrun/rlmrs/internal/telemetry"
)

// newLogger builds a logr.Logger over the standard library's log package —
// the teacher's own entrypoint configures zap via controller-runtime, which
// this module does not depend on; stdr is the minimal logr backend in the
// dependency pack that needs no controller-runtime machinery to construct.
func newLogger() logr.Logger {
	return stdr.New(log.New(os.Stderr, "", log.LstdFlags))
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("RLMRS_CONFIG"), "Path to the worker settings YAML file.")
	flag.Parse()

	logger := newLogger()
	setupLog := logger.WithName("setup")

	settings, err := config.Load(configPath)
	if err != nil {
		setupLog.Error(err, "failed to load settings")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTraceProvider(ctx, settings.OTLPEndpoint, "0.1.0")
	if err != nil {
		setupLog.Error(err, "failed to initialise OTel tracing, continuing without traces")
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(shutdownCtx); err != nil {
				setupLog.Error(err, "failed to shut down OTel tracer")
			}
		}()
	}

	pool, err := pgxpool.New(ctx, settings.PostgresDSN)
	if err != nil {
		setupLog.Error(err, "failed to connect to postgres")
		os.Exit(1)
	}
	defer pool.Close()
	store := record.NewPostgresStore(pool)

	s3Client, err := blob.NewS3Client(ctx, settings.AWSRegion, settings.S3Endpoint)
	if err != nil {
		setupLog.Error(err, "failed to build S3 client")
		os.Exit(1)
	}
	rawBlob := blob.NewS3Store(s3Client, settings.S3Bucket)

	cacheBlob := blob.Store(rawBlob)
	if settings.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
		defer redisClient.Close()
		cacheBlob = blob.NewRedisFrontedStore(rawBlob, redisClient, 24*time.Hour)
		setupLog.Info("redis cache front enabled", "addr", settings.RedisAddr)
	}

	llm, err := buildProvider(ctx, settings, cacheBlob)
	if err != nil {
		setupLog.Error(err, "failed to build completion provider")
		os.Exit(1)
	}
	setupLog.Info("completion provider ready", "provider", llm.Name())

	resolver := func(ctx context.Context, tenantID, sessionID string) (*docview.ContextView, error) {
		return buildContextView(ctx, store, rawBlob, sessionID)
	}
	trigram := search.NewTrigramBackend(rawBlob, search.DefaultIndexConfig(), resolver)
	searchBackend := search.Backend(search.NewCachedBackend(trigram, "trigram", cacheBlob))

	worker := orchestrator.NewWorker(settings, store, rawBlob, llm, searchBackend, logger)

	_ = metrics.Registry // metrics are ambient (§10); no /metrics exporter is stood up here.

	setupLog.Info("starting orchestrator worker",
		"owner", worker.OwnerID,
		"tick_interval_seconds", settings.TickIntervalSeconds,
		"lease_duration_seconds", settings.LeaseDurationSeconds,
	)
	if err := worker.Run(ctx); err != nil {
		setupLog.Error(err, "worker run loop exited with error")
		os.Exit(1)
	}
	setupLog.Info("worker shut down cleanly")
}

// buildProvider selects a CompletionProvider from Settings.LLMProvider,
// wrapping every real backend in CachedProvider so sub-calls share the
// content-addressed cache fronted by cacheBlob.
func buildProvider(ctx context.Context, settings config.Settings, cacheBlob blob.Store) (provider.Provider, error) {
	switch settings.LLMProvider {
	case "anthropic":
		p, err := provider.NewAnthropicProvider(provider.AnthropicConfig{
			APIKey:     settings.AnthropicAPIKey,
			MaxRetries: settings.OpenAIMaxRetries,
		})
		if err != nil {
			return nil, err
		}
		return provider.NewCachedProvider(p, cacheBlob), nil
	case "openai":
		p := provider.NewOpenAIProvider(provider.OpenAIConfig{
			APIKey:     settings.OpenAIAPIKey,
			BaseURL:    settings.OpenAIBaseURL,
			MaxRetries: settings.OpenAIMaxRetries,
		})
		return provider.NewCachedProvider(p, cacheBlob), nil
	case "bedrock":
		client, err := provider.NewBedrockClient(ctx, settings.AWSRegion)
		if err != nil {
			return nil, err
		}
		p := provider.NewBedrockProvider(client, settings.OpenAIMaxRetries)
		return provider.NewCachedProvider(p, cacheBlob), nil
	case "fake", "":
		return provider.NewFakeProvider(nil, ""), nil
	default:
		return nil, fmt.Errorf("unknown llm_provider %q", settings.LLMProvider)
	}
}

// buildContextView assembles the ContextView search needs to score hits
// against: the session's documents sorted by doc index, keeping only those
// whose status is INDEXED.
func buildContextView(ctx context.Context, store record.Store, blobStore blob.Store, sessionID string) (*docview.ContextView, error) {
	docs, err := store.QueryDocuments(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocIndex < docs[j].DocIndex })

	manifest := models.ContextManifest{Docs: make([]models.ContextDocument, 0, len(docs))}
	for _, d := range docs {
		if d.Status != models.DocIndexed {
			continue
		}
		manifest.Docs = append(manifest.Docs, models.ContextDocument{
			DocID:      d.DocID,
			DocIndex:   d.DocIndex,
			TextURI:    d.TextURI,
			OffsetsURI: d.OffsetsURI,
		})
	}
	return docview.New(manifest, blobStore), nil
}
