/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kestrelrun/rlmrs/internal/config"
	"github.com/kestrelrun/rlmrs/internal/orchestrator"
	"github.com/kestrelrun/rlmrs/internal/storage/blob"
	"github.com/kestrelrun/rlmrs/internal/storage/record"
)

// storeClient bundles the two stores rlmrs-ctl operates against directly.
// There is no API gateway in front of them to go through instead.
type storeClient struct {
	pool    *pgxpool.Pool
	Store   record.Store
	Blob    blob.Store
	Runtime *orchestrator.RuntimeStepper
}

func newStoreClient(configPath string) (*storeClient, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, settings.PostgresDSN)
	if err != nil {
		return nil, err
	}

	s3Client, err := blob.NewS3Client(ctx, settings.AWSRegion, settings.S3Endpoint)
	if err != nil {
		pool.Close()
		return nil, err
	}

	store := record.NewPostgresStore(pool)
	blobStore := blob.NewS3Store(s3Client, settings.S3Bucket)

	// rlmrs-ctl drives Runtime-mode executions one step at a time for a
	// human at a terminal; it wires no Provider or SearchBackend, so
	// RuntimeStepper.Step works but ResolveTools does not — an operator
	// supplies tool results through SynthesizeToolResults (the stub path)
	// instead of this process making LLM/search calls on their behalf.
	runtime := orchestrator.NewRuntimeStepper(settings, store, blobStore, nil, nil)

	return &storeClient{
		pool:    pool,
		Store:   store,
		Blob:    blobStore,
		Runtime: runtime,
	}, nil
}

func (c *storeClient) Close() {
	c.pool.Close()
}
