/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package trace

import (
	"context"
	"testing"

	"github.com/kestrelrun/rlmrs/internal/storage/blob"
)

func TestCollectorRecordAndEntriesOrder(t *testing.T) {
	c := NewCollector()
	c.Record(Entry{TurnIndex: 0, Code: "tool.final(\"a\")"})
	c.Record(Entry{TurnIndex: 1, Code: "tool.final(\"b\")"})

	entries := c.Entries()
	if len(entries) != 2 || entries[0].TurnIndex != 0 || entries[1].TurnIndex != 1 {
		t.Fatalf("expected entries in record order, got %+v", entries)
	}
}

func TestCollectorEntriesReturnsSnapshot(t *testing.T) {
	c := NewCollector()
	c.Record(Entry{TurnIndex: 0})
	snap := c.Entries()
	c.Record(Entry{TurnIndex: 1})
	if len(snap) != 1 {
		t.Fatalf("expected the earlier snapshot to stay at length 1, got %d", len(snap))
	}
}

func TestPersistAndLoadRoundTrip(t *testing.T) {
	store := blob.NewMemoryStore()
	entries := []Entry{
		{TurnIndex: 0, Code: "tool.final(\"done\")", Stdout: "hi"},
	}
	if err := Persist(context.Background(), store, "tenant-a", "exec-1", entries); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := Load(context.Background(), store, "tenant-a", "exec-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Code != "tool.final(\"done\")" || loaded[0].Stdout != "hi" {
		t.Fatalf("expected the round-tripped entry to match what was persisted, got %+v", loaded)
	}
}

func TestKeyShape(t *testing.T) {
	got := Key("tenant-a", "exec-1")
	want := "traces/tenant-a/exec-1/trace.json.gz"
	if got != want {
		t.Fatalf("expected key %q, got %q", want, got)
	}
}
