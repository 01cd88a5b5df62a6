/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Command rlmrs-ctl is a small operator CLI: submit an execution, tail its
// trace, and verify its citations. It talks to the record and blob stores
// directly rather than through an HTTP API — this runtime does not stand
// one up (spec.md §1's "API gateway" exclusion) — so rlmrs-ctl is closer to
// a database admin tool than the teacher's legatorctl REST client, though it
// keeps legatorctl's argument-parsing and table-rendering shape.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type cliConfig struct {
	configPath string
	jsonOutput bool
}

func main() {
	cfg, command, args, err := parseArgs(os.Args[1:])
	if errors.Is(err, errShowUsage) {
		printUsage()
		if len(os.Args) == 1 {
			os.Exit(1)
		}
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	if command == "version" {
		fmt.Printf("rlmrs-ctl %s (commit: %s, built: %s)\n", version, commit, date)
		return
	}
	if command == "" || command == "help" || command == "--help" || command == "-h" {
		printUsage()
		return
	}

	client, err := newStoreClient(cfg.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	ctx := context.Background()

	switch command {
	case "submit":
		err = runSubmit(ctx, client, cfg, args)
	case "status":
		err = runStatus(ctx, client, cfg, args)
	case "trace":
		err = runTrace(ctx, client, cfg, args)
	case "citations":
		err = runCitations(ctx, client, cfg, args)
	case "step":
		err = runStep(ctx, client, cfg, args)
	default:
		err = fmt.Errorf("unknown command: %s", command)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

var errShowUsage = errors.New("show usage")

func parseArgs(args []string) (cliConfig, string, []string, error) {
	cfg := cliConfig{
		configPath: os.Getenv("RLMRS_CONFIG"),
	}

	idx := 0
	for idx < len(args) {
		arg := args[idx]
		if !strings.HasPrefix(arg, "-") {
			break
		}
		switch arg {
		case "--help", "-h":
			return cfg, "", nil, errShowUsage
		case "--config", "-c":
			if idx+1 >= len(args) {
				return cfg, "", nil, fmt.Errorf("--config requires a value")
			}
			cfg.configPath = args[idx+1]
			idx += 2
		case "--json":
			cfg.jsonOutput = true
			idx++
		default:
			return cfg, "", nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}

	if idx >= len(args) {
		return cfg, "", nil, errShowUsage
	}

	return cfg, args[idx], args[idx+1:], nil
}

func printUsage() {
	fmt.Print(`Usage: rlmrs-ctl [--config <path>] [--json] <command>

Commands:
  submit --tenant <id> --session <id> --execution <id> --question <text>
         --root-model <name> [--sub-model <name>] [--max-turns <n>]
                              Register a session (if new) and submit a
                              RUNNING Answerer execution for a worker to pick up
  status <session> <execution> Show an execution's current status/answer
  trace <tenant> <execution>   Tail a completed execution's persisted trace
  citations <session> <execution>
                              List an execution's citations and re-verify
                              each span's checksum against stored document text
  step --tenant <id> --session <id> --execution <id>
       (--code <js> | --code-file <path>) [--state <json>]
                              Run one turn of a RUNTIME-mode execution with
                              caller-supplied code, persist the result, and
                              finalize the execution if the turn was final
  version                     Print version information
`)
}

func intArg(args []string, i int) (int, error) {
	n, err := strconv.Atoi(args[i])
	if err != nil {
		return 0, fmt.Errorf("expected an integer, got %q", args[i])
	}
	return n, nil
}
