// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package agent defines the Executor contract the orchestrator drives
// and a handful of reference executors that exercise it over the MCP
// client rather than a real LLM.
package agent

import (
	"context"
	"fmt"

	"autoagent/platform/internal/mcp"
)

// Executor runs one agent turn: given the workflow's running state, it
// returns the fields to merge back into that state. Implementations
// must not mutate the state map they are given.
type Executor func(ctx context.Context, state map[string]any) (map[string]any, error)

// MCPToolExecutor builds an Executor that executes a single MCP tool
// call, seeding its arguments from a fixed set of state keys and
// merging the call's result under resultKey.
//
// This is the reference shape every real agent executor follows: pull
// what it needs out of state, call out to an MCP server for the actual
// work, and hand back a small, explicitly-named slice of state.
func MCPToolExecutor(client *mcp.Client, server, tool string, argKeys []string, resultKey string) Executor {
	return func(ctx context.Context, state map[string]any) (map[string]any, error) {
		args := make(map[string]any, len(argKeys))
		for _, key := range argKeys {
			if v, ok := state[key]; ok {
				args[key] = v
			}
		}

		result, err := client.Call(ctx, server, tool, args, 0)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", server, tool, err)
		}
		return map[string]any{resultKey: result}, nil
	}
}

// EchoExecutor is a trivial reference Executor backed by the bundled
// "echo" MCP server's "echo" tool: it round-trips whatever state keys
// are named by argKeys under "echo_result". Useful for wiring tests and
// demos that need a real (if inert) agent in the loop.
func EchoExecutor(client *mcp.Client, argKeys []string) Executor {
	return MCPToolExecutor(client, "echo", "echo", argKeys, "echo_result")
}
