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

// Command claude is a reference stdio MCP server standing in for the
// "claude" generation server during tests. Its single "generate" tool
// reads the "prompt" argument: a prompt containing "SIMULATE_FAIL" gets a
// JSON-RPC tool error; a prompt containing "RESPONSE_OVERRIDE:" gets the
// text after that marker back as "content" (so tests can exercise a
// malformed plan); any other prompt gets a fixed well-formed plan.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const defaultPlanJSON = `{
  "task_summary": "default stub plan",
  "workflow_type": "CREATE",
  "complexity": "simple",
  "estimated_duration": "1-2 minutes",
  "agents": [
    {"agent": "research", "description": "gather context", "condition": "always", "inputs_from": [], "outputs_to": ["context"], "max_iterations": 1},
    {"agent": "codesmith", "description": "write code", "condition": "always", "inputs_from": ["context"], "outputs_to": ["generated_files"], "max_iterations": 1}
  ],
  "success_criteria": ["All files generated"],
  "requires_human_approval": false
}`

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

func main() {
	out := json.NewEncoder(os.Stdout)
	in := bufio.NewScanner(os.Stdin)
	in.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for in.Scan() {
		line := in.Bytes()
		if len(line) == 0 {
			continue
		}
		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}
		if req.ID == nil {
			continue
		}
		handle(out, req)
	}
}

func handle(out *json.Encoder, req rpcRequest) {
	switch req.Method {
	case "initialize":
		out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Result: map[string]any{"protocolVersion": "2024-11-05"}})

	case "tools/list":
		out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Result: map[string]any{
			"tools": []map[string]any{{"name": "generate"}},
		}})

	case "tools/call":
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Error: &rpcError{Code: -32602, Message: err.Error()}})
			return
		}
		if params.Name != "generate" {
			out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Error: &rpcError{Code: -32601, Message: fmt.Sprintf("unknown tool %q", params.Name)}})
			return
		}

		prompt, _ := params.Arguments["prompt"].(string)
		const failMarker = "SIMULATE_FAIL"
		const overrideMarker = "RESPONSE_OVERRIDE:"
		if strings.Contains(prompt, failMarker) {
			out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Error: &rpcError{Code: -32000, Message: "simulated completion failure"}})
			return
		}
		if idx := strings.Index(prompt, overrideMarker); idx >= 0 {
			content := prompt[idx+len(overrideMarker):]
			out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Result: map[string]any{"content": content}})
			return
		}
		out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Result: map[string]any{"content": defaultPlanJSON}})

	default:
		out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Error: &rpcError{Code: -32601, Message: fmt.Sprintf("unknown method %q", req.Method)}})
	}
}
