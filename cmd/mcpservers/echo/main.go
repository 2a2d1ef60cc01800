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

// Command echo is a minimal MCP stdio server used as a test double for
// internal/mcp.Client: it implements just enough of the JSON-RPC
// surface (initialize, tools/list, tools/call) to exercise the client's
// request/response matching. It offers three tools: "echo" returns its
// arguments verbatim under "echoed"; "heartbeat" emits a $/progress
// notification before responding, exercising notification skipping; and
// "fail" always answers with a JSON-RPC error.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

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

type rpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
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
			"tools": []map[string]any{
				{"name": "echo"},
				{"name": "heartbeat"},
				{"name": "fail"},
			},
		}})

	case "tools/call":
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Error: &rpcError{Code: -32602, Message: err.Error()}})
			return
		}
		switch params.Name {
		case "echo":
			out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Result: map[string]any{"echoed": params.Arguments}})
		case "heartbeat":
			out.Encode(rpcNotification{JSONRPC: "2.0", Method: "$/progress", Params: map[string]any{"message": "working..."}})
			time.Sleep(50 * time.Millisecond)
			out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Result: map[string]any{"done": true}})
		case "fail":
			out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Error: &rpcError{Code: -32000, Message: "intentional failure"}})
		default:
			out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Error: &rpcError{Code: -32601, Message: fmt.Sprintf("unknown tool %q", params.Name)}})
		}

	default:
		out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Error: &rpcError{Code: -32601, Message: fmt.Sprintf("unknown method %q", req.Method)}})
	}
}
