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

// Command filetools is the reference "file_tools" MCP stdio server: a
// small set of file operations (read_file, write_file, list_dir)
// confined to the caller-supplied workspace_path, refusing any path
// that escapes it or names a protected system directory.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var protectedPaths = []string{"/etc", "/usr", "/bin", "/sbin", "/lib", "/boot"}

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
			"tools": []map[string]any{
				{"name": "read_file"},
				{"name": "write_file"},
				{"name": "list_dir"},
			},
		}})

	case "tools/call":
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Error: &rpcError{Code: -32602, Message: err.Error()}})
			return
		}
		result, err := dispatch(params)
		if err != nil {
			out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Error: &rpcError{Code: -32000, Message: err.Error()}})
			return
		}
		out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Result: result})

	default:
		out.Encode(rpcResponse{JSONRPC: "2.0", ID: *req.ID, Error: &rpcError{Code: -32601, Message: fmt.Sprintf("unknown method %q", req.Method)}})
	}
}

func dispatch(params toolCallParams) (map[string]any, error) {
	workspace, _ := params.Arguments["workspace_path"].(string)
	path, _ := params.Arguments["path"].(string)

	resolved, err := resolveWithinWorkspace(workspace, path)
	if err != nil {
		return nil, err
	}

	switch params.Name {
	case "read_file":
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, err
		}
		return map[string]any{"content": string(data)}, nil

	case "write_file":
		content, _ := params.Arguments["content"].(string)
		if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
			return nil, err
		}
		return map[string]any{"bytes_written": len(content)}, nil

	case "list_dir":
		entries, err := os.ReadDir(resolved)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return map[string]any{"entries": names}, nil

	default:
		return nil, fmt.Errorf("unknown tool %q", params.Name)
	}
}

// resolveWithinWorkspace rejects paths that escape workspace or name a
// protected system directory.
func resolveWithinWorkspace(workspace, path string) (string, error) {
	if workspace == "" {
		return "", fmt.Errorf("workspace_path is required")
	}
	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(absWorkspace, path)
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absWorkspace, absJoined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace", path)
	}
	for _, p := range protectedPaths {
		if strings.HasPrefix(absJoined, p) {
			return "", fmt.Errorf("path %q is protected", path)
		}
	}
	return absJoined, nil
}
