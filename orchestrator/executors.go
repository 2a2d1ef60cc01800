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

package orchestrator

import (
	"autoagent/platform/internal/agent"
	"autoagent/platform/internal/capability"
	"autoagent/platform/internal/mcp"
)

// defaultExecutors builds the reference executor set every session binds
// to its own MCP Client: each of the four agent identities resolves to
// one MCP tool call, exactly the shape internal/agent.MCPToolExecutor
// documents as the pattern a real executor follows. Swapping any entry
// here for a bespoke implementation (or adding per-mode variants) is the
// seam spec.md §4.9 reserves for the actual agent implementations, which
// are out of this repository's scope.
func defaultExecutors(client *mcp.Client) map[capability.Identity]agent.Executor {
	return map[capability.Identity]agent.Executor{
		capability.Research:  agent.MCPToolExecutor(client, "perplexity", "search", []string{"user_query", "workspace_path"}, "research_result"),
		capability.Architect: agent.MCPToolExecutor(client, "claude", "generate", []string{"user_query", "research_result", "workspace_path"}, "architect_result"),
		capability.Codesmith: agent.MCPToolExecutor(client, "claude", "generate", []string{"user_query", "architect_result", "workspace_path"}, "codesmith_result"),
		capability.ReviewFix: agent.MCPToolExecutor(client, "claude", "generate", []string{"user_query", "codesmith_result", "workspace_path"}, "reviewfix_result"),
	}
}
