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

// Package main is the entry point for the AxonFlow Orchestrator service.
//
// The Orchestrator is a multi-agent code-generation engine that:
// - Plans a pipeline of research/architect/codesmith/reviewfix agents from a user request
// - Executes that pipeline step-by-step against external LLM and tool providers over MCP
// - Enforces per-session/hour/day credit caps and an Asimov-style permission gate
// - Streams progress, approval requests, and the final verdict to one client per session
//
// Usage:
//
//	./orchestrator
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8090)
//	MAX_BUDGET_USD - per-session spend cap (default: 5.00)
//	AUTOAGENT_CREDIT_BACKEND - "file" (default) or "postgres"
//	DATABASE_URL - PostgreSQL connection string (when AUTOAGENT_CREDIT_BACKEND=postgres)
//
// For more information, see https://docs.getaxonflow.com
package main

import (
	"autoagent/platform/orchestrator"
)

func main() {
	orchestrator.Run()
}
