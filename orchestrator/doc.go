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

/*
Package orchestrator wires the core engine (internal/capability,
internal/credit, internal/permissions, internal/mcp, internal/adapter,
internal/planner, internal/orchestrator, internal/session) into a runnable
HTTP process: one process-wide Credit Tracker and Permissions Manager
shared by every session, a capability Registry with optional numeric
overrides, and a WebSocket endpoint accepting one client per session.

# Usage

	orchestrator [flags]

# Environment Variables

	PORT                      - HTTP server port (default: 8090)
	MAX_BUDGET_USD            - per-session spend cap (default: 5.00)
	MAX_COST_PER_HOUR_USD     - process-wide hourly cap (default: 10.00)
	MAX_COST_PER_DAY_USD      - process-wide daily cap (default: 50.00)
	EMERGENCY_SHUTDOWN_USD    - sticky shutdown threshold (default: 100.00)
	AUTOAGENT_CREDIT_BACKEND  - "file" (default) or "postgres"
	DATABASE_URL              - required when AUTOAGENT_CREDIT_BACKEND=postgres
	MCP_SERVERS_DIR           - override for the mcp_servers/ binary directory
	CAPABILITY_OVERRIDES_FILE - optional YAML cost/latency override file

# Endpoints

	GET  /health    - liveness probe
	GET  /metrics   - Prometheus exposition format
	GET  /ws/chat   - WebSocket upgrade, one connection per session
*/
package orchestrator
