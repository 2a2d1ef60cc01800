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
	"database/sql"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq" // PostgreSQL driver, registered for AUTOAGENT_CREDIT_BACKEND=postgres
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"autoagent/platform/internal/capability"
	"autoagent/platform/internal/config"
	"autoagent/platform/internal/credit"
	"autoagent/platform/internal/mcp"
	"autoagent/platform/internal/permissions"
	"autoagent/platform/internal/session"
	"autoagent/platform/shared/logger"
)

// Run loads process configuration, constructs the process-wide Credit
// Tracker and Permissions Manager, and serves the session layer's
// WebSocket endpoint until the process is killed. Mirrors the teacher
// orchestrator's own Run() shape: package-level wiring, then a router,
// then http.ListenAndServe.
func Run() {
	cfg := config.Load()
	lg := logger.New("orchestrator")
	lg.Info("", "", "starting orchestrator", map[string]any{"port": cfg.Port})

	registry := capability.NewRegistry()
	if err := config.LoadCapabilityOverrides(cfg.CapabilityOverridesFile, registry); err != nil {
		lg.Error("", "", "failed to load capability overrides, continuing with defaults", map[string]any{"error": err.Error()})
	}

	ledger := buildLedger(cfg, lg)
	tracker := credit.New(cfg.Limits, ledger, lg)
	perms := permissions.NewManager()

	mgr := session.NewManager(registry, mcpClientFactory(cfg), defaultExecutors, cfg.Limits.MaxCostPerSession, lg)
	mgr.SetPermissions(perms)
	mgr.SetCredit(tracker)

	registerMetrics(mgr, tracker)

	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler(mgr)).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	r.Handle("/ws/chat", mgr).Methods("GET")

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(r)

	lg.Info("", "", "orchestrator listening", map[string]any{"addr": ":" + cfg.Port})
	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		lg.Error("", "", "orchestrator exited", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

// mcpClientFactory builds the MCPClientFactory a Session uses to spawn
// its own per-workspace subprocess set, resolving server binaries under
// cfg.MCPServersDir (or, when unset, the mcp_servers/ directory of the
// repository root found by walking up from the working directory).
func mcpClientFactory(cfg config.Config) session.MCPClientFactory {
	return func(workspacePath string, log *logger.Logger) *mcp.Client {
		wd, _ := os.Getwd()
		specs := mcp.DiscoverServerSpecs(wd, cfg.MCPServersDir, mcp.DefaultServers)
		return mcp.New(workspacePath, specs, mcp.DefaultServers, log)
	}
}

func buildLedger(cfg config.Config, log *logger.Logger) credit.Ledger {
	if cfg.CreditBackend != "postgres" {
		return credit.NewFileLedger(credit.DefaultUsagePath())
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error("", "", "failed to open postgres credit ledger, falling back to file ledger", map[string]any{"error": err.Error()})
		return credit.NewFileLedger(credit.DefaultUsagePath())
	}
	pgLedger := credit.NewPostgresLedger(db)
	if err := pgLedger.EnsureSchema(); err != nil {
		log.Error("", "", "failed to create postgres credit ledger schema, falling back to file ledger", map[string]any{"error": err.Error()})
		return credit.NewFileLedger(credit.DefaultUsagePath())
	}
	return pgLedger
}

func healthHandler(mgr *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","active_sessions":` + strconv.Itoa(mgr.SessionCount()) + `}`))
	}
}
