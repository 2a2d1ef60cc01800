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

// Package config loads process configuration from the environment once at
// startup, the same os.Getenv-with-typed-defaults idiom the orchestrator
// service has always used (see orchestrator/doc.go's documented variables).
package config

import (
	"os"
	"strconv"

	"autoagent/platform/internal/credit"
)

// Config is the fully resolved, typed process configuration. Load it once
// in main and pass it down explicitly; nothing in this package reads the
// environment again after Load returns.
type Config struct {
	Port string

	Limits credit.Limits

	CreditBackend string // "file" or "postgres"
	DatabaseURL   string

	MCPServersDir string

	CapabilityOverridesFile string
}

// Load reads every variable spec.md §6.4 names, applying the documented
// defaults for anything unset.
func Load() Config {
	return Config{
		Port: getEnv("PORT", "8090"),
		Limits: credit.Limits{
			MaxCostPerSession: getFloat("MAX_BUDGET_USD", 5.0),
			MaxCostPerHour:    getFloat("MAX_COST_PER_HOUR_USD", 10.0),
			MaxCostPerDay:     getFloat("MAX_COST_PER_DAY_USD", 50.0),
			EmergencyShutdown: getFloat("EMERGENCY_SHUTDOWN_USD", 100.0),
			MaxLLMInstances:   1,
			MaxCallsPerMinute: 10,
		},
		CreditBackend:           getEnv("AUTOAGENT_CREDIT_BACKEND", "file"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		MCPServersDir:           os.Getenv("MCP_SERVERS_DIR"),
		CapabilityOverridesFile: os.Getenv("CAPABILITY_OVERRIDES_FILE"),
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}
