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

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"autoagent/platform/internal/capability"
)

// CapabilityOverridesFile is the on-disk shape of an operator-supplied
// cost/latency override table. It tunes the registry's numbers only; it
// cannot add or remove agents or modes (capability.Registry.ApplyOverrides
// enforces that).
type CapabilityOverridesFile struct {
	Agents map[string]map[string]ModeOverride `yaml:"agents"`
}

// ModeOverride is one mode's tunable fields. Either field may be omitted.
type ModeOverride struct {
	CostEstimateUSD  *float64 `yaml:"cost_estimate_usd"`
	LatencyEstimateS *float64 `yaml:"latency_estimate_s"`
}

// LoadCapabilityOverrides reads and applies path to registry. A path of ""
// is a no-op — overrides are optional.
func LoadCapabilityOverrides(path string, registry *capability.Registry) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read capability overrides: %w", err)
	}
	var file CapabilityOverridesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("config: parse capability overrides: %w", err)
	}

	overrides := make(map[string]map[string]struct {
		CostEstimateUSD  *float64
		LatencyEstimateS *float64
	}, len(file.Agents))
	for agent, modes := range file.Agents {
		converted := make(map[string]struct {
			CostEstimateUSD  *float64
			LatencyEstimateS *float64
		}, len(modes))
		for mode, override := range modes {
			converted[mode] = struct {
				CostEstimateUSD  *float64
				LatencyEstimateS *float64
			}{
				CostEstimateUSD:  override.CostEstimateUSD,
				LatencyEstimateS: override.LatencyEstimateS,
			}
		}
		overrides[agent] = converted
	}
	registry.ApplyOverrides(overrides)
	return nil
}
