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

package capability

import "strings"

// Registry is a static, process-wide read-only table of agent
// capabilities. Construct it with NewRegistry (the zero value holds no
// capabilities); there is no mutation API other than ApplyOverrides, which only adjusts the
// numeric cost/latency estimates already present in the table.
type Registry struct {
	capabilities map[Identity]Capability
}

// NewRegistry builds the default capability table. The table itself is a
// code-level fact: adding or removing an agent or mode requires a code
// change, per spec.
func NewRegistry() *Registry {
	return &Registry{capabilities: defaultCapabilities()}
}

func defaultCapabilities() map[Identity]Capability {
	return map[Identity]Capability{
		Research: {
			Agent:       Research,
			Description: "Information gathering, codebase analysis, and debugging",
			DefaultMode: "research",
			MaxDepth:    3,
			MaxFanout:   5,
			Modes: map[string]Mode{
				"research": {
					Name: "research", Description: "Web search for new information",
					Inputs: []string{"query", "user_query"}, Outputs: []string{"findings", "sources", "research_results"},
					CostEstimateUSD: 0.02, LatencyEstimateS: 5.0, Risk: Networked,
				},
				"explain": {
					Name: "explain", Description: "Analyze and explain existing codebase structure",
					Inputs: []string{"workspace_path", "query"}, Outputs: []string{"analysis", "structure", "explanation"},
					CostEstimateUSD: 0.01, LatencyEstimateS: 3.0, Risk: ReadOnly,
				},
				"analyze": {
					Name: "analyze", Description: "Deep code analysis, debugging, security scan",
					Inputs: []string{"workspace_path", "focus_area"}, Outputs: []string{"issues", "recommendations", "security_report"},
					CostEstimateUSD: 0.03, LatencyEstimateS: 10.0, Risk: ReadOnly,
				},
				"index": {
					Name: "index", Description: "Index codebase for semantic search",
					Inputs: []string{"workspace_path"}, Outputs: []string{"embeddings", "index_complete"},
					CostEstimateUSD: 0.05, LatencyEstimateS: 15.0, Risk: ReadOnly,
				},
			},
		},
		Architect: {
			Agent:       Architect,
			Description: "System architecture design and documentation",
			DefaultMode: "design",
			MaxDepth:    3,
			MaxFanout:   5,
			Modes: map[string]Mode{
				"design": {
					Name: "design", Description: "Design new system architecture from requirements",
					Inputs: []string{"requirements", "research_results"}, Outputs: []string{"architecture", "tech_stack", "diagrams"},
					CostEstimateUSD: 0.04, LatencyEstimateS: 8.0, Risk: WritesFiles,
				},
				"scan": {
					Name: "scan", Description: "Reverse-engineer architecture from existing code",
					Inputs: []string{"workspace_path"}, Outputs: []string{"architecture", "components", "dependencies"},
					CostEstimateUSD: 0.03, LatencyEstimateS: 6.0, Risk: WritesFiles,
				},
				"post_build_scan": {
					Name: "post_build_scan", Description: "Document generated code after creation",
					Inputs: []string{"workspace_path", "generated_files"}, Outputs: []string{"documentation", "architecture"},
					CostEstimateUSD: 0.02, LatencyEstimateS: 4.0, Risk: WritesFiles,
				},
				"re_scan": {
					Name: "re_scan", Description: "Update architecture after code modifications",
					Inputs: []string{"workspace_path", "modified_files"}, Outputs: []string{"updated_architecture", "change_summary"},
					CostEstimateUSD: 0.02, LatencyEstimateS: 3.0, Risk: WritesFiles,
				},
			},
		},
		Codesmith: {
			Agent:       Codesmith,
			Description: "Code generation",
			DefaultMode: "default",
			MaxDepth:    3,
			MaxFanout:   5,
			Modes: map[string]Mode{
				"default": {
					Name: "default", Description: "Generate code from architecture and requirements",
					Inputs: []string{"architecture", "instructions", "workspace_path"}, Outputs: []string{"generated_files", "code"},
					CostEstimateUSD: 0.15, LatencyEstimateS: 30.0, Risk: WritesFiles, RequiresApproval: true,
				},
			},
		},
		ReviewFix: {
			Agent:       ReviewFix,
			Description: "Code review and iterative fixing",
			DefaultMode: "default",
			MaxDepth:    3,
			MaxFanout:   5,
			Modes: map[string]Mode{
				"default": {
					Name: "default", Description: "Review code quality, run tests, apply fixes",
					Inputs: []string{"workspace_path", "generated_files"}, Outputs: []string{"quality_score", "feedback", "fixed_files"},
					CostEstimateUSD: 0.08, LatencyEstimateS: 20.0, Risk: WritesFiles,
				},
			},
		},
	}
}

// GetCapability returns the full capability record for agent.
func (r *Registry) GetCapability(agent Identity) (Capability, error) {
	c, ok := r.capabilities[agent]
	if !ok {
		return Capability{}, ErrUnknownAgent{Agent: agent}
	}
	return c, nil
}

// GetMode returns a specific mode, or the agent's default mode when mode
// is empty.
func (r *Registry) GetMode(agent Identity, mode string) (Mode, error) {
	c, err := r.GetCapability(agent)
	if err != nil {
		return Mode{}, err
	}
	if mode == "" {
		mode = c.DefaultMode
	}
	m, ok := c.Modes[mode]
	if !ok {
		return Mode{}, ErrUnknownMode{Agent: agent, Mode: mode}
	}
	return m, nil
}

// EstimateCost returns the USD cost estimate for agent/mode.
func (r *Registry) EstimateCost(agent Identity, mode string) (float64, error) {
	m, err := r.GetMode(agent, mode)
	if err != nil {
		return 0, err
	}
	return m.CostEstimateUSD, nil
}

// EstimateLatency returns the seconds latency estimate for agent/mode.
func (r *Registry) EstimateLatency(agent Identity, mode string) (float64, error) {
	m, err := r.GetMode(agent, mode)
	if err != nil {
		return 0, err
	}
	return m.LatencyEstimateS, nil
}

// RequiresApproval reports whether agent/mode needs approval before
// execution.
func (r *Registry) RequiresApproval(agent Identity, mode string) (bool, error) {
	m, err := r.GetMode(agent, mode)
	if err != nil {
		return false, err
	}
	return m.RequiresApproval, nil
}

// ListAgents returns every registered agent identity.
func (r *Registry) ListAgents() []Identity {
	out := make([]Identity, 0, len(r.capabilities))
	for id := range r.capabilities {
		out = append(out, id)
	}
	return out
}

// ListModes returns the mode names registered for agent.
func (r *Registry) ListModes(agent Identity) []string {
	c, ok := r.capabilities[agent]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.Modes))
	for name := range c.Modes {
		out = append(out, name)
	}
	return out
}

// keywordTable drives FindAgentForTask. Order matters: the first
// matching keyword wins, mirroring the source's dict-iteration-order
// dependent matching.
var keywordTable = []struct {
	keyword string
	agent   Identity
	mode    string
}{
	{"search", Research, "research"},
	{"find information", Research, "research"},
	{"research", Research, "research"},
	{"explain", Research, "explain"},
	{"what does", Research, "explain"},
	{"how does", Research, "explain"},
	{"analyze", Research, "analyze"},
	{"debug", Research, "analyze"},
	{"debugging", Research, "analyze"},
	{"security", Research, "analyze"},
	{"design", Architect, "design"},
	{"architecture", Architect, "design"},
	{"plan", Architect, "design"},
	{"scan", Architect, "scan"},
	{"document", Architect, "scan"},
	{"reverse engineer", Architect, "scan"},
	{"create", Codesmith, "default"},
	{"build", Codesmith, "default"},
	{"generate", Codesmith, "default"},
	{"implement", Codesmith, "default"},
	{"develop", Codesmith, "default"},
	{"review", ReviewFix, "default"},
	{"fix", ReviewFix, "default"},
	{"improve", ReviewFix, "default"},
	{"test", ReviewFix, "default"},
}

// FindAgentForTask does simple keyword matching against task, restricted
// to allowed (nil means "all agents"). No match falls back to
// (research, explain), a safe read-only default.
func (r *Registry) FindAgentForTask(task string, allowed []Identity) (Identity, string) {
	taskLower := strings.ToLower(task)
	isAllowed := func(id Identity) bool {
		if allowed == nil {
			return true
		}
		for _, a := range allowed {
			if a == id {
				return true
			}
		}
		return false
	}
	for _, entry := range keywordTable {
		if strings.Contains(taskLower, entry.keyword) && isAllowed(entry.agent) {
			return entry.agent, entry.mode
		}
	}
	return Research, "explain"
}

// ApplyOverrides tunes the cost/latency numbers of existing modes from an
// operator-supplied table; it can neither add nor remove agents or modes.
func (r *Registry) ApplyOverrides(overrides map[string]map[string]struct {
	CostEstimateUSD  *float64
	LatencyEstimateS *float64
}) {
	for agentName, modes := range overrides {
		agent := Identity(agentName)
		capa, ok := r.capabilities[agent]
		if !ok {
			continue
		}
		for modeName, override := range modes {
			mode, ok := capa.Modes[modeName]
			if !ok {
				continue
			}
			if override.CostEstimateUSD != nil {
				mode.CostEstimateUSD = *override.CostEstimateUSD
			}
			if override.LatencyEstimateS != nil {
				mode.LatencyEstimateS = *override.LatencyEstimateS
			}
			capa.Modes[modeName] = mode
		}
		r.capabilities[agent] = capa
	}
}
