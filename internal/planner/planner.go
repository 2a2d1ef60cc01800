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

package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"autoagent/platform/internal/mcp"
	"autoagent/platform/shared/logger"
)

const (
	planningTimeout  = 30 * time.Second
	maxIterationsCap = 10
)

// agentCapability documents one agent's role for the planning prompt.
type agentCapability struct {
	description string
	inputs      []string
	outputs     []string
}

var agentCapabilities = map[AgentType]agentCapability{
	Research: {
		description: "Gathers information, analyzes requirements, searches existing code",
		inputs:      []string{"user_task", "workspace_path"},
		outputs:     []string{"requirements", "context", "existing_code_analysis"},
	},
	Architect: {
		description: "Designs system architecture, creates file structure, plans implementation",
		inputs:      []string{"requirements", "context"},
		outputs:     []string{"architecture", "file_structure", "design_decisions"},
	},
	Codesmith: {
		description: "Generates code based on architecture and requirements",
		inputs:      []string{"architecture", "file_structure", "requirements"},
		outputs:     []string{"generated_files", "implementation_details"},
	},
	ReviewFix: {
		description: "Reviews code quality, runs validation, fixes issues",
		inputs:      []string{"generated_files"},
		outputs:     []string{"review_feedback", "fixed_files", "quality_score"},
	},
	Explain: {
		description: "Documents and explains existing code",
		inputs:      []string{"workspace_path", "target_files"},
		outputs:     []string{"documentation", "explanations"},
	},
	Debugger: {
		description: "Analyzes errors, finds bugs, suggests fixes",
		inputs:      []string{"error_logs", "code_files"},
		outputs:     []string{"bug_analysis", "fix_suggestions"},
	},
}

// orderedAgents fixes iteration order for prompt generation, since Go
// map iteration isn't stable.
var orderedAgents = []AgentType{Research, Architect, Codesmith, ReviewFix, Explain, Debugger}

// Planner turns a task description into a WorkflowPlan by delegating to
// the "claude" MCP server, falling back to a default CREATE plan when
// that delegation fails or returns something the planner can't parse.
type Planner struct {
	mcpClient *mcp.Client
	log       *logger.Logger
}

// New constructs a Planner. mcpClient must already be initialized.
func New(mcpClient *mcp.Client, log *logger.Logger) *Planner {
	return &Planner{mcpClient: mcpClient, log: log}
}

// PlanWorkflow asks the "claude" MCP server for a plan and parses its
// JSON response into a WorkflowPlan. taskContext may carry
// "existing_files", "previous_error", and "language_preference" hints;
// any other keys are ignored. On any failure — connection, timeout, or
// a response that doesn't parse as the expected plan JSON — it logs
// the failure and returns the fixed fallback plan instead of an error,
// matching the source's always-produce-a-plan contract.
func (p *Planner) PlanWorkflow(ctx context.Context, task, workspacePath string, taskContext map[string]any) *WorkflowPlan {
	if p.log != nil {
		p.log.Info("", "", "planning workflow", map[string]any{"task": truncate(task, 100)})
	}

	prompt := p.buildUserPrompt(task, workspacePath, taskContext)
	args := map[string]any{
		"system_prompt": buildSystemPrompt(),
		"prompt":        prompt,
		"temperature":   0.2,
		"max_tokens":    2000,
	}

	result, err := p.mcpClient.Call(ctx, "claude", "generate", args, planningTimeout)
	if err != nil {
		if p.log != nil {
			p.log.Warn("", "", "workflow planning call failed, using fallback plan", map[string]any{"error": err.Error()})
		}
		return fallbackPlan(task)
	}

	content, _ := result["content"].(string)
	plan, err := parsePlanJSON(content)
	if err != nil {
		if p.log != nil {
			p.log.Warn("", "", "failed to parse planner response, using fallback plan", map[string]any{"error": err.Error()})
		}
		return fallbackPlan(task)
	}

	if p.log != nil {
		p.log.Info("", "", "workflow plan created", map[string]any{
			"agents":     len(plan.Agents),
			"complexity": plan.Complexity,
		})
	}
	return plan
}

// planResponse mirrors the JSON object the claude server is prompted to
// return.
type planResponse struct {
	TaskSummary           string         `json:"task_summary"`
	WorkflowType          string         `json:"workflow_type"`
	Complexity            string         `json:"complexity"`
	EstimatedDuration     string         `json:"estimated_duration"`
	Agents                []planStepJSON `json:"agents"`
	SuccessCriteria       []string       `json:"success_criteria"`
	RequiresHumanApproval bool           `json:"requires_human_approval"`
}

type planStepJSON struct {
	Agent           string         `json:"agent"`
	Description     string         `json:"description"`
	Condition       string         `json:"condition"`
	ConditionParams map[string]any `json:"condition_params"`
	InputsFrom      []string       `json:"inputs_from"`
	OutputsTo       []string       `json:"outputs_to"`
	MaxIterations   int            `json:"max_iterations"`
}

func parsePlanJSON(content string) (*WorkflowPlan, error) {
	var raw planResponse
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("invalid plan JSON: %w", err)
	}
	if len(raw.Agents) == 0 {
		return nil, fmt.Errorf("plan has no agents")
	}

	steps := make([]AgentStep, 0, len(raw.Agents))
	for _, s := range raw.Agents {
		agent, ok := ParseAgentType(s.Agent)
		if !ok {
			return nil, fmt.Errorf("unknown agent %q in plan", s.Agent)
		}
		condition, ok := ParseConditionType(s.Condition)
		if !ok {
			return nil, fmt.Errorf("unknown condition %q in plan", s.Condition)
		}
		maxIterations := s.MaxIterations
		if maxIterations == 0 {
			maxIterations = 1
		}
		steps = append(steps, AgentStep{
			Agent:           agent,
			Description:     s.Description,
			Inputs:          s.InputsFrom,
			Outputs:         s.OutputsTo,
			Condition:       condition,
			ConditionParams: s.ConditionParams,
			MaxIterations:   maxIterations,
		})
	}

	metadata := map[string]any{
		"task_summary":       raw.TaskSummary,
		"workflow_type":      raw.WorkflowType,
		"estimated_duration": raw.EstimatedDuration,
	}

	return &WorkflowPlan{
		TaskDescription:       raw.TaskSummary,
		WorkflowType:          raw.WorkflowType,
		Agents:                steps,
		SuccessCriteria:       raw.SuccessCriteria,
		EstimatedDuration:     raw.EstimatedDuration,
		Complexity:            raw.Complexity,
		RequiresHumanApproval: raw.RequiresHumanApproval,
		Metadata:              metadata,
	}, nil
}

// fallbackPlan returns the fixed CREATE workflow used when delegation
// to the claude server is unavailable or unusable.
func fallbackPlan(task string) *WorkflowPlan {
	return &WorkflowPlan{
		TaskDescription: task,
		WorkflowType:    "CREATE",
		Agents: []AgentStep{
			{Agent: Research, Description: "Analyze requirements and gather information", Outputs: []string{"requirements", "context"}, Condition: Always, MaxIterations: 1},
			{Agent: Architect, Description: "Design system architecture", Inputs: []string{"requirements"}, Outputs: []string{"architecture"}, Condition: Always, MaxIterations: 1},
			{Agent: Codesmith, Description: "Generate code", Inputs: []string{"architecture"}, Outputs: []string{"generated_files"}, Condition: Always, MaxIterations: 1},
			{Agent: ReviewFix, Description: "Review and fix code", Inputs: []string{"generated_files"}, Condition: IfSuccess, MaxIterations: 3},
		},
		SuccessCriteria:   []string{"All files generated", "No syntax errors", "Quality score > 0.80"},
		EstimatedDuration: "3-5 minutes",
		Complexity:        "moderate",
	}
}

// ValidatePlan checks plan for correctness, returning every issue found
// rather than stopping at the first.
func ValidatePlan(plan *WorkflowPlan) (bool, []string) {
	var issues []string

	seen := map[AgentType]bool{}
	hasCodesmith := false
	for _, step := range plan.Agents {
		if !validAgentTypes[step.Agent] {
			issues = append(issues, fmt.Sprintf("invalid agent: %s", step.Agent))
		}
		if step.Agent == Codesmith {
			hasCodesmith = true
		}
		if seen[step.Agent] && step.Condition != Parallel {
			issues = append(issues, fmt.Sprintf("potential circular dependency: %s", step.Agent))
		}
		seen[step.Agent] = true

		if step.MaxIterations > maxIterationsCap {
			issues = append(issues, fmt.Sprintf("excessive iterations for %s: %d", step.Agent, step.MaxIterations))
		}
	}

	if plan.WorkflowType == "CREATE" && !hasCodesmith {
		issues = append(issues, "CREATE workflow missing CODESMITH agent")
	}

	return len(issues) == 0, issues
}

func (p *Planner) buildUserPrompt(task, workspacePath string, taskContext map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nWorkspace: %s\n", task, workspacePath)

	if existing, ok := taskContext["existing_files"]; ok {
		fmt.Fprintf(&b, "Existing files in workspace: %v\n", existing)
	}
	if prevErr, ok := taskContext["previous_error"]; ok {
		fmt.Fprintf(&b, "Previous error: %v\n", prevErr)
	}
	if lang, ok := taskContext["language_preference"]; ok {
		fmt.Fprintf(&b, "User prefers: %v\n", lang)
	}

	b.WriteString("\nCreate an optimal workflow plan for this task.")
	return b.String()
}

func buildSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are an AI workflow planner. Analyze the task and produce an optimal execution plan.\n\n# Available agents:\n")
	for _, at := range orderedAgents {
		caps := agentCapabilities[at]
		fmt.Fprintf(&b, "- %s: %s\n", at, caps.description)
	}
	b.WriteString(`
# Output format

Return a JSON object:
{
  "task_summary": "...",
  "workflow_type": "CREATE|FIX|EXPLAIN|REFACTOR|CUSTOM",
  "complexity": "simple|moderate|complex",
  "estimated_duration": "e.g. 2-5 minutes",
  "agents": [
    {"agent": "research", "description": "...", "condition": "always", "condition_params": {}, "inputs_from": [], "outputs_to": [], "max_iterations": 1}
  ],
  "success_criteria": ["..."],
  "requires_human_approval": false
}

Use the minimum number of agents needed; add review/validation gates for code generation; allow iteration loops only where quality genuinely benefits from them.`)
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
