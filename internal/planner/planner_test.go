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
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoagent/platform/internal/mcp"
)

var claudeBinary string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "mcp-claude-")
	if err != nil {
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	claudeBinary = filepath.Join(dir, "claude")
	build := exec.Command("go", "build", "-o", claudeBinary, "autoagent/platform/cmd/mcpservers/claude")
	if out, err := build.CombinedOutput(); err != nil {
		println("failed to build claude reference server:", string(out))
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func newTestPlanner(t *testing.T) (*Planner, *mcp.Client) {
	t.Helper()
	specs := map[string]mcp.ServerSpec{"claude": {Command: claudeBinary}}
	c := mcp.New(t.TempDir(), specs, []string{"claude"}, nil)
	require.NoError(t, c.Initialize(context.Background()))
	t.Cleanup(c.Close)
	return New(c, nil), c
}

func TestPlanWorkflow_ParsesWellFormedResponse(t *testing.T) {
	p, _ := newTestPlanner(t)
	plan := p.PlanWorkflow(context.Background(), "build a thing", "/workspace", nil)

	require.NotNil(t, plan)
	assert.Equal(t, "CREATE", plan.WorkflowType)
	require.Len(t, plan.Agents, 2)
	assert.Equal(t, Research, plan.Agents[0].Agent)
	assert.Equal(t, Codesmith, plan.Agents[1].Agent)
}

func TestPlanWorkflow_FallsBackOnCallFailure(t *testing.T) {
	p, _ := newTestPlanner(t)
	plan := p.PlanWorkflow(context.Background(), "SIMULATE_FAIL please", "/workspace", nil)

	require.NotNil(t, plan)
	assert.Equal(t, "moderate", plan.Complexity)
	require.Len(t, plan.Agents, 4)
	assert.Equal(t, ReviewFix, plan.Agents[3].Agent)
	assert.Equal(t, IfSuccess, plan.Agents[3].Condition)
	assert.Equal(t, 3, plan.Agents[3].MaxIterations)
}

func TestPlanWorkflow_FallsBackOnMalformedJSON(t *testing.T) {
	p, _ := newTestPlanner(t)
	plan := p.PlanWorkflow(context.Background(), "RESPONSE_OVERRIDE:not valid json{{{", "/workspace", nil)

	require.NotNil(t, plan)
	assert.Equal(t, "CREATE", plan.WorkflowType)
	require.Len(t, plan.Agents, 4)
}

func TestPlanWorkflow_FallsBackOnUnknownAgent(t *testing.T) {
	p, _ := newTestPlanner(t)
	override := `RESPONSE_OVERRIDE:{"task_summary":"x","workflow_type":"CREATE","complexity":"simple","estimated_duration":"1m","agents":[{"agent":"wizard","description":"?"}],"success_criteria":[]}`
	plan := p.PlanWorkflow(context.Background(), override, "/workspace", nil)

	require.NotNil(t, plan)
	assert.Equal(t, "moderate", plan.Complexity) // fallback, not the malformed override
}

func TestPlanWorkflow_IncludesContextHintsInPrompt(t *testing.T) {
	p, _ := newTestPlanner(t)
	taskContext := map[string]any{
		"existing_files":      []string{"main.go"},
		"previous_error":      "panic: nil pointer",
		"language_preference": "Go",
	}
	prompt := p.buildUserPrompt("fix it", "/workspace", taskContext)
	assert.Contains(t, prompt, "Existing files in workspace")
	assert.Contains(t, prompt, "panic: nil pointer")
	assert.Contains(t, prompt, "Go")
}

func TestValidatePlan_FlagsMissingCodesmithForCreate(t *testing.T) {
	plan := &WorkflowPlan{
		WorkflowType: "CREATE",
		Agents:       []AgentStep{{Agent: Research, Condition: Always, MaxIterations: 1}},
	}
	valid, issues := ValidatePlan(plan)
	assert.False(t, valid)
	assert.Contains(t, issues, "CREATE workflow missing CODESMITH agent")
}

func TestValidatePlan_FlagsCircularDependency(t *testing.T) {
	plan := &WorkflowPlan{
		WorkflowType: "FIX",
		Agents: []AgentStep{
			{Agent: Research, Condition: Always, MaxIterations: 1},
			{Agent: Research, Condition: Always, MaxIterations: 1},
		},
	}
	valid, issues := ValidatePlan(plan)
	assert.False(t, valid)
	assert.Contains(t, issues, "potential circular dependency: research")
}

func TestValidatePlan_AllowsRepeatedAgentWhenParallel(t *testing.T) {
	plan := &WorkflowPlan{
		WorkflowType: "FIX",
		Agents: []AgentStep{
			{Agent: Research, Condition: Always, MaxIterations: 1},
			{Agent: Research, Condition: Parallel, MaxIterations: 1},
		},
	}
	valid, issues := ValidatePlan(plan)
	assert.True(t, valid)
	assert.Empty(t, issues)
}

func TestValidatePlan_FlagsExcessiveIterations(t *testing.T) {
	plan := &WorkflowPlan{
		WorkflowType: "FIX",
		Agents:       []AgentStep{{Agent: Debugger, Condition: Always, MaxIterations: 11}},
	}
	valid, issues := ValidatePlan(plan)
	assert.False(t, valid)
	assert.Contains(t, issues, "excessive iterations for debugger: 11")
}

func TestValidatePlan_FallbackPlanIsValid(t *testing.T) {
	plan := fallbackPlan("anything")
	valid, issues := ValidatePlan(plan)
	assert.True(t, valid, "issues: %v", issues)
}

func TestParseAgentType_RejectsUnknown(t *testing.T) {
	_, ok := ParseAgentType("wizard")
	assert.False(t, ok)
}

func TestParseConditionType_DefaultsEmptyToAlways(t *testing.T) {
	ct, ok := ParseConditionType("")
	assert.True(t, ok)
	assert.Equal(t, Always, ct)
}

func TestPlanWorkflow_RespectsContextTimeout(t *testing.T) {
	p, _ := newTestPlanner(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	plan := p.PlanWorkflow(ctx, "anything", "/workspace", nil)
	require.NotNil(t, plan) // always produces a plan, falls back on context errors too
}
