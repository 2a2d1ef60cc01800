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
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoagent/platform/internal/agent"
	"autoagent/platform/internal/capability"
)

type denyApprover struct{}

func (denyApprover) RequestApproval(ctx context.Context, req ApprovalRequest) (bool, error) {
	return false, nil
}

func okExecutor(output map[string]any) agent.Executor {
	return func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return output, nil
	}
}

func failExecutor(msg string) agent.Executor {
	return func(ctx context.Context, state map[string]any) (map[string]any, error) {
		return nil, fmt.Errorf("%s", msg)
	}
}

func TestExecuteWorkflow_HappyPathAccumulatesCostAndOutput(t *testing.T) {
	executors := map[capability.Identity]agent.Executor{
		capability.Research:  okExecutor(map[string]any{"context": "gathered"}),
		capability.Architect: okExecutor(map[string]any{"architecture": "layered"}),
	}
	o := New("/workspace", executors, nil, nil, nil, 10.0, nil)

	plan := []PlanStep{
		{Agent: capability.Research, Mode: "research"},
		{Agent: capability.Architect, Mode: "design"},
	}
	state := o.ExecuteWorkflow(context.Background(), plan, "build something", nil)

	assert.Equal(t, "gathered", state["context"])
	assert.Equal(t, "layered", state["architecture"])

	report := o.GetBudgetReport()
	require.NotNil(t, report)
	assert.Equal(t, 2, report.AgentsExecuted)
	assert.Greater(t, report.Spent, 0.0)
}

func TestExecuteWorkflow_MissingExecutorRecordsError(t *testing.T) {
	o := New("/workspace", map[capability.Identity]agent.Executor{}, nil, nil, nil, 10.0, nil)
	plan := []PlanStep{{Agent: capability.Codesmith, Mode: "default"}}

	state := o.ExecuteWorkflow(context.Background(), plan, "task", nil)
	errs, _ := state["errors"].([]string)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "no executor registered")
}

func TestExecuteWorkflow_AgentFailureRecordsErrorAndContinues(t *testing.T) {
	executors := map[capability.Identity]agent.Executor{
		capability.Research:  failExecutor("network down"),
		capability.Architect: okExecutor(map[string]any{"architecture": "ok"}),
	}
	o := New("/workspace", executors, nil, nil, nil, 10.0, nil)
	plan := []PlanStep{
		{Agent: capability.Research, Mode: "research"},
		{Agent: capability.Architect, Mode: "design"},
	}

	state := o.ExecuteWorkflow(context.Background(), plan, "task", nil)
	errs, _ := state["errors"].([]string)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "network down")
	assert.Equal(t, "ok", state["architecture"]) // workflow kept going
}

func TestExecuteWorkflow_DeniedApprovalSkipsAgent(t *testing.T) {
	ranCodesmith := false
	executors := map[capability.Identity]agent.Executor{
		capability.Codesmith: func(ctx context.Context, state map[string]any) (map[string]any, error) {
			ranCodesmith = true
			return map[string]any{"generated_files": []string{"main.go"}}, nil
		},
	}
	o := New("/workspace", executors, denyApprover{}, nil, nil, 10.0, nil)
	plan := []PlanStep{{Agent: capability.Codesmith, Mode: "default"}} // RequiresApproval: true

	state := o.ExecuteWorkflow(context.Background(), plan, "task", nil)
	assert.False(t, ranCodesmith)
	assert.Nil(t, state["generated_files"])
}

func TestExecuteWorkflow_BudgetExhaustedAborts(t *testing.T) {
	executors := map[capability.Identity]agent.Executor{
		capability.Codesmith: okExecutor(map[string]any{"generated_files": []string{"a.go"}}),
		capability.Architect: okExecutor(map[string]any{"architecture": "never runs"}),
	}
	// Codesmith's default mode costs 0.15; budget only covers one run.
	o := New("/workspace", executors, nil, nil, nil, 0.15, nil)
	plan := []PlanStep{
		{Agent: capability.Codesmith, Mode: "default"},
		{Agent: capability.Codesmith, Mode: "default"},
	}

	state := o.ExecuteWorkflow(context.Background(), plan, "task", nil)
	errs, _ := state["errors"].([]string)
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[len(errs)-1], "budget exhausted")
}

func TestExecuteWorkflow_TerminatesEarlyOnThreeErrors(t *testing.T) {
	executors := map[capability.Identity]agent.Executor{
		capability.Research:  failExecutor("e1"),
		capability.Architect: failExecutor("e2"),
		capability.Codesmith: failExecutor("e3"),
		capability.ReviewFix: okExecutor(map[string]any{"never": "reached"}),
	}
	o := New("/workspace", executors, nil, nil, nil, 10.0, nil)
	plan := []PlanStep{
		{Agent: capability.Research, Mode: "research"},
		{Agent: capability.Architect, Mode: "design"},
		{Agent: capability.Codesmith, Mode: "default"},
		{Agent: capability.ReviewFix, Mode: "default"},
	}

	state := o.ExecuteWorkflow(context.Background(), plan, "task", nil)
	assert.Nil(t, state["never"])
	errs, _ := state["errors"].([]string)
	assert.Len(t, errs, 3)
}

func TestExecuteWorkflow_TerminatesEarlyOnCriticalError(t *testing.T) {
	executors := map[capability.Identity]agent.Executor{
		capability.Research:  failExecutor("CRITICAL disk full"),
		capability.Architect: okExecutor(map[string]any{"never": "reached"}),
	}
	o := New("/workspace", executors, nil, nil, nil, 10.0, nil)
	plan := []PlanStep{
		{Agent: capability.Research, Mode: "research"},
		{Agent: capability.Architect, Mode: "design"},
	}

	state := o.ExecuteWorkflow(context.Background(), plan, "task", nil)
	assert.Nil(t, state["never"])
}

func TestRequestAgent_SelfCallDrainsBeforeNextStep(t *testing.T) {
	var order []string
	executors := map[capability.Identity]agent.Executor{
		capability.Research: func(ctx context.Context, state map[string]any) (map[string]any, error) {
			order = append(order, "research")
			return map[string]any{"context": "ctx"}, nil
		},
		capability.Architect: func(ctx context.Context, state map[string]any) (map[string]any, error) {
			order = append(order, "architect")
			return map[string]any{"architecture": "arch"}, nil
		},
	}

	var o *Orchestrator
	executors[capability.Research] = func(ctx context.Context, state map[string]any) (map[string]any, error) {
		order = append(order, "research")
		o.RequestAgent(capability.Research, capability.Architect, "design", "need architecture now", nil)
		return map[string]any{"context": "ctx"}, nil
	}
	o = New("/workspace", executors, nil, nil, nil, 10.0, nil)

	plan := []PlanStep{{Agent: capability.Research, Mode: "research"}}
	state := o.ExecuteWorkflow(context.Background(), plan, "task", nil)

	assert.Equal(t, []string{"research", "architect"}, order)
	assert.Equal(t, "arch", state["architecture"])
}

func TestGetBudgetReport_NilBeforeAnyExecution(t *testing.T) {
	o := New("/workspace", nil, nil, nil, nil, 10.0, nil)
	assert.Nil(t, o.GetBudgetReport())
}

func TestGetExecutionHistory_TracksPastRuns(t *testing.T) {
	executors := map[capability.Identity]agent.Executor{
		capability.Research: okExecutor(map[string]any{"context": "ok"}),
	}
	o := New("/workspace", executors, nil, nil, nil, 10.0, nil)
	plan := []PlanStep{{Agent: capability.Research, Mode: "research"}}

	o.ExecuteWorkflow(context.Background(), plan, "first task", nil)
	o.ExecuteWorkflow(context.Background(), plan, "second task", nil)

	history := o.GetExecutionHistory()
	require.Len(t, history, 2)
	assert.Equal(t, "first task", history[0].UserQuery)
	assert.True(t, history[0].AllSucceeded)
}

func TestSetBudget_UpdatesInFlightExecution(t *testing.T) {
	o := New("/workspace", nil, nil, nil, nil, 10.0, nil)
	o.current = &WorkflowExecution{MaxBudget: 10.0}
	o.SetBudget(5.0)
	assert.Equal(t, 5.0, o.maxBudget)
	assert.Equal(t, 5.0, o.current.MaxBudget)
}
