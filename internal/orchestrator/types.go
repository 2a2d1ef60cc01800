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

// Package orchestrator dynamically executes a planner-produced workflow:
// one agent at a time, with approval gating, budget enforcement, agent
// self-calls, and adapter-driven plan adjustment.
package orchestrator

import (
	"time"

	"autoagent/platform/internal/capability"
)

// Status is the lifecycle state of one agent execution.
type Status string

const (
	Pending Status = "pending"
	Running Status = "running"
	Success Status = "success"
	Failed  Status = "failed"
	Skipped Status = "skipped"
	Aborted Status = "aborted"
)

// PlanStep is one (agent, mode) pair in a workflow's plan, mirroring the
// source's `list[tuple[AgentType, str]]`.
type PlanStep struct {
	Agent capability.Identity
	Mode  string
}

// AgentExecution is the record of a single agent run.
type AgentExecution struct {
	Agent     capability.Identity
	Mode      string
	Status    Status
	StartTime time.Time
	EndTime   time.Time
	Input     map[string]any
	Output    map[string]any
	Errors    []string
	Cost      float64
	Tokens    int
}

// Duration is how long the execution took, or zero if it hasn't ended.
func (e AgentExecution) Duration() time.Duration {
	if e.StartTime.IsZero() || e.EndTime.IsZero() {
		return 0
	}
	return e.EndTime.Sub(e.StartTime)
}

// WorkflowExecution is the complete state of one workflow run.
type WorkflowExecution struct {
	ID            string
	Pending       []PlanStep
	Completed     []AgentExecution
	TotalCost     float64
	TotalTokens   int
	MaxBudget     float64
	WorkspacePath string
	UserQuery     string
}

// IsComplete reports whether every step in the plan has been consumed.
func (w *WorkflowExecution) IsComplete() bool {
	return len(w.Pending) == 0
}

// RemainingBudget is how much of MaxBudget is left, floored at zero.
func (w *WorkflowExecution) RemainingBudget() float64 {
	remaining := w.MaxBudget - w.TotalCost
	if remaining < 0 {
		return 0
	}
	return remaining
}

// completedNames returns the agent identities that have finished,
// duplicates included, in execution order — the shape
// internal/adapter.Context.Completed expects.
func (w *WorkflowExecution) completedNames() []string {
	names := make([]string, len(w.Completed))
	for i, e := range w.Completed {
		names[i] = string(e.Agent)
	}
	return names
}

// pendingNames returns the agent identities still queued, in order.
func (w *WorkflowExecution) pendingNames() []string {
	names := make([]string, len(w.Pending))
	for i, s := range w.Pending {
		names[i] = string(s.Agent)
	}
	return names
}

// AgentRequest is a self-call one agent's executor can enqueue, asking
// the orchestrator to run another agent before execution continues.
type AgentRequest struct {
	Requesting capability.Identity
	Target     capability.Identity
	Mode       string
	Reason     string
	Inputs     map[string]any
}

// BudgetReport summarizes a workflow execution's spend.
type BudgetReport struct {
	TotalBudget    float64
	Spent          float64
	Remaining      float64
	TokensUsed     int
	AgentsExecuted int
	CostBreakdown  []CostBreakdownEntry
}

// CostBreakdownEntry is one line of a BudgetReport's cost breakdown.
type CostBreakdownEntry struct {
	Agent    capability.Identity
	Mode     string
	Cost     float64
	Duration time.Duration
}

// HistoryEntry summarizes one past workflow execution.
type HistoryEntry struct {
	UserQuery      string
	TotalCost      float64
	TotalTokens    int
	AgentsExecuted int
	AllSucceeded   bool
}
