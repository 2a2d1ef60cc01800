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

// Package planner turns a free-form task description into an ordered,
// conditional sequence of agent steps by delegating to the "claude" MCP
// server, falling back to a fixed CREATE-workflow plan when that call
// fails or returns something unusable.
package planner

// AgentType names one of the agents the orchestrator knows how to run.
type AgentType string

const (
	Research  AgentType = "research"
	Architect AgentType = "architect"
	Codesmith AgentType = "codesmith"
	ReviewFix AgentType = "reviewfix"
	Explain   AgentType = "explain"
	Debugger  AgentType = "debugger"
)

var validAgentTypes = map[AgentType]bool{
	Research: true, Architect: true, Codesmith: true,
	ReviewFix: true, Explain: true, Debugger: true,
}

// ParseAgentType validates s against the known agent roster.
func ParseAgentType(s string) (AgentType, bool) {
	at := AgentType(s)
	return at, validAgentTypes[at]
}

// ConditionType is when an AgentStep is eligible to run.
type ConditionType string

const (
	Always       ConditionType = "always"
	IfSuccess    ConditionType = "if_success"
	IfFailure    ConditionType = "if_failure"
	IfQualityLow ConditionType = "if_quality_low"
	IfFilesExist ConditionType = "if_files_exist"
	IfLLMDecides ConditionType = "if_llm_decides"
	Parallel     ConditionType = "parallel"
)

var validConditionTypes = map[ConditionType]bool{
	Always: true, IfSuccess: true, IfFailure: true, IfQualityLow: true,
	IfFilesExist: true, IfLLMDecides: true, Parallel: true,
}

// ParseConditionType validates s, defaulting an empty string to Always.
func ParseConditionType(s string) (ConditionType, bool) {
	if s == "" {
		return Always, true
	}
	ct := ConditionType(s)
	return ct, validConditionTypes[ct]
}

// AgentStep is a single step of a WorkflowPlan.
type AgentStep struct {
	Agent           AgentType
	Description     string
	Inputs          []string
	Outputs         []string
	Condition       ConditionType
	ConditionParams map[string]any
	MaxIterations   int
	ParallelWith    string
}

// WorkflowPlan is the complete ordered execution plan for a task.
type WorkflowPlan struct {
	TaskDescription       string
	WorkflowType          string // CREATE, FIX, EXPLAIN, REFACTOR, CUSTOM
	Agents                []AgentStep
	SuccessCriteria       []string
	EstimatedDuration     string
	Complexity            string // simple, moderate, complex
	RequiresHumanApproval bool
	Metadata              map[string]any
}
