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

// Package adapter analyzes a running workflow's intermediate state and
// proposes adjustments — insert, skip, repeat, reorder, or abort — to
// the remaining agent queue.
package adapter

import "time"

// Type is the kind of adjustment an AdaptationDecision makes.
type Type string

const (
	InsertAgent      Type = "insert_agent"
	SkipAgent        Type = "skip_agent"
	ReorderAgents    Type = "reorder_agents"
	RepeatAgent      Type = "repeat_agent"
	ChangeParameters Type = "change_parameters"
	AbortWorkflow    Type = "abort_workflow"
)

// Reason is why a decision was proposed.
type Reason string

const (
	ErrorDetected      Reason = "error_detected"
	QualityIssue       Reason = "quality_issue"
	MissingDependency  Reason = "missing_dependency"
	Optimization       Reason = "optimization"
	UserFeedback       Reason = "user_feedback"
	ResourceConstraint Reason = "resource_constraint"
)

// Context is the running workflow's state as seen by the adapter.
// Callers own the slices/maps. ApplyAdaptation takes a Context by value
// and returns the updated copy: the caller's own Pending slice is not
// replaced (a skip may still shift elements in its backing array), and a
// non-nil Metadata map is written in place.
type Context struct {
	TaskDescription string
	CurrentPhase    string
	Completed       []string
	Pending         []string
	Results         map[string]any
	Errors          []ErrorEntry
	QualityScores   map[string]float64
	Metadata        map[string]any
	WorkspacePath   string
	StartTime       time.Time
}

// ErrorEntry is one recorded failure during workflow execution.
type ErrorEntry struct {
	Agent    string
	Message  string
	Severity string // "", "critical"
}

// Decision is one proposed adjustment, timestamped and confidence-scored.
type Decision struct {
	Type       Type
	Reason     Reason
	AgentID    string
	Details    map[string]any
	Confidence float64
	Timestamp  time.Time
}

// OptimizationSuggestion is what an attached learning/optimization
// source can propose; only "skip_agent" suggestions are actionable
// today, matching the source's handling of its (currently
// string-only) suggestion feed.
type OptimizationSuggestion struct {
	Type       string // "skip_agent" is the only actionable value
	Agent      string
	Confidence float64
}

// OptimizationSource is consulted by AnalyzeAndAdapt when attached; it
// models a learning/history system that proposes workflow
// optimizations for a given task.
type OptimizationSource interface {
	SuggestOptimizations(taskDescription, projectType string) ([]OptimizationSuggestion, error)
}
