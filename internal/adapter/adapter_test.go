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

package adapter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOptimizationSource struct {
	suggestions []OptimizationSuggestion
	err         error
}

func (f *fakeOptimizationSource) SuggestOptimizations(taskDescription, projectType string) ([]OptimizationSuggestion, error) {
	return f.suggestions, f.err
}

func TestAnalyzeAndAdapt_CriticalErrorShortCircuitsToAbort(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{
		Errors: []ErrorEntry{
			{Agent: "codesmith", Message: "syntax error", Severity: ""},
			{Agent: "fixer", Message: "out of disk space", Severity: "critical"},
		},
		QualityScores: map[string]float64{"codesmith": 0.1},
	}

	decisions := a.AnalyzeAndAdapt(ctx)
	require.Len(t, decisions, 1)
	assert.Equal(t, AbortWorkflow, decisions[0].Type)
	assert.Equal(t, 1.0, decisions[0].Confidence)
}

func TestAnalyzeAndAdapt_PersistentErrorsRepeatFixer(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{
		Completed: []string{"research", "architect", "codesmith", "fixer"},
		Errors: []ErrorEntry{
			{Agent: "codesmith", Message: "e1"},
			{Agent: "codesmith", Message: "e2"},
			{Agent: "codesmith", Message: "e3"},
			{Agent: "codesmith", Message: "e4"},
		},
	}

	decisions := a.AnalyzeAndAdapt(ctx)
	require.Len(t, decisions, 1)
	assert.Equal(t, RepeatAgent, decisions[0].Type)
	assert.Equal(t, "fixer", decisions[0].AgentID)
}

func TestAnalyzeAndAdapt_PersistentErrorsStopAfterTwoFixerRuns(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{
		Completed: []string{"fixer", "fixer"},
		Errors: []ErrorEntry{
			{Agent: "codesmith", Message: "e1"},
			{Agent: "codesmith", Message: "e2"},
			{Agent: "codesmith", Message: "e3"},
			{Agent: "codesmith", Message: "e4"},
		},
	}

	decisions := a.AnalyzeAndAdapt(ctx)
	assert.Empty(t, decisions)
}

func TestAnalyzeAndAdapt_LowQualityInsertsReviewer(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{
		Pending:       []string{"deploy"},
		QualityScores: map[string]float64{"codesmith": 0.5},
	}

	decisions := a.AnalyzeAndAdapt(ctx)
	require.Len(t, decisions, 1)
	assert.Equal(t, InsertAgent, decisions[0].Type)
	assert.Equal(t, QualityIssue, decisions[0].Reason)
	assert.Equal(t, "reviewer", decisions[0].AgentID)
}

func TestAnalyzeAndAdapt_LowQualitySkippedWhenReviewerAlreadyPending(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{
		Pending:       []string{"reviewer", "deploy"},
		QualityScores: map[string]float64{"codesmith": 0.5},
	}

	decisions := a.AnalyzeAndAdapt(ctx)
	assert.Empty(t, decisions)
}

func TestAnalyzeAndAdapt_MissingDependencyInsertsResearch(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{
		Pending: []string{"codesmith"},
		Results: map[string]any{
			"architect": map[string]any{
				"dependencies": []map[string]any{
					{"name": "libfoo", "status": "missing"},
					{"name": "libbar", "status": "present"},
				},
			},
		},
	}

	decisions := a.AnalyzeAndAdapt(ctx)
	require.Len(t, decisions, 1)
	assert.Equal(t, InsertAgent, decisions[0].Type)
	assert.Equal(t, MissingDependency, decisions[0].Reason)
	assert.Equal(t, "research", decisions[0].AgentID)
}

func TestAnalyzeAndAdapt_MissingDependencySkippedWhenResearchCompleted(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{
		Completed: []string{"research"},
		Pending:   []string{"codesmith"},
		Results: map[string]any{
			"architect": map[string]any{
				"dependencies": []map[string]any{
					{"name": "libfoo", "status": "missing"},
				},
			},
		},
	}

	decisions := a.AnalyzeAndAdapt(ctx)
	assert.Empty(t, decisions)
}

func TestAnalyzeAndAdapt_OptimizationSourceSkippedWhenNil(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{Pending: []string{"optional_step"}}
	decisions := a.AnalyzeAndAdapt(ctx)
	assert.Empty(t, decisions)
}

func TestAnalyzeAndAdapt_OptimizationSuggestsSkip(t *testing.T) {
	source := &fakeOptimizationSource{suggestions: []OptimizationSuggestion{
		{Type: "skip_agent", Agent: "docs", Confidence: 0.6},
	}}
	a := New(source, nil)
	ctx := Context{Pending: []string{"docs", "deploy"}}

	decisions := a.AnalyzeAndAdapt(ctx)
	require.Len(t, decisions, 1)
	assert.Equal(t, SkipAgent, decisions[0].Type)
	assert.Equal(t, Optimization, decisions[0].Reason)
	assert.Equal(t, "docs", decisions[0].AgentID)
}

func TestAnalyzeAndAdapt_OptimizationIgnoresAgentNotPending(t *testing.T) {
	source := &fakeOptimizationSource{suggestions: []OptimizationSuggestion{
		{Type: "skip_agent", Agent: "docs", Confidence: 0.6},
	}}
	a := New(source, nil)
	ctx := Context{Pending: []string{"deploy"}}

	decisions := a.AnalyzeAndAdapt(ctx)
	assert.Empty(t, decisions)
}

func TestAnalyzeAndAdapt_OptimizationErrorIsSwallowed(t *testing.T) {
	source := &fakeOptimizationSource{err: errors.New("learning system unavailable")}
	a := New(source, nil)
	ctx := Context{Pending: []string{"deploy"}}

	decisions := a.AnalyzeAndAdapt(ctx)
	assert.Empty(t, decisions)
}

func TestApplyAdaptation_InsertBeforeNamedAgent(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{Pending: []string{"codesmith", "deploy"}}
	decision := Decision{
		Type:    InsertAgent,
		AgentID: "research",
		Details: map[string]any{"insert_before": "codesmith"},
	}

	out := a.ApplyAdaptation(decision, ctx)
	assert.Equal(t, []string{"research", "codesmith", "deploy"}, out.Pending)
}

func TestApplyAdaptation_InsertAfterFallsToHeadOfPending(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{Pending: []string{"deploy", "cleanup"}}
	decision := Decision{
		Type:    InsertAgent,
		AgentID: "reviewer",
		Details: map[string]any{"insert_after": "codesmith"},
	}

	// insert_after is present but its value is never searched for in
	// Pending — the agent lands at index 0, not after "codesmith".
	out := a.ApplyAdaptation(decision, ctx)
	assert.Equal(t, []string{"reviewer", "deploy", "cleanup"}, out.Pending)
}

func TestApplyAdaptation_InsertWithNeitherHintAppends(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{Pending: []string{"deploy"}}
	decision := Decision{Type: InsertAgent, AgentID: "notify"}

	out := a.ApplyAdaptation(decision, ctx)
	assert.Equal(t, []string{"deploy", "notify"}, out.Pending)
}

func TestApplyAdaptation_InsertBeforeMissingTargetFallsThrough(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{Pending: []string{"deploy"}}
	decision := Decision{
		Type:    InsertAgent,
		AgentID: "research",
		Details: map[string]any{"insert_before": "nonexistent"},
	}

	out := a.ApplyAdaptation(decision, ctx)
	assert.Equal(t, []string{"deploy", "research"}, out.Pending)
}

func TestApplyAdaptation_SkipAgentRemovesFromPending(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{Pending: []string{"docs", "deploy"}}
	decision := Decision{Type: SkipAgent, AgentID: "docs"}

	out := a.ApplyAdaptation(decision, ctx)
	assert.Equal(t, []string{"deploy"}, out.Pending)
}

func TestApplyAdaptation_RepeatAgentInsertsAtHead(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{Pending: []string{"deploy"}}
	decision := Decision{Type: RepeatAgent, AgentID: "fixer"}

	out := a.ApplyAdaptation(decision, ctx)
	assert.Equal(t, []string{"fixer", "deploy"}, out.Pending)
}

func TestApplyAdaptation_ReorderReplacesPendingWholesale(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{Pending: []string{"a", "b", "c"}}
	decision := Decision{Type: ReorderAgents, Details: map[string]any{"order": []string{"c", "a", "b"}}}

	out := a.ApplyAdaptation(decision, ctx)
	assert.Equal(t, []string{"c", "a", "b"}, out.Pending)
}

func TestApplyAdaptation_AbortWorkflowStampsMetadata(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{}
	decision := Decision{Type: AbortWorkflow, Details: map[string]any{"reason": "critical failure"}}

	out := a.ApplyAdaptation(decision, ctx)
	assert.Equal(t, true, out.Metadata["aborted"])
	assert.NotNil(t, out.Metadata["abort_reason"])
}

func TestGetAdaptationStats_CountsByTypeAndReason(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{Pending: []string{"deploy"}}

	a.ApplyAdaptation(Decision{Type: InsertAgent, Reason: QualityIssue, AgentID: "reviewer"}, ctx)
	a.ApplyAdaptation(Decision{Type: SkipAgent, Reason: Optimization, AgentID: "docs"}, ctx)
	a.ApplyAdaptation(Decision{Type: InsertAgent, Reason: MissingDependency, AgentID: "research"}, ctx)

	stats := a.GetAdaptationStats()
	assert.Equal(t, 3, stats.TotalAdaptations)
	assert.Equal(t, 2, stats.ByType[InsertAgent])
	assert.Equal(t, 1, stats.ByType[SkipAgent])
	assert.Len(t, stats.Recent, 3)
}

func TestGetAdaptationStats_RecentCapsAtFive(t *testing.T) {
	a := New(nil, nil)
	ctx := Context{Pending: []string{"deploy"}}
	for i := 0; i < 8; i++ {
		a.ApplyAdaptation(Decision{Type: SkipAgent, AgentID: "docs"}, ctx)
	}

	stats := a.GetAdaptationStats()
	assert.Equal(t, 8, stats.TotalAdaptations)
	assert.Len(t, stats.Recent, 5)
}
