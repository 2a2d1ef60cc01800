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
	"fmt"
	"sync"

	"autoagent/platform/shared/logger"
)

const (
	persistentErrorThreshold = 3
	maxFixerRepeats          = 2
	lowQualityThreshold      = 0.7
)

// Adapter holds adaptation rules, an optional optimization source, and
// the running history of every decision it has produced.
type Adapter struct {
	mu      sync.Mutex
	source  OptimizationSource
	history []Decision
	log     *logger.Logger
}

// New constructs an Adapter. source may be nil — the optimization
// check is skipped entirely when no source is attached, matching the
// source's `if self.learning_system` guard.
func New(source OptimizationSource, log *logger.Logger) *Adapter {
	return &Adapter{source: source, log: log}
}

// AnalyzeAndAdapt runs every adaptation rule over ctx in a fixed order
// — errors (which may short-circuit via a critical abort), quality,
// missing dependencies, then optimization suggestions — and returns
// every decision produced.
func (a *Adapter) AnalyzeAndAdapt(ctx Context) []Decision {
	if a.log != nil {
		a.log.Info("", "", "analyzing workflow", map[string]any{"phase": ctx.CurrentPhase})
	}

	var decisions []Decision

	errorDecisions, abort := a.checkForErrors(ctx)
	decisions = append(decisions, errorDecisions...)
	if abort {
		// A critical abort preempts every other rule: the source
		// returns immediately once it appends the abort decision.
		return decisions
	}

	decisions = append(decisions, a.checkQuality(ctx)...)
	decisions = append(decisions, a.checkDependencies(ctx)...)
	if a.source != nil {
		decisions = append(decisions, a.checkOptimizations(ctx)...)
	}

	if a.log != nil {
		if len(decisions) > 0 {
			a.log.Info("", "", "generated adaptation decisions", map[string]any{"count": len(decisions)})
		} else {
			a.log.Debug("", "", "no adaptations needed", nil)
		}
	}
	return decisions
}

func countOccurrences(items []string, target string) int {
	n := 0
	for _, item := range items {
		if item == target {
			n++
		}
	}
	return n
}

func contains(items []string, target string) bool {
	return countOccurrences(items, target) > 0
}

// checkForErrors returns (decisions, abortedNow). When a critical error
// is present the only decision is an ABORT_WORKFLOW and abortedNow is true.
func (a *Adapter) checkForErrors(ctx Context) ([]Decision, bool) {
	if len(ctx.Errors) == 0 {
		return nil, false
	}

	var critical []ErrorEntry
	for _, e := range ctx.Errors {
		if e.Severity == "critical" {
			critical = append(critical, e)
		}
	}
	if len(critical) > 0 {
		return []Decision{{
			Type:       AbortWorkflow,
			Reason:     ErrorDetected,
			Details:    map[string]any{"errors": critical},
			Confidence: 1.0,
		}}, true
	}

	var decisions []Decision
	errorCount := len(ctx.Errors)
	if errorCount > persistentErrorThreshold && contains(ctx.Completed, "fixer") {
		fixerRuns := countOccurrences(ctx.Completed, "fixer")
		if fixerRuns < maxFixerRepeats {
			decisions = append(decisions, Decision{
				Type:       RepeatAgent,
				Reason:     ErrorDetected,
				AgentID:    "fixer",
				Details:    map[string]any{"error_count": errorCount, "current_runs": fixerRuns},
				Confidence: 0.9,
			})
		}
	}
	return decisions, false
}

func (a *Adapter) checkQuality(ctx Context) []Decision {
	if len(ctx.QualityScores) == 0 {
		return nil
	}
	score, ok := ctx.QualityScores["codesmith"]
	if !ok || score >= lowQualityThreshold {
		return nil
	}
	if contains(ctx.Completed, "reviewer") || contains(ctx.Pending, "reviewer") {
		return nil
	}
	return []Decision{{
		Type:    InsertAgent,
		Reason:  QualityIssue,
		AgentID: "reviewer",
		Details: map[string]any{
			"quality_score": score,
			"insert_after":  "codesmith",
		},
		Confidence: 0.85,
	}}
}

func (a *Adapter) checkDependencies(ctx Context) []Decision {
	architectResult, ok := ctx.Results["architect"].(map[string]any)
	if !ok {
		return nil
	}
	deps, ok := architectResult["dependencies"].([]map[string]any)
	if !ok {
		return nil
	}

	var missing []string
	for _, dep := range deps {
		if status, _ := dep["status"].(string); status == "missing" {
			if name, ok := dep["name"].(string); ok {
				missing = append(missing, name)
			}
		}
	}
	if len(missing) == 0 || contains(ctx.Completed, "research") {
		return nil
	}
	return []Decision{{
		Type:    InsertAgent,
		Reason:  MissingDependency,
		AgentID: "research",
		Details: map[string]any{
			"missing_dependencies": missing,
			"insert_before":        "codesmith",
		},
		Confidence: 0.95,
	}}
}

func (a *Adapter) checkOptimizations(ctx Context) []Decision {
	projectType, _ := ctx.Metadata["project_type"].(string)
	suggestions, err := a.source.SuggestOptimizations(ctx.TaskDescription, projectType)
	if err != nil {
		if a.log != nil {
			a.log.Warn("", "", "failed to check optimizations", map[string]any{"error": err.Error()})
		}
		return nil
	}

	var decisions []Decision
	for _, s := range suggestions {
		if s.Type != "skip_agent" {
			continue
		}
		if !contains(ctx.Pending, s.Agent) {
			continue
		}
		decisions = append(decisions, Decision{
			Type:       SkipAgent,
			Reason:     Optimization,
			AgentID:    s.Agent,
			Details:    map[string]any{"suggestion": s},
			Confidence: s.Confidence,
		})
	}
	return decisions
}

// ApplyAdaptation records decision in history and returns ctx with its
// Pending (or Metadata, for abort/change-parameters) updated according
// to the decision's type.
func (a *Adapter) ApplyAdaptation(decision Decision, ctx Context) Context {
	a.mu.Lock()
	a.history = append(a.history, decision)
	a.mu.Unlock()

	if a.log != nil {
		a.log.Info("", "", "applying adaptation", map[string]any{"type": string(decision.Type)})
	}

	switch decision.Type {
	case InsertAgent:
		return a.insertAgent(decision, ctx)
	case SkipAgent:
		return a.skipAgent(decision, ctx)
	case RepeatAgent:
		return a.repeatAgent(decision, ctx)
	case ReorderAgents:
		return a.reorderAgents(decision, ctx)
	case AbortWorkflow:
		if ctx.Metadata == nil {
			ctx.Metadata = make(map[string]any)
		}
		ctx.Metadata["aborted"] = true
		ctx.Metadata["abort_reason"] = decision.Details
	case ChangeParameters:
		if ctx.Metadata == nil {
			ctx.Metadata = make(map[string]any)
		}
		ctx.Metadata["parameters"] = decision.Details
	}
	return ctx
}

// insertAgent places agentID by insert_before, else at the head of
// Pending if insert_after is set (regardless of its value — this
// matches the source's literal behavior, which never actually
// searches for insert_after's target position), else appends.
func (a *Adapter) insertAgent(decision Decision, ctx Context) Context {
	agentID := decision.AgentID
	if agentID == "" {
		if a.log != nil {
			a.log.Warn("", "", "no agent_id provided for insert_agent", nil)
		}
		return ctx
	}

	insertBefore, _ := decision.Details["insert_before"].(string)
	_, hasInsertAfter := decision.Details["insert_after"]

	if insertBefore != "" {
		if idx := indexOf(ctx.Pending, insertBefore); idx >= 0 {
			ctx.Pending = insertAt(ctx.Pending, idx, agentID)
			return ctx
		}
	}
	if hasInsertAfter {
		ctx.Pending = insertAt(ctx.Pending, 0, agentID)
		return ctx
	}
	ctx.Pending = append(ctx.Pending, agentID)
	return ctx
}

func (a *Adapter) skipAgent(decision Decision, ctx Context) Context {
	idx := indexOf(ctx.Pending, decision.AgentID)
	if idx < 0 {
		if a.log != nil {
			a.log.Warn("", "", "agent not in pending list", map[string]any{"agent": decision.AgentID})
		}
		return ctx
	}
	ctx.Pending = append(ctx.Pending[:idx], ctx.Pending[idx+1:]...)
	return ctx
}

func (a *Adapter) repeatAgent(decision Decision, ctx Context) Context {
	if decision.AgentID == "" {
		return ctx
	}
	ctx.Pending = insertAt(ctx.Pending, 0, decision.AgentID)
	return ctx
}

func (a *Adapter) reorderAgents(decision Decision, ctx Context) Context {
	newOrder, ok := decision.Details["order"].([]string)
	if !ok || len(newOrder) == 0 {
		return ctx
	}
	ctx.Pending = newOrder
	return ctx
}

func indexOf(items []string, target string) int {
	for i, item := range items {
		if item == target {
			return i
		}
	}
	return -1
}

func insertAt(items []string, idx int, value string) []string {
	out := make([]string, 0, len(items)+1)
	out = append(out, items[:idx]...)
	out = append(out, value)
	out = append(out, items[idx:]...)
	return out
}

// Stats summarizes the adaptation history.
type Stats struct {
	TotalAdaptations int
	ByType           map[Type]int
	ByReason         map[Reason]int
	Recent           []Decision // up to the last 5
}

// GetAdaptationStats summarizes every decision applied so far.
func (a *Adapter) GetAdaptationStats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats := Stats{ByType: make(map[Type]int), ByReason: make(map[Reason]int)}
	for _, d := range a.history {
		stats.ByType[d.Type]++
		stats.ByReason[d.Reason]++
	}
	stats.TotalAdaptations = len(a.history)

	start := len(a.history) - 5
	if start < 0 {
		start = 0
	}
	stats.Recent = append([]Decision(nil), a.history[start:]...)
	return stats
}

// String renders a Decision for logs.
func (d Decision) String() string {
	return fmt.Sprintf("%s(%s): agent=%s confidence=%.2f", d.Type, d.Reason, d.AgentID, d.Confidence)
}
