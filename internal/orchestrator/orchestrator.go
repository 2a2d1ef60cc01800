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
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"autoagent/platform/internal/adapter"
	"autoagent/platform/internal/agent"
	"autoagent/platform/internal/capability"
	"autoagent/platform/internal/credit"
	"autoagent/platform/internal/permissions"
	"autoagent/platform/shared/logger"
)

const errorTerminationThreshold = 3

// Observer receives lifecycle notifications as ExecuteWorkflow runs. It
// lets a caller (the session layer, streaming frames to a WebSocket
// client) observe progress without ExecuteWorkflow itself knowing
// anything about transport. All methods must return promptly; they run
// on the orchestrator's own goroutine.
type Observer interface {
	OnAgentStart(agent capability.Identity, mode string)
	OnAgentComplete(execution AgentExecution)
	OnApprovalRequested(req ApprovalRequest)
}

// Orchestrator dynamically executes a workflow plan, one agent step at a
// time, coordinating budget tracking, approval gating, agent self-calls,
// and adapter-driven plan adjustment.
type Orchestrator struct {
	workspacePath string
	executors     map[capability.Identity]agent.Executor
	approver      Approver
	registry      *capability.Registry
	adapter       *adapter.Adapter
	log           *logger.Logger

	permissions *permissions.Manager
	credit      *credit.Tracker

	mu              sync.Mutex
	maxBudget       float64
	current         *WorkflowExecution
	history         []*WorkflowExecution
	pendingRequests []AgentRequest
	observer        Observer
}

// SetObserver attaches obs to receive future lifecycle notifications.
// Pass nil to detach. Not safe to call concurrently with ExecuteWorkflow.
func (o *Orchestrator) SetObserver(obs Observer) {
	o.observer = obs
}

// SetPermissions attaches the permission gate every agent step is
// checked against (spec.md §2 step (a)). Pass nil to disable gating.
func (o *Orchestrator) SetPermissions(p *permissions.Manager) {
	o.permissions = p
}

// SetCredit attaches the budget/lock tracker consulted for every agent
// step (spec.md §2 step (b)) and held around codesmith's LLM call. Pass
// nil to disable tracking beyond the per-execution MaxBudget check.
func (o *Orchestrator) SetCredit(c *credit.Tracker) {
	o.credit = c
}

// requiredPermission maps a mode's risk level to the permission tag
// that gates it, mirroring spec.md §4.3's default-grant table:
// writes_files and critical require can_write_files, networked requires
// can_web_search, and read_only requires can_read_files.
func requiredPermission(risk capability.RiskLevel) permissions.Permission {
	switch risk {
	case capability.WritesFiles, capability.Critical:
		return permissions.CanWriteFiles
	case capability.Networked:
		return permissions.CanWebSearch
	default:
		return permissions.CanReadFiles
	}
}

// New constructs an Orchestrator. executors need not cover every agent
// identity; an agent with no registered executor fails its step with a
// "no executor" error exactly like the source. approver and adapt may be
// nil — a nil approver defaults to an AutoApprover, a nil adapter
// disables adaptive plan adjustment entirely.
func New(
	workspacePath string,
	executors map[capability.Identity]agent.Executor,
	approver Approver,
	registry *capability.Registry,
	adapt *adapter.Adapter,
	maxBudget float64,
	log *logger.Logger,
) *Orchestrator {
	if approver == nil {
		approver = NewAutoApprover()
	}
	if registry == nil {
		registry = capability.NewRegistry()
	}
	return &Orchestrator{
		workspacePath: workspacePath,
		executors:     executors,
		approver:      approver,
		registry:      registry,
		adapter:       adapt,
		maxBudget:     maxBudget,
		log:           log,
	}
}

// ExecuteWorkflow runs plan to completion (or early termination) and
// returns the final merged state.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, plan []PlanStep, userQuery string, initialState map[string]any) map[string]any {
	if o.log != nil {
		names := make([]string, len(plan))
		for i, s := range plan {
			names[i] = string(s.Agent)
		}
		o.log.Info("", "", "starting workflow execution", map[string]any{"plan": strings.Join(names, " -> ")})
	}

	execution := &WorkflowExecution{
		ID:            uuid.NewString(),
		Pending:       append([]PlanStep(nil), plan...),
		MaxBudget:     o.maxBudget,
		WorkspacePath: o.workspacePath,
		UserQuery:     userQuery,
	}
	o.mu.Lock()
	o.current = execution
	o.mu.Unlock()

	state := make(map[string]any, len(initialState))
	for k, v := range initialState {
		state[k] = v
	}

	for !execution.IsComplete() {
		if execution.RemainingBudget() <= 0 {
			if o.log != nil {
				o.log.Error("", "", "budget exhausted, aborting workflow", nil)
			}
			state["errors"] = appendError(state, "budget exhausted")
			break
		}

		step := execution.Pending[0]
		execution.Pending = execution.Pending[1:]

		if o.log != nil {
			o.log.Info("", "", "executing agent", map[string]any{
				"agent": string(step.Agent), "mode": step.Mode,
				"remaining_budget": execution.RemainingBudget(),
			})
		}

		result := o.executeAgent(ctx, execution, step.Agent, step.Mode, state)
		for k, v := range result {
			state[k] = v
		}

		o.drainAgentRequests(ctx, execution, state)

		if o.adapter != nil {
			o.applyAdaptations(execution, state)
		}

		if o.shouldTerminateEarly(state) {
			if o.log != nil {
				o.log.Warn("", "", "early termination triggered", nil)
			}
			break
		}
	}

	if o.log != nil {
		o.log.Info("", "", "workflow execution complete", map[string]any{
			"total_cost": execution.TotalCost, "agents_executed": len(execution.Completed),
		})
	}

	o.mu.Lock()
	o.history = append(o.history, execution)
	o.mu.Unlock()

	return state
}

// executeAgent runs a single (agent, mode) step against state, gating on
// approval and recording the outcome onto execution.
func (o *Orchestrator) executeAgent(ctx context.Context, execution *WorkflowExecution, id capability.Identity, mode string, state map[string]any) map[string]any {
	record := AgentExecution{
		Agent:     id,
		Mode:      mode,
		Status:    Running,
		StartTime: time.Now(),
		Input:     map[string]any{"workspace_path": o.workspacePath, "mode": mode},
	}

	if o.observer != nil {
		o.observer.OnAgentStart(id, mode)
	}

	estimatedCost, _ := o.registry.EstimateCost(id, mode)
	needsApproval, _ := o.registry.RequiresApproval(id, mode)
	modeInfo, _ := o.registry.GetMode(id, mode)

	if o.permissions != nil {
		action := fmt.Sprintf("%s:%s", id, mode)
		if ok, msg, _ := o.permissions.CheckAndEnforce(string(id), action, requiredPermission(modeInfo.Risk), false); !ok {
			if o.log != nil {
				o.log.Warn("", "", "permission denied, skipping agent", map[string]any{"agent": string(id), "reason": msg})
			}
			record.Status = Skipped
			record.Errors = append(record.Errors, msg)
			record.EndTime = time.Now()
			execution.Completed = append(execution.Completed, record)
			state["errors"] = appendError(state, fmt.Sprintf("permission_denied: %s", msg))
			if o.observer != nil {
				o.observer.OnAgentComplete(record)
			}
			return nil
		}
	}

	if o.credit != nil && id == capability.Codesmith {
		if !o.credit.AcquireLLMLock(ctx, 30*time.Second) {
			record.Status = Skipped
			record.EndTime = time.Now()
			execution.Completed = append(execution.Completed, record)
			state["errors"] = appendError(state, "codesmith: could not acquire LLM lock")
			if o.observer != nil {
				o.observer.OnAgentComplete(record)
			}
			return nil
		}
		defer o.credit.ReleaseLLMLock()
	}

	if needsApproval {
		req := ApprovalRequest{
			ID:          uuid.New(),
			Agent:       id,
			Mode:        mode,
			Description: fmt.Sprintf("%s wants to %s", id, mode),
			RiskLevel:   capability.WritesFiles,
		}
		if o.observer != nil {
			o.observer.OnApprovalRequested(req)
		}
		approved, err := o.approver.RequestApproval(ctx, req)
		if err != nil || !approved {
			if o.log != nil {
				o.log.Warn("", "", "approval denied or errored, skipping agent", map[string]any{
					"agent": string(id), "error": errString(err),
				})
			}
			record.Status = Skipped
			record.EndTime = time.Now()
			execution.Completed = append(execution.Completed, record)
			if o.observer != nil {
				o.observer.OnAgentComplete(record)
			}
			return nil
		}
	}

	executor, ok := o.executors[id]
	if !ok {
		record.Status = Failed
		record.Errors = append(record.Errors, fmt.Sprintf("no executor for %s", id))
		record.EndTime = time.Now()
		execution.Completed = append(execution.Completed, record)
		state["errors"] = appendError(state, fmt.Sprintf("%s: no executor registered", id))
		if o.observer != nil {
			o.observer.OnAgentComplete(record)
		}
		return nil
	}

	stateCopy := make(map[string]any, len(state)+1)
	for k, v := range state {
		stateCopy[k] = v
	}
	stateCopy["agent_mode"] = mode

	result, err := executor(ctx, stateCopy)
	record.EndTime = time.Now()
	if err != nil {
		record.Status = Failed
		record.Errors = append(record.Errors, err.Error())
		execution.Completed = append(execution.Completed, record)
		if o.log != nil {
			o.log.Error("", "", "agent failed", map[string]any{"agent": string(id), "error": err.Error()})
		}
		state["errors"] = appendError(state, fmt.Sprintf("%s: %s", id, err.Error()))
		if o.observer != nil {
			o.observer.OnAgentComplete(record)
		}
		return nil
	}

	record.Status = Success
	record.Output = result
	record.Cost = estimatedCost
	if tokens, ok := result["tokens_used"].(int); ok {
		record.Tokens = tokens
	}

	if o.credit != nil {
		if _, trackErr := o.credit.TrackAPICall(string(id), string(id), record.Tokens, 0, false); trackErr != nil {
			if o.log != nil {
				o.log.Error("", "", "credit tracker halted workflow spend", map[string]any{"error": trackErr.Error()})
			}
			state["errors"] = appendError(state, fmt.Sprintf("credit: %s", trackErr.Error()))
		}
	}

	execution.Completed = append(execution.Completed, record)
	execution.TotalCost += estimatedCost
	execution.TotalTokens += record.Tokens

	if o.log != nil {
		o.log.Info("", "", "agent completed", map[string]any{"agent": string(id), "duration_s": record.Duration().Seconds()})
	}
	if o.observer != nil {
		o.observer.OnAgentComplete(record)
	}
	return result
}

// RequestAgent lets a running agent ask the orchestrator to run another
// agent before the workflow continues, enqueued FIFO.
func (o *Orchestrator) RequestAgent(requesting, target capability.Identity, mode, reason string, inputs map[string]any) {
	if inputs == nil {
		inputs = map[string]any{}
	}
	o.mu.Lock()
	o.pendingRequests = append(o.pendingRequests, AgentRequest{
		Requesting: requesting, Target: target, Mode: mode, Reason: reason, Inputs: inputs,
	})
	o.mu.Unlock()
	if o.log != nil {
		o.log.Info("", "", "agent self-call requested", map[string]any{
			"from": string(requesting), "to": string(target), "mode": mode, "reason": reason,
		})
	}
}

// drainAgentRequests runs every queued self-call in FIFO order, stopping
// early if the budget is exhausted mid-drain.
func (o *Orchestrator) drainAgentRequests(ctx context.Context, execution *WorkflowExecution, state map[string]any) {
	for {
		o.mu.Lock()
		if len(o.pendingRequests) == 0 {
			o.mu.Unlock()
			return
		}
		req := o.pendingRequests[0]
		o.pendingRequests = o.pendingRequests[1:]
		o.mu.Unlock()

		if execution.RemainingBudget() <= 0 {
			if o.log != nil {
				o.log.Warn("", "", "cannot fulfill agent request, budget exhausted", nil)
			}
			return
		}

		requestState := make(map[string]any, len(state)+len(req.Inputs))
		for k, v := range state {
			requestState[k] = v
		}
		for k, v := range req.Inputs {
			requestState[k] = v
		}

		result := o.executeAgent(ctx, execution, req.Target, req.Mode, requestState)
		for k, v := range result {
			state[k] = v
		}
	}
}

// applyAdaptations lets the attached adapter inspect the running
// execution and adjust the remaining plan — inserting, skipping, or
// repeating agents, or aborting the workflow outright.
func (o *Orchestrator) applyAdaptations(execution *WorkflowExecution, state map[string]any) {
	adapterCtx := adapter.Context{
		TaskDescription: execution.UserQuery,
		Completed:       execution.completedNames(),
		Pending:         execution.pendingNames(),
		Errors:          collectErrorEntries(state),
		QualityScores:   collectQualityScores(execution),
		Results:         collectResults(execution),
		Metadata:        map[string]any{},
	}

	decisions := o.adapter.AnalyzeAndAdapt(adapterCtx)
	for _, d := range decisions {
		adapterCtx = o.adapter.ApplyAdaptation(d, adapterCtx)
		if d.Type == adapter.AbortWorkflow {
			execution.Pending = nil
			state["user_abort"] = true
			return
		}
	}
	execution.Pending = stepsFromNames(adapterCtx.Pending, execution.Pending, o.registry)
}

// stepsFromNames rebuilds a []PlanStep from the adapter's string-only
// Pending list: names already present in existing keep their mode,
// names the adapter newly inserted get the agent's default mode.
func stepsFromNames(names []string, existing []PlanStep, registry *capability.Registry) []PlanStep {
	modeOf := make(map[capability.Identity]string, len(existing))
	for _, s := range existing {
		modeOf[s.Agent] = s.Mode
	}

	out := make([]PlanStep, 0, len(names))
	for _, name := range names {
		id := capability.Identity(name)
		mode, ok := modeOf[id]
		if !ok {
			if capa, err := registry.GetCapability(id); err == nil {
				mode = capa.DefaultMode
			}
		}
		out = append(out, PlanStep{Agent: id, Mode: mode})
	}
	return out
}

func collectErrorEntries(state map[string]any) []adapter.ErrorEntry {
	raw, _ := state["errors"].([]string)
	entries := make([]adapter.ErrorEntry, len(raw))
	for i, msg := range raw {
		severity := ""
		if strings.Contains(strings.ToLower(msg), "critical") {
			severity = "critical"
		}
		entries[i] = adapter.ErrorEntry{Message: msg, Severity: severity}
	}
	return entries
}

// collectResults keys each completed step's output by agent name, the
// shape adapter.checkDependencies reads architect's output from
// (ctx.Results["architect"]) to find missing dependencies. A later
// execution of the same agent overwrites an earlier one's entry.
func collectResults(execution *WorkflowExecution) map[string]any {
	results := make(map[string]any, len(execution.Completed))
	for _, e := range execution.Completed {
		if e.Output != nil {
			results[string(e.Agent)] = e.Output
		}
	}
	return results
}

func collectQualityScores(execution *WorkflowExecution) map[string]float64 {
	scores := map[string]float64{}
	for _, e := range execution.Completed {
		if e.Output == nil {
			continue
		}
		if score, ok := e.Output["quality_score"].(float64); ok {
			scores[string(e.Agent)] = score
		}
	}
	return scores
}

// shouldTerminateEarly mirrors the source's three early-exit conditions
// and also stops on any "credit:" error, i.e. a credit tracker refusal.
func (o *Orchestrator) shouldTerminateEarly(state map[string]any) bool {
	errs, _ := state["errors"].([]string)
	if len(errs) >= errorTerminationThreshold {
		if o.log != nil {
			o.log.Error("", "", "too many errors, terminating", map[string]any{"count": len(errs)})
		}
		return true
	}
	for _, e := range errs {
		if strings.HasPrefix(e, "credit: ") {
			if o.log != nil {
				o.log.Error("", "", "credit tracker refused spend, terminating", nil)
			}
			return true
		}
		if strings.Contains(strings.ToLower(e), "critical") {
			if o.log != nil {
				o.log.Error("", "", "critical error detected, terminating", nil)
			}
			return true
		}
	}
	if abort, _ := state["user_abort"].(bool); abort {
		if o.log != nil {
			o.log.Warn("", "", "user requested abort", nil)
		}
		return true
	}
	return false
}

// GetBudgetReport summarizes the current (or most recent) execution's
// spend. Returns nil if no execution has ever run.
func (o *Orchestrator) GetBudgetReport() *BudgetReport {
	o.mu.Lock()
	execution := o.current
	o.mu.Unlock()
	if execution == nil {
		return nil
	}

	breakdown := make([]CostBreakdownEntry, len(execution.Completed))
	for i, e := range execution.Completed {
		breakdown[i] = CostBreakdownEntry{Agent: e.Agent, Mode: e.Mode, Cost: e.Cost, Duration: e.Duration()}
	}
	return &BudgetReport{
		TotalBudget:    execution.MaxBudget,
		Spent:          execution.TotalCost,
		Remaining:      execution.RemainingBudget(),
		TokensUsed:     execution.TotalTokens,
		AgentsExecuted: len(execution.Completed),
		CostBreakdown:  breakdown,
	}
}

// SetBudget updates the budget ceiling, applying it to the in-flight
// execution if one is running.
func (o *Orchestrator) SetBudget(budget float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.maxBudget = budget
	if o.current != nil {
		o.current.MaxBudget = budget
	}
	if o.log != nil {
		o.log.Info("", "", "budget updated", map[string]any{"budget": budget})
	}
}

// GetExecutionHistory summarizes every completed workflow execution.
func (o *Orchestrator) GetExecutionHistory() []HistoryEntry {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]HistoryEntry, len(o.history))
	for i, e := range o.history {
		allSucceeded := true
		for _, step := range e.Completed {
			if step.Status != Success {
				allSucceeded = false
				break
			}
		}
		out[i] = HistoryEntry{
			UserQuery:      e.UserQuery,
			TotalCost:      e.TotalCost,
			TotalTokens:    e.TotalTokens,
			AgentsExecuted: len(e.Completed),
			AllSucceeded:   allSucceeded,
		}
	}
	return out
}

func appendError(state map[string]any, msg string) []string {
	existing, _ := state["errors"].([]string)
	return append(append([]string(nil), existing...), msg)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
