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

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"autoagent/platform/internal/adapter"
	"autoagent/platform/internal/agent"
	"autoagent/platform/internal/capability"
	"autoagent/platform/internal/credit"
	"autoagent/platform/internal/mcp"
	"autoagent/platform/internal/orchestrator"
	"autoagent/platform/internal/permissions"
	"autoagent/platform/internal/planner"
	"autoagent/platform/shared/logger"
)

// ExecutorFactory builds the set of agent executors a freshly initialized
// session's Orchestrator should use, bound to that session's own MCP
// Client (one subprocess set per workspace, per spec.md §4.8).
type ExecutorFactory func(mcpClient *mcp.Client) map[capability.Identity]agent.Executor

// MCPClientFactory constructs the MCP Client a session binds to its
// workspace on init.
type MCPClientFactory func(workspacePath string, log *logger.Logger) *mcp.Client

// approvalTimeout bounds how long a human has to answer an approval_request
// frame before the orchestrator treats it as denied.
const approvalTimeout = 120 * time.Second

// Session drives one WebSocket connection's DISCONNECTED->CONNECTED->
// INITIALIZED->RUNNING->IDLE->CLOSED lifecycle. One Session owns exactly
// one workspace path, one MCP Client, and one Orchestrator.
type Session struct {
	id           string
	registry     *capability.Registry
	newMCPClient MCPClientFactory
	newExecutors ExecutorFactory
	plnr         *planner.Planner
	maxBudget    float64
	log          *logger.Logger

	// permissions and credit are process-wide singletons (spec.md §5:
	// "share the process-wide Credit Tracker and the LLM lock"),
	// injected via SetPermissions/SetCredit before any session's first
	// chat turn. Nil is valid — the orchestrator then runs ungated,
	// which is what every pre-existing test expects.
	permissions *permissions.Manager
	credit      *credit.Tracker

	outbox chan []byte

	mu             sync.Mutex
	state          State
	workspacePath  string
	mcpClient      *mcp.Client
	orch           *orchestrator.Orchestrator
	approver       *orchestrator.ChannelApprover
	lastApprovalID uuid.UUID
}

// New constructs a Session in StateConnected. Call Welcome to obtain the
// frame the caller must send immediately after accepting the connection.
func New(id string, registry *capability.Registry, mcpFactory MCPClientFactory, executors ExecutorFactory, maxBudget float64, log *logger.Logger) *Session {
	if registry == nil {
		registry = capability.NewRegistry()
	}
	return &Session{
		id:           id,
		registry:     registry,
		newMCPClient: mcpFactory,
		newExecutors: executors,
		maxBudget:    maxBudget,
		log:          log,
		state:        StateConnected,
		outbox:       make(chan []byte, 64),
	}
}

// SetPermissions attaches the shared Permissions Manager a later
// handleInit wires into this session's Orchestrator.
func (s *Session) SetPermissions(p *permissions.Manager) {
	s.mu.Lock()
	s.permissions = p
	s.mu.Unlock()
}

// SetCredit attaches the shared Credit Tracker a later handleInit wires
// into this session's Orchestrator.
func (s *Session) SetCredit(c *credit.Tracker) {
	s.mu.Lock()
	s.credit = c
	s.mu.Unlock()
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// State reports the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Outbox is the channel of marshaled frames a connection's write loop
// should forward to the client, in order.
func (s *Session) Outbox() <-chan []byte { return s.outbox }

// Welcome returns the initial `connection` frame.
func (s *Session) Welcome() []byte {
	return s.marshal(newConnectionFrame(s.id))
}

// Close tears down the session's MCP Client, if one was ever created, and
// transitions to StateClosed. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	client := s.mcpClient
	s.state = StateClosed
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
}

// HandleFrame parses and dispatches one client->server frame. It never
// blocks on a full workflow execution — chat turns run on their own
// goroutine so approval_response frames for that same turn can still be
// read off the socket concurrently.
func (s *Session) HandleFrame(ctx context.Context, raw []byte) {
	var frame clientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.send(newErrorFrame("INVALID_JSON", "failed to parse frame: "+err.Error()))
		return
	}

	switch frame.Type {
	case frameInit:
		s.handleInit(ctx, frame)
	case frameChat:
		s.handleChat(ctx, frame)
	case frameApprovalResponse:
		s.handleApprovalResponse(frame)
	case framePing:
		s.send(pongFrame{Type: "pong", SessionID: s.id})
	default:
		s.send(newErrorFrame("UNKNOWN_MESSAGE_TYPE", fmt.Sprintf("unknown frame type %q", frame.Type)))
	}
}

func (s *Session) handleInit(ctx context.Context, frame clientFrame) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		s.send(newErrorFrame("ALREADY_INITIALIZED", "session is already initialized"))
		return
	}
	s.mu.Unlock()

	info, err := os.Stat(frame.WorkspacePath)
	if err != nil || !info.IsDir() {
		s.send(newErrorFrame("INVALID_WORKSPACE", ErrNotADirectory{Path: frame.WorkspacePath}.Error()))
		return
	}

	client := s.newMCPClient(frame.WorkspacePath, s.log)
	if err := client.Initialize(ctx); err != nil {
		s.send(newErrorFrame("MCP_INIT_FAILED", "failed to start workspace tools: "+err.Error()))
		return
	}
	plnr := planner.New(client, s.log)

	approvalOutbox := make(chan orchestrator.ApprovalRequest, 4)
	approver := orchestrator.NewChannelApprover(approvalOutbox, approvalTimeout)
	go s.forwardApprovals(approvalOutbox)

	var executors map[capability.Identity]agent.Executor
	if s.newExecutors != nil {
		executors = s.newExecutors(client)
	}

	adapt := adapter.New(nil, s.log)
	orch := orchestrator.New(frame.WorkspacePath, executors, approver, s.registry, adapt, s.maxBudget, s.log)
	orch.SetObserver(&sessionObserver{session: s})
	s.mu.Lock()
	orch.SetPermissions(s.permissions)
	orch.SetCredit(s.credit)
	s.workspacePath = frame.WorkspacePath
	s.mcpClient = client
	s.orch = orch
	s.approver = approver
	s.plnr = plnr
	s.state = StateInitialized
	s.mu.Unlock()

	s.send(initializedFrame{Type: "initialized", SessionID: s.id, WorkspacePath: frame.WorkspacePath})
}

// forwardApprovals relays every ApprovalRequest the orchestrator's
// ChannelApprover posts into an approval_request frame, recording its ID
// as the one an approval_response with no explicit approval_id resolves.
func (s *Session) forwardApprovals(in <-chan orchestrator.ApprovalRequest) {
	for req := range in {
		s.mu.Lock()
		s.lastApprovalID = req.ID
		s.mu.Unlock()
		s.send(approvalRequestFrame{
			Type:        "approval_request",
			ApprovalID:  req.ID.String(),
			Agent:       string(req.Agent),
			Mode:        req.Mode,
			Description: req.Description,
			RiskLevel:   string(req.RiskLevel),
		})
	}
}

func (s *Session) handleChat(ctx context.Context, frame clientFrame) {
	s.mu.Lock()
	if s.state != StateInitialized && s.state != StateIdle {
		s.mu.Unlock()
		s.send(newErrorFrame("NOT_READY", "session must be initialized before chatting"))
		return
	}
	s.state = StateRunning
	orch := s.orch
	plnr := s.plnr
	workspacePath := s.workspacePath
	s.mu.Unlock()

	go s.runWorkflow(ctx, orch, plnr, workspacePath, frame.Content)
}

func (s *Session) runWorkflow(ctx context.Context, orch *orchestrator.Orchestrator, plnr *planner.Planner, workspacePath, content string) {
	start := time.Now()
	s.send(statusFrame{Type: "status", Message: "planning workflow", Phase: "planning"})

	plan := plnr.PlanWorkflow(ctx, content, workspacePath, nil)
	if ok, reasons := planner.ValidatePlan(plan); !ok {
		s.send(statusFrame{Type: "status", Message: "plan validation issues: " + fmt.Sprint(reasons), Phase: "planning"})
	}

	steps := planToSteps(plan, s.registry)
	s.send(statusFrame{Type: "status", Message: "executing workflow", Phase: "executing"})

	finalState := orch.ExecuteWorkflow(ctx, steps, content, map[string]any{"workspace_path": workspacePath})

	errs, _ := finalState["errors"].([]string)
	filesGenerated, _ := finalState["generated_files"].([]string)
	quality, _ := finalState["quality_score"].(float64)

	s.send(resultFrame{
		Type:            "result",
		Success:         len(errs) == 0,
		ExecutionTime:   time.Since(start).Seconds(),
		QualityScore:    quality,
		AgentsCompleted: completedAgentNames(orch),
		FilesGenerated:  filesGenerated,
		Errors:          errs,
	})

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

func completedAgentNames(orch *orchestrator.Orchestrator) []string {
	history := orch.GetExecutionHistory()
	if len(history) == 0 {
		return nil
	}
	last := history[len(history)-1]
	names := make([]string, 0, last.AgentsExecuted)
	report := orch.GetBudgetReport()
	if report == nil {
		return names
	}
	for _, entry := range report.CostBreakdown {
		names = append(names, string(entry.Agent))
	}
	return names
}

func (s *Session) handleApprovalResponse(frame clientFrame) {
	s.mu.Lock()
	approver := s.approver
	id := s.lastApprovalID
	s.mu.Unlock()

	if approver == nil {
		s.send(newErrorFrame("NO_PENDING_APPROVAL", "no workflow is awaiting approval"))
		return
	}
	if frame.ApprovalID != "" {
		parsed, err := uuid.Parse(frame.ApprovalID)
		if err != nil {
			s.send(newErrorFrame("INVALID_APPROVAL_ID", "malformed approval_id"))
			return
		}
		id = parsed
	}
	approver.Resolve(id, frame.Approved)
}

func (s *Session) send(v any) {
	s.outbox <- s.marshal(v)
}

func (s *Session) marshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		if s.log != nil {
			s.log.Error("", "", "failed to marshal outgoing frame", map[string]any{"error": err.Error()})
		}
		return []byte(`{"type":"error","message":"internal marshal failure"}`)
	}
	return data
}

// sessionObserver forwards Orchestrator lifecycle events to the session's
// outbox as agent_event/progress frames. Fraction is left unset (the
// total step count can change mid-run via adapter insertions, so "done
// out of planned" would be misleading); progress frames exist mainly to
// name which node is currently active.
type sessionObserver struct {
	session *Session
}

func (o *sessionObserver) OnAgentStart(id capability.Identity, mode string) {
	o.session.send(agentEventFrame{
		Type: "agent_event", Agent: string(id), EventType: "started",
		Payload: map[string]any{"mode": mode},
	})
	o.session.send(progressFrame{Type: "progress", Node: string(id)})
}

func (o *sessionObserver) OnAgentComplete(execution orchestrator.AgentExecution) {
	o.session.send(agentEventFrame{
		Type: "agent_event", Agent: string(execution.Agent), EventType: string(execution.Status),
		Payload: map[string]any{"mode": execution.Mode, "duration_s": execution.Duration().Seconds()},
	})
}

func (o *sessionObserver) OnApprovalRequested(req orchestrator.ApprovalRequest) {
	// Surfaced via Session.forwardApprovals instead, which also records
	// the correlation ID approval_response relies on when the client
	// omits approval_id.
}

// planToSteps converts a planner.WorkflowPlan into the orchestrator's
// []PlanStep, folding Explain and Debugger into the Research agent's
// explain/analyze modes — capability.Registry only knows four top-level
// agents, and those two planner.AgentType values are exactly the same
// behaviors Research already exposes as named modes.
func planToSteps(plan *planner.WorkflowPlan, registry *capability.Registry) []orchestrator.PlanStep {
	if plan == nil {
		return nil
	}
	steps := make([]orchestrator.PlanStep, 0, len(plan.Agents))
	for _, step := range plan.Agents {
		id, mode := mapAgentType(step.Agent)
		if mode == "" {
			if capa, err := registry.GetCapability(id); err == nil {
				mode = capa.DefaultMode
			}
		}
		steps = append(steps, orchestrator.PlanStep{Agent: id, Mode: mode})
	}
	return steps
}

func mapAgentType(t planner.AgentType) (capability.Identity, string) {
	switch t {
	case planner.Explain:
		return capability.Research, "explain"
	case planner.Debugger:
		return capability.Research, "analyze"
	default:
		return capability.Identity(t), ""
	}
}
