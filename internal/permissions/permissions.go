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

// Package permissions implements the Asimov-style, deny-by-default
// permission gate that every side-effecting agent action must pass.
package permissions

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"autoagent/platform/internal/capability"
)

// Permission is one of the fixed tags an agent action can require.
type Permission string

const (
	CanReadFiles       Permission = "can_read_files"
	CanWriteFiles      Permission = "can_write_files"
	CanDeleteFiles     Permission = "can_delete_files"
	CanExecuteCode     Permission = "can_execute_code"
	CanWebSearch       Permission = "can_web_search"
	CanInstallPackages Permission = "can_install_packages"
	CanModifySystem    Permission = "can_modify_system"
)

// DeniedError is returned by CheckAndEnforce when raiseOnDeny is set and
// the agent lacks the required permission.
type DeniedError struct {
	Agent      string
	Permission Permission
	Action     string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s lacks %s for action %q", e.Agent, e.Permission, e.Action)
}

// AuditEntry is one row of the bounded permission audit log.
type AuditEntry struct {
	Timestamp  time.Time
	Agent      string
	Permission Permission
	Action     string // "check", "grant", "revoke"
	Result     string // "granted", "denied", "success"
	Metadata   map[string]any
}

const auditLogCapacity = 10000

// Manager holds per-agent permission sets, a bounded audit log, and
// per-agent/per-permission usage counters. The zero value is not usable;
// construct with NewManager.
type Manager struct {
	mu          sync.RWMutex
	grants      map[string]map[Permission]struct{}
	auditLog    []AuditEntry
	usageStats  map[string]map[Permission]int
}

// NewManager builds a Manager pre-populated with the default per-agent
// grants.
func NewManager() *Manager {
	return &Manager{
		grants:     defaultGrants(),
		usageStats: make(map[string]map[Permission]int),
	}
}

func defaultGrants() map[string]map[Permission]struct{} {
	set := func(perms ...Permission) map[Permission]struct{} {
		m := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			m[p] = struct{}{}
		}
		return m
	}
	return map[string]map[Permission]struct{}{
		string(capability.Research):  set(CanWebSearch, CanReadFiles),
		string(capability.Architect): set(CanWriteFiles, CanReadFiles),
		string(capability.Codesmith): set(CanWriteFiles, CanReadFiles, CanExecuteCode),
		string(capability.ReviewFix): set(CanWriteFiles, CanReadFiles),
		"fixer":                      set(CanWriteFiles, CanReadFiles),
		"reviewer":                   set(CanReadFiles),
		"supervisor":                 set(CanReadFiles),
	}
}

// Check reports whether agent currently holds perm, logging the check.
func (m *Manager) Check(agent string, perm Permission) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, granted := m.grants[agent][perm]
	m.logAudit(agent, perm, "check", resultOf(granted), nil)
	return granted
}

func resultOf(granted bool) string {
	if granted {
		return "granted"
	}
	return "denied"
}

// Grant adds perm to agent's set. reason is mandatory justification;
// an empty reason is refused.
func (m *Manager) Grant(agent string, perm Permission, reason, grantedBy string) bool {
	if reason == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.grants[agent] == nil {
		m.grants[agent] = make(map[Permission]struct{})
	}
	m.grants[agent][perm] = struct{}{}

	m.logAudit(agent, perm, "grant", "success", map[string]any{
		"reason":     reason,
		"granted_by": grantedBy,
	})
	return true
}

// Revoke removes perm from agent's set. Returns false if the agent did
// not hold it.
func (m *Manager) Revoke(agent string, perm Permission, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.grants[agent][perm]; !ok {
		return false
	}
	delete(m.grants[agent], perm)

	m.logAudit(agent, perm, "revoke", "success", map[string]any{"reason": reason})
	return true
}

// CheckAndEnforce checks perm for agent, tracks usage on success, and
// either returns (false, message) or raises DeniedError when
// raiseOnDeny is set.
func (m *Manager) CheckAndEnforce(agent, action string, perm Permission, raiseOnDeny bool) (bool, string, error) {
	if m.Check(agent, perm) {
		m.trackUsage(agent, perm)
		return true, "Permission granted", nil
	}

	message := fmt.Sprintf("Agent %s lacks permission: %s", agent, perm)
	if raiseOnDeny {
		return false, message, &DeniedError{Agent: agent, Permission: perm, Action: action}
	}
	return false, message, nil
}

func (m *Manager) trackUsage(agent string, perm Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.usageStats[agent] == nil {
		m.usageStats[agent] = make(map[Permission]int)
	}
	m.usageStats[agent][perm]++
}

// GetAgentPermissions lists the permission strings currently granted to
// agent.
func (m *Manager) GetAgentPermissions(agent string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	perms := m.grants[agent]
	out := make([]string, 0, len(perms))
	for p := range perms {
		out = append(out, string(p))
	}
	return out
}

// AuditLog returns up to limit most recent entries, optionally filtered
// to one agent.
func (m *Manager) AuditLog(agent string, limit int) []AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []AuditEntry
	if agent == "" {
		filtered = m.auditLog
	} else {
		for _, e := range m.auditLog {
			if e.Agent == agent {
				filtered = append(filtered, e)
			}
		}
	}
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered
}

// Stats reports aggregate check/grant/denial counts, overall and broken
// down by agent and by permission.
type Stats struct {
	TotalChecks  int
	TotalGrants  int
	TotalDenials int
	ByAgent      map[string]Tally
	ByPermission map[Permission]Tally
}

// Tally is one row of a Stats breakdown.
type Tally struct {
	Checks  int
	Grants  int
	Denials int
}

// Stats computes usage statistics from the audit log.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		ByAgent:      make(map[string]Tally),
		ByPermission: make(map[Permission]Tally),
	}
	for _, e := range m.auditLog {
		agentTally := s.ByAgent[e.Agent]
		permTally := s.ByPermission[e.Permission]

		switch e.Action {
		case "check":
			s.TotalChecks++
			agentTally.Checks++
			permTally.Checks++
			if e.Result == "denied" {
				s.TotalDenials++
				agentTally.Denials++
				permTally.Denials++
			}
		case "grant":
			s.TotalGrants++
			agentTally.Grants++
			permTally.Grants++
		}

		s.ByAgent[e.Agent] = agentTally
		s.ByPermission[e.Permission] = permTally
	}
	return s
}

// logAudit appends to the bounded ring buffer. Caller must hold m.mu.
func (m *Manager) logAudit(agent string, perm Permission, action, result string, metadata map[string]any) {
	m.auditLog = append(m.auditLog, AuditEntry{
		Timestamp:  time.Now(),
		Agent:      agent,
		Permission: perm,
		Action:     action,
		Result:     result,
		Metadata:   metadata,
	})
	if len(m.auditLog) > auditLogCapacity {
		m.auditLog = m.auditLog[len(m.auditLog)-auditLogCapacity:]
	}
}

// ValidateScopedPermission validates the teacher's
// "resource:connector:operation" grammar, reused for the optional
// connector-scoped grant extension (see DESIGN.md C3).
func ValidateScopedPermission(perm string) error {
	if perm == "" {
		return fmt.Errorf("permission cannot be empty")
	}
	if perm == "*" || perm == "mcp:*" {
		return nil
	}
	if strings.Count(perm, ":") < 2 {
		return fmt.Errorf("invalid scoped permission %q: expected \"mcp:connector:operation\"", perm)
	}
	if strings.HasPrefix(perm, ":") || strings.HasSuffix(perm, ":") {
		return fmt.Errorf("invalid scoped permission %q: cannot start or end with colon", perm)
	}
	if strings.Contains(perm, "::") {
		return fmt.Errorf("invalid scoped permission %q: consecutive colons", perm)
	}
	return nil
}
