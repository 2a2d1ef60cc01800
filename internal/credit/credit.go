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

// Package credit tracks USD spend per agent, session, hour, and day;
// enforces hard safety caps including a sticky emergency shutdown; and
// holds the process-wide single-instance lock for the code-generator LLM.
package credit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"autoagent/platform/shared/logger"
)

// ErrEmergencyShutdown is returned once the tracker has tripped its
// sticky emergency flag; it is never cleared within the process.
var ErrEmergencyShutdown = errors.New("credit tracker: emergency shutdown active")

// Limits are the safety caps enforced by Tracker. All amounts are USD.
type Limits struct {
	MaxCostPerSession  float64
	MaxCostPerHour     float64
	MaxCostPerDay      float64
	EmergencyShutdown  float64
	MaxLLMInstances    int // always 1; exposed for documentation, not configurable
	MaxCallsPerMinute  int
}

// DefaultLimits mirrors the source's conservative defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxCostPerSession: 5.0,
		MaxCostPerHour:    10.0,
		MaxCostPerDay:     50.0,
		EmergencyShutdown: 100.0,
		MaxLLMInstances:   1,
		MaxCallsPerMinute: 10,
	}
}

// AgentUsage accumulates per-agent counters.
type AgentUsage struct {
	AgentName  string
	APICalls   int
	TokensUsed int
	CostUSD    float64
	LastCall   time.Time
	Errors     int
}

// UsageInfo is returned from TrackAPICall: the current totals plus any
// threshold warnings produced by this call.
type UsageInfo struct {
	Agent        string
	API          string
	TokensIn     int
	TokensOut    int
	Cost         float64
	TotalCost    float64
	SessionCost  float64
	HourlyCost   float64
	Warnings     []string
	SessionLimit float64
	HourlyLimit  float64
	DailyLimit   float64
}

type hourlyEntry struct {
	at   time.Time
	cost float64
}

// Tracker is the process-wide credit tracking and safety system.
// Construct via New; the package keeps no global instance, so a process
// shares one Tracker by passing it to every component that needs it.
type Tracker struct {
	mu     sync.Mutex
	limits Limits
	log    *logger.Logger
	ledger Ledger

	usage        map[string]*AgentUsage
	sessionStart time.Time
	totalCost    float64
	hourly       []hourlyEntry
	dailyCost    float64

	emergencyShutdown bool
	shutdownReason    string

	llmSlot chan struct{} // capacity-1 semaphore; holds one token when free
	llmHeld bool
}

// New constructs a Tracker with the given limits and ledger, restoring
// today's daily total from the ledger if one was persisted earlier today.
func New(limits Limits, ledger Ledger, log *logger.Logger) *Tracker {
	slot := make(chan struct{}, 1)
	slot <- struct{}{}

	t := &Tracker{
		limits:       limits,
		log:          log,
		ledger:       ledger,
		usage:        make(map[string]*AgentUsage),
		sessionStart: time.Now(),
		llmSlot:      slot,
	}
	if snap, ok := ledger.Load(); ok && sameCalendarDay(snap.Timestamp, time.Now()) {
		t.dailyCost = snap.DailyCost
	}
	return t
}

func sameCalendarDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// pricing mirrors spec.md §4.2's fixed per-1K-token table, matched by
// case-insensitive substring against the provider key.
var pricing = map[string]struct{ inputPer1K, outputPer1K float64 }{
	"gpt-4o":        {0.005, 0.015},
	"claude-sonnet": {0.003, 0.015},
}

const perplexityPerCall = 0.005
const unknownProviderFlatFee = 0.01

func calculateCost(provider string, tokensIn, tokensOut int) float64 {
	lower := strings.ToLower(provider)
	switch {
	case strings.Contains(lower, "gpt-4"):
		p := pricing["gpt-4o"]
		return round4(float64(tokensIn)/1000*p.inputPer1K + float64(tokensOut)/1000*p.outputPer1K)
	case strings.Contains(lower, "claude"):
		p := pricing["claude-sonnet"]
		return round4(float64(tokensIn)/1000*p.inputPer1K + float64(tokensOut)/1000*p.outputPer1K)
	case strings.Contains(lower, "perplexity"):
		return perplexityPerCall
	default:
		return unknownProviderFlatFee
	}
}

func round4(v float64) float64 {
	return float64(int64(v*10000+0.5)) / 10000
}

// TrackAPICall records one API call's usage and checks every safety
// limit. If the emergency flag is already set, or this call trips it,
// ErrEmergencyShutdown is returned and no further calls succeed.
func (t *Tracker) TrackAPICall(agent, provider string, tokensIn, tokensOut int, errored bool) (UsageInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.emergencyShutdown {
		return UsageInfo{}, fmt.Errorf("%w: %s", ErrEmergencyShutdown, t.shutdownReason)
	}

	u, ok := t.usage[agent]
	if !ok {
		u = &AgentUsage{AgentName: agent}
		t.usage[agent] = u
	}
	u.APICalls++
	u.LastCall = time.Now()
	if errored {
		u.Errors++
	}

	cost := calculateCost(provider, tokensIn, tokensOut)
	u.TokensUsed += tokensIn + tokensOut
	u.CostUSD += cost
	t.totalCost += cost
	t.dailyCost += cost

	t.hourly = append(t.hourly, hourlyEntry{at: time.Now(), cost: cost})
	t.cleanupHourly()

	warnings, shutdownErr := t.checkLimitsLocked()

	info := UsageInfo{
		Agent: agent, API: provider, TokensIn: tokensIn, TokensOut: tokensOut,
		Cost: cost, TotalCost: t.totalCost,
		SessionCost: t.sessionCostLocked(), HourlyCost: t.hourlyCostLocked(),
		Warnings:     warnings,
		SessionLimit: t.limits.MaxCostPerSession,
		HourlyLimit:  t.limits.MaxCostPerHour,
		DailyLimit:   t.limits.MaxCostPerDay,
	}

	if len(warnings) > 0 && t.log != nil {
		t.log.Warn("", "", "credit warning", map[string]any{"warnings": warnings})
	}

	t.persistLocked()

	if shutdownErr != nil {
		return info, shutdownErr
	}
	return info, nil
}

func (t *Tracker) checkLimitsLocked() ([]string, error) {
	var warnings []string

	sessionCost := t.sessionCostLocked()
	if sessionCost > t.limits.MaxCostPerSession*0.8 {
		warnings = append(warnings, fmt.Sprintf("session cost $%.2f approaching limit $%.2f", sessionCost, t.limits.MaxCostPerSession))
	}
	if sessionCost > t.limits.MaxCostPerSession {
		return warnings, t.triggerShutdownLocked(fmt.Sprintf("session cost $%.2f exceeded limit $%.2f", sessionCost, t.limits.MaxCostPerSession))
	}

	hourlyCost := t.hourlyCostLocked()
	if hourlyCost > t.limits.MaxCostPerHour*0.8 {
		warnings = append(warnings, fmt.Sprintf("hourly cost $%.2f approaching limit $%.2f", hourlyCost, t.limits.MaxCostPerHour))
	}
	if hourlyCost > t.limits.MaxCostPerHour {
		return warnings, t.triggerShutdownLocked(fmt.Sprintf("hourly cost $%.2f exceeded limit $%.2f", hourlyCost, t.limits.MaxCostPerHour))
	}

	if t.dailyCost > t.limits.MaxCostPerDay*0.8 {
		warnings = append(warnings, fmt.Sprintf("daily cost $%.2f approaching limit $%.2f", t.dailyCost, t.limits.MaxCostPerDay))
	}
	if t.dailyCost > t.limits.MaxCostPerDay {
		return warnings, t.triggerShutdownLocked(fmt.Sprintf("daily cost $%.2f exceeded limit $%.2f", t.dailyCost, t.limits.MaxCostPerDay))
	}

	if t.totalCost > t.limits.EmergencyShutdown {
		return warnings, t.triggerShutdownLocked(fmt.Sprintf("EMERGENCY: total cost $%.2f exceeded emergency limit $%.2f", t.totalCost, t.limits.EmergencyShutdown))
	}

	return warnings, nil
}

func (t *Tracker) triggerShutdownLocked(reason string) error {
	t.emergencyShutdown = true
	t.shutdownReason = reason
	if t.log != nil {
		t.log.Error("", "", "emergency shutdown triggered", map[string]any{"reason": reason})
	}
	return fmt.Errorf("%w: %s", ErrEmergencyShutdown, reason)
}

func (t *Tracker) sessionCostLocked() float64 {
	var sum float64
	for _, u := range t.usage {
		sum += u.CostUSD
	}
	return sum
}

func (t *Tracker) hourlyCostLocked() float64 {
	cutoff := time.Now().Add(-time.Hour)
	var sum float64
	for _, e := range t.hourly {
		if e.at.After(cutoff) {
			sum += e.cost
		}
	}
	return sum
}

func (t *Tracker) cleanupHourly() {
	cutoff := time.Now().Add(-24 * time.Hour)
	kept := t.hourly[:0]
	for _, e := range t.hourly {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	t.hourly = kept
}

func (t *Tracker) persistLocked() {
	snap := Snapshot{
		Timestamp:   time.Now(),
		TotalCost:   t.totalCost,
		DailyCost:   t.dailyCost,
		SessionCost: t.sessionCostLocked(),
		Agents:      make(map[string]AgentSnapshot, len(t.usage)),
	}
	for name, u := range t.usage {
		snap.Agents[name] = AgentSnapshot{Calls: u.APICalls, Tokens: u.TokensUsed, Cost: u.CostUSD, Errors: u.Errors}
	}
	if err := t.ledger.Save(snap); err != nil && t.log != nil {
		t.log.Error("", "", "failed to save usage", map[string]any{"error": err.Error()})
	}
}

// AcquireLLMLock blocks up to timeout for the exclusive code-generator
// LLM lock. Only one holder can exist process-wide at any instant; a
// capacity-1 token channel (rather than sync.Mutex) lets a timed-out
// waiter walk away without leaving a goroutine blocked on the lock
// forever.
func (t *Tracker) AcquireLLMLock(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-t.llmSlot:
		t.llmHeld = true
		if t.log != nil {
			t.log.Info("", "", "LLM lock acquired", nil)
		}
		return true
	case <-ctx.Done():
		if t.log != nil {
			t.log.Error("", "", "LLM lock timeout", map[string]any{"timeout": timeout.String()})
		}
		return false
	}
}

// ReleaseLLMLock releases the LLM lock. Idempotent: releasing when not
// held is a no-op.
func (t *Tracker) ReleaseLLMLock() {
	if !t.llmHeld {
		return
	}
	t.llmHeld = false
	t.llmSlot <- struct{}{}
	if t.log != nil {
		t.log.Info("", "", "LLM lock released", nil)
	}
}

// UsageSummary is the snapshot shape suitable for status broadcasts.
type UsageSummary struct {
	TotalCost         float64
	SessionCost       float64
	HourlyCost        float64
	DailyCost         float64
	SessionLimit      float64
	HourlyLimit       float64
	DailyLimit        float64
	EmergencyLimit    float64
	Agents            map[string]AgentSnapshot
	LLMLocked         bool
	EmergencyShutdown bool
}

// GetUsageSummary returns the current totals for WebSocket status
// broadcasts.
func (t *Tracker) GetUsageSummary() UsageSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	agents := make(map[string]AgentSnapshot, len(t.usage))
	for name, u := range t.usage {
		agents[name] = AgentSnapshot{Calls: u.APICalls, Tokens: u.TokensUsed, Cost: u.CostUSD, Errors: u.Errors}
	}
	return UsageSummary{
		TotalCost: t.totalCost, SessionCost: t.sessionCostLocked(), HourlyCost: t.hourlyCostLocked(), DailyCost: t.dailyCost,
		SessionLimit: t.limits.MaxCostPerSession, HourlyLimit: t.limits.MaxCostPerHour, DailyLimit: t.limits.MaxCostPerDay,
		EmergencyLimit: t.limits.EmergencyShutdown, Agents: agents, LLMLocked: t.llmHeld, EmergencyShutdown: t.emergencyShutdown,
	}
}
