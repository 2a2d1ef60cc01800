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

package credit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memLedger is an in-memory Ledger double for tests that don't care
// about the filesystem/Postgres backends themselves.
type memLedger struct {
	snap Snapshot
	has  bool
}

func (m *memLedger) Save(s Snapshot) error {
	m.snap = s
	m.has = true
	return nil
}

func (m *memLedger) Load() (Snapshot, bool) {
	return m.snap, m.has
}

func TestCalculateCost_PerProvider(t *testing.T) {
	assert.Equal(t, round4(1000.0/1000*0.005+500.0/1000*0.015), calculateCost("gpt-4o", 1000, 500))
	assert.Equal(t, round4(1000.0/1000*0.003+500.0/1000*0.015), calculateCost("claude-sonnet-4", 1000, 500))
	assert.Equal(t, perplexityPerCall, calculateCost("perplexity", 100, 100))
	assert.Equal(t, unknownProviderFlatFee, calculateCost("some-other-model", 100, 100))
}

func TestTrackAPICall_AccumulatesPerAgentAndTotal(t *testing.T) {
	tr := New(DefaultLimits(), &memLedger{}, nil)

	info, err := tr.TrackAPICall("research", "perplexity", 10, 10, false)
	require.NoError(t, err)
	assert.Equal(t, perplexityPerCall, info.Cost)
	assert.Equal(t, perplexityPerCall, info.TotalCost)

	info, err = tr.TrackAPICall("research", "perplexity", 10, 10, false)
	require.NoError(t, err)
	assert.InDelta(t, perplexityPerCall*2, info.TotalCost, 1e-9)
}

func TestTrackAPICall_SessionLimitTripsShutdown(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxCostPerSession = 0.01
	tr := New(limits, &memLedger{}, nil)

	_, err := tr.TrackAPICall("codesmith", "claude-sonnet-4", 10000, 10000, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmergencyShutdown))

	// Shutdown is sticky: a subsequent call fails immediately, without
	// recomputing cost.
	_, err = tr.TrackAPICall("codesmith", "claude-sonnet-4", 1, 1, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmergencyShutdown))
}

func TestTrackAPICall_WarnsApproachingLimitBeforeTripping(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxCostPerSession = 1.0
	tr := New(limits, &memLedger{}, nil)

	// claude-sonnet-4 costs 0.003+0.015 per 1k tokens; pick a call that
	// lands above 80% of the session cap but below 100%.
	info, err := tr.TrackAPICall("codesmith", "claude-sonnet-4", 40000, 48000, false)
	require.NoError(t, err)
	assert.NotEmpty(t, info.Warnings)
}

func TestAcquireReleaseLLMLock_RoundTrip(t *testing.T) {
	tr := New(DefaultLimits(), &memLedger{}, nil)
	ctx := context.Background()

	require.True(t, tr.AcquireLLMLock(ctx, time.Second))
	tr.ReleaseLLMLock()
	require.True(t, tr.AcquireLLMLock(ctx, time.Second))
	tr.ReleaseLLMLock()
}

func TestAcquireLLMLock_SecondAcquirerBlocksUntilRelease(t *testing.T) {
	tr := New(DefaultLimits(), &memLedger{}, nil)
	ctx := context.Background()

	require.True(t, tr.AcquireLLMLock(ctx, time.Second))

	ok := tr.AcquireLLMLock(ctx, 50*time.Millisecond)
	assert.False(t, ok, "lock is already held, second acquire should time out")

	tr.ReleaseLLMLock()
	assert.True(t, tr.AcquireLLMLock(ctx, time.Second), "lock should be free again after release")
}

func TestAcquireLLMLock_TimeoutDoesNotWedgeFutureAcquires(t *testing.T) {
	tr := New(DefaultLimits(), &memLedger{}, nil)
	ctx := context.Background()

	require.True(t, tr.AcquireLLMLock(ctx, time.Second))

	// A waiter that times out must not leave any goroutine holding the
	// slot hostage once the real holder releases it.
	assert.False(t, tr.AcquireLLMLock(ctx, 20*time.Millisecond))
	tr.ReleaseLLMLock()

	assert.True(t, tr.AcquireLLMLock(ctx, time.Second))
}

func TestNew_RestoresDailyCostOnlyWhenSameCalendarDay(t *testing.T) {
	today := &memLedger{snap: Snapshot{Timestamp: time.Now(), DailyCost: 12.5}, has: true}
	tr := New(DefaultLimits(), today, nil)
	assert.Equal(t, 12.5, tr.GetUsageSummary().DailyCost)

	yesterday := &memLedger{snap: Snapshot{Timestamp: time.Now().AddDate(0, 0, -1), DailyCost: 12.5}, has: true}
	tr2 := New(DefaultLimits(), yesterday, nil)
	assert.Equal(t, 0.0, tr2.GetUsageSummary().DailyCost)
}

func TestFileLedger_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage", "credit_usage.json")
	fl := NewFileLedger(path)

	want := Snapshot{
		Timestamp:   time.Now(),
		TotalCost:   3.5,
		DailyCost:   3.5,
		SessionCost: 3.5,
		Agents: map[string]AgentSnapshot{
			"research": {Calls: 2, Tokens: 400, Cost: 1.2, Errors: 0},
		},
	}
	require.NoError(t, fl.Save(want))

	got, ok := fl.Load()
	require.True(t, ok)
	assert.Equal(t, want.TotalCost, got.TotalCost)
	assert.Equal(t, want.Agents["research"], got.Agents["research"])
}

func TestFileLedger_LoadMissingFileReturnsFalse(t *testing.T) {
	fl := NewFileLedger(filepath.Join(t.TempDir(), "does-not-exist.json"))
	_, ok := fl.Load()
	assert.False(t, ok)
}

func TestGetUsageSummary_ReflectsLockState(t *testing.T) {
	tr := New(DefaultLimits(), &memLedger{}, nil)
	assert.False(t, tr.GetUsageSummary().LLMLocked)

	require.True(t, tr.AcquireLLMLock(context.Background(), time.Second))
	assert.True(t, tr.GetUsageSummary().LLMLocked)

	tr.ReleaseLLMLock()
	assert.False(t, tr.GetUsageSummary().LLMLocked)
}
