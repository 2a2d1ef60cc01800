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
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// AgentSnapshot is one agent's row within a persisted Snapshot.
type AgentSnapshot struct {
	Calls  int     `json:"calls"`
	Tokens int     `json:"tokens"`
	Cost   float64 `json:"cost"`
	Errors int     `json:"errors"`
}

// Snapshot is the on-disk/on-row shape written on every TrackAPICall,
// per spec.md §6.3.
type Snapshot struct {
	Timestamp   time.Time                `json:"timestamp"`
	TotalCost   float64                  `json:"total_cost"`
	DailyCost   float64                  `json:"daily_cost"`
	SessionCost float64                  `json:"session_cost"`
	Agents      map[string]AgentSnapshot `json:"agents"`
}

// Ledger persists Tracker's usage snapshots. Save is called on every
// TrackAPICall (matching the source's "rewrite the whole file" idiom);
// Load is consulted once at startup to restore today's daily total.
type Ledger interface {
	Save(Snapshot) error
	Load() (Snapshot, bool)
}

// FileLedger is the spec-mandated default: a JSON file under the user's
// home directory, rewritten on every call. Grounded on
// credit_tracker.py's _save_usage/_load_usage.
type FileLedger struct {
	path string
}

// NewFileLedger returns a Ledger backed by path (e.g.
// "~/.autoagent/usage/credit_usage.json", already expanded).
func NewFileLedger(path string) *FileLedger {
	return &FileLedger{path: path}
}

// DefaultUsagePath returns the conventional per-user usage file path.
func DefaultUsagePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".autoagent", "usage", "credit_usage.json")
}

func (f *FileLedger) Save(snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("credit ledger: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("credit ledger: marshal: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("credit ledger: write: %w", err)
	}
	return nil
}

func (f *FileLedger) Load() (Snapshot, bool) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

// PostgresLedger persists snapshots to a Postgres table, selected via
// AUTOAGENT_CREDIT_BACKEND=postgres. Grounded on
// orchestrator/cost/postgres_repository.go's table-upsert idiom; it
// gives github.com/lib/pq a concrete home without changing the
// spec-mandated default (FileLedger).
type PostgresLedger struct {
	db *sql.DB
}

// NewPostgresLedger wraps an already-open *sql.DB (opened with the
// "postgres" driver registered by github.com/lib/pq).
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

const postgresLedgerDDL = `
CREATE TABLE IF NOT EXISTS credit_usage_snapshots (
	id SERIAL PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL,
	total_cost DOUBLE PRECISION NOT NULL,
	daily_cost DOUBLE PRECISION NOT NULL,
	session_cost DOUBLE PRECISION NOT NULL,
	agents JSONB NOT NULL
)`

// EnsureSchema creates the snapshot table if it does not already exist.
func (p *PostgresLedger) EnsureSchema() error {
	_, err := p.db.Exec(postgresLedgerDDL)
	return err
}

func (p *PostgresLedger) Save(snap Snapshot) error {
	agentsJSON, err := json.Marshal(snap.Agents)
	if err != nil {
		return fmt.Errorf("credit ledger: marshal agents: %w", err)
	}
	_, err = p.db.Exec(
		`INSERT INTO credit_usage_snapshots (recorded_at, total_cost, daily_cost, session_cost, agents)
		 VALUES ($1, $2, $3, $4, $5)`,
		snap.Timestamp, snap.TotalCost, snap.DailyCost, snap.SessionCost, agentsJSON,
	)
	if err != nil {
		return fmt.Errorf("credit ledger: insert: %w", err)
	}
	return nil
}

func (p *PostgresLedger) Load() (Snapshot, bool) {
	row := p.db.QueryRow(
		`SELECT recorded_at, total_cost, daily_cost, session_cost, agents
		 FROM credit_usage_snapshots ORDER BY id DESC LIMIT 1`,
	)
	var snap Snapshot
	var agentsJSON []byte
	if err := row.Scan(&snap.Timestamp, &snap.TotalCost, &snap.DailyCost, &snap.SessionCost, &agentsJSON); err != nil {
		return Snapshot{}, false
	}
	if err := json.Unmarshal(agentsJSON, &snap.Agents); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}
