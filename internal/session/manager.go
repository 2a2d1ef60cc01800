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
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"autoagent/platform/internal/capability"
	"autoagent/platform/internal/credit"
	"autoagent/platform/internal/permissions"
	"autoagent/platform/shared/logger"
)

const (
	readLimitBytes = 1 << 20
	pongWait       = 60 * time.Second
	pingInterval   = 54 * time.Second
	writeWait      = 10 * time.Second
)

// Manager accepts WebSocket connections and attaches each one to a
// freshly constructed Session, mirroring the register/unregister
// bookkeeping the teacher's ConnectionManager uses, generalized from one
// chat room to one-session-per-socket.
type Manager struct {
	upgrader   websocket.Upgrader
	registry   *capability.Registry
	mcpFactory MCPClientFactory
	executors  ExecutorFactory
	maxBudget  float64
	log        *logger.Logger

	permissions *permissions.Manager
	credit      *credit.Tracker

	mu       sync.RWMutex
	sessions map[string]*Session
}

// SetPermissions attaches the process-wide Permissions Manager every
// session this Manager accepts from now on will share (spec.md §5).
func (m *Manager) SetPermissions(p *permissions.Manager) {
	m.mu.Lock()
	m.permissions = p
	m.mu.Unlock()
}

// SetCredit attaches the process-wide Credit Tracker every session this
// Manager accepts from now on will share (spec.md §5).
func (m *Manager) SetCredit(c *credit.Tracker) {
	m.mu.Lock()
	m.credit = c
	m.mu.Unlock()
}

// NewManager constructs a Manager. executors and registry may be nil
// (registry defaults; executors defaults to "no agents bound", which
// fails every step with a clear error rather than panicking).
func NewManager(registry *capability.Registry, mcpFactory MCPClientFactory, executors ExecutorFactory, maxBudget float64, log *logger.Logger) *Manager {
	return &Manager{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		registry:   registry,
		mcpFactory: mcpFactory,
		executors:  executors,
		maxBudget:  maxBudget,
		log:        log,
		sessions:   make(map[string]*Session),
	}
}

// SessionCount returns the number of currently attached sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ServeHTTP upgrades the request to a WebSocket and drives its Session
// until the connection closes.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if m.log != nil {
			m.log.Error("", "", "websocket upgrade failed", map[string]any{"error": err.Error()})
		}
		return
	}
	m.Serve(conn)
}

// Serve drives one already-upgraded connection's Session to completion.
// Exposed separately from ServeHTTP so tests can use httptest's dialer
// without a real HTTP round trip duplicated here.
func (m *Manager) Serve(conn *websocket.Conn) {
	id := uuid.NewString()
	sess := New(id, m.registry, m.mcpFactory, m.executors, m.maxBudget, m.log)
	m.mu.RLock()
	sess.SetPermissions(m.permissions)
	sess.SetCredit(m.credit)
	m.mu.RUnlock()

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	defer func() {
		sess.Close()
		m.mu.Lock()
		delete(m.sessions, id)
		m.mu.Unlock()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		writePump(conn, sess.Outbox(), done)
	}()

	conn.WriteMessage(websocket.TextMessage, sess.Welcome())

	readPump(ctx, conn, sess, m.log)
	cancel()
	conn.Close()
	close(done)
	wg.Wait()
}

// readPump reads frames off conn until it errors or ctx is cancelled,
// dispatching each to the session.
func readPump(ctx context.Context, conn *websocket.Conn, sess *Session, log *logger.Logger) {
	conn.SetReadLimit(readLimitBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) && log != nil {
				log.Warn("", "", "websocket read error", map[string]any{"error": err.Error()})
			}
			return
		}
		sess.HandleFrame(ctx, data)
	}
}

// writePump drains outbox onto conn, interleaving periodic pings, until
// done is closed or a write fails.
func writePump(conn *websocket.Conn, outbox <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case data := <-outbox:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
