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

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"autoagent/platform/shared/logger"
)

// ErrNotInitialized is returned by Call/CallMultiple before Initialize
// has completed successfully.
var ErrNotInitialized = errors.New("mcp: client not initialized")

const (
	defaultGlobalTimeout = 30 * time.Second
	perLineSubTimeout    = 15 * time.Second
	initTimeout          = 5 * time.Second
	terminateGrace       = 5 * time.Second
)

// ServerSpec is how to launch one server subprocess.
type ServerSpec struct {
	Command string
	Args    []string
}

// Client is the single point of contact for all MCP tool calls: one
// persistent subprocess per server, fanned out in parallel by
// CallMultiple, with auto-reconnect-and-retry-once on connection loss.
type Client struct {
	workspacePath string
	specs         map[string]ServerSpec
	servers       []string
	autoReconnect bool
	timeout       time.Duration
	log           *logger.Logger

	mu          sync.RWMutex
	conns       map[string]*serverConn
	initialized bool

	nextID atomic.Int64
}

// New constructs a Client for workspacePath. specs maps server name to
// how it's launched; servers (defaulting to DefaultServers) selects
// which of those to actually connect to.
func New(workspacePath string, specs map[string]ServerSpec, servers []string, log *logger.Logger) *Client {
	if servers == nil {
		servers = DefaultServers
	}
	return &Client{
		workspacePath: workspacePath,
		specs:         specs,
		servers:       servers,
		autoReconnect: true,
		timeout:       defaultGlobalTimeout,
		log:           log,
		conns:         make(map[string]*serverConn),
	}
}

// SetAutoReconnect toggles the reconnect-and-retry-once behavior of Call.
func (c *Client) SetAutoReconnect(enabled bool) { c.autoReconnect = enabled }

// SetDefaultTimeout overrides the global per-call timeout used when Call
// isn't given an explicit one.
func (c *Client) SetDefaultTimeout(d time.Duration) { c.timeout = d }

func (c *Client) nextRequestID() int64 { return c.nextID.Add(1) }

// Initialize starts every configured server subprocess in parallel,
// sends "initialize" then "tools/list" to each, and caches the
// resulting tool roster. All servers must come up for Initialize to
// succeed; a single failure tears down every subprocess already
// started and returns an error naming each failure.
func (c *Client) Initialize(ctx context.Context) error {
	if c.log != nil {
		c.log.Info("", "", "initializing MCP connections", map[string]any{"servers": c.servers})
	}

	type outcome struct {
		server string
		err    error
	}
	results := make(chan outcome, len(c.servers))
	var wg sync.WaitGroup
	for _, name := range c.servers {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			err := c.connectServer(ctx, name)
			results <- outcome{server: name, err: err}
		}(name)
	}
	wg.Wait()
	close(results)

	var failures []string
	for r := range results {
		if r.err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", r.server, r.err))
			if c.log != nil {
				c.log.Error("", "", "MCP server connect failed", map[string]any{"server": r.server, "error": r.err.Error()})
			}
		}
	}

	if len(failures) > 0 {
		c.closeAll(false)
		return fmt.Errorf("mcp: failed to connect to servers: %v", failures)
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()
	if c.log != nil {
		c.log.Info("", "", "all MCP servers connected", map[string]any{"count": len(c.servers)})
	}
	return nil
}

func (c *Client) connectServer(ctx context.Context, name string) error {
	spec, ok := c.specs[name]
	if !ok {
		return &ConnectionError{Server: name, Err: fmt.Errorf("no launch spec registered")}
	}

	sc, err := dialServer(name, spec.Command, spec.Args, c.workspacePath)
	if err != nil {
		return &ConnectionError{Server: name, Err: err}
	}

	if err := c.handshake(ctx, sc); err != nil {
		sc.terminate(terminateGrace)
		return err
	}

	c.mu.Lock()
	c.conns[name] = sc
	c.mu.Unlock()
	return nil
}

func (c *Client) handshake(ctx context.Context, sc *serverConn) error {
	initID := c.nextRequestID()
	if err := sc.send(rpcRequest{JSONRPC: "2.0", ID: initID, Method: "initialize", Params: struct{}{}}); err != nil {
		return &ConnectionError{Server: sc.name, Err: err}
	}
	msg, err := readMatching(ctx, sc, initID, initTimeout)
	if err != nil {
		return &ConnectionError{Server: sc.name, Err: fmt.Errorf("initialize: %w", err)}
	}
	if msg.Error != nil {
		return &ConnectionError{Server: sc.name, Err: fmt.Errorf("initialize failed: %s", msg.Error.Message)}
	}

	listID := c.nextRequestID()
	if err := sc.send(rpcRequest{JSONRPC: "2.0", ID: listID, Method: "tools/list", Params: struct{}{}}); err != nil {
		return &ConnectionError{Server: sc.name, Err: err}
	}
	msg, err = readMatching(ctx, sc, listID, initTimeout)
	if err != nil {
		return &ConnectionError{Server: sc.name, Err: fmt.Errorf("tools/list: %w", err)}
	}
	if msg.Error != nil {
		return &ConnectionError{Server: sc.name, Err: fmt.Errorf("tools/list failed: %s", msg.Error.Message)}
	}

	var parsed toolListResult
	var tools []string
	if len(msg.Result) > 0 && json.Unmarshal(msg.Result, &parsed) == nil {
		for _, tl := range parsed.Tools {
			tools = append(tools, tl.Name)
		}
	}
	sc.setTools(tools)
	return nil
}

// readMatching blocks until a response whose ID equals wantID arrives,
// the per-call timeout elapses, or ctx is cancelled. Notifications and
// stray responses are skipped without logging.
func readMatching(ctx context.Context, sc *serverConn, wantID int64, timeout time.Duration) (rpcMessage, error) {
	deadline := time.After(timeout)
	for {
		select {
		case msg, ok := <-sc.inbox:
			if !ok {
				return rpcMessage{}, fmt.Errorf("server closed stdout (process died)")
			}
			if msg.ID != nil && *msg.ID == wantID {
				return msg, nil
			}
			// notification or stray response for a different call; ignore
		case <-deadline:
			return rpcMessage{}, fmt.Errorf("timed out after %s waiting for response", timeout)
		case <-ctx.Done():
			return rpcMessage{}, ctx.Err()
		}
	}
}

// Call invokes one tool on one server. timeout of zero uses the
// client's default. If the underlying connection has died and
// auto-reconnect is enabled, Call reconnects and retries exactly once.
func (c *Client) Call(ctx context.Context, server, tool string, arguments map[string]any, timeout time.Duration) (map[string]any, error) {
	c.mu.RLock()
	initialized := c.initialized
	sc := c.conns[server]
	c.mu.RUnlock()

	if !initialized {
		return nil, ErrNotInitialized
	}
	if sc == nil {
		return nil, &ConnectionError{Server: server, Err: fmt.Errorf("not connected")}
	}

	if timeout == 0 {
		timeout = c.timeout
	}
	if arguments == nil {
		arguments = make(map[string]any)
	}
	if serversNeedingWorkspace[server] {
		if _, ok := arguments["workspace_path"]; !ok {
			arguments["workspace_path"] = c.workspacePath
		}
	}

	result, err := c.rawCall(ctx, sc, tool, arguments, timeout)
	if err == nil {
		return result, nil
	}

	var connErr *ConnectionError
	if c.autoReconnect && errors.As(err, &connErr) {
		if c.log != nil {
			c.log.Warn("", "", "connection lost, attempting reconnect", map[string]any{"server": server})
		}
		if reErr := c.connectServer(ctx, server); reErr != nil {
			if c.log != nil {
				c.log.Error("", "", "reconnect failed", map[string]any{"server": server, "error": reErr.Error()})
			}
			return nil, err
		}
		c.mu.RLock()
		sc = c.conns[server]
		c.mu.RUnlock()
		if c.log != nil {
			c.log.Info("", "", "reconnected, retrying call", map[string]any{"server": server})
		}
		return c.rawCall(ctx, sc, tool, arguments, timeout)
	}
	return nil, err
}

func (c *Client) rawCall(ctx context.Context, sc *serverConn, tool string, arguments map[string]any, timeout time.Duration) (map[string]any, error) {
	if !sc.isAlive() {
		return nil, &ConnectionError{Server: sc.name, Err: fmt.Errorf("process has died")}
	}

	sc.callMu.Lock()
	defer sc.callMu.Unlock()

	id := c.nextRequestID()
	params := map[string]any{"name": tool, "arguments": arguments}
	if err := sc.send(rpcRequest{JSONRPC: "2.0", ID: id, Method: "tools/call", Params: params}); err != nil {
		return nil, &ConnectionError{Server: sc.name, Err: err}
	}

	start := time.Now()
	for {
		remaining := timeout - time.Since(start)
		if remaining <= 0 {
			return nil, &ConnectionError{Server: sc.name, Err: fmt.Errorf("timed out after %s (global timeout)", timeout)}
		}
		subTimeout := perLineSubTimeout
		if remaining < subTimeout {
			subTimeout = remaining
		}

		select {
		case msg, ok := <-sc.inbox:
			if !ok {
				return nil, &ConnectionError{Server: sc.name, Err: fmt.Errorf("server closed stdout (process died)")}
			}
			if msg.ID != nil && *msg.ID == id {
				sc.touch()
				if msg.Error != nil {
					return nil, &ToolError{Server: sc.name, Tool: tool, Code: msg.Error.Code, Message: msg.Error.Message}
				}
				var result map[string]any
				if len(msg.Result) > 0 {
					if err := json.Unmarshal(msg.Result, &result); err != nil {
						return nil, fmt.Errorf("mcp: invalid result from %s.%s: %w", sc.name, tool, err)
					}
				}
				return result, nil
			}
			if msg.Method == "$/progress" {
				if c.log != nil {
					c.log.Debug("", "", "mcp progress", map[string]any{"server": sc.name})
				}
			}
			// notification or stray response; keep reading

		case <-time.After(subTimeout):
			if time.Since(start) > timeout {
				return nil, &ConnectionError{Server: sc.name, Err: fmt.Errorf("timed out after %s (global timeout)", timeout)}
			}
			return nil, &ConnectionError{Server: sc.name, Err: fmt.Errorf("no output for %s, server may be stuck", perLineSubTimeout)}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// CallMultiple runs every call concurrently and returns results in the
// same order as calls. A failed call yields a nil result and non-nil
// error at its index; it never aborts the other calls.
func (c *Client) CallMultiple(ctx context.Context, calls []Call) ([]map[string]any, []error) {
	if c.log != nil {
		c.log.Info("", "", "executing MCP calls in parallel", map[string]any{"count": len(calls)})
	}

	results := make([]map[string]any, len(calls))
	errs := make([]error, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			res, err := c.Call(ctx, call.Server, call.Tool, call.Arguments, 0)
			results[i] = res
			errs[i] = err
		}(i, call)
	}
	wg.Wait()

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			if c.log != nil {
				c.log.Error("", "", "mcp call failed", map[string]any{"server": calls[i].Server, "tool": calls[i].Tool, "error": err.Error()})
			}
		}
	}
	if c.log != nil {
		if failed > 0 {
			c.log.Warn("", "", "some MCP calls failed", map[string]any{"failed": failed, "total": len(calls)})
		} else {
			c.log.Info("", "", "all MCP calls completed", map[string]any{"total": len(calls)})
		}
	}
	return results, errs
}

// Close terminates every server subprocess and clears connection state.
func (c *Client) Close() {
	if c.log != nil {
		c.log.Info("", "", "closing MCP connections", nil)
	}
	c.closeAll(true)
	if c.log != nil {
		c.log.Info("", "", "MCP connections closed", nil)
	}
}

// Cleanup is an alias for Close, kept for call-site readability at
// workflow teardown.
func (c *Client) Cleanup() { c.Close() }

func (c *Client) closeAll(clearInitFlag bool) {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]*serverConn)
	if clearInitFlag {
		c.initialized = false
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, sc := range conns {
		wg.Add(1)
		go func(sc *serverConn) {
			defer wg.Done()
			sc.terminate(terminateGrace)
		}(sc)
	}
	wg.Wait()
}

// GetServerStatus reports the connection status and tool roster for
// every connected server.
func (c *Client) GetServerStatus() map[string]ServerStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]ServerStatus, len(c.conns))
	for name, sc := range c.conns {
		out[name] = sc.status()
	}
	return out
}
