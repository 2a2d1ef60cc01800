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
	"sync"
	"time"

	"github.com/google/uuid"

	"autoagent/platform/internal/capability"
)

// ApprovalRequest describes one agent action awaiting human sign-off.
type ApprovalRequest struct {
	ID          uuid.UUID
	Agent       capability.Identity
	Mode        string
	Description string
	RiskLevel   capability.RiskLevel
}

// Approver decides whether an ApprovalRequest is granted. Implementations
// must return promptly once ctx is done.
type Approver interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) (bool, error)
}

// AutoApprover grants every request after a short, fixed delay. It's the
// orchestrator's default when no session is attached to relay approvals
// to a human, matching the source's "No approval mechanism, auto-approving"
// fallback — except here the delay always applies, rather than only
// when a callback is literally absent, since there is no disconnected/
// connected distinction at this layer.
type AutoApprover struct {
	Delay time.Duration
}

// NewAutoApprover returns an AutoApprover with the default 100ms delay.
func NewAutoApprover() *AutoApprover {
	return &AutoApprover{Delay: 100 * time.Millisecond}
}

func (a *AutoApprover) RequestApproval(ctx context.Context, _ ApprovalRequest) (bool, error) {
	select {
	case <-time.After(a.Delay):
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// ChannelApprover relays approval requests to an external responder (the
// session layer, forwarding to a connected client) and blocks for its
// answer, denying on timeout. Requests/responses are correlated by
// ApprovalRequest.ID.
type ChannelApprover struct {
	Outbox  chan<- ApprovalRequest
	Timeout time.Duration

	mu      sync.Mutex
	waiters map[uuid.UUID]chan bool
}

// NewChannelApprover returns a ChannelApprover that posts requests to
// outbox and waits up to timeout (120s if zero) for Resolve to be called.
func NewChannelApprover(outbox chan<- ApprovalRequest, timeout time.Duration) *ChannelApprover {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ChannelApprover{
		Outbox:  outbox,
		Timeout: timeout,
		waiters: make(map[uuid.UUID]chan bool),
	}
}

func (c *ChannelApprover) RequestApproval(ctx context.Context, req ApprovalRequest) (bool, error) {
	wait := make(chan bool, 1)

	c.mu.Lock()
	c.waiters[req.ID] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, req.ID)
		c.mu.Unlock()
	}()

	select {
	case c.Outbox <- req:
	case <-ctx.Done():
		return false, ctx.Err()
	}

	select {
	case approved := <-wait:
		return approved, nil
	case <-time.After(c.Timeout):
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Resolve delivers a human's answer for a pending request. It is a no-op
// if the request is unknown (already timed out, or never issued by this
// approver).
func (c *ChannelApprover) Resolve(id uuid.UUID, approved bool) {
	c.mu.Lock()
	wait, ok := c.waiters[id]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case wait <- approved:
	default:
	}
}
