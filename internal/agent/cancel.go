// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"sync"
	"sync/atomic"
)

// Canceller is the interrupt flag for the current user turn. Cancel is safe
// to call from any goroutine, including a signal handler.
type Canceller struct {
	flag atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewCanceller returns an unarmed, uncancelled Canceller.
func NewCanceller() *Canceller {
	return &Canceller{}
}

// Arm resets the flag and derives the context for the next turn. Cancel
// also cancels that context, which interrupts a pending model request.
func (c *Canceller) Arm(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	c.flag.Store(false)
	return ctx, func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		cancel()
	}
}

// Cancel sets the flag and cancels the armed context, if any.
func (c *Canceller) Cancel() {
	c.flag.Store(true)
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Cancelled reports whether Cancel was called since the last Reset or Arm.
func (c *Canceller) Cancelled() bool {
	return c.flag.Load()
}

// Reset clears the flag.
func (c *Canceller) Reset() {
	c.flag.Store(false)
}
