// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jeranaias/aicli/internal/tools"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Client sends the history to the model and returns its reply.
type Client interface {
	Send(ctx context.Context, history []Message, defs []tools.Definition) (Message, error)
}

// ToolDispatcher runs tool calls.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, call tools.ToolCall) tools.ToolResult
	Definitions() []tools.Definition
}

// retryable is implemented by transport errors that may succeed on retry.
type retryable interface {
	Retryable() bool
}

// Observer receives progress events. Methods are called on the
// orchestrator's goroutine and must return promptly.
type Observer interface {
	OnModelRequest(turn int)
	OnAssistant(msg Message)
	OnToolStart(call tools.ToolCall)
	OnToolResult(call tools.ToolCall, res tools.ToolResult)
	OnRetry(attempt int, delay time.Duration, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnModelRequest(int) {}
func (NopObserver) OnAssistant(Message) {}
func (NopObserver) OnToolStart(tools.ToolCall) {}
func (NopObserver) OnToolResult(tools.ToolCall, tools.ToolResult) {}
func (NopObserver) OnRetry(int, time.Duration, error) {}

// =============================================================================
// OUTCOMES
// =============================================================================

// Outcome is the result of RunTurn or Run: FinalAnswer, Continuing or Failed.
type Outcome interface {
	outcome()
}

// FinalAnswer is a model reply without tool calls.
type FinalAnswer struct {
	Text string
}

// Continuing means tool results were appended and the model must be asked
// again.
type Continuing struct{}

// FailureReason classifies a Failed outcome.
type FailureReason string

const (
	ReasonTurnLimit FailureReason = "turn_limit_exceeded"
	ReasonTransport FailureReason = "transport"
	ReasonCancelled FailureReason = "cancelled"
	ReasonModel     FailureReason = "model"
)

// Failed ends a Run without an answer.
type Failed struct {
	Reason FailureReason
	Err    error
}

func (FinalAnswer) outcome() {}
func (Continuing) outcome() {}
func (Failed) outcome() {}

// Error describes the failure.
func (f Failed) Error() string {
	if f.Err == nil {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

// Unwrap returns the underlying error.
func (f Failed) Unwrap() error {
	return f.Err
}

// ErrRetriesExhausted wraps the last transport error once every retry failed.
var ErrRetriesExhausted = errors.New("retries exhausted")

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	// DefaultMaxTurns caps model round-trips per user message.
	DefaultMaxTurns = 25

	// DefaultMaxRetries is the number of retries after a transport error.
	DefaultMaxRetries = 3

	// DefaultBackoff is the delay before the first retry. It doubles per
	// attempt up to DefaultMaxBackoff.
	DefaultBackoff    = 500 * time.Millisecond
	DefaultMaxBackoff = 10 * time.Second
)

// Config bounds the loop.
type Config struct {
	MaxTurns   int
	MaxRetries int
	Backoff    time.Duration
	MaxBackoff time.Duration

	// RequestsPerSecond paces model requests, retries included. Zero means
	// unlimited.
	RequestsPerSecond float64
}

// DefaultConfig returns the default loop bounds.
func DefaultConfig() Config {
	return Config{
		MaxTurns:   DefaultMaxTurns,
		MaxRetries: DefaultMaxRetries,
		Backoff:    DefaultBackoff,
		MaxBackoff: DefaultMaxBackoff,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxTurns <= 0 {
		c.MaxTurns = DefaultMaxTurns
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.MaxBackoff < c.Backoff {
		c.MaxBackoff = c.Backoff
	}
	return c
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator drives the conversation loop. It is single-goroutine and
// cooperative: cancellation is checked between steps, never mid-step.
type Orchestrator struct {
	client     Client
	dispatcher ToolDispatcher
	cfg        Config

	limiter   *rate.Limiter
	canceller *Canceller
	observer  Observer
	log       logrus.FieldLogger

	// sleep waits between retries; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCanceller shares the interrupt flag with the caller.
func WithCanceller(c *Canceller) Option {
	return func(o *Orchestrator) { o.canceller = c }
}

// WithObserver sets the progress hooks.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// NewOrchestrator returns an orchestrator over client and dispatcher.
func NewOrchestrator(client Client, dispatcher ToolDispatcher, cfg Config, opts ...Option) *Orchestrator {
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	o := &Orchestrator{
		client:     client,
		dispatcher: dispatcher,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, 1),
		canceller:  NewCanceller(),
		observer:   NopObserver{},
		log:        logrus.StandardLogger(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Canceller returns the interrupt flag.
func (o *Orchestrator) Canceller() *Canceller {
	return o.canceller
}

// Config returns the effective loop bounds.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Run appends the user message and runs turns until the model answers, the
// turn limit is hit, or the run fails.
func (o *Orchestrator) Run(ctx context.Context, s *Session, userText string) Outcome {
	s.Append(UserMessage(userText))
	for turn := 1; ; turn++ {
		if turn > o.cfg.MaxTurns {
			o.log.WithField("max_turns", o.cfg.MaxTurns).Warn("turn limit exceeded")
			return Failed{
				Reason: ReasonTurnLimit,
				Err:    fmt.Errorf("no final answer after %d model requests", o.cfg.MaxTurns),
			}
		}
		out := o.runTurn(ctx, s, turn)
		if _, ok := out.(Continuing); !ok {
			return out
		}
	}
}

// RunTurn performs one round-trip: one model request and, if the reply
// calls tools, one dispatch per call with its result appended.
func (o *Orchestrator) RunTurn(ctx context.Context, s *Session) Outcome {
	return o.runTurn(ctx, s, 1)
}

func (o *Orchestrator) runTurn(ctx context.Context, s *Session, turn int) Outcome {
	if o.cancelled(ctx) {
		return cancelledOutcome(ctx)
	}

	reply, err := o.send(ctx, s, turn)
	if err != nil {
		return o.failure(ctx, err)
	}
	reply.Role = RoleAssistant
	if reply.Timestamp.IsZero() {
		reply.Timestamp = time.Now()
	}
	s.Append(reply)
	o.observer.OnAssistant(reply.Clone())

	if !reply.HasToolCalls() {
		return FinalAnswer{Text: reply.Content}
	}

	// Started dispatches run to completion even if the turn is cancelled;
	// the handler timeout bounds them.
	dispatchCtx := context.WithoutCancel(ctx)
	for i, call := range reply.ToolCalls {
		if o.cancelled(ctx) {
			for _, skipped := range reply.ToolCalls[i:] {
				res := tools.Cancelled(skipped)
				s.Append(ToolMessage(skipped, res))
				o.observer.OnToolResult(skipped, res)
			}
			o.log.WithField("skipped", len(reply.ToolCalls)-i).Info("turn cancelled between tool calls")
			return cancelledOutcome(ctx)
		}

		o.observer.OnToolStart(call)
		res := o.dispatcher.Dispatch(dispatchCtx, call)
		res.CallID = call.ID
		s.Append(ToolMessage(call, res))
		o.observer.OnToolResult(call, res)
	}
	return Continuing{}
}

// send requests a reply, retrying retryable transport errors with
// exponential backoff.
func (o *Orchestrator) send(ctx context.Context, s *Session, turn int) (Message, error) {
	history := s.Messages()
	defs := o.dispatcher.Definitions()

	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := o.backoff(attempt)
			o.observer.OnRetry(attempt, delay, lastErr)
			if err := o.sleep(ctx, delay); err != nil {
				return Message{}, err
			}
			if o.cancelled(ctx) {
				return Message{}, context.Canceled
			}
		}
		if err := o.limiter.Wait(ctx); err != nil {
			return Message{}, err
		}

		o.observer.OnModelRequest(turn)
		reply, err := o.client.Send(ctx, history, defs)
		if err == nil {
			return reply, nil
		}
		if !isRetryable(err) || ctx.Err() != nil {
			return Message{}, err
		}
		lastErr = err
		o.log.WithError(err).WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"turn":    turn,
		}).Warn("model request failed")
	}
	return Message{}, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, o.cfg.MaxRetries+1, lastErr)
}

// backoff returns the delay before retry attempt (1-based).
func (o *Orchestrator) backoff(attempt int) time.Duration {
	delay := o.cfg.Backoff
	for i := 1; i < attempt && delay < o.cfg.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > o.cfg.MaxBackoff {
		delay = o.cfg.MaxBackoff
	}
	return delay
}

func (o *Orchestrator) cancelled(ctx context.Context) bool {
	return o.canceller.Cancelled() || ctx.Err() != nil
}

func (o *Orchestrator) failure(ctx context.Context, err error) Outcome {
	switch {
	case o.cancelled(ctx) || errors.Is(err, context.Canceled):
		return Failed{Reason: ReasonCancelled, Err: err}
	case errors.Is(err, ErrRetriesExhausted) || isRetryable(err) || errors.Is(err, context.DeadlineExceeded):
		return Failed{Reason: ReasonTransport, Err: err}
	default:
		return Failed{Reason: ReasonModel, Err: err}
	}
}

func cancelledOutcome(ctx context.Context) Failed {
	err := ctx.Err()
	if err == nil {
		err = context.Canceled
	}
	return Failed{Reason: ReasonCancelled, Err: err}
}

func isRetryable(err error) bool {
	var r retryable
	return errors.As(err, &r) && r.Retryable()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
