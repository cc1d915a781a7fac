// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/aicli/internal/util"
)

// =============================================================================
// CALLS AND RESULTS
// =============================================================================

// Result statuses.
const (
	StatusOK     = "ok"
	StatusError  = "error"
	StatusDenied = "denied"
)

// Error details set by the dispatcher itself. Handler errors use the kind of
// the typed error instead (timeout, conflict, ...).
const (
	DetailUnknownTool      = "unknown_tool"
	DetailInvalidArguments = "invalid_arguments"
	DetailDeniedByUser     = "denied_by_user"
	DetailHandlerPanic     = "handler_panic"
	DetailHandlerTimeout   = "handler_timeout"
	DetailHandlerError     = "handler_error"
	DetailCancelled        = "cancelled"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of one ToolCall. ErrorDetail is set exactly when
// Status is not ok.
type ToolResult struct {
	CallID      string
	Status      string
	Output      string
	ErrorDetail string
}

// OK reports whether the call succeeded.
func (r ToolResult) OK() bool {
	return r.Status == StatusOK
}

// Cancelled is the result recorded for a call that was never started because
// the turn was cancelled.
func Cancelled(call ToolCall) ToolResult {
	return ToolResult{
		CallID:      call.ID,
		Status:      StatusError,
		Output:      "not run: the user cancelled the turn",
		ErrorDetail: DetailCancelled,
	}
}

// =============================================================================
// DISPATCH RECORD
// =============================================================================

// DispatchRecord tracks one dispatched call for /history.
type DispatchRecord struct {
	CallID      string
	Tool        string
	Tier        Tier
	Arguments   string
	Status      string
	ErrorDetail string
	Approved    bool
	Started     time.Time
	Duration    time.Duration
}

// Stats summarizes the dispatch history.
type Stats struct {
	Total         int
	Succeeded     int
	Failed        int
	Denied        int
	TotalDuration time.Duration
	AvgDuration   time.Duration
}

// =============================================================================
// DISPATCHER
// =============================================================================

const (
	// DefaultHandlerTimeout bounds a handler that ignores its context.
	DefaultHandlerTimeout = 5 * time.Minute

	// DefaultMaxOutputBytes caps the output of one result.
	DefaultMaxOutputBytes = 32 * 1024

	maxHistorySize = 1000
)

// Dispatcher validates, authorizes and runs tool calls.
type Dispatcher struct {
	registry  *Registry
	policy    *RiskPolicy
	confirmer Confirmer

	autoApprove    bool
	handlerTimeout time.Duration
	maxOutputBytes int
	log            logrus.FieldLogger

	mu      sync.Mutex
	history []DispatchRecord
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithConfirmer sets who approves risky calls. Without one, every call that
// is not safe is denied.
func WithConfirmer(c Confirmer) Option {
	return func(d *Dispatcher) { d.confirmer = c }
}

// WithRiskPolicy replaces the default pattern policy.
func WithRiskPolicy(p *RiskPolicy) Option {
	return func(d *Dispatcher) { d.policy = p }
}

// WithAutoApprove approves ambiguous calls without asking. Destructive calls
// still ask.
func WithAutoApprove(on bool) Option {
	return func(d *Dispatcher) { d.autoApprove = on }
}

// WithHandlerTimeout bounds each handler.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.handlerTimeout = timeout
		}
	}
}

// WithMaxOutputBytes caps result output.
func WithMaxOutputBytes(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxOutputBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// NewDispatcher returns a dispatcher over registry. The registry is frozen.
func NewDispatcher(registry *Registry, opts ...Option) *Dispatcher {
	registry.Freeze()
	d := &Dispatcher{
		registry:       registry,
		policy:         DefaultRiskPolicy(),
		handlerTimeout: DefaultHandlerTimeout,
		maxOutputBytes: DefaultMaxOutputBytes,
		log:            logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the tool registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Definitions returns the definitions of every registered tool.
func (d *Dispatcher) Definitions() []Definition {
	return d.registry.Definitions()
}

// Dispatch runs one call and always returns a result for it. It never
// panics and never terminates the process.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) ToolResult {
	rec := DispatchRecord{
		CallID:    call.ID,
		Tool:      call.Name,
		Arguments: util.TruncateRunes(compactJSON(call.Arguments), 200),
		Started:   time.Now(),
	}

	res := d.dispatch(ctx, call, &rec)
	res.CallID = call.ID
	res.Output = d.truncate(res.Output)

	rec.Status = res.Status
	rec.ErrorDetail = res.ErrorDetail
	rec.Duration = time.Since(rec.Started)
	d.addToHistory(rec)

	entry := d.log.WithFields(logrus.Fields{
		"tool":     call.Name,
		"call_id":  call.ID,
		"tier":     rec.Tier.String(),
		"status":   res.Status,
		"duration": rec.Duration,
	})
	if res.ErrorDetail != "" {
		entry = entry.WithField("error_detail", res.ErrorDetail)
	}
	entry.Debug("tool dispatched")
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, call ToolCall, rec *DispatchRecord) ToolResult {
	spec, ok := d.registry.Get(call.Name)
	if !ok {
		return errorResult(DetailUnknownTool,
			fmt.Sprintf("unknown tool %q; available tools: %s", call.Name, strings.Join(d.toolNames(), ", ")))
	}

	if err := d.registry.validate(call.Name, call.Arguments); err != nil {
		return errorResult(DetailInvalidArguments, err.Error())
	}

	tier := d.Classify(spec, call.Arguments)
	rec.Tier = tier
	if spec.Precheck != nil {
		if err := spec.Precheck(ctx, call.Arguments); err != nil {
			return errorResult(errorDetail(err), err.Error())
		}
	}
	if !d.approve(ctx, spec, tier, call.Arguments) {
		denied := &PolicyDenied{Tool: spec.Name, Tier: tier}
		return ToolResult{
			Status:      StatusDenied,
			Output:      denied.Error() + ". Do not retry it; ask the user how to proceed.",
			ErrorDetail: DetailDeniedByUser,
		}
	}
	rec.Approved = true

	out, detail := d.run(ctx, spec, call.Arguments)
	if detail != "" {
		return errorResult(detail, out)
	}
	return ToolResult{Status: StatusOK, Output: out}
}

// Classify returns the effective tier of a call with validated arguments.
func (d *Dispatcher) Classify(spec ToolSpec, args json.RawMessage) Tier {
	tier := spec.Tier
	if spec.Classify != nil {
		tier = spec.Classify(args)
	}
	subject := ""
	if spec.Subject != nil {
		subject = spec.Subject(args)
	}
	return d.policy.Apply(spec.Name, tier, subject)
}

func (d *Dispatcher) approve(ctx context.Context, spec ToolSpec, tier Tier, args json.RawMessage) bool {
	switch {
	case tier == TierSafe:
		return true
	case tier == TierAmbiguous && d.autoApprove:
		return true
	case d.confirmer == nil:
		return false
	}
	return d.confirmer.Ask(d.summary(ctx, spec, tier, args))
}

func (d *Dispatcher) summary(ctx context.Context, spec ToolSpec, tier Tier, args json.RawMessage) string {
	head := fmt.Sprintf("[%s] %s", tier, spec.Name)
	if spec.Summarize != nil {
		if s := spec.Summarize(ctx, args); s != "" {
			return head + ": " + s
		}
	}
	return head + " " + util.TruncateRunes(compactJSON(args), 300)
}

type outcome struct {
	out       string
	err       error
	panicked  bool
	recovered any
}

// run executes the handler on its own goroutine. On timeout the goroutine
// is abandoned and its result discarded.
func (d *Dispatcher) run(ctx context.Context, spec ToolSpec, args json.RawMessage) (string, string) {
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.WithFields(logrus.Fields{
					"tool":  spec.Name,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("tool handler panicked")
				done <- outcome{panicked: true, recovered: r}
			}
		}()
		out, err := spec.Handler(hctx, args)
		done <- outcome{out: out, err: err}
	}()

	timer := time.NewTimer(d.handlerTimeout)
	defer timer.Stop()

	select {
	case o := <-done:
		switch {
		case o.panicked:
			return fmt.Sprintf("tool %s failed internally: %v", spec.Name, o.recovered), DetailHandlerPanic
		case o.err != nil:
			msg := o.err.Error()
			if o.out != "" {
				msg += "\n" + o.out
			}
			return msg, errorDetail(o.err)
		default:
			return o.out, ""
		}
	case <-timer.C:
		d.log.WithField("tool", spec.Name).Warn("tool handler timed out; abandoning it")
		return fmt.Sprintf("tool %s did not finish within %s", spec.Name, d.handlerTimeout), DetailHandlerTimeout
	}
}

// truncate caps output on a UTF-8 boundary and says how much was dropped.
func (d *Dispatcher) truncate(out string) string {
	kept, dropped := util.TruncateBytes(out, d.maxOutputBytes)
	if dropped == 0 {
		return out
	}
	return fmt.Sprintf("%s\n[output truncated: %d bytes omitted]", kept, dropped)
}

func (d *Dispatcher) toolNames() []string {
	specs := d.registry.All()
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	return names
}

func errorResult(detail, output string) ToolResult {
	return ToolResult{Status: StatusError, Output: output, ErrorDetail: detail}
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// =============================================================================
// HISTORY
// =============================================================================

func (d *Dispatcher) addToHistory(rec DispatchRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.history) >= maxHistorySize {
		d.history = d.history[len(d.history)-maxHistorySize+1:]
	}
	d.history = append(d.history, rec)
}

// History returns a copy of the dispatch history, oldest first.
func (d *Dispatcher) History() []DispatchRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DispatchRecord, len(d.history))
	copy(out, d.history)
	return out
}

// ClearHistory drops the dispatch history.
func (d *Dispatcher) ClearHistory() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = nil
}

// Stats returns statistics about the dispatch history.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	var s Stats
	s.Total = len(d.history)
	for _, rec := range d.history {
		switch rec.Status {
		case StatusOK:
			s.Succeeded++
		case StatusDenied:
			s.Denied++
		default:
			s.Failed++
		}
		s.TotalDuration += rec.Duration
	}
	if s.Total > 0 {
		s.AvgDuration = s.TotalDuration / time.Duration(s.Total)
	}
	return s
}
