// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jeranaias/aicli/internal/editor"
	"github.com/jeranaias/aicli/internal/sandbox"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// =============================================================================
// FAKES
// =============================================================================

type countingRunner struct {
	calls  atomic.Int32
	result sandbox.Result
	err    error
}

func (r *countingRunner) Execute(_ context.Context, _ string, _ sandbox.Policy) (sandbox.Result, error) {
	r.calls.Add(1)
	return r.result, r.err
}

type scriptedConfirmer struct {
	mu      sync.Mutex
	answers []bool
	asked   []string
}

func (c *scriptedConfirmer) Ask(summary string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asked = append(c.asked, summary)
	if len(c.answers) == 0 {
		return false
	}
	a := c.answers[0]
	c.answers = c.answers[1:]
	return a
}

type echoArgs struct {
	Text string `json:"text" jsonschema:"minLength=1"`
}

func nullLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func newTestDispatcher(t *testing.T, specs []ToolSpec, opts ...Option) *Dispatcher {
	t.Helper()
	reg := NewRegistry()
	for _, s := range specs {
		require.NoError(t, reg.Register(s))
	}
	return NewDispatcher(reg, append([]Option{WithLogger(nullLogger())}, opts...)...)
}

func echoTool(tier Tier) ToolSpec {
	return NewTool("echo", "echo text", tier, func(_ context.Context, a echoArgs) (string, error) {
		return a.Text, nil
	})
}

func call(id, name, args string) ToolCall {
	return ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

// =============================================================================
// REGISTRY
// =============================================================================

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(echoTool(TierSafe)))

	assert.ErrorIs(t, reg.Register(echoTool(TierSafe)), ErrDuplicateTool)
	assert.Error(t, reg.Register(ToolSpec{Name: "nohandler", Schema: map[string]any{"type": "object"}}))

	reg.Freeze()
	assert.True(t, reg.Frozen())
	err := reg.Register(NewTool("late", "", TierSafe, func(context.Context, echoArgs) (string, error) { return "", nil }))
	assert.ErrorIs(t, err, ErrRegistryFrozen)

	spec, ok := reg.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", spec.Name)

	defs := reg.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "object", defs[0].Parameters["type"])
	assert.NotContains(t, defs[0].Parameters, "$schema")
	assert.Equal(t, []any{"text"}, defs[0].Parameters["required"])
}

func TestParseTier(t *testing.T) {
	for _, tier := range []Tier{TierSafe, TierAmbiguous, TierDestructive} {
		got, err := ParseTier(strings.ToUpper(tier.String()))
		require.NoError(t, err)
		assert.Equal(t, tier, got)
	}
	_, err := ParseTier("scary")
	assert.Error(t, err)
}

// =============================================================================
// DISPATCH
// =============================================================================

func TestDispatch_UnknownTool(t *testing.T) {
	var called atomic.Bool
	spec := NewTool("echo", "", TierSafe, func(_ context.Context, a echoArgs) (string, error) {
		called.Store(true)
		return a.Text, nil
	})
	d := newTestDispatcher(t, []ToolSpec{spec})

	res := d.Dispatch(context.Background(), call("c1", "launch_missiles", `{}`))
	assert.Equal(t, "c1", res.CallID)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, DetailUnknownTool, res.ErrorDetail)
	assert.Contains(t, res.Output, "echo")
	assert.False(t, called.Load())
}

func TestDispatch_InvalidArguments(t *testing.T) {
	d := newTestDispatcher(t, []ToolSpec{echoTool(TierSafe)})

	tests := []struct {
		name string
		args string
	}{
		{"not json", `{"text":`},
		{"missing field", `{}`},
		{"wrong type", `{"text": 42}`},
		{"unknown field", `{"text": "hi", "extra": true}`},
		{"empty string", `{"text": ""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := d.Dispatch(context.Background(), call("c", "echo", tt.args))
			assert.Equal(t, StatusError, res.Status)
			assert.Equal(t, DetailInvalidArguments, res.ErrorDetail)
			assert.NotEmpty(t, res.Output)
		})
	}
}

func TestDispatch_OK(t *testing.T) {
	d := newTestDispatcher(t, []ToolSpec{echoTool(TierSafe)})

	res := d.Dispatch(context.Background(), call("c1", "echo", `{"text":"hello"}`))
	assert.Equal(t, ToolResult{CallID: "c1", Status: StatusOK, Output: "hello"}, res)
	assert.True(t, res.OK())
}

func TestDispatch_Tiers(t *testing.T) {
	tests := []struct {
		name        string
		tier        Tier
		confirmer   Confirmer
		autoApprove bool
		wantStatus  string
		wantAsked   bool
	}{
		{"safe runs without asking", TierSafe, &scriptedConfirmer{}, false, StatusOK, false},
		{"ambiguous asks and runs", TierAmbiguous, &scriptedConfirmer{answers: []bool{true}}, false, StatusOK, true},
		{"ambiguous denied", TierAmbiguous, &scriptedConfirmer{answers: []bool{false}}, false, StatusDenied, true},
		{"ambiguous auto-approved", TierAmbiguous, &scriptedConfirmer{}, true, StatusOK, false},
		{"destructive asks despite auto-approve", TierDestructive, &scriptedConfirmer{answers: []bool{false}}, true, StatusDenied, true},
		{"nil confirmer denies", TierAmbiguous, nil, false, StatusDenied, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := []Option{WithAutoApprove(tt.autoApprove)}
			if tt.confirmer != nil {
				opts = append(opts, WithConfirmer(tt.confirmer))
			}
			d := newTestDispatcher(t, []ToolSpec{echoTool(tt.tier)}, opts...)

			res := d.Dispatch(context.Background(), call("c", "echo", `{"text":"x"}`))
			assert.Equal(t, tt.wantStatus, res.Status)
			if res.Status == StatusDenied {
				assert.Equal(t, DetailDeniedByUser, res.ErrorDetail)
			}
			if sc, ok := tt.confirmer.(*scriptedConfirmer); ok {
				assert.Equal(t, tt.wantAsked, len(sc.asked) > 0)
			}
		})
	}
}

func TestDispatch_HandlerErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		detail string
	}{
		{"plain", errors.New("boom"), DetailHandlerError},
		{"sandbox timeout", &sandbox.ExecutionError{Kind: sandbox.KindTimeout, Msg: "killed"}, "timeout"},
		{"editor conflict", &editor.EditError{Kind: editor.KindConflict, Path: "f"}, "conflict"},
		{"wrapped", errors.Join(errors.New("ctx"), &editor.EditError{Kind: editor.KindNotFound}), "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := NewTool("fail", "", TierSafe, func(context.Context, echoArgs) (string, error) {
				return "partial", tt.err
			})
			d := newTestDispatcher(t, []ToolSpec{spec})

			res := d.Dispatch(context.Background(), call("c", "fail", `{"text":"x"}`))
			assert.Equal(t, StatusError, res.Status)
			assert.Equal(t, tt.detail, res.ErrorDetail)
			assert.Contains(t, res.Output, "partial")
		})
	}
}

func TestDispatch_Panic(t *testing.T) {
	spec := NewTool("bad", "", TierSafe, func(context.Context, echoArgs) (string, error) {
		panic("nil map")
	})
	d := newTestDispatcher(t, []ToolSpec{spec})

	res := d.Dispatch(context.Background(), call("c", "bad", `{"text":"x"}`))
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, DetailHandlerPanic, res.ErrorDetail)
	assert.Contains(t, res.Output, "nil map")
}

func TestDispatch_HandlerTimeout(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	spec := NewTool("stuck", "", TierSafe, func(context.Context, echoArgs) (string, error) {
		<-release
		return "late", nil
	})
	d := newTestDispatcher(t, []ToolSpec{spec}, WithHandlerTimeout(50*time.Millisecond))

	start := time.Now()
	res := d.Dispatch(context.Background(), call("c", "stuck", `{"text":"x"}`))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, DetailHandlerTimeout, res.ErrorDetail)
}

func TestDispatch_Truncation(t *testing.T) {
	spec := NewTool("big", "", TierSafe, func(context.Context, echoArgs) (string, error) {
		return strings.Repeat("é", 100), nil
	})
	d := newTestDispatcher(t, []ToolSpec{spec}, WithMaxOutputBytes(51))

	res := d.Dispatch(context.Background(), call("c", "big", `{"text":"x"}`))
	require.Equal(t, StatusOK, res.Status)
	assert.True(t, strings.HasPrefix(res.Output, strings.Repeat("é", 25)+"\n"))
	assert.True(t, strings.HasSuffix(res.Output, "[output truncated: 150 bytes omitted]"))
}

func TestDispatch_History(t *testing.T) {
	d := newTestDispatcher(t, []ToolSpec{echoTool(TierSafe)})
	d.Dispatch(context.Background(), call("a", "echo", `{"text":"1"}`))
	d.Dispatch(context.Background(), call("b", "nope", `{}`))

	h := d.History()
	require.Len(t, h, 2)
	assert.Equal(t, "a", h[0].CallID)
	assert.Equal(t, StatusOK, h[0].Status)
	assert.True(t, h[0].Approved)
	assert.Equal(t, DetailUnknownTool, h[1].ErrorDetail)

	s := d.Stats()
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Failed)

	d.ClearHistory()
	assert.Empty(t, d.History())
}

// =============================================================================
// BUILTIN SCENARIOS
// =============================================================================

func builtinDispatcher(t *testing.T, runner CommandRunner, ed FileEditor, opts ...Option) *Dispatcher {
	t.Helper()
	reg := NewRegistry()
	policy := sandbox.Policy{Root: t.TempDir(), Timeout: time.Second, MaxOutputBytes: 1024}
	require.NoError(t, RegisterBuiltins(reg, runner, policy, ed))
	return NewDispatcher(reg, append([]Option{WithLogger(nullLogger())}, opts...)...)
}

func TestScenario_ListFiles(t *testing.T) {
	runner := &countingRunner{result: sandbox.Result{Stdout: "a.txt\nb.txt\n"}}
	confirmer := &scriptedConfirmer{}
	ed, err := editor.New(t.TempDir())
	require.NoError(t, err)
	d := builtinDispatcher(t, runner, ed, WithConfirmer(confirmer))

	res := d.Dispatch(context.Background(), call("c1", "execute_command", `{"command":"ls"}`))
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, "a.txt\nb.txt\n", res.Output)
	assert.Equal(t, int32(1), runner.calls.Load())
	assert.Empty(t, confirmer.asked)
	assert.Equal(t, TierSafe, d.History()[0].Tier)
}

func TestScenario_RmRfDenied(t *testing.T) {
	runner := &countingRunner{}
	confirmer := &scriptedConfirmer{answers: []bool{false}}
	ed, err := editor.New(t.TempDir())
	require.NoError(t, err)
	d := builtinDispatcher(t, runner, ed, WithConfirmer(confirmer), WithAutoApprove(true))

	res := d.Dispatch(context.Background(), call("c1", "execute_command", `{"command":"rm -rf /"}`))
	assert.Equal(t, StatusDenied, res.Status)
	assert.Equal(t, DetailDeniedByUser, res.ErrorDetail)
	assert.Equal(t, int32(0), runner.calls.Load())
	require.Len(t, confirmer.asked, 1)
	assert.Contains(t, confirmer.asked[0], "[destructive]")
	assert.Contains(t, confirmer.asked[0], "rm -rf /")
	assert.Equal(t, TierDestructive, d.History()[0].Tier)
}

func TestScenario_DisguisedRmAsks(t *testing.T) {
	commands := []string{
		"/bin/rm -rf src",
		"/usr/bin/rm -r build",
		`\rm -rf src`,
		"command rm -rf src",
		"env rm -rf src",
		"env -i FOO=1 rm -rf src",
		"nice -n 10 rm -rf src",
		"time rm -rf src",
		"busybox rm -rf src",
		"ls && /usr/bin/rm -r build",
		"find . -name '*.o' | xargs -0 rm",
		"sh -c 'rm -rf src'",
	}
	for _, command := range commands {
		t.Run(command, func(t *testing.T) {
			runner := &countingRunner{}
			confirmer := &scriptedConfirmer{}
			ed, err := editor.New(t.TempDir())
			require.NoError(t, err)
			d := builtinDispatcher(t, runner, ed, WithConfirmer(confirmer), WithAutoApprove(true))

			args, err := json.Marshal(CommandArgs{Command: command})
			require.NoError(t, err)
			res := d.Dispatch(context.Background(), call("c1", "execute_command", string(args)))
			assert.Equal(t, StatusDenied, res.Status)
			assert.Equal(t, int32(0), runner.calls.Load())
			require.Len(t, confirmer.asked, 1)
			assert.True(t, strings.HasPrefix(confirmer.asked[0], "[destructive]"), confirmer.asked[0])
		})
	}
}

func TestScenario_PathQualifiedRmKeepsFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	policy, err := sandbox.NewPolicy(root)
	require.NoError(t, err)
	ed, err := editor.New(root)
	require.NoError(t, err)

	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, sandbox.NewExecutor(), policy, ed))
	confirmer := &scriptedConfirmer{}
	d := NewDispatcher(reg, WithLogger(nullLogger()), WithConfirmer(confirmer))

	res := d.Dispatch(context.Background(), call("c1", "execute_command", `{"command":"/bin/rm -rf src"}`))
	assert.Equal(t, StatusDenied, res.Status)
	assert.Len(t, confirmer.asked, 1)
	assert.DirExists(t, filepath.Join(root, "src"))
}

func TestExecuteCommand_Formatting(t *testing.T) {
	tests := []struct {
		name   string
		result sandbox.Result
		err    error
		status string
		want   string
	}{
		{"no output", sandbox.Result{}, nil, StatusOK, "command completed (no output)"},
		{"non-zero exit", sandbox.Result{ExitCode: 2, Stderr: "nope\n"}, nil, StatusOK, "exit status 2\nnope\n"},
		{"timeout keeps partial", sandbox.Result{Stdout: "tick\n"},
			&sandbox.ExecutionError{Kind: sandbox.KindTimeout, Msg: "killed after 1s"}, StatusError, "tick"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &countingRunner{result: tt.result, err: tt.err}
			ed, err := editor.New(t.TempDir())
			require.NoError(t, err)
			d := builtinDispatcher(t, runner, ed)

			res := d.Dispatch(context.Background(), call("c", "execute_command", `{"command":"true"}`))
			assert.Equal(t, tt.status, res.Status)
			if tt.status == StatusOK {
				assert.Equal(t, tt.want, res.Output)
			} else {
				assert.Equal(t, "timeout", res.ErrorDetail)
				assert.Contains(t, res.Output, tt.want)
			}
		})
	}
}

func TestFileEditor_Tiers(t *testing.T) {
	root := t.TempDir()
	ed, err := editor.New(root)
	require.NoError(t, err)
	d := builtinDispatcher(t, &countingRunner{}, ed)
	spec, ok := d.Registry().Get("file_editor")
	require.True(t, ok)

	tests := []struct {
		args string
		want Tier
	}{
		{`{"subcommand":"read","filename":"a.txt"}`, TierSafe},
		{`{"subcommand":"search","filename":"a.txt","data":"x"}`, TierSafe},
		{`{"subcommand":"replace_exact","filename":"a.txt","data":"x","replacement":"y"}`, TierAmbiguous},
		{`{"subcommand":"write","filename":"a.txt","data":"x"}`, TierAmbiguous},
		{`{"subcommand":"delete","filename":"a.txt"}`, TierDestructive},
		{`{"subcommand":"overwrite","filename":"../outside.txt","data":"x"}`, TierDestructive},
		{`{"subcommand":"read","filename":"/etc/hosts"}`, TierAmbiguous},
	}
	for _, tt := range tests {
		t.Run(tt.args, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Classify(spec, json.RawMessage(tt.args)))
		})
	}
}

func TestFileEditor_CertainFailureDoesNotAsk(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("one\n"), 0o644))
	ed, err := editor.New(root)
	require.NoError(t, err)
	confirmer := &scriptedConfirmer{answers: []bool{true, true, true}}
	d := builtinDispatcher(t, &countingRunner{}, ed, WithConfirmer(confirmer))

	tests := []struct {
		args   string
		detail string
	}{
		{`{"subcommand":"overwrite","filename":"notes.txt","data":"two\n"}`, "conflict"},
		{`{"subcommand":"replace_exact","filename":"notes.txt","data":"missing","replacement":"x"}`, "invalid_patch"},
		{`{"subcommand":"replace_exact","filename":"gone.txt","data":"a","replacement":"b"}`, "not_found"},
	}
	for _, tt := range tests {
		res := d.Dispatch(context.Background(), call("c", "file_editor", tt.args))
		assert.Equal(t, StatusError, res.Status, tt.args)
		assert.Equal(t, tt.detail, res.ErrorDetail, tt.args)
	}
	assert.Empty(t, confirmer.asked)
	assert.Equal(t, "one\n", readTestFile(t, filepath.Join(root, "notes.txt")))
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestFileEditor_ReadThenEdit(t *testing.T) {
	root := t.TempDir()
	ed, err := editor.New(root)
	require.NoError(t, err)
	confirmer := &scriptedConfirmer{answers: []bool{true}}
	d := builtinDispatcher(t, &countingRunner{}, ed, WithConfirmer(confirmer))

	res := d.Dispatch(context.Background(), call("c1", "file_editor",
		`{"subcommand":"overwrite","filename":"notes.txt","data":"one\ntwo\n"}`))
	require.Equal(t, StatusOK, res.Status, res.Output)
	assert.Contains(t, res.Output, "Created notes.txt")
	require.Len(t, confirmer.asked, 1)
	assert.Contains(t, confirmer.asked[0], "+two")

	res = d.Dispatch(context.Background(), call("c2", "file_editor", `{"subcommand":"read","filename":"notes.txt"}`))
	require.Equal(t, StatusOK, res.Status)
	assert.Contains(t, res.Output, editor.Hash("one\ntwo\n"))
	assert.Len(t, confirmer.asked, 1, "reads do not ask")

	res = d.Dispatch(context.Background(), call("c3", "file_editor",
		`{"subcommand":"replace_exact","filename":"notes.txt","data":"two","replacement":"2","expected_hash":"sha256:0000000000000000000000000000000000000000000000000000000000000000"}`))
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "conflict", res.ErrorDetail)
	assert.Len(t, confirmer.asked, 1, "a stale hash fails before asking")

	d2 := builtinDispatcher(t, &countingRunner{}, ed, WithAutoApprove(true))
	res = d2.Dispatch(context.Background(), call("c4", "file_editor",
		`{"subcommand":"replace_exact","filename":"notes.txt","data":"two","replacement":"2","expected_hash":"sha256:0000000000000000000000000000000000000000000000000000000000000000"}`))
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "conflict", res.ErrorDetail)
}
