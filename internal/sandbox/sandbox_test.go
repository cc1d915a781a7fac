// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testPolicy(t *testing.T) Policy {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("POSIX shell tests")
	}
	p, err := NewPolicy(t.TempDir())
	require.NoError(t, err)
	p.Timeout = 10 * time.Second
	return p
}

func testExecutor() *Executor {
	return NewExecutor(WithShell(Shell{Name: "sh", Path: "/bin/sh", Flags: []string{"-c"}, POSIX: true}))
}

func TestExecute_CapturesStdout(t *testing.T) {
	p := testPolicy(t)

	res, err := testExecutor().Execute(context.Background(), "echo hello", p)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
	assert.Empty(t, res.Stderr)
}

func TestExecute_NonZeroExitIsNotAnError(t *testing.T) {
	p := testPolicy(t)

	res, err := testExecutor().Execute(context.Background(), "echo oops >&2; exit 3", p)
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Contains(t, res.Combined(), "STDERR:\noops")
}

func TestExecute_RunsInRoot(t *testing.T) {
	p := testPolicy(t)

	res, err := testExecutor().Execute(context.Background(), "pwd", p)
	require.NoError(t, err)
	assert.Equal(t, p.Root, strings.TrimSpace(res.Stdout))
}

func TestExecute_FiltersEnvironment(t *testing.T) {
	p := testPolicy(t)
	t.Setenv("AICLI_TEST_SECRET", "hunter2")
	t.Setenv("LD_PRELOAD", "/tmp/evil.so")

	res, err := testExecutor().Execute(context.Background(),
		`echo "${AICLI_TEST_SECRET:-unset} ${LD_PRELOAD:-unset} ${PATH:+path}"`, p)
	require.NoError(t, err)
	assert.Equal(t, "unset unset path\n", res.Stdout)

	p.EnvAllowlist = []string{"PATH", "AICLI_TEST_*", "LD_PRELOAD"}
	res, err = testExecutor().Execute(context.Background(),
		`echo "${AICLI_TEST_SECRET:-unset} ${LD_PRELOAD:-unset}"`, p)
	require.NoError(t, err)
	assert.Equal(t, "hunter2 unset\n", res.Stdout, "denied variables stay out even when allowlisted")
}

func TestExecute_Timeout(t *testing.T) {
	p := testPolicy(t)
	p.Timeout = 200 * time.Millisecond

	start := time.Now()
	res, err := testExecutor().Execute(context.Background(), "echo partial; sleep 5", p)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Equal(t, "partial\n", res.Stdout)
	assert.Less(t, elapsed, p.Timeout+killGrace+time.Second)
}

func TestExecute_TimeoutKillsDescendants(t *testing.T) {
	p := testPolicy(t)
	p.Timeout = 200 * time.Millisecond

	start := time.Now()
	_, err := testExecutor().Execute(context.Background(), "sleep 5 | sleep 5", p)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecute_CancelledContext(t *testing.T) {
	p := testPolicy(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := testExecutor().Execute(ctx, "sleep 5", p)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "cancelled")
}

func TestExecute_OutputOverflow(t *testing.T) {
	p := testPolicy(t)
	p.MaxOutputBytes = 100

	res, err := testExecutor().Execute(context.Background(), "yes | head -c 10000", p)
	require.ErrorIs(t, err, ErrOutputOverflow)
	assert.Len(t, res.Stdout, 100)
	assert.Equal(t, int64(9900), res.Discarded)
	assert.Equal(t, 0, res.ExitCode, "the command itself still completes")

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Len(t, execErr.Result.Stdout, 100)
}

func TestExecute_SharedBudgetAcrossStreams(t *testing.T) {
	p := testPolicy(t)
	p.MaxOutputBytes = 10

	res, err := testExecutor().Execute(context.Background(), "printf 12345678; printf abcdefgh >&2", p)
	require.ErrorIs(t, err, ErrOutputOverflow)
	assert.Equal(t, 10, len(res.Stdout)+len(res.Stderr))
}

func TestExecute_RejectsEscapingCd(t *testing.T) {
	p := testPolicy(t)

	_, err := testExecutor().Execute(context.Background(), "cd / && ls", p)
	require.ErrorIs(t, err, ErrPolicyViolation)
}

func TestExecute_SpawnFailure(t *testing.T) {
	p := testPolicy(t)
	exec := NewExecutor(WithShell(Shell{Name: "sh", Path: "/nonexistent/sh", Flags: []string{"-c"}, POSIX: true}))

	_, err := exec.Execute(context.Background(), "true", p)
	require.ErrorIs(t, err, ErrSpawnFailure)
}

func TestExecute_EmptyCommand(t *testing.T) {
	p := testPolicy(t)

	_, err := testExecutor().Execute(context.Background(), "   ", p)
	require.ErrorIs(t, err, ErrPolicyViolation)
}

func TestNewPolicy_RejectsFile(t *testing.T) {
	_, err := NewPolicy("sandbox.go")
	require.Error(t, err)
}
