// Copyright Elasticsearch B.V. and/or licensed to Elasticsearch B.V. under one
// or more contributor license agreements. Licensed under the Elastic License 2.0;
// you may not use this file except in compliance with the Elastic License 2.0.

package retry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agenterrors "github.com/elastic/ci-orchestrator/internal/pkg/agent/errors"
	"github.com/elastic/ci-orchestrator/pkg/core/process"
)

// instantTimer fires immediately and records every requested wait.
type instantTimer struct {
	waits *[]time.Duration
	c     chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	*t.waits = append(*t.waits, d)
	t.c <- time.Now()
}

func (t *instantTimer) Stop() {}

func (t *instantTimer) C() <-chan time.Time { return t.c }

func newTestExecutor(cfg *Config, runner process.Runner) (*Executor, *[]time.Duration, *bytes.Buffer) {
	waits := &[]time.Duration{}
	diag := &bytes.Buffer{}
	e := New(cfg,
		WithRunner(runner),
		WithDiagnostics(diag),
		WithTimer(func() backoff.Timer {
			return &instantTimer{waits: waits, c: make(chan time.Time, 1)}
		}))
	return e, waits, diag
}

// countingRunner exits with code 1 until the call number reaches succeedOn.
// succeedOn == 0 never succeeds.
func countingRunner(calls *int, succeedOn int) process.Runner {
	return process.RunnerFunc(func(_ context.Context, cmd process.Command) (process.Output, error) {
		*calls++
		if succeedOn > 0 && *calls >= succeedOn {
			return process.Output{Stdout: []byte("ok")}, nil
		}
		out := process.Output{ExitCode: 1}
		return out, &process.ExitError{Command: cmd.String(), Output: out}
	})
}

func TestRunWithRetryAlwaysFailing(t *testing.T) {
	for maxAttempts := 1; maxAttempts <= 6; maxAttempts++ {
		t.Run(fmt.Sprintf("%d attempts", maxAttempts), func(t *testing.T) {
			calls := 0
			e, waits, _ := newTestExecutor(nil, countingRunner(&calls, 0))

			out, err := e.RunWithRetry(context.Background(), process.Command{Path: "false"}, maxAttempts)
			require.Error(t, err)
			assert.Equal(t, maxAttempts, calls)
			assert.Len(t, *waits, maxAttempts-1)
			assert.Equal(t, 1, out.ExitCode)

			code, ok := process.ExitCode(err)
			assert.True(t, ok)
			assert.Equal(t, 1, code)
		})
	}
}

func TestRunWithRetrySucceedsOnAttemptK(t *testing.T) {
	const maxAttempts = 5
	for k := 1; k <= maxAttempts; k++ {
		t.Run(fmt.Sprintf("succeeds on %d", k), func(t *testing.T) {
			calls := 0
			e, _, _ := newTestExecutor(nil, countingRunner(&calls, k))

			out, err := e.RunWithRetry(context.Background(), process.Command{Path: "flaky"}, maxAttempts)
			require.NoError(t, err)
			assert.Equal(t, k, calls)
			assert.Equal(t, "ok", string(out.Stdout))
		})
	}
}

func TestBackoffDoublesAndIsCapped(t *testing.T) {
	calls := 0
	cfg := &Config{MaxAttempts: 3, Delay: 2 * time.Second, MaxDelay: 5 * time.Second}
	e, waits, _ := newTestExecutor(cfg, countingRunner(&calls, 0))

	_, err := e.RunWithRetry(context.Background(), process.Command{Path: "false"}, 5)
	require.Error(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, *waits)
}

func TestDiagnosticLinePerRetry(t *testing.T) {
	calls := 0
	e, _, diag := newTestExecutor(nil, countingRunner(&calls, 3))

	_, err := e.RunWithRetry(context.Background(), process.Command{Path: "flaky"}, 3)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(diag.String()), "\n")
	assert.Equal(t, []string{
		"Retry 1/3 exited 1, retrying in 2s.",
		"Retry 2/3 exited 1, retrying in 4s.",
	}, lines)
}

func TestDoFatalErrorsAreNotRetried(t *testing.T) {
	tests := map[string]error{
		"explicit fatal": ErrorMakeFatal(errors.New("boom")),
		"security":       agenterrors.New("denied", agenterrors.TypeSecurity),
		"config":         agenterrors.New("bad step", agenterrors.TypeConfig),
		"start failure":  &process.StartError{Command: "nope", Err: errors.New("not found")},
	}

	for name, failure := range tests {
		t.Run(name, func(t *testing.T) {
			e, waits, _ := newTestExecutor(nil, nil)
			calls := 0
			err := e.Do(context.Background(), 5, func(int) error {
				calls++
				return failure
			})
			require.Error(t, err)
			assert.Equal(t, 1, calls)
			assert.Empty(t, *waits)
			assert.True(t, errors.Is(err, failure) || err.Error() == failure.Error())
		})
	}
}

func TestDoTransientErrorsAreRetried(t *testing.T) {
	e, _, diag := newTestExecutor(nil, nil)
	calls := 0
	err := e.Do(context.Background(), 4, func(attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if attempt < 3 {
			return agenterrors.New("unreachable", agenterrors.TypeNetwork)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, diag.String(), "Retry 1/4 failed (NETWORK), retrying in 2s.")
}

func TestCancellationBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	runner := process.RunnerFunc(func(runCtx context.Context, cmd process.Command) (process.Output, error) {
		calls++
		if calls == 2 {
			cancel()
			// the in-flight call is never interrupted
			assert.NoError(t, runCtx.Err())
		}
		out := process.Output{ExitCode: 2}
		return out, &process.ExitError{Command: cmd.String(), Output: out}
	})
	e, waits, _ := newTestExecutor(nil, runner)

	_, err := e.RunWithRetry(ctx, process.Command{Path: "slow"}, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, calls)
	assert.Len(t, *waits, 1, "no sleep after the cancelled attempt")

	code, ok := process.ExitCode(err)
	assert.True(t, ok, "last failure is kept")
	assert.Equal(t, 2, code)
}

func TestAlreadyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, _, _ := newTestExecutor(nil, nil)
	calls := 0
	err := e.Do(ctx, 3, func(int) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestInvalidBudget(t *testing.T) {
	e, _, _ := newTestExecutor(nil, nil)
	err := e.Do(context.Background(), 0, func(int) error { return nil })
	require.Error(t, err)
	assert.True(t, agenterrors.IsType(err, agenterrors.TypeConfig))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, (&Config{MaxAttempts: 0, Delay: time.Second, MaxDelay: time.Second}).Validate())
	assert.Error(t, (&Config{MaxAttempts: 1, Delay: 0, MaxDelay: time.Second}).Validate())
	assert.Error(t, (&Config{MaxAttempts: 1, Delay: time.Minute, MaxDelay: time.Second}).Validate())
}
