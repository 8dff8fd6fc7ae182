package service_test

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/CZERTAINLY/eolaudit/internal/service"
	"github.com/stretchr/testify/require"
)

func TestRunner(t *testing.T) {
	t.Parallel()
	yes, err := exec.LookPath("yes")
	if err != nil {
		t.Skipf("skipped, binary yes not available: %v", err)
	}

	runner := service.NewRunner()
	t.Cleanup(runner.Close)
	t.Run("not yet started", func(t *testing.T) {
		res := runner.LastResult()
		require.ErrorIs(t, res.Err, service.ErrScanNotStarted)
		require.Equal(t, -1, res.ExitCode())
	})

	cmd := service.Command{
		Path:    yes,
		Args:    []string{"golang"},
		Env:     []string{"LC_ALL=C"},
		Timeout: 100 * time.Millisecond,
	}
	ctx := t.Context()

	t.Run("start", func(t *testing.T) {
		err = runner.Start(ctx, cmd, nil)
		require.NoError(t, err)
		res := runner.LastResult()
		require.NoError(t, res.Err)
	})
	t.Run("in progress", func(t *testing.T) {
		err = runner.Start(ctx, cmd, nil)
		require.Error(t, err)
		require.ErrorIs(t, err, service.ErrScanInProgress)
	})
	t.Run("wait", func(t *testing.T) {
		res := <-runner.ResultsChan()
		require.Equal(t, yes, res.Path)
		require.Equal(t, []string{"golang"}, res.Args)
		require.NotZero(t, res.Started)
		require.NotZero(t, res.Stopped)
		require.GreaterOrEqual(t, res.Stopped.Sub(res.Started), 100*time.Millisecond)
		require.Error(t, res.Err)
		var exitErr *exec.ExitError
		require.ErrorAs(t, res.Err, &exitErr)
		require.Equal(t, -1, res.ExitCode())

		require.Greater(t, res.Stdout.Len(), 1024)
		require.True(t, strings.HasPrefix(
			string(res.Stdout.Bytes()[:256]),
			"golang\ngolang\n",
		))
	})
	t.Run("exec error", func(t *testing.T) {
		noCmd := service.Command{
			Path: "does not exist",
		}
		err := runner.Start(ctx, noCmd, nil)
		require.Error(t, err)
		var execErr *exec.Error
		require.ErrorAs(t, err, &execErr)
		require.Equal(t, noCmd.Path, execErr.Name)
		require.EqualError(t, execErr.Err, "executable file not found in $PATH")
		require.ErrorIs(t, runner.LastResult().Err, execErr.Err)
	})
}

func TestRunner_Restart(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	runner := service.NewRunner()
	t.Cleanup(runner.Close)
	for i := range 3 {
		cmd := service.Command{
			Path:    sh,
			Args:    []string{"-c", "exit $0", strconv.Itoa(i)},
			Timeout: time.Second,
		}
		require.NoError(t, runner.Start(t.Context(), cmd, nil))
		res := <-runner.ResultsChan()
		require.Equal(t, i, res.ExitCode())
		require.Equal(t, res, runner.LastResult())
	}
}

func TestRunner_Close(t *testing.T) {
	t.Parallel()
	sleep, err := exec.LookPath("sleep")
	if err != nil {
		t.Skipf("skipped, binary sleep not available: %v", err)
	}

	runner := service.NewRunner()
	require.NoError(t, runner.Start(t.Context(), service.Command{Path: sleep, Args: []string{"10"}, Timeout: 20 * time.Second}, nil))
	runner.Close()
	runner.Close()

	require.Eventually(t, func() bool {
		return !runner.LastResult().Stopped.IsZero()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStderr(t *testing.T) {
	t.Parallel()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skipf("skipped, binary sh not available: %v", err)
	}

	cmd := service.Command{
		Path: sh,
		Args: []string{"-c", "echo stdout; printf 'stderr\\nstderr\\n' 1>&2"},
	}

	var mx sync.Mutex
	var stderr []string
	handle := func(_ context.Context, line string) {
		mx.Lock()
		defer mx.Unlock()
		stderr = append(stderr, line)
	}

	runner := service.NewRunner()
	t.Cleanup(runner.Close)
	err = runner.Start(t.Context(), cmd, handle)
	require.NoError(t, err)
	res := <-runner.ResultsChan()
	require.Equal(t, "stdout\n", res.Stdout.String())
	mx.Lock()
	defer mx.Unlock()
	require.Equal(t, []string{"stderr", "stderr"}, stderr)
}
