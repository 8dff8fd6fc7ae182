package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

var (
	ErrScanNotStarted = errors.New("audit not started")
	ErrScanInProgress = errors.New("audit in progress")
)

type StderrFunc func(ctx context.Context, line string)

// Runner executes at most one instance of a Command at a time
type Runner struct {
	mx         sync.RWMutex
	cmd        *exec.Cmd
	cancelFunc context.CancelFunc
	result     Result
	results    chan Result
	done       chan struct{}
	closeOnce  sync.Once
}

func NewRunner() *Runner {
	return &Runner{
		result:  Result{Err: ErrScanNotStarted},
		results: make(chan Result, 1),
		done:    make(chan struct{}),
	}
}

type Command struct {
	Path    string
	Args    []string
	Env     []string
	Timeout time.Duration
}

type Result struct {
	Path    string
	Args    []string
	Env     []string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Stdout  *bytes.Buffer
	Err     error
}

// ExitCode returns the exit status of the finished process or -1
// when it did not exit normally
func (r Result) ExitCode() int {
	if r.State == nil {
		return -1
	}
	return r.State.ExitCode()
}

// Start runs the process and returns ErrScanInProgress when the previous one
// is still active. It does not wait for the command to finish, the result is
// delivered by ResultsChan.
func (r *Runner) Start(ctx context.Context, proto Command, stderrFunc StderrFunc) error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd != nil {
		return ErrScanInProgress
	}

	r.result = Result{
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
		Env:  append([]string(nil), proto.Env...),
	}

	r.cancelFunc = nil
	if proto.Timeout == 0 {
		slog.WarnContext(ctx, "command has no timeout", "path", proto.Path)
	} else {
		ctx, r.cancelFunc = context.WithTimeout(ctx, proto.Timeout)
	}

	cmd := exec.CommandContext(ctx, r.result.Path, r.result.Args...)
	cmd.Env = r.result.Env
	var stderr io.ReadCloser
	if stderrFunc != nil {
		var err error
		stderr, err = cmd.StderrPipe()
		if err != nil {
			r.cancel()
			return err
		}
	}
	var buf bytes.Buffer
	r.result.Stdout = &buf
	cmd.Stdout = &buf

	r.result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		r.cancel()
		r.result.Stopped = time.Now().UTC()
		r.result.Err = err
		return err
	}
	r.cmd = cmd

	var stderrDone chan struct{}
	if stderr != nil {
		stderrDone = make(chan struct{})
		go func() {
			defer close(stderrDone)
			processStderr(ctx, stderr, stderrFunc)
		}()
	}
	go r.wait(cmd, stderrDone)
	return nil
}

func (r *Runner) cancel() {
	if r.cancelFunc != nil {
		r.cancelFunc()
		r.cancelFunc = nil
	}
}

func processStderr(ctx context.Context, stderr io.Reader, stderrFunc StderrFunc) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		stderrFunc(ctx, scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
		slog.ErrorContext(ctx, "processing stderr", "error", err)
	}
}

func (r *Runner) wait(cmd *exec.Cmd, stderrDone <-chan struct{}) {
	// the pipe must be drained before Wait closes it
	if stderrDone != nil {
		<-stderrDone
	}
	err := cmd.Wait()
	stopped := time.Now().UTC()

	r.mx.Lock()
	r.cancel()
	r.result.Stopped = stopped
	r.result.State = cmd.ProcessState
	r.result.Err = err
	r.cmd = nil
	result := r.result
	r.mx.Unlock()

	select {
	case r.results <- result:
	case <-r.done:
	}
}

// ResultsChan delivers the result of every finished process. It is never closed.
func (r *Runner) ResultsChan() <-chan Result {
	return r.results
}

// LastResult returns the result of the last command, ErrScanNotStarted
// when nothing was started yet. Err is nil while the command runs.
func (r *Runner) LastResult() Result {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return r.result
}

// Close kills the running process and releases a pending result
func (r *Runner) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.cmd != nil && r.cmd.Process != nil {
		_ = r.cmd.Process.Kill()
	}
}
