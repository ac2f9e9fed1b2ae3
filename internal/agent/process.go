package agent

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/draftforge/internal/errors"
	"github.com/draftforge/draftforge/internal/logging"
)

// ChildArg is the hidden subcommand the orchestrator re-invokes itself with
// to host one agent call.
const ChildArg = "agent-call"

// ProcessExecutor spawns one fresh OS process per call and exchanges a
// tagged JSON request/response pair over the child's stdio. Exactly one of
// response or error settles each Invoke, whichever fires first of: a
// correctly-tagged response, the parent hard deadline, the caller's
// cancellation, the child exiting before responding, or a spawn failure.
type ProcessExecutor struct {
	command string
	args    []string
	log     *logging.Logger
}

// NewProcessExecutor creates a process-per-call executor. When command is
// empty the current executable is re-invoked with the agent-call
// subcommand, so no child path needs to be configured.
func NewProcessExecutor(command string, args []string, log *logging.Logger) (*ProcessExecutor, error) {
	if command == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve child entry point")
		}
		command = self
		args = []string{ChildArg}
	}
	if log == nil {
		log = logging.NopLogger()
	}
	return &ProcessExecutor{command: command, args: args, log: log}, nil
}

// lockedBuffer accumulates child output across goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Invoke runs one agent call in a fresh child process. On failure the
// child's accumulated stdout/stderr is attached to the returned error.
func (e *ProcessExecutor) Invoke(ctx context.Context, req Request) (*Response, error) {
	req.Tag = uuid.NewString()

	var stdoutNoise, stderrBuf lockedBuffer

	cmd := exec.Command(e.command, e.args...)
	cmd.Stderr = &stderrBuf

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open child stdin")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open child stdout")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.NewChildProcessError(req.Step,
			errors.Wrapf(err, "failed to spawn agent process"), "", stderrBuf.String())
	}

	log := e.log.WithRun(req.RunID).WithStep(req.Step)
	log.Debug("agent child spawned", "pid", cmd.Process.Pid, "tag", req.Tag)

	// Ship the request and close stdin so the child sees EOF.
	go func() {
		enc := json.NewEncoder(stdin)
		_ = enc.Encode(req)
		_ = stdin.Close()
	}()

	respCh := make(chan Response, 1)
	exitCh := make(chan error, 1)

	// Scan the child's stdout for the tagged response. Responses carrying a
	// different tag are stale leftovers and are discarded; everything else
	// is kept as diagnostic noise. The child is reaped here so a delivered
	// response always wins the race against process exit.
	go func() {
		delivered := false
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			var resp Response
			if err := json.Unmarshal(line, &resp); err == nil && resp.Tag != "" {
				if resp.Tag != req.Tag {
					continue
				}
				if !delivered {
					delivered = true
					respCh <- resp
				}
				continue
			}
			_, _ = stdoutNoise.Write(append(append([]byte{}, line...), '\n'))
		}
		waitErr := cmd.Wait()
		if !delivered {
			exitCh <- waitErr
		}
	}()

	timer := time.NewTimer(hardDeadline(req.Timeout()))
	defer timer.Stop()

	var settled error
	var resp *Response

	select {
	case r := <-respCh:
		if r.OK {
			resp = &r
		} else {
			settled = fmt.Errorf("agent reported failure: %s", r.Error)
		}
	case <-timer.C:
		settled = errors.Wrapf(errors.ErrChildTimeout, "hard deadline %s", hardDeadline(req.Timeout()))
	case <-ctx.Done():
		settled = errors.Join(errors.ErrCancelled, ctx.Err())
	case waitErr := <-exitCh:
		if waitErr != nil {
			settled = errors.Join(errors.ErrChildExited, waitErr)
		} else {
			settled = errors.ErrChildExited
		}
	}

	// Force-kill if the child is still alive; the reaper goroutine drains
	// Wait. Kill errors are irrelevant once we have settled.
	_ = cmd.Process.Kill()

	if settled != nil {
		log.Warn("agent call failed", "error", settled)
		return nil, errors.NewChildProcessError(req.Step, settled, stdoutNoise.String(), stderrBuf.String())
	}

	log.Debug("agent call settled", "output_bytes", len(resp.Output))
	return resp, nil
}
