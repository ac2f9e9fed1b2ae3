package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// InvokeFunc performs the actual agent work inside the child process. The
// context carries the request's soft deadline; the parent's hard deadline
// dominates regardless of what the child does.
type InvokeFunc func(ctx context.Context, req Request) (string, error)

// ServeChild is the child-process side of the isolation protocol: it reads
// one JSON request from stdin, performs it under the soft deadline, and
// writes exactly one tagged JSON response to stdout. Errors are reported
// through the response rather than the exit code so the parent can
// distinguish an agent failure from a crashed child.
func ServeChild(stdin io.Reader, stdout io.Writer, invoke InvokeFunc) error {
	var req Request
	if err := json.NewDecoder(stdin).Decode(&req); err != nil {
		return fmt.Errorf("decode agent request: %w", err)
	}

	ctx := context.Background()
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout())
		defer cancel()
	}

	resp := Response{Tag: req.Tag}
	output, err := invoke(ctx, req)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.OK = true
		resp.Output = output
	}

	return json.NewEncoder(stdout).Encode(resp)
}

// CommandInvoker returns an InvokeFunc that shells out to the configured
// agent command, passing the prompt on stdin. The soft deadline is enforced
// through the exec context; the parent still holds the hard kill.
func CommandInvoker(command string, extraArgs []string) InvokeFunc {
	return func(ctx context.Context, req Request) (string, error) {
		if command == "" {
			return "", fmt.Errorf("no agent command configured")
		}

		args := append([]string(nil), extraArgs...)
		args = append(args,
			"--agent", req.AgentKey,
			"--max-turns", strconv.Itoa(req.MaxTurns),
		)
		if req.VectorStoreID != "" {
			args = append(args, "--vector-store", req.VectorStoreID)
		}

		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Stdin = strings.NewReader(req.Prompt)

		var out, errOut bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &errOut

		start := time.Now()
		if err := cmd.Run(); err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("agent command timed out after %s", time.Since(start).Round(time.Millisecond))
			}
			return "", fmt.Errorf("agent command failed: %w: %s", err, strings.TrimSpace(errOut.String()))
		}
		return out.String(), nil
	}
}
