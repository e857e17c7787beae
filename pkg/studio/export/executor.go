package export

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds an encoder run when the caller's context has no
// deadline.
const DefaultTimeout = 10 * time.Minute

// Executor runs one encoder invocation. Errors carry the encoder diagnostic.
type Executor interface {
	Run(ctx context.Context, args []string) error
}

// LocalExecutor runs a binary found on PATH.
type LocalExecutor struct {
	Binary  string
	Timeout time.Duration
}

// RunError is returned by LocalExecutor when the process exits non-zero.
type RunError struct {
	Err    error
	Stderr string
}

func (e *RunError) Error() string {
	if e.Stderr == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Stderr)
}

func (e *RunError) Unwrap() error { return e.Err }

func (e LocalExecutor) Run(ctx context.Context, args []string) error {
	bin := e.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	if _, ok := ctx.Deadline(); !ok {
		timeout := e.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RunError{Err: err, Stderr: strings.TrimSpace(stderr.String())}
	}
	return nil
}
