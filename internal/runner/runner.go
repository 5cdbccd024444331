package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// DefaultTailBytes bounds how much process output is kept for diagnostics.
const DefaultTailBytes = 64 << 10

// Command describes one invocation of an external tool.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner executes external commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (duration time.Duration, logContent string, err error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Command, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExecRunner runs commands as child processes. Output is streamed to Output
// (stderr when nil) and the tail of it is returned as the log content.
type ExecRunner struct {
	Output    io.Writer
	TailBytes int
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (time.Duration, string, error) {
	start := time.Now()
	out := r.Output
	if out == nil {
		out = os.Stderr
	}
	limit := r.TailBytes
	if limit <= 0 {
		limit = DefaultTailBytes
	}
	tail := &tailBuffer{max: limit}
	w := io.MultiWriter(out, tail)

	execCmd := exec.CommandContext(ctx, c.Name, c.Args...)
	execCmd.Dir = c.Dir
	if len(c.Env) > 0 {
		execCmd.Env = append(os.Environ(), c.Env...)
	}
	execCmd.Stdout = w
	execCmd.Stderr = w
	err := execCmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return time.Since(start), tail.String(), &ExitError{Command: c.Name, Code: exitErr.ExitCode(), Err: err}
		}
		return time.Since(start), tail.String(), fmt.Errorf("run %s: %w", c.Name, err)
	}
	return time.Since(start), tail.String(), nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// FakeRunner is used in tests. Hook, when set, runs before the canned result
// is returned and may populate the command's output directory.
type FakeRunner struct {
	Calls []Command
	Hook  func(Command) error
	Err   error
	Dur   time.Duration
	Log   string
}

func (f *FakeRunner) Run(ctx context.Context, c Command) (time.Duration, string, error) {
	f.Calls = append(f.Calls, c)
	if f.Hook != nil {
		if err := f.Hook(c); err != nil {
			return f.Dur, f.Log, err
		}
	}
	return f.Dur, f.Log, f.Err
}
