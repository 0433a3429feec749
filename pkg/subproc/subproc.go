// Package subproc runs external tools (ffmpeg, yt-dlp, ffprobe) with combined
// output capture and soft-then-hard termination: on context cancellation the
// process receives SIGTERM, and after a grace period SIGKILL.
package subproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// DefaultGrace is how long a process gets between SIGTERM and SIGKILL.
const DefaultGrace = 5 * time.Second

var ErrToolMissing = errors.New("tool not found in PATH")

// Result holds the outcome of a finished process.
type Result struct {
	Output   string // combined stdout+stderr
	TimedOut bool   // the run context hit its deadline
	Killed   bool   // the process needed SIGKILL after the grace period
}

// Runner executes a single tool. The zero value is not usable; use New.
type Runner struct {
	tool  string
	grace time.Duration
}

// New returns a Runner for the named tool. Fails if the tool is not on PATH.
func New(tool string) (*Runner, error) {
	if _, err := exec.LookPath(tool); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrToolMissing, tool)
	}
	return &Runner{tool: tool, grace: DefaultGrace}, nil
}

// SetGrace overrides the SIGTERM-to-SIGKILL grace period.
func (r *Runner) SetGrace(d time.Duration) { r.grace = d }

// Tool returns the tool name the runner was built for.
func (r *Runner) Tool() string { return r.tool }

// Run executes the tool with args, returning combined output. A cancelled or
// expired ctx terminates the process (TERM, grace, KILL). The returned Result
// is valid even when err != nil.
func (r *Runner) Run(ctx context.Context, args ...string) (Result, error) {
	cmd := exec.Command(r.tool, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	return r.wait(ctx, cmd, &out)
}

// RunStreaming executes the tool, feeding each stdout line to onLine as it
// arrives. Stderr is still captured into the Result output.
func (r *Runner) RunStreaming(ctx context.Context, onLine func(string), args ...string) (Result, error) {
	cmd := exec.Command(r.tool, args...)
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}

	lineDone := make(chan struct{})
	go func() {
		defer close(lineDone)
		scanLines(stdout, onLine)
	}()

	res, err := r.wait(ctx, cmd, &errBuf)
	<-lineDone
	return res, err
}

func (r *Runner) wait(ctx context.Context, cmd *exec.Cmd, out *bytes.Buffer) (Result, error) {
	if err := cmd.Start(); err != nil {
		return Result{Output: out.String()}, fmt.Errorf("%s start: %w", r.tool, err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var res Result
	select {
	case err := <-waitErr:
		res.Output = out.String()
		if err != nil {
			return res, fmt.Errorf("%s: %w", r.tool, err)
		}
		return res, nil
	case <-ctx.Done():
	}

	// Escalate: TERM, grace, KILL.
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-waitErr:
	case <-time.After(r.grace):
		res.Killed = true
		_ = cmd.Process.Kill()
		<-waitErr
	}

	res.Output = out.String()
	res.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
	return res, fmt.Errorf("%s terminated: %w", r.tool, ctx.Err())
}

func scanLines(r interface{ Read([]byte) (int, error) }, onLine func(string)) {
	buf := make([]byte, 4096)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				// yt-dlp progress uses \r as well as \n; treat both as line ends.
				i := bytes.IndexAny(pending, "\r\n")
				if i < 0 {
					break
				}
				line := string(bytes.TrimSpace(pending[:i]))
				pending = pending[i+1:]
				if line != "" {
					onLine(line)
				}
			}
		}
		if err != nil {
			if line := string(bytes.TrimSpace(pending)); line != "" {
				onLine(line)
			}
			return
		}
	}
}
