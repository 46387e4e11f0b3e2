//go:build !windows

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// HostRunner runs commands directly on the host machine without isolation.
type HostRunner struct {
	config Config
}

func NewHostRunner(cfg Config) *HostRunner { return &HostRunner{config: cfg} }

// Run starts cmd in its own process group so cancellation kills the whole tree.
func (r *HostRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, r.config.timeout(cmd.Timeout))
	defer cancel()

	c := exec.Command(cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	c.Stdout = &stdoutBuf
	c.Stderr = &stderrBuf

	start := time.Now()
	if err := c.Start(); err != nil {
		return Result{}, err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-cctx.Done():
			if c.Process != nil {
				_ = syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
			}
		case <-done:
		}
	}()

	waitErr := c.Wait()
	close(done)

	res := Result{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}

	if cctx.Err() != nil {
		res.TimedOut = errors.Is(cctx.Err(), context.DeadlineExceeded)
		res.Code = -1
		return res, cctx.Err()
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.Code = exitErr.ExitCode()
			return res, nil
		}
		return res, waitErr
	}
	return res, nil
}
