package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/go-multierror"
)

const defaultShutdownGrace = 2 * time.Second

// ProcessOptions describes the backend executable.
type ProcessOptions struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	Logger  *log.Logger
	// ShutdownGrace bounds how long Close waits before killing the process.
	ShutdownGrace time.Duration
}

// Process is a backend running as a child process speaking the frame
// protocol on its stdin and stdout. Its stderr is forwarded to ours.
type Process struct {
	*Client
	cmd   *exec.Cmd
	grace time.Duration
	wait  chan error

	closeOnce sync.Once
	closeErr  error
}

// StartProcess launches the backend. ctx only bounds the start itself.
func StartProcess(ctx context.Context, opts ProcessOptions) (*Process, error) {
	if opts.Command == "" {
		return nil, errors.New("backend: no command configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(opts.Command, opts.Args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("backend: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("backend: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("backend: start %s: %w", opts.Command, err)
	}
	grace := opts.ShutdownGrace
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	p := &Process{
		Client: NewClient(stdout, stdin, opts.Logger),
		cmd:    cmd,
		grace:  grace,
		wait:   make(chan error, 1),
	}
	go func() {
		// Wait closes stdout, so drain responses first.
		<-p.Client.Exited()
		p.wait <- cmd.Wait()
	}()
	if opts.Logger != nil {
		opts.Logger.Info("backend started", "command", opts.Command, "pid", cmd.Process.Pid)
	}
	return p, nil
}

// Close closes stdin, waits for the process to exit and kills it once the
// grace period has passed.
func (p *Process) Close() error {
	p.closeOnce.Do(func() { p.closeErr = p.shutdown() })
	return p.closeErr
}

func (p *Process) shutdown() error {
	var result *multierror.Error
	if err := p.Client.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close stdin: %w", err))
	}
	timer := time.NewTimer(p.grace)
	defer timer.Stop()
	select {
	case err := <-p.wait:
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("wait: %w", err))
		}
	case <-timer.C:
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			result = multierror.Append(result, fmt.Errorf("kill: %w", err))
		}
		<-p.wait
	}
	return result.ErrorOrNil()
}
