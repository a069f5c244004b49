package subprocess

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/wagiedev/workerpool-go/internal/errors"
	"github.com/wagiedev/workerpool-go/internal/message"
)

const (
	// maxStderrBufferSize caps the stderr kept for error reporting.
	// Lines past the cap still reach the callback.
	maxStderrBufferSize = 1024 * 1024 // 1MB

	// writeLeakTimeout bounds the wait for a write goroutine after stdin is
	// closed to unblock it.
	writeLeakTimeout = time.Second
)

// Config describes how to spawn a worker process.
type Config struct {
	// Path is the worker binary.
	Path string

	// Args are passed to the binary.
	Args []string

	// Env is the child's environment. If nil, the parent's is inherited.
	Env []string

	// Dir is the child's working directory. If empty, the parent's is used.
	Dir string

	// Stderr receives each line the child writes to stderr.
	Stderr func(string)
}

// Process is a spawned worker process. It implements the native process
// contract used by the worker package.
type Process struct {
	log    *slog.Logger
	cfg    *Config
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	mu           sync.Mutex // Protects stdin writes and the flags below
	closing      bool       // Whether Kill was called (intentional shutdown)
	disconnected bool       // Whether stdin was closed

	readOnce sync.Once
	packets  chan message.Packet
	errs     chan error
}

// Start spawns the process described by cfg.
//
// The process is started with exec.Command rather than CommandContext: its
// lifetime is managed through Kill and Disconnect, not the context, which
// only bounds startup.
func Start(ctx context.Context, log *slog.Logger, cfg *Config) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log = log.With("component", "subprocess", "path", cfg.Path)

	//nolint:gosec // G204: launching a configured worker binary is the purpose of this package
	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Dir = cfg.Dir
	cmd.Env = cfg.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		log.Error("Failed to start worker process", "error", err)

		return nil, fmt.Errorf("start process: %w", err)
	}

	log = log.With("pid", cmd.Process.Pid)
	log.Info("Worker process started")

	return &Process{
		log:    log,
		cfg:    cfg,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// ReadMessages reads frames from the child's stdout.
//
// The packet channel is closed when the child closes stdout or exits. If the
// child exits abnormally and was not killed, a ProcessError carrying its
// captured stderr is delivered on the error channel first. Invalid frames are
// reported as DecodeErrors without stopping the reader. Repeated calls return
// the same channels.
func (p *Process) ReadMessages(ctx context.Context) (<-chan message.Packet, <-chan error) {
	p.readOnce.Do(func() {
		p.packets = make(chan message.Packet)
		p.errs = make(chan error, 1)

		go p.readLoop(ctx)
	})

	return p.packets, p.errs
}

func (p *Process) readLoop(ctx context.Context) {
	defer close(p.packets)
	defer close(p.errs)
	defer p.log.Debug("ReadMessages goroutine stopped")

	var (
		stderrWg     sync.WaitGroup
		stderrMu     sync.Mutex
		stderrBuffer strings.Builder
	)

	// Stderr must be fully read before Wait.
	// See: https://pkg.go.dev/os/exec#Cmd.StderrPipe
	stderrWg.Go(func() {
		scanner := bufio.NewScanner(p.stderr)
		scanner.Buffer(make([]byte, 64*1024), maxMessageSize)

		for scanner.Scan() {
			line := scanner.Text()

			stderrMu.Lock()

			if stderrBuffer.Len() < maxStderrBufferSize {
				if stderrBuffer.Len() > 0 {
					stderrBuffer.WriteString("\n")
				}

				stderrBuffer.WriteString(line)
			}

			stderrMu.Unlock()

			p.log.Debug("Worker stderr", "line", line)

			if p.cfg.Stderr != nil {
				p.cfg.Stderr(line)
			}
		}

		if err := scanner.Err(); err != nil {
			p.log.Debug("Stderr scanner error", "error", err)
			_, _ = io.Copy(io.Discard, p.stderr)
		}
	})

	if err := readFrames(ctx, p.log, p.stdout, p.packets, p.errs); err != nil {
		p.log.Error("Error reading worker output", "error", err)
		report(ctx, p.errs, err)
	}

	stderrWg.Wait()

	p.log.Debug("Waiting for worker process to exit")

	err := p.cmd.Wait()
	if err == nil {
		p.log.Info("Worker process exited")

		return
	}

	p.mu.Lock()
	isClosing := p.closing
	p.mu.Unlock()

	if isClosing {
		p.log.Debug("Worker process terminated during shutdown", "error", err)

		return
	}

	stderrMu.Lock()
	stderrOutput := strings.TrimSpace(stderrBuffer.String())
	stderrMu.Unlock()

	exitCode := -1
	if exitErr, ok := stderrors.AsType[*exec.ExitError](err); ok {
		exitCode = exitErr.ExitCode()
	}

	p.log.Error("Worker process exited with error", "exit_code", exitCode, "stderr", stderrOutput)

	report(ctx, p.errs, &errors.ProcessError{
		Pid:      p.Pid(),
		ExitCode: exitCode,
		Stderr:   stderrOutput,
		Err:      err,
	})
}

// SendMessage writes one frame to the child's stdin.
//
// Writes are serialized and respect ctx even while blocked; a write abandoned
// by ctx closes stdin, after which the link is disconnected.
func (p *Process) SendMessage(ctx context.Context, data []byte, handle message.Handle) error {
	if handle != nil {
		return errors.ErrHandleUnsupported
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disconnected {
		return errors.ErrDisconnected
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)

	go func() {
		done <- writeFrame(p.stdin, data)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("write to stdin: %w", err)
		}

		return nil

	case <-ctx.Done():
		p.log.Debug("Context cancelled during write, closing stdin")

		_ = p.stdin.Close()
		p.disconnected = true

		select {
		case <-done:
		case <-time.After(writeLeakTimeout):
			p.log.Warn("Write goroutine did not exit after stdin close, potential leak")
		}

		return ctx.Err()
	}
}

// Disconnect closes the child's stdin. A well-behaved worker treats EOF as
// its parent going away and exits. It is safe to call repeatedly.
func (p *Process) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.disconnected {
		return nil
	}

	p.log.Debug("Closing worker stdin")
	p.disconnected = true

	return p.stdin.Close()
}

// Kill sends sig to the child. Exit after Kill is not reported as an error.
func (p *Process) Kill(sig os.Signal) error {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()

	p.log.Debug("Signalling worker process", "signal", sig)

	if err := p.cmd.Process.Signal(sig); err != nil {
		if stderrors.Is(err, os.ErrProcessDone) {
			return nil
		}

		return fmt.Errorf("signal worker process (pid %d): %w", p.Pid(), err)
	}

	return nil
}
