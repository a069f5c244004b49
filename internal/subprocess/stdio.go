package subprocess

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/wagiedev/workerpool-go/internal/errors"
	"github.com/wagiedev/workerpool-go/internal/message"
)

// StdioLink is the worker side of a spawned process: frames arrive on the
// process's stdin and leave on its stdout.
type StdioLink struct {
	log *slog.Logger
	in  io.ReadCloser
	out io.WriteCloser

	mu           sync.Mutex
	disconnected bool

	readOnce sync.Once
	packets  chan message.Packet
	errs     chan error
}

// NewStdioLink creates a link reading from in and writing to out.
func NewStdioLink(log *slog.Logger, in io.ReadCloser, out io.WriteCloser) *StdioLink {
	return &StdioLink{
		log: log.With("component", "stdio"),
		in:  in,
		out: out,
	}
}

// Stdio creates a link over the process's own stdin and stdout.
func Stdio(log *slog.Logger) *StdioLink {
	return NewStdioLink(log, os.Stdin, os.Stdout)
}

// ReadMessages reads frames from the input stream. The packet channel is
// closed when the parent closes its end. Repeated calls return the same
// channels.
func (l *StdioLink) ReadMessages(ctx context.Context) (<-chan message.Packet, <-chan error) {
	l.readOnce.Do(func() {
		l.packets = make(chan message.Packet)
		l.errs = make(chan error, 1)

		go func() {
			defer close(l.packets)
			defer close(l.errs)

			if err := readFrames(ctx, l.log, l.in, l.packets, l.errs); err != nil {
				l.log.Error("Error reading parent input", "error", err)
				report(ctx, l.errs, err)
			}
		}()
	})

	return l.packets, l.errs
}

// SendMessage writes one frame to the output stream.
func (l *StdioLink) SendMessage(ctx context.Context, data []byte, handle message.Handle) error {
	if handle != nil {
		return errors.ErrHandleUnsupported
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disconnected {
		return errors.ErrDisconnected
	}

	if err := writeFrame(l.out, data); err != nil {
		return fmt.Errorf("write to stdout: %w", err)
	}

	return nil
}

// Disconnect closes the output stream, then the input stream. Closing the
// input unblocks a pending read. It is safe to call repeatedly.
func (l *StdioLink) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disconnected {
		return nil
	}

	l.disconnected = true

	outErr := l.out.Close()
	inErr := l.in.Close()

	if outErr != nil {
		return fmt.Errorf("close output: %w", outErr)
	}

	if inErr != nil {
		return fmt.Errorf("close input: %w", inErr)
	}

	return nil
}
