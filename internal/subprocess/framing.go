package subprocess

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/wagiedev/workerpool-go/internal/errors"
	"github.com/wagiedev/workerpool-go/internal/message"
)

// maxMessageSize is the largest frame accepted on a pipe.
const maxMessageSize = 8 * 1024 * 1024 // 8MB

// readFrames reads newline-delimited JSON frames from r and delivers them on
// packets until EOF or ctx ends. Blank lines are skipped. Lines that are not
// valid JSON are reported as DecodeErrors and reading continues.
//
// It returns the scanner's error, if any; EOF is not an error.
func readFrames(
	ctx context.Context,
	log *slog.Logger,
	r io.Reader,
	packets chan<- message.Packet,
	errs chan<- error,
) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxMessageSize)

	frameCount := 0

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if !json.Valid(line) {
			log.Debug("Dropping invalid frame", "frame", string(line))
			report(ctx, errs, &errors.DecodeError{
				RawData: string(line),
				Err:     fmt.Errorf("invalid JSON frame"),
			})

			continue
		}

		// The scanner reuses its buffer between calls.
		data := make([]byte, len(line))
		copy(data, line)

		frameCount++

		select {
		case packets <- message.Packet{Data: data}:
		case <-ctx.Done():
			return nil
		}
	}

	log.Debug("Frame reader reached end of stream", "frame_count", frameCount)

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// writeFrame writes data followed by a newline.
func writeFrame(w io.Writer, data []byte) error {
	// Copy so the caller's backing array is never mutated.
	frame := make([]byte, len(data)+1)
	copy(frame, data)
	frame[len(data)] = '\n'

	_, err := w.Write(frame)

	return err
}

// report delivers err unless ctx ends first.
func report(ctx context.Context, errs chan<- error, err error) {
	select {
	case errs <- err:
	case <-ctx.Done():
	}
}
