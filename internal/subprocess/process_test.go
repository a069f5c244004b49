package subprocess

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	poolerrors "github.com/wagiedev/workerpool-go/internal/errors"

	"github.com/stretchr/testify/require"
)

const helperEnv = "WORKERPOOL_SUBPROCESS_HELPER"

// TestMain lets the test binary double as the child process.
func TestMain(m *testing.M) {
	switch os.Getenv(helperEnv) {
	case "":
		os.Exit(m.Run())
	case "echo":
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			fmt.Fprintln(os.Stdout, scanner.Text())
		}

		os.Exit(0)
	case "fail":
		fmt.Fprintln(os.Stderr, "first line")
		fmt.Fprintln(os.Stderr, "second line")
		os.Exit(3)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	}
}

func startHelper(t *testing.T, mode string, stderr func(string)) *Process {
	t.Helper()

	proc, err := Start(context.Background(), slog.New(slog.DiscardHandler), &Config{
		Path:   os.Args[0],
		Args:   []string{"-test.run=^$"},
		Env:    append(os.Environ(), helperEnv+"="+mode),
		Stderr: stderr,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = proc.Kill(os.Kill)
	})

	return proc
}

func TestProcess_EchoRoundTrip(t *testing.T) {
	ctx := context.Background()
	proc := startHelper(t, "echo", nil)
	require.Positive(t, proc.Pid())

	packets, errs := proc.ReadMessages(ctx)

	require.NoError(t, proc.SendMessage(ctx, []byte(`{"type":"ready"}`), nil))

	select {
	case pkt := <-packets:
		require.JSONEq(t, `{"type":"ready"}`, string(pkt.Data))
		require.Nil(t, pkt.Handle)
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for echo")
	}

	require.NoError(t, proc.Disconnect())
	require.NoError(t, proc.Disconnect())

	for range packets {
	}

	require.ErrorIs(t, proc.SendMessage(ctx, []byte(`{}`), nil), poolerrors.ErrDisconnected)

	// Clean exit reports nothing.
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestProcess_AbnormalExitCarriesStderr(t *testing.T) {
	var lines []string

	lineCh := make(chan string, 4)
	proc := startHelper(t, "fail", func(line string) { lineCh <- line })

	packets, errs := proc.ReadMessages(context.Background())

	var procErr *poolerrors.ProcessError

	select {
	case err := <-errs:
		require.True(t, errors.As(err, &procErr))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for process error")
	}

	require.Equal(t, proc.Pid(), procErr.Pid)
	require.Equal(t, 3, procErr.ExitCode)
	require.Equal(t, "first line\nsecond line", procErr.Stderr)

	for range packets {
	}

	close(lineCh)

	for line := range lineCh {
		lines = append(lines, line)
	}

	require.Equal(t, []string{"first line", "second line"}, lines)
}

func TestProcess_KillIsNotAnError(t *testing.T) {
	proc := startHelper(t, "hang", nil)

	packets, errs := proc.ReadMessages(context.Background())

	require.NoError(t, proc.Kill(syscall.SIGTERM))

	for range packets {
	}

	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}

	// Signalling an exited process is quiet.
	require.NoError(t, proc.Kill(syscall.SIGTERM))
}

func TestProcess_HandlesUnsupported(t *testing.T) {
	proc := startHelper(t, "echo", nil)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	err := proc.SendMessage(context.Background(), []byte(`{}`), a)
	require.ErrorIs(t, err, poolerrors.ErrHandleUnsupported)
}

func TestStart_MissingBinary(t *testing.T) {
	_, err := Start(context.Background(), slog.New(slog.DiscardHandler), &Config{
		Path: "/nonexistent/worker-binary",
	})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "start process"))
}

func TestStdioLink(t *testing.T) {
	ctx := context.Background()

	parentIn, childOut, err := os.Pipe()
	require.NoError(t, err)

	childIn, parentOut, err := os.Pipe()
	require.NoError(t, err)

	defer parentIn.Close()
	defer parentOut.Close()

	link := NewStdioLink(slog.New(slog.DiscardHandler), childIn, childOut)
	packets, _ := link.ReadMessages(ctx)

	_, err = parentOut.WriteString(`{"type":"ready"}` + "\n")
	require.NoError(t, err)

	select {
	case pkt := <-packets:
		require.JSONEq(t, `{"type":"ready"}`, string(pkt.Data))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	require.NoError(t, link.SendMessage(ctx, []byte(`{"type":"closed"}`), nil))

	line, err := bufio.NewReader(parentIn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, `{"type":"closed"}`+"\n", line)

	require.NoError(t, link.Disconnect())
	require.NoError(t, link.Disconnect())
	require.ErrorIs(t, link.SendMessage(ctx, []byte(`{}`), nil), poolerrors.ErrDisconnected)
}
