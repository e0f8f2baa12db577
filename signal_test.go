package main

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitDone(t *testing.T, ctx context.Context, what string) {
	t.Helper()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("context not canceled within 2 seconds of %s", what)
	}
}

func TestShutdownContext_FirstSignalCancels(t *testing.T) {
	ctx, stop := shutdownContext(context.Background(), quietLogger())
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGINT))

	waitDone(t, ctx, "SIGINT")
}

func TestShutdownContext_SecondSignalForcesExit(t *testing.T) {
	exited := make(chan struct{})

	old := forceExit
	forceExit = func() { close(exited) }
	t.Cleanup(func() { forceExit = old })

	ctx, stop := shutdownContext(context.Background(), quietLogger())
	defer stop()

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))
	waitDone(t, ctx, "SIGTERM")

	require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGTERM))

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("second signal did not force exit")
	}
}

func TestShutdownContext_StopCancels(t *testing.T) {
	ctx, stop := shutdownContext(context.Background(), quietLogger())

	stop()
	stop()

	waitDone(t, ctx, "stop")
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestShutdownContext_ParentCancelPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, stop := shutdownContext(parent, quietLogger())
	defer stop()

	cancel()

	waitDone(t, ctx, "parent cancel")
	require.ErrorIs(t, ctx.Err(), context.Canceled)
}
