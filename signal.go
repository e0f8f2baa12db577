package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// exitCodeInterrupted is the conventional status for a process ended by
// SIGINT.
const exitCodeInterrupted = 130

// forceExit ends the process when a second signal arrives. Tests replace it.
var forceExit = func() { os.Exit(exitCodeInterrupted) }

// shutdownContext returns a context canceled by the first SIGINT or SIGTERM,
// giving watch the chance to finish a session check and close the token
// store. A second signal calls forceExit. stop unregisters the handler and
// cancels the context; watch defers it.
func shutdownContext(parent context.Context, logger *slog.Logger) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stopped := make(chan struct{})

	var once sync.Once

	stop = func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(stopped)
			cancel()
		})
	}

	go func() {
		received := 0

		for {
			select {
			case sig := <-sigCh:
				received++

				if received == 1 {
					logger.Info("stopping, send the signal again to exit immediately",
						slog.String("signal", sig.String()),
					)
					cancel()

					continue
				}

				logger.Warn("exiting without cleanup", slog.String("signal", sig.String()))
				forceExit()

				return
			case <-stopped:
				return
			case <-parent.Done():
				stop()
				return
			}
		}
	}()

	return ctx, stop
}
