package signals

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ExitCodeInterrupted is used when a second signal forces the process out.
const ExitCodeInterrupted = 130

var (
	defaultExit = os.Exit
	exit        = defaultExit
)

// CancelOnSignal returns a copy of parent that is cancelled when one of sigs
// (SIGINT and SIGTERM if none are given) arrives. A second signal exits the
// process immediately. Call the returned CancelFunc to stop listening.
func CancelOnSignal(parent context.Context, sigs ...os.Signal) (context.Context, context.CancelFunc) {
	if len(sigs) == 0 {
		sigs = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, sigs...)
	done := make(chan struct{})

	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			slog.Info("Received signal, cancelling", "signal", sig)
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-sigCh:
			slog.Warn("Received second signal, exiting", "signal", sig)
			exit(ExitCodeInterrupted)
		case <-done:
		}
	}()

	var stopOnce sync.Once
	return ctx, func() {
		cancel()
		stopOnce.Do(func() { close(done) })
	}
}
