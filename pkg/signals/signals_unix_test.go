//go:build unix

package signals

import (
	"context"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelOnSignal(t *testing.T) {
	var exitCode atomic.Int32
	exit = func(code int) { exitCode.Store(int32(code)) }
	t.Cleanup(func() { exit = defaultExit })

	ctx, stop := CancelOnSignal(context.Background(), syscall.SIGUSR1)
	defer stop()

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context was not cancelled by the signal")
	}

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGUSR1))
	assert.Eventually(t, func() bool { return exitCode.Load() == ExitCodeInterrupted }, 5*time.Second, 10*time.Millisecond)
}

func TestCancelOnSignalStop(t *testing.T) {
	ctx, stop := CancelOnSignal(context.Background(), syscall.SIGUSR2)
	stop()
	stop()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
