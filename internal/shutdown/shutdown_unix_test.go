//go:build unix

package shutdown

import (
	"context"
	"syscall"
	"testing"
	"time"
)

func TestManager_SignalCancelsContext(t *testing.T) {
	m := NewManager()
	cleaned := make(chan string, 1)
	m.AddCleanup(func(reason string) { cleaned <- reason })

	ctx := m.Start(context.Background())

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Skipf("cannot signal self: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled by signal")
	}
	select {
	case reason := <-cleaned:
		if reason != "signal:terminated" {
			t.Errorf("reason = %q", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup not run after signal")
	}
}
