package shutdown_test

import (
	"testing"
	"time"

	"github.com/entreya/flowagg/internal/shutdown"
)

func TestCancelBeforeSignalNeverRunsTeardown(t *testing.T) {
	ran := make(chan struct{}, 1)
	cancel := shutdown.OnSignal(func() { ran <- struct{}{} })
	cancel()

	select {
	case <-ran:
		t.Fatal("teardown ran without a signal")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCancelIsSafeToCallTwice(t *testing.T) {
	cancel := shutdown.OnSignal(func() {})
	cancel()
	cancel()
}
