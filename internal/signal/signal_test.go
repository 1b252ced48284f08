//go:build unix

package signal

import (
	"syscall"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestTrapCallsHandlerUntilReleased(t *testing.T) {
	defer goleak.VerifyNone(t)

	got := make(chan struct{}, 1)
	release := Trap(func() { got <- struct{}{} })

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("kill: %v", err)
	}
	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt handler was not called")
	}
	release()
}
