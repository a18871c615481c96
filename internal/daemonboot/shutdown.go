package daemonboot

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// WatchSignals installs SIGINT/SIGTERM handlers and invokes onShutdown
// exactly once, in its own goroutine, when either arrives. It returns a
// stop func that removes the handlers (for tests and for orderly
// re-arming). Matches provisr's cmd/provisr signal-handling style,
// generalized to a single shutdown callback instead of inline os.Exit.
func WatchSignals(onShutdown func()) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var once sync.Once
	done := make(chan struct{})

	go func() {
		select {
		case <-sigCh:
			once.Do(onShutdown)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
