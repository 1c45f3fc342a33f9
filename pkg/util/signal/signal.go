package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var onlyOneSignalHandler = make(chan struct{})

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// SetupSignalContext returns a context that is cancelled on the first
// SIGINT/SIGTERM and a channel that is closed on the second one. The second
// channel is used to request a hard stop of in-flight scaling work.
func SetupSignalContext() (context.Context, <-chan struct{}) {
	close(onlyOneSignalHandler) // panics when called twice

	shutdownHandler := make(chan os.Signal, 2)
	hard := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	signal.Notify(shutdownHandler, shutdownSignals...)
	go func() {
		<-shutdownHandler
		cancel()
		<-shutdownHandler
		close(hard)
	}()

	return ctx, hard
}
