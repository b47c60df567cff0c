package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// SetupSignalHandler returns a context cancelled on the first SIGINT or
// SIGTERM. A second signal restores default handling, so it terminates the
// process during a slow drain. Call stop to release the handler.
func SetupSignalHandler(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	ctx, stop = signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}

// OnReload calls fn for every SIGHUP until ctx ends. It blocks; run it in
// its own goroutine.
func OnReload(ctx context.Context, fn func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	defer signal.Stop(sig)
	relay(ctx, sig, fn)
}

func relay(ctx context.Context, sig <-chan os.Signal, fn func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			fn()
		}
	}
}
