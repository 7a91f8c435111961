package reloader

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// OnSIGHUP calls fn for every SIGHUP until ctx is done.
func OnSIGHUP(ctx context.Context, fn func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	go func() {
		defer signal.Stop(ch)
		Watch(ctx, ch, fn)
	}()
}

// Watch calls fn for each value received on ch until ctx is done or ch is
// closed. Reloads run one at a time.
func Watch(ctx context.Context, ch <-chan os.Signal, fn func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			fn()
		}
	}
}
