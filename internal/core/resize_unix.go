//go:build !windows

package core

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"vrpterm/internal/session"
)

// watchResize reports the size of terminal fd after every SIGWINCH.
// Only the latest size is kept.
func watchResize(ctx context.Context, fd int) <-chan session.Size {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGWINCH)

	out := make(chan session.Size, 1)
	go func() {
		defer signal.Stop(sig)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sig:
			}
			w, h, err := term.GetSize(fd)
			if err != nil {
				continue
			}
			select {
			case <-out:
			default:
			}
			out <- session.Size{Cols: w, Rows: h}
		}
	}()
	return out
}
