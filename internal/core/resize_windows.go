//go:build windows

package core

import (
	"context"

	"vrpterm/internal/session"
)

// watchResize is a no-op: Windows consoles have no SIGWINCH.
func watchResize(context.Context, int) <-chan session.Size { return nil }
