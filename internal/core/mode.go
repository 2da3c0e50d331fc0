// Package core is the orchestration layer.  It turns a validated
// config.Config into a runnable Mode: attaching the local terminal to a
// single device session, or serving the session registry over HTTP.
//
// Architecture layers (bottom → top):
//
//	transport  →  session / reconnect  →  api  →  core  →  cmd (CLI)
package core

import "context"

// Mode represents a complete operational mode of vrpterm (attach or
// serve).  Each mode owns its full lifecycle from start-up to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
