// Package core is the orchestration layer.  It composes a listener, the
// Telnet decoder and a capability into a running gateway, and provides
// a builder that assembles one from a Config.
//
// Architecture layers (bottom → top):
//
//	transport  →  telnet  →  session  →  capability  →  core  →  cmd (CLI)
//
// The builder in this package is the single dispatch point between
// configuration and the runtime objects.
package core

import "context"

// Mode is a complete operational mode of grid-gateway.  It owns its
// full lifecycle from binding to teardown.
type Mode interface {
	Run(ctx context.Context) error
}
