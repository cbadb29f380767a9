// Package api hosts the HTTP handlers that front the camlink control API.
//
// The handlers translate the host framework's session requests (setup, start,
// reconfigure, stop), snapshot fetches, and health probes into calls on the
// per-camera stream.Manager instances injected at construction time. The
// package does not reach for globals or singletons and expects callers to
// supply fully configured dependencies.
//
// Handler implementations assume upstream middleware from internal/server has
// already enforced authentication, rate limiting, metrics, and logging
// concerns. New routes should preserve that contract by avoiding duplicate
// validation and by leaning on the middleware guarantees established in the
// server stack.
package api
