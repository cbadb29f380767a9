// Package server hosts the camlink control API from a single HTTP server.
//
// The server builds a consistent middleware chain of auth, rate limiting,
// metrics, security headers, request IDs, and logging so handlers all share
// common protections and instrumentation.
package server
