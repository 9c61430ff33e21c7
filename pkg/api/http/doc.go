// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Prompt submission and reset
//   - Deliberation snapshot queries
//   - Health checks
//   - Prometheus metrics
package http
