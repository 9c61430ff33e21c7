// Package transport provides the remote council collaborators.
//
// Implementations:
//   - sse: HTTP session creation plus a server-sent events stream
//   - websocket: HTTP session creation plus a websocket stream
//
// Both implement ports.SessionProvider and ports.StreamProvider.
package transport
