// Package orchestrator implements the client-side deliberation orchestrator.
//
// The manager coordinates one deliberation at a time by:
//   - Validating and accepting prompt submissions
//   - Opening a session and consuming the council's progress events
//   - Applying each event to the deliberation state machine
//   - Ranking participants from peer-review metadata
//   - Ticking elapsed time for participants that are still waiting
//   - Publishing read-only snapshots for renderers
//
// All state transitions and ticks are serialized; each one produces a new
// participant sequence instead of mutating the previous one.
package orchestrator
