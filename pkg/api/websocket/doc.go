// Package websocket provides real-time snapshot streaming via WebSocket.
//
// Clients connect to /api/v1/deliberation/stream. They first receive the latest
// stored snapshot, then every snapshot published by the orchestrator.
package websocket
