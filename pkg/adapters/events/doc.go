// Package events provides event bus implementations for snapshot fan-out.
//
// Implementations:
//   - redis: Redis Streams, one independent reader per subscriber
//   - memory: in-process, synchronous and ordered
package events
