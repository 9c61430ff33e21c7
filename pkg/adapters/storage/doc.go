// Package storage provides latest-snapshot store implementations.
//
// Implementations:
//   - redis: Redis SET/GET with TTL
//   - memory: in-process, with optional TTL
package storage
