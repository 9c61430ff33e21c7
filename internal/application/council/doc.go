// Package council implements an in-process council backend.
//
// The engine answers a prompt in three stages, mirroring a remote council:
//   - Stage 1: every member answers the prompt in parallel
//   - Stage 2: every member ranks the anonymized answers; the rankings are
//     aggregated into an average rank per member
//   - Stage 3: the chairman synthesizes a final answer
//
// Progress is reported through the same event envelopes a remote backend
// streams, so the orchestrator consumes the engine like any other transport.
package council
