// Package refresh coalesces concurrent refresh attempts that present the
// same refresh token, so a burst of parallel requests from one client
// performs exactly one store rotation.
//
// # Coalescing and idempotency
//
// A [Coordinator] wraps the rotation callback in two layers:
//
//   - single-flight: concurrent callers with the same token key share one
//     in-flight rotation and all receive its result.
//   - idempotency cache: a successful result is replayable for a short
//     window after it completes, so a client that retries after its first
//     response was lost gets the same token pair back instead of a stale
//     error. Failures are never cached.
//
// Rotation runs detached from the HTTP request context: a client timeout
// can abandon the response but never cancels a rotation that has already
// started, which would otherwise strand the session between hashes.
//
// Two implementations are provided. [InProcess] keeps the cache in memory
// and suits single-instance deployments; [RedisCache] shares results
// through Redis so retries that land on another instance still replay.
//
// # Architecture boundaries
//
// This package owns coalescing and result replay only. It does NOT decide
// what a rotation means — the callback supplied by the Engine does the
// store call, token minting, and error classification.
//
// # What this package must NOT do
//
//   - Import sessionauth or session (no upward imports).
//   - Inspect or interpret rotation errors beyond success/failure.
//   - Cache failed outcomes.
package refresh
