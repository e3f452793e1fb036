// Package rate provides internal primitives used to build Redis-backed rate limit keys,
// errors, and limiter behavior for the login and refresh paths.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - sl:  — login per-user
//   - sli: — login per-IP
//   - sr:  — refresh per-session
//
// # What this package must NOT do
//
//   - Implement domain-specific policies (those live in the engine).
//   - Be imported outside the sessionauth module.
package rate
