// Package internal contains helper utilities that are intentionally private to
// sessionauth, including secure random generation and the opaque refresh-token
// wire format.
//
// # Sub-packages
//
//   - rate — Redis-backed fixed-window rate limit primitives
//
// # What this package must NOT do
//
//   - Export types that appear in the public sessionauth API.
//   - Be imported by any package outside the sessionauth module.
package internal
