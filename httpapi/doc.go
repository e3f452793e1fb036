// Package httpapi exposes ready-made HTTP handlers for the login, refresh,
// logout, and current-user flows on top of sessionauth.Engine.
//
// # Endpoints
//
//   - POST /users/login — credentials in, access token out, refresh cookie set.
//   - POST /users/refresh-token — rotates the refresh cookie, returns a new access token.
//   - POST /users/logout — revokes the session and clears the cookie, always 204.
//   - GET /users/me — returns the authenticated user for a Bearer access token.
//
// The refresh token travels only in an HttpOnly cookie, never in a response
// body, so script running in the page cannot read it.
//
// # Architecture boundaries
//
// This package translates HTTP requests into Engine calls and Engine errors
// into status codes. It does NOT implement authentication logic itself.
//
// # What this package must NOT do
//
//   - Decode or mint tokens (delegates to Engine).
//   - Talk to Redis or Postgres directly.
//   - Put refresh tokens in response bodies or logs.
package httpapi
