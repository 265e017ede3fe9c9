// Package httptransport is the JSON/HTTP client for the identity server.
//
//	POST /login    credentials -> token set
//	POST /refresh  refresh token -> token set
//	POST /logout   bearer token, revokes the session
//
// 401 and 403 map to auth.ErrInvalidCredentials. Every other failure is an
// *auth.TransportError so callers never confuse an outage with a wrong
// password. Requests are traced with otelhttp and throttled client-side.
package httptransport
