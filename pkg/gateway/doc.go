// Package gateway admits authenticated WebSocket connections.
//
// A connection is upgraded first and authenticated second, so rejections
// reach the client as a frame followed by an application close code:
//
//	4401  missing, invalid or expired access token
//	4409  a socket with the same ws_session_id is already open
//	4429  the global or per-user connection cap is reached
//
// The access token is read from the token cookie, the token query parameter
// or the Authorization header, in that order. The principal is rebuilt from
// the data model on every upgrade and does not depend on an HTTP session.
//
// Inbound messages are JSON objects with a type field. Oversized and rate
// limited messages are answered with an error frame and the socket stays
// open. Admitted messages are dispatched through a Router.
package gateway
