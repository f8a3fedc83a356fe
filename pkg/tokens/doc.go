// Package tokens issues and verifies the HS256 access and refresh tokens.
//
// Both kinds carry the user id, display name and a sealed meta envelope
// binding the token to the workspace that was active at issuance. The JWT
// id is the session id. Refresh never rotates the refresh token.
package tokens
