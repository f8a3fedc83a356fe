// Package middleware provides HTTP middleware for authentication, authorization, and rate limiting.
//
// # Overview
//
// Every request under /api/v1 passes through two stages:
//
//	router.Use(authenticator.Handler) // resolves the caller, never rejects
//	router.Use(authorizer.Handler)    // applies the route policy table
//
// Authenticator reads the token cookie, then an "Authorization: Bearer"
// header. Tokens with the ks_ prefix are API keys; anything else is an
// access token whose session supplies the principal.
//
// # Policies
//
// The policy table is embedded from policies.yaml:
//
//	- {path: /api/v1/loginmethod, method: GET, authMethods: [jwt], entitlements: [sso:manage]}
//
// Lookups try the exact (method, path) first and then templates whose :param
// segments bind positionally. Routes missing from the table admit any
// authenticated caller.
//
// # Rate Limiting
//
// RateLimitMiddleware limits the credential endpoints per client IP with an
// in-memory token bucket (RateLimiter) or a Redis fixed window shared by all
// instances (DistributedRateLimiter). Responses carry X-RateLimit-Limit,
// X-RateLimit-Remaining and X-RateLimit-Reset.
package middleware
