// Package session persists server-side session state.
//
// Store has three implementations chosen once at startup: MemoryStore
// (in-process, lost on restart), RedisStore and SQLStore (the
// login_sessions table). Manager wraps the configured Store and treats it
// as a soft dependency: with no store, principals are resolved from the
// data model and bulk revocation logs a warning instead of failing.
package session
