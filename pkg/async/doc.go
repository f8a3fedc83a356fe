// Package async provides panic-safe helpers for background work: detached
// fire-and-forget tasks (SafeGo) and bounded fan-out over a slice (Batch).
package async
