// Package auth manages workspace API keys.
//
// Keys have the form ks_<base64url(32 random bytes)>. Only the SHA-256 hash
// is stored (api_keys.key_hash), so a key is shown exactly once, at
// creation. Each key is bound to one workspace and carries a subset of the
// workspace entitlements; organization administration cannot be delegated.
//
//	keys := auth.NewKeyManager(db, identityStore)
//	k, plaintext, err := keys.Create(ctx, workspaceID, "ci", []string{identity.PermChatflowsView})
//
// The authentication middleware calls Validate for requests whose policy
// allows the apiKey method and turns the key into a Principal with
// AuthMethodAPIKey.
package auth
