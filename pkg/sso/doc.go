// Package sso federates sign-in to external identity providers.
//
// # Overview
//
// Azure, Google and Auth0 are OpenID Connect providers that differ only in
// their issuer; GitHub uses plain OAuth2 with its REST API as the profile
// source. Every provider offers the same browser flow:
//
//	GET /api/v1/{provider}/login     redirect to the provider
//	GET /api/v1/{provider}/callback  exchange the code, sign the user in
//	GET /api/v1/{provider}/logout    end the session
//
// # Login methods
//
// Provider settings are stored per organization (enterprise) or globally
// (hosted) as login methods. Configs are sealed with package sealed before
// they reach the database. Administrators read them back with the client
// secret replaced by MaskedSecret, and saving a masked secret keeps the
// stored one:
//
//	storage := sso.NewStorage(db, box)
//	_, err := storage.Save(ctx, nil, []sso.MethodInput{{
//		ProviderName: "google",
//		Status:       "enable",
//		Config:       sso.Config{ClientID: id, ClientSecret: secret},
//	}})
//
// # Federation
//
// Federation loads the enabled methods, initializes their providers in
// parallel and maps a verified profile to a local principal. Unknown users
// are registered on hosted deployments and rejected everywhere else.
// Every failure is logged in detail and reported to the client only as
// SSO_LOGIN_FAILED.
//
// After the callback the principal is parked in a Handoff for five minutes
// and the browser is sent to {appURL}/sso-success?token=...; the web client
// then claims it once from GET /api/v1/auth/sso-success.
package sso
