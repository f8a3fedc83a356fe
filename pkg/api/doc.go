// Package api assembles the HTTP surface of keystone.
//
// Every route lives under /api/v1 and passes two middlewares: the
// authenticator, which attaches the caller's principal when a token cookie,
// bearer token or API key is valid, and the authorizer, which admits the
// request against the embedded policy table. Public routes such as login
// and registration are listed in the table with the "public" method.
//
// Login, refresh and workspace switching set the token and refreshToken
// cookies. Health checks and Prometheus metrics are served outside the
// prefix at /healthz and /metrics.
//
//	server, err := api.NewServer(api.Config{AppURL: appURL}, api.Deps{...})
//	http.ListenAndServe(":8080", server)
package api
