// Package httputil provides HTTP helpers shared by the API and SSO handlers:
// JSON responses carrying stable error codes, request parsing, client IP and
// bearer token extraction, and the request id, logging and recovery
// middleware.
//
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	if err := svc.Do(ctx, req); err != nil {
//		httputil.WriteIdentityError(w, err)
//		return
//	}
package httputil
