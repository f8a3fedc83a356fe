// Package audit records the login activity trail of enterprise deployments.
//
// Every password or federated login attempt, and every logout, produces an
// Activity with one of the codes LOGIN_SUCCESS, UNKNOWN_USER,
// INCORRECT_CREDENTIAL, INACTIVE_USER, NO_ASSIGNED_WORKSPACE or
// LOGOUT_SUCCESS. Recorders:
//
//   - DBRecorder writes the login_activity table and backs the admin
//     listing and deletion endpoints (Handlers).
//   - LogRecorder writes to the structured process log.
//   - Multi fans out to several recorders.
//   - Noop is used by platforms that keep no trail.
//
// Usage:
//
//	recorder := audit.Multi{dbRecorder, audit.NewLogRecorder(logger)}
//	recorder.Record(ctx, audit.NewActivity(email, audit.CodeLoginSuccess, audit.LoginModeEmail, ip))
package audit
