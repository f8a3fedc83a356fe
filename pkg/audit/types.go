package audit

import (
	"time"
)

// ActivityCode is the outcome of a login attempt
type ActivityCode string

const (
	CodeLoginSuccess        ActivityCode = "LOGIN_SUCCESS"
	CodeUnknownUser         ActivityCode = "UNKNOWN_USER"
	CodeIncorrectCredential ActivityCode = "INCORRECT_CREDENTIAL"
	CodeInactiveUser        ActivityCode = "INACTIVE_USER"
	CodeNoAssignedWorkspace ActivityCode = "NO_ASSIGNED_WORKSPACE"
	CodeLogoutSuccess       ActivityCode = "LOGOUT_SUCCESS"
)

// Message returns the human readable description of a code
func (c ActivityCode) Message() string {
	switch c {
	case CodeLoginSuccess:
		return "Login Success"
	case CodeUnknownUser:
		return "Unknown User"
	case CodeIncorrectCredential:
		return "Incorrect Credential"
	case CodeInactiveUser:
		return "Inactive User"
	case CodeNoAssignedWorkspace:
		return "No Assigned Workspace"
	case CodeLogoutSuccess:
		return "Logout Success"
	default:
		return string(c)
	}
}

// IsFailure reports whether the code records a rejected login
func (c ActivityCode) IsFailure() bool {
	return c != CodeLoginSuccess && c != CodeLogoutSuccess
}

// LoginModeEmail is the mode of password logins. Federated logins use the
// provider name.
const LoginModeEmail = "email"

// Activity is one row of the login activity trail
type Activity struct {
	ID          string       `json:"id"`
	Username    string       `json:"username"`
	Code        ActivityCode `json:"activityCode"`
	Message     string       `json:"message"`
	LoginMode   string       `json:"loginMode"`
	IPAddress   string       `json:"ipAddress,omitempty"`
	AttemptedAt time.Time    `json:"attemptedDateTime"`
}

// SearchFilter narrows a login activity listing
type SearchFilter struct {
	Username  string
	Codes     []ActivityCode
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

const (
	defaultSearchLimit = 50
	maxSearchLimit     = 500
)

func (f SearchFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultSearchLimit
	case f.Limit > maxSearchLimit:
		return maxSearchLimit
	default:
		return f.Limit
	}
}
