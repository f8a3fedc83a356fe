package identity

import (
	"errors"
	"net/http"
)

// Kind classifies an error for callers that need to pick a response
type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindConflict
	KindValidation
	KindFederation
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindFederation:
		return "federation"
	default:
		return "internal"
	}
}

// Stable error codes returned to clients
const (
	CodeInvalidMissingToken     = "INVALID_MISSING_TOKEN"
	CodeTokenExpired            = "TOKEN_EXPIRED"
	CodeRefreshTokenExpired     = "REFRESH_TOKEN_EXPIRED"
	CodeSessionRevoked          = "SESSION_REVOKED"
	CodeIncorrectCredentials    = "INCORRECT_CREDENTIALS"
	CodeUserNotActive           = "USER_NOT_ACTIVE"
	CodeNoAssignedWorkspace     = "NO_ASSIGNED_WORKSPACE"
	CodeForbidden               = "FORBIDDEN"
	CodeUserNotFound            = "USER_NOT_FOUND"
	CodeOrganizationNotFound    = "ORGANIZATION_NOT_FOUND"
	CodeWorkspaceNotFound       = "WORKSPACE_NOT_FOUND"
	CodeRoleNotFound            = "ROLE_NOT_FOUND"
	CodeMembershipNotFound      = "ORGANIZATION_USER_NOT_FOUND"
	CodeWorkspaceUserNotFound   = "WORKSPACE_USER_NOT_FOUND"
	CodeLoginMethodNotFound     = "LOGIN_METHOD_NOT_FOUND"
	CodeUserAlreadyExists       = "USER_ALREADY_EXISTS"
	CodeMembershipExists        = "ORGANIZATION_USER_ALREADY_EXISTS"
	CodeOrganizationExists      = "ORGANIZATION_ALREADY_EXISTS"
	CodeQuotaExceeded           = "QUOTA_EXCEEDED"
	CodeReservedName            = "RESERVED_NAME"
	CodeNotAllowedToDeleteOwner = "NOT_ALLOWED_TO_DELETE_OWNER"
	CodeInvalidTempToken        = "INVALID_TEMP_TOKEN"
	CodeExpiredTempToken        = "EXPIRED_TEMP_TOKEN"
	CodeSSOLoginFailed          = "SSO_LOGIN_FAILED"
	CodeDuplicate               = "DUPLICATE"
	CodeInvalidInput            = "INVALID_INPUT"
)

// Error is a classified error with a stable client-facing code
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind and code, so sentinel values work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Code == e.Code
}

// NewError creates a classified error
func NewError(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

// Sentinels for errors.Is comparisons
var (
	ErrInvalidToken        = &Error{Kind: KindUnauthenticated, Code: CodeInvalidMissingToken}
	ErrTokenExpired        = &Error{Kind: KindUnauthenticated, Code: CodeTokenExpired}
	ErrRefreshTokenExpired = &Error{Kind: KindUnauthenticated, Code: CodeRefreshTokenExpired}
	ErrSessionRevoked      = &Error{Kind: KindUnauthenticated, Code: CodeSessionRevoked}
	ErrForbidden           = &Error{Kind: KindForbidden, Code: CodeForbidden}
	ErrSSOLoginFailed      = &Error{Kind: KindFederation, Code: CodeSSOLoginFailed}
	ErrDuplicate           = &Error{Kind: KindConflict, Code: CodeDuplicate}
)

// Unauthenticated returns a KindUnauthenticated error with the given code
func Unauthenticated(code string) *Error {
	return &Error{Kind: KindUnauthenticated, Code: code}
}

// NotFound returns a KindNotFound error with the given code
func NotFound(code string) *Error {
	return &Error{Kind: KindNotFound, Code: code}
}

// Conflict returns a KindConflict error with the given code
func Conflict(code string) *Error {
	return &Error{Kind: KindConflict, Code: code}
}

// Invalid returns a KindValidation error describing the bad field
func Invalid(code string, err error) *Error {
	return &Error{Kind: KindValidation, Code: code, Err: err}
}

// KindOf returns the classification of err, KindInternal when unclassified
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the client-facing code of err
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL_ERROR"
}

// IsNotFound reports whether err is a lookup miss
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// HTTPStatus maps an error to the status code handlers respond with
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindFederation:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
