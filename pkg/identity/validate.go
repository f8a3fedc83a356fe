package identity

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	maxNameLength     = 100
	minPasswordLength = 8
	maxPasswordLength = 128
)

// ValidateEmail checks the shape of an email address
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return Invalid(CodeInvalidInput, fmt.Errorf("email is required"))
	}
	if len(email) > 255 || !emailPattern.MatchString(email) {
		return Invalid(CodeInvalidInput, fmt.Errorf("invalid email: %q", email))
	}
	return nil
}

// ValidateName checks a display name for users, organizations and workspaces
func ValidateName(field, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return Invalid(CodeInvalidInput, fmt.Errorf("%s is required", field))
	}
	if len(name) > maxNameLength {
		return Invalid(CodeInvalidInput, fmt.Errorf("%s must be at most %d characters", field, maxNameLength))
	}
	return nil
}

// ValidateID checks that id is a UUID
func ValidateID(field, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return Invalid(CodeInvalidInput, fmt.Errorf("invalid %s: %q", field, id))
	}
	return nil
}

// ValidatePassword enforces length and character class rules
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return Invalid(CodeInvalidInput, fmt.Errorf("password must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordLength {
		return Invalid(CodeInvalidInput, fmt.Errorf("password must be at most %d characters", maxPasswordLength))
	}

	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	if !lower || !upper || !digit || !special {
		return Invalid(CodeInvalidInput, fmt.Errorf("password must contain lowercase, uppercase, digit and special characters"))
	}
	return nil
}
