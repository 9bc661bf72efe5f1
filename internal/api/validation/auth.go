package validation

import (
	"regexp"
	"strings"
)

var (
	usernameRegex = regexp.MustCompile(`^[a-z0-9_-]{3,30}$`)
	emailRegex    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// SignUpRequest mirrors the fields needed for sign-up validation.
type SignUpRequest struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
}

// ValidateSignUpRequest validates a sign-up request. Returns a slice of
// field errors; empty means valid.
func ValidateSignUpRequest(req SignUpRequest) []FieldError {
	var errs []FieldError

	if req.Username == "" && req.Email == "" {
		errs = append(errs, FieldError{Field: "username", Message: "username or email is required"})
	}
	if req.Username != "" && !usernameRegex.MatchString(req.Username) {
		errs = append(errs, FieldError{Field: "username", Message: "username must be 3-30 lowercase letters, digits, - or _"})
	}
	if req.Email != "" && !emailRegex.MatchString(req.Email) {
		errs = append(errs, FieldError{Field: "email", Message: "email is not a valid address"})
	}
	errs = append(errs, ValidatePassword(req.Password)...)
	if len(req.DisplayName) > 100 {
		errs = append(errs, FieldError{Field: "displayName", Message: "display name must be at most 100 characters"})
	}
	return errs
}

// ValidatePassword checks the password policy shared by sign-up,
// change-password and reset-password.
func ValidatePassword(password string) []FieldError {
	var errs []FieldError
	if len(password) < 8 {
		errs = append(errs, FieldError{Field: "password", Message: "password must be at least 8 characters"})
	}
	if strings.ContainsAny(password, " \t\r\n") {
		errs = append(errs, FieldError{Field: "password", Message: "password must not contain whitespace"})
	}
	return errs
}

// ValidateEmail checks a single email field.
func ValidateEmail(email string) []FieldError {
	if !emailRegex.MatchString(email) {
		return []FieldError{{Field: "email", Message: "email is not a valid address"}}
	}
	return nil
}
