package auth

import "errors"

// Sign-in failure codes. Callers surface these as "not authenticated"
// without revealing more than the code enumeration already does.
const (
	CodeNotFound        = "not_found"
	CodeDuplicate       = "duplicate"
	CodeAccountDisabled = "account_disabled"
	CodeTokenMismatch   = "token_mismatch"
	CodeWrongPassword   = "wrong_password"
	CodeInvalidToken    = "invalid_token"
)

// SignInError is a typed authentication failure.
type SignInError struct {
	Code    string
	Message string
	Details map[string]any
}

func (e *SignInError) Error() string {
	return e.Message
}

func signInErr(code, message string) *SignInError {
	return &SignInError{Code: code, Message: message}
}

// ErrUsernameTaken and friends are account-management validation
// failures, distinct from authentication failures.
var (
	ErrUsernameTaken    = errors.New("username already in use")
	ErrEmailTaken       = errors.New("email already in use")
	ErrAccountNotFound  = errors.New("account not found")
	ErrAdminReserved    = errors.New("operation not allowed on the admin account")
	ErrInvalidResetCode = errors.New("invalid or expired reset code")
)
