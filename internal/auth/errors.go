package auth

import (
	"errors"
	"fmt"
)

// Token errors.
var (
	// ErrInvalidToken covers malformed tokens, bad signatures and tokens of the wrong type.
	ErrInvalidToken = errors.New("invalid token")
	// ErrUnauthenticated is returned by operations that need a live session or
	// workflow token and got a token whose session is gone.
	ErrUnauthenticated = errors.New("authentication credentials are no longer valid")
)

// Workflow and account state errors.
var (
	ErrSMSDelivery          = errors.New("sms provider failure")
	ErrDeletedAccount       = errors.New("account is deleted")
	ErrInactiveUser         = errors.New("account is not active")
	ErrAccountExists        = errors.New("account already exists")
	ErrPasswordAlreadySet   = errors.New("password is already set")
	ErrWeakPassword         = errors.New("password is too weak")
	ErrOTPExpired           = errors.New("otp expired")
	ErrWrongOTP             = errors.New("wrong otp")
	ErrWrongPhoneOrPassword = errors.New("wrong phone or password")
)

// ExpiredTokenError reports a token whose signature is valid but whose lifetime ended.
type ExpiredTokenError struct {
	Type TokenType
}

func (e *ExpiredTokenError) Error() string {
	return fmt.Sprintf("%s token expired", e.Type)
}
