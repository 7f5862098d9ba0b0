package model

import (
	"time"

	"github.com/google/uuid"
)

// ActivationState describes where an account is in its lifecycle.
type ActivationState string

const (
	// StateNotActivated is an account created by OTP verification that never set a password.
	StateNotActivated ActivationState = "not_activated"
	StateActive       ActivationState = "active"
	// StateInactive is an account that has a password but was deactivated.
	StateInactive ActivationState = "inactive"
)

// User represents a user in the system
type User struct {
	ID           uuid.UUID
	Phone        string
	PasswordHash string
	FirstName    string
	LastName     string
	IsActive     bool
	IsDeleted    bool
	DeletedAt    *time.Time
	CreatedAt    time.Time
}

// HasPassword reports whether the user finished registration by setting a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// ActivationState derives the lifecycle state from the active flag and password.
func (u *User) ActivationState() ActivationState {
	switch {
	case u.IsActive:
		return StateActive
	case u.HasPassword():
		return StateInactive
	default:
		return StateNotActivated
	}
}

// Session is one logged-in device of a user. ID is the jti shared by the access and
// refresh tokens issued together.
type Session struct {
	ID        string    `json:"jti"`
	UserAgent string    `json:"user_agent"`
	IssuedAt  time.Time `json:"issued_at"`
}

// PhoneStatus is the outcome of looking a phone number up before login or registration.
type PhoneStatus string

const (
	StatusLoginRequired    PhoneStatus = "LOGIN_REQUIRED"
	StatusRegisterRequired PhoneStatus = "REGISTER_REQUIRED"
	StatusNoPasswordFound  PhoneStatus = "NO_PASSWORD_FOUND"
	StatusDeletedAccount   PhoneStatus = "DELETED_ACCOUNT"
	StatusInactiveUser     PhoneStatus = "INACTIVE_USER"
)
