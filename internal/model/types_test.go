package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUser_ActivationState(t *testing.T) {
	assert.Equal(t, StateNotActivated, (&User{}).ActivationState())
	assert.Equal(t, StateInactive, (&User{PasswordHash: "$2a$hash"}).ActivationState())
	assert.Equal(t, StateActive, (&User{PasswordHash: "$2a$hash", IsActive: true}).ActivationState())
	assert.Equal(t, StateActive, (&User{IsActive: true}).ActivationState())
}
