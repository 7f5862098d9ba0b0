package auth

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLength = 72
)

var commonPasswords = func() map[string]struct{} {
	set := make(map[string]struct{})
	for _, p := range strings.Fields(`
		password password1 password123 12345678 123456789 1234567890
		qwertyuiop qwerty123 iloveyou 11111111 00000000 abc12345
		letmein1 welcome1 football baseball sunshine princess
		trustno1 admin123 1q2w3e4r asdfghjkl
	`) {
		set[p] = struct{}{}
	}
	return set
}()

// CheckPasswordStrength rejects passwords that are short, numeric only, common or
// contain the phone number.
func CheckPasswordStrength(password, phone string) error {
	switch {
	case len(password) < minPasswordLength:
		return fmt.Errorf("%w: must contain at least %d characters", ErrWeakPassword, minPasswordLength)
	case len(password) > maxPasswordLength:
		return fmt.Errorf("%w: must contain at most %d characters", ErrWeakPassword, maxPasswordLength)
	case allDigits(password):
		return fmt.Errorf("%w: is entirely numeric", ErrWeakPassword)
	}
	if _, ok := commonPasswords[strings.ToLower(password)]; ok {
		return fmt.Errorf("%w: is too common", ErrWeakPassword)
	}
	if phone != "" && strings.Contains(password, strings.TrimPrefix(phone, "0")) {
		return fmt.Errorf("%w: is too similar to the phone number", ErrWeakPassword)
	}
	return nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// HashPassword hashes password with bcrypt at the given cost.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// ComparePassword reports whether password matches hash. An empty hash never matches.
func ComparePassword(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
