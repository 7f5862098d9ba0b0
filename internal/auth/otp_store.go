package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"

	"github.com/phonegate/server/internal/store"
)

const otpLength = 6

// OTPStore holds the single outstanding code per phone.
type OTPStore struct {
	bucket *store.Bucket
}

// NewOTPStore creates an OTP store over bucket.
func NewOTPStore(bucket *store.Bucket) *OTPStore {
	return &OTPStore{bucket: bucket}
}

// Save stores code for phone, replacing any earlier code.
func (s *OTPStore) Save(ctx context.Context, phone, code string) error {
	return s.bucket.Set(ctx, phone, code)
}

// Get returns the outstanding code for phone.
func (s *OTPStore) Get(ctx context.Context, phone string) (string, bool, error) {
	return s.bucket.Get(ctx, phone)
}

// Delete consumes the code of phone.
func (s *OTPStore) Delete(ctx context.Context, phone string) error {
	return s.bucket.Delete(ctx, phone)
}

// GenerateCode returns a uniformly random six digit string. Leading zeros are kept.
func GenerateCode() (string, error) {
	code := make([]byte, otpLength)
	ten := big.NewInt(10)
	for i := range code {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate otp: %w", err)
		}
		code[i] = byte('0' + n.Int64())
	}
	return string(code), nil
}

func codesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
