package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType distinguishes the three credentials the service issues.
type TokenType string

const (
	TokenAccess   TokenType = "access"
	TokenRefresh  TokenType = "refresh"
	TokenWorkFlow TokenType = "work_flow"
)

// Claims is the payload of every token. Access and refresh tokens carry the user id as
// subject; workflow tokens carry the phone number.
type Claims struct {
	TokenType TokenType `json:"token_type"`
	Phone     string    `json:"phone,omitempty"`
	jwt.RegisteredClaims
}

// UserID parses the subject of an access or refresh token.
func (c *Claims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return id, nil
}

// TTLs holds the lifetime of each token type.
type TTLs struct {
	Access   time.Duration
	Refresh  time.Duration
	WorkFlow time.Duration
}

func (t TTLs) of(typ TokenType) time.Duration {
	switch typ {
	case TokenAccess:
		return t.Access
	case TokenRefresh:
		return t.Refresh
	default:
		return t.WorkFlow
	}
}

// JWTService signs and verifies HS256 tokens.
type JWTService struct {
	secret []byte
	ttls   TTLs
	now    func() time.Time
	parser *jwt.Parser
}

// NewJWTService creates a new JWT service. now may be nil to use time.Now.
func NewJWTService(secret string, ttls TTLs, now func() time.Time) *JWTService {
	if now == nil {
		now = time.Now
	}
	return &JWTService{
		secret: []byte(secret),
		ttls:   ttls,
		now:    now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithTimeFunc(now),
			jwt.WithExpirationRequired(),
		),
	}
}

// Now returns the service clock.
func (s *JWTService) Now() time.Time {
	return s.now()
}

// Sign creates a token of type typ with the given subject and jti, valid from issuedAt
// for the type's TTL.
func (s *JWTService) Sign(typ TokenType, subject, jti, phone string, issuedAt time.Time) (string, error) {
	claims := &Claims{
		TokenType: typ,
		Phone:     phone,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.ttls.of(typ))),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return tokenString, nil
}

// Verify checks signature, expiry and type. An expired token yields
// *ExpiredTokenError naming the token's own type when it carries a known one, else
// the expected type; anything else wrong yields ErrInvalidToken.
func (s *JWTService) Verify(tokenString string, expected TokenType) (*Claims, error) {
	claims := &Claims{}
	token, err := s.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			typ := expected
			if claims.TokenType.known() {
				typ = claims.TokenType
			}
			return nil, &ExpiredTokenError{Type: typ}
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != expected {
		return nil, fmt.Errorf("%w: expected %s token, got %q", ErrInvalidToken, expected, claims.TokenType)
	}
	if claims.ID == "" {
		return nil, fmt.Errorf("%w: missing jti", ErrInvalidToken)
	}
	return claims, nil
}

func (t TokenType) known() bool {
	return t == TokenAccess || t == TokenRefresh || t == TokenWorkFlow
}

// newJTI returns a random 32 character hex identifier.
func newJTI() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
