package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/phonegate/server/internal/logger"
	"github.com/phonegate/server/internal/metrics"
	"github.com/phonegate/server/internal/model"
)

// TokenPair is the credential set returned by login, refresh and registration.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	SessionID    string `json:"-"`
}

// TokenService issues tokens and ties access and refresh tokens to session entries.
// Revoking a session is deleting its entry; tokens themselves are never blacklisted.
type TokenService struct {
	jwt       *JWTService
	sessions  *SessionStore
	workflows *WorkflowStore
	log       *slog.Logger
}

// NewTokenService creates a new token service
func NewTokenService(jwtService *JWTService, sessions *SessionStore, workflows *WorkflowStore) *TokenService {
	return &TokenService{
		jwt:       jwtService,
		sessions:  sessions,
		workflows: workflows,
		log:       slog.Default(),
	}
}

// IssueLoginTokens creates a session for userID and returns an access and refresh
// token sharing its jti.
func (s *TokenService) IssueLoginTokens(ctx context.Context, userID uuid.UUID, device string) (TokenPair, error) {
	now := s.jwt.Now()
	jti := newJTI()

	access, err := s.jwt.Sign(TokenAccess, userID.String(), jti, "", now)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.jwt.Sign(TokenRefresh, userID.String(), jti, "", now)
	if err != nil {
		return TokenPair{}, err
	}

	session := model.Session{ID: jti, UserAgent: device, IssuedAt: now}
	if err := s.sessions.Create(ctx, userID, session); err != nil {
		return TokenPair{}, fmt.Errorf("failed to create session: %w", err)
	}
	metrics.SessionsIssuedTotal.Inc()

	return TokenPair{AccessToken: access, RefreshToken: refresh, SessionID: jti}, nil
}

// IssueWorkflowToken returns a workflow token for phone. Any earlier workflow token of
// the phone stops validating; concurrent issuers race and the last write wins.
func (s *TokenService) IssueWorkflowToken(ctx context.Context, phone string) (string, error) {
	jti := newJTI()
	token, err := s.jwt.Sign(TokenWorkFlow, phone, jti, phone, s.jwt.Now())
	if err != nil {
		return "", err
	}
	if err := s.workflows.Put(ctx, phone, jti); err != nil {
		return "", fmt.Errorf("failed to store workflow token: %w", err)
	}
	return token, nil
}

// Validate verifies token as the expected type and checks that it is still live.
// Signature, type or expiry failures return an error. A well-formed token whose
// session or workflow entry is gone returns nil claims and a nil error.
func (s *TokenService) Validate(ctx context.Context, token string, expected TokenType) (*Claims, error) {
	claims, err := s.jwt.Verify(token, expected)
	if err != nil {
		return nil, err
	}

	switch expected {
	case TokenWorkFlow:
		current, found, err := s.workflows.Current(ctx, claims.Phone)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow token: %w", err)
		}
		if !found || !codesEqual(current, claims.ID) {
			return nil, nil
		}
	default:
		userID, err := claims.UserID()
		if err != nil {
			return nil, err
		}
		live, err := s.sessions.Exists(ctx, SessionKey{UserID: userID, SessionID: claims.ID})
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		if !live {
			return nil, nil
		}
	}
	return claims, nil
}

// Refresh consumes the session of a refresh token and issues a new pair under a new
// jti. Other sessions of the user are untouched. A refresh token works once.
func (s *TokenService) Refresh(ctx context.Context, refreshToken, device string) (TokenPair, error) {
	claims, err := s.Validate(ctx, refreshToken, TokenRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	if claims == nil {
		return TokenPair{}, ErrUnauthenticated
	}
	return s.Rotate(ctx, claims, device)
}

// Rotate replaces the session named by already validated refresh claims with a new one.
func (s *TokenService) Rotate(ctx context.Context, claims *Claims, device string) (TokenPair, error) {
	userID, err := claims.UserID()
	if err != nil {
		return TokenPair{}, err
	}
	removed, err := s.sessions.Delete(ctx, SessionKey{UserID: userID, SessionID: claims.ID})
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to revoke session: %w", err)
	}
	if !removed {
		// a concurrent refresh with the same token got there first
		return TokenPair{}, ErrUnauthenticated
	}
	metrics.SessionsRevokedTotal.WithLabelValues("refresh").Inc()

	return s.IssueLoginTokens(ctx, userID, device)
}

// RevokeSession deletes one session. Revoking an unknown session is not an error.
func (s *TokenService) RevokeSession(ctx context.Context, userID uuid.UUID, jti string) error {
	if _, err := s.sessions.Delete(ctx, SessionKey{UserID: userID, SessionID: jti}); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// RevokeAllSessions deletes every session of userID and returns how many were found.
// It is eventually consistent with logins running at the same time.
func (s *TokenService) RevokeAllSessions(ctx context.Context, userID uuid.UUID) (int, error) {
	n, err := s.sessions.DeleteAll(ctx, userID)
	if err != nil {
		return n, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return n, nil
}

// ListSessions returns a snapshot of the live sessions of userID.
func (s *TokenService) ListSessions(ctx context.Context, userID uuid.UUID) ([]model.Session, error) {
	sessions, err := s.sessions.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// EndWorkflow deletes the live workflow token of phone so it cannot be replayed.
func (s *TokenService) EndWorkflow(ctx context.Context, phone string) error {
	if err := s.workflows.Delete(ctx, phone); err != nil {
		s.log.ErrorContext(ctx, "failed to delete workflow token", logger.Phone(phone), "error", err)
		return fmt.Errorf("failed to delete workflow token: %w", err)
	}
	return nil
}
