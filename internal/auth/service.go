package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/phonegate/server/internal/logger"
	"github.com/phonegate/server/internal/metrics"
	"github.com/phonegate/server/internal/model"
	"github.com/phonegate/server/internal/ratelimit"
	"github.com/phonegate/server/internal/repo"
	"github.com/phonegate/server/internal/validation"
)

// Principal is the identity behind a validated token. User is nil for workflow tokens.
type Principal struct {
	User   *model.User
	Claims *Claims
}

// Gateway orchestrates login, logout and session management
type Gateway struct {
	users    repo.UserRepo
	tokens   *TokenService
	throttle ratelimit.Throttle
	log      *slog.Logger
}

// NewGateway creates a new auth gateway
func NewGateway(users repo.UserRepo, tokens *TokenService, throttle ratelimit.Throttle) *Gateway {
	return &Gateway{
		users:    users,
		tokens:   tokens,
		throttle: throttle,
		log:      slog.Default(),
	}
}

// Login checks phone and password and opens a session. Unknown phone, wrong password
// and inactive account all return ErrWrongPhoneOrPassword; they differ only in which
// rate buckets they charge.
func (g *Gateway) Login(ctx context.Context, phone, password, ip, device string) (TokenPair, error) {
	if err := validation.Phone(phone); err != nil {
		return TokenPair{}, err
	}
	if err := g.throttle.Check(ctx, ratelimit.ScopeLogin, phone, ip); err != nil {
		return TokenPair{}, err
	}

	user, err := g.users.GetByPhone(ctx, phone)
	if errors.Is(err, repo.ErrUserNotFound) {
		g.throttle.Hit(ctx, ratelimit.ScopeLogin, ip)
		metrics.LoginsTotal.WithLabelValues("wrong_phone").Inc()
		return TokenPair{}, ErrWrongPhoneOrPassword
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("failed to look up phone: %w", err)
	}

	if !ComparePassword(user.PasswordHash, password) {
		g.throttle.Hit(ctx, ratelimit.ScopeLogin, ip, phone)
		metrics.LoginsTotal.WithLabelValues("wrong_password").Inc()
		return TokenPair{}, ErrWrongPhoneOrPassword
	}
	if !user.IsActive {
		g.throttle.Hit(ctx, ratelimit.ScopeLogin, ip, phone)
		metrics.LoginsTotal.WithLabelValues("inactive").Inc()
		return TokenPair{}, ErrWrongPhoneOrPassword
	}

	pair, err := g.tokens.IssueLoginTokens(ctx, user.ID, device)
	if err != nil {
		return TokenPair{}, err
	}
	metrics.LoginsTotal.WithLabelValues("success").Inc()
	g.log.InfoContext(ctx, "user logged in", logger.Phone(phone), "user_id", user.ID)
	return pair, nil
}

// Authenticate resolves a bearer token to a principal. Access and refresh tokens must
// belong to an active, non-deleted user.
func (g *Gateway) Authenticate(ctx context.Context, token string, typ TokenType) (*Principal, error) {
	claims, err := g.tokens.Validate(ctx, token, typ)
	if err != nil {
		return nil, err
	}
	if claims == nil {
		return nil, ErrUnauthenticated
	}
	if typ == TokenWorkFlow {
		return &Principal{Claims: claims}, nil
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}
	user, err := g.users.GetByID(ctx, userID)
	if errors.Is(err, repo.ErrUserNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	return &Principal{User: &user, Claims: claims}, nil
}

// Refresh rotates the session of validated refresh claims.
func (g *Gateway) Refresh(ctx context.Context, claims *Claims, device string) (TokenPair, error) {
	return g.tokens.Rotate(ctx, claims, device)
}

// Logout ends the session the refresh claims belong to.
func (g *Gateway) Logout(ctx context.Context, claims *Claims) error {
	userID, err := claims.UserID()
	if err != nil {
		return err
	}
	if err := g.tokens.RevokeSession(ctx, userID, claims.ID); err != nil {
		return err
	}
	metrics.SessionsRevokedTotal.WithLabelValues("logout").Inc()
	return nil
}

// LogoutAll ends every session of userID.
func (g *Gateway) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	n, err := g.tokens.RevokeAllSessions(ctx, userID)
	if err != nil {
		return err
	}
	metrics.SessionsRevokedTotal.WithLabelValues("logout_all").Add(float64(n))
	g.log.InfoContext(ctx, "all sessions revoked", "user_id", userID, "sessions", n)
	return nil
}

// LogoutSession ends the session jti of userID.
func (g *Gateway) LogoutSession(ctx context.Context, userID uuid.UUID, jti string) error {
	if err := validation.JTI(jti); err != nil {
		return err
	}
	if err := g.tokens.RevokeSession(ctx, userID, jti); err != nil {
		return err
	}
	metrics.SessionsRevokedTotal.WithLabelValues("selected").Inc()
	return nil
}

// Sessions lists the live sessions of userID.
func (g *Gateway) Sessions(ctx context.Context, userID uuid.UUID) ([]model.Session, error) {
	return g.tokens.ListSessions(ctx, userID)
}

// DeleteAccount soft deletes the account and then revokes all of its sessions.
func (g *Gateway) DeleteAccount(ctx context.Context, userID uuid.UUID) error {
	if err := g.users.SoftDelete(ctx, userID); err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return ErrUnauthenticated
		}
		return fmt.Errorf("failed to delete account: %w", err)
	}
	n, err := g.tokens.RevokeAllSessions(ctx, userID)
	if err != nil {
		return err
	}
	metrics.SessionsRevokedTotal.WithLabelValues("delete").Add(float64(n))
	g.log.InfoContext(ctx, "account deleted", "user_id", userID, "sessions", n)
	return nil
}
