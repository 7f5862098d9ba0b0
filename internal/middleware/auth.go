package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/phonegate/server/internal/auth"
	"github.com/phonegate/server/internal/model"
)

type contextKey string

const (
	principalKey contextKey = "principal"
	clientIPKey  contextKey = "client_ip"
)

// Authenticator resolves a bearer token of the given type to a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string, typ auth.TokenType) (*auth.Principal, error)
}

// RequireToken accepts only requests carrying a live bearer token of one of types,
// tried in order, and attaches the principal to the request context.
func RequireToken(a Authenticator, types ...auth.TokenType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				respondWithError(w, http.StatusUnauthorized, "missing token")
				return
			}

			principal, err := authenticateAny(r.Context(), a, tokenString, types)
			if err != nil {
				if status, message, ok := TokenErrorStatus(err); ok {
					respondWithError(w, status, message)
					return
				}
				slog.ErrorContext(r.Context(), "authentication failed", "error", err)
				respondWithError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), principalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticateAny returns the first type's result that is not a type mismatch. An
// expired token of another type counts as a mismatch, so the type that matches reports
// the expiry.
func authenticateAny(ctx context.Context, a Authenticator, token string, types []auth.TokenType) (*auth.Principal, error) {
	var last error = auth.ErrInvalidToken
	for _, typ := range types {
		principal, err := a.Authenticate(ctx, token, typ)
		var expired *auth.ExpiredTokenError
		switch {
		case errors.Is(err, auth.ErrInvalidToken):
			last = err
		case errors.As(err, &expired) && expired.Type != typ:
			last = fmt.Errorf("%w: expired %s token", auth.ErrInvalidToken, expired.Type)
		default:
			return principal, err
		}
	}
	return nil, last
}

// TokenErrorStatus maps credential errors to an HTTP status and message. ok is false
// for errors that are not about the credential.
func TokenErrorStatus(err error) (status int, message string, ok bool) {
	var expired *auth.ExpiredTokenError
	switch {
	case errors.As(err, &expired):
		if expired.Type == auth.TokenAccess {
			return http.StatusUnauthorized, "access token has expired", true
		}
		if expired.Type == auth.TokenRefresh {
			return http.StatusForbidden, "refresh token has expired, please login again", true
		}
		return http.StatusForbidden, "work flow token has expired", true
	case errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "invalid token, please login again", true
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "authentication credentials were not provided", true
	case errors.Is(err, auth.ErrInactiveUser):
		return http.StatusForbidden, "INACTIVE_USER", true
	}
	return 0, "", false
}

// GetPrincipal returns the principal attached by RequireToken
func GetPrincipal(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(principalKey).(*auth.Principal)
	return p, ok && p != nil
}

// GetUser returns the user attached to the request context (set by RequireToken)
func GetUser(ctx context.Context) (*model.User, bool) {
	p, ok := GetPrincipal(ctx)
	if !ok || p.User == nil {
		return nil, false
	}
	return p.User, true
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
