package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/phonegate/server/internal/auth"
	"github.com/phonegate/server/internal/model"
)

type mockAuthenticator struct {
	mock.Mock
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, token string, typ auth.TokenType) (*auth.Principal, error) {
	args := m.Called(ctx, token, typ)
	p, _ := args.Get(0).(*auth.Principal)
	return p, args.Error(1)
}

func serve(t *testing.T, a Authenticator, typ auth.TokenType, header string) (*httptest.ResponseRecorder, *model.User) {
	t.Helper()
	var seen *model.User
	h := RequireToken(a, typ)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUser(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/account/active_login/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestRequireToken_AttachesPrincipal(t *testing.T) {
	user := &model.User{ID: uuid.New(), Phone: "09121234567", IsActive: true}
	a := &mockAuthenticator{}
	a.On("Authenticate", mock.Anything, "good", auth.TokenAccess).Return(&auth.Principal{User: user}, nil)

	rec, seen := serve(t, a, auth.TokenAccess, "Bearer good")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, user, seen)
	a.AssertExpectations(t)
}

func TestRequireToken_HeaderErrors(t *testing.T) {
	a := &mockAuthenticator{}
	for _, header := range []string{"", "Token abc", "Bearer ", "Bearer"} {
		rec, _ := serve(t, a, auth.TokenAccess, header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
	a.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequireToken_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		typ  auth.TokenType
		err  error
		want int
	}{
		{"expired access", auth.TokenAccess, &auth.ExpiredTokenError{Type: auth.TokenAccess}, http.StatusUnauthorized},
		{"expired refresh", auth.TokenRefresh, &auth.ExpiredTokenError{Type: auth.TokenRefresh}, http.StatusForbidden},
		{"expired workflow", auth.TokenWorkFlow, &auth.ExpiredTokenError{Type: auth.TokenWorkFlow}, http.StatusForbidden},
		{"invalid", auth.TokenAccess, auth.ErrInvalidToken, http.StatusUnauthorized},
		{"revoked", auth.TokenAccess, auth.ErrUnauthenticated, http.StatusUnauthorized},
		{"inactive", auth.TokenRefresh, auth.ErrInactiveUser, http.StatusForbidden},
		{"store down", auth.TokenAccess, errors.New("redis: connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &mockAuthenticator{}
			a.On("Authenticate", mock.Anything, "tok", tt.typ).Return(nil, tt.err)
			rec, seen := serve(t, a, tt.typ, "Bearer tok")
			assert.Equal(t, tt.want, rec.Code)
			assert.Nil(t, seen)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestRequireToken_FallsBackToNextType(t *testing.T) {
	user := &model.User{ID: uuid.New(), Phone: "09121234567", IsActive: true}
	a := &mockAuthenticator{}
	a.On("Authenticate", mock.Anything, "tok", auth.TokenRefresh).Return(nil, auth.ErrInvalidToken)
	a.On("Authenticate", mock.Anything, "tok", auth.TokenAccess).Return(&auth.Principal{User: user}, nil)

	var seen *model.User
	h := RequireToken(a, auth.TokenRefresh, auth.TokenAccess)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUser(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/account/logout_all/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, user, seen)
	a.AssertExpectations(t)
}

func TestRequireToken_StopsOnNonMismatchError(t *testing.T) {
	a := &mockAuthenticator{}
	a.On("Authenticate", mock.Anything, "tok", auth.TokenRefresh).Return(nil, auth.ErrInactiveUser)

	h := RequireToken(a, auth.TokenRefresh, auth.TokenAccess)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/account/logout_all/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	a.AssertNotCalled(t, "Authenticate", mock.Anything, "tok", auth.TokenAccess)
}

func TestRequireToken_ExpiredAccessOnMultiTypeRoute(t *testing.T) {
	expired := &auth.ExpiredTokenError{Type: auth.TokenAccess}
	a := &mockAuthenticator{}
	a.On("Authenticate", mock.Anything, "tok", auth.TokenRefresh).Return(nil, expired)
	a.On("Authenticate", mock.Anything, "tok", auth.TokenAccess).Return(nil, expired)

	h := RequireToken(a, auth.TokenRefresh, auth.TokenAccess)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))
	req := httptest.NewRequest(http.MethodGet, "/account/logout_all/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code, "an expired access token only needs a refresh")
	assert.Contains(t, rec.Body.String(), "access token has expired")
	a.AssertExpectations(t)
}

func TestRequireToken_ExpiredTokenOfOtherTypeIsInvalid(t *testing.T) {
	a := &mockAuthenticator{}
	a.On("Authenticate", mock.Anything, "tok", auth.TokenRefresh).
		Return(nil, &auth.ExpiredTokenError{Type: auth.TokenAccess})

	rec, _ := serve(t, a, auth.TokenRefresh, "Bearer tok")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotContains(t, rec.Body.String(), "expired")
}
