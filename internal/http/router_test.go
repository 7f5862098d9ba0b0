package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/phonegate/server/internal/auth"
	apihttp "github.com/phonegate/server/internal/http"
	"github.com/phonegate/server/internal/http/handlers"
	"github.com/phonegate/server/internal/ratelimit"
	"github.com/phonegate/server/internal/repo/repotest"
	"github.com/phonegate/server/internal/store/storetest"
)

const (
	testPhone = "09121234567"
	testCode  = "482913"
)

type stubSender struct {
	mock.Mock
}

func (s *stubSender) Send(ctx context.Context, phone, code string) error {
	return s.Called(phone, code).Error(0)
}

type testServer struct {
	srv    *httptest.Server
	mr     *miniredis.Miniredis
	sender *stubSender
	users  *repotest.Users
}

func newTestServer(t *testing.T, rules ratelimit.Rules) *testServer {
	t.Helper()
	if rules == nil {
		rules = ratelimit.Rules{
			ratelimit.ScopeCheckPhone: {Limit: 50, Window: 10 * time.Minute},
			ratelimit.ScopeRegister:   {Limit: 50, Window: 10 * time.Minute},
			ratelimit.ScopeLogin:      {Limit: 50, Window: 10 * time.Minute},
		}
	}

	s, mr := storetest.New(t)
	users := repotest.NewUsers()
	sender := &stubSender{}
	sender.On("Send", mock.Anything, mock.Anything).Return(nil)

	ttls := auth.TTLs{Access: 15 * time.Minute, Refresh: 7 * 24 * time.Hour, WorkFlow: 10 * time.Minute}
	tokens := auth.NewTokenService(
		auth.NewJWTService("router-test-secret-long-enough-for-hs256", ttls, nil),
		auth.NewSessionStore(s.Bucket("auth", ttls.Refresh)),
		auth.NewWorkflowStore(s.Bucket("work_flow", ttls.WorkFlow)),
	)
	gate := ratelimit.NewGate(ratelimit.NewLimiter(s.Bucket("throttle", 0)), rules)
	reg := auth.NewRegistration(users, auth.NewOTPStore(s.Bucket("otp", 2*time.Minute)), tokens, sender, gate,
		auth.WithCodeGenerator(func() (string, error) { return testCode, nil }),
		auth.WithBcryptCost(bcrypt.MinCost),
	)
	gw := auth.NewGateway(users, tokens, gate)

	router := apihttp.NewRouter(apihttp.RouterConfig{
		AuthHandler: handlers.NewAuthHandler(reg, gw),
		HealthHandler: handlers.NewHealthHandler(map[string]handlers.HealthCheck{
			"redis": s.Ping,
		}),
		Authenticator: gw,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, mr: mr, sender: sender, users: users}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (int, map[string]any, http.Header) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "router-test")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out, resp.Header
}

func (ts *testServer) list(t *testing.T, token string) []map[string]any {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.srv.URL+"/account/active_login/", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAccountFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	var workFlowToken, accessToken, refreshToken string

	t.Run("A_CheckPhoneSendsOTP", func(t *testing.T) {
		status, body, _ := ts.do(t, http.MethodPost, "/account/check_phone/", "", map[string]string{"phone": testPhone})
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "REGISTER_REQUIRED", body["message"])
		ts.sender.AssertCalled(t, "Send", testPhone, testCode)
	})

	t.Run("B_RegisterWithWrongCode", func(t *testing.T) {
		status, body, _ := ts.do(t, http.MethodPost, "/account/register/", "", map[string]string{"phone": testPhone, "code": "000000"})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "WRONG_OTP", body["error"])
	})

	t.Run("C_Register", func(t *testing.T) {
		status, body, _ := ts.do(t, http.MethodPost, "/account/register/", "", map[string]string{"phone": testPhone, "code": testCode})
		require.Equal(t, http.StatusCreated, status)
		workFlowToken, _ = body["work_flow_token"].(string)
		require.NotEmpty(t, workFlowToken)

		status, body, _ = ts.do(t, http.MethodPost, "/account/register/", "", map[string]string{"phone": testPhone, "code": testCode})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "OTP_EXPIRED", body["error"])
	})

	t.Run("D_CompleteProfile", func(t *testing.T) {
		status, body, _ := ts.do(t, http.MethodPatch, "/account/update/", workFlowToken, map[string]string{
			"first_name": "Sara", "last_name": "Ahmadi", "password": "short",
		})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Contains(t, body["errors"], "password")

		status, body, _ = ts.do(t, http.MethodPatch, "/account/update/", workFlowToken, map[string]string{
			"first_name": "Sara", "last_name": "Ahmadi", "password": "correct-horse-battery",
		})
		require.Equal(t, http.StatusOK, status)
		user, _ := body["user"].(map[string]any)
		assert.Equal(t, true, user["is_active"])
		assert.NotEmpty(t, body["access_token"])

		status, _, _ = ts.do(t, http.MethodPatch, "/account/update/", workFlowToken, map[string]string{
			"first_name": "Sara", "last_name": "Ahmadi", "password": "correct-horse-battery",
		})
		assert.Equal(t, http.StatusUnauthorized, status, "workflow token cannot be replayed")
	})

	t.Run("E_CheckPhoneNowRequiresLogin", func(t *testing.T) {
		status, body, _ := ts.do(t, http.MethodPost, "/account/check_phone/", "", map[string]string{"phone": testPhone})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "LOGIN_REQUIRED", body["message"])
	})

	t.Run("F_Login", func(t *testing.T) {
		status, body, _ := ts.do(t, http.MethodPost, "/account/login/", "", map[string]string{"phone": testPhone, "password": "nope-nope-nope"})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "WRONG_PASSWORD_OR_PHONE", body["error"])

		status, body, _ = ts.do(t, http.MethodPost, "/account/login/", "", map[string]string{"phone": "09129999999", "password": "correct-horse-battery"})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "WRONG_PASSWORD_OR_PHONE", body["error"], "unknown phones look like wrong passwords")

		status, body, _ = ts.do(t, http.MethodPost, "/account/login/", "", map[string]string{"phone": testPhone, "password": "correct-horse-battery"})
		require.Equal(t, http.StatusOK, status)
		accessToken, _ = body["access_token"].(string)
		refreshToken, _ = body["refresh_token"].(string)
		require.NotEmpty(t, accessToken)
		require.NotEmpty(t, refreshToken)
	})

	t.Run("G_ActiveLoginAndSelectedLogout", func(t *testing.T) {
		sessions := ts.list(t, accessToken)
		require.Len(t, sessions, 2, "registration and login each opened a session")
		assert.Equal(t, "router-test", sessions[0]["user_agent"])

		status, _, _ := ts.do(t, http.MethodPost, "/account/selected_logout/", accessToken, map[string]string{"jti": "xyz"})
		assert.Equal(t, http.StatusBadRequest, status)

		older, _ := sessions[1]["jti"].(string)
		status, body, _ := ts.do(t, http.MethodPost, "/account/selected_logout/", accessToken, map[string]string{"jti": older})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "LOGOUT_CHOSEN_ACCOUNT", body["message"])
		assert.Len(t, ts.list(t, accessToken), 1)
	})

	t.Run("H_RefreshRotates", func(t *testing.T) {
		status, _, _ := ts.do(t, http.MethodPost, "/account/login/refresh/", accessToken, nil)
		assert.Equal(t, http.StatusUnauthorized, status, "access token is not a refresh token")

		status, body, _ := ts.do(t, http.MethodPost, "/account/login/refresh/", refreshToken, nil)
		require.Equal(t, http.StatusCreated, status)
		newAccess, _ := body["access_token"].(string)
		newRefresh, _ := body["refresh_token"].(string)

		status, _, _ = ts.do(t, http.MethodPost, "/account/login/refresh/", refreshToken, nil)
		assert.Equal(t, http.StatusUnauthorized, status, "refresh tokens are single use")

		status, _, _ = ts.do(t, http.MethodGet, "/account/active_login/", accessToken, nil)
		assert.Equal(t, http.StatusUnauthorized, status, "old access token died with its session")

		accessToken, refreshToken = newAccess, newRefresh
	})

	t.Run("I_LogoutAll", func(t *testing.T) {
		status, body, _ := ts.do(t, http.MethodGet, "/account/logout_all/", refreshToken, nil)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "LOGOUT_ALL_ACCOUNTS", body["message"])

		status, _, _ = ts.do(t, http.MethodGet, "/account/active_login/", accessToken, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("J_Logout", func(t *testing.T) {
		_, body, _ := ts.do(t, http.MethodPost, "/account/login/", "", map[string]string{"phone": testPhone, "password": "correct-horse-battery"})
		refresh, _ := body["refresh_token"].(string)

		status, _, _ := ts.do(t, http.MethodGet, "/account/logout/", refresh, nil)
		assert.Equal(t, http.StatusOK, status)
		status, _, _ = ts.do(t, http.MethodGet, "/account/logout/", refresh, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("K_DeleteAccount", func(t *testing.T) {
		_, body, _ := ts.do(t, http.MethodPost, "/account/login/", "", map[string]string{"phone": testPhone, "password": "correct-horse-battery"})
		refresh, _ := body["refresh_token"].(string)

		status, _, _ := ts.do(t, http.MethodDelete, "/account/delete/", refresh, nil)
		assert.Equal(t, http.StatusNoContent, status)

		status, body, _ = ts.do(t, http.MethodPost, "/account/check_phone/", "", map[string]string{"phone": testPhone})
		assert.Equal(t, http.StatusForbidden, status)
		assert.Equal(t, "DELETED_ACCOUNT", body["message"])
	})
}

func TestCheckPhone_Validation(t *testing.T) {
	ts := newTestServer(t, nil)

	status, body, _ := ts.do(t, http.MethodPost, "/account/check_phone/", "", map[string]string{"phone": "+98912"})
	assert.Equal(t, http.StatusBadRequest, status)
	errs, _ := body["errors"].(map[string]any)
	assert.Contains(t, errs, "phone")
	ts.sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestRegister_MalformedCodeIsValidationError(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, code := range []string{"+12345", "-12345", "1.2345"} {
		status, body, _ := ts.do(t, http.MethodPost, "/account/register/", "", map[string]string{"phone": testPhone, "code": code})
		assert.Equal(t, http.StatusBadRequest, status, code)
		assert.Equal(t, "validation failed", body["error"], code)
		errs, _ := body["errors"].(map[string]any)
		assert.Contains(t, errs, "code", code)
	}
}

func TestCheckPhone_RateLimited(t *testing.T) {
	ts := newTestServer(t, ratelimit.Rules{ratelimit.ScopeCheckPhone: {Limit: 1, Window: time.Minute}})

	status, _, _ := ts.do(t, http.MethodPost, "/account/check_phone/", "", map[string]string{"phone": testPhone})
	require.Equal(t, http.StatusNotFound, status)

	status, body, header := ts.do(t, http.MethodPost, "/account/check_phone/", "", map[string]string{"phone": testPhone})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.NotEmpty(t, header.Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", body["error"])
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, nil)

	status, body, _ := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])

	resp, err := http.Get(ts.srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ts.mr.Close()
	status, body, _ = ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, []any{"redis"}, body["failed"])
}
