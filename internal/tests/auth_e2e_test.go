package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phonegate/server/internal/ratelimit"
)

// TestAuthE2E_RateLimits drives the throttled endpoints past their limits.
// Deterministic: TruncateAuth before each section.
func TestAuthE2E_RateLimits(t *testing.T) {
	ts := newTestServer(t, ratelimit.Rules{
		ratelimit.ScopeCheckPhone: {Limit: 3, Window: time.Minute},
		ratelimit.ScopeRegister:   {Limit: 2, Window: time.Minute},
		ratelimit.ScopeLogin:      {Limit: 2, Window: time.Minute},
	})

	t.Run("A_CheckPhone", func(t *testing.T) {
		ts.TruncateAuth(t)
		body := map[string]string{"phone": "09123334455"}
		for i := 0; i < 3; i++ {
			status, resp := ts.call(t, http.MethodPost, "/account/check_phone/", "", body)
			require.Equal(t, http.StatusNotFound, status, "request %d; body: %s", i+1, resp)
		}
		status, resp := ts.call(t, http.MethodPost, "/account/check_phone/", "", body)
		assert.Equal(t, http.StatusTooManyRequests, status, "4th check_phone must return 429; body: %s", resp)
	})

	t.Run("B_RegisterCountsEveryAttempt", func(t *testing.T) {
		ts.TruncateAuth(t)
		body := map[string]string{"phone": "09124445566", "code": "000000"}
		for i := 0; i < 2; i++ {
			status, _ := ts.call(t, http.MethodPost, "/account/register/", "", body)
			require.Equal(t, http.StatusBadRequest, status)
		}
		status, resp := ts.call(t, http.MethodPost, "/account/register/", "", body)
		assert.Equal(t, http.StatusTooManyRequests, status, "body: %s", resp)

		var res struct {
			RetryAfter int `json:"retry_after"`
		}
		require.NoError(t, json.Unmarshal([]byte(resp), &res))
		assert.Greater(t, res.RetryAfter, 0)
		assert.LessOrEqual(t, res.RetryAfter, 60)
	})

	t.Run("C_LoginFailures", func(t *testing.T) {
		ts.TruncateAuth(t)
		body := map[string]string{"phone": "09125556677", "password": "does-not-matter"}
		for i := 0; i < 2; i++ {
			status, _ := ts.call(t, http.MethodPost, "/account/login/", "", body)
			require.Equal(t, http.StatusUnauthorized, status)
		}
		status, resp := ts.call(t, http.MethodPost, "/account/login/", "", body)
		assert.Equal(t, http.StatusTooManyRequests, status, "unknown phones still count against the client ip; body: %s", resp)
	})

	t.Run("D_RetryAfterHeader", func(t *testing.T) {
		ts.TruncateAuth(t)
		body := map[string]string{"phone": "09125556677", "password": "does-not-matter"}
		resp, err := ts.Server.Client().Post(ts.BaseURL()+"/account/login/", "application/json", jsonBody(t, body))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "limit carries over from C; body: %s", readBody(resp))

		secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
		require.NoError(t, err)
		assert.Greater(t, secs, 0)
	})
}

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}
