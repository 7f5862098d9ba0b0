package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/phonegate/server/internal/auth"
	"github.com/phonegate/server/internal/middleware"
	"github.com/phonegate/server/internal/ratelimit"
	"github.com/phonegate/server/internal/validation"
)

// Codes returned in the error field for workflow outcomes clients branch on.
const (
	codeSMSProviderFailure   = "SMS_PROVIDER_FAILURE"
	codeOTPExpired           = "OTP_EXPIRED"
	codeWrongOTP             = "WRONG_OTP"
	codeDeletedAccount       = "DELETED_ACCOUNT"
	codeInactiveUser         = "INACTIVE_USER"
	codeAccountExists        = "ACCOUNT_EXISTS"
	codePasswordAlreadySet   = "PASSWORD_ALREADY_SET"
	codeWrongPasswordOrPhone = "WRONG_PASSWORD_OR_PHONE"
	codeLogoutAllAccounts    = "LOGOUT_ALL_ACCOUNTS"
	codeLogoutChosenAccount  = "LOGOUT_CHOSEN_ACCOUNT"
)

type errorResponse struct {
	Error      string            `json:"error"`
	Detail     string            `json:"detail,omitempty"`
	Errors     map[string]string `json:"errors,omitempty"`
	RetryAfter int               `json:"retry_after,omitempty"`
}

// writeError maps a workflow error to its HTTP response. Unknown errors are logged and
// reported as 500 so that backend failures never look like bad credentials.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr    *validation.Error
		limited *ratelimit.RateLimitedError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Errors: verr.Errors})
	case errors.As(err, &limited):
		secs := int(math.Ceil(limited.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", RetryAfter: secs})
	case errors.Is(err, auth.ErrSMSDelivery):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: codeSMSProviderFailure})
	case errors.Is(err, auth.ErrOTPExpired):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: codeOTPExpired})
	case errors.Is(err, auth.ErrWrongOTP):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: codeWrongOTP})
	case errors.Is(err, auth.ErrWeakPassword):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  "validation failed",
			Errors: map[string]string{"password": err.Error()},
		})
	case errors.Is(err, auth.ErrDeletedAccount):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: codeDeletedAccount})
	case errors.Is(err, auth.ErrInactiveUser):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: codeInactiveUser})
	case errors.Is(err, auth.ErrAccountExists):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: codeAccountExists, Detail: "account already exists, please login"})
	case errors.Is(err, auth.ErrPasswordAlreadySet):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: codePasswordAlreadySet})
	case errors.Is(err, auth.ErrWrongPhoneOrPassword):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: codeWrongPasswordOrPhone})
	default:
		if status, message, ok := middleware.TokenErrorStatus(err); ok {
			writeJSON(w, status, errorResponse{Error: message})
			return
		}
		slog.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

type messageResponse struct {
	Message string `json:"message"`
}
