package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/phonegate/server/internal/auth"
	"github.com/phonegate/server/internal/middleware"
	"github.com/phonegate/server/internal/model"
	"github.com/phonegate/server/internal/validation"
)

const maxBodyBytes = 1 << 20

// Registrar is the registration workflow used by the account endpoints.
type Registrar interface {
	CheckPhone(ctx context.Context, phone, ip string) (model.PhoneStatus, error)
	VerifyRegistration(ctx context.Context, phone, code, ip string) (string, error)
	CompleteProfile(ctx context.Context, claims *auth.Claims, profile auth.Profile, device string) (model.User, auth.TokenPair, error)
}

// Accounts is the login and session surface used by the account endpoints.
type Accounts interface {
	Login(ctx context.Context, phone, password, ip, device string) (auth.TokenPair, error)
	Refresh(ctx context.Context, claims *auth.Claims, device string) (auth.TokenPair, error)
	Logout(ctx context.Context, claims *auth.Claims) error
	LogoutAll(ctx context.Context, userID uuid.UUID) error
	LogoutSession(ctx context.Context, userID uuid.UUID, jti string) error
	Sessions(ctx context.Context, userID uuid.UUID) ([]model.Session, error)
	DeleteAccount(ctx context.Context, userID uuid.UUID) error
}

// AuthHandler handles the /account endpoints
type AuthHandler struct {
	registrar Registrar
	accounts  Accounts
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(registrar Registrar, accounts Accounts) *AuthHandler {
	return &AuthHandler{registrar: registrar, accounts: accounts}
}

// phoneRequest is the request body for POST /account/check_phone/
type phoneRequest struct {
	Phone string `json:"phone" validate:"required,phone"`
}

// registerRequest is the request body for POST /account/register/
type registerRequest struct {
	Phone string `json:"phone" validate:"required,phone"`
	Code  string `json:"code" validate:"required,number,len=6"`
}

// registerResponse is the JSON response for register
type registerResponse struct {
	WorkFlowToken string `json:"work_flow_token"`
}

// updateRequest is the request body for PATCH /account/update/
type updateRequest struct {
	FirstName string `json:"first_name" validate:"required,max=150"`
	LastName  string `json:"last_name" validate:"required,max=150"`
	Password  string `json:"password" validate:"required"`
}

// userResponse is the user object in API responses
type userResponse struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// updateResponse is the JSON response for update
type updateResponse struct {
	User         userResponse `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
}

// loginRequest is the request body for POST /account/login/
type loginRequest struct {
	Phone    string `json:"phone" validate:"required,phone"`
	Password string `json:"password" validate:"required"`
}

// jtiRequest is the request body for POST /account/selected_logout/
type jtiRequest struct {
	JTI string `json:"jti" validate:"required,jti"`
}

// sessionResponse is one entry of GET /account/active_login/
type sessionResponse struct {
	JTI       string    `json:"jti"`
	UserAgent string    `json:"user_agent"`
	IssuedAt  time.Time `json:"issued_at"`
}

// decode reads a JSON body into v and validates it.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return validation.FieldError("body", "invalid request body")
	}
	return validation.Struct(v)
}

// HandleCheckPhone handles POST /account/check_phone/
func (h *AuthHandler) HandleCheckPhone(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	status, err := h.registrar.CheckPhone(r.Context(), req.Phone, middleware.GetClientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	code := http.StatusForbidden
	switch status {
	case model.StatusLoginRequired:
		code = http.StatusOK
	case model.StatusRegisterRequired:
		code = http.StatusNotFound
	}
	writeJSON(w, code, messageResponse{Message: string(status)})
}

// HandleRegister handles POST /account/register/
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	token, err := h.registrar.VerifyRegistration(r.Context(), req.Phone, req.Code, middleware.GetClientIP(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, registerResponse{WorkFlowToken: token})
}

// HandleUpdate handles PATCH /account/update/ (workflow token)
func (h *AuthHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		writeError(w, r, auth.ErrUnauthenticated)
		return
	}
	var req updateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, pair, err := h.registrar.CompleteProfile(r.Context(), p.Claims, auth.Profile{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	}, r.UserAgent())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, updateResponse{
		User: userResponse{
			ID:        user.ID.String(),
			Phone:     user.Phone,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			IsActive:  user.IsActive,
			CreatedAt: user.CreatedAt,
		},
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// HandleLogin handles POST /account/login/
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	pair, err := h.accounts.Login(r.Context(), req.Phone, req.Password, middleware.GetClientIP(r), r.UserAgent())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// HandleRefresh handles POST /account/login/refresh/ (refresh token)
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		writeError(w, r, auth.ErrUnauthenticated)
		return
	}

	pair, err := h.accounts.Refresh(r.Context(), p.Claims, r.UserAgent())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

// HandleLogout handles GET /account/logout/ (refresh token)
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		writeError(w, r, auth.ErrUnauthenticated)
		return
	}
	if err := h.accounts.Logout(r.Context(), p.Claims); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out successfully"})
}

// HandleLogoutAll handles GET /account/logout_all/ (refresh token)
func (h *AuthHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		writeError(w, r, auth.ErrUnauthenticated)
		return
	}
	if err := h.accounts.LogoutAll(r.Context(), user.ID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: codeLogoutAllAccounts})
}

// HandleSelectedLogout handles POST /account/selected_logout/ (access token)
func (h *AuthHandler) HandleSelectedLogout(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		writeError(w, r, auth.ErrUnauthenticated)
		return
	}
	var req jtiRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.accounts.LogoutSession(r.Context(), user.ID, req.JTI); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: codeLogoutChosenAccount})
}

// HandleActiveLogin handles GET /account/active_login/ (access token)
func (h *AuthHandler) HandleActiveLogin(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		writeError(w, r, auth.ErrUnauthenticated)
		return
	}
	sessions, err := h.accounts.Sessions(r.Context(), user.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	response := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		response = append(response, sessionResponse{JTI: s.ID, UserAgent: s.UserAgent, IssuedAt: s.IssuedAt})
	}
	writeJSON(w, http.StatusOK, response)
}

// HandleDeleteAccount handles DELETE /account/delete/ (refresh token)
func (h *AuthHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r.Context())
	if !ok {
		writeError(w, r, auth.ErrUnauthenticated)
		return
	}
	if err := h.accounts.DeleteAccount(r.Context(), user.ID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
