package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/phonegate/server/internal/logger"
	"github.com/phonegate/server/internal/metrics"
	"github.com/phonegate/server/internal/model"
	"github.com/phonegate/server/internal/ratelimit"
	"github.com/phonegate/server/internal/repo"
	"github.com/phonegate/server/internal/sms"
	"github.com/phonegate/server/internal/validation"
)

// Profile is the data a user supplies to finish registration.
type Profile struct {
	FirstName string
	LastName  string
	Password  string
}

// Registration drives a phone number from OTP verification to an active account:
// check phone, verify the code for a workflow token, then complete the profile with
// that token.
type Registration struct {
	users      repo.UserRepo
	otps       *OTPStore
	tokens     *TokenService
	sender     sms.Sender
	throttle   ratelimit.Throttle
	newCode    func() (string, error)
	bcryptCost int
	log        *slog.Logger
}

// RegistrationOption configures a Registration.
type RegistrationOption func(*Registration)

// WithCodeGenerator replaces GenerateCode.
func WithCodeGenerator(gen func() (string, error)) RegistrationOption {
	return func(r *Registration) { r.newCode = gen }
}

// WithBcryptCost sets the cost used for password hashes.
func WithBcryptCost(cost int) RegistrationOption {
	return func(r *Registration) { r.bcryptCost = cost }
}

// NewRegistration creates a new registration workflow
func NewRegistration(
	users repo.UserRepo,
	otps *OTPStore,
	tokens *TokenService,
	sender sms.Sender,
	throttle ratelimit.Throttle,
	opts ...RegistrationOption,
) *Registration {
	r := &Registration{
		users:      users,
		otps:       otps,
		tokens:     tokens,
		sender:     sender,
		throttle:   throttle,
		newCode:    GenerateCode,
		bcryptCost: bcrypt.DefaultCost,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CheckPhone decides the next step for phone. New numbers and accounts that never set
// a password get a fresh OTP by SMS.
func (r *Registration) CheckPhone(ctx context.Context, phone, ip string) (model.PhoneStatus, error) {
	if err := validation.Phone(phone); err != nil {
		return "", err
	}
	identifiers := []string{phone, ip}
	if err := r.throttle.Check(ctx, ratelimit.ScopeCheckPhone, identifiers...); err != nil {
		return "", err
	}

	user, err := r.users.GetByPhoneIncludingDeleted(ctx, phone)
	if errors.Is(err, repo.ErrUserNotFound) {
		if err := r.sendOTP(ctx, phone); err != nil {
			return "", err
		}
		r.throttle.Hit(ctx, ratelimit.ScopeCheckPhone, identifiers...)
		return model.StatusRegisterRequired, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up phone: %w", err)
	}

	r.throttle.Hit(ctx, ratelimit.ScopeCheckPhone, identifiers...)
	if user.IsDeleted {
		return model.StatusDeletedAccount, nil
	}
	switch user.ActivationState() {
	case model.StateNotActivated:
		if err := r.sendOTP(ctx, phone); err != nil {
			return "", err
		}
		return model.StatusNoPasswordFound, nil
	case model.StateInactive:
		return model.StatusInactiveUser, nil
	default:
		return model.StatusLoginRequired, nil
	}
}

// sendOTP delivers a new code and stores it only after the provider accepted it.
func (r *Registration) sendOTP(ctx context.Context, phone string) error {
	code, err := r.newCode()
	if err != nil {
		return err
	}
	if err := r.sender.Send(ctx, phone, code); err != nil {
		metrics.OTPSentTotal.WithLabelValues("failed").Inc()
		r.log.ErrorContext(ctx, "otp delivery failed", logger.Phone(phone), "error", err)
		return fmt.Errorf("%w: %v", ErrSMSDelivery, err)
	}
	metrics.OTPSentTotal.WithLabelValues("sent").Inc()

	if err := r.otps.Save(ctx, phone, code); err != nil {
		return fmt.Errorf("failed to store otp: %w", err)
	}
	r.log.InfoContext(ctx, "otp sent", logger.Phone(phone))
	return nil
}

// VerifyRegistration exchanges a valid OTP for a workflow token. The code is consumed
// on success. Every attempt counts against the register limit.
func (r *Registration) VerifyRegistration(ctx context.Context, phone, code, ip string) (string, error) {
	if err := validation.Phone(phone); err != nil {
		return "", err
	}
	identifiers := []string{phone, ip}
	if err := r.throttle.Check(ctx, ratelimit.ScopeRegister, identifiers...); err != nil {
		return "", err
	}
	r.throttle.Hit(ctx, ratelimit.ScopeRegister, identifiers...)

	user, err := r.users.GetByPhoneIncludingDeleted(ctx, phone)
	switch {
	case errors.Is(err, repo.ErrUserNotFound):
	case err != nil:
		return "", fmt.Errorf("failed to look up phone: %w", err)
	case user.IsDeleted:
		return "", ErrDeletedAccount
	case user.ActivationState() == model.StateInactive:
		return "", ErrInactiveUser
	case user.ActivationState() == model.StateActive:
		return "", ErrAccountExists
	}

	stored, found, err := r.otps.Get(ctx, phone)
	if err != nil {
		return "", fmt.Errorf("failed to load otp: %w", err)
	}
	if !found {
		return "", ErrOTPExpired
	}
	if !codesEqual(stored, code) {
		return "", ErrWrongOTP
	}

	if _, err := r.users.GetOrCreateByPhone(ctx, phone); err != nil {
		return "", fmt.Errorf("failed to get or create user: %w", err)
	}
	token, err := r.tokens.IssueWorkflowToken(ctx, phone)
	if err != nil {
		return "", err
	}
	if err := r.otps.Delete(ctx, phone); err != nil {
		return "", fmt.Errorf("failed to consume otp: %w", err)
	}

	r.log.InfoContext(ctx, "phone verified", logger.Phone(phone))
	return token, nil
}

// CompleteProfile sets the password and names of the account behind a validated
// workflow token, activates it, ends the workflow and opens a first session.
func (r *Registration) CompleteProfile(ctx context.Context, claims *Claims, profile Profile, device string) (model.User, TokenPair, error) {
	if claims == nil || claims.TokenType != TokenWorkFlow {
		return model.User{}, TokenPair{}, ErrUnauthenticated
	}
	phone := claims.Phone

	user, err := r.users.GetByPhoneIncludingDeleted(ctx, phone)
	if errors.Is(err, repo.ErrUserNotFound) {
		return model.User{}, TokenPair{}, ErrUnauthenticated
	}
	if err != nil {
		return model.User{}, TokenPair{}, fmt.Errorf("failed to look up phone: %w", err)
	}
	if user.IsDeleted {
		return model.User{}, TokenPair{}, ErrDeletedAccount
	}
	if user.HasPassword() {
		return model.User{}, TokenPair{}, ErrPasswordAlreadySet
	}

	firstName := strings.TrimSpace(profile.FirstName)
	lastName := strings.TrimSpace(profile.LastName)
	if firstName == "" {
		return model.User{}, TokenPair{}, validation.FieldError("first_name", "First name is not valid")
	}
	if lastName == "" {
		return model.User{}, TokenPair{}, validation.FieldError("last_name", "Last name is not valid")
	}
	if err := CheckPasswordStrength(profile.Password, phone); err != nil {
		return model.User{}, TokenPair{}, err
	}
	hash, err := HashPassword(profile.Password, r.bcryptCost)
	if err != nil {
		return model.User{}, TokenPair{}, err
	}

	updated, err := r.users.CompleteProfile(ctx, user.ID, firstName, lastName, hash)
	if errors.Is(err, repo.ErrProfileConflict) {
		return model.User{}, TokenPair{}, ErrPasswordAlreadySet
	}
	if err != nil {
		return model.User{}, TokenPair{}, fmt.Errorf("failed to complete profile: %w", err)
	}

	if err := r.tokens.EndWorkflow(ctx, phone); err != nil {
		return model.User{}, TokenPair{}, err
	}
	pair, err := r.tokens.IssueLoginTokens(ctx, updated.ID, device)
	if err != nil {
		return model.User{}, TokenPair{}, err
	}

	r.log.InfoContext(ctx, "registration completed", logger.Phone(phone), "user_id", updated.ID)
	return updated, pair, nil
}
