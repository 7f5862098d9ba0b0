package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/phonegate/server/internal/model"
)

var (
	// ErrUserNotFound is returned when no user matches the lookup.
	ErrUserNotFound = errors.New("user not found")
	// ErrProfileConflict is returned when a profile update finds the account already
	// completed or deleted.
	ErrProfileConflict = errors.New("user profile already completed")
)

// UserRepo defines the interface for user repository operations
type UserRepo interface {
	// GetByID returns a user that is not soft-deleted.
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	// GetByPhone returns a user that is not soft-deleted.
	GetByPhone(ctx context.Context, phone string) (model.User, error)
	// GetByPhoneIncludingDeleted returns the user owning phone whatever its deletion state.
	GetByPhoneIncludingDeleted(ctx context.Context, phone string) (model.User, error)
	GetOrCreateByPhone(ctx context.Context, phone string) (model.User, error)
	// CompleteProfile sets names and password hash and activates the account. It only
	// applies to live accounts that have no password yet.
	CompleteProfile(ctx context.Context, id uuid.UUID, firstName, lastName, passwordHash string) (model.User, error)
	// SoftDelete flags the account as deleted and stamps deleted_at; the row is kept.
	SoftDelete(ctx context.Context, id uuid.UUID) error
}

type userRepo struct {
	db *sql.DB
}

// NewUserRepo creates a new UserRepo instance
func NewUserRepo(db *sql.DB) UserRepo {
	return &userRepo{db: db}
}

const userColumns = `id, phone, password_hash, first_name, last_name, is_active, is_deleted, deleted_at, created_at`

func scanUser(row *sql.Row) (model.User, error) {
	var user model.User
	var passwordHash sql.NullString
	err := row.Scan(
		&user.ID,
		&user.Phone,
		&passwordHash,
		&user.FirstName,
		&user.LastName,
		&user.IsActive,
		&user.IsDeleted,
		&user.DeletedAt,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrUserNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}
	user.PasswordHash = passwordHash.String
	return user, nil
}

// GetByID retrieves a live user by ID
func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND is_deleted = false`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByPhone retrieves a live user by phone number
func (r *userRepo) GetByPhone(ctx context.Context, phone string) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1 AND is_deleted = false`
	return scanUser(r.db.QueryRowContext(ctx, query, phone))
}

// GetByPhoneIncludingDeleted retrieves a user by phone number, deleted or not
func (r *userRepo) GetByPhoneIncludingDeleted(ctx context.Context, phone string) (model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, phone))
}

// GetOrCreateByPhone retrieves a user by phone number or creates one if it doesn't exist
func (r *userRepo) GetOrCreateByPhone(ctx context.Context, phone string) (model.User, error) {
	// Try to insert first, using ON CONFLICT DO NOTHING
	query := `
		INSERT INTO users (phone)
		VALUES ($1)
		ON CONFLICT (phone) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, query, phone); err != nil {
		return model.User{}, fmt.Errorf("failed to insert user: %w", err)
	}

	// Now select the user (whether it was just created or already existed)
	return r.GetByPhoneIncludingDeleted(ctx, phone)
}

// CompleteProfile stores the profile fields and activates the account
func (r *userRepo) CompleteProfile(ctx context.Context, id uuid.UUID, firstName, lastName, passwordHash string) (model.User, error) {
	query := `
		UPDATE users
		SET first_name = $2, last_name = $3, password_hash = $4, is_active = true
		WHERE id = $1 AND is_deleted = false AND password_hash IS NULL
		RETURNING ` + userColumns
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id, firstName, lastName, passwordHash))
	if errors.Is(err, ErrUserNotFound) {
		return model.User{}, ErrProfileConflict
	}
	return user, err
}

// SoftDelete marks the user as deleted
func (r *userRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE users SET is_deleted = true, deleted_at = now()
		WHERE id = $1 AND is_deleted = false
	`, id)
	if err != nil {
		return fmt.Errorf("soft delete user: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}
