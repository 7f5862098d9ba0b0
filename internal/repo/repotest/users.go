// Package repotest provides an in-memory UserRepo for tests.
package repotest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/phonegate/server/internal/model"
	"github.com/phonegate/server/internal/repo"
)

// Users is an in-memory repo.UserRepo keyed by phone.
type Users struct {
	mu      sync.Mutex
	byPhone map[string]*model.User
	// Err, when set, is returned by every call.
	Err error
}

var _ repo.UserRepo = (*Users)(nil)

// NewUsers returns an empty repository.
func NewUsers() *Users {
	return &Users{byPhone: make(map[string]*model.User)}
}

// Add stores u, assigning an ID and creation time when missing, and returns the copy kept.
func (r *Users) Add(u model.User) model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	r.byPhone[u.Phone] = &u
	return u
}

// Get returns the stored user for phone, deleted or not.
func (r *Users) Get(phone string) (model.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byPhone[phone]
	if !ok {
		return model.User{}, false
	}
	return *u, true
}

func (r *Users) GetByID(_ context.Context, id uuid.UUID) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return model.User{}, r.Err
	}
	for _, u := range r.byPhone {
		if u.ID == id && !u.IsDeleted {
			return *u, nil
		}
	}
	return model.User{}, repo.ErrUserNotFound
}

func (r *Users) GetByPhone(ctx context.Context, phone string) (model.User, error) {
	u, err := r.GetByPhoneIncludingDeleted(ctx, phone)
	if err != nil {
		return model.User{}, err
	}
	if u.IsDeleted {
		return model.User{}, repo.ErrUserNotFound
	}
	return u, nil
}

func (r *Users) GetByPhoneIncludingDeleted(_ context.Context, phone string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return model.User{}, r.Err
	}
	u, ok := r.byPhone[phone]
	if !ok {
		return model.User{}, repo.ErrUserNotFound
	}
	return *u, nil
}

func (r *Users) GetOrCreateByPhone(ctx context.Context, phone string) (model.User, error) {
	r.mu.Lock()
	if r.Err != nil {
		r.mu.Unlock()
		return model.User{}, r.Err
	}
	_, exists := r.byPhone[phone]
	r.mu.Unlock()
	if !exists {
		r.Add(model.User{Phone: phone})
	}
	return r.GetByPhoneIncludingDeleted(ctx, phone)
}

func (r *Users) CompleteProfile(_ context.Context, id uuid.UUID, firstName, lastName, passwordHash string) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return model.User{}, r.Err
	}
	for _, u := range r.byPhone {
		if u.ID != id {
			continue
		}
		if u.IsDeleted || u.HasPassword() {
			return model.User{}, repo.ErrProfileConflict
		}
		u.FirstName = firstName
		u.LastName = lastName
		u.PasswordHash = passwordHash
		u.IsActive = true
		return *u, nil
	}
	return model.User{}, repo.ErrProfileConflict
}

func (r *Users) SoftDelete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	for _, u := range r.byPhone {
		if u.ID == id && !u.IsDeleted {
			now := time.Now()
			u.IsDeleted = true
			u.DeletedAt = &now
			return nil
		}
	}
	return repo.ErrUserNotFound
}
