package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/phonegate/server/internal/model"
	"github.com/phonegate/server/internal/store"
)

// SessionKey identifies one login session of a user.
type SessionKey struct {
	UserID    uuid.UUID
	SessionID string
}

func (k SessionKey) String() string {
	return userPrefix(k.UserID) + k.SessionID
}

func userPrefix(userID uuid.UUID) string {
	return "user_" + userID.String() + ":"
}

// SessionStore keeps one entry per live session. Entries expire with the bucket TTL,
// which equals the refresh token lifetime.
type SessionStore struct {
	bucket *store.Bucket
}

// NewSessionStore creates a session store over bucket.
func NewSessionStore(bucket *store.Bucket) *SessionStore {
	return &SessionStore{bucket: bucket}
}

// Create records a session for userID.
func (s *SessionStore) Create(ctx context.Context, userID uuid.UUID, session model.Session) error {
	value, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	key := SessionKey{UserID: userID, SessionID: session.ID}
	return s.bucket.Set(ctx, key.String(), string(value))
}

// Exists reports whether the session is live.
func (s *SessionStore) Exists(ctx context.Context, key SessionKey) (bool, error) {
	_, found, err := s.bucket.Get(ctx, key.String())
	return found, err
}

// Delete removes a session and reports whether it was live.
func (s *SessionStore) Delete(ctx context.Context, key SessionKey) (bool, error) {
	return s.bucket.Remove(ctx, key.String())
}

// DeleteAll removes every session of userID. A session created while the deletion
// runs may survive it.
func (s *SessionStore) DeleteAll(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.bucket.DeleteByPrefix(ctx, userPrefix(userID))
}

// List returns the live sessions of userID, newest first. Entries that cannot be
// decoded are skipped.
func (s *SessionStore) List(ctx context.Context, userID uuid.UUID) ([]model.Session, error) {
	keys, err := s.bucket.ListKeys(ctx, userPrefix(userID))
	if err != nil {
		return nil, err
	}
	values, err := s.bucket.GetMany(ctx, keys)
	if err != nil {
		return nil, err
	}

	sessions := make([]model.Session, 0, len(values))
	for key, value := range values {
		var session model.Session
		if err := json.Unmarshal([]byte(value), &session); err != nil {
			slog.WarnContext(ctx, "skipping undecodable session", "key", key, "error", err)
			continue
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].IssuedAt.Equal(sessions[j].IssuedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].IssuedAt.After(sessions[j].IssuedAt)
	})
	return sessions, nil
}
