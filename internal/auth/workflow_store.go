package auth

import (
	"context"

	"github.com/phonegate/server/internal/store"
)

// WorkflowStore remembers the jti of the single live workflow token per phone.
type WorkflowStore struct {
	bucket *store.Bucket
}

// NewWorkflowStore creates a workflow store over bucket.
func NewWorkflowStore(bucket *store.Bucket) *WorkflowStore {
	return &WorkflowStore{bucket: bucket}
}

// Put makes jti the live workflow token of phone, replacing any earlier one.
func (s *WorkflowStore) Put(ctx context.Context, phone, jti string) error {
	return s.bucket.Set(ctx, phone, jti)
}

// Current returns the live jti for phone.
func (s *WorkflowStore) Current(ctx context.Context, phone string) (string, bool, error) {
	return s.bucket.Get(ctx, phone)
}

// Delete ends the workflow of phone.
func (s *WorkflowStore) Delete(ctx context.Context, phone string) error {
	return s.bucket.Delete(ctx, phone)
}
