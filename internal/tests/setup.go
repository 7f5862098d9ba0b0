package tests

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/phonegate/server/internal/db"
)

// RunMigrations applies the embedded migrations.
func RunMigrations(database *sql.DB) error {
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// TruncateAuthTables truncates auth-related tables for a clean test state.
func TruncateAuthTables(ctx context.Context, database *sql.DB) error {
	_, err := database.ExecContext(ctx, "TRUNCATE TABLE users CASCADE")
	if err != nil {
		return fmt.Errorf("truncate auth tables: %w", err)
	}
	return nil
}

// outbox is an sms.Sender that keeps the last code sent to each phone.
type outbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func newOutbox() *outbox {
	return &outbox{codes: make(map[string]string)}
}

func (o *outbox) Send(_ context.Context, phone, code string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.codes[phone] = code
	return nil
}

// Last returns the last code sent to phone.
func (o *outbox) Last(phone string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.codes[phone]
}
