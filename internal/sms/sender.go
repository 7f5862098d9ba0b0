// Package sms delivers one-time codes to phone numbers.
package sms

import (
	"context"
	"log/slog"

	"github.com/phonegate/server/internal/logger"
)

// Sender delivers an OTP code to a phone number. A nil error means the provider
// accepted the message.
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// DryRun logs codes instead of sending them. Used for local development.
type DryRun struct {
	log *slog.Logger
}

// NewDryRun creates a sender that only logs.
func NewDryRun(log *slog.Logger) *DryRun {
	if log == nil {
		log = slog.Default()
	}
	return &DryRun{log: log}
}

// Send logs the code and never fails.
func (d *DryRun) Send(ctx context.Context, phone, code string) error {
	d.log.InfoContext(ctx, "sms dry run", logger.Phone(phone), "code", code)
	return nil
}
