package models

import (
	"time"

	"github.com/google/uuid"
)

// TwoFactorAuth is one identity's TOTP enrollment.
// Verified stays false until the first successful code check completes
// setup; EnabledAt is written at that moment and never again.
type TwoFactorAuth struct {
	UserID    string
	SecretKey string // base32 TOTP seed

	SetupAt    time.Time
	Verified   bool
	EnabledAt  *time.Time
	LastUsedAt *time.Time
}

// Enabled reports whether the identity must pass a 2FA check on login
func (a TwoFactorAuth) Enabled() bool {
	return a.Verified && a.EnabledAt != nil
}

// BackupCode is a single-use recovery code, stored hashed.
// UsedAt moves a code to the consumed set exactly once, never back.
type BackupCode struct {
	ID        uuid.UUID
	UserID    string
	CodeHash  string
	CreatedAt time.Time
	UsedAt    *time.Time
}
