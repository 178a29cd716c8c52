package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a legacy static automation key. No rotation, no expiry: a key is
// valid until deleted. That is intentionally preserved for automation
// compatibility and is the reduced-security path of the credential boundary.
type APIKey struct {
	ID     uuid.UUID
	UserID string

	// Fingerprint is the sha256 of the key for O(1) lookup;
	// KeyHash is the bcrypt hash verified after lookup
	Fingerprint string
	KeyHash     string

	Description string
	CreatedAt   time.Time
	LastUsedAt  *time.Time
}
