package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the stored state of one opaque refresh token.
// Only the sha256 hash of the value is persisted; the plaintext leaves the
// process exactly once, inside the TokenPair returned to the client.
type RefreshToken struct {
	ID     uuid.UUID
	UserID string

	// Hash of the opaque token value, used for lookups
	TokenHash string

	// LineageID is shared by every token produced by successive rotations
	// from one original issuance. Equals ID for the first token in a chain.
	LineageID uuid.UUID

	// Scopes granted at original issuance, carried to every successor
	Scopes []string

	CreatedAt   time.Time
	ExpiresAt   time.Time
	CreatedByIP string

	RevokedAt   *time.Time // nil if token is active
	RevokedByIP *string

	// ReplacedBy points to the successor created by rotation, nil otherwise.
	// Kept for forensic tracing of a stolen token chain.
	ReplacedBy *uuid.UUID
}

// Active reports whether the token may still be rotated
func (t RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
