package models

import (
	"time"

	"github.com/google/uuid"
)

// AccessToken is the stored record of one signed access token.
// ID doubles as the jti claim embedded in the signed string. Only hashes of
// credentials are persisted, so a database read can't leak a usable token.
// Every record is bound to exactly one refresh token: revoking the refresh
// token cascade-revokes the record.
type AccessToken struct {
	ID     uuid.UUID // jti
	UserID string

	TokenHash        string
	RefreshTokenID   uuid.UUID
	RefreshTokenHash string

	Scopes []string

	IssuedAt         time.Time
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time

	LastUsedAt *time.Time
	RevokedAt  *time.Time
	UsageCount int64
	LastUsedIP *string
}

// Active reports whether the record itself is still honored by validation
func (t AccessToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.AccessExpiresAt)
}

// AccessClaims is what access token validation hands to the authorization layer.
// Scopes are opaque here: carried, never interpreted.
type AccessClaims struct {
	TokenID uuid.UUID
	UserID  string
	Scopes  []string

	IssuedAt  time.Time
	ExpiresAt time.Time
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// TokenPair issued on login and on every successful rotation
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}

// RequestContext carries where a credential operation came from.
// Stored next to the token for audit and theft forensics.
type RequestContext struct {
	IP        string
	UserAgent string
}
