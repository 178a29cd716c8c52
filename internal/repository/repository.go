package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wayroute/authd/internal/models"
)

// RefreshToken repository interface
type RefreshTokenRepo interface {
	// Save new token
	Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error)

	// Return the token whatever state it is in (revoked and expired included)
	// If the token doesn't exist must return apperrors.ErrTokenNotFound
	GetByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error)

	// Revoke the token if and only if it is not revoked yet.
	// The check and the write are one statement: under concurrent calls with
	// the same hash exactly one caller succeeds.
	// If the token is revoked already must return apperrors.ErrTokenRevoked
	// together with the stored token (the caller needs it for reuse handling).
	// If the token doesn't exist must return apperrors.ErrTokenNotFound.
	GetAndRevoke(ctx context.Context, tokenHash string, revokedAt time.Time, revokedByIP string) (models.RefreshToken, error)

	// Record the successor produced by rotation (forensic forward pointer)
	SetReplacedBy(ctx context.Context, id uuid.UUID, replacedBy uuid.UUID) error

	// Revoke every not-yet-revoked token of the lineage, return how many
	RevokeLineage(ctx context.Context, lineageID uuid.UUID, revokedAt time.Time, revokedByIP string) (int64, error)

	// List all tokens of the lineage ordered by creation time
	ListLineage(ctx context.Context, lineageID uuid.UUID) ([]models.RefreshToken, error)
}

// AccessToken (signed token records) repository interface
type AccessTokenRepo interface {
	// Save new record
	Save(ctx context.Context, token models.AccessToken) (models.AccessToken, error)

	// Return the record by jti whatever state it is in
	// If it doesn't exist must return apperrors.ErrAccessRevoked (an unknown
	// jti with a valid signature means the record was garbage collected or
	// forged, either way the token is not honored)
	GetByID(ctx context.Context, id uuid.UUID) (models.AccessToken, error)

	// Bump usage stats if and only if the record is still active.
	// One conditional statement. On a revoked record must return
	// apperrors.ErrAccessRevoked, on an unknown jti the same.
	Touch(ctx context.Context, id uuid.UUID, usedAt time.Time, usedByIP string) (models.AccessToken, error)

	// Revoke all active records bound to any refresh token of the lineage
	RevokeByLineage(ctx context.Context, lineageID uuid.UUID, revokedAt time.Time) (int64, error)
}

// TwoFactor enrollment repository interface
type TwoFactorRepo interface {
	// Create the enrollment or replace a still-pending one.
	// Replacing a verified enrollment must return apperrors.ErrTwoFactorEnabled.
	Upsert(ctx context.Context, auth models.TwoFactorAuth) (models.TwoFactorAuth, error)

	// If not enrolled must return apperrors.ErrTwoFactorNotEnrolled
	Get(ctx context.Context, userID string) (models.TwoFactorAuth, error)

	// Complete setup: set verified and stamp enabled_at exactly once
	// (already-set enabled_at is never overwritten)
	MarkVerified(ctx context.Context, userID string, verifiedAt time.Time) (models.TwoFactorAuth, error)

	// Update last_used_at after a successful check
	TouchUsed(ctx context.Context, userID string, usedAt time.Time) error

	// Remove the enrollment and all its backup codes
	Delete(ctx context.Context, userID string) error

	// Drop unused backup codes and store the fresh hashed set.
	// Consumed codes stay recorded for audit.
	ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error

	// Mark the code used if and only if it is unused: one conditional update,
	// exactly one concurrent caller may succeed.
	// If no unused code matches must return apperrors.ErrCodeInvalid.
	ConsumeBackupCode(ctx context.Context, userID string, codeHash string, usedAt time.Time) error

	// How many codes are still unused
	CountUnusedBackupCodes(ctx context.Context, userID string) (int, error)
}

// Legacy static API keys repository interface
type APIKeyRepo interface {
	// Save new key
	// On fingerprint collision must return apperrors.ErrAPIKeyExists
	Save(ctx context.Context, key models.APIKey) (models.APIKey, error)

	// O(1) lookup by sha256 fingerprint
	// If missing must return apperrors.ErrAPIKeyNotFound
	GetByFingerprint(ctx context.Context, fingerprint string) (models.APIKey, error)

	// Update last_used_at after successful validation
	TouchUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error
}

// Storage aggregates all repositories over one connection source
type Storage interface {
	Refresh() RefreshTokenRepo
	Access() AccessTokenRepo
	TwoFactor() TwoFactorRepo
	APIKey() APIKeyRepo

	// Run fn inside a database transaction.
	// Rotation uses it so "revoke presented, insert successor" is never
	// observable half done.
	InTx(ctx context.Context, fn func(Storage) error) error
}
