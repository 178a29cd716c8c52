package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wayroute/authd/internal/apperrors"
	"github.com/wayroute/authd/internal/models"
)

type TwoFactorRepo struct {
	DB DBTX
}

const twoFactorColumns = `user_id, secret_key, setup_at, verified, enabled_at, last_used_at`

const upsertTwoFactor = `-- name: Create enrollment or replace a pending one
INSERT INTO two_factor (user_id, secret_key, setup_at, verified)
VALUES ($1, $2, $3, FALSE)
ON CONFLICT (user_id) DO UPDATE
SET secret_key = EXCLUDED.secret_key, setup_at = EXCLUDED.setup_at, verified = FALSE
WHERE two_factor.verified = FALSE
RETURNING ` + twoFactorColumns

// Upsert stores a fresh enrollment. A pending (unverified) one is replaced,
// a verified one is not touched and apperrors.ErrTwoFactorEnabled is returned.
func (r *TwoFactorRepo) Upsert(ctx context.Context, auth models.TwoFactorAuth) (models.TwoFactorAuth, error) {
	rows, _ := r.DB.Query(ctx, upsertTwoFactor, auth.UserID, auth.SecretKey, auth.SetupAt)
	saved, err := pgx.CollectOneRow(rows, rowToTwoFactor)

	switch {
	case err == nil:
		return saved, nil
	case errors.Is(err, pgx.ErrNoRows): // the conditional upsert skipped a verified row
		return saved, fmt.Errorf("repo error: %w", apperrors.ErrTwoFactorEnabled)
	default:
		return saved, fmt.Errorf("db error: %w", err)
	}
}

const getTwoFactor = `-- name: Get enrollment
SELECT ` + twoFactorColumns + `
FROM two_factor
WHERE user_id = $1
`

func (r *TwoFactorRepo) Get(ctx context.Context, userID string) (models.TwoFactorAuth, error) {
	rows, _ := r.DB.Query(ctx, getTwoFactor, userID)
	auth, err := pgx.CollectOneRow(rows, rowToTwoFactor)

	switch {
	case err == nil:
		return auth, nil
	case errors.Is(err, pgx.ErrNoRows):
		return auth, fmt.Errorf("repo error: %w", apperrors.ErrTwoFactorNotEnrolled)
	default:
		return auth, fmt.Errorf("db error: %w", err)
	}
}

const markTwoFactorVerified = `-- name: Complete setup
UPDATE two_factor
SET verified = TRUE, enabled_at = COALESCE(enabled_at, $2)
WHERE user_id = $1
RETURNING ` + twoFactorColumns

// MarkVerified completes setup. enabled_at is written exactly once:
// an already stored value is never overwritten.
func (r *TwoFactorRepo) MarkVerified(ctx context.Context, userID string, verifiedAt time.Time) (models.TwoFactorAuth, error) {
	rows, _ := r.DB.Query(ctx, markTwoFactorVerified, userID, verifiedAt.Truncate(time.Microsecond))
	auth, err := pgx.CollectOneRow(rows, rowToTwoFactor)

	switch {
	case err == nil:
		return auth, nil
	case errors.Is(err, pgx.ErrNoRows):
		return auth, fmt.Errorf("repo error: %w", apperrors.ErrTwoFactorNotEnrolled)
	default:
		return auth, fmt.Errorf("db error: %w", err)
	}
}

const touchTwoFactor = `-- name: Stamp last successful check
UPDATE two_factor
SET last_used_at = $2
WHERE user_id = $1
`

func (r *TwoFactorRepo) TouchUsed(ctx context.Context, userID string, usedAt time.Time) error {
	_, err := r.DB.Exec(ctx, touchTwoFactor, userID, usedAt.Truncate(time.Microsecond))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Delete removes the enrollment and every backup code, used ones included:
// after disable nothing of the old enrollment may authenticate
func (r *TwoFactorRepo) Delete(ctx context.Context, userID string) error {
	if _, err := r.DB.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if _, err := r.DB.Exec(ctx, `DELETE FROM two_factor WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const insertBackupCodes = `-- name: Store fresh hashed backup codes
INSERT INTO backup_codes (id, user_id, code_hash, created_at)
SELECT gen_random_uuid(), $1, unnest($2::text[]), $3
`

// ReplaceBackupCodes drops the unused set and stores the new one.
// Already consumed codes stay recorded for audit.
func (r *TwoFactorRepo) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1 AND used_at IS NULL`, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	_, err = r.DB.Exec(ctx, insertBackupCodes, userID, codeHashes, time.Now().Truncate(time.Microsecond))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const consumeBackupCode = `-- name: Consume backup code if it is unused
UPDATE backup_codes
SET used_at = $3
WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL
RETURNING id
`

// ConsumeBackupCode moves the code to the used set. The unused check and the
// write are one statement: of concurrent callers presenting the same code
// exactly one succeeds, the rest get apperrors.ErrCodeInvalid.
func (r *TwoFactorRepo) ConsumeBackupCode(ctx context.Context, userID string, codeHash string, usedAt time.Time) error {
	tag, err := r.DB.Exec(ctx, consumeBackupCode, userID, codeHash, usedAt.Truncate(time.Microsecond))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo error: %w", apperrors.ErrCodeInvalid)
	}
	return nil
}

const countUnusedBackupCodes = `-- name: Count remaining backup codes
SELECT count(*) FROM backup_codes
WHERE user_id = $1 AND used_at IS NULL
`

func (r *TwoFactorRepo) CountUnusedBackupCodes(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.DB.QueryRow(ctx, countUnusedBackupCodes, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

func rowToTwoFactor(row pgx.CollectableRow) (models.TwoFactorAuth, error) {
	var a models.TwoFactorAuth
	err := row.Scan(&a.UserID, &a.SecretKey, &a.SetupAt, &a.Verified, &a.EnabledAt, &a.LastUsedAt)
	return a, err
}
