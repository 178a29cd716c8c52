package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wayroute/authd/internal/apperrors"
	"github.com/wayroute/authd/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const refreshTokenColumns = `id, user_id, token_hash, lineage_id, scopes, created_at, expires_at, created_by_ip, revoked_at, revoked_by_ip, replaced_by`

const saveRefreshToken = `-- name: Save refresh token
INSERT INTO refresh_tokens (id, user_id, token_hash, lineage_id, scopes, created_at, expires_at, created_by_ip)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + refreshTokenColumns

func (r *RefreshTokenRepo) Save(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, saveRefreshToken,
		token.ID, token.UserID, token.TokenHash, token.LineageID, token.Scopes, token.CreatedAt, token.ExpiresAt, token.CreatedByIP)
	saved, err := pgx.CollectOneRow(rows, rowToRefreshToken)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}
	return saved, nil
}

const getRefreshTokenByHash = `-- name: Get refresh token by value hash
SELECT ` + refreshTokenColumns + `
FROM refresh_tokens
WHERE token_hash = $1
`

// Get token by the hash of its opaque value
// Returns the token even if it is revoked or expired
func (r *RefreshTokenRepo) GetByHash(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, getRefreshTokenByHash, tokenHash)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const revokeRefreshToken = `-- name: Revoke refresh token if it is not revoked yet
UPDATE refresh_tokens
SET revoked_at = COALESCE(revoked_at, $2),
    revoked_by_ip = CASE WHEN revoked_at IS NULL THEN $3 ELSE revoked_by_ip END
WHERE token_hash = $1
RETURNING ` + refreshTokenColumns

// Revoke the token if it still active: the compare and the swap are one
// statement, so two concurrent callers can't both win.
// The loser gets apperrors.ErrTokenRevoked together with the stored token.
func (r *RefreshTokenRepo) GetAndRevoke(ctx context.Context, tokenHash string, revokedAt time.Time, revokedByIP string) (models.RefreshToken, error) {
	// Postgres keeps microseconds; truncate so the equality check below
	// compares what was actually stored
	revokedAt = revokedAt.Truncate(time.Microsecond)

	rows, _ := r.DB.Query(ctx, revokeRefreshToken, tokenHash, revokedAt, revokedByIP)
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	switch {
	case err == nil && token.RevokedAt != nil && token.RevokedAt.Equal(revokedAt):
		return token, nil
	case err == nil: // revoked_at kept an earlier value == token was revoked before this call
		return token, fmt.Errorf("repo error: %w", apperrors.ErrTokenRevoked)
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrTokenNotFound)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const setReplacedBy = `-- name: Point rotated token to its successor
UPDATE refresh_tokens
SET replaced_by = $2
WHERE id = $1
`

func (r *RefreshTokenRepo) SetReplacedBy(ctx context.Context, id uuid.UUID, replacedBy uuid.UUID) error {
	tag, err := r.DB.Exec(ctx, setReplacedBy, id, replacedBy)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo error: %w", apperrors.ErrTokenNotFound)
	}
	return nil
}

const revokeLineage = `-- name: Revoke every active token of the lineage
UPDATE refresh_tokens
SET revoked_at = $2, revoked_by_ip = $3
WHERE lineage_id = $1 AND revoked_at IS NULL
`

func (r *RefreshTokenRepo) RevokeLineage(ctx context.Context, lineageID uuid.UUID, revokedAt time.Time, revokedByIP string) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeLineage, lineageID, revokedAt.Truncate(time.Microsecond), revokedByIP)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const listLineage = `-- name: List lineage tokens oldest first
SELECT ` + refreshTokenColumns + `
FROM refresh_tokens
WHERE lineage_id = $1
ORDER BY created_at
`

func (r *RefreshTokenRepo) ListLineage(ctx context.Context, lineageID uuid.UUID) ([]models.RefreshToken, error) {
	rows, _ := r.DB.Query(ctx, listLineage, lineageID)
	tokens, err := pgx.CollectRows(rows, rowToRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tokens, nil
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.LineageID, &t.Scopes, &t.CreatedAt, &t.ExpiresAt, &t.CreatedByIP,
		&t.RevokedAt, &t.RevokedByIP, &t.ReplacedBy)
	return t, err
}
