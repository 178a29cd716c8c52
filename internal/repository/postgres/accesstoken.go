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

type AccessTokenRepo struct {
	DB DBTX
}

const accessTokenColumns = `id, user_id, token_hash, refresh_token_id, refresh_token_hash, scopes, issued_at, access_expires_at, refresh_expires_at, last_used_at, revoked_at, usage_count, last_used_ip`

const saveAccessToken = `-- name: Save access token record
INSERT INTO access_tokens (id, user_id, token_hash, refresh_token_id, refresh_token_hash, scopes, issued_at, access_expires_at, refresh_expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + accessTokenColumns

func (r *AccessTokenRepo) Save(ctx context.Context, token models.AccessToken) (models.AccessToken, error) {
	rows, _ := r.DB.Query(ctx, saveAccessToken,
		token.ID, token.UserID, token.TokenHash, token.RefreshTokenID, token.RefreshTokenHash,
		token.Scopes, token.IssuedAt, token.AccessExpiresAt, token.RefreshExpiresAt)
	saved, err := pgx.CollectOneRow(rows, rowToAccessToken)
	if err != nil {
		return saved, fmt.Errorf("db error: %w", err)
	}
	return saved, nil
}

const getAccessTokenByID = `-- name: Get access token record by jti
SELECT ` + accessTokenColumns + `
FROM access_tokens
WHERE id = $1
`

// Get record by jti claim
// An unknown jti is reported as revoked: the token's signature may be fine
// but the server no longer honors it, and the caller must not learn more
func (r *AccessTokenRepo) GetByID(ctx context.Context, id uuid.UUID) (models.AccessToken, error) {
	rows, _ := r.DB.Query(ctx, getAccessTokenByID, id)
	token, err := pgx.CollectOneRow(rows, rowToAccessToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrAccessRevoked)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const touchAccessToken = `-- name: Bump usage stats of an active record
UPDATE access_tokens
SET last_used_at = $2, usage_count = usage_count + 1, last_used_ip = $3
WHERE id = $1 AND revoked_at IS NULL
RETURNING ` + accessTokenColumns

// Touch records a successful validation. The active check and the update are
// one statement, so a validation racing a revocation can't resurrect the row.
func (r *AccessTokenRepo) Touch(ctx context.Context, id uuid.UUID, usedAt time.Time, usedByIP string) (models.AccessToken, error) {
	rows, _ := r.DB.Query(ctx, touchAccessToken, id, usedAt.Truncate(time.Microsecond), usedByIP)
	token, err := pgx.CollectOneRow(rows, rowToAccessToken)

	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, pgx.ErrNoRows):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrAccessRevoked)
	default:
		return token, fmt.Errorf("db error: %w", err)
	}
}

const revokeAccessByLineage = `-- name: Revoke records bound to a refresh token lineage
UPDATE access_tokens
SET revoked_at = $2
WHERE revoked_at IS NULL
  AND refresh_token_id IN (SELECT id FROM refresh_tokens WHERE lineage_id = $1)
`

func (r *AccessTokenRepo) RevokeByLineage(ctx context.Context, lineageID uuid.UUID, revokedAt time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, revokeAccessByLineage, lineageID, revokedAt.Truncate(time.Microsecond))
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func rowToAccessToken(row pgx.CollectableRow) (models.AccessToken, error) {
	var t models.AccessToken
	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.RefreshTokenID, &t.RefreshTokenHash, &t.Scopes,
		&t.IssuedAt, &t.AccessExpiresAt, &t.RefreshExpiresAt, &t.LastUsedAt, &t.RevokedAt, &t.UsageCount, &t.LastUsedIP)
	return t, err
}
