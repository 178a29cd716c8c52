package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wayroute/authd/internal/apperrors"
	"github.com/wayroute/authd/internal/models"
)

type APIKeyRepo struct {
	DB DBTX
}

const apiKeyColumns = `id, user_id, fingerprint, key_hash, description, created_at, last_used_at`

const saveAPIKey = `-- name: Save api key
INSERT INTO api_keys (id, user_id, fingerprint, key_hash, description, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + apiKeyColumns

func (r *APIKeyRepo) Save(ctx context.Context, key models.APIKey) (models.APIKey, error) {
	rows, _ := r.DB.Query(ctx, saveAPIKey,
		key.ID, key.UserID, key.Fingerprint, key.KeyHash, key.Description, key.CreatedAt)
	saved, err := pgx.CollectOneRow(rows, rowToAPIKey)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return saved, nil
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
		return saved, fmt.Errorf("repo error: %w", apperrors.ErrAPIKeyExists)
	default:
		return saved, fmt.Errorf("db error: %w", err)
	}
}

const getAPIKeyByFingerprint = `-- name: Get api key by fingerprint
SELECT ` + apiKeyColumns + `
FROM api_keys
WHERE fingerprint = $1
`

func (r *APIKeyRepo) GetByFingerprint(ctx context.Context, fingerprint string) (models.APIKey, error) {
	rows, _ := r.DB.Query(ctx, getAPIKeyByFingerprint, fingerprint)
	key, err := pgx.CollectOneRow(rows, rowToAPIKey)

	switch {
	case err == nil:
		return key, nil
	case errors.Is(err, pgx.ErrNoRows):
		return key, fmt.Errorf("repo error: %w", apperrors.ErrAPIKeyNotFound)
	default:
		return key, fmt.Errorf("db error: %w", err)
	}
}

const touchAPIKey = `-- name: Stamp last successful key validation
UPDATE api_keys
SET last_used_at = $2
WHERE id = $1
`

func (r *APIKeyRepo) TouchUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	_, err := r.DB.Exec(ctx, touchAPIKey, id, usedAt.Truncate(time.Microsecond))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func rowToAPIKey(row pgx.CollectableRow) (models.APIKey, error) {
	var k models.APIKey
	err := row.Scan(&k.ID, &k.UserID, &k.Fingerprint, &k.KeyHash, &k.Description, &k.CreatedAt, &k.LastUsedAt)
	return k, err
}
