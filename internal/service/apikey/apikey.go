// Package apikey serves the legacy static keys. Keys never expire and never
// rotate; that is deliberate automation compatibility and the documented
// reduced-security path next to the rotating session credentials.
package apikey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/google/uuid"

	"github.com/wayroute/authd/internal/apperrors"
	"github.com/wayroute/authd/internal/logger"
	"github.com/wayroute/authd/internal/models"
	"github.com/wayroute/authd/internal/repository"
	"github.com/wayroute/authd/internal/secret"
)

// Keys are recognizable in logs and configs by the prefix
const keyPrefix = "wp_"

type Service struct {
	storage repository.Storage
	logger  logger.Logger
}

func NewService(storage repository.Storage, l logger.Logger) (*Service, error) {
	if storage == nil {
		return nil, errors.New("storage must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Service{
		storage: storage,
		logger:  l.With("service", "apikey"),
	}, nil
}

// Create mints a key and returns the plaintext exactly once. At rest only
// the sha256 fingerprint (lookup) and a bcrypt hash (verification) remain.
func (s *Service) Create(ctx context.Context, userID string, description string) (string, models.APIKey, error) {
	value, err := secret.OpaqueToken()
	if err != nil {
		return "", models.APIKey{}, fmt.Errorf("error while generating key. Err: %w", err)
	}
	plaintext := keyPrefix + value

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", models.APIKey{}, fmt.Errorf("error while hashing key. Err: %w", err)
	}

	key, err := s.storage.APIKey().Save(ctx, models.APIKey{
		ID:          uuid.New(),
		UserID:      userID,
		Fingerprint: secret.HashToken(plaintext),
		KeyHash:     string(hash),
		Description: description,
		CreatedAt:   time.Now().Truncate(time.Microsecond),
	})
	if err != nil {
		return "", models.APIKey{}, fmt.Errorf("error while saving key. Err: %w", err)
	}

	s.logger.Info("api key created", "user_id", userID, "key_id", key.ID)
	return plaintext, key, nil
}

// Validate resolves a presented key to its identity: O(1) fingerprint lookup,
// then the bcrypt compare. Every miss looks the same to the caller.
func (s *Service) Validate(ctx context.Context, plaintext string) (models.APIKey, error) {
	if !strings.HasPrefix(plaintext, keyPrefix) {
		return models.APIKey{}, apperrors.ErrAPIKeyNotFound
	}

	key, err := s.storage.APIKey().GetByFingerprint(ctx, secret.HashToken(plaintext))
	if err != nil {
		return models.APIKey{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(plaintext)); err != nil {
		return models.APIKey{}, apperrors.ErrAPIKeyNotFound
	}

	if err := s.storage.APIKey().TouchUsed(ctx, key.ID, time.Now().Truncate(time.Microsecond)); err != nil {
		return models.APIKey{}, fmt.Errorf("error while updating key usage. Err: %w", err)
	}

	return key, nil
}
