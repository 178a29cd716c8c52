// Package session is the credential engine: it issues access/refresh token
// pairs, rotates refresh tokens with reuse detection, and validates access
// tokens against the store on every call.
//
// Rotation safety rests on one store-level compare-and-swap: revoking the
// presented token succeeds for exactly one concurrent caller. The loser is a
// replay, and a replay burns the whole lineage.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wayroute/authd/internal/apperrors"
	"github.com/wayroute/authd/internal/logger"
	"github.com/wayroute/authd/internal/models"
	"github.com/wayroute/authd/internal/repository"
	"github.com/wayroute/authd/internal/secret"
	"github.com/wayroute/authd/internal/service/session/tokenmanager"
)

type Config struct {
	// Secret key to sign access tokens. Required.
	SecretKey string

	// JWT MAC algorithm, HS256 if not set
	Alg string

	// Access and refresh token lifetimes
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Scopes granted when an issue request names none
	DefaultScopes []string
}

type Service struct {
	token         *tokenmanager.TokenManager
	storage       repository.Storage
	defaultScopes []string
	logger        logger.Logger
}

func NewService(cfg Config, storage repository.Storage, l logger.Logger) (*Service, error) {
	if storage == nil {
		return nil, errors.New("storage must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	tm, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:  cfg.SecretKey,
		Alg:        cfg.Alg,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("token manager could not be created. Err: %w", err)
	}

	return &Service{
		token:         tm,
		storage:       storage,
		defaultScopes: cfg.DefaultScopes,
		logger:        l.With("service", "session"),
	}, nil
}

// Issue mints a fresh token pair for an already-authenticated identity.
// The pair starts its own lineage. Empty scopes fall back to the configured
// defaults.
func (s *Service) Issue(ctx context.Context, userID string, scopes []string, reqCtx models.RequestContext) (models.TokenPair, error) {
	if len(scopes) == 0 {
		scopes = s.defaultScopes
	}

	pair, err := s.token.GeneratePair(ctx, s.storage, userID, scopes, uuid.Nil, reqCtx)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("error while issuing session. Err: %w", err)
	}

	s.logger.Info("session issued", "user_id", userID, "ip", reqCtx.IP)
	return pair, nil
}

// Refresh rotates the presented refresh token: revokes it, revokes the access
// tokens bound to its lineage and mints a successor pair in the same lineage,
// all in one transaction.
//
// A presented token that is already revoked is a replay: the whole lineage is
// burned (refresh tokens and bound access records) and ErrTokenReuse is
// returned. A token observed expired is revoked in passing and returns
// ErrTokenExpired, so a later replay of it is classified cleanly.
func (s *Service) Refresh(ctx context.Context, refreshToken string, reqCtx models.RequestContext) (models.TokenPair, error) {
	hash := secret.HashToken(refreshToken)

	// Postgres keeps microseconds only; the revoked_at equality check inside
	// GetAndRevoke needs the value to round-trip exactly
	now := time.Now().Truncate(time.Microsecond)

	var pair models.TokenPair
	var opErr error // business outcome that must not roll the tx back

	err := s.storage.InTx(ctx, func(st repository.Storage) error {
		token, err := st.Refresh().GetAndRevoke(ctx, hash, now, reqCtx.IP)

		switch {
		case errors.Is(err, apperrors.ErrTokenNotFound):
			opErr = apperrors.ErrTokenNotFound
			return nil

		case errors.Is(err, apperrors.ErrTokenRevoked):
			// Replay of a rotated or revoked token. Burn the lineage; the
			// revocations must commit even though the call fails.
			revoked, err := st.Refresh().RevokeLineage(ctx, token.LineageID, now, reqCtx.IP)
			if err != nil {
				return fmt.Errorf("error while revoking lineage on reuse. Err: %w", err)
			}
			if _, err := st.Access().RevokeByLineage(ctx, token.LineageID, now); err != nil {
				return fmt.Errorf("error while revoking access tokens on reuse. Err: %w", err)
			}

			s.logger.Warn("refresh token reuse detected, lineage revoked",
				"user_id", token.UserID,
				"lineage_id", token.LineageID,
				"tokens_revoked", revoked,
				"ip", reqCtx.IP,
			)
			opErr = apperrors.ErrTokenReuse
			return nil

		case err != nil:
			return fmt.Errorf("error while rotating refresh token. Err: %w", err)
		}

		if token.ExpiresAt.Before(now) {
			// The CAS above already revoked it; keep that and fail
			opErr = apperrors.ErrTokenExpired
			return nil
		}

		// Revoke the access tokens of the lineage before minting the
		// successor, so the fresh record stays untouched
		if _, err := st.Access().RevokeByLineage(ctx, token.LineageID, now); err != nil {
			return fmt.Errorf("error while revoking predecessor access tokens. Err: %w", err)
		}

		pair, err = s.token.GeneratePair(ctx, st, token.UserID, token.Scopes, token.LineageID, reqCtx)
		if err != nil {
			return fmt.Errorf("error while minting successor pair. Err: %w", err)
		}

		successor, err := st.Refresh().GetByHash(ctx, secret.HashToken(pair.Refresh.Value))
		if err != nil {
			return fmt.Errorf("error while loading successor token. Err: %w", err)
		}
		if err := st.Refresh().SetReplacedBy(ctx, token.ID, successor.ID); err != nil {
			return fmt.Errorf("error while linking successor token. Err: %w", err)
		}

		s.logger.Info("refresh token rotated",
			"user_id", token.UserID,
			"lineage_id", token.LineageID,
			"ip", reqCtx.IP,
		)
		return nil
	})
	if err != nil {
		return models.TokenPair{}, err
	}
	if opErr != nil {
		return models.TokenPair{}, opErr
	}

	return pair, nil
}

// Revoke is logout: it revokes the presented token's whole lineage and the
// bound access records. Unknown tokens are fine, revoking twice is fine.
func (s *Service) Revoke(ctx context.Context, refreshToken string, reqCtx models.RequestContext) error {
	hash := secret.HashToken(refreshToken)
	now := time.Now().Truncate(time.Microsecond)

	token, err := s.storage.Refresh().GetByHash(ctx, hash)
	switch {
	case errors.Is(err, apperrors.ErrTokenNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("error while loading token to revoke. Err: %w", err)
	}

	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		if _, err := st.Refresh().RevokeLineage(ctx, token.LineageID, now, reqCtx.IP); err != nil {
			return fmt.Errorf("error while revoking lineage. Err: %w", err)
		}
		if _, err := st.Access().RevokeByLineage(ctx, token.LineageID, now); err != nil {
			return fmt.Errorf("error while revoking access tokens. Err: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("session revoked", "user_id", token.UserID, "lineage_id", token.LineageID, "ip", reqCtx.IP)
	return nil
}

// ValidateAccess verifies the signature and time claims offline, then
// consults the store: the record behind the jti must still be active
// (cascade revocation lands there). Usage stats are bumped in the same
// conditional statement that checks the record.
func (s *Service) ValidateAccess(ctx context.Context, accessToken string, reqCtx models.RequestContext) (models.AccessClaims, error) {
	claims, err := s.token.ParseAccess(accessToken)
	if err != nil {
		return models.AccessClaims{}, err
	}

	now := time.Now().Truncate(time.Microsecond)
	if _, err := s.storage.Access().Touch(ctx, claims.TokenID, now, reqCtx.IP); err != nil {
		return models.AccessClaims{}, fmt.Errorf("error while checking token record. Err: %w", err)
	}

	return claims, nil
}
