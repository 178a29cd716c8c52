package tokenmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wayroute/authd/internal/apperrors"
	"github.com/wayroute/authd/internal/models"
	"github.com/wayroute/authd/internal/repository"
	"github.com/wayroute/authd/internal/secret"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 30 * 24 * time.Hour
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scp"`
}

// Token manager config with sensible defaults
type Config struct {
	// Secret key to sign access tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenManager mints and parses token pairs. It is stateless itself; the
// storage to persist into is an argument, so GeneratePair works the same on
// the pool and inside a rotation transaction.
type TokenManager struct {
	// Secret key to sign access tokens
	key string

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	alg := jwt.GetSigningMethod(cfg.Alg)
	if alg == nil {
		return nil, fmt.Errorf("unknown signing method: %q", cfg.Alg)
	}

	return &TokenManager{
		key:        cfg.SecretKey,
		alg:        alg,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
	}, nil
}

func (m *TokenManager) AccessTTL() time.Duration  { return m.accessTTL }
func (m *TokenManager) RefreshTTL() time.Duration { return m.refreshTTL }

// GeneratePair mints a signed access token plus an opaque refresh token and
// persists the hashed records of both into s.
//
// A zero lineage starts a new lineage rooted at the fresh refresh token;
// rotation passes the presented token's lineage so the chain stays linked.
func (m *TokenManager) GeneratePair(
	ctx context.Context,
	s repository.Storage,
	userID string,
	scopes []string,
	lineage uuid.UUID,
	reqCtx models.RequestContext,
) (models.TokenPair, error) {
	var pair models.TokenPair

	// Second precision: JWT NumericDate carries seconds, and the stored
	// record must match the claims exactly
	now := time.Now().Truncate(time.Second)
	accessExpiresAt := now.Add(m.accessTTL)
	refreshExpiresAt := now.Add(m.refreshTTL)

	refreshID := uuid.New()
	if lineage == uuid.Nil {
		lineage = refreshID
	}

	// Generate JWT access token encoded as string
	accessID := uuid.New()
	accessToken := jwt.NewWithClaims(
		m.alg,
		AccessTokenClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        accessID.String(),
				Subject:   userID,
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(accessExpiresAt),
			},
			Scopes: scopes,
		},
	)
	access, err := accessToken.SignedString([]byte(m.key))
	if err != nil {
		return pair, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	refresh, err := secret.OpaqueToken()
	if err != nil {
		return pair, fmt.Errorf("error while generating refresh token. Err: %w", err)
	}
	refreshHash := secret.HashToken(refresh)

	_, err = s.Refresh().Save(ctx, models.RefreshToken{
		ID:          refreshID,
		UserID:      userID,
		TokenHash:   refreshHash,
		LineageID:   lineage,
		Scopes:      scopes,
		CreatedAt:   now,
		ExpiresAt:   refreshExpiresAt,
		CreatedByIP: reqCtx.IP,
	})
	if err != nil {
		return pair, fmt.Errorf("error while saving refresh token. Err: %w", err)
	}

	_, err = s.Access().Save(ctx, models.AccessToken{
		ID:               accessID,
		UserID:           userID,
		TokenHash:        secret.HashToken(access),
		RefreshTokenID:   refreshID,
		RefreshTokenHash: refreshHash,
		Scopes:           scopes,
		IssuedAt:         now,
		AccessExpiresAt:  accessExpiresAt,
		RefreshExpiresAt: refreshExpiresAt,
	})
	if err != nil {
		return pair, fmt.Errorf("error while saving access token record. Err: %w", err)
	}

	return models.TokenPair{
		Access:  models.IssuedToken{Value: access, ExpiresAt: accessExpiresAt},
		Refresh: models.IssuedToken{Value: refresh, ExpiresAt: refreshExpiresAt},
	}, nil
}

// ParseAccess verifies the signature and the time claims offline.
// It never touches storage; revocation checks are the caller's job.
func (m *TokenManager) ParseAccess(access string) (models.AccessClaims, error) {
	claims := &AccessTokenClaims{}

	_, err := jwt.ParseWithClaims(
		access,
		claims,
		func(t *jwt.Token) (any, error) {
			return []byte(m.key), nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.AccessClaims{}, fmt.Errorf("error while validating token. Err: %w", apperrors.ErrAccessExpired)
	default:
		return models.AccessClaims{}, fmt.Errorf("error while parsing token. Err: %w", apperrors.ErrBadSignature)
	}

	tokenID, err := uuid.Parse(claims.ID)
	if err != nil {
		return models.AccessClaims{}, fmt.Errorf("error while parsing jti claim. Err: %w", apperrors.ErrBadSignature)
	}

	return models.AccessClaims{
		TokenID:   tokenID,
		UserID:    claims.Subject,
		Scopes:    claims.Scopes,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
