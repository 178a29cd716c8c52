package tokenmanager

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayroute/authd/internal/apperrors"
	"github.com/wayroute/authd/internal/models"
	"github.com/wayroute/authd/internal/repository"
	"github.com/wayroute/authd/internal/repository/postgres"
	"github.com/wayroute/authd/internal/secret"
	"github.com/wayroute/authd/internal/testutil"
)

func Test_TokenManager(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	testScopes := []string{"read:routes", "write:routes"}
	reqCtx := models.RequestContext{IP: "192.0.2.10", UserAgent: "test-agent"}

	withTx := func(dbpool *pgxpool.Pool, t *testing.T, accessTTL time.Duration, refreshTTL time.Duration, fn func(m *TokenManager, s repository.Storage)) {
		testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
			cfg := Config{
				SecretKey:  "test-secret-key",
				AccessTTL:  accessTTL,
				RefreshTTL: refreshTTL,
			}
			storage := postgres.NewStorage(tx)

			tokenManager, err := New(cfg)
			require.NoError(t, err, "token manager should be created without errors")

			fn(tokenManager, storage)
		})
	}

	t.Run("new defaults", func(t *testing.T) {
		m, err := New(Config{SecretKey: "secret"})
		require.NoError(t, err, "token manager should be created without errors")

		require.Equal(t, "secret", m.key, "secret key should be set")
		require.Equal(t, defaultAccessTokenTTL, m.accessTTL, "default access token TTL should be set")
		require.Equal(t, defaultRefreshTokenTTL, m.refreshTTL, "default refresh token TTL")
		require.Equal(t, defaultSigningMethod, m.alg.Alg(), "default signing method should be set")
	})

	t.Run("new requires secret", func(t *testing.T) {
		_, err := New(Config{})
		require.Error(t, err, "token manager without a secret key must not be created")
	})

	t.Run("GeneratePair", func(t *testing.T) {
		t.Run("return token pair", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, storage repository.Storage) {
					pair, err := tokenManager.GeneratePair(t.Context(), storage, "u1", testScopes, uuid.Nil, reqCtx)

					require.NoError(t, err)

					assert.NotEmpty(t, pair.Access.Value, "access token should not be empty")
					assert.WithinDuration(t, time.Now().Add(15*time.Minute), pair.Access.ExpiresAt, time.Second)
					assert.NotEmpty(t, pair.Refresh.Value, "refresh token should not be empty")
					assert.WithinDuration(t, time.Now().Add(24*time.Hour), pair.Refresh.ExpiresAt, time.Second)
				},
			)
		})

		t.Run("access claims", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, storage repository.Storage) {
					pair, err := tokenManager.GeneratePair(t.Context(), storage, "u1", testScopes, uuid.Nil, reqCtx)
					require.NoError(t, err)

					// Parse and verify the access token
					token, err := jwt.ParseWithClaims(pair.Access.Value, &AccessTokenClaims{}, func(token *jwt.Token) (any, error) {
						return []byte("test-secret-key"), nil
					})
					require.NoError(t, err)
					require.True(t, token.Valid, "access token should be valid")

					claims, ok := token.Claims.(*AccessTokenClaims)
					require.True(t, ok, "claims should be of type AccessTokenClaims")
					assert.Equal(t, "u1", claims.Subject, "user ID in token should match")
					assert.Equal(t, testScopes, claims.Scopes, "scopes in token should match")
					assert.NotEmpty(t, claims.ID, "token has to has jti")
					assert.WithinDuration(t, time.Now(), claims.IssuedAt.Time, time.Second, "issued at should be close to now")
					assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt.Time, time.Second, "expires at should be 15 minutes from now")

					assert.WithinDuration(t, pair.Access.ExpiresAt, claims.ExpiresAt.Time, 0, "access expires at should match token pair")
				},
			)
		})

		t.Run("persists hashed records", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, storage repository.Storage) {
					pair, err := tokenManager.GeneratePair(t.Context(), storage, "u1", testScopes, uuid.Nil, reqCtx)
					require.NoError(t, err)

					refresh, err := storage.Refresh().GetByHash(t.Context(), secret.HashToken(pair.Refresh.Value))
					require.NoError(t, err, "refresh token record should be stored by hash")
					assert.Equal(t, "u1", refresh.UserID)
					assert.Equal(t, refresh.ID, refresh.LineageID, "fresh pair starts its own lineage")
					assert.Equal(t, testScopes, refresh.Scopes)
					assert.Equal(t, reqCtx.IP, refresh.CreatedByIP)

					claims, err := tokenManager.ParseAccess(pair.Access.Value)
					require.NoError(t, err)

					record, err := storage.Access().GetByID(t.Context(), claims.TokenID)
					require.NoError(t, err, "access token record should be stored by jti")
					assert.Equal(t, refresh.ID, record.RefreshTokenID, "access record must be bound to the refresh token")
					assert.Equal(t, secret.HashToken(pair.Access.Value), record.TokenHash)
				},
			)
		})

		t.Run("keeps lineage when given", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, storage repository.Storage) {
					lineage := uuid.New()
					pair, err := tokenManager.GeneratePair(t.Context(), storage, "u1", testScopes, lineage, reqCtx)
					require.NoError(t, err)

					refresh, err := storage.Refresh().GetByHash(t.Context(), secret.HashToken(pair.Refresh.Value))
					require.NoError(t, err)
					assert.Equal(t, lineage, refresh.LineageID, "handed lineage should be kept")
					assert.NotEqual(t, refresh.ID, refresh.LineageID)
				},
			)
		})

		t.Run("generate different tokens", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, storage repository.Storage) {
					pair1, err := tokenManager.GeneratePair(t.Context(), storage, "u1", testScopes, uuid.Nil, reqCtx)
					require.NoError(t, err)

					pair2, err := tokenManager.GeneratePair(t.Context(), storage, "u1", testScopes, uuid.Nil, reqCtx)
					require.NoError(t, err)

					assert.NotEqual(t, pair1.Refresh.Value, pair2.Refresh.Value, "refresh tokens should be different")
					assert.NotEqual(t, pair1.Access.Value, pair2.Access.Value, "access tokens should be different")
				},
			)
		})
	})

	t.Run("ParseAccess", func(t *testing.T) {
		t.Run("valid token", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, storage repository.Storage) {
					pair, err := tokenManager.GeneratePair(t.Context(), storage, "u1", testScopes, uuid.Nil, reqCtx)
					require.NoError(t, err, "token pair should be generated without errors")

					claims, err := tokenManager.ParseAccess(pair.Access.Value)
					require.NoError(t, err, "valid token should be parsed without errors")
					require.Equal(t, "u1", claims.UserID)
					require.Equal(t, testScopes, claims.Scopes)
					require.NotEqual(t, uuid.Nil, claims.TokenID)
				},
			)
		})

		t.Run("not a token", func(t *testing.T) {
			m, err := New(Config{SecretKey: "test-secret-key"})
			require.NoError(t, err)

			_, err = m.ParseAccess("invalid token")
			require.ErrorIs(t, err, apperrors.ErrBadSignature, "parsing even not a token should return an error")
		})

		t.Run("expired token", func(t *testing.T) {
			withTx(pg.Pool, t, -time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, storage repository.Storage) {
					pair, err := tokenManager.GeneratePair(t.Context(), storage, "u1", testScopes, uuid.Nil, reqCtx)
					require.NoError(t, err)

					_, err = tokenManager.ParseAccess(pair.Access.Value)
					require.ErrorIs(t, err, apperrors.ErrAccessExpired, "token has to become expired")
				},
			)
		})

		t.Run("wrong key", func(t *testing.T) {
			withTx(pg.Pool, t, 15*time.Minute, 24*time.Hour,
				func(tokenManager *TokenManager, storage repository.Storage) {
					pair, err := tokenManager.GeneratePair(t.Context(), storage, "u1", testScopes, uuid.Nil, reqCtx)
					require.NoError(t, err)

					other, err := New(Config{SecretKey: "another-secret-key"})
					require.NoError(t, err)

					_, err = other.ParseAccess(pair.Access.Value)
					require.ErrorIs(t, err, apperrors.ErrBadSignature, "token signed with another key must fail")
				},
			)
		})

		t.Run("not signed token", func(t *testing.T) {
			m, err := New(Config{SecretKey: "test-secret-key"})
			require.NoError(t, err)

			// Create valid but unsigned token
			token := jwt.NewWithClaims(
				jwt.SigningMethodNone,
				AccessTokenClaims{
					RegisteredClaims: jwt.RegisteredClaims{
						ID:        uuid.NewString(),
						Subject:   "u1",
						IssuedAt:  jwt.NewNumericDate(time.Now()),
						ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
					},
					Scopes: testScopes,
				},
			)
			access, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
			require.NoError(t, err)

			_, err = m.ParseAccess(access)
			require.ErrorIs(t, err, apperrors.ErrBadSignature, "valid token with empty alg must fail")
		})
	})
}
