package session

import (
	"testing"
	"time"

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

func Test_SessionService(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	defaultScopes := []string{"read:routes", "write:routes"}
	reqCtx := models.RequestContext{IP: "192.0.2.10", UserAgent: "test-agent"}

	withTx := func(dbpool *pgxpool.Pool, t *testing.T, cfg Config, fn func(s *Service, st repository.Storage)) {
		testutil.WithTx(dbpool, t, func(tx pgx.Tx) {
			if cfg.SecretKey == "" {
				cfg.SecretKey = "test-secret-key"
			}
			if cfg.DefaultScopes == nil {
				cfg.DefaultScopes = defaultScopes
			}
			storage := postgres.NewStorage(tx)

			service, err := NewService(cfg, storage, nil)
			require.NoError(t, err, "session service should be created without errors")

			fn(service, storage)
		})
	}

	t.Run("new requires secret", func(t *testing.T) {
		_, err := NewService(Config{}, postgres.NewStorage(pg.Pool), nil)
		require.Error(t, err, "service without a secret key must not be created")
	})

	t.Run("Issue", func(t *testing.T) {
		t.Run("returns working pair", func(t *testing.T) {
			withTx(pg.Pool, t, Config{}, func(s *Service, st repository.Storage) {
				pair, err := s.Issue(t.Context(), "u1", nil, reqCtx)
				require.NoError(t, err)

				require.NotEmpty(t, pair.Access.Value)
				require.NotEmpty(t, pair.Refresh.Value)

				claims, err := s.ValidateAccess(t.Context(), pair.Access.Value, reqCtx)
				require.NoError(t, err, "freshly issued access token should validate")
				assert.Equal(t, "u1", claims.UserID)
				assert.Equal(t, defaultScopes, claims.Scopes, "empty scopes should fall back to defaults")
			})
		})

		t.Run("explicit scopes carried verbatim", func(t *testing.T) {
			withTx(pg.Pool, t, Config{}, func(s *Service, st repository.Storage) {
				pair, err := s.Issue(t.Context(), "u1", []string{"read:income"}, reqCtx)
				require.NoError(t, err)

				claims, err := s.ValidateAccess(t.Context(), pair.Access.Value, reqCtx)
				require.NoError(t, err)
				assert.Equal(t, []string{"read:income"}, claims.Scopes)
			})
		})

		t.Run("starts its own lineage", func(t *testing.T) {
			withTx(pg.Pool, t, Config{}, func(s *Service, st repository.Storage) {
				pair, err := s.Issue(t.Context(), "u1", nil, reqCtx)
				require.NoError(t, err)

				token, err := st.Refresh().GetByHash(t.Context(), secret.HashToken(pair.Refresh.Value))
				require.NoError(t, err)
				assert.Equal(t, token.ID, token.LineageID)
				assert.Equal(t, reqCtx.IP, token.CreatedByIP)
			})
		})
	})

	t.Run("Refresh", func(t *testing.T) {
		t.Run("rotate keeps lineage and links successor", func(t *testing.T) {
			withTx(pg.Pool, t, Config{}, func(s *Service, st repository.Storage) {
				pair, err := s.Issue(t.Context(), "u1", nil, reqCtx)
				require.NoError(t, err)

				next, err := s.Refresh(t.Context(), pair.Refresh.Value, reqCtx)
				require.NoError(t, err, "rotation of a fresh token should succeed")
				require.NotEqual(t, pair.Refresh.Value, next.Refresh.Value)

				old, err := st.Refresh().GetByHash(t.Context(), secret.HashToken(pair.Refresh.Value))
				require.NoError(t, err)
				successor, err := st.Refresh().GetByHash(t.Context(), secret.HashToken(next.Refresh.Value))
				require.NoError(t, err)

				assert.NotNil(t, old.RevokedAt, "presented token must be revoked by rotation")
				assert.Equal(t, old.LineageID, successor.LineageID, "successor stays in the lineage")
				assert.Equal(t, old.Scopes, successor.Scopes, "scopes are reissued as granted")
				require.NotNil(t, old.ReplacedBy, "forward pointer must be stamped")
				assert.Equal(t, successor.ID, *old.ReplacedBy)
			})
		})

		t.Run("rotation revokes the predecessor access token", func(t *testing.T) {
			withTx(pg.Pool, t, Config{}, func(s *Service, st repository.Storage) {
				pair, err := s.Issue(t.Context(), "u1", nil, reqCtx)
				require.NoError(t, err)

				next, err := s.Refresh(t.Context(), pair.Refresh.Value, reqCtx)
				require.NoError(t, err)

				_, err = s.ValidateAccess(t.Context(), pair.Access.Value, reqCtx)
				require.ErrorIs(t, err, apperrors.ErrAccessRevoked, "old access token must stop validating")

				_, err = s.ValidateAccess(t.Context(), next.Access.Value, reqCtx)
				require.NoError(t, err, "fresh access token must keep validating")
			})
		})

		t.Run("unknown token", func(t *testing.T) {
			withTx(pg.Pool, t, Config{}, func(s *Service, st repository.Storage) {
				_, err := s.Refresh(t.Context(), "never-issued", reqCtx)
				require.ErrorIs(t, err, apperrors.ErrTokenNotFound)
			})
		})

		t.Run("replay burns the lineage", func(t *testing.T) {
			withTx(pg.Pool, t, Config{}, func(s *Service, st repository.Storage) {
				pair, err := s.Issue(t.Context(), "u1", nil, reqCtx)
				require.NoError(t, err)

				next, err := s.Refresh(t.Context(), pair.Refresh.Value, reqCtx)
				require.NoError(t, err)

				// Replay of the already rotated token
				_, err = s.Refresh(t.Context(), pair.Refresh.Value, reqCtx)
				require.ErrorIs(t, err, apperrors.ErrTokenReuse)

				// The stolen-token pair handed out by rotation is inert now
				_, err = s.Refresh(t.Context(), next.Refresh.Value, reqCtx)
				require.ErrorIs(t, err, apperrors.ErrTokenReuse, "successor refresh token must be burned")

				_, err = s.ValidateAccess(t.Context(), next.Access.Value, reqCtx)
				require.ErrorIs(t, err, apperrors.ErrAccessRevoked, "successor access token must be burned")
			})
		})

		t.Run("expired token is revoked in passing", func(t *testing.T) {
			withTx(pg.Pool, t, Config{RefreshTTL: -time.Minute}, func(s *Service, st repository.Storage) {
				pair, err := s.Issue(t.Context(), "u1", nil, reqCtx)
				require.NoError(t, err)

				_, err = s.Refresh(t.Context(), pair.Refresh.Value, reqCtx)
				require.ErrorIs(t, err, apperrors.ErrTokenExpired)

				token, err := st.Refresh().GetByHash(t.Context(), secret.HashToken(pair.Refresh.Value))
				require.NoError(t, err)
				assert.NotNil(t, token.RevokedAt, "a token observed expired must never rotate later")

				// Presenting it again is a replay now
				_, err = s.Refresh(t.Context(), pair.Refresh.Value, reqCtx)
				require.ErrorIs(t, err, apperrors.ErrTokenReuse)
			})
		})
	})

	t.Run("lineage chain is finite and acyclic", func(t *testing.T) {
		withTx(pg.Pool, t, Config{}, func(s *Service, st repository.Storage) {
			pair, err := s.Issue(t.Context(), "u1", nil, reqCtx)
			require.NoError(t, err)

			for range 4 {
				pair, err = s.Refresh(t.Context(), pair.Refresh.Value, reqCtx)
				require.NoError(t, err)
			}

			root, err := st.Refresh().GetByHash(t.Context(), secret.HashToken(pair.Refresh.Value))
			require.NoError(t, err)

			tokens, err := st.Refresh().ListLineage(t.Context(), root.LineageID)
			require.NoError(t, err)
			require.Len(t, tokens, 5, "issue plus four rotations")

			byID := make(map[uuid.UUID]models.RefreshToken, len(tokens))
			for _, tok := range tokens {
				byID[tok.ID] = tok
			}

			// Walk the forward pointers from the lineage root; the walk must
			// visit every token exactly once and stop at the live head
			seen := map[uuid.UUID]bool{}
			cur, ok := byID[root.LineageID]
			require.True(t, ok, "lineage id must reference the root token")
			for {
				require.False(t, seen[cur.ID], "forward chain must not loop")
				seen[cur.ID] = true
				if cur.ReplacedBy == nil {
					break
				}
				cur, ok = byID[*cur.ReplacedBy]
				require.True(t, ok, "forward pointer must stay inside the lineage")
			}

			assert.Len(t, seen, len(tokens), "every token belongs to the chain")
			assert.Equal(t, root.ID, cur.ID, "the walk ends at the freshest token")
			assert.Nil(t, cur.RevokedAt, "only the head is unrevoked")
		})
	})

	t.Run("Revoke", func(t *testing.T) {
		t.Run("logout revokes lineage and access tokens", func(t *testing.T) {
			withTx(pg.Pool, t, Config{}, func(s *Service, st repository.Storage) {
				pair, err := s.Issue(t.Context(), "u1", nil, reqCtx)
				require.NoError(t, err)
				next, err := s.Refresh(t.Context(), pair.Refresh.Value, reqCtx)
				require.NoError(t, err)

				err = s.Revoke(t.Context(), next.Refresh.Value, reqCtx)
				require.NoError(t, err)

				_, err = s.ValidateAccess(t.Context(), next.Access.Value, reqCtx)
				require.ErrorIs(t, err, apperrors.ErrAccessRevoked)

				_, err = s.Refresh(t.Context(), next.Refresh.Value, reqCtx)
				require.ErrorIs(t, err, apperrors.ErrTokenReuse)
			})
		})

		t.Run("idempotent", func(t *testing.T) {
			withTx(pg.Pool, t, Config{}, func(s *Service, st repository.Storage) {
				pair, err := s.Issue(t.Context(), "u1", nil, reqCtx)
				require.NoError(t, err)

				require.NoError(t, s.Revoke(t.Context(), pair.Refresh.Value, reqCtx))
				require.NoError(t, s.Revoke(t.Context(), pair.Refresh.Value, reqCtx), "revoking twice should not error")
			})
		})

		t.Run("unknown token is fine", func(t *testing.T) {
			withTx(pg.Pool, t, Config{}, func(s *Service, st repository.Storage) {
				require.NoError(t, s.Revoke(t.Context(), "never-issued", reqCtx))
			})
		})
	})

	t.Run("ValidateAccess", func(t *testing.T) {
		t.Run("bumps usage stats", func(t *testing.T) {
			withTx(pg.Pool, t, Config{}, func(s *Service, st repository.Storage) {
				pair, err := s.Issue(t.Context(), "u1", nil, reqCtx)
				require.NoError(t, err)

				claims, err := s.ValidateAccess(t.Context(), pair.Access.Value, reqCtx)
				require.NoError(t, err)
				_, err = s.ValidateAccess(t.Context(), pair.Access.Value, reqCtx)
				require.NoError(t, err)

				record, err := st.Access().GetByID(t.Context(), claims.TokenID)
				require.NoError(t, err)
				assert.Equal(t, int64(2), record.UsageCount)
				require.NotNil(t, record.LastUsedIP)
				assert.Equal(t, reqCtx.IP, *record.LastUsedIP)
			})
		})

		t.Run("tampered token", func(t *testing.T) {
			withTx(pg.Pool, t, Config{}, func(s *Service, st repository.Storage) {
				pair, err := s.Issue(t.Context(), "u1", nil, reqCtx)
				require.NoError(t, err)

				_, err = s.ValidateAccess(t.Context(), pair.Access.Value+"x", reqCtx)
				require.ErrorIs(t, err, apperrors.ErrBadSignature)
			})
		})

		t.Run("expired token", func(t *testing.T) {
			withTx(pg.Pool, t, Config{AccessTTL: -time.Minute}, func(s *Service, st repository.Storage) {
				pair, err := s.Issue(t.Context(), "u1", nil, reqCtx)
				require.NoError(t, err)

				_, err = s.ValidateAccess(t.Context(), pair.Access.Value, reqCtx)
				require.ErrorIs(t, err, apperrors.ErrAccessExpired)
			})
		})
	})
}
