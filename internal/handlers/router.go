package handlers

import (
	"context"
	"net/http"

	"github.com/wayroute/authd/internal/handlers/middleware"
	"github.com/wayroute/authd/internal/logger"
	"github.com/wayroute/authd/internal/models"
	"github.com/wayroute/authd/internal/service/twofactor"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	sessions sessionService,
	twofactor twoFactorService,
	apikeys apiKeyService,
	apiKeyScopes []string,
	logger logger.Logger,
) http.Handler {
	authMiddleware := middleware.Auth(sessions, apikeys, apiKeyScopes, logger)
	withAuth := func(h http.Handler) http.Handler {
		return authMiddleware(h)
	}

	apiauth := http.NewServeMux()

	apiauth.Handle("POST /session", handleIssueSession(sessions, twofactor, logger))
	apiauth.Handle("POST /session/refresh", handleRefreshSession(sessions, logger))
	apiauth.Handle("POST /session/revoke", handleRevokeSession(sessions, logger))

	apiauth.Handle("POST /2fa/setup", withAuth(handleTwoFactorSetup(twofactor, logger)))
	apiauth.Handle("POST /2fa/verify", withAuth(handleTwoFactorVerify(twofactor, logger)))
	apiauth.Handle("POST /2fa/disable", withAuth(handleTwoFactorDisable(twofactor, logger)))
	apiauth.Handle("POST /2fa/backup-codes", withAuth(handleTwoFactorBackupCodes(twofactor, logger)))

	apiauth.Handle("GET /me", withAuth(handleMe()))

	root := http.NewServeMux()
	root.Handle("/api/auth/", http.StripPrefix("/api/auth", apiauth))

	handler := chain(root,
		middleware.Logger(logger),
	)

	return handler
}

type sessionService interface {
	// Start a session for an already-authenticated identity
	Issue(ctx context.Context, userID string, scopes []string, reqCtx models.RequestContext) (models.TokenPair, error)

	// Rotate the refresh token
	// Expired: has to return apperrors.ErrTokenExpired
	// Unknown: has to return apperrors.ErrTokenNotFound
	// Replayed: has to return apperrors.ErrTokenReuse (lineage already burned)
	Refresh(ctx context.Context, refreshToken string, reqCtx models.RequestContext) (models.TokenPair, error)

	// Logout; unknown or already revoked tokens are not an error
	Revoke(ctx context.Context, refreshToken string, reqCtx models.RequestContext) error

	// Check a signed access token against the store
	ValidateAccess(ctx context.Context, accessToken string, reqCtx models.RequestContext) (models.AccessClaims, error)
}

type twoFactorService interface {
	Enabled(ctx context.Context, userID string) (bool, error)
	BeginSetup(ctx context.Context, userID string) (twofactor.SetupData, error)
	CompleteSetup(ctx context.Context, userID string, code string) error
	Verify(ctx context.Context, userID string, code string, backupCode string) error
	Disable(ctx context.Context, userID string, code string) error
	RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error)
}

type apiKeyService interface {
	// Resolve a presented legacy key
	// Has to return apperrors.ErrAPIKeyNotFound on any mismatch
	Validate(ctx context.Context, plaintext string) (models.APIKey, error)
}
