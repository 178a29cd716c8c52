package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/wayroute/authd/internal/apperrors"
	"github.com/wayroute/authd/internal/handlers/middleware"
	"github.com/wayroute/authd/internal/handlers/render"
	"github.com/wayroute/authd/internal/logger"
	"github.com/wayroute/authd/internal/models"
	"github.com/wayroute/authd/internal/service/credential"
)

type tokenPairResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

func newTokenPairResponse(pair models.TokenPair) tokenPairResponse {
	return tokenPairResponse{
		AccessToken:      pair.Access.Value,
		AccessExpiresAt:  pair.Access.ExpiresAt,
		RefreshToken:     pair.Refresh.Value,
		RefreshExpiresAt: pair.Refresh.ExpiresAt,
	}
}

// handleIssueSession starts a session for an identity the caller already
// authenticated upstream (the OAuth callback). If the identity has two-factor
// enabled the request must also answer the challenge.
func handleIssueSession(sessions sessionService, twofactor twoFactorService, l logger.Logger) http.Handler {
	type request struct {
		UserID     string   `json:"user_id" validate:"required"`
		Scopes     []string `json:"scopes"`
		Code       string   `json:"code" validate:"omitempty,totpcode"`
		BackupCode string   `json:"backup_code"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		enabled, err := twofactor.Enabled(r.Context(), data.UserID)
		if err != nil {
			l.Error("two-factor lookup failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		if enabled {
			if data.Code == "" && data.BackupCode == "" {
				render.ServiceError(w, "Two-factor code required", http.StatusUnauthorized)
				return
			}

			cred := credential.NewTwoFactorPending(twofactor, data.UserID, data.Scopes, data.Code, data.BackupCode)
			if _, _, err := cred.ResolveIdentity(r.Context()); err != nil {
				l.Info("two-factor challenge failed", "user_id", data.UserID, "reason", err)
				render.ServiceError(w, "Authentication required", http.StatusUnauthorized)
				return
			}
		}

		pair, err := sessions.Issue(r.Context(), data.UserID, data.Scopes, middleware.RequestContext(r))
		if err != nil {
			l.Error("session issue failed", "user_id", data.UserID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, newTokenPairResponse(pair))
	})
}

// handleRefreshSession rotates the presented refresh token. Every rejection
// reads the same to the caller; the concrete reason (expired, reuse, unknown)
// is logged but never rendered.
func handleRefreshSession(sessions sessionService, l logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		pair, err := sessions.Refresh(r.Context(), data.RefreshToken, middleware.RequestContext(r))
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrTokenNotFound),
				errors.Is(err, apperrors.ErrTokenExpired),
				errors.Is(err, apperrors.ErrTokenReuse):
				l.Info("refresh rejected", "reason", err)
				render.ServiceError(w, "Authentication required", http.StatusUnauthorized)
			default:
				l.Error("refresh failed", "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, newTokenPairResponse(pair))
	})
}

func handleRevokeSession(sessions sessionService, l logger.Logger) http.Handler {
	type request struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := sessions.Revoke(r.Context(), data.RefreshToken, middleware.RequestContext(r)); err != nil {
			l.Error("revoke failed", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{Message: "Session revoked"})
	})
}
