package handlers

import (
	"errors"
	"net/http"

	"github.com/wayroute/authd/internal/apperrors"
	"github.com/wayroute/authd/internal/handlers/authctx"
	"github.com/wayroute/authd/internal/handlers/render"
	"github.com/wayroute/authd/internal/logger"
)

func handleTwoFactorSetup(twofactor twoFactorService, l logger.Logger) http.Handler {
	type response struct {
		Secret          string   `json:"secret"`
		ProvisioningURI string   `json:"provisioning_uri"`
		BackupCodes     []string `json:"backup_codes"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, _ := authctx.FromContext(r.Context())

		setup, err := twofactor.BeginSetup(r.Context(), auth.UserID)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrTwoFactorEnabled):
				render.ServiceError(w, "Two-factor already enabled, disable it first", http.StatusConflict)
			default:
				l.Error("two-factor setup failed", "user_id", auth.UserID, "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, response{
			Secret:          setup.Secret,
			ProvisioningURI: setup.ProvisioningURI,
			BackupCodes:     setup.BackupCodes,
		})
	})
}

// handleTwoFactorVerify completes a pending setup or, once enabled, checks a
// code (TOTP or single-use backup)
func handleTwoFactorVerify(twofactor twoFactorService, l logger.Logger) http.Handler {
	type request struct {
		Code       string `json:"code" validate:"omitempty,totpcode"`
		BackupCode string `json:"backup_code"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, _ := authctx.FromContext(r.Context())

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		enabled, err := twofactor.Enabled(r.Context(), auth.UserID)
		if err != nil {
			l.Error("two-factor lookup failed", "user_id", auth.UserID, "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		message := "Two-factor enabled"
		if enabled {
			err = twofactor.Verify(r.Context(), auth.UserID, data.Code, data.BackupCode)
			message = "Two-factor verified"
		} else {
			err = twofactor.CompleteSetup(r.Context(), auth.UserID, data.Code)
		}
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrCodeInvalid):
				l.Info("two-factor code rejected", "user_id", auth.UserID)
				render.ServiceError(w, "Invalid code", http.StatusUnauthorized)
			case errors.Is(err, apperrors.ErrTwoFactorNotEnrolled):
				render.ServiceError(w, "Two-factor setup not started", http.StatusBadRequest)
			default:
				l.Error("two-factor verify failed", "user_id", auth.UserID, "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, response{Message: message})
	})
}

func handleTwoFactorDisable(twofactor twoFactorService, l logger.Logger) http.Handler {
	type request struct {
		Code string `json:"code" validate:"required,totpcode"`
	}
	type response struct {
		Message string `json:"message"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, _ := authctx.FromContext(r.Context())

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		if err := twofactor.Disable(r.Context(), auth.UserID, data.Code); err != nil {
			switch {
			case errors.Is(err, apperrors.ErrCodeInvalid):
				l.Info("two-factor disable code rejected", "user_id", auth.UserID)
				render.ServiceError(w, "Invalid code", http.StatusUnauthorized)
			case errors.Is(err, apperrors.ErrTwoFactorNotEnabled),
				errors.Is(err, apperrors.ErrTwoFactorNotEnrolled):
				render.ServiceError(w, "Two-factor is not enabled", http.StatusBadRequest)
			default:
				l.Error("two-factor disable failed", "user_id", auth.UserID, "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, response{Message: "Two-factor disabled"})
	})
}

func handleTwoFactorBackupCodes(twofactor twoFactorService, l logger.Logger) http.Handler {
	type response struct {
		BackupCodes []string `json:"backup_codes"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth, _ := authctx.FromContext(r.Context())

		codes, err := twofactor.RegenerateBackupCodes(r.Context(), auth.UserID)
		if err != nil {
			switch {
			case errors.Is(err, apperrors.ErrTwoFactorNotEnabled),
				errors.Is(err, apperrors.ErrTwoFactorNotEnrolled):
				render.ServiceError(w, "Two-factor is not enabled", http.StatusBadRequest)
			default:
				l.Error("backup code regeneration failed", "user_id", auth.UserID, "error", err)
				render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			}
			return
		}

		render.JSON(w, response{BackupCodes: codes})
	})
}
