// Package twofactor drives the enrollment state machine: not enrolled →
// pending verification → enabled → (disabled). It owns the TOTP secret and
// the single-use backup codes; plaintext of both leaves the service exactly
// once, at generation time.
package twofactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wayroute/authd/internal/apperrors"
	"github.com/wayroute/authd/internal/logger"
	"github.com/wayroute/authd/internal/models"
	"github.com/wayroute/authd/internal/repository"
	"github.com/wayroute/authd/internal/secret"
	"github.com/wayroute/authd/internal/totp"
)

const defaultBackupCodeCount = 10

type Config struct {
	// Issuer shown in authenticator apps, "authd" if not set
	Issuer string

	// How many backup codes a generation hands out
	BackupCodeCount int
}

// SetupData is handed to the user exactly once: secret and codes are stored
// hashed (codes) or server-side only (secret) after this
type SetupData struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

type Service struct {
	storage   repository.Storage
	issuer    string
	codeCount int
	logger    logger.Logger
}

func NewService(cfg Config, storage repository.Storage, l logger.Logger) (*Service, error) {
	if storage == nil {
		return nil, errors.New("storage must not be nil")
	}
	if l == nil {
		l = logger.NewNoOpLogger()
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "authd"
	}
	if cfg.BackupCodeCount == 0 {
		cfg.BackupCodeCount = defaultBackupCodeCount
	}

	return &Service{
		storage:   storage,
		issuer:    cfg.Issuer,
		codeCount: cfg.BackupCodeCount,
		logger:    l.With("service", "twofactor"),
	}, nil
}

// BeginSetup starts (or restarts) enrollment: fresh secret, fresh backup
// codes. Re-running while pending replaces the pending enrollment; an enabled
// enrollment must be disabled first and returns ErrTwoFactorEnabled.
func (s *Service) BeginSetup(ctx context.Context, userID string) (SetupData, error) {
	secretKey, err := totp.GenerateSecret()
	if err != nil {
		return SetupData{}, fmt.Errorf("error while generating totp secret. Err: %w", err)
	}

	codes := make([]string, 0, s.codeCount)
	hashes := make([]string, 0, s.codeCount)
	for range s.codeCount {
		code, err := secret.BackupCode()
		if err != nil {
			return SetupData{}, fmt.Errorf("error while generating backup code. Err: %w", err)
		}
		codes = append(codes, code)
		hashes = append(hashes, secret.HashToken(code))
	}

	now := time.Now().Truncate(time.Microsecond)
	err = s.storage.InTx(ctx, func(st repository.Storage) error {
		_, err := st.TwoFactor().Upsert(ctx, models.TwoFactorAuth{
			UserID:    userID,
			SecretKey: secretKey,
			SetupAt:   now,
		})
		if err != nil {
			return err
		}
		return st.TwoFactor().ReplaceBackupCodes(ctx, userID, hashes)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrTwoFactorEnabled) {
			return SetupData{}, apperrors.ErrTwoFactorEnabled
		}
		return SetupData{}, fmt.Errorf("error while storing enrollment. Err: %w", err)
	}

	s.logger.Info("two-factor setup started", "user_id", userID)
	return SetupData{
		Secret:          secretKey,
		ProvisioningURI: totp.ProvisioningURI(secretKey, userID, s.issuer),
		BackupCodes:     codes,
	}, nil
}

// CompleteSetup proves the authenticator holds the secret and flips the
// enrollment to enabled. Only a TOTP code is accepted here.
func (s *Service) CompleteSetup(ctx context.Context, userID string, code string) error {
	auth, err := s.storage.TwoFactor().Get(ctx, userID)
	if err != nil {
		return err
	}
	if auth.Enabled() {
		return apperrors.ErrTwoFactorEnabled
	}

	if err := s.checkTOTP(auth.SecretKey, code); err != nil {
		return err
	}

	now := time.Now().Truncate(time.Microsecond)
	if _, err := s.storage.TwoFactor().MarkVerified(ctx, userID, now); err != nil {
		return fmt.Errorf("error while enabling enrollment. Err: %w", err)
	}

	s.logger.Info("two-factor enabled", "user_id", userID)
	return nil
}

// Verify answers a login challenge with exactly one of a TOTP code or a
// backup code. A backup code is consumed on success and never works again.
func (s *Service) Verify(ctx context.Context, userID string, code string, backupCode string) error {
	if (code == "") == (backupCode == "") {
		return fmt.Errorf("exactly one of code or backup code must be given: %w", apperrors.ErrCodeInvalid)
	}

	auth, err := s.storage.TwoFactor().Get(ctx, userID)
	switch {
	case errors.Is(err, apperrors.ErrTwoFactorNotEnrolled):
		return apperrors.ErrTwoFactorNotEnabled
	case err != nil:
		return err
	}
	if !auth.Enabled() {
		return apperrors.ErrTwoFactorNotEnabled
	}

	now := time.Now().Truncate(time.Microsecond)

	if code != "" {
		if err := s.checkTOTP(auth.SecretKey, code); err != nil {
			return err
		}
	} else {
		err := s.storage.TwoFactor().ConsumeBackupCode(ctx, userID, secret.HashToken(backupCode), now)
		if err != nil {
			return err
		}
		s.logger.Info("backup code consumed", "user_id", userID)
	}

	if err := s.storage.TwoFactor().TouchUsed(ctx, userID, now); err != nil {
		return fmt.Errorf("error while updating enrollment usage. Err: %w", err)
	}
	return nil
}

// Disable tears the enrollment down, backup codes included. It demands a
// fresh TOTP code; a backup code is not proof of holding the authenticator.
func (s *Service) Disable(ctx context.Context, userID string, code string) error {
	auth, err := s.storage.TwoFactor().Get(ctx, userID)
	if err != nil {
		return err
	}
	if !auth.Enabled() {
		return apperrors.ErrTwoFactorNotEnabled
	}

	if err := s.checkTOTP(auth.SecretKey, code); err != nil {
		return err
	}

	if err := s.storage.TwoFactor().Delete(ctx, userID); err != nil {
		return fmt.Errorf("error while deleting enrollment. Err: %w", err)
	}

	s.logger.Info("two-factor disabled", "user_id", userID)
	return nil
}

// RegenerateBackupCodes replaces every unused code with a fresh set.
// Consumed codes stay on record for audit.
func (s *Service) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	auth, err := s.storage.TwoFactor().Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !auth.Enabled() {
		return nil, apperrors.ErrTwoFactorNotEnabled
	}

	codes := make([]string, 0, s.codeCount)
	hashes := make([]string, 0, s.codeCount)
	for range s.codeCount {
		code, err := secret.BackupCode()
		if err != nil {
			return nil, fmt.Errorf("error while generating backup code. Err: %w", err)
		}
		codes = append(codes, code)
		hashes = append(hashes, secret.HashToken(code))
	}

	if err := s.storage.TwoFactor().ReplaceBackupCodes(ctx, userID, hashes); err != nil {
		return nil, fmt.Errorf("error while storing backup codes. Err: %w", err)
	}

	s.logger.Info("backup codes regenerated", "user_id", userID)
	return codes, nil
}

// Enabled reports whether the identity has a verified enrollment.
// Not enrolled at all is simply not enabled.
func (s *Service) Enabled(ctx context.Context, userID string) (bool, error) {
	auth, err := s.storage.TwoFactor().Get(ctx, userID)
	switch {
	case errors.Is(err, apperrors.ErrTwoFactorNotEnrolled):
		return false, nil
	case err != nil:
		return false, err
	}
	return auth.Enabled(), nil
}

// RemainingCodes reports how many backup codes are still unused
func (s *Service) RemainingCodes(ctx context.Context, userID string) (int, error) {
	return s.storage.TwoFactor().CountUnusedBackupCodes(ctx, userID)
}

func (s *Service) checkTOTP(secretKey string, code string) error {
	ok, err := totp.Verify(secretKey, code, time.Now())
	if err != nil {
		return fmt.Errorf("error while verifying totp code. Err: %w", err)
	}
	if !ok {
		return apperrors.ErrCodeInvalid
	}
	return nil
}
