// Package credential is the boundary between the request layer and the
// credential engines. A request carries exactly one Credential; the
// middleware resolves it to an identity without ever switching on what kind
// of credential it is.
package credential

import (
	"context"

	"github.com/wayroute/authd/internal/models"
)

// Credential resolves whatever the request presented to an identity and the
// scopes it is granted. Any failure means "authentication required"; the
// concrete reason is for the audit log, never for the response body.
type Credential interface {
	ResolveIdentity(ctx context.Context) (userID string, scopes []string, err error)
}

// AccessValidator is the session engine's validation surface
type AccessValidator interface {
	ValidateAccess(ctx context.Context, accessToken string, reqCtx models.RequestContext) (models.AccessClaims, error)
}

// KeyValidator is the legacy key engine's validation surface
type KeyValidator interface {
	Validate(ctx context.Context, plaintext string) (models.APIKey, error)
}

// ChallengeVerifier answers a second-factor challenge
type ChallengeVerifier interface {
	Verify(ctx context.Context, userID string, code string, backupCode string) error
}

// Bearer is a signed access token from the Authorization header
type Bearer struct {
	validator AccessValidator
	token     string
	reqCtx    models.RequestContext
}

func NewBearer(v AccessValidator, token string, reqCtx models.RequestContext) Bearer {
	return Bearer{validator: v, token: token, reqCtx: reqCtx}
}

func (c Bearer) ResolveIdentity(ctx context.Context) (string, []string, error) {
	claims, err := c.validator.ValidateAccess(ctx, c.token, c.reqCtx)
	if err != nil {
		return "", nil, err
	}
	return claims.UserID, claims.Scopes, nil
}

// APIKey is a legacy static key. The key itself carries no scopes, so the
// implicit grant is configured where the credential is built.
type APIKey struct {
	validator KeyValidator
	key       string
	scopes    []string
}

func NewAPIKey(v KeyValidator, key string, scopes []string) APIKey {
	return APIKey{validator: v, key: key, scopes: scopes}
}

func (c APIKey) ResolveIdentity(ctx context.Context) (string, []string, error) {
	key, err := c.validator.Validate(ctx, c.key)
	if err != nil {
		return "", nil, err
	}
	return key.UserID, c.scopes, nil
}

// TwoFactorPending is a first-factor-complete login: the identity is already
// known but nothing resolves until the second factor checks out.
type TwoFactorPending struct {
	verifier   ChallengeVerifier
	userID     string
	scopes     []string
	code       string
	backupCode string
}

func NewTwoFactorPending(v ChallengeVerifier, userID string, scopes []string, code string, backupCode string) TwoFactorPending {
	return TwoFactorPending{verifier: v, userID: userID, scopes: scopes, code: code, backupCode: backupCode}
}

func (c TwoFactorPending) ResolveIdentity(ctx context.Context) (string, []string, error) {
	if err := c.verifier.Verify(ctx, c.userID, c.code, c.backupCode); err != nil {
		return "", nil, err
	}
	return c.userID, c.scopes, nil
}
