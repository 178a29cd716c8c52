package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/wayroute/authd/internal/handlers/authctx"
	"github.com/wayroute/authd/internal/handlers/render"
	authlog "github.com/wayroute/authd/internal/logger"
	"github.com/wayroute/authd/internal/models"
	"github.com/wayroute/authd/internal/service/credential"
)

// Auth resolves the request credential (bearer token or legacy API key) to
// an identity and puts it on the context. Every failure renders the same
// "authentication required" body: which check failed goes to the log only,
// so the response is no oracle for token probing.
func Auth(
	access credential.AccessValidator,
	keys credential.KeyValidator,
	keyScopes []string,
	l authlog.Logger,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, ok := credentialFromRequest(r, access, keys, keyScopes)
			if !ok {
				render.ServiceError(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			userID, scopes, err := cred.ResolveIdentity(r.Context())
			if err != nil {
				l.Info("credential rejected", "path", r.URL.Path, "reason", err)
				render.ServiceError(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			ctx := authctx.New(r.Context(), authctx.Auth{UserID: userID, Scopes: scopes})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func credentialFromRequest(
	r *http.Request,
	access credential.AccessValidator,
	keys credential.KeyValidator,
	keyScopes []string,
) (credential.Credential, bool) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		token, found := strings.CutPrefix(auth, "Bearer ")
		if !found {
			return nil, false
		}
		return credential.NewBearer(access, token, RequestContext(r)), true
	}

	if key := r.Header.Get("X-Api-Key"); key != "" {
		return credential.NewAPIKey(keys, key, keyScopes), true
	}

	return nil, false
}

// RequestContext extracts where the request came from, for token audit trails
func RequestContext(r *http.Request) models.RequestContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	return models.RequestContext{
		IP:        ip,
		UserAgent: r.UserAgent(),
	}
}
