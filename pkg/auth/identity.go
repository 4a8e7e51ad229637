package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"campuschat/pkg/config"
	"campuschat/pkg/logger"
	"campuschat/pkg/utils"
)

// Role represents the resolved caller role for a request.
type Role int

const (
	RoleUnauth Role = iota
	RoleFrontend
	RoleBackend
	RoleAdmin
)

// SecConfig mirrors the security-related configuration driving
// authentication, CORS and rate limiting.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
	BackendKeys    map[string]struct{}
	FrontendKeys   map[string]struct{}
	AdminKeys      map[string]struct{}
}

type ctxUserKey struct{}

// UserID returns the signature-verified user id from the request context,
// or empty when the caller carries no verified identity.
func UserID(ctx context.Context) string {
	if v, ok := ctx.Value(ctxUserKey{}).(string); ok {
		return v
	}
	return ""
}

// WithUserID injects a verified user id; exported for tests and for the
// backend trust path.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxUserKey{}, id)
}

// credentials pulls identity material from headers, falling back to query
// parameters because browser WebSocket clients cannot set custom headers.
func credentials(r *http.Request) (userID, sig string) {
	userID = strings.TrimSpace(r.Header.Get("X-User-ID"))
	sig = strings.TrimSpace(r.Header.Get("X-User-Signature"))
	if userID == "" {
		userID = strings.TrimSpace(r.URL.Query().Get("user"))
	}
	if sig == "" {
		sig = strings.TrimSpace(r.URL.Query().Get("sig"))
	}
	return userID, sig
}

// VerifySignature checks userID against sig using the configured signing
// keys.
func VerifySignature(userID, sig string) bool {
	for k := range config.GetSigningKeys() {
		mac := hmac.New(sha256.New, []byte(k))
		mac.Write([]byte(userID))
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return true
		}
	}
	return false
}

// RequireSignedUser verifies HMAC signature credentials and injects the
// verified user id into the request context. Backend and admin callers may
// instead assert an identity via X-User-ID without a signature; that header
// is trusted because their API key already grants full access.
func RequireSignedUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get("X-Role-Name")
		userID, sig := credentials(r)

		if sig == "" && (role == "backend" || role == "admin") {
			if userID != "" {
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
			return
		}

		if sig == "" || userID == "" {
			logger.Warn("missing_signature_credentials", "path", r.URL.Path, "remote", r.RemoteAddr)
			utils.JSONError(w, http.StatusUnauthorized, "missing signature credentials")
			return
		}
		if len(config.GetSigningKeys()) == 0 {
			logger.Error("no_signing_keys_configured")
			utils.JSONError(w, http.StatusInternalServerError, "server misconfigured: no signing secrets available")
			return
		}
		if !VerifySignature(userID, sig) {
			logger.Warn("invalid_signature", "user", userID)
			utils.JSONError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
		logger.Debug("signature_verified", "user", userID)
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}
