package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/bcnelson/cloudflare-waf-manager/internal/auth"
	"github.com/bcnelson/cloudflare-waf-manager/internal/domain"
	"github.com/bcnelson/cloudflare-waf-manager/internal/storage"
)

type contextKey string

const APIKeyContextKey contextKey = "api_key"

// TokenVerifier verifies OIDC ID tokens.
type TokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*auth.Claims, error)
}

// Auth creates authentication middleware. Requests carry a bearer
// credential that is either an API key, the bootstrap key while no API
// keys exist, or (when verifier is non-nil) an OIDC ID token.
func Auth(store storage.Storage, bootstrapKey string, verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeAuthError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}
			credential := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
			if credential == "" {
				writeAuthError(w, http.StatusUnauthorized, "empty API key")
				return
			}

			ctx := r.Context()

			if verifier != nil && looksLikeJWT(credential) {
				claims, err := verifier.Verify(ctx, credential)
				if err != nil {
					log.Printf("Rejected ID token: %v", err)
					writeAuthError(w, http.StatusUnauthorized, "invalid ID token")
					return
				}
				ctx = context.WithValue(ctx, APIKeyContextKey, &domain.APIKey{
					ID:   "oidc:" + claims.Subject,
					Name: claims.Email,
				})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			keyCount, err := store.CountAPIKeys(ctx)
			if err != nil {
				writeAuthError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			// The bootstrap key only works until the first API key is issued.
			isBootstrap := bootstrapKey != "" &&
				subtle.ConstantTimeCompare([]byte(credential), []byte(bootstrapKey)) == 1
			if isBootstrap && keyCount > 0 {
				writeAuthError(w, http.StatusUnauthorized, domain.ErrBootstrapDisabled.Error())
				return
			}
			if isBootstrap {
				ctx = context.WithValue(ctx, APIKeyContextKey, &domain.APIKey{
					ID:   "bootstrap",
					Name: "Bootstrap Key",
				})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			storedKey, err := store.GetAPIKeyByHash(ctx, domain.HashAPIKey(credential))
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					writeAuthError(w, http.StatusUnauthorized, "invalid API key")
					return
				}
				writeAuthError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			go func(id string) {
				_ = store.UpdateAPIKeyLastUsed(context.Background(), id)
			}(storedKey.ID)

			ctx = context.WithValue(ctx, APIKeyContextKey, storedKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// looksLikeJWT reports whether credential has the three dot-separated
// segments of a compact JWS. Issued API keys never contain dots.
func looksLikeJWT(credential string) bool {
	return strings.Count(credential, ".") == 2
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&domain.APIError{Code: status, Message: message})
}

// GetAPIKeyFromContext returns the credential that authenticated the request.
func GetAPIKeyFromContext(ctx context.Context) *domain.APIKey {
	key, _ := ctx.Value(APIKeyContextKey).(*domain.APIKey)
	return key
}
