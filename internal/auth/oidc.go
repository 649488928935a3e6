// Package auth verifies OIDC ID tokens presented as API bearer credentials.
package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Claims are the ID token claims the API relies on.
type Claims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

// TokenVerifier checks ID tokens issued for this service's client id.
type TokenVerifier struct {
	verifier       *oidc.IDTokenVerifier
	allowedDomains []string
}

// NewTokenVerifier discovers the issuer's keys and returns a verifier for
// tokens whose audience is clientID.
func NewTokenVerifier(ctx context.Context, issuerURL, clientID string, allowedDomains []string) (*TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return newTokenVerifier(provider.Verifier(&oidc.Config{ClientID: clientID}), allowedDomains), nil
}

func newTokenVerifier(v *oidc.IDTokenVerifier, allowedDomains []string) *TokenVerifier {
	return &TokenVerifier{verifier: v, allowedDomains: allowedDomains}
}

// Verify validates the raw token's signature, issuer, audience and expiry,
// then applies the claim requirements.
func (v *TokenVerifier) Verify(ctx context.Context, rawIDToken string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}
	if err := v.ValidateClaims(&claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

// ValidateClaims requires an email and, when domains are configured, that
// the email belongs to one of them.
func (v *TokenVerifier) ValidateClaims(claims *Claims) error {
	if claims.Email == "" {
		return fmt.Errorf("email claim is required")
	}
	if len(v.allowedDomains) == 0 {
		return nil
	}

	at := strings.LastIndex(claims.Email, "@")
	if at <= 0 || at == len(claims.Email)-1 {
		return fmt.Errorf("invalid email format")
	}
	domain := strings.ToLower(claims.Email[at+1:])

	for _, d := range v.allowedDomains {
		if strings.EqualFold(d, domain) {
			return nil
		}
	}
	return fmt.Errorf("email domain %s is not allowed", domain)
}
