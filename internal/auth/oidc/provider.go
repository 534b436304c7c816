// Package oidc verifies externally-issued bearer tokens against a trusted
// OpenID Connect provider. It performs service discovery once at startup and
// checks signatures against the provider's published JWKS on each request.
// There is no login flow here: the dashboard's IdP issues the tokens, this
// service only validates them.
package oidc

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/autothreat/autothreat-backend/internal/config"
)

// Provider wraps a discovery-backed ID token verifier
type Provider struct {
	verifier *oidc.IDTokenVerifier
	provider *oidc.Provider
}

// ExternalClaims are the claims extracted from a verified external token
type ExternalClaims struct {
	Subject string
	Email   string
	Name    string
}

// NewProvider initializes a verify-only OIDC provider using a background context.
func NewProvider(cfg *config.OIDCConfig) (*Provider, error) {
	return NewProviderWithContext(context.Background(), cfg)
}

// NewProviderWithContext initializes the provider with the given context,
// allowing callers to set deadlines or cancellation for the discovery request.
func NewProviderWithContext(ctx context.Context, cfg *config.OIDCConfig) (*Provider, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("OIDC is not enabled")
	}

	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}

	if cfg.Audience == "" {
		return nil, fmt.Errorf("OIDC audience is required")
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	// The audience claim is checked via ClientID; the issuer claim is checked
	// against the discovery document automatically.
	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.Audience,
	})

	return &Provider{
		verifier: verifier,
		provider: provider,
	}, nil
}

// VerifyToken verifies a raw bearer token and extracts its identity claims
func (p *Provider) VerifyToken(ctx context.Context, rawToken string) (*ExternalClaims, error) {
	idToken, err := p.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify token: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse token claims: %w", err)
	}

	return &ExternalClaims{
		Subject: idToken.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}
