package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/posternhq/postern/internal/config"
	"golang.org/x/oauth2"
)

// OIDCClient exchanges authorization codes with the identity provider and
// builds its redirect/logout URLs. A disabled client is valid; every call
// then reports federation as unavailable.
type OIDCClient struct {
	enabled               bool
	oauth                 oauth2.Config
	verifier              *oidc.IDTokenVerifier
	endSessionEndpoint    string
	postLogoutRedirectURL string
	logger                *slog.Logger
}

// NewOIDCClient performs provider discovery and builds the client.
// When cfg.Enabled is false no network calls are made.
func NewOIDCClient(ctx context.Context, cfg *config.OIDCConfig, logger *slog.Logger) (*OIDCClient, error) {
	if !cfg.Enabled {
		return &OIDCClient{enabled: false, logger: logger}, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider discovery failed: %w", err)
	}

	// end_session_endpoint is optional provider metadata (RP-initiated logout)
	var extra struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		logger.Warn("failed to read provider metadata", slog.Any("error", err))
	}

	return &OIDCClient{
		enabled: true,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "email", "profile"},
		},
		verifier:              provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		endSessionEndpoint:    extra.EndSessionEndpoint,
		postLogoutRedirectURL: cfg.PostLogoutRedirectURL,
		logger:                logger,
	}, nil
}

// Enabled reports whether federated login is configured
func (c *OIDCClient) Enabled() bool {
	return c.enabled
}

// AuthURL builds the provider's authorization redirect URL for the given state
func (c *OIDCClient) AuthURL(state string) string {
	if !c.enabled {
		return ""
	}
	return c.oauth.AuthCodeURL(state)
}

// ExchangeCode exchanges an authorization code for a verified username and
// token set. The username comes from the verified ID token's email claim.
func (c *OIDCClient) ExchangeCode(ctx context.Context, code string) (string, *TokenSet, error) {
	if !c.enabled {
		return "", nil, fmt.Errorf("federation is not enabled")
	}

	oauth2Token, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		return "", nil, fmt.Errorf("token exchange failed: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return "", nil, fmt.Errorf("no id_token in token response")
	}

	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", nil, fmt.Errorf("id token verification failed: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", nil, fmt.Errorf("failed to extract claims: %w", err)
	}
	if claims.Email == "" {
		return "", nil, fmt.Errorf("id token carries no email claim")
	}

	tok := &TokenSet{
		AccessToken:  oauth2Token.AccessToken,
		RefreshToken: oauth2Token.RefreshToken,
		IDToken:      rawIDToken,
		Expiry:       oauth2Token.Expiry,
	}

	return claims.Email, tok, nil
}

// LogoutURL builds the provider's RP-initiated logout URL. The state is
// echoed back by the provider on the post-logout redirect, where it must
// match the session before the local session is destroyed. Falls back to
// the post-logout redirect when the provider advertises no end-session
// endpoint.
func (c *OIDCClient) LogoutURL(idToken, state string) string {
	if !c.enabled || c.endSessionEndpoint == "" {
		return c.postLogoutRedirectURL
	}

	u, err := url.Parse(c.endSessionEndpoint)
	if err != nil {
		return c.postLogoutRedirectURL
	}

	q := u.Query()
	if idToken != "" {
		q.Set("id_token_hint", idToken)
	}
	if c.postLogoutRedirectURL != "" {
		q.Set("post_logout_redirect_uri", c.postLogoutRedirectURL)
	}
	if state != "" {
		q.Set("state", state)
	}
	u.RawQuery = q.Encode()

	return u.String()
}
