package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
)

// OIDCConfig configures the hosted identity provider.
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// FederatedLogin is the outcome of a successful sign-in at the provider.
type FederatedLogin struct {
	RawIDToken string
	Session    FederatedSession
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Nonce         string `json:"nonce"`
}

// OIDCProvider is an IdentityProvider backed by an OpenID Connect issuer.
// The federated session is the provider's ID token, stored verbatim in the
// fed_session cookie and re-verified on every request.
type OIDCProvider struct {
	log      logrus.FieldLogger
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// Compile-time interface check.
var _ IdentityProvider = (*OIDCProvider)(nil)

// NewOIDCProvider discovers the issuer's endpoints and signing keys.
func NewOIDCProvider(
	ctx context.Context,
	log logrus.FieldLogger,
	cfg OIDCConfig,
) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discovering oidc issuer %q: %w", cfg.IssuerURL, err)
	}

	scopes := append([]string{oidc.ScopeOpenID}, cfg.Scopes...)

	return &OIDCProvider{
		log: log.WithField("component", "oidc-provider"),
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// Session verifies the fed_session cookie, if present.
func (p *OIDCProvider) Session(
	ctx context.Context,
	r *http.Request,
) (*FederatedSession, error) {
	cookie, err := r.Cookie(FederatedSessionCookie)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	session, _, err := p.verify(ctx, cookie.Value)
	if err != nil {
		p.log.WithError(err).Debug("Rejected federated session cookie")

		return nil, err
	}

	return session, nil
}

// AuthCodeURL returns the provider's authorization URL for the code flow.
func (p *OIDCProvider) AuthCodeURL(state, nonce string) string {
	return p.oauth.AuthCodeURL(
		state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("nonce", nonce),
	)
}

// Exchange completes the authorization-code flow and checks the nonce.
func (p *OIDCProvider) Exchange(
	ctx context.Context,
	code, nonce string,
) (*FederatedLogin, error) {
	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, Wrap(KindUpstream, "exchanging authorization code", err)
	}

	login, claims, err := p.loginFromToken(ctx, tok)
	if err != nil {
		return nil, err
	}

	if claims.Nonce == "" || claims.Nonce != nonce {
		return nil, Errorf(KindForbidden, "id token nonce mismatch")
	}

	return login, nil
}

// PasswordLogin signs in with email and password at the provider using the
// resource owner password grant.
func (p *OIDCProvider) PasswordLogin(
	ctx context.Context,
	email, password string,
) (*FederatedLogin, error) {
	tok, err := p.oauth.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil &&
			retrieveErr.Response.StatusCode < http.StatusInternalServerError {
			return nil, ErrBadCredentials
		}

		return nil, Wrap(KindUpstream, "password grant", err)
	}

	login, _, err := p.loginFromToken(ctx, tok)

	return login, err
}

func (p *OIDCProvider) loginFromToken(
	ctx context.Context,
	tok *oauth2.Token,
) (*FederatedLogin, *idTokenClaims, error) {
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, nil, Errorf(KindUpstream, "provider response carried no id_token")
	}

	session, claims, err := p.verify(ctx, raw)
	if err != nil {
		return nil, nil, Wrap(KindUpstream, "verifying id token", err)
	}

	return &FederatedLogin{RawIDToken: raw, Session: *session}, claims, nil
}

func (p *OIDCProvider) verify(
	ctx context.Context,
	raw string,
) (*FederatedSession, *idTokenClaims, error) {
	idToken, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("verifying id token: %w", err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, nil, fmt.Errorf("decoding id token claims: %w", err)
	}

	if claims.Email == "" {
		return nil, nil, fmt.Errorf("id token for %q has no email claim", idToken.Subject)
	}

	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return nil, nil, fmt.Errorf("email %q is not verified", claims.Email)
	}

	return &FederatedSession{
		Subject:   idToken.Subject,
		Email:     claims.Email,
		ExpiresAt: idToken.Expiry,
	}, &claims, nil
}
