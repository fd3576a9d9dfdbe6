package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/ethpandaops/teamspace/pkg/auth/token"
	"github.com/ethpandaops/teamspace/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// ResolverConfig is the process-wide configuration the resolver reads.
type ResolverConfig struct {
	AdminEmail           string
	AdminEmailIgnoreCase bool
}

// Resolver turns request credentials into at most one Principal. The
// federated session takes priority; the local token cookie is the fallback.
type Resolver struct {
	log      logrus.FieldLogger
	provider IdentityProvider
	signer   *token.Signer
	cfg      ResolverConfig
}

// NewResolver creates a Resolver. A nil provider disables federation.
func NewResolver(
	log logrus.FieldLogger,
	provider IdentityProvider,
	signer *token.Signer,
	cfg ResolverConfig,
) *Resolver {
	if provider == nil {
		provider = NoFederation
	}

	return &Resolver{
		log:      log.WithField("component", "principal-resolver"),
		provider: provider,
		signer:   signer,
		cfg:      cfg,
	}
}

// Resolve returns the caller's principal, or (nil, false) when the request
// is unauthenticated. It never fails: bad or expired credentials resolve to
// unauthenticated.
func (r *Resolver) Resolve(ctx context.Context, req *http.Request) (Principal, bool) {
	session, err := r.provider.Session(ctx, req)
	if err != nil {
		r.log.WithError(err).Debug("Federated session lookup failed")
	}

	if err == nil && session != nil {
		metrics.PrincipalResolutionsTotal.WithLabelValues(string(SourceFederated)).Inc()

		return r.Federated(session), true
	}

	cookie, err := req.Cookie(LocalSessionCookie)
	if err != nil || cookie.Value == "" {
		metrics.PrincipalResolutionsTotal.WithLabelValues("none").Inc()

		return nil, false
	}

	claims, ok := r.signer.Verify(cookie.Value)
	if !ok || claims.UID == "" || claims.Username == "" {
		metrics.PrincipalResolutionsTotal.WithLabelValues("invalid").Inc()

		return nil, false
	}

	metrics.PrincipalResolutionsTotal.WithLabelValues(string(SourceLocal)).Inc()

	return NewLocalPrincipal(claims.UID, claims.Username, ParseRole(claims.Role)), true
}

// RequireAuth is Resolve for call sites that cannot proceed without a
// principal; the unauthenticated branch returns ErrUnauthorized.
func (r *Resolver) RequireAuth(ctx context.Context, req *http.Request) (Principal, error) {
	p, ok := r.Resolve(ctx, req)
	if !ok {
		return nil, ErrUnauthorized
	}

	return p, nil
}

// Federated builds the principal for a verified federated session. The
// role is admin when the session email matches the configured admin email.
func (r *Resolver) Federated(session *FederatedSession) FederatedPrincipal {
	return NewFederatedPrincipal(
		session.Subject, session.Email, r.federatedRole(session.Email),
	)
}

func (r *Resolver) federatedRole(email string) Role {
	if r.cfg.AdminEmail == "" || email == "" {
		return RoleMember
	}

	match := email == r.cfg.AdminEmail
	if r.cfg.AdminEmailIgnoreCase {
		match = strings.EqualFold(email, r.cfg.AdminEmail)
	}

	if match {
		return RoleAdmin
	}

	return RoleMember
}
