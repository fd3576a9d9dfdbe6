package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethpandaops/teamspace/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// DefaultPlaceholderDomain is used to synthesize identity emails for local
// principals without a contact address.
const DefaultPlaceholderDomain = "users.teamspace.invalid"

// IdentityStore is the storage the guard needs to keep the shared identity
// table consistent.
type IdentityStore interface {
	// IdentityExists reports whether an identity row exists for id.
	IdentityExists(ctx context.Context, id string) (bool, error)
	// EnsureIdentity inserts an identity row, ignoring a conflicting one.
	EnsureIdentity(ctx context.Context, id, email, source string) error
	// LocalContactEmail returns the contact email recorded for a local
	// credential, or "" when none is set.
	LocalContactEmail(ctx context.Context, uid string) (string, error)
}

// OwnerFunc looks up the principal id recorded as a resource's owner.
type OwnerFunc func(ctx context.Context) (string, error)

// AccessFunc decides whether p may act on a resource. A KindForbidden error
// refuses the call.
type AccessFunc func(ctx context.Context, p Principal) error

// Requirement lists the checks a mutating call needs beyond authentication.
// Checks run in a fixed order: admin, self-service, owner, author-or-admin,
// access, then identity ensure.
type Requirement struct {
	// Admin restricts the call to the reserved local administrator.
	Admin bool

	// SelfService restricts the call to the local principal whose username
	// equals TargetUsername. The reserved admin username is always refused.
	SelfService    bool
	TargetUsername string

	// Owner restricts the call to the resource's owner.
	Owner OwnerFunc

	// AuthorOrAdmin restricts the call to the resource's author or any
	// principal with the admin role.
	AuthorOrAdmin OwnerFunc

	// Access restricts the call to principals the resource admits, such as
	// the members of a chat room.
	Access AccessFunc

	// EnsureIdentity guarantees an identity row for the principal before
	// the write stores its id as a foreign key.
	EnsureIdentity bool
}

// WriteFunc performs the guarded mutation.
type WriteFunc func(ctx context.Context, p Principal) error

// Guard runs the authorization sequence shared by all mutating operations.
type Guard struct {
	log               logrus.FieldLogger
	identities        IdentityStore
	placeholderDomain string
}

// NewGuard creates a Guard. An empty placeholderDomain selects
// DefaultPlaceholderDomain.
func NewGuard(
	log logrus.FieldLogger,
	identities IdentityStore,
	placeholderDomain string,
) *Guard {
	if placeholderDomain == "" {
		placeholderDomain = DefaultPlaceholderDomain
	}

	return &Guard{
		log:               log.WithField("component", "guard"),
		identities:        identities,
		placeholderDomain: placeholderDomain,
	}
}

// Do authorizes the principal stored in ctx against req and, when every
// check passes, calls write. Rejections are terminal and leave no side
// effects.
func (g *Guard) Do(ctx context.Context, req Requirement, write WriteFunc) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return g.reject("unauthorized", ErrUnauthorized)
	}

	if err := g.authorize(ctx, p, req); err != nil {
		if KindOf(err) == KindForbidden {
			return g.reject("forbidden", err)
		}

		return err
	}

	if req.EnsureIdentity {
		if err := g.EnsureIdentity(ctx, p); err != nil {
			g.log.WithError(err).
				WithField("principal", p.ID()).
				WithField("source", p.Source()).
				Error("Aborting write: identity row could not be ensured")

			return g.reject("abort", err)
		}
	}

	if err := write(ctx, p); err != nil {
		metrics.GuardDecisionsTotal.WithLabelValues("write_error").Inc()

		return err
	}

	metrics.GuardDecisionsTotal.WithLabelValues("ok").Inc()

	return nil
}

func (g *Guard) authorize(ctx context.Context, p Principal, req Requirement) error {
	if req.Admin && !IsLocalAdmin(p) {
		return Errorf(KindForbidden, "administrator access required")
	}

	if req.SelfService {
		if req.TargetUsername == ReservedAdminUsername {
			return Errorf(KindForbidden, "the %q account cannot be modified here",
				ReservedAdminUsername)
		}

		local, ok := p.(LocalPrincipal)
		if !ok || req.TargetUsername == "" || local.Username != req.TargetUsername {
			return Errorf(KindForbidden, "you can only manage your own account")
		}
	}

	if req.Owner != nil {
		owner, err := req.Owner(ctx)
		if err != nil {
			return err
		}

		if owner != p.ID() {
			return Errorf(KindForbidden, "only the owner can perform this action")
		}
	}

	if req.AuthorOrAdmin != nil {
		author, err := req.AuthorOrAdmin(ctx)
		if err != nil {
			return err
		}

		if author != p.ID() && p.Role() != RoleAdmin {
			return Errorf(KindForbidden, "only the author or an administrator can perform this action")
		}
	}

	if req.Access != nil {
		if err := req.Access(ctx, p); err != nil {
			return err
		}
	}

	return nil
}

// EnsureIdentity makes sure an identity row exists for p, creating it when
// missing, and re-reads it before returning.
func (g *Guard) EnsureIdentity(ctx context.Context, p Principal) error {
	exists, err := g.identities.IdentityExists(ctx, p.ID())
	if err != nil {
		metrics.IdentityEnsuresTotal.WithLabelValues("error").Inc()

		return Wrap(KindConsistency, "looking up identity row", err)
	}

	if exists {
		metrics.IdentityEnsuresTotal.WithLabelValues("present").Inc()

		return nil
	}

	email, err := g.identityEmail(ctx, p)
	if err != nil {
		metrics.IdentityEnsuresTotal.WithLabelValues("error").Inc()

		return Wrap(KindConsistency, "deriving identity email", err)
	}

	if err := g.identities.EnsureIdentity(
		ctx, p.ID(), email, string(p.Source()),
	); err != nil {
		metrics.IdentityEnsuresTotal.WithLabelValues("error").Inc()

		return Wrap(KindConsistency, "inserting identity row", err)
	}

	exists, err = g.identities.IdentityExists(ctx, p.ID())
	if err != nil {
		metrics.IdentityEnsuresTotal.WithLabelValues("error").Inc()

		return Wrap(KindConsistency, "re-reading identity row", err)
	}

	if !exists {
		metrics.IdentityEnsuresTotal.WithLabelValues("missing").Inc()

		return Wrap(KindConsistency, "identity row missing after ensure",
			fmt.Errorf("principal %q", p.ID()))
	}

	metrics.IdentityEnsuresTotal.WithLabelValues("created").Inc()

	g.log.WithField("principal", p.ID()).
		WithField("source", p.Source()).
		Debug("Created identity row")

	return nil
}

func (g *Guard) identityEmail(ctx context.Context, p Principal) (string, error) {
	switch v := p.(type) {
	case FederatedPrincipal:
		return v.Email, nil
	case LocalPrincipal:
		contact, err := g.identities.LocalContactEmail(ctx, v.UID)
		if err != nil {
			return "", err
		}

		if contact != "" {
			return contact, nil
		}

		return PlaceholderEmail(v.Username, g.placeholderDomain), nil
	default:
		return "", fmt.Errorf("unsupported principal type %T", p)
	}
}

// PlaceholderEmail synthesizes an email-like label for a local username.
func PlaceholderEmail(username, domain string) string {
	return strings.ToLower(strings.TrimSpace(username)) + "@" + domain
}

func (g *Guard) reject(outcome string, err error) error {
	metrics.GuardDecisionsTotal.WithLabelValues(outcome).Inc()

	return err
}
