package auth

import (
	"context"
	"net/http"
	"time"
)

// FederatedSession is the part of a hosted identity provider session the
// resolver needs.
type FederatedSession struct {
	Subject   string
	Email     string
	ExpiresAt time.Time
}

// IdentityProvider looks up the federated session tied to a request.
// Implementations return (nil, nil) when the request carries none.
type IdentityProvider interface {
	Session(ctx context.Context, r *http.Request) (*FederatedSession, error)
}

// noopProvider is used when federated sign-in is disabled.
type noopProvider struct{}

func (noopProvider) Session(context.Context, *http.Request) (*FederatedSession, error) {
	return nil, nil
}

// NoFederation is an IdentityProvider that never finds a session.
var NoFederation IdentityProvider = noopProvider{}
