package auth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type identityRow struct {
	email  string
	source string
}

type fakeIdentities struct {
	mu        sync.Mutex
	rows      map[string]identityRow
	contacts  map[string]string
	inserts   int
	dropWrite bool
	lookupErr error
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{
		rows:     make(map[string]identityRow),
		contacts: make(map[string]string),
	}
}

func (f *fakeIdentities) IdentityExists(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lookupErr != nil {
		return false, f.lookupErr
	}

	_, ok := f.rows[id]

	return ok, nil
}

func (f *fakeIdentities) EnsureIdentity(_ context.Context, id, email, source string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inserts++

	if f.dropWrite {
		return nil
	}

	if _, ok := f.rows[id]; !ok {
		f.rows[id] = identityRow{email: email, source: source}
	}

	return nil
}

func (f *fakeIdentities) LocalContactEmail(_ context.Context, uid string) (string, error) {
	return f.contacts[uid], nil
}

func guardCtx(p Principal) context.Context {
	return WithPrincipal(context.Background(), p)
}

func TestGuard_Unauthorized(t *testing.T) {
	g := NewGuard(logrus.New(), newFakeIdentities(), "")

	called := false
	err := g.Do(context.Background(), Requirement{}, func(context.Context, Principal) error {
		called = true

		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, called)
}

func TestGuard_Admin(t *testing.T) {
	g := NewGuard(logrus.New(), newFakeIdentities(), "")

	tests := []struct {
		name    string
		p       Principal
		allowed bool
	}{
		{name: "local admin", p: NewLocalPrincipal("u0", "admin", RoleAdmin), allowed: true},
		{name: "local member", p: NewLocalPrincipal("u1", "alice", RoleMember), allowed: false},
		{name: "local admin role, other username", p: NewLocalPrincipal("u2", "root", RoleAdmin), allowed: false},
		{name: "federated admin", p: NewFederatedPrincipal("s1", "boss@example.com", RoleAdmin), allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			err := g.Do(guardCtx(tt.p), Requirement{Admin: true},
				func(context.Context, Principal) error {
					called = true

					return nil
				})

			assert.Equal(t, tt.allowed, called)

			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

func TestGuard_SelfService(t *testing.T) {
	g := NewGuard(logrus.New(), newFakeIdentities(), "")

	tests := []struct {
		name    string
		p       Principal
		target  string
		allowed bool
	}{
		{name: "own account", p: NewLocalPrincipal("u1", "alice", RoleMember), target: "alice", allowed: true},
		{name: "other account", p: NewLocalPrincipal("u1", "alice", RoleMember), target: "bob", allowed: false},
		{name: "reserved admin by admin", p: NewLocalPrincipal("u0", "admin", RoleAdmin), target: "admin", allowed: false},
		{name: "reserved admin by member", p: NewLocalPrincipal("u1", "alice", RoleMember), target: "admin", allowed: false},
		{name: "reserved admin by federated admin", p: NewFederatedPrincipal("s1", "boss@example.com", RoleAdmin), target: "admin", allowed: false},
		{name: "federated caller", p: NewFederatedPrincipal("s1", "alice@example.com", RoleMember), target: "alice", allowed: false},
		{name: "empty target", p: NewLocalPrincipal("u1", "alice", RoleMember), target: "", allowed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			err := g.Do(guardCtx(tt.p), Requirement{SelfService: true, TargetUsername: tt.target},
				func(context.Context, Principal) error {
					called = true

					return nil
				})

			assert.Equal(t, tt.allowed, called)

			if !tt.allowed {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}
}

func TestGuard_Owner(t *testing.T) {
	g := NewGuard(logrus.New(), newFakeIdentities(), "")
	ownerB := func(context.Context) (string, error) { return "principal-b", nil }

	t.Run("non-owner rejected", func(t *testing.T) {
		called := false
		err := g.Do(guardCtx(NewLocalPrincipal("principal-a", "alice", RoleAdmin)),
			Requirement{Owner: ownerB},
			func(context.Context, Principal) error {
				called = true

				return nil
			})

		assert.ErrorIs(t, err, ErrForbidden)
		assert.False(t, called)
	})

	t.Run("owner allowed", func(t *testing.T) {
		err := g.Do(guardCtx(NewFederatedPrincipal("principal-b", "b@example.com", RoleMember)),
			Requirement{Owner: ownerB},
			func(context.Context, Principal) error { return nil })

		assert.NoError(t, err)
	})

	t.Run("lookup error propagates", func(t *testing.T) {
		lookupErr := errors.New("room not found")

		err := g.Do(guardCtx(NewLocalPrincipal("principal-a", "alice", RoleMember)),
			Requirement{Owner: func(context.Context) (string, error) { return "", lookupErr }},
			func(context.Context, Principal) error { return nil })

		assert.ErrorIs(t, err, lookupErr)
	})
}

func TestGuard_AuthorOrAdmin(t *testing.T) {
	g := NewGuard(logrus.New(), newFakeIdentities(), "")
	author := func(context.Context) (string, error) { return "u1", nil }

	write := func(context.Context, Principal) error { return nil }

	assert.NoError(t, g.Do(guardCtx(NewLocalPrincipal("u1", "alice", RoleMember)),
		Requirement{AuthorOrAdmin: author}, write))
	assert.NoError(t, g.Do(guardCtx(NewFederatedPrincipal("s9", "boss@example.com", RoleAdmin)),
		Requirement{AuthorOrAdmin: author}, write))
	assert.ErrorIs(t, g.Do(guardCtx(NewLocalPrincipal("u2", "bob", RoleMember)),
		Requirement{AuthorOrAdmin: author}, write), ErrForbidden)
}

func TestGuard_AccessRunsBeforeIdentityEnsure(t *testing.T) {
	ids := newFakeIdentities()
	g := NewGuard(logrus.New(), ids, "")
	membersOnly := func(_ context.Context, p Principal) error {
		if p.ID() != "u1" {
			return Errorf(KindForbidden, "not a member of this room")
		}

		return nil
	}

	called := false
	err := g.Do(guardCtx(NewLocalPrincipal("u2", "bob", RoleMember)),
		Requirement{Access: membersOnly, EnsureIdentity: true},
		func(context.Context, Principal) error {
			called = true

			return nil
		})

	assert.ErrorIs(t, err, ErrForbidden)
	assert.False(t, called)
	assert.Zero(t, ids.inserts)
	assert.NotContains(t, ids.rows, "u2")

	require.NoError(t, g.Do(guardCtx(NewLocalPrincipal("u1", "alice", RoleMember)),
		Requirement{Access: membersOnly, EnsureIdentity: true},
		func(context.Context, Principal) error { return nil }))
	assert.Contains(t, ids.rows, "u1")
}

func TestGuard_EnsureIdentity_Federated(t *testing.T) {
	ids := newFakeIdentities()
	g := NewGuard(logrus.New(), ids, "")
	p := NewFederatedPrincipal("sub-1", "carol@example.com", RoleMember)

	writes := 0
	write := func(context.Context, Principal) error {
		writes++

		return nil
	}

	require.NoError(t, g.Do(guardCtx(p), Requirement{EnsureIdentity: true}, write))
	require.NoError(t, g.Do(guardCtx(p), Requirement{EnsureIdentity: true}, write))

	assert.Equal(t, 2, writes)
	assert.Equal(t, 1, ids.inserts)
	assert.Equal(t, identityRow{email: "carol@example.com", source: "federated"}, ids.rows["sub-1"])
}

func TestGuard_EnsureIdentity_LocalEmail(t *testing.T) {
	ids := newFakeIdentities()
	ids.contacts["u2"] = "bob@corp.example"

	g := NewGuard(logrus.New(), ids, "people.test")

	require.NoError(t, g.EnsureIdentity(context.Background(), NewLocalPrincipal("u1", "Alice", RoleMember)))
	require.NoError(t, g.EnsureIdentity(context.Background(), NewLocalPrincipal("u2", "bob", RoleMember)))

	assert.Equal(t, "alice@people.test", ids.rows["u1"].email)
	assert.Equal(t, "bob@corp.example", ids.rows["u2"].email)
	assert.Equal(t, "local", ids.rows["u1"].source)
}

func TestGuard_EnsureIdentity_Abort(t *testing.T) {
	t.Run("row still missing", func(t *testing.T) {
		ids := newFakeIdentities()
		ids.dropWrite = true

		g := NewGuard(logrus.New(), ids, "")

		called := false
		err := g.Do(guardCtx(NewLocalPrincipal("u1", "alice", RoleMember)),
			Requirement{EnsureIdentity: true},
			func(context.Context, Principal) error {
				called = true

				return nil
			})

		assert.ErrorIs(t, err, ErrConsistency)
		assert.False(t, called)
	})

	t.Run("lookup failure", func(t *testing.T) {
		ids := newFakeIdentities()
		ids.lookupErr = errors.New("db down")

		g := NewGuard(logrus.New(), ids, "")

		err := g.Do(guardCtx(NewLocalPrincipal("u1", "alice", RoleMember)),
			Requirement{EnsureIdentity: true},
			func(context.Context, Principal) error { return nil })

		assert.Equal(t, KindConsistency, KindOf(err))
	})
}

func TestGuard_WriteErrorReturned(t *testing.T) {
	g := NewGuard(logrus.New(), newFakeIdentities(), "")
	writeErr := errors.New("constraint violated")

	err := g.Do(guardCtx(NewLocalPrincipal("u1", "alice", RoleMember)), Requirement{},
		func(context.Context, Principal) error { return writeErr })

	assert.ErrorIs(t, err, writeErr)
}

func TestErrorKinds(t *testing.T) {
	err := Errorf(KindForbidden, "nope")

	assert.ErrorIs(t, err, ErrForbidden)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, KindForbidden, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))

	cause := errors.New("boom")
	wrapped := Wrap(KindConsistency, "ensuring", cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.ErrorIs(t, wrapped, ErrConsistency)
}
