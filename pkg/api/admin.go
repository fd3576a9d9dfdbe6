package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/ethpandaops/teamspace/pkg/api/store"
	"github.com/ethpandaops/teamspace/pkg/auth"
	"github.com/ethpandaops/teamspace/pkg/auth/password"
	"github.com/go-chi/chi/v5"
)

// --- Local credential administration ---

type createCredentialRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	Role         string `json:"role"`
	ContactEmail string `json:"contact_email,omitempty"`
}

type updateCredentialRequest struct {
	Password     *string `json:"password,omitempty"`
	Role         *string `json:"role,omitempty"`
	ContactEmail *string `json:"contact_email,omitempty"`
}

var adminOnly = auth.Requirement{Admin: true}

func parseRoleParam(role string) (string, error) {
	switch auth.Role(role) {
	case "":
		return string(auth.RoleMember), nil
	case auth.RoleAdmin, auth.RoleMember:
		return role, nil
	default:
		return "", auth.Errorf(auth.KindValidation, "role must be %q or %q",
			auth.RoleAdmin, auth.RoleMember)
	}
}

// handleListCredentials returns all local credentials.
func (s *server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	var creds []store.LocalCredential

	err := s.guard.Do(r.Context(), adminOnly, func(ctx context.Context, _ auth.Principal) error {
		var err error

		creds, err = s.store.ListCredentials(ctx)

		return err
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, creds)
}

// handleCreateCredential creates a local credential on behalf of a user.
func (s *server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var req createCredentialRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	req.Username = strings.TrimSpace(req.Username)

	var cred *store.LocalCredential

	err := s.guard.Do(r.Context(), adminOnly, func(ctx context.Context, _ auth.Principal) error {
		if err := required(
			[2]string{"username", req.Username},
			[2]string{"password", req.Password},
		); err != nil {
			return err
		}

		if err := validateUsername(req.Username); err != nil {
			return err
		}

		role, err := parseRoleParam(req.Role)
		if err != nil {
			return err
		}

		hashed, err := password.Hash(req.Password, nil)
		if err != nil {
			return auth.Wrap(auth.KindUpstream, "hashing password", err)
		}

		cred = &store.LocalCredential{
			Username:     req.Username,
			PasswordHash: hashed.Hash,
			Salt:         hashed.Salt,
			Role:         role,
		}

		if email := strings.TrimSpace(req.ContactEmail); email != "" {
			cred.ContactEmail = &email
		}

		return s.store.CreateCredential(ctx, cred)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.log.WithField("username", cred.Username).Info("Local credential created by admin")

	writeJSON(w, http.StatusCreated, cred)
}

// loadManagedCredential loads the credential named by the id URL parameter and
// refuses to touch the reserved admin record.
func (s *server) loadManagedCredential(
	ctx context.Context, r *http.Request,
) (*store.LocalCredential, error) {
	cred, err := s.store.GetCredentialByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}

	if cred.Username == auth.ReservedAdminUsername {
		return nil, auth.Errorf(auth.KindForbidden,
			"the %q account cannot be modified here", auth.ReservedAdminUsername)
	}

	return cred, nil
}

// handleUpdateCredential resets a password or changes the role or contact
// email of a credential.
func (s *server) handleUpdateCredential(w http.ResponseWriter, r *http.Request) {
	var req updateCredentialRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	var cred *store.LocalCredential

	err := s.guard.Do(r.Context(), adminOnly, func(ctx context.Context, _ auth.Principal) error {
		var err error

		cred, err = s.loadManagedCredential(ctx, r)
		if err != nil {
			return err
		}

		if req.Role != nil {
			role, err := parseRoleParam(*req.Role)
			if err != nil {
				return err
			}

			cred.Role = role
		}

		if req.ContactEmail != nil {
			if email := strings.TrimSpace(*req.ContactEmail); email != "" {
				cred.ContactEmail = &email
			} else {
				cred.ContactEmail = nil
			}
		}

		if req.Password != nil {
			if *req.Password == "" {
				return auth.Errorf(auth.KindValidation, "password must not be empty")
			}

			hashed, err := password.Hash(*req.Password, nil)
			if err != nil {
				return auth.Wrap(auth.KindUpstream, "hashing password", err)
			}

			cred.PasswordHash = hashed.Hash
			cred.Salt = hashed.Salt
		}

		return s.store.UpdateCredential(ctx, cred)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, cred)
}

// handleDeleteCredential removes a credential.
func (s *server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	err := s.guard.Do(r.Context(), adminOnly, func(ctx context.Context, _ auth.Principal) error {
		cred, err := s.loadManagedCredential(ctx, r)
		if err != nil {
			return err
		}

		return s.store.DeleteCredential(ctx, cred.ID)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
