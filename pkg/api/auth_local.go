package api

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/ethpandaops/teamspace/pkg/api/store"
	"github.com/ethpandaops/teamspace/pkg/auth"
	"github.com/ethpandaops/teamspace/pkg/auth/password"
	"github.com/ethpandaops/teamspace/pkg/auth/token"
	"github.com/ethpandaops/teamspace/pkg/metrics"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{1,63}$`)

// Well-formed but unmatchable salt and hash, verified against on unknown
// usernames so both failure paths cost one key derivation.
var (
	unknownUserSalt = strings.Repeat("00", password.SaltBytes)
	unknownUserHash = strings.Repeat("00", password.KeyBytes)
)

type credentialsRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	ContactEmail string `json:"contact_email,omitempty"`
}

type passwordChangeRequest struct {
	Username        string `json:"username"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type accountDeleteRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func validateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return auth.Errorf(auth.KindValidation,
			"username must be 2-64 letters, digits, '.', '_' or '-'")
	}

	return nil
}

// issueLocalSession signs a session token for cred and sets the cookies.
func (s *server) issueLocalSession(
	w http.ResponseWriter, r *http.Request, cred *store.LocalCredential,
) (auth.Principal, error) {
	signed, err := s.signer.Sign(token.Claims{
		UID:      cred.ID,
		Username: cred.Username,
		Role:     cred.Role,
	}, token.DefaultTTL)
	if err != nil {
		return nil, auth.Wrap(auth.KindUpstream, "signing session token", err)
	}

	auth.SetLocalSession(w, r, signed)

	return auth.NewLocalPrincipal(cred.ID, cred.Username, auth.ParseRole(cred.Role)), nil
}

// handleLocalSignup creates a member credential and signs it in.
func (s *server) handleLocalSignup(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.API.Auth.Local.AllowSignup {
		s.writeError(w, r, auth.Errorf(auth.KindForbidden, "sign-up is disabled"))

		return
	}

	var req credentialsRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	req.Username = strings.TrimSpace(req.Username)

	if err := required(
		[2]string{"username", req.Username},
		[2]string{"password", req.Password},
	); err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := validateUsername(req.Username); err != nil {
		s.writeError(w, r, err)

		return
	}

	if strings.EqualFold(req.Username, auth.ReservedAdminUsername) {
		s.writeError(w, r, auth.Errorf(auth.KindForbidden, "this username is reserved"))

		return
	}

	hashed, err := password.Hash(req.Password, nil)
	if err != nil {
		s.writeError(w, r, auth.Wrap(auth.KindUpstream, "hashing password", err))

		return
	}

	cred := &store.LocalCredential{
		Username:     req.Username,
		PasswordHash: hashed.Hash,
		Salt:         hashed.Salt,
		Role:         string(auth.RoleMember),
	}

	if email := strings.TrimSpace(req.ContactEmail); email != "" {
		cred.ContactEmail = &email
	}

	if err := s.store.CreateCredential(r.Context(), cred); err != nil {
		s.writeError(w, r, err)

		return
	}

	p, err := s.issueLocalSession(w, r, cred)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.log.WithField("username", cred.Username).Info("Local account created")

	respond(w, r, http.StatusCreated, toPrincipalResponse(p))
}

// handleLocalLogin verifies a username and password and issues a session.
// Unknown usernames and wrong passwords are indistinguishable.
func (s *server) handleLocalLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := required(
		[2]string{"username", req.Username},
		[2]string{"password", req.Password},
	); err != nil {
		s.writeError(w, r, err)

		return
	}

	cred, err := s.checkLocalPassword(r.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		result := "error"
		if errors.Is(err, auth.ErrBadCredentials) {
			result = "bad_credentials"
		}

		metrics.LoginAttemptsTotal.WithLabelValues("local", result).Inc()
		s.writeError(w, r, err)

		return
	}

	p, err := s.issueLocalSession(w, r, cred)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	metrics.LoginAttemptsTotal.WithLabelValues("local", "success").Inc()

	respond(w, r, http.StatusOK, toPrincipalResponse(p))
}

// checkLocalPassword loads the credential for username and verifies pw.
func (s *server) checkLocalPassword(
	ctx context.Context, username, pw string,
) (*store.LocalCredential, error) {
	cred, err := s.store.GetCredentialByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			password.Verify(pw, unknownUserSalt, unknownUserHash)

			return nil, auth.ErrBadCredentials
		}

		return nil, auth.Wrap(auth.KindUpstream, "loading credential", err)
	}

	if !password.Verify(pw, cred.Salt, cred.PasswordHash) {
		return nil, auth.ErrBadCredentials
	}

	return cred, nil
}

// selfServiceTarget is the username a self-service request acts on. It
// defaults to the caller's own username.
func selfServiceTarget(r *http.Request, requested string) string {
	if target := strings.TrimSpace(requested); target != "" {
		return target
	}

	if local, ok := principal(r).(auth.LocalPrincipal); ok {
		return local.Username
	}

	return ""
}

// handleLocalPasswordChange replaces the caller's password after checking
// the current one.
func (s *server) handleLocalPasswordChange(w http.ResponseWriter, r *http.Request) {
	var req passwordChangeRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := required(
		[2]string{"current_password", req.CurrentPassword},
		[2]string{"new_password", req.NewPassword},
	); err != nil {
		s.writeError(w, r, err)

		return
	}

	target := selfServiceTarget(r, req.Username)

	err := s.guard.Do(r.Context(), auth.Requirement{
		SelfService:    true,
		TargetUsername: target,
	}, func(ctx context.Context, _ auth.Principal) error {
		cred, err := s.checkLocalPassword(ctx, target, req.CurrentPassword)
		if err != nil {
			return err
		}

		hashed, err := password.Hash(req.NewPassword, nil)
		if err != nil {
			return auth.Wrap(auth.KindUpstream, "hashing password", err)
		}

		cred.PasswordHash = hashed.Hash
		cred.Salt = hashed.Salt

		return s.store.UpdateCredential(ctx, cred)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	s.log.WithField("username", target).Info("Local password changed")

	respond(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLocalAccountDelete removes the caller's own credential and ends
// the session.
func (s *server) handleLocalAccountDelete(w http.ResponseWriter, r *http.Request) {
	var req accountDeleteRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := required([2]string{"password", req.Password}); err != nil {
		s.writeError(w, r, err)

		return
	}

	target := selfServiceTarget(r, req.Username)

	err := s.guard.Do(r.Context(), auth.Requirement{
		SelfService:    true,
		TargetUsername: target,
	}, func(ctx context.Context, _ auth.Principal) error {
		cred, err := s.checkLocalPassword(ctx, target, req.Password)
		if err != nil {
			return err
		}

		return s.store.DeleteCredential(ctx, cred.ID)
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	auth.ClearSessions(w)

	s.log.WithField("username", target).Info("Local account deleted")

	respond(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
