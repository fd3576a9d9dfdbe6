package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ethpandaops/teamspace/pkg/auth"
	"github.com/ethpandaops/teamspace/pkg/metrics"
)

const (
	oauthStateCookie = "fed_oauth_state"
	oauthNonceCookie = "fed_oauth_nonce"
	oauthStateBytes  = 16
	oauthStateMaxAge = 600
)

type federatedLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type federatedPasswordRequest struct {
	CurrentPassword string `json:"current_password"`
}

// generateState creates a random hex value for OAuth state and nonce.
func generateState() (string, error) {
	b := make([]byte, oauthStateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}

	return hex.EncodeToString(b), nil
}

func setShortLivedCookie(w http.ResponseWriter, r *http.Request, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   oauthStateMaxAge,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// handleFederatedLogin starts the authorization-code flow at the provider.
func (s *server) handleFederatedLogin(w http.ResponseWriter, r *http.Request) {
	state, err := generateState()
	if err != nil {
		s.writeError(w, r, auth.Wrap(auth.KindUpstream, "generating oauth state", err))

		return
	}

	nonce, err := generateState()
	if err != nil {
		s.writeError(w, r, auth.Wrap(auth.KindUpstream, "generating oauth nonce", err))

		return
	}

	setShortLivedCookie(w, r, oauthStateCookie, state)
	setShortLivedCookie(w, r, oauthNonceCookie, nonce)

	http.Redirect(w, r, s.federation.AuthCodeURL(state, nonce), http.StatusTemporaryRedirect)
}

// handleFederatedCallback completes the code flow and stores the provider
// session. Failures always redirect since the browser navigated here.
func (s *server) handleFederatedCallback(w http.ResponseWriter, r *http.Request) {
	fail := func(err error) {
		metrics.LoginAttemptsTotal.WithLabelValues("federated", "error").Inc()

		s.log.WithError(err).Warn("Federated sign-in failed")

		_, kind, msg := classify(err)
		s.redirectWithError(w, r, kind, msg)
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" {
		fail(auth.Errorf(auth.KindValidation, "missing oauth state"))

		return
	}

	nonceCookie, err := r.Cookie(oauthNonceCookie)
	if err != nil || nonceCookie.Value == "" {
		fail(auth.Errorf(auth.KindValidation, "missing oauth nonce"))

		return
	}

	clearCookie(w, oauthStateCookie)
	clearCookie(w, oauthNonceCookie)

	query := r.URL.Query()

	if query.Get("state") != stateCookie.Value {
		fail(auth.Errorf(auth.KindForbidden, "invalid oauth state"))

		return
	}

	if providerErr := query.Get("error"); providerErr != "" {
		fail(auth.Errorf(auth.KindForbidden, "sign-in was declined: %s", providerErr))

		return
	}

	code := query.Get("code")
	if code == "" {
		fail(auth.Errorf(auth.KindValidation, "missing authorization code"))

		return
	}

	login, err := s.federation.Exchange(r.Context(), code, nonceCookie.Value)
	if err != nil {
		fail(err)

		return
	}

	auth.SetFederatedSession(w, r, login.RawIDToken, login.Session.ExpiresAt)

	metrics.LoginAttemptsTotal.WithLabelValues("federated", "success").Inc()

	s.log.WithField("email", login.Session.Email).Info("Federated sign-in")

	http.Redirect(w, r, homeViewPath, http.StatusSeeOther)
}

// handleFederatedPasswordLogin signs in with email and password at the
// provider.
func (s *server) handleFederatedPasswordLogin(w http.ResponseWriter, r *http.Request) {
	var req federatedLoginRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	if err := required(
		[2]string{"email", req.Email},
		[2]string{"password", req.Password},
	); err != nil {
		s.writeError(w, r, err)

		return
	}

	login, err := s.federation.PasswordLogin(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		result := "error"
		if errors.Is(err, auth.ErrBadCredentials) {
			result = "bad_credentials"
		}

		metrics.LoginAttemptsTotal.WithLabelValues("federated", result).Inc()
		s.writeError(w, r, err)

		return
	}

	auth.SetFederatedSession(w, r, login.RawIDToken, login.Session.ExpiresAt)

	metrics.LoginAttemptsTotal.WithLabelValues("federated", "success").Inc()

	respond(w, r, http.StatusOK, toPrincipalResponse(s.resolver.Federated(&login.Session)))
}

// handleFederatedPassword sends a federated user to the provider's account
// page to change their password. When the password grant is enabled the
// current password is checked first.
func (s *server) handleFederatedPassword(w http.ResponseWriter, r *http.Request) {
	var req federatedPasswordRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, r, err)

		return
	}

	var accountURL string

	err := s.guard.Do(r.Context(), auth.Requirement{}, func(ctx context.Context, p auth.Principal) error {
		fed, ok := p.(auth.FederatedPrincipal)
		if !ok {
			return auth.Errorf(auth.KindForbidden,
				"only federated accounts change their password at the provider")
		}

		if s.cfg.API.Auth.Federated.PasswordGrant {
			if err := required([2]string{"current_password", req.CurrentPassword}); err != nil {
				return err
			}

			if _, err := s.federation.PasswordLogin(ctx, fed.Email, req.CurrentPassword); err != nil {
				return err
			}
		}

		accountURL = s.cfg.API.Auth.Federated.AccountURL

		return nil
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if isFormRequest(r) {
		http.Redirect(w, r, accountURL, http.StatusSeeOther)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": accountURL})
}
