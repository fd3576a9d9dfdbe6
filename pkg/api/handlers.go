package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ethpandaops/teamspace/pkg/api/storage"
	"github.com/ethpandaops/teamspace/pkg/api/store"
	"github.com/ethpandaops/teamspace/pkg/auth"
	"github.com/go-chi/chi/v5"
	"github.com/mitchellh/mapstructure"
)

const (
	// loginViewPath is where form-style requests are sent on failure.
	loginViewPath = "/login"
	// homeViewPath is where form-style sign-ins land on success.
	homeViewPath = "/"

	maxJSONBodyBytes = 1 << 20
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// isFormRequest reports whether the request was submitted by an HTML form
// and expects redirects rather than JSON.
func isFormRequest(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}

	return mediaType == "application/x-www-form-urlencoded"
}

// classify maps an error onto a status code, kind and user-facing message.
func classify(err error) (int, auth.Kind, string) {
	var authErr *auth.Error

	switch {
	case errors.As(err, &authErr):
		msg := authErr.Message

		switch authErr.Kind {
		case auth.KindUnauthorized:
			return http.StatusUnauthorized, authErr.Kind, msg
		case auth.KindForbidden:
			return http.StatusForbidden, authErr.Kind, msg
		case auth.KindBadCredentials:
			return http.StatusUnauthorized, authErr.Kind, auth.ErrBadCredentials.Message
		case auth.KindValidation:
			return http.StatusBadRequest, authErr.Kind, msg
		case auth.KindConsistency:
			return http.StatusInternalServerError, authErr.Kind, auth.ErrConsistency.Message
		default:
			return http.StatusBadGateway, auth.KindUpstream, auth.ErrUpstream.Message
		}
	case errors.Is(err, store.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "", "not found"
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "", "already exists"
	case errors.Is(err, store.ErrInvalidReference):
		return http.StatusBadRequest, auth.KindValidation, "referenced user does not exist"
	default:
		return http.StatusBadGateway, auth.KindUpstream, auth.ErrUpstream.Message
	}
}

// writeError renders err as JSON, or as a redirect to the login view for
// form-style requests.
func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind, msg := classify(err)

	log := s.log.WithError(err).
		WithField("method", r.Method).
		WithField("path", r.URL.Path).
		WithField("status", status)

	switch {
	case kind == auth.KindConsistency:
		log.Error("Write aborted: identity consistency check failed")
	case status >= http.StatusInternalServerError:
		log.Error("Request failed")
	default:
		log.Debug("Request rejected")
	}

	if isFormRequest(r) {
		s.redirectWithError(w, r, kind, msg)

		return
	}

	writeJSON(w, status, errorResponse{Error: msg, Kind: string(kind)})
}

// redirectWithError sends the browser to the login view with the failure
// kind and a human-readable message.
func (s *server) redirectWithError(
	w http.ResponseWriter, r *http.Request, kind auth.Kind, msg string,
) {
	if kind == "" {
		kind = auth.KindValidation
	}

	q := url.Values{
		"error":   {string(kind)},
		"message": {msg},
	}

	http.Redirect(w, r, loginViewPath+"?"+q.Encode(), http.StatusSeeOther)
}

// respond writes a success payload, or redirects form-style requests to
// the home view.
func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if isFormRequest(r) {
		http.Redirect(w, r, homeViewPath, http.StatusSeeOther)

		return
	}

	writeJSON(w, status, v)
}

// decodeRequest reads a JSON or form-encoded body into dst. Form fields are
// matched on the json tag names of dst.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) error {
	if isFormRequest(r) {
		if err := r.ParseForm(); err != nil {
			return auth.Errorf(auth.KindValidation, "invalid form body")
		}

		values := make(map[string]any, len(r.PostForm))
		for k, v := range r.PostForm {
			if len(v) == 1 {
				values[k] = v[0]
			} else {
				values[k] = v
			}
		}

		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			TagName:          "json",
			WeaklyTypedInput: true,
			Result:           dst,
		})
		if err != nil {
			return fmt.Errorf("creating form decoder: %w", err)
		}

		if err := decoder.Decode(values); err != nil {
			return auth.Errorf(auth.KindValidation, "invalid form body")
		}

		return nil
	}

	body := http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return auth.Errorf(auth.KindValidation, "invalid request body")
	}

	return nil
}

// required returns a validation error naming the first empty field.
func required(fields ...[2]string) error {
	for _, f := range fields {
		if strings.TrimSpace(f[1]) == "" {
			return auth.Errorf(auth.KindValidation, "%s is required", f[0])
		}
	}

	return nil
}

func parseIDParam(r *http.Request) (uint, error) {
	idStr := chi.URLParam(r, "id")
	if idStr == "" {
		return 0, auth.Errorf(auth.KindValidation, "id parameter is required")
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, auth.Errorf(auth.KindValidation, "invalid id %q", idStr)
	}

	return uint(id), nil
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig returns the public auth and storage configuration.
func (s *server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	authCfg := s.cfg.API.Auth

	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{
			"local_enabled":     authCfg.Local.Enabled,
			"allow_signup":      authCfg.Local.Enabled && authCfg.Local.AllowSignup,
			"federated_enabled": s.federation != nil,
			"password_grant":    s.federation != nil && authCfg.Federated.PasswordGrant,
		},
		"files": map[string]any{
			"enabled":          s.files != nil,
			"max_upload_bytes": s.maxUploadBytes,
		},
	})
}

// --- Session handlers ---

type principalResponse struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Role     string `json:"role"`
	Label    string `json:"label"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
}

func toPrincipalResponse(p auth.Principal) principalResponse {
	resp := principalResponse{
		ID:     p.ID(),
		Source: string(p.Source()),
		Role:   string(p.Role()),
		Label:  p.Label(),
	}

	switch v := p.(type) {
	case auth.LocalPrincipal:
		resp.Username = v.Username
	case auth.FederatedPrincipal:
		resp.Email = v.Email
	}

	return resp
}

// handleMe returns the current principal.
func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toPrincipalResponse(principal(r)))
}

// handleLogout clears every session cookie. Form-style requests go back to
// the login view.
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessions(w)

	if isFormRequest(r) {
		http.Redirect(w, r, loginViewPath, http.StatusSeeOther)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
