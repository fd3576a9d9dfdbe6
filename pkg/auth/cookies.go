package auth

import (
	"net/http"
	"time"

	"github.com/ethpandaops/teamspace/pkg/auth/token"
)

// Cookie names.
const (
	LocalSessionCookie        = "local_session"
	LocalSessionPresentCookie = "local_session_present"
	FederatedSessionCookie    = "fed_session"
)

// SetLocalSession writes the local session token cookie and its companion
// presence marker readable by client-side code.
func SetLocalSession(w http.ResponseWriter, r *http.Request, signed string) {
	maxAge := int(token.DefaultTTL.Seconds())

	http.SetCookie(w, &http.Cookie{
		Name:     LocalSessionCookie,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   maxAge,
	})

	http.SetCookie(w, &http.Cookie{
		Name:     LocalSessionPresentCookie,
		Value:    "1",
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   maxAge,
	})
}

// SetFederatedSession stores the provider's raw ID token until it expires.
func SetFederatedSession(
	w http.ResponseWriter,
	r *http.Request,
	rawIDToken string,
	expiresAt time.Time,
) {
	http.SetCookie(w, &http.Cookie{
		Name:     FederatedSessionCookie,
		Value:    rawIDToken,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
	})
}

// ClearSessions expires every session cookie.
func ClearSessions(w http.ResponseWriter) {
	for _, name := range []string{
		LocalSessionCookie,
		LocalSessionPresentCookie,
		FederatedSessionCookie,
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			HttpOnly: name != LocalSessionPresentCookie,
			MaxAge:   -1,
		})
	}
}
