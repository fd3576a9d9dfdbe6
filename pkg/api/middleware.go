package api

import (
	"net/http"
	"time"

	"github.com/ethpandaops/teamspace/pkg/auth"
)

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		log := s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start))

		if p, ok := auth.PrincipalFromContext(r.Context()); ok {
			log = log.WithField("principal", p.ID())
		}

		log.Debug("Request handled")
	})
}

// loadPrincipal resolves the caller and stores the principal in the
// request context. It never rejects a request.
func (s *server) loadPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := s.resolver.Resolve(r.Context(), r)
		if !ok {
			next.ServeHTTP(w, r)

			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// requireAuth rejects requests without a resolved principal.
func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.PrincipalFromContext(r.Context()); !ok {
			s.writeError(w, r, auth.ErrUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// principal returns the caller. Only valid behind requireAuth.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())

	return p
}
