package api

import (
	"net/http"

	"github.com/ethpandaops/teamspace/pkg/metrics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// buildRouter constructs the chi router with all routes and middleware.
func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(s.corsMiddleware())
	r.Use(s.loadPrincipal)
	r.Use(s.requestLogger)

	r.Handle("/metrics", metrics.Handler())

	rateLimit := s.cfg.API.Server.RateLimit

	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints.
		r.Get("/health", s.handleHealth)
		r.Get("/config", s.handleConfig)

		r.Route("/auth", func(r chi.Router) {
			if rateLimit.Enabled {
				r.Use(s.rateLimitMiddleware("auth", rateLimit.Auth, s.clientIPKey))
			}

			r.Post("/logout", s.handleLogout)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAuth)
				r.Get("/me", s.handleMe)
			})

			if s.cfg.API.Auth.Local.Enabled {
				r.Route("/local", func(r chi.Router) {
					r.Post("/signup", s.handleLocalSignup)
					r.Post("/login", s.handleLocalLogin)
					r.Post("/password", s.handleLocalPasswordChange)
					r.Delete("/account", s.handleLocalAccountDelete)
				})
			}

			if s.federation != nil {
				r.Route("/federated", func(r chi.Router) {
					r.Get("/login", s.handleFederatedLogin)
					r.Get("/callback", s.handleFederatedCallback)
					r.Post("/password", s.handleFederatedPassword)

					if s.cfg.API.Auth.Federated.PasswordGrant {
						r.Post("/login", s.handleFederatedPasswordLogin)
					}
				})
			}
		})

		// Everything below needs a principal.
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			if rateLimit.Enabled {
				r.Use(s.rateLimitMiddleware("authenticated", rateLimit.Authenticated, s.principalKey))
			}

			r.Route("/admin/credentials", func(r chi.Router) {
				r.Get("/", s.handleListCredentials)
				r.Post("/", s.handleCreateCredential)
				r.Put("/{id}", s.handleUpdateCredential)
				r.Delete("/{id}", s.handleDeleteCredential)
			})

			r.Route("/boards/{board}/posts", func(r chi.Router) {
				r.Get("/", s.handleListPosts)
				r.Post("/", s.handleCreatePost)
				r.Put("/{id}", s.handleUpdatePost)
				r.Delete("/{id}", s.handleDeletePost)
			})

			r.Get("/posts/{id}/comments", s.handleListComments)
			r.Post("/posts/{id}/comments", s.handleCreateComment)
			r.Post("/posts/{id}/like", s.handleToggleLike)
			r.Delete("/comments/{id}", s.handleDeleteComment)

			r.Route("/events", func(r chi.Router) {
				r.Get("/", s.handleListEvents)
				r.Post("/", s.handleCreateEvent)
				r.Put("/{id}", s.handleUpdateEvent)
				r.Delete("/{id}", s.handleDeleteEvent)
			})

			r.Route("/rooms", func(r chi.Router) {
				r.Get("/", s.handleListRooms)
				r.Post("/", s.handleCreateRoom)
				r.Delete("/{id}", s.handleDeleteRoom)
				r.Get("/{id}/members", s.handleListMembers)
				r.Post("/{id}/members", s.handleAddMembers)
				r.Get("/{id}/messages", s.handleListMessages)
				r.Post("/{id}/messages", s.handleCreateMessage)
			})

			if s.files != nil {
				r.Route("/files", func(r chi.Router) {
					r.Get("/", s.handleListFiles)
					r.Post("/", s.handleUploadFile)
					r.Get("/{id}", s.handleDownloadFile)
					r.Delete("/{id}", s.handleDeleteFile)
				})
			}

			r.Post("/push/subscriptions", s.handleSubscribePush)
			r.Delete("/push/subscriptions", s.handleUnsubscribePush)

			r.Get("/summary", s.handleSummary)
		})
	})

	return r
}

// corsMiddleware returns a CORS handler configured from the API config.
func (s *server) corsMiddleware() func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{"GET", "HEAD", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}

	origins := s.cfg.API.Server.CORSOrigins

	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Reflect the requesting origin so credentials work from any origin.
		opts.AllowOriginFunc = func(_ *http.Request, _ string) bool {
			return true
		}
	} else {
		opts.AllowedOrigins = origins
	}

	return cors.Handler(opts)
}
