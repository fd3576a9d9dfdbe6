package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/ethpandaops/teamspace/pkg/api/pruner"
	"github.com/ethpandaops/teamspace/pkg/api/storage"
	"github.com/ethpandaops/teamspace/pkg/api/store"
	"github.com/ethpandaops/teamspace/pkg/auth"
	"github.com/ethpandaops/teamspace/pkg/auth/password"
	"github.com/ethpandaops/teamspace/pkg/auth/token"
	"github.com/ethpandaops/teamspace/pkg/config"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

// federatedAuthenticator is the part of the hosted identity provider the
// HTTP handlers drive.
type federatedAuthenticator interface {
	auth.IdentityProvider
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (*auth.FederatedLogin, error)
	PasswordLogin(ctx context.Context, email, password string) (*auth.FederatedLogin, error)
}

type server struct {
	log            logrus.FieldLogger
	cfg            *config.Config
	store          store.Store
	files          storage.Backend
	federation     federatedAuthenticator
	signer         *token.Signer
	resolver       *auth.Resolver
	guard          *auth.Guard
	pruner         pruner.Pruner
	maxUploadBytes int64
	trustedProxies []netip.Prefix
	httpServer     *http.Server
	wg             sync.WaitGroup
	done           chan struct{}
}

// NewServer creates a new API server.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
) Server {
	return newServer(log, cfg)
}

func newServer(log logrus.FieldLogger, cfg *config.Config) *server {
	return &server{
		log:  log.WithField("component", "api"),
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Start initializes the store and collaborators, then starts the HTTP
// server.
func (s *server) Start(ctx context.Context) error {
	if err := s.init(ctx); err != nil {
		return err
	}

	retention, interval, err := s.cfg.API.Push.Durations()
	if err != nil {
		return err
	}

	if retention > 0 {
		s.pruner = pruner.NewPruner(s.log, s.store, retention, interval)
		if err := s.pruner.Start(ctx); err != nil {
			return fmt.Errorf("starting push pruner: %w", err)
		}
	}

	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.API.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.API.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.API.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.API.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// init opens the store, seeds the admin credential and wires the auth
// collaborators. Collaborators already set are kept.
func (s *server) init(ctx context.Context) error {
	apiCfg := &s.cfg.API

	maxUpload, err := apiCfg.Storage.MaxUploadBytes()
	if err != nil {
		return err
	}

	s.maxUploadBytes = maxUpload

	s.trustedProxies, err = apiCfg.Server.TrustedProxyPrefixes()
	if err != nil {
		return err
	}

	if s.store == nil {
		s.store = store.NewStore(s.log, &apiCfg.Database)
		if err := s.store.Start(ctx); err != nil {
			return fmt.Errorf("starting store: %w", err)
		}
	}

	if apiCfg.Auth.Local.Enabled && apiCfg.Auth.Local.AdminPassword != "" {
		if err := s.seedAdmin(ctx, apiCfg.Auth.Local.AdminPassword); err != nil {
			return err
		}
	}

	if s.files == nil {
		files, err := storage.New(s.log, &apiCfg.Storage)
		if err != nil {
			return fmt.Errorf("initializing file storage: %w", err)
		}

		s.files = files
	}

	if s.files == nil {
		s.log.Info("File sharing disabled, no storage backend enabled")
	}

	if s.federation == nil && apiCfg.Auth.Federated.Enabled {
		fed := apiCfg.Auth.Federated

		provider, err := auth.NewOIDCProvider(ctx, s.log, auth.OIDCConfig{
			IssuerURL:    fed.IssuerURL,
			ClientID:     fed.ClientID,
			ClientSecret: fed.ClientSecret,
			RedirectURL:  fed.RedirectURL,
			Scopes:       fed.Scopes,
		})
		if err != nil {
			return fmt.Errorf("initializing federated sign-in: %w", err)
		}

		s.federation = provider

		s.log.WithField("issuer", fed.IssuerURL).Info("Federated sign-in enabled")
	}

	secret, err := s.cfg.SessionSecret(s.log)
	if err != nil {
		return err
	}

	s.signer = token.NewSigner(secret)

	var provider auth.IdentityProvider = auth.NoFederation
	if s.federation != nil {
		provider = s.federation
	}

	s.resolver = auth.NewResolver(s.log, provider, s.signer, auth.ResolverConfig{
		AdminEmail:           apiCfg.Auth.AdminEmail,
		AdminEmailIgnoreCase: apiCfg.Auth.AdminEmailIgnoreCase,
	})
	s.guard = auth.NewGuard(s.log, s.store, apiCfg.Auth.Local.PlaceholderEmailDomain)

	return nil
}

func (s *server) seedAdmin(ctx context.Context, adminPassword string) error {
	cred, err := password.Hash(adminPassword, nil)
	if err != nil {
		return fmt.Errorf("hashing admin password: %w", err)
	}

	if _, err := s.store.SeedAdmin(ctx, cred.Hash, cred.Salt); err != nil {
		return fmt.Errorf("seeding admin credential: %w", err)
	}

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.pruner != nil {
		if err := s.pruner.Stop(); err != nil {
			s.log.WithError(err).Warn("Push pruner shutdown error")
		}
	}

	if s.store != nil {
		if err := s.store.Stop(); err != nil {
			return fmt.Errorf("stopping store: %w", err)
		}
	}

	s.log.Info("API server stopped")

	return nil
}
