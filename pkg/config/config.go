package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/ethpandaops/teamspace/pkg/fsutil"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix prefixes environment variable overrides, e.g.
	// TEAMSPACE_API_AUTH_ADMIN_EMAIL overrides api.auth.admin_email.
	EnvPrefix = "TEAMSPACE"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultEnvironment is the default deployment environment.
	DefaultEnvironment = "development"

	// EnvironmentProduction disables insecure defaults.
	EnvironmentProduction = "production"

	// DevelopmentSessionSecret signs local session tokens outside of
	// production when no secret is configured.
	DevelopmentSessionSecret = "teamspace-development-session-secret"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":8080"

	// DefaultSQLitePath is the default SQLite database file.
	DefaultSQLitePath = "./teamspace.db"

	// DefaultMaxUploadSize bounds shared file uploads.
	DefaultMaxUploadSize = "25MB"

	// DefaultPresignExpiry is the lifetime of presigned download URLs.
	DefaultPresignExpiry = "1h"

	// DefaultPushRetention is how long an unrefreshed push subscription is
	// kept (90 days).
	DefaultPushRetention = "2160h"

	// DefaultPushPruneInterval is how often stale push subscriptions are
	// pruned.
	DefaultPushPruneInterval = "1h"

	minProductionSecretLen = 32
)

// Config is the root configuration for teamspace.
type Config struct {
	Global GlobalConfig `yaml:"global" mapstructure:"global"`
	API    APIConfig    `yaml:"api" mapstructure:"api"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel    string `yaml:"log_level" mapstructure:"log_level"`
	Environment string `yaml:"environment" mapstructure:"environment"`
}

// Load reads and merges the configuration files at paths, in order, then
// applies TEAMSPACE_* environment overrides and defaults.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	setDefaults(v)

	for i, path := range paths {
		v.SetConfigFile(path)

		read := v.MergeInConfig
		if i == 0 {
			read = v.ReadInConfig
		}

		if err := read(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("creating config decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// setDefaults registers every key that may be overridden from the
// environment; viper only consults the environment for known keys.
func setDefaults(v *viper.Viper) {
	v.SetDefault("global.log_level", DefaultLogLevel)
	v.SetDefault("global.environment", DefaultEnvironment)

	v.SetDefault("api.server.listen", DefaultListen)
	v.SetDefault("api.server.cors_origins", []string{})
	v.SetDefault("api.server.trusted_proxies", []string{})
	v.SetDefault("api.server.rate_limit.enabled", false)
	v.SetDefault("api.server.rate_limit.auth.requests_per_minute", 10)
	v.SetDefault("api.server.rate_limit.authenticated.requests_per_minute", 600)

	v.SetDefault("api.auth.session_secret", "")
	v.SetDefault("api.auth.admin_email", "")
	v.SetDefault("api.auth.admin_email_ignore_case", false)
	v.SetDefault("api.auth.local.enabled", true)
	v.SetDefault("api.auth.local.allow_signup", true)
	v.SetDefault("api.auth.local.admin_password", "")
	v.SetDefault("api.auth.local.placeholder_email_domain", "")
	v.SetDefault("api.auth.federated.enabled", false)
	v.SetDefault("api.auth.federated.issuer_url", "")
	v.SetDefault("api.auth.federated.client_id", "")
	v.SetDefault("api.auth.federated.client_secret", "")
	v.SetDefault("api.auth.federated.redirect_url", "")
	v.SetDefault("api.auth.federated.scopes", []string{"email", "profile"})
	v.SetDefault("api.auth.federated.password_grant", false)
	v.SetDefault("api.auth.federated.account_url", "")

	v.SetDefault("api.database.driver", "sqlite")
	v.SetDefault("api.database.sqlite.path", DefaultSQLitePath)
	v.SetDefault("api.database.postgres.host", "")
	v.SetDefault("api.database.postgres.port", 5432)
	v.SetDefault("api.database.postgres.user", "")
	v.SetDefault("api.database.postgres.password", "")
	v.SetDefault("api.database.postgres.database", "")
	v.SetDefault("api.database.postgres.ssl_mode", "disable")

	v.SetDefault("api.storage.max_upload_size", DefaultMaxUploadSize)
	v.SetDefault("api.storage.local.enabled", false)
	v.SetDefault("api.storage.local.root", "")
	v.SetDefault("api.storage.local.owner", "")
	v.SetDefault("api.storage.s3.enabled", false)
	v.SetDefault("api.storage.s3.endpoint_url", "")
	v.SetDefault("api.storage.s3.region", "")
	v.SetDefault("api.storage.s3.bucket", "")
	v.SetDefault("api.storage.s3.prefix", "")
	v.SetDefault("api.storage.s3.access_key_id", "")
	v.SetDefault("api.storage.s3.secret_access_key", "")
	v.SetDefault("api.storage.s3.force_path_style", false)
	v.SetDefault("api.storage.s3.presigned_urls.expiry", DefaultPresignExpiry)

	v.SetDefault("api.push.retention", DefaultPushRetention)
	v.SetDefault("api.push.prune_interval", DefaultPushPruneInterval)
}

// applyDefaults fills values that may have been set to empty explicitly.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Global.Environment == "" {
		c.Global.Environment = DefaultEnvironment
	}

	if c.API.Server.Listen == "" {
		c.API.Server.Listen = DefaultListen
	}

	if c.API.Storage.MaxUploadSize == "" {
		c.API.Storage.MaxUploadSize = DefaultMaxUploadSize
	}

	if c.API.Auth.Federated.AccountURL == "" {
		c.API.Auth.Federated.AccountURL = c.API.Auth.Federated.IssuerURL
	}

	if c.API.Push.PruneInterval == "" {
		c.API.Push.PruneInterval = DefaultPushPruneInterval
	}

	if c.API.Storage.S3 != nil && c.API.Storage.S3.PresignedURLs.Expiry == "" {
		c.API.Storage.S3.PresignedURLs.Expiry = DefaultPresignExpiry
	}
}

// IsProduction reports whether insecure defaults are disabled.
func (c *Config) IsProduction() bool {
	return c.Global.Environment == EnvironmentProduction
}

// SessionSecret returns the local session signing key. Outside production
// an unset secret falls back to DevelopmentSessionSecret with a warning; in
// production it is an error.
func (c *Config) SessionSecret(log logrus.FieldLogger) ([]byte, error) {
	if c.API.Auth.SessionSecret != "" {
		return []byte(c.API.Auth.SessionSecret), nil
	}

	if c.IsProduction() {
		return nil, fmt.Errorf("api.auth.session_secret is required in production")
	}

	log.Warn("No session secret configured, using the development default")

	return []byte(DevelopmentSessionSecret), nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("global.log_level: %w", err)
	}

	switch c.Global.Environment {
	case DefaultEnvironment, EnvironmentProduction, "test":
	default:
		return fmt.Errorf("global.environment: unknown environment %q", c.Global.Environment)
	}

	return c.ValidateAPI()
}

// ValidateAPI checks the API section.
func (c *Config) ValidateAPI() error {
	api := &c.API

	if api.Server.Listen == "" {
		return fmt.Errorf("api.server.listen is required")
	}

	if api.Server.RateLimit.Enabled {
		if api.Server.RateLimit.Auth.RequestsPerMinute <= 0 ||
			api.Server.RateLimit.Authenticated.RequestsPerMinute <= 0 {
			return fmt.Errorf("api.server.rate_limit: requests_per_minute must be positive")
		}
	}

	if _, err := api.Server.TrustedProxyPrefixes(); err != nil {
		return err
	}

	if err := c.validateAuth(); err != nil {
		return err
	}

	switch api.Database.Driver {
	case "sqlite":
		if api.Database.SQLite.Path == "" {
			return fmt.Errorf("api.database.sqlite.path is required")
		}
	case "postgres":
		if api.Database.Postgres.Host == "" || api.Database.Postgres.Database == "" {
			return fmt.Errorf("api.database.postgres: host and database are required")
		}
	default:
		return fmt.Errorf("api.database.driver: unsupported driver %q", api.Database.Driver)
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if _, _, err := api.Push.Durations(); err != nil {
		return err
	}

	return nil
}

func (c *Config) validateAuth() error {
	authCfg := &c.API.Auth

	if !authCfg.Local.Enabled && !authCfg.Federated.Enabled {
		return fmt.Errorf("api.auth: at least one of local or federated must be enabled")
	}

	if c.IsProduction() {
		if authCfg.SessionSecret == "" {
			return fmt.Errorf("api.auth.session_secret is required in production")
		}

		if authCfg.SessionSecret == DevelopmentSessionSecret ||
			len(authCfg.SessionSecret) < minProductionSecretLen {
			return fmt.Errorf(
				"api.auth.session_secret must be at least %d characters and not the development default",
				minProductionSecretLen,
			)
		}
	}

	if authCfg.Federated.Enabled {
		fed := authCfg.Federated
		if fed.IssuerURL == "" || fed.ClientID == "" || fed.RedirectURL == "" {
			return fmt.Errorf(
				"api.auth.federated: issuer_url, client_id and redirect_url are required",
			)
		}
	}

	return nil
}

func (c *Config) validateStorage() error {
	storage := &c.API.Storage

	if _, err := storage.MaxUploadBytes(); err != nil {
		return err
	}

	s3Enabled := storage.S3 != nil && storage.S3.Enabled
	localEnabled := storage.Local != nil && storage.Local.Enabled

	if s3Enabled && localEnabled {
		return fmt.Errorf("api.storage: only one of s3 or local may be enabled")
	}

	if s3Enabled && storage.S3.Bucket == "" {
		return fmt.Errorf("api.storage.s3.bucket is required")
	}

	if localEnabled {
		if storage.Local.Root == "" {
			return fmt.Errorf("api.storage.local.root is required")
		}

		if _, err := fsutil.ParseOwner(storage.Local.Owner); err != nil {
			return fmt.Errorf("api.storage.local.owner: %w", err)
		}
	}

	return nil
}

// Durations parses the push retention and prune interval. A zero retention
// means pruning is disabled.
func (p *APIPushConfig) Durations() (retention, interval time.Duration, err error) {
	if p.Retention != "" {
		if retention, err = time.ParseDuration(p.Retention); err != nil {
			return 0, 0, fmt.Errorf("api.push.retention: %w", err)
		}

		if retention < 0 {
			return 0, 0, fmt.Errorf("api.push.retention must not be negative")
		}
	}

	if retention == 0 {
		return 0, 0, nil
	}

	interval, err = time.ParseDuration(p.PruneInterval)
	if err != nil {
		return 0, 0, fmt.Errorf("api.push.prune_interval: %w", err)
	}

	if interval <= 0 {
		return 0, 0, fmt.Errorf("api.push.prune_interval must be positive")
	}

	return retention, interval, nil
}

// TrustedProxyPrefixes parses TrustedProxies. Bare addresses become
// single-host prefixes.
func (s *APIServerConfig) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(s.TrustedProxies))

	for _, entry := range s.TrustedProxies {
		entry = strings.TrimSpace(entry)

		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("api.server.trusted_proxies: %w", err)
			}

			prefixes = append(prefixes, prefix.Masked())

			continue
		}

		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("api.server.trusted_proxies: %w", err)
		}

		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}

	return prefixes, nil
}

// MaxUploadBytes parses MaxUploadSize ("25MB", "1GiB", ...).
func (s *APIStorageConfig) MaxUploadBytes() (int64, error) {
	n, err := units.RAMInBytes(s.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("api.storage.max_upload_size: %w", err)
	}

	if n <= 0 {
		return 0, fmt.Errorf("api.storage.max_upload_size must be positive")
	}

	return n, nil
}

// Redacted returns a copy of the configuration with secrets masked.
func (c *Config) Redacted() *Config {
	out := *c

	mask := func(s *string) {
		if *s != "" {
			*s = "********"
		}
	}

	mask(&out.API.Auth.SessionSecret)
	mask(&out.API.Auth.Local.AdminPassword)
	mask(&out.API.Auth.Federated.ClientSecret)
	mask(&out.API.Database.Postgres.Password)

	if c.API.Storage.S3 != nil {
		s3 := *c.API.Storage.S3
		mask(&s3.SecretAccessKey)
		out.API.Storage.S3 = &s3
	}

	return &out
}

// YAML renders the configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}

	return data, nil
}
