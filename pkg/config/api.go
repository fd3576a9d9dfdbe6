package config

// APIConfig contains all API server configuration.
type APIConfig struct {
	Server   APIServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     APIAuthConfig     `yaml:"auth" mapstructure:"auth"`
	Database APIDatabaseConfig `yaml:"database" mapstructure:"database"`
	Storage  APIStorageConfig  `yaml:"storage,omitempty" mapstructure:"storage"`
	Push     APIPushConfig     `yaml:"push" mapstructure:"push"`
}

// APIPushConfig controls how long push subscriptions are kept. Browsers
// re-register live endpoints, so a subscription that has not been refreshed
// within Retention is pruned. An empty or zero Retention disables pruning.
type APIPushConfig struct {
	Retention     string `yaml:"retention" mapstructure:"retention"`
	PruneInterval string `yaml:"prune_interval" mapstructure:"prune_interval"`
}

// APIStorageConfig contains storage backend settings for shared files.
// Only one backend (S3 or local) may be enabled at a time.
type APIStorageConfig struct {
	MaxUploadSize string                 `yaml:"max_upload_size,omitempty" mapstructure:"max_upload_size"`
	S3            *APIS3Config           `yaml:"s3,omitempty" mapstructure:"s3"`
	Local         *APILocalStorageConfig `yaml:"local,omitempty" mapstructure:"local"`
}

// APILocalStorageConfig stores shared files under a directory on the local
// filesystem.
type APILocalStorageConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Root    string `yaml:"root" mapstructure:"root"`
	// Owner optionally chowns stored files, as "UID:GID".
	Owner string `yaml:"owner,omitempty" mapstructure:"owner"`
}

// APIS3Config contains S3 settings for shared file storage.
type APIS3Config struct {
	Enabled         bool                    `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string                  `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string                  `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string                  `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string                  `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string                  `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string                  `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool                    `yaml:"force_path_style" mapstructure:"force_path_style"`
	PresignedURLs   APIS3PresignedURLConfig `yaml:"presigned_urls,omitempty" mapstructure:"presigned_urls"`
}

// APIS3PresignedURLConfig contains presigned URL generation settings.
type APIS3PresignedURLConfig struct {
	Expiry string `yaml:"expiry,omitempty" mapstructure:"expiry"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	// TrustedProxies lists proxy addresses or CIDRs whose X-Forwarded-For
	// header is honoured when identifying the client.
	TrustedProxies []string `yaml:"trusted_proxies,omitempty" mapstructure:"trusted_proxies"`
}

// RateLimitConfig configures rate limiting. The auth tier is keyed by client
// IP, the authenticated tier by principal.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Auth          RateLimitTier `yaml:"auth,omitempty" mapstructure:"auth"`
	Authenticated RateLimitTier `yaml:"authenticated,omitempty" mapstructure:"authenticated"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig contains authentication settings.
type APIAuthConfig struct {
	// SessionSecret keys the HMAC over local session tokens. Required in
	// production.
	SessionSecret string `yaml:"session_secret,omitempty" mapstructure:"session_secret"`

	// AdminEmail classifies a federated principal as admin.
	AdminEmail           string `yaml:"admin_email,omitempty" mapstructure:"admin_email"`
	AdminEmailIgnoreCase bool   `yaml:"admin_email_ignore_case" mapstructure:"admin_email_ignore_case"`

	Local     LocalAuthConfig     `yaml:"local,omitempty" mapstructure:"local"`
	Federated FederatedAuthConfig `yaml:"federated,omitempty" mapstructure:"federated"`
}

// LocalAuthConfig configures username/password credentials stored locally.
type LocalAuthConfig struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	AllowSignup bool `yaml:"allow_signup" mapstructure:"allow_signup"`

	// AdminPassword seeds the reserved admin credential on first start.
	AdminPassword string `yaml:"admin_password,omitempty" mapstructure:"admin_password"`

	// PlaceholderEmailDomain is used to label identity rows of local users
	// without a contact email.
	PlaceholderEmailDomain string `yaml:"placeholder_email_domain,omitempty" mapstructure:"placeholder_email_domain"`
}

// FederatedAuthConfig configures the hosted OpenID Connect provider.
type FederatedAuthConfig struct {
	Enabled      bool     `yaml:"enabled" mapstructure:"enabled"`
	IssuerURL    string   `yaml:"issuer_url,omitempty" mapstructure:"issuer_url"`
	ClientID     string   `yaml:"client_id,omitempty" mapstructure:"client_id"`
	ClientSecret string   `yaml:"client_secret,omitempty" mapstructure:"client_secret"`
	RedirectURL  string   `yaml:"redirect_url,omitempty" mapstructure:"redirect_url"`
	Scopes       []string `yaml:"scopes,omitempty" mapstructure:"scopes"`
	// PasswordGrant enables email/password sign-in against the provider.
	PasswordGrant bool `yaml:"password_grant" mapstructure:"password_grant"`
	// AccountURL is the provider page where users manage their password.
	// Defaults to the issuer URL.
	AccountURL string `yaml:"account_url,omitempty" mapstructure:"account_url"`
}

// APIDatabaseConfig contains database connection settings.
type APIDatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}
