package config

import (
	"time"
)

// Default values applied by DefaultConfig.
const (
	DefaultAddress            = ":8080"
	DefaultRoutePrefix        = "/api/proxy"
	DefaultIdentityHeader     = "x-user-id"
	DefaultCredentialCookie   = "token"
	DefaultCredentialHeader   = "Authorization"
	DefaultWhoamiPath         = "/api/auth/me"
	DefaultRemoteTimeout      = 5 * time.Second
	DefaultCacheMaxEntries    = 10000
	DefaultMultipartMemory    = 32 << 20
	DefaultMaxRequestBodySize = 50 << 20
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultAlgorithm          = "HS256"
	DefaultMetricsPath        = "/metrics"
	DefaultServiceName        = "authgw"
)

// Secret source types.
const (
	SecretSourceInline = "inline"
	SecretSourceEnv    = "env"
	SecretSourceFile   = "file"
	SecretSourceVault  = "vault"
)

// GatewayConfig is the root configuration of the gateway.
type GatewayConfig struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Proxy         ProxyConfig         `yaml:"proxy" json:"proxy"`
	Services      map[string]string   `yaml:"services" json:"services"`
	Identity      IdentityConfig      `yaml:"identity" json:"identity"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// ServerConfig configures the inbound HTTP listener.
type ServerConfig struct {
	Address         string   `yaml:"address" json:"address"`
	ReadTimeout     Duration `yaml:"readTimeout,omitempty" json:"readTimeout,omitempty"`
	WriteTimeout    Duration `yaml:"writeTimeout,omitempty" json:"writeTimeout,omitempty"`
	IdleTimeout     Duration `yaml:"idleTimeout,omitempty" json:"idleTimeout,omitempty"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty" json:"shutdownTimeout,omitempty"`

	// MaxRequestBodySize caps inbound bodies in bytes. Zero disables the limit.
	MaxRequestBodySize int64 `yaml:"maxRequestBodySize,omitempty" json:"maxRequestBodySize,omitempty"`
}

// ProxyConfig configures request forwarding.
type ProxyConfig struct {
	// RoutePrefix is the gateway's own path prefix, stripped before forwarding.
	RoutePrefix string `yaml:"routePrefix" json:"routePrefix"`

	// IdentityHeader carries the resolved subject to backends.
	IdentityHeader string `yaml:"identityHeader" json:"identityHeader"`

	// MultipartMemory is the in-memory threshold used when re-parsing
	// multipart bodies; larger parts spill to temporary files.
	MultipartMemory int64 `yaml:"multipartMemory,omitempty" json:"multipartMemory,omitempty"`
}

// IdentityConfig configures identity resolution.
type IdentityConfig struct {
	Credential   CredentialConfig   `yaml:"credential" json:"credential"`
	Verification VerificationConfig `yaml:"verification" json:"verification"`
	Remote       RemoteConfig       `yaml:"remote" json:"remote"`
	Cache        CacheConfig        `yaml:"cache" json:"cache"`
}

// CredentialConfig says where the bearer credential is read from.
// The cookie is consulted first, then the header.
type CredentialConfig struct {
	Cookie string `yaml:"cookie" json:"cookie"`
	Header string `yaml:"header" json:"header"`
}

// VerificationConfig configures local token verification. Local
// verification is disabled when no secret source is configured.
type VerificationConfig struct {
	Secret    *SecretSourceConfig `yaml:"secret,omitempty" json:"secret,omitempty"`
	Algorithm string              `yaml:"algorithm,omitempty" json:"algorithm,omitempty"`
	Issuer    string              `yaml:"issuer,omitempty" json:"issuer,omitempty"`
	Audience  string              `yaml:"audience,omitempty" json:"audience,omitempty"`
	ClockSkew Duration            `yaml:"clockSkew,omitempty" json:"clockSkew,omitempty"`
}

// SecretSourceConfig names where the verification secret lives.
type SecretSourceConfig struct {
	Type  string             `yaml:"type" json:"type"`
	Value string             `yaml:"value,omitempty" json:"-"`
	Env   string             `yaml:"env,omitempty" json:"env,omitempty"`
	File  string             `yaml:"file,omitempty" json:"file,omitempty"`
	Vault *VaultSecretConfig `yaml:"vault,omitempty" json:"vault,omitempty"`
}

// VaultSecretConfig locates the secret in a Vault KV v2 engine.
type VaultSecretConfig struct {
	Address string `yaml:"address" json:"address"`
	Token   string `yaml:"token,omitempty" json:"-"`
	Mount   string `yaml:"mount,omitempty" json:"mount,omitempty"`
	Path    string `yaml:"path" json:"path"`
	Key     string `yaml:"key" json:"key"`
}

// RemoteConfig configures the identity service lookup.
type RemoteConfig struct {
	BaseURL        string               `yaml:"baseURL" json:"baseURL"`
	WhoamiPath     string               `yaml:"whoamiPath" json:"whoamiPath"`
	Timeout        Duration             `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`
	RateLimit      RateLimitConfig      `yaml:"rateLimit,omitempty" json:"rateLimit,omitempty"`
}

// CircuitBreakerConfig configures the breaker around the identity service.
type CircuitBreakerConfig struct {
	Enabled   bool     `yaml:"enabled" json:"enabled"`
	Threshold int      `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Timeout   Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// RateLimitConfig bounds the rate of remote lookups. Zero means unlimited.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond,omitempty" json:"requestsPerSecond,omitempty"`
	Burst             int     `yaml:"burst,omitempty" json:"burst,omitempty"`
}

// CacheConfig configures the identity cache. The TTL is fixed at 60s.
type CacheConfig struct {
	MaxEntries int `yaml:"maxEntries,omitempty" json:"maxEntries,omitempty"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output,omitempty" json:"output,omitempty"`
}

// ObservabilityConfig configures metrics and tracing.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint,omitempty" json:"otlpEndpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" json:"samplingRate,omitempty"`
	ServiceName  string  `yaml:"serviceName,omitempty" json:"serviceName,omitempty"`
}

// DefaultConfig returns a configuration populated with defaults. Loading a
// file unmarshals on top of it, so unset keys keep these values.
func DefaultConfig() *GatewayConfig {
	return &GatewayConfig{
		Server: ServerConfig{
			Address:            DefaultAddress,
			ReadTimeout:        Duration(30 * time.Second),
			IdleTimeout:        Duration(120 * time.Second),
			ShutdownTimeout:    Duration(DefaultShutdownTimeout),
			MaxRequestBodySize: DefaultMaxRequestBodySize,
		},
		Proxy: ProxyConfig{
			RoutePrefix:     DefaultRoutePrefix,
			IdentityHeader:  DefaultIdentityHeader,
			MultipartMemory: DefaultMultipartMemory,
		},
		Services: map[string]string{},
		Identity: IdentityConfig{
			Credential: CredentialConfig{
				Cookie: DefaultCredentialCookie,
				Header: DefaultCredentialHeader,
			},
			Verification: VerificationConfig{
				Algorithm: DefaultAlgorithm,
			},
			Remote: RemoteConfig{
				WhoamiPath: DefaultWhoamiPath,
				Timeout:    Duration(DefaultRemoteTimeout),
				CircuitBreaker: CircuitBreakerConfig{
					Threshold: 10,
					Timeout:   Duration(30 * time.Second),
				},
			},
			Cache: CacheConfig{
				MaxEntries: DefaultCacheMaxEntries,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    DefaultMetricsPath,
			},
			Tracing: TracingConfig{
				SamplingRate: 1.0,
				ServiceName:  DefaultServiceName,
			},
		},
	}
}

// LocalVerificationEnabled reports whether a verification secret source is configured.
func (c *GatewayConfig) LocalVerificationEnabled() bool {
	return c.Identity.Verification.Secret != nil
}
