package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// serviceNamePattern restricts service names to a single URL path segment.
var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(cfg *GatewayConfig) error {
	v := &Validator{}
	return v.Validate(cfg)
}

// Validate validates the configuration and returns any errors.
func (v *Validator) Validate(cfg *GatewayConfig) error {
	v.errors = nil

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&cfg.Server)
	v.validateProxy(&cfg.Proxy)
	v.validateServices(cfg.Services)
	v.validateIdentity(&cfg.Identity)
	v.validateLogging(&cfg.Logging)
	v.validateObservability(&cfg.Observability)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateServer(s *ServerConfig) {
	if s.Address == "" {
		v.addError("server.address", "is required")
	}
	if s.MaxRequestBodySize < 0 {
		v.addError("server.maxRequestBodySize", "must not be negative")
	}
}

func (v *Validator) validateProxy(p *ProxyConfig) {
	if p.RoutePrefix == "" {
		v.addError("proxy.routePrefix", "is required")
	}
	if p.IdentityHeader == "" {
		v.addError("proxy.identityHeader", "is required")
	}
	if strings.EqualFold(p.IdentityHeader, "Authorization") {
		v.addError("proxy.identityHeader", "must not be Authorization")
	}
	if p.MultipartMemory < 0 {
		v.addError("proxy.multipartMemory", "must not be negative")
	}
}

func (v *Validator) validateServices(services map[string]string) {
	if len(services) == 0 {
		v.addError("services", "at least one service is required")
		return
	}
	for name, base := range services {
		path := "services." + name
		if !serviceNamePattern.MatchString(name) {
			v.addError(path, "invalid service name")
		}
		if err := validateBaseURL(base); err != nil {
			v.addError(path, err.Error())
		}
	}
}

func (v *Validator) validateIdentity(id *IdentityConfig) {
	if id.Credential.Cookie == "" && id.Credential.Header == "" {
		v.addError("identity.credential", "a cookie or a header source is required")
	}

	if err := validateBaseURL(id.Remote.BaseURL); err != nil {
		v.addError("identity.remote.baseURL", err.Error())
	}
	if id.Remote.Timeout.Duration() <= 0 {
		v.addError("identity.remote.timeout", "must be positive")
	}
	if cb := id.Remote.CircuitBreaker; cb.Enabled && cb.Threshold <= 0 {
		v.addError("identity.remote.circuitBreaker.threshold", "must be positive when enabled")
	}
	if rl := id.Remote.RateLimit; rl.RequestsPerSecond < 0 || rl.Burst < 0 {
		v.addError("identity.remote.rateLimit", "must not be negative")
	}

	if id.Cache.MaxEntries < 0 {
		v.addError("identity.cache.maxEntries", "must not be negative")
	}

	v.validateVerification(&id.Verification)
}

func (v *Validator) validateVerification(vc *VerificationConfig) {
	switch vc.Algorithm {
	case "", "HS256", "HS384", "HS512":
	default:
		v.addError("identity.verification.algorithm", "must be one of HS256, HS384, HS512")
	}

	src := vc.Secret
	if src == nil {
		return
	}

	const path = "identity.verification.secret"
	switch src.Type {
	case SecretSourceInline:
		if src.Value == "" {
			v.addError(path+".value", "is required for inline secrets")
		}
	case SecretSourceEnv:
		if src.Env == "" {
			v.addError(path+".env", "is required for env secrets")
		}
	case SecretSourceFile:
		if src.File == "" {
			v.addError(path+".file", "is required for file secrets")
		}
	case SecretSourceVault:
		if src.Vault == nil || src.Vault.Address == "" || src.Vault.Path == "" || src.Vault.Key == "" {
			v.addError(path+".vault", "address, path and key are required")
		}
	default:
		v.addError(path+".type", fmt.Sprintf("unknown secret source %q", src.Type))
	}
}

func (v *Validator) validateLogging(l *LoggingConfig) {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("logging.level", fmt.Sprintf("unknown level %q", l.Level))
	}
	switch l.Format {
	case "json", "console":
	default:
		v.addError("logging.format", fmt.Sprintf("unknown format %q", l.Format))
	}
}

func (v *Validator) validateObservability(o *ObservabilityConfig) {
	if o.Metrics.Enabled && !strings.HasPrefix(o.Metrics.Path, "/") {
		v.addError("observability.metrics.path", "must start with /")
	}
	if o.Tracing.SamplingRate < 0 || o.Tracing.SamplingRate > 1 {
		v.addError("observability.tracing.samplingRate", "must be between 0 and 1")
	}
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("URL host is required")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("URL must not carry a query or fragment")
	}
	return nil
}
