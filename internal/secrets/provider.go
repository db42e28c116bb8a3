// Package secrets loads the token verification secret from the configured
// source: an inline value, an environment variable, a file, or a Vault KV
// v2 engine.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ProviderType names a secret source.
type ProviderType string

const (
	// ProviderTypeInline uses a value embedded in the configuration.
	ProviderTypeInline ProviderType = "inline"
	// ProviderTypeEnv reads an environment variable.
	ProviderTypeEnv ProviderType = "env"
	// ProviderTypeFile reads a file.
	ProviderTypeFile ProviderType = "file"
	// ProviderTypeVault reads a key from a Vault KV v2 secret.
	ProviderTypeVault ProviderType = "vault"
)

// Common errors for secret providers.
var (
	// ErrSecretNotFound is returned when the source holds no secret.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrEmptySecret is returned when the source holds an empty secret.
	ErrEmptySecret = errors.New("secret is empty")
	// ErrProviderNotConfigured is returned when the provider config is incomplete.
	ErrProviderNotConfigured = errors.New("provider not configured")
	// ErrProviderUnavailable is returned when the backing store cannot be reached.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrInvalidProviderType is returned for an unknown provider type.
	ErrInvalidProviderType = errors.New("invalid provider type")
)

// Provider returns a single secret value.
type Provider interface {
	// Type returns the provider type.
	Type() ProviderType

	// Get returns the secret bytes. An empty secret is an error.
	Get(ctx context.Context) ([]byte, error)
}

// ValidateProviderType validates that the given string is a known provider type.
func ValidateProviderType(providerType string) (ProviderType, error) {
	switch ProviderType(providerType) {
	case ProviderTypeInline, ProviderTypeEnv, ProviderTypeFile, ProviderTypeVault:
		return ProviderType(providerType), nil
	default:
		return "", fmt.Errorf("%w: %s, must be one of: inline, env, file, vault",
			ErrInvalidProviderType, providerType)
	}
}

// Metrics records secret loads. A nil *Metrics records nothing.
type Metrics struct {
	operationDuration *prometheus.HistogramVec
	operationTotal    *prometheus.CounterVec
}

// NewMetrics creates secret provider metrics under the given namespace.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "authgw"
	}

	return &Metrics{
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "secrets",
				Name:      "operation_duration_seconds",
				Help:      "Duration of secret provider operations in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"provider", "result"},
		),
		operationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "secrets",
				Name:      "operation_total",
				Help:      "Total number of secret provider operations",
			},
			[]string{"provider", "result"},
		),
	}
}

// MustRegister registers all collectors with the registerer.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	if m == nil {
		return
	}
	reg.MustRegister(m.operationDuration, m.operationTotal)
}

func (m *Metrics) record(provider ProviderType, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.operationDuration.WithLabelValues(string(provider), result).Observe(d.Seconds())
	m.operationTotal.WithLabelValues(string(provider), result).Inc()
}

func nonEmpty(b []byte, source string) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptySecret, source)
	}
	return b, nil
}
