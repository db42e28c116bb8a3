package secrets

import (
	"context"
	"fmt"
	"time"

	"github.com/vyrodovalexey/authgw/internal/config"
	"github.com/vyrodovalexey/authgw/internal/observability"
)

// NewProvider creates the provider described by cfg.
func NewProvider(cfg *config.SecretSourceConfig, logger observability.Logger) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: secret source is required", ErrProviderNotConfigured)
	}

	providerType, err := ValidateProviderType(cfg.Type)
	if err != nil {
		return nil, err
	}

	switch providerType {
	case ProviderTypeInline:
		return NewInlineProvider(cfg.Value), nil
	case ProviderTypeEnv:
		return NewEnvProvider(cfg.Env)
	case ProviderTypeFile:
		return NewFileProvider(cfg.File)
	default:
		if cfg.Vault == nil {
			return nil, fmt.Errorf("%w: vault settings are required", ErrProviderNotConfigured)
		}
		return NewVaultProvider(&VaultProviderConfig{
			Address: cfg.Vault.Address,
			Token:   cfg.Vault.Token,
			Mount:   cfg.Vault.Mount,
			Path:    cfg.Vault.Path,
			Key:     cfg.Vault.Key,
			Logger:  logger,
		})
	}
}

// Load creates the provider described by cfg and reads the secret once.
func Load(ctx context.Context, cfg *config.SecretSourceConfig, logger observability.Logger, metrics *Metrics) ([]byte, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	provider, err := NewProvider(cfg, logger)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	secret, err := provider.Get(ctx)
	metrics.record(provider.Type(), time.Since(start), err)
	if err != nil {
		logger.Error("failed to load verification secret",
			observability.String("provider", string(provider.Type())),
			observability.Error(err),
		)
		return nil, err
	}

	logger.Info("verification secret loaded",
		observability.String("provider", string(provider.Type())),
		observability.Int("bytes", len(secret)),
	)
	return secret, nil
}
