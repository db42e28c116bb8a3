package secrets

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/vyrodovalexey/authgw/internal/observability"
)

// DefaultVaultMount is the KV v2 mount used when none is configured.
const DefaultVaultMount = "secret"

// DefaultVaultTimeout bounds each Vault request.
const DefaultVaultTimeout = 10 * time.Second

// VaultProviderConfig locates a key in a Vault KV v2 secret.
type VaultProviderConfig struct {
	Address string
	// Token authenticates the client. When empty, VAULT_TOKEN is used.
	Token   string
	Mount   string
	Path    string
	Key     string
	Timeout time.Duration
	Logger  observability.Logger
}

// VaultProvider reads one key of a Vault KV v2 secret.
type VaultProvider struct {
	client *vaultapi.Client
	mount  string
	path   string
	key    string
	logger observability.Logger
}

// NewVaultProvider creates a Vault provider. No request is made until Get.
func NewVaultProvider(cfg *VaultProviderConfig) (*VaultProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrProviderNotConfigured)
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("%w: vault address is required", ErrProviderNotConfigured)
	}
	if cfg.Path == "" || cfg.Key == "" {
		return nil, fmt.Errorf("%w: vault secret path and key are required", ErrProviderNotConfigured)
	}

	apiConfig := vaultapi.DefaultConfig()
	apiConfig.Address = cfg.Address
	apiConfig.Timeout = DefaultVaultTimeout
	if cfg.Timeout > 0 {
		apiConfig.Timeout = cfg.Timeout
	}

	client, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	mount := strings.Trim(cfg.Mount, "/")
	if mount == "" {
		mount = DefaultVaultMount
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &VaultProvider{
		client: client,
		mount:  mount,
		path:   strings.Trim(cfg.Path, "/"),
		key:    cfg.Key,
		logger: logger.With(observability.String("component", "vault")),
	}, nil
}

// Type returns the provider type.
func (p *VaultProvider) Type() ProviderType {
	return ProviderTypeVault
}

// Get reads the latest version of the secret and returns the configured key.
func (p *VaultProvider) Get(ctx context.Context) ([]byte, error) {
	fullPath := p.dataPath()

	p.logger.Debug("reading secret from vault",
		observability.String("path", fullPath),
		observability.String("key", p.key),
	)

	secret, err := p.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrProviderUnavailable, fullPath, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%w: vault path %s", ErrSecretNotFound, fullPath)
	}

	// KV v2 nests the key/value pairs under "data".
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: vault path %s has no data", ErrSecretNotFound, fullPath)
	}

	raw, ok := data[p.key]
	if !ok {
		return nil, fmt.Errorf("%w: key %s at vault path %s", ErrSecretNotFound, p.key, fullPath)
	}
	value, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("vault key %s at %s is not a string", p.key, fullPath)
	}

	return nonEmpty([]byte(value), "vault key "+p.key)
}

func (p *VaultProvider) dataPath() string {
	return path.Join(p.mount, "data", p.path)
}
