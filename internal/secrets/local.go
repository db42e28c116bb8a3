package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// InlineProvider returns a secret embedded in configuration.
type InlineProvider struct {
	value []byte
}

// NewInlineProvider creates an inline provider.
func NewInlineProvider(value string) *InlineProvider {
	return &InlineProvider{value: []byte(value)}
}

// Type returns the provider type.
func (p *InlineProvider) Type() ProviderType {
	return ProviderTypeInline
}

// Get returns the inline value.
func (p *InlineProvider) Get(context.Context) ([]byte, error) {
	return nonEmpty(p.value, "inline value")
}

// EnvProvider reads the secret from an environment variable.
type EnvProvider struct {
	name   string
	lookup func(string) (string, bool)
}

// NewEnvProvider creates a provider for the named environment variable.
func NewEnvProvider(name string) (*EnvProvider, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: environment variable name is required", ErrProviderNotConfigured)
	}
	return &EnvProvider{name: name, lookup: os.LookupEnv}, nil
}

// Type returns the provider type.
func (p *EnvProvider) Type() ProviderType {
	return ProviderTypeEnv
}

// Get returns the variable's value.
func (p *EnvProvider) Get(context.Context) ([]byte, error) {
	value, ok := p.lookup(p.name)
	if !ok {
		return nil, fmt.Errorf("%w: environment variable %s not set", ErrSecretNotFound, p.name)
	}
	return nonEmpty([]byte(value), "environment variable "+p.name)
}

// FileProvider reads the secret from a file, as mounted by Kubernetes
// secret volumes. One trailing newline is trimmed.
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider for the file at path.
func NewFileProvider(path string) (*FileProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: file path is required", ErrProviderNotConfigured)
	}
	if strings.Contains(filepath.ToSlash(path), "../") {
		return nil, fmt.Errorf("%w: path must not traverse parent directories", ErrProviderNotConfigured)
	}
	return &FileProvider{path: filepath.Clean(path)}, nil
}

// Type returns the provider type.
func (p *FileProvider) Type() ProviderType {
	return ProviderTypeFile
}

// Get reads the file.
func (p *FileProvider) Get(context.Context) ([]byte, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: file %s", ErrSecretNotFound, p.path)
		}
		return nil, fmt.Errorf("failed to read secret file %s: %w", p.path, err)
	}

	data = bytes.TrimSuffix(data, []byte("\n"))
	data = bytes.TrimSuffix(data, []byte("\r"))
	return nonEmpty(data, "file "+p.path)
}
