package config

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWatcher_WithOptions(t *testing.T) {
	t.Parallel()

	var errCalled atomic.Bool
	w, err := NewWatcher("gateway.yaml", nil,
		WithDebounceDelay(5*time.Millisecond),
		WithErrorCallback(func(error) { errCalled.Store(true) }),
	)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	assert.Equal(t, 5*time.Millisecond, w.debounceDelay)
	assert.NotNil(t, w.errorCallback)
	assert.Nil(t, w.GetLastConfig())
}

func TestWatcher_Start(t *testing.T) {
	// Not parallel due to file system operations
	path := writeConfig(t, validConfigYAML)

	w, err := NewWatcher(path, nil, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	// Starting twice is a no-op.
	require.NoError(t, w.Start(ctx))

	cfg := w.GetLastConfig()
	require.NotNil(t, cfg)
	assert.Equal(t, ":9090", cfg.Server.Address)

	require.NoError(t, w.Stop())
}

func TestWatcher_Start_InvalidConfig(t *testing.T) {
	path := writeConfig(t, "server:\n  address: \":9090\"\n")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	err = w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "services")
}

func TestWatcher_FileChange(t *testing.T) {
	path := writeConfig(t, validConfigYAML)

	reloaded := make(chan *GatewayConfig, 1)
	w, err := NewWatcher(path, func(cfg *GatewayConfig) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, WithDebounceDelay(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	updated := `
services:
  orders: http://orders.internal
identity:
  remote:
    baseURL: http://identity.internal
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, map[string]string{"orders": "http://orders.internal"}, cfg.Services)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	assert.Equal(t, "http://orders.internal", w.GetLastConfig().Services["orders"])
}

func TestWatcher_FileChange_InvalidConfig(t *testing.T) {
	path := writeConfig(t, validConfigYAML)

	errs := make(chan error, 1)
	var called atomic.Bool
	w, err := NewWatcher(path, func(*GatewayConfig) { called.Store(true) },
		WithDebounceDelay(10*time.Millisecond),
		WithErrorCallback(func(err error) {
			select {
			case errs <- err:
			default:
			}
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	require.NoError(t, os.WriteFile(path, []byte("services: {}\n"), 0o600))

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}

	assert.False(t, called.Load())
	assert.Equal(t, ":9090", w.GetLastConfig().Server.Address)
}

func TestWatcher_ForceReload(t *testing.T) {
	path := writeConfig(t, validConfigYAML)

	var calls atomic.Int32
	w, err := NewWatcher(path, func(*GatewayConfig) { calls.Add(1) })
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	require.NoError(t, w.ForceReload())
	assert.Equal(t, int32(1), calls.Load())
	assert.NotNil(t, w.GetLastConfig())
}
