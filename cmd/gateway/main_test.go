package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/authgw/internal/config"
	"github.com/vyrodovalexey/authgw/internal/observability"
)

const testSecret = "gateway-test-secret"

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("AUTHGW_TEST_SET", "value")

	assert.Equal(t, "value", getEnvOrDefault("AUTHGW_TEST_SET", "default"))
	assert.Equal(t, "default", getEnvOrDefault("AUTHGW_TEST_UNSET", "default"))
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
		want cliFlags
	}{
		{
			name: "defaults",
			want: cliFlags{configPath: "configs/gateway.yaml"},
		},
		{
			name: "environment",
			env: map[string]string{
				"GATEWAY_CONFIG_PATH": "/etc/authgw.yaml",
				"GATEWAY_LOG_LEVEL":   "debug",
				"GATEWAY_LOG_FORMAT":  "console",
			},
			want: cliFlags{configPath: "/etc/authgw.yaml", logLevel: "debug", logFormat: "console"},
		},
		{
			name: "flags override environment",
			env:  map[string]string{"GATEWAY_LOG_LEVEL": "debug"},
			args: []string{"-config", "a.yaml", "-log-level", "warn", "-version"},
			want: cliFlags{configPath: "a.yaml", logLevel: "warn", showVersion: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"GATEWAY_CONFIG_PATH", "GATEWAY_LOG_LEVEL", "GATEWAY_LOG_FORMAT"} {
				t.Setenv(key, tt.env[key])
			}

			got := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), tt.args)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyLogFlags(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	applyLogFlags(cfg, cliFlags{})
	assert.Equal(t, "info", cfg.Logging.Level)

	applyLogFlags(cfg, cliFlags{logLevel: "debug", logFormat: "console"})
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		cfg, err := loadConfig(writeConfig(t, gatewayYAML("http://svc.internal", "http://identity.internal")))
		require.NoError(t, err)
		assert.Equal(t, "http://svc.internal", cfg.Services["svc"])
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()

		_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()

		_, err := loadConfig(writeConfig(t, "services: {}\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "services")
	})
}

func TestNewApplication(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = fmt.Fprintf(w, "%s %s as %s", r.Method, r.URL.RequestURI(), r.Header.Get("x-user-id"))
	}))
	t.Cleanup(backend.Close)

	app := newTestApplication(t, backend.URL, "http://127.0.0.1:1")

	req := httptest.NewRequest(http.MethodGet, "/api/proxy/svc/items/7?x=1", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: signedToken(t, "u42")})
	rec := httptest.NewRecorder()
	app.server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "GET /items/7?x=1 as u42", rec.Body.String())
	assert.Equal(t, 1, app.cache.Len())

	metricsRec := httptest.NewRecorder()
	app.server.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, metricsRec.Code)
	assert.Contains(t, metricsRec.Body.String(), "authgw_requests_total")
	assert.Contains(t, metricsRec.Body.String(), "authgw_config_watcher_running")
}

func TestNewApplication_SecretUnavailable(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://svc.internal", "http://identity.internal")
	cfg.Identity.Verification.Secret = &config.SecretSourceConfig{
		Type: config.SecretSourceFile,
		File: filepath.Join(t.TempDir(), "missing"),
	}

	_, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verification secret")
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	app := newTestApplication(t, "http://svc.internal", "http://identity.internal")
	logger := observability.NopLogger()

	next := testConfig("http://svc.internal", "http://identity.internal")
	next.Services = map[string]string{"svc": "http://svc-v2.internal", "orders": "http://orders.internal"}
	app.applyConfig(next, logger)

	svc, ok := app.registry.Lookup("svc")
	require.True(t, ok)
	assert.Equal(t, "svc-v2.internal", svc.BaseURL.Host)
	_, ok = app.registry.Lookup("orders")
	assert.True(t, ok)

	broken := testConfig("http://svc.internal", "http://identity.internal")
	broken.Services = map[string]string{}
	app.applyConfig(broken, logger)

	assert.Equal(t, 2, app.registry.Len())
}

func TestStaticSectionsChanged(t *testing.T) {
	t.Parallel()

	base := testConfig("http://svc.internal", "http://identity.internal")

	same := testConfig("http://other.internal", "http://identity.internal")
	assert.Empty(t, staticSectionsChanged(base, same))

	changed := testConfig("http://svc.internal", "http://identity-v2.internal")
	changed.Proxy.IdentityHeader = "x-subject"
	assert.Equal(t, []string{"proxy", "identity"}, staticSectionsChanged(base, changed))
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()

	app := newTestApplication(t, "http://svc.internal", "http://identity.internal")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- app.serve(ctx, ln, "", observability.NopLogger())
	}()

	require.Eventually(t, app.server.IsRunning, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
	assert.False(t, app.server.IsRunning())
}

func TestServe_WatchesConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, gatewayYAML("http://svc.internal", "http://identity.internal"))
	cfg, err := loadConfig(path)
	require.NoError(t, err)
	cfg.Identity.Verification.Secret = &config.SecretSourceConfig{Type: config.SecretSourceInline, Value: testSecret}

	app, err := newApplication(context.Background(), cfg, observability.NopLogger())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- app.serve(ctx, ln, path, observability.NopLogger())
	}()
	require.Eventually(t, app.server.IsRunning, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(gatewayYAML("http://svc-v2.internal", "http://identity.internal")), 0o600))

	assert.Eventually(t, func() bool {
		svc, ok := app.registry.Lookup("svc")
		return ok && svc.BaseURL.Host == "svc-v2.internal"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func newTestApplication(t *testing.T, serviceURL, identityURL string) *application {
	t.Helper()

	app, err := newApplication(context.Background(), testConfig(serviceURL, identityURL), observability.NopLogger())
	require.NoError(t, err)
	return app
}

func testConfig(serviceURL, identityURL string) *config.GatewayConfig {
	cfg := config.DefaultConfig()
	cfg.Server.Address = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = config.Duration(2 * time.Second)
	cfg.Services = map[string]string{"svc": serviceURL}
	cfg.Identity.Remote.BaseURL = identityURL
	cfg.Identity.Verification.Secret = &config.SecretSourceConfig{
		Type:  config.SecretSourceInline,
		Value: testSecret,
	}
	cfg.Observability.Metrics.Enabled = true
	return cfg
}

func gatewayYAML(serviceURL, identityURL string) string {
	return fmt.Sprintf(`server:
  address: 127.0.0.1:0
services:
  svc: %s
identity:
  remote:
    baseURL: %s
logging:
  level: info
  format: json
`, serviceURL, identityURL)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func signedToken(t *testing.T, subject string) string {
	t.Helper()

	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}
