package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWhoamiPath = "/api/auth/me"

func newIdentityServer(t *testing.T, status int, body string, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, testWhoamiPath, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewRemoteResolver_RequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := NewRemoteResolver("", testWhoamiPath)
	assert.Error(t, err)
}

func TestRemoteResolver_SendsBearerCredential(t *testing.T) {
	t.Parallel()

	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"userId":"u42"}`))
	}))
	defer srv.Close()

	r, err := NewRemoteResolver(srv.URL, testWhoamiPath)
	require.NoError(t, err)

	subject, err := r.Resolve(context.Background(), "tok-A")
	require.NoError(t, err)
	assert.Equal(t, "u42", subject)
	assert.Equal(t, "Bearer tok-A", gotAuth)
}

func TestRemoteResolver_Resolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantSub    string
		wantErr    error
		wantStatus int
	}{
		{name: "userId", status: http.StatusOK, body: `{"userId":"u42"}`, wantSub: "u42"},
		{name: "legacy id", status: http.StatusOK, body: `{"id":"u7"}`, wantSub: "u7"},
		{name: "enveloped", status: http.StatusOK, body: `{"user":{"id":"u9"}}`, wantSub: "u9"},
		{name: "rejected", status: http.StatusUnauthorized, body: `{"message":"bad token"}`, wantErr: ErrUnauthorized, wantStatus: 401},
		{name: "server error", status: http.StatusInternalServerError, body: ``, wantErr: ErrUnauthorized, wantStatus: 500},
		{name: "no identifier", status: http.StatusOK, body: `{"email":"x@y.z"}`, wantErr: ErrUnauthorized, wantStatus: 200},
		{name: "malformed body", status: http.StatusOK, body: `not json`, wantErr: ErrUnauthorized, wantStatus: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := newIdentityServer(t, tt.status, tt.body, nil)
			r, err := NewRemoteResolver(srv.URL, testWhoamiPath)
			require.NoError(t, err)

			subject, err := r.Resolve(context.Background(), "tok")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.NotErrorIs(t, err, ErrUnreachable)
				var re *RemoteError
				require.True(t, errors.As(err, &re))
				assert.Equal(t, tt.wantStatus, re.StatusCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSub, subject)
		})
	}
}

func TestRemoteResolver_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r, err := NewRemoteResolver(url, testWhoamiPath)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestRemoteResolver_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	r, err := NewRemoteResolver(srv.URL, testWhoamiPath, WithRemoteTimeout(50*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = r.Resolve(context.Background(), "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRemoteResolver_CallerCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	r, err := NewRemoteResolver(srv.URL, testWhoamiPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = r.Resolve(ctx, "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRemoteResolver_CircuitBreaker(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newIdentityServer(t, http.StatusBadGateway, ``, &calls)

	r, err := NewRemoteResolver(srv.URL, testWhoamiPath, WithCircuitBreaker(2, time.Minute))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = r.Resolve(context.Background(), "tok")
		assert.ErrorIs(t, err, ErrUnauthorized)
	}

	_, err = r.Resolve(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, int32(2), calls.Load(), "open breaker must not call the identity service")
}

func TestRemoteResolver_CircuitBreakerIgnoresRejections(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newIdentityServer(t, http.StatusUnauthorized, ``, &calls)

	r, err := NewRemoteResolver(srv.URL, testWhoamiPath, WithCircuitBreaker(2, time.Minute))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = r.Resolve(context.Background(), "tok")
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestRemoteResolver_CircuitBreakerIgnoresCallerAborts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-time.After(50 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte(`{"userId":"u42"}`))
	}))
	defer srv.Close()

	r, err := NewRemoteResolver(srv.URL, testWhoamiPath, WithCircuitBreaker(3, time.Minute))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		_, err = r.Resolve(ctx, "tok")
		cancel()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnreachable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Resolve(cancelled, "tok")
	assert.ErrorIs(t, err, context.Canceled)

	subject, err := r.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "u42", subject)
	assert.Equal(t, gobreaker.StateClosed, r.breaker.State())
}

func TestRemoteResolver_RateLimit(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := newIdentityServer(t, http.StatusOK, `{"id":"u1"}`, &calls)
	m := NewMetrics("test")

	r, err := NewRemoteResolver(srv.URL, testWhoamiPath,
		WithRateLimit(0.001, 1),
		WithRemoteMetrics(m),
	)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "tok")
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.remoteTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.remoteTotal.WithLabelValues("rate_limited")))
}
