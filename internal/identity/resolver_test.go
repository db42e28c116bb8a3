package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/vyrodovalexey/authgw/internal/observability"
)

func TestResolver_NoCredential(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{subject: "u1"}
	r := NewResolver(NewCache(), remote)

	_, err := r.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Zero(t, remote.calls.Load())
}

func TestResolver_CacheHitShortCircuits(t *testing.T) {
	t.Parallel()

	cache := NewCache(WithCacheClock(newManualClock()))
	cache.Put("tok", "u1")

	local := &fakeVerifier{subject: "other"}
	remote := &fakeRemote{subject: "other"}
	r := NewResolver(cache, remote, WithLocalVerifier(local))

	res, err := r.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, Resolution{Subject: "u1", Source: SourceCache}, res)
	assert.Zero(t, local.calls.Load())
	assert.Zero(t, remote.calls.Load())
}

func TestResolver_ExpiredEntryIsReResolved(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	cache := NewCache(WithCacheClock(clock))
	cache.Put("tok", "stale")
	clock.Advance(CacheTTL)

	remote := &fakeRemote{subject: "fresh"}
	r := NewResolver(cache, remote)

	res, err := r.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "fresh", res.Subject)
	assert.Equal(t, SourceRemote, res.Source)
	assert.Equal(t, int32(1), remote.calls.Load())
}

func TestResolver_WithoutVerifierGoesStraightToRemote(t *testing.T) {
	t.Parallel()

	remote := &fakeRemote{subject: "u5"}
	r := NewResolver(NewCache(), remote)

	require.Len(t, r.steps, 2)
	assert.Equal(t, SourceCache, r.steps[0].source)
	assert.Equal(t, SourceRemote, r.steps[1].source)

	res, err := r.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, res.Source)
}

func TestResolver_LocalSuccessIsCached(t *testing.T) {
	t.Parallel()

	cache := NewCache(WithCacheClock(newManualClock()))
	local := &fakeVerifier{subject: "u3"}
	remote := &fakeRemote{err: unauthorized(401, nil)}
	r := NewResolver(cache, remote, WithLocalVerifier(local))

	res, err := r.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, Resolution{Subject: "u3", Source: SourceLocal}, res)
	assert.Zero(t, remote.calls.Load())

	subject, ok := cache.Get("tok")
	require.True(t, ok)
	assert.Equal(t, "u3", subject)
}

func TestResolver_LocalFailureFallsBackToRemote(t *testing.T) {
	t.Parallel()

	clock := newManualClock()
	cache := NewCache(WithCacheClock(clock))
	verifier, err := NewLocalVerifier([]byte(testSecret), WithVerifierClock(clock))
	require.NoError(t, err)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"userId":"u42"}`))
	}))
	defer srv.Close()

	remote, err := NewRemoteResolver(srv.URL, testWhoamiPath)
	require.NoError(t, err)

	r := NewResolver(cache, remote, WithLocalVerifier(verifier))

	badSignature := signToken(t, "rotated-secret", gojwt.SigningMethodHS256, userClaims("u42"))

	for _, credential := range []string{"tok-A", badSignature} {
		calls.Store(0)

		res, err := r.Resolve(context.Background(), credential)
		require.NoError(t, err)
		assert.Equal(t, Resolution{Subject: "u42", Source: SourceRemote}, res)
		assert.Equal(t, int32(1), calls.Load())

		subject, ok := cache.Get(credential)
		require.True(t, ok)
		assert.Equal(t, "u42", subject)

		clock.Advance(59 * time.Second)
		res, err = r.Resolve(context.Background(), credential)
		require.NoError(t, err)
		assert.Equal(t, SourceCache, res.Source)
		assert.Equal(t, int32(1), calls.Load(), "second request within TTL must not reach the identity service")
	}
}

func TestResolver_AllStepsFail(t *testing.T) {
	t.Parallel()

	cache := NewCache()
	local := &fakeVerifier{err: &VerificationError{Reason: "invalid"}}
	remote := &fakeRemote{err: unreachable(errors.New("connection refused"))}
	r := NewResolver(cache, remote, WithLocalVerifier(local))

	_, err := r.Resolve(context.Background(), "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.NotErrorIs(t, err, ErrNoCredential)

	var rerr *ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Len(t, rerr.Causes, 2)
	assert.Equal(t, 0, cache.Len())
}

func TestResolver_ConcurrentLookupsAgree(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"id":"u8"}`))
	}))
	defer srv.Close()

	remote, err := NewRemoteResolver(srv.URL, testWhoamiPath)
	require.NoError(t, err)
	cache := NewCache()
	r := NewResolver(cache, remote)

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), "tok")
			if assert.NoError(t, err) {
				results[i] = res.Subject
			}
		}(i)
	}

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	for _, s := range results {
		assert.Equal(t, "u8", s)
	}
	assert.LessOrEqual(t, calls.Load(), int32(n))
	assert.Equal(t, 1, cache.Len())
}

func TestResolver_Metrics(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test")
	m.Init()
	cache := NewCache(WithCacheMetrics(m))
	r := NewResolver(cache, &fakeRemote{subject: "u1"},
		WithResolverMetrics(m),
		WithResolverLogger(observability.NewLoggerFromZap(zaptest.NewLogger(t))),
	)

	_, err := r.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	_, _ = r.Resolve(context.Background(), "")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutionsTotal.WithLabelValues("remote", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutionsTotal.WithLabelValues("cache", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutionsTotal.WithLabelValues("none", "failure")))
}

// gatedRemote blocks every lookup until release is closed or the lookup's
// context ends.
type gatedRemote struct {
	subject string
	release chan struct{}
	started chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func (g *gatedRemote) Resolve(ctx context.Context, _ string) (string, error) {
	g.calls.Add(1)
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
		return g.subject, nil
	case <-ctx.Done():
		return "", unreachable(ctx.Err())
	}
}

func TestResolver_CancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	t.Parallel()

	remote := &gatedRemote{
		subject: "u42",
		release: make(chan struct{}),
		started: make(chan struct{}),
	}
	cache := NewCache()
	r := NewResolver(cache, remote)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(firstCtx, "tok-A")
		firstErr <- err
	}()
	<-remote.started

	type result struct {
		res Resolution
		err error
	}
	second := make(chan result, 1)
	go func() {
		res, err := r.Resolve(context.Background(), "tok-A")
		second <- result{res, err}
	}()

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, ErrUnauthenticated)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(remote.release)

	select {
	case got := <-second:
		require.NoError(t, got.err)
		assert.Equal(t, Resolution{Subject: "u42", Source: SourceRemote}, got.res)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not resolve")
	}

	subject, ok := cache.Get("tok-A")
	assert.True(t, ok)
	assert.Equal(t, "u42", subject)
	assert.LessOrEqual(t, remote.calls.Load(), int32(2))
}
