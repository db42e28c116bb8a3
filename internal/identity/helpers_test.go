package identity

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: baseTime}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeVerifier struct {
	subject string
	err     error
	calls   atomic.Int32
}

func (f *fakeVerifier) Verify(context.Context, string) (string, error) {
	f.calls.Add(1)
	return f.subject, f.err
}

type fakeRemote struct {
	subject string
	err     error
	calls   atomic.Int32
}

func (f *fakeRemote) Resolve(context.Context, string) (string, error) {
	f.calls.Add(1)
	return f.subject, f.err
}

func signToken(t *testing.T, secret string, method gojwt.SigningMethod, claims gojwt.MapClaims) string {
	t.Helper()

	token, err := gojwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func userClaims(sub string) gojwt.MapClaims {
	return gojwt.MapClaims{
		"sub": sub,
		"iat": baseTime.Unix(),
		"exp": baseTime.Add(time.Hour).Unix(),
	}
}
