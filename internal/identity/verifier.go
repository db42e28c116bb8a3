package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/vyrodovalexey/authgw/internal/observability"
)

// Verifier checks a credential without leaving the process.
type Verifier interface {
	Verify(ctx context.Context, credential string) (string, error)
}

// LocalVerifier verifies HMAC-signed JWT credentials against a shared secret
// and returns the sub claim.
type LocalVerifier struct {
	secret    []byte
	algorithm jwa.SignatureAlgorithm
	issuer    string
	audience  string
	skew      time.Duration
	clock     Clock
	logger    observability.Logger
	metrics   *Metrics
}

// VerifierOption configures a LocalVerifier.
type VerifierOption func(*LocalVerifier)

// WithAlgorithm selects the HMAC algorithm (HS256, HS384 or HS512).
func WithAlgorithm(alg string) VerifierOption {
	return func(v *LocalVerifier) {
		if alg != "" {
			v.algorithm = jwa.SignatureAlgorithm(alg)
		}
	}
}

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) VerifierOption {
	return func(v *LocalVerifier) {
		v.issuer = issuer
	}
}

// WithAudience requires the aud claim to contain audience.
func WithAudience(audience string) VerifierOption {
	return func(v *LocalVerifier) {
		v.audience = audience
	}
}

// WithClockSkew tolerates clock drift when checking exp and nbf.
func WithClockSkew(skew time.Duration) VerifierOption {
	return func(v *LocalVerifier) {
		v.skew = skew
	}
}

// WithVerifierClock sets the clock used for time-based claims.
func WithVerifierClock(clock Clock) VerifierOption {
	return func(v *LocalVerifier) {
		v.clock = clock
	}
}

// WithVerifierLogger sets the logger.
func WithVerifierLogger(logger observability.Logger) VerifierOption {
	return func(v *LocalVerifier) {
		v.logger = logger
	}
}

// WithVerifierMetrics sets the metrics recorder.
func WithVerifierMetrics(m *Metrics) VerifierOption {
	return func(v *LocalVerifier) {
		v.metrics = m
	}
}

// NewLocalVerifier creates a verifier for the given secret. An empty secret
// is an error; callers skip local verification instead of building one.
func NewLocalVerifier(secret []byte, opts ...VerifierOption) (*LocalVerifier, error) {
	if len(secret) == 0 {
		return nil, ErrNoVerificationSecret
	}

	v := &LocalVerifier{
		secret:    secret,
		algorithm: jwa.HS256,
		clock:     SystemClock(),
		logger:    observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(v)
	}

	switch v.algorithm {
	case jwa.HS256, jwa.HS384, jwa.HS512:
	default:
		return nil, fmt.Errorf("unsupported verification algorithm %q", v.algorithm)
	}

	return v, nil
}

// Verify parses and validates credential. Failures match ErrInvalidCredential.
func (v *LocalVerifier) Verify(_ context.Context, credential string) (string, error) {
	opts := []jwt.ParseOption{
		jwt.WithKey(v.algorithm, v.secret),
		jwt.WithValidate(true),
		jwt.WithClock(v.clock),
		jwt.WithAcceptableSkew(v.skew),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseString(credential, opts...)
	if err != nil {
		reason := "invalid"
		if errors.Is(err, jwt.ErrTokenExpired()) {
			reason = "expired"
		}
		v.metrics.recordLocal(reason)
		return "", &VerificationError{Reason: reason, Cause: err}
	}

	subject := token.Subject()
	if subject == "" {
		v.metrics.recordLocal("missing_subject")
		return "", &VerificationError{Reason: "missing subject claim"}
	}

	v.metrics.recordLocal("success")
	return subject, nil
}
