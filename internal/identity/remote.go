package identity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/authgw/internal/observability"
)

// DefaultRemoteTimeout bounds each identity service lookup.
const DefaultRemoteTimeout = 5 * time.Second

// maxWhoamiBody caps how much of the identity service reply is read.
const maxWhoamiBody = 1 << 20

const tracerName = "authgw/identity"

// RemoteResolver asks the identity service who a credential belongs to.
type RemoteResolver struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
	breaker  *gobreaker.CircuitBreaker
	limiter  *rate.Limiter
	logger   observability.Logger
	metrics  *Metrics

	breakerThreshold uint32
	breakerTimeout   time.Duration
}

// RemoteOption configures a RemoteResolver.
type RemoteOption func(*RemoteResolver)

// WithHTTPClient sets the HTTP client used for lookups.
func WithHTTPClient(client *http.Client) RemoteOption {
	return func(r *RemoteResolver) {
		r.client = client
	}
}

// WithRemoteTimeout overrides the per-lookup timeout.
func WithRemoteTimeout(timeout time.Duration) RemoteOption {
	return func(r *RemoteResolver) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// WithCircuitBreaker fails lookups fast after the identity service keeps
// failing. Rejections (4xx) do not count as failures.
func WithCircuitBreaker(threshold int, timeout time.Duration) RemoteOption {
	return func(r *RemoteResolver) {
		r.breakerThreshold = safeIntToUint32(threshold)
		r.breakerTimeout = timeout
	}
}

// WithRateLimit bounds lookups per second. Lookups over the limit fail as
// unreachable.
func WithRateLimit(rps float64, burst int) RemoteOption {
	return func(r *RemoteResolver) {
		if rps <= 0 {
			return
		}
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRemoteLogger sets the logger.
func WithRemoteLogger(logger observability.Logger) RemoteOption {
	return func(r *RemoteResolver) {
		r.logger = logger
	}
}

// WithRemoteMetrics sets the metrics recorder.
func WithRemoteMetrics(m *Metrics) RemoteOption {
	return func(r *RemoteResolver) {
		r.metrics = m
	}
}

// NewRemoteResolver creates a resolver for baseURL + whoamiPath.
func NewRemoteResolver(baseURL, whoamiPath string, opts ...RemoteOption) (*RemoteResolver, error) {
	if baseURL == "" {
		return nil, errors.New("identity service base URL is required")
	}

	r := &RemoteResolver{
		endpoint: baseURL + whoamiPath,
		client:   http.DefaultClient,
		timeout:  DefaultRemoteTimeout,
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.breakerThreshold > 0 {
		r.breaker = r.newBreaker()
	}

	return r, nil
}

func (r *RemoteResolver) newBreaker() *gobreaker.CircuitBreaker {
	threshold := r.breakerThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "identity-service",
		MaxRequests: 1,
		Interval:    r.breakerTimeout,
		Timeout:     r.breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("identity service circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			r.metrics.setBreakerState(breakerStateValue(to))
		},
		IsSuccessful: func(err error) bool {
			var aborted *callerAbortedError
			if errors.As(err, &aborted) {
				return true
			}
			var re *RemoteError
			if errors.As(err, &re) && re.Kind == ErrUnauthorized {
				return re.StatusCode < http.StatusInternalServerError
			}
			return err == nil
		},
	})
}

// Resolve looks credential up at the identity service. Errors match
// ErrUnauthorized when the service answered without naming a subject and
// ErrUnreachable when it could not be asked.
func (r *RemoteResolver) Resolve(ctx context.Context, credential string) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "identity.RemoteResolve",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", r.endpoint)),
	)
	defer span.End()

	subject, err := r.resolve(ctx, credential)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return subject, nil
}

func (r *RemoteResolver) resolve(ctx context.Context, credential string) (string, error) {
	if r.limiter != nil && !r.limiter.Allow() {
		r.metrics.recordRemote("rate_limited", 0)
		return "", unreachable(errors.New("lookup rate limit exceeded"))
	}

	if r.breaker == nil {
		return r.lookup(ctx, credential)
	}

	if err := ctx.Err(); err != nil {
		return "", unreachable(err)
	}

	// A lookup cut short by the caller says nothing about the identity
	// service and must not count against the breaker.
	result, err := r.breaker.Execute(func() (interface{}, error) {
		subject, err := r.lookup(ctx, credential)
		if err != nil && ctx.Err() != nil {
			return nil, &callerAbortedError{cause: err}
		}
		return subject, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		r.metrics.recordRemote("circuit_open", 0)
		return "", unreachable(err)
	}
	var aborted *callerAbortedError
	if errors.As(err, &aborted) {
		return "", aborted.cause
	}
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (r *RemoteResolver) lookup(ctx context.Context, credential string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint, http.NoBody)
	if err != nil {
		return "", unreachable(err)
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.metrics.recordRemote("unreachable", time.Since(start))
		r.logger.Warn("identity service unreachable",
			observability.String("endpoint", r.endpoint),
			observability.Error(err),
		)
		return "", unreachable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWhoamiBody))
	elapsed := time.Since(start)
	if err != nil {
		r.metrics.recordRemote("unreachable", elapsed)
		return "", unreachable(fmt.Errorf("read whoami response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		r.metrics.recordRemote("unauthorized", elapsed)
		return "", unauthorized(resp.StatusCode, nil)
	}

	subject, err := decodeWhoami(body)
	if err != nil {
		r.metrics.recordRemote("unauthorized", elapsed)
		return "", unauthorized(resp.StatusCode, err)
	}
	if subject == "" {
		r.metrics.recordRemote("unauthorized", elapsed)
		return "", unauthorized(resp.StatusCode, errors.New("response names no subject"))
	}

	r.metrics.recordRemote("success", elapsed)
	return subject, nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}
