package identity

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/vyrodovalexey/authgw/internal/observability"
)

// Source names the step that produced a subject.
type Source string

// Resolution sources.
const (
	SourceCache  Source = "cache"
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceNone   Source = "none"
)

// Resolution is a successfully resolved identity.
type Resolution struct {
	Subject string
	Source  Source
}

// Remote resolves credentials against an authoritative identity service.
type Remote interface {
	Resolve(ctx context.Context, credential string) (string, error)
}

// outcome is a step result: resolved when subject is set, failed when err
// is set, skipped when neither.
type outcome struct {
	subject string
	err     error
}

func resolved(subject string) outcome { return outcome{subject: subject} }
func failed(err error) outcome        { return outcome{err: err} }
func skipped() outcome                { return outcome{} }

type step struct {
	source Source
	run    func(ctx context.Context, credential string) outcome
}

// Resolver turns credentials into subjects by trying the cache, then local
// verification, then the identity service.
type Resolver struct {
	cache   *Cache
	local   Verifier
	remote  Remote
	logger  observability.Logger
	metrics *Metrics
	group   singleflight.Group
	steps   []step
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLocalVerifier enables local verification. Without it the chain goes
// straight from the cache to the identity service.
func WithLocalVerifier(v Verifier) ResolverOption {
	return func(r *Resolver) {
		r.local = v
	}
}

// WithResolverLogger sets the logger.
func WithResolverLogger(logger observability.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithResolverMetrics sets the metrics recorder.
func WithResolverMetrics(m *Metrics) ResolverOption {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver builds the resolution chain.
func NewResolver(cache *Cache, remote Remote, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cache:  cache,
		remote: remote,
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(r)
	}

	r.steps = append(r.steps, step{source: SourceCache, run: r.fromCache})
	if r.local != nil {
		r.steps = append(r.steps, step{source: SourceLocal, run: r.fromLocal})
	}
	r.steps = append(r.steps, step{source: SourceRemote, run: r.fromRemote})

	return r
}

// Resolve returns the subject for credential. Subjects produced by local
// verification or the identity service are cached. On failure the error
// matches ErrUnauthenticated.
func (r *Resolver) Resolve(ctx context.Context, credential string) (Resolution, error) {
	if credential == "" {
		r.metrics.recordResolution(SourceNone, false, 0)
		return Resolution{}, ErrNoCredential
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "identity.Resolve")
	defer span.End()

	start := time.Now()
	logger := r.logger.WithContext(ctx).With(
		observability.String("credential", Fingerprint(credential)),
	)

	var causes []error
	for _, s := range r.steps {
		out := s.run(ctx, credential)
		if out.subject != "" {
			if s.source != SourceCache {
				r.cache.Put(credential, out.subject)
			}
			r.metrics.recordResolution(s.source, true, time.Since(start))
			span.SetAttributes(attribute.String("identity.source", string(s.source)))
			logger.Debug("identity resolved",
				observability.String("source", string(s.source)),
				observability.String("subject", out.subject),
			)
			return Resolution{Subject: out.subject, Source: s.source}, nil
		}
		if out.err != nil {
			causes = append(causes, out.err)
			logger.Debug("identity step failed",
				observability.String("source", string(s.source)),
				observability.Error(out.err),
			)
		}
	}

	err := &ResolutionError{Causes: causes}
	r.metrics.recordResolution(SourceNone, false, time.Since(start))
	span.RecordError(err)
	span.SetStatus(codes.Error, "unauthenticated")
	logger.Info("identity resolution failed", observability.Error(err))
	return Resolution{}, err
}

func (r *Resolver) fromCache(_ context.Context, credential string) outcome {
	if subject, ok := r.cache.Get(credential); ok {
		return resolved(subject)
	}
	return skipped()
}

func (r *Resolver) fromLocal(ctx context.Context, credential string) outcome {
	subject, err := r.local.Verify(ctx, credential)
	if err != nil {
		return failed(err)
	}
	return resolved(subject)
}

// fromRemote collapses concurrent lookups of the same credential into one
// identity service call. The shared call is detached from any single
// caller's cancellation; each caller stops waiting when its own context
// ends.
func (r *Resolver) fromRemote(ctx context.Context, credential string) outcome {
	ch := r.group.DoChan(credential, func() (interface{}, error) {
		return r.remote.Resolve(context.WithoutCancel(ctx), credential)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return failed(res.Err)
		}
		return resolved(res.Val.(string))
	case <-ctx.Done():
		return failed(unreachable(ctx.Err()))
	}
}
