package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/vyrodovalexey/authgw/internal/backend"
	"github.com/vyrodovalexey/authgw/internal/config"
	"github.com/vyrodovalexey/authgw/internal/health"
	"github.com/vyrodovalexey/authgw/internal/identity"
	"github.com/vyrodovalexey/authgw/internal/observability"
	"github.com/vyrodovalexey/authgw/internal/proxy"
	"github.com/vyrodovalexey/authgw/internal/secrets"
	"github.com/vyrodovalexey/authgw/internal/server"
)

const metricsNamespace = "authgw"

// application holds all application components.
type application struct {
	config   *config.GatewayConfig
	server   *server.Server
	registry *backend.Registry
	pool     *backend.ConnectionPool
	cache    *identity.Cache
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	reload   *reloadMetrics

	reloadMu sync.Mutex
}

// newApplication wires every component from cfg.
func newApplication(ctx context.Context, cfg *config.GatewayConfig, logger observability.Logger) (*application, error) {
	metrics := observability.NewMetrics(metricsNamespace)
	metrics.SetBuildInfo(version, gitCommit, buildTime)

	tracer, err := initTracer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	registry := backend.NewRegistry(logger)
	if err := registry.Load(cfg.Services); err != nil {
		return nil, fmt.Errorf("failed to load services: %w", err)
	}

	identityMetrics := identity.NewMetrics(metricsNamespace)
	identityMetrics.Init()
	metrics.MustRegisterCollector(identityMetrics.Collectors()...)

	proxyMetrics := proxy.NewMetrics(metricsNamespace)
	proxyMetrics.MustRegister(metrics.Registry())

	secretMetrics := secrets.NewMetrics(metricsNamespace)
	secretMetrics.MustRegister(metrics.Registry())

	resolver, cache, err := newResolver(ctx, cfg, logger, identityMetrics, secretMetrics)
	if err != nil {
		return nil, err
	}

	pool := backend.NewConnectionPool(backend.DefaultPoolConfig())
	forwarder := proxy.NewForwarder(registry, pool.Client(),
		proxy.WithRoutePrefix(cfg.Proxy.RoutePrefix),
		proxy.WithIdentityHeader(cfg.Proxy.IdentityHeader),
		proxy.WithMultipartMemory(cfg.Proxy.MultipartMemory),
		proxy.WithForwarderLogger(logger),
		proxy.WithForwarderMetrics(proxyMetrics),
	)

	extractor := identity.CredentialExtractor{
		Cookie: cfg.Identity.Credential.Cookie,
		Header: cfg.Identity.Credential.Header,
	}
	handler := proxy.NewHandler(extractor, resolver, forwarder, logger)

	probes := health.NewHandler(logger)
	probes.AddCheck(health.NewHealthCheckFunc("services", func(context.Context) error {
		if registry.Len() == 0 {
			return backend.ErrNoServices
		}
		return nil
	}))

	srvCfg := server.Config{
		Address:            cfg.Server.Address,
		ReadTimeout:        cfg.Server.ReadTimeout.Duration(),
		WriteTimeout:       cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:        cfg.Server.IdleTimeout.Duration(),
		MaxHeaderBytes:     1 << 20,
		MaxRequestBodySize: cfg.Server.MaxRequestBodySize,
		RoutePrefix:        cfg.Proxy.RoutePrefix,
	}
	opts := []server.Option{server.WithLogger(logger), server.WithHealth(probes)}
	if cfg.Observability.Metrics.Enabled {
		srvCfg.MetricsPath = cfg.Observability.Metrics.Path
		opts = append(opts, server.WithMetrics(metrics))
	}

	return &application{
		config:   cfg,
		server:   server.New(srvCfg, handler, opts...),
		registry: registry,
		pool:     pool,
		cache:    cache,
		metrics:  metrics,
		tracer:   tracer,
		reload:   newReloadMetrics(metrics),
	}, nil
}

// newResolver builds the identity cache, the optional local verifier and
// the remote resolver.
func newResolver(
	ctx context.Context,
	cfg *config.GatewayConfig,
	logger observability.Logger,
	metrics *identity.Metrics,
	secretMetrics *secrets.Metrics,
) (*identity.Resolver, *identity.Cache, error) {
	idc := cfg.Identity

	cache := identity.NewCache(
		identity.WithMaxEntries(idc.Cache.MaxEntries),
		identity.WithCacheMetrics(metrics),
	)

	remoteOpts := []identity.RemoteOption{
		identity.WithRemoteTimeout(idc.Remote.Timeout.Duration()),
		identity.WithRemoteLogger(logger),
		identity.WithRemoteMetrics(metrics),
	}
	if cb := idc.Remote.CircuitBreaker; cb.Enabled {
		remoteOpts = append(remoteOpts, identity.WithCircuitBreaker(cb.Threshold, cb.Timeout.Duration()))
	}
	if rl := idc.Remote.RateLimit; rl.RequestsPerSecond > 0 {
		remoteOpts = append(remoteOpts, identity.WithRateLimit(rl.RequestsPerSecond, rl.Burst))
	}
	remote, err := identity.NewRemoteResolver(idc.Remote.BaseURL, idc.Remote.WhoamiPath, remoteOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create identity service client: %w", err)
	}

	resolverOpts := []identity.ResolverOption{
		identity.WithResolverLogger(logger),
		identity.WithResolverMetrics(metrics),
	}

	if cfg.LocalVerificationEnabled() {
		secret, err := secrets.Load(ctx, idc.Verification.Secret, logger, secretMetrics)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load verification secret: %w", err)
		}
		verifier, err := identity.NewLocalVerifier(secret,
			identity.WithAlgorithm(idc.Verification.Algorithm),
			identity.WithIssuer(idc.Verification.Issuer),
			identity.WithAudience(idc.Verification.Audience),
			identity.WithClockSkew(idc.Verification.ClockSkew.Duration()),
			identity.WithVerifierLogger(logger),
			identity.WithVerifierMetrics(metrics),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create local verifier: %w", err)
		}
		resolverOpts = append(resolverOpts, identity.WithLocalVerifier(verifier))
	} else {
		logger.Info("no verification secret configured, every cache miss is resolved remotely")
	}

	return identity.NewResolver(cache, remote, resolverOpts...), cache, nil
}

// initTracer initializes the tracer.
func initTracer(cfg *config.GatewayConfig) (*observability.Tracer, error) {
	t := cfg.Observability.Tracing
	serviceName := t.ServiceName
	if serviceName == "" {
		serviceName = config.DefaultServiceName
	}
	return observability.NewTracer(observability.TracerConfig{
		ServiceName:  serviceName,
		OTLPEndpoint: t.OTLPEndpoint,
		SamplingRate: t.SamplingRate,
		Enabled:      t.Enabled,
	})
}

// close releases resources held outside the HTTP server.
func (a *application) close(ctx context.Context) error {
	a.pool.CloseIdleConnections()
	return a.tracer.Shutdown(ctx)
}
