// Package health serves the gateway's liveness and readiness probes.
//
// Liveness (/healthz) answers ok while the process runs. Readiness
// (/readyz) runs every registered check concurrently under a timeout and
// answers 503 when any of them fails.
//
//	h := health.NewHandler(logger)
//	h.AddCheck(health.NewHealthCheckFunc("services", func(ctx context.Context) error {
//	    if registry.Len() == 0 {
//	        return errors.New("no services configured")
//	    }
//	    return nil
//	}))
//	h.RegisterRoutes(engine)
package health
