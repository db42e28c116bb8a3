package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/authgw/internal/observability"
)

// DefaultReadinessProbeTimeout bounds a readiness run.
const DefaultReadinessProbeTimeout = 5 * time.Second

// Probe paths.
const (
	LivenessPath  = "/healthz"
	ReadinessPath = "/readyz"
)

// HealthCheck is a named readiness check.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthCheckFunc adapts a function to HealthCheck.
type HealthCheckFunc struct {
	name      string
	checkFunc func(ctx context.Context) error
}

// NewHealthCheckFunc creates a named check from a function.
func NewHealthCheckFunc(name string, check func(ctx context.Context) error) *HealthCheckFunc {
	return &HealthCheckFunc{name: name, checkFunc: check}
}

// Name returns the name of the check.
func (f *HealthCheckFunc) Name() string {
	return f.name
}

// Check runs the check.
func (f *HealthCheckFunc) Check(ctx context.Context) error {
	return f.checkFunc(ctx)
}

// Status is the readiness response body.
type Status struct {
	Status    string                  `json:"status"`
	Timestamp time.Time               `json:"timestamp"`
	Uptime    string                  `json:"uptime,omitempty"`
	Checks    map[string]*CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Handler serves the probes.
type Handler struct {
	mu        sync.RWMutex
	checks    []HealthCheck
	logger    observability.Logger
	startTime time.Time
	timeout   time.Duration
}

// NewHandler creates a probe handler.
func NewHandler(logger observability.Logger) *Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handler{
		logger:    logger,
		startTime: time.Now(),
		timeout:   DefaultReadinessProbeTimeout,
	}
}

// SetTimeout changes the readiness run timeout.
func (h *Handler) SetTimeout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d > 0 {
		h.timeout = d
	}
}

// AddCheck registers a readiness check.
func (h *Handler) AddCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// LivenessHandler always answers ok.
func (h *Handler) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
		})
	}
}

// ReadinessHandler runs all checks.
func (h *Handler) ReadinessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.mu.RLock()
		timeout := h.timeout
		h.mu.RUnlock()

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		status := h.runChecks(ctx)
		status.Uptime = time.Since(h.startTime).Round(time.Second).String()

		code := http.StatusOK
		if status.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	}
}

func (h *Handler) runChecks(ctx context.Context) *Status {
	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := &Status{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]*CheckResult, len(checks)),
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, check := range checks {
		wg.Add(1)
		go func(hc HealthCheck) {
			defer wg.Done()

			start := time.Now()
			err := hc.Check(ctx)
			result := &CheckResult{Status: "ok", Duration: time.Since(start).String()}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Status = "error"
				result.Error = err.Error()
				status.Status = "error"
				h.logger.Warn("readiness check failed",
					observability.String("check", hc.Name()),
					observability.Error(err),
				)
			}
			status.Checks[hc.Name()] = result
		}(check)
	}
	wg.Wait()

	return status
}

// RegisterRoutes registers the probe routes on engine.
func (h *Handler) RegisterRoutes(engine *gin.Engine) {
	engine.GET(LivenessPath, h.LivenessHandler())
	engine.GET(ReadinessPath, h.ReadinessHandler())
}
