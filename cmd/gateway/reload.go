package main

import (
	"context"
	"reflect"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/authgw/internal/config"
	"github.com/vyrodovalexey/authgw/internal/observability"
)

// reloadMetrics holds Prometheus metrics for configuration reloads.
type reloadMetrics struct {
	reloadTotal       *prometheus.CounterVec
	reloadDuration    prometheus.Histogram
	reloadLastSuccess prometheus.Gauge
	watcherStatus     prometheus.Gauge
}

// newReloadMetrics creates reload metrics on m's registry.
func newReloadMetrics(m *observability.Metrics) *reloadMetrics {
	rm := &reloadMetrics{
		reloadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "config_reload_total",
				Help:      "Total number of configuration reloads",
			},
			[]string{"result"},
		),
		reloadDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "config_reload_duration_seconds",
				Help:      "Duration of configuration reload operations",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
			},
		),
		reloadLastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "config_reload_last_success_timestamp",
				Help:      "Timestamp of last successful config reload",
			},
		),
		watcherStatus: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "config_watcher_running",
				Help:      "Whether the config file watcher is running (1=running, 0=stopped)",
			},
		),
	}

	m.MustRegisterCollector(
		rm.reloadTotal,
		rm.reloadDuration,
		rm.reloadLastSuccess,
		rm.watcherStatus,
	)
	return rm
}

// startConfigWatcher starts the configuration watcher. A watcher that
// cannot start is logged and the gateway keeps its startup configuration.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	configPath string,
	logger observability.Logger,
) *config.Watcher {
	watcher, err := config.NewWatcher(configPath, func(newCfg *config.GatewayConfig) {
		logger.Info("configuration changed, reloading")
		app.applyConfig(newCfg, logger)
	},
		config.WithLogger(logger),
		config.WithErrorCallback(func(error) {
			app.reload.reloadTotal.WithLabelValues("error").Inc()
		}),
	)
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		app.reload.watcherStatus.Set(0)
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		app.reload.watcherStatus.Set(0)
		_ = watcher.Stop()
		return nil
	}

	app.reload.watcherStatus.Set(1)
	return watcher
}

// applyConfig applies a new configuration revision. Only the service map
// is hot-reloaded; every other section needs a restart.
func (a *application) applyConfig(newCfg *config.GatewayConfig, logger observability.Logger) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	start := time.Now()
	defer func() {
		a.reload.reloadDuration.Observe(time.Since(start).Seconds())
	}()

	if err := a.registry.Load(newCfg.Services); err != nil {
		logger.Error("failed to reload services", observability.Error(err))
		a.reload.reloadTotal.WithLabelValues("error").Inc()
		return
	}

	for _, section := range staticSectionsChanged(a.config, newCfg) {
		logger.Warn("configuration section changed but is NOT hot-reloaded; restart the gateway to apply it",
			observability.String("section", section),
		)
	}

	a.config.Services = newCfg.Services
	a.reload.reloadTotal.WithLabelValues("success").Inc()
	a.reload.reloadLastSuccess.SetToCurrentTime()
	logger.Info("services reloaded", observability.Int("services", a.registry.Len()))
}

// staticSectionsChanged names the sections that differ between old and
// new but are only read at startup.
func staticSectionsChanged(oldCfg, newCfg *config.GatewayConfig) []string {
	var changed []string
	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
	}
	if !reflect.DeepEqual(oldCfg.Proxy, newCfg.Proxy) {
		changed = append(changed, "proxy")
	}
	if !reflect.DeepEqual(oldCfg.Identity, newCfg.Identity) {
		changed = append(changed, "identity")
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
	}
	if !reflect.DeepEqual(oldCfg.Observability, newCfg.Observability) {
		changed = append(changed, "observability")
	}
	return changed
}
