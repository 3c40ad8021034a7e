package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"rua/internal/blob"
	"rua/internal/core"
	"rua/internal/infra/notify/kafka"
	notifymem "rua/internal/infra/notify/memory"
	"rua/internal/platform/config"
	"rua/internal/platform/logging"
	"rua/internal/platform/telemetry"
	"rua/internal/stats"
	"rua/pkg/domain"
)

// app holds the wired process components.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	store    domain.PersistentStore
	blobs    blob.Store
	svc      *core.Service
	stats    *stats.Aggregator
	exports  *stats.ExportWorker
	stderr   io.Writer
	closers  []func() error
}

func openApp(ctx context.Context, configPath string, stderr io.Writer) (_ *app, err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry(), stderr: stderr, closers: []func() error{closeLog}}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, closeStore, err := core.OpenPersistentStore(cfg.StorageConfig(), core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	if a.blobs, err = blob.Open(ctx, cfg.BlobConfig()); err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	opts := []core.Option{
		core.WithLogger(log),
		core.WithBlobStore(a.blobs),
		core.WithPolicy(cfg.CorePolicy()),
	}
	metrics, err := core.NewPrometheusMetricsRecorder(a.registry)
	if err != nil {
		return nil, err
	}
	opts = append(opts, core.WithMetrics(metrics))

	notifier, err := a.openNotifier()
	if err != nil {
		return nil, err
	}
	opts = append(opts, core.WithNotifier(notifier))

	tracer, err := a.openTracer(ctx)
	if err != nil {
		return nil, err
	}
	opts = append(opts, core.WithTracer(tracer))
	a.svc = core.NewService(store, opts...)

	cache, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}
	a.stats = stats.NewAggregator(store, stats.WithCache(cache, cfg.Stats.CacheTTL), stats.WithLogger(log))
	a.exports = stats.NewExportWorker(a.stats, a.blobs, log)
	return a, nil
}

func (a *app) openNotifier() (core.Notifier, error) {
	switch a.cfg.Notify.Driver {
	case "kafka":
		pub, err := kafka.New(a.cfg.Notify.Kafka)
		if err != nil {
			return nil, fmt.Errorf("open kafka publisher: %w", err)
		}
		a.closers = append(a.closers, func() error { pub.Close(); return nil })
		return pub, nil
	case "memory":
		return notifymem.New(), nil
	default:
		return nil, nil
	}
}

func (a *app) openTracer(ctx context.Context) (core.Tracer, error) {
	if a.cfg.Tracing.UsesProvider() {
		provider, err := telemetry.NewTracerProvider(ctx, a.cfg.Tracing, version, a.stderr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return provider.Shutdown(ctx)
		})
		return core.NewOTelTracer(provider, "rua/internal/core"), nil
	}
	switch a.cfg.Tracing.Exporter {
	case "json":
		f, err := os.OpenFile(a.cfg.Tracing.JSONPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		return core.NewJSONTracer(f), nil
	default:
		return nil, nil
	}
}

func (a *app) openCache(ctx context.Context) (stats.Cache, error) {
	if a.cfg.Stats.RedisAddr == "" {
		return stats.NewMemoryCache(), nil
	}
	client, err := stats.DialRedis(ctx, a.cfg.Stats.RedisAddr)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return stats.NewRedisCache(client), nil
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// resumePendingMerges clears unifications interrupted by a crash, removing
// their staged copies and retrying the merge where it still applies.
func (a *app) resumePendingMerges(ctx context.Context) error {
	markers, err := a.svc.PendingMerges(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, m := range markers {
		if err := a.svc.ResumePendingMerge(ctx, m.ID); err != nil {
			a.log.Error().Err(err).Str("marker", m.ID).Int64("project_id", m.ConvocatoriaProjectID).Msg("pending unification not resumed")
			errs = append(errs, err)
			continue
		}
		a.log.Info().Str("marker", m.ID).Int64("project_id", m.ConvocatoriaProjectID).Msg("pending unification resumed")
	}
	return errors.Join(errs...)
}
