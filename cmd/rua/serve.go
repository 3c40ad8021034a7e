package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"rua/internal/adapters/httpapi"
)

func newServeCommand(load func(*cobra.Command) (*app, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the registry HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	if err := a.resumePendingMerges(ctx); err != nil {
		a.log.Warn().Err(err).Msg("some pending unifications need operator attention")
	}

	router := httpapi.New(a.svc, a.stats, a.exports, a.log).Router()
	metrics := promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
	servers := []*http.Server{{Addr: a.cfg.HTTP.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}}
	if a.cfg.HTTP.MetricsAddr == "" {
		router.Handle("/metrics", metrics)
	} else {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics)
		servers = append(servers, &http.Server{Addr: a.cfg.HTTP.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second})
	}

	a.exports.Start()
	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			a.log.Info().Str("addr", srv.Addr).Msg("listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		errs = append(errs, a.exports.Stop(shutdownCtx))
		a.log.Info().Msg("shut down")
		return errors.Join(errs...)
	})
	return g.Wait()
}
