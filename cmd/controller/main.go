/*
Copyright 2026 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deckhouse/sds-common-lib/slogh"
	u "github.com/deckhouse/sds-common-lib/utils"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/deckhouse/sds-volume-control/internal/engine"
	"github.com/deckhouse/sds-volume-control/internal/ledger"
	"github.com/deckhouse/sds-volume-control/internal/restapi"
	"github.com/deckhouse/sds-volume-control/internal/service/nexus"
	"github.com/deckhouse/sds-volume-control/internal/service/replica"
	"github.com/deckhouse/sds-volume-control/internal/service/volume"
	"github.com/deckhouse/sds-volume-control/internal/store/etcd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slogh.EnableConfigReload(ctx, nil)
	logHandler := &slogh.Handler{}
	log := slog.New(logHandler).
		With("startedAt", time.Now().Format(time.RFC3339))
	slog.SetDefault(log)

	log.Info("controller app started")

	err := run(ctx, log, logr.FromSlogHandler(logHandler))
	if !errors.Is(err, context.Canceled) || ctx.Err() != context.Canceled {
		log.Error("exited unexpectedly", "err", err, "ctxerr", ctx.Err())
		os.Exit(1)
	}
	log.Info(
		"gracefully shutdown",
		// cleanup errors do not affect status code, but worth logging
		"err", err,
	)
}

func run(ctx context.Context, log *slog.Logger, logger logr.Logger) (err error) {
	// The derived Context is canceled the first time a function passed to eg.Go
	// returns a non-nil error or the first time Wait returns
	eg, ctx := errgroup.WithContext(ctx)

	envConfig, err := GetEnvConfig()
	if err != nil {
		return u.LogError(log, fmt.Errorf("getting env config: %w", err))
	}

	// STORE
	st, err := etcd.New(ctx, etcd.Options{Endpoints: envConfig.EtcdEndpoints})
	if err != nil {
		return u.LogError(log, fmt.Errorf("connecting spec store: %w", err))
	}
	defer func() { _ = st.Close() }()

	// ENGINE
	eng, err := engine.NewClient(envConfig.EngineGatewayURL, envConfig.EngineTimeout)
	if err != nil {
		return u.LogError(log, fmt.Errorf("building engine client: %w", err))
	}

	// METRICS
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// LEDGER
	led, err := ledger.New(ledger.Options{
		Store:   st,
		Engine:  eng,
		Log:     logger,
		Metrics: ledger.NewMetrics(registry),
	})
	if err != nil {
		return u.LogError(log, fmt.Errorf("building ledger: %w", err))
	}
	if err := led.Open(ctx); err != nil {
		return u.LogError(log, fmt.Errorf("opening ledger: %w", err))
	}

	// SERVICES
	volumes, err := volume.New(led, eng, logger)
	if err != nil {
		return u.LogError(log, fmt.Errorf("building volume service: %w", err))
	}
	replicas, err := replica.New(led, eng, logger)
	if err != nil {
		return u.LogError(log, fmt.Errorf("building replica service: %w", err))
	}
	nexuses, err := nexus.New(led, eng, logger)
	if err != nil {
		return u.LogError(log, fmt.Errorf("building nexus service: %w", err))
	}

	// REST API
	apiSrv, err := restapi.NewServer(logger, led, volumes, replicas, nexuses)
	if err != nil {
		return u.LogError(log, fmt.Errorf("building REST API server: %w", err))
	}
	serveHTTP(ctx, eg, log, "api", envConfig.APIBindAddress, apiSrv.Handler())

	// HEALTH
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	healthMux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	serveHTTP(ctx, eg, log, "health", envConfig.HealthProbeBindAddress, healthMux)

	// METRICS ENDPOINT
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	serveHTTP(ctx, eg, log, "metrics", envConfig.MetricsBindAddress, metricsMux)

	return eg.Wait()
}

// serveHTTP runs one http server under the group and shuts it down when ctx
// is canceled.
func serveHTTP(ctx context.Context, eg *errgroup.Group, log *slog.Logger, name, addr string, handler http.Handler) {
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	eg.Go(func() error {
		log.Info("http server started", "name", name, "addr", addr)
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return ctx.Err()
		}
		return u.LogError(log, fmt.Errorf("serving %s: %w", name, err))
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return u.LogError(log, fmt.Errorf("shutting down %s: %w", name, err))
		}
		return ctx.Err()
	})
}
