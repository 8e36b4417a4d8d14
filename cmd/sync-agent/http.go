package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BearBump/ParcelSync/internal/metrics"
	"github.com/BearBump/ParcelSync/internal/services/syncengine"
	"github.com/go-chi/chi/v5"
)

type agentHTTPOpts struct {
	httpAddr string
	onListen func(httpAddr string)

	agent   *agent
	metrics *metrics.Metrics
}

type agentStats struct {
	Sync        syncengine.Stats `json:"sync"`
	LastRefresh *refreshReport   `json:"lastRefresh,omitempty"`
}

func runAgentHTTPServer(ctx context.Context, opts agentHTTPOpts) error {
	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	srv := &http.Server{Handler: newAgentRouter(opts)}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("sync agent HTTP listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return ctx.Err()
}

func newAgentRouter(opts agentHTTPOpts) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(agentStats{
			Sync:        opts.agent.engine.Stats(),
			LastRefresh: opts.agent.LastRefresh(),
		})
	})
	r.Post("/trigger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		opts.agent.Trigger()
		_, _ = w.Write([]byte(`{"triggered":true}`))
	})
	if opts.metrics != nil {
		r.Handle("/metrics", opts.metrics.Handler())
	}
	return r
}
