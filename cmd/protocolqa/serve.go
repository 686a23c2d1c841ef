package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/protocolqa/internal/mcp"
)

func serveCMD(cfgPath *string) *cobra.Command {
	var protocol string
	var metricsAddr string

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			if metricsAddr != "" {
				a.cfg.Metrics.Addr = metricsAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if protocol != "" {
				if _, err := a.ingest(ctx, protocol, false); err != nil {
					return err
				}
			} else if err := a.loadIfPresent(ctx); err != nil {
				return err
			}

			a.logger.Info("protocolqa MCP server starting", "version", version)
			server := mcp.NewServer(a.engine, a.cfg.Index.Options(), a.logger)

			g, gctx := errgroup.WithContext(ctx)
			if a.cfg.Metrics.Addr != "" {
				httpServer := &http.Server{
					Addr:              a.cfg.Metrics.Addr,
					Handler:           metricsMux(a),
					ReadHeaderTimeout: 5 * time.Second,
				}
				g.Go(func() error {
					a.logger.Info("metrics listening", "addr", httpServer.Addr)
					if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return httpServer.Shutdown(shutdownCtx)
				})
			}

			g.Go(func() error {
				defer stop()
				a.logger.Info("MCP server ready, listening on stdio")
				return server.Serve(gctx)
			})

			err = g.Wait()
			a.logger.Info("server stopped")
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	serve.Flags().StringVar(&protocol, "protocol", "", "protocol text file to ingest at startup")
	serve.Flags().StringVar(&metricsAddr, "metrics-addr", "", "listen address for /metrics (overrides config)")
	return serve
}

func metricsMux(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		st, err := a.engine.Status(r.Context())
		if err != nil || !st.Indexed {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
