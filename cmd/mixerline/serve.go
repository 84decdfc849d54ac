package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mixerline/internal/api"
	"mixerline/internal/engine"
	"mixerline/internal/locks"
	"mixerline/internal/monitoring"

	"github.com/gin-gonic/gin"
	"github.com/heptiolabs/healthcheck"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, done, err := setup(opts)
			if err != nil {
				return err
			}
			defer done()

			zap.S().Infof("This is mixerline build date: %s", buildtime)

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			delay, err := cfg.Locks.MaxDelayDuration()
			if err != nil {
				return err
			}
			monitor := monitoring.NewMonitor()
			e := engine.New(db, engine.Options{
				Locks:   locks.New(cfg.Locks.MaxRetry, delay),
				Monitor: monitor,
			})

			health := healthcheck.NewHandler()
			health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))
			health.AddReadinessCheck("database", healthcheck.DatabasePingCheck(db.DB(), time.Second))

			if cfg.Auth.Disabled {
				zap.S().Warn("Authentication is disabled, every request acts as admin")
			}
			gin.SetMode(gin.ReleaseMode)
			server := api.NewServer(e, api.Options{
				JWTSecret:    cfg.Auth.JWTSecret,
				AuthDisabled: cfg.Auth.Disabled,
				Health:       health,
			})

			servers := []*http.Server{{
				Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
				Handler: server.Router,
			}}
			if cfg.Metrics.Enabled {
				mux := http.NewServeMux()
				mux.Handle(cfg.Metrics.Path, monitor.Handler())
				servers = append(servers, &http.Server{
					Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
					Handler: mux,
				})
			}

			errs := make(chan error, len(servers))
			for _, srv := range servers {
				go func(srv *http.Server) {
					zap.S().Infow("Listening", "addr", srv.Addr)
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errs <- err
					}
				}(srv)
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
			var runErr error
			select {
			case sig := <-sigs:
				zap.S().Infow("Received signal, shutting down", "signal", sig.String())
			case runErr = <-errs:
				zap.S().Errorw("Server failed", "error", runErr)
			}

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			for _, srv := range servers {
				if err := srv.Shutdown(ctx); err != nil {
					zap.S().Errorw("Shutdown error", "addr", srv.Addr, "error", err)
				}
			}
			return runErr
		},
	}
}
