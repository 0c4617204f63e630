package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	router "github.com/dkeye/tribecall/internal/adapters/http"
	"github.com/dkeye/tribecall/internal/app/hub"
	"github.com/dkeye/tribecall/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func relayCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "run the signaling relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Relay.Port = port
			}
			ctx := cmd.Context()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			h := hub.New(
				hub.WithPolicy(hub.StrikePolicy{MaxStrikes: cfg.Relay.MaxStrikes}),
				hub.WithMetrics(metrics.NewRelay(reg)),
			)

			addr := fmt.Sprintf(":%d", cfg.Relay.Port)
			srv := &http.Server{
				Addr:    addr,
				Handler: router.SetupRelayRouter(ctx, cfg, h, reg),
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Msg("relay started")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Server forced to shutdown")
			}
			log.Info().Msg("Server exited gracefully")
			return nil
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port, overrides relay.port")
	return cmd
}
