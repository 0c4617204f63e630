package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dkeye/tribecall/internal/adapters/capture"
	router "github.com/dkeye/tribecall/internal/adapters/http"
	"github.com/dkeye/tribecall/internal/adapters/rtc"
	"github.com/dkeye/tribecall/internal/adapters/wsclient"
	"github.com/dkeye/tribecall/internal/app/call"
	"github.com/dkeye/tribecall/internal/app/media"
	"github.com/dkeye/tribecall/internal/config"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/dkeye/tribecall/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func clientCmd() *cobra.Command {
	var identity, relayURL string
	cmd := &cobra.Command{
		Use:   "client",
		Short: "run a call endpoint with a local control API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if identity != "" {
				cfg.Client.Identity = identity
			}
			if relayURL != "" {
				cfg.Client.RelayURL = relayURL
			}
			return runClient(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&identity, "identity", "i", "", "local identity, overrides client.identity")
	cmd.Flags().StringVarP(&relayURL, "relay", "r", "", "relay base url, overrides client.relay_url")
	return cmd
}

func runClient(ctx context.Context, cfg *config.Config) error {
	self, err := domain.ParseIdentity(cfg.Client.Identity)
	if err != nil {
		return fmt.Errorf("client identity: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	devices, err := capture.NewDevices(capture.Options{
		Width:        cfg.Call.VideoWidth,
		Height:       cfg.Call.VideoHeight,
		VideoBitRate: cfg.Call.VideoBitRate,
	})
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}

	servers, err := rtc.ParseICEServers(cfg.Call.ICEServers, cfg.Call.TURNUsername, cfg.Call.TURNCredential)
	if err != nil {
		return err
	}
	transports, err := rtc.NewFactory(rtc.Options{
		ICEServers:          servers,
		PortMin:             cfg.Call.UDPPortMin,
		PortMax:             cfg.Call.UDPPortMax,
		DisconnectedTimeout: cfg.Call.ICEDisconnectedTimeout,
		FailedTimeout:       cfg.Call.ICEFailedTimeout,
		Codecs:              devices.PopulateMediaEngine,
		LoggerFactory:       rtc.NewZerologFactory(log.Logger),
	})
	if err != nil {
		return err
	}

	sig, err := wsclient.New(wsclient.Options{
		RelayURL:     cfg.Client.RelayURL,
		Identity:     self,
		ReconnectMin: cfg.Client.ReconnectMin,
		ReconnectMax: cfg.Client.ReconnectMax,
	})
	if err != nil {
		return err
	}

	machine := call.New(self, sig, transports,
		media.NewManager(devices, media.WithAcquireTimeout(cfg.Call.AcquireTimeout)),
		call.Config{
			RingTimeout:       cfg.Call.RingTimeout,
			ICEConnectTimeout: cfg.Call.ICEConnectTimeout,
		},
		call.WithMetrics(metrics.NewCalls(reg)),
	)

	g, gctx := errgroup.WithContext(ctx)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Client.ControlPort)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.SetupControlRouter(cfg, machine, sig, reg),
		// Event streams end with the client instead of holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return gctx },
	}

	g.Go(func() error {
		// The machine sends its farewell on shutdown, so the relay link
		// closes only after it returns.
		defer sig.Close()
		return machine.Run(gctx)
	})
	g.Go(func() error { return sig.Run(gctx) })
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("identity", self.String()).Msg("control API started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info().Msg("client exited")
	return err
}
