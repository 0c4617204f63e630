package rtc

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/tribecall/internal/core"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"
)

type Options struct {
	ICEServers []webrtc.ICEServer

	// Zero means pion's ephemeral range.
	PortMin, PortMax uint16

	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAlive           time.Duration

	// Codecs registers codecs on the engine. Nil registers pion's defaults.
	Codecs func(*webrtc.MediaEngine) error

	LoggerFactory logging.LoggerFactory
}

// Factory builds one PeerConnection per call from a shared API.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

var _ core.TransportFactory = (*Factory)(nil)

func NewFactory(opts Options) (*Factory, error) {
	me := &webrtc.MediaEngine{}
	register := opts.Codecs
	if register == nil {
		register = func(m *webrtc.MediaEngine) error { return m.RegisterDefaultCodecs() }
	}
	if err := register(me); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create pli interceptor: %w", err)
	}
	ir.Add(pli)

	se := webrtc.SettingEngine{}
	disc, failed, keep := opts.DisconnectedTimeout, opts.FailedTimeout, opts.KeepAlive
	if disc <= 0 {
		disc = 5 * time.Second
	}
	if failed <= 0 {
		failed = 25 * time.Second
	}
	if keep <= 0 {
		keep = 2 * time.Second
	}
	se.SetICETimeouts(disc, failed, keep)
	if opts.PortMin > 0 && opts.PortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(opts.PortMin, opts.PortMax); err != nil {
			return nil, fmt.Errorf("set udp port range: %w", err)
		}
	}
	if opts.LoggerFactory != nil {
		se.LoggerFactory = opts.LoggerFactory
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	)
	return &Factory{
		api:    api,
		config: webrtc.Configuration{ICEServers: opts.ICEServers},
	}, nil
}

func (f *Factory) NewTransport(ctx context.Context, id domain.CallID) (core.PeerTransport, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return newTransport(ctx, pc, id), nil
}
