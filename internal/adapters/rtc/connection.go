// Package rtc implements the call transport on pion/webrtc.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dkeye/tribecall/internal/core"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/dkeye/tribecall/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNoSender = errors.New("no sender for track kind")

// Transport wraps one PeerConnection. Callbacks may be set at any time
// before the local description is created.
type Transport struct {
	pc     *webrtc.PeerConnection
	id     domain.CallID
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu      sync.Mutex
	senders map[core.TrackKind]*webrtc.RTPSender
	onICE   func(protocol.Candidate)
	onState func(core.TransportState)
	sinks   []*remoteSink

	closeOnce sync.Once
}

func newTransport(ctx context.Context, pc *webrtc.PeerConnection, id domain.CallID) *Transport {
	ctx, cancel := context.WithCancel(ctx)
	t := &Transport{
		pc:      pc,
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With().Str("module", "webrtc").Str("call_id", id.String()).Logger(),
		senders: make(map[core.TrackKind]*webrtc.RTPSender),
	}

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		t.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		if fn := t.stateHandler(); fn != nil {
			fn(mapState(s))
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		if fn := t.iceHandler(); fn != nil {
			fn(protocol.CandidateFromPion(c.ToJSON()))
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		sink := newRemoteSink(track)
		t.mu.Lock()
		t.sinks = append(t.sinks, sink)
		t.mu.Unlock()
		go sink.loop(t.ctx, t.logger)
	})
	return t
}

func mapState(s webrtc.PeerConnectionState) core.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return core.TransportClosed
	default:
		return core.TransportNew
	}
}

func (t *Transport) iceHandler() func(protocol.Candidate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onICE
}

func (t *Transport) stateHandler() func(core.TransportState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onState
}

func (t *Transport) OnICECandidate(fn func(protocol.Candidate)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *Transport) OnStateChange(fn func(core.TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *Transport) AddTrack(tr core.LocalTrack) error {
	local := tr.Local()
	if local == nil {
		return fmt.Errorf("track %s has no rtp source", tr.ID())
	}
	sender, err := t.pc.AddTrack(local)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.senders[tr.Kind()] = sender
	t.mu.Unlock()
	go t.drainRTCP(sender)
	return nil
}

// drainRTCP keeps interceptors fed; pion needs RTCP read for NACK and reports.
func (t *Transport) drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) {
				t.logger.Debug().Err(err).Msg("rtcp reader stopped")
			}
			return
		}
	}
}

func (t *Transport) sender(kind core.TrackKind) (*webrtc.RTPSender, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.senders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSender, kind)
	}
	return s, nil
}

func (t *Transport) ReplaceTrack(kind core.TrackKind, tr core.LocalTrack) error {
	s, err := t.sender(kind)
	if err != nil {
		return err
	}
	var local webrtc.TrackLocal
	if tr != nil {
		local = tr.Local()
	}
	if err := s.ReplaceTrack(local); err != nil {
		if errors.Is(err, webrtc.ErrUnsupportedCodec) {
			return fmt.Errorf("%w: %v", core.ErrReplaceUnsupported, err)
		}
		return err
	}
	return nil
}

func (t *Transport) SwapTrack(kind core.TrackKind, tr core.LocalTrack) error {
	if s, err := t.sender(kind); err == nil {
		if err := t.pc.RemoveTrack(s); err != nil {
			return err
		}
		t.mu.Lock()
		delete(t.senders, kind)
		t.mu.Unlock()
	}
	if tr == nil {
		return nil
	}
	return t.AddTrack(tr)
}

func (t *Transport) CreateOffer() (string, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (t *Transport) CreateAnswer() (string, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (t *Transport) SetRemoteDescription(typ core.SDPType, sdp string) error {
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}
	if typ == core.SDPAnswer {
		desc.Type = webrtc.SDPTypeAnswer
	}
	return t.pc.SetRemoteDescription(desc)
}

func (t *Transport) RollbackOffer() error {
	return t.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (t *Transport) AddICECandidate(c protocol.Candidate) error {
	return t.pc.AddICECandidate(c.ToPion())
}

// Close stops the remote sinks and the peer connection.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		err = t.pc.Close()
		if err != nil {
			t.logger.Error().Err(err).Msg("close error")
			return
		}
		t.mu.Lock()
		sinks := t.sinks
		t.mu.Unlock()
		for _, s := range sinks {
			st := s.Stats()
			t.logger.Info().Str("kind", s.kind).Uint64("packets", st.Packets).Uint64("lost", st.Lost).Msg("remote track stats")
		}
		t.logger.Info().Msg("closed")
	})
	return err
}
