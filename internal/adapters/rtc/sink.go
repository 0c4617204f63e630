package rtc

import (
	"context"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// SinkStats counts what arrived on one remote track.
type SinkStats struct {
	Packets uint64
	Bytes   uint64
	Lost    uint64
}

// remoteSink consumes a remote track so pion's receive buffers keep moving.
// Playback is out of scope; the sink only keeps reception stats.
type remoteSink struct {
	src  *webrtc.TrackRemote
	kind string

	mu      sync.Mutex
	stats   SinkStats
	started bool
	lastSeq uint16
}

func newRemoteSink(src *webrtc.TrackRemote) *remoteSink {
	return &remoteSink{src: src, kind: src.Kind().String()}
}

func (s *remoteSink) loop(ctx context.Context, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := s.src.ReadRTP()
		if err != nil {
			logger.Debug().Err(err).Str("kind", s.kind).Msg("remote track read stopped")
			return
		}
		s.observe(pkt)
	}
}

func (s *remoteSink) observe(pkt *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Packets++
	s.stats.Bytes += uint64(len(pkt.Payload))
	if s.started {
		// uint16 arithmetic wraps with the sequence space.
		gap := pkt.SequenceNumber - s.lastSeq
		if gap > 1 && gap < 0x8000 {
			s.stats.Lost += uint64(gap - 1)
		}
		if gap == 0 || gap >= 0x8000 {
			// duplicate or reordered
			return
		}
	}
	s.started = true
	s.lastSeq = pkt.SequenceNumber
}

func (s *remoteSink) Stats() SinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
