// Package capture opens local camera, microphone and screen sources through
// pion/mediadevices.
package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/tribecall/internal/core"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Width, Height int
	FrameRate     float64
	VideoBitRate  int
}

func (o Options) withDefaults() Options {
	if o.Width <= 0 {
		o.Width = 640
	}
	if o.Height <= 0 {
		o.Height = 480
	}
	if o.FrameRate <= 0 {
		o.FrameRate = 30
	}
	if o.VideoBitRate <= 0 {
		o.VideoBitRate = 1_500_000
	}
	return o
}

type mediaFunc func(mediadevices.MediaStreamConstraints) (mediadevices.MediaStream, error)

// Devices implements core.MediaDevices. mediadevices calls block without a
// context, so each call runs on its own goroutine and a result that arrives
// after ctx is done is closed on arrival.
type Devices struct {
	opts     Options
	selector *mediadevices.CodecSelector
	logger   zerolog.Logger

	userMedia    mediaFunc
	displayMedia mediaFunc
}

var _ core.MediaDevices = (*Devices)(nil)

func (d *Devices) GetUserMedia(ctx context.Context, kind domain.MediaKind) ([]core.LocalTrack, error) {
	if !kind.Valid() {
		return nil, domain.ErrInvalidMediaKind
	}
	c := mediadevices.MediaStreamConstraints{
		Codec: d.selector,
		Audio: func(*mediadevices.MediaTrackConstraints) {},
	}
	if kind.HasVideo() {
		c.Video = d.cameraConstraints
	}
	tracks, err := d.open(ctx, d.userMedia, c)
	if err != nil {
		return nil, err
	}
	out := make([]core.LocalTrack, 0, len(tracks))
	for _, t := range tracks {
		device := "microphone"
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			device = "camera"
		}
		out = append(out, newTrack(t, device))
	}
	d.logger.Info().Str("media_kind", string(kind)).Int("tracks", len(out)).Msg("local media captured")
	return out, nil
}

func (d *Devices) GetDisplayMedia(ctx context.Context) (core.LocalTrack, error) {
	c := mediadevices.MediaStreamConstraints{
		Codec: d.selector,
		Video: d.screenConstraints,
	}
	tracks, err := d.open(ctx, d.displayMedia, c)
	if err != nil {
		return nil, err
	}
	var screen core.LocalTrack
	for _, t := range tracks {
		if screen == nil && t.Kind() == webrtc.RTPCodecTypeVideo {
			screen = newTrack(t, "screen")
			continue
		}
		_ = t.Close()
	}
	if screen == nil {
		return nil, fmt.Errorf("display capture returned no video track")
	}
	d.logger.Info().Str("track_id", screen.ID()).Msg("screen captured")
	return screen, nil
}

type openResult struct {
	tracks []mediadevices.Track
	err    error
}

func (d *Devices) open(ctx context.Context, fn mediaFunc, c mediadevices.MediaStreamConstraints) ([]mediadevices.Track, error) {
	if fn == nil {
		return nil, fmt.Errorf("capture unavailable on this platform")
	}
	done := make(chan openResult, 1)
	go func() {
		stream, err := fn(c)
		if err != nil {
			done <- openResult{err: err}
			return
		}
		done <- openResult{tracks: stream.GetTracks()}
	}()

	select {
	case res := <-done:
		return res.tracks, res.err
	case <-ctx.Done():
		go func() {
			res := <-done
			for _, t := range res.tracks {
				_ = t.Close()
			}
			if len(res.tracks) > 0 {
				d.logger.Debug().Int("tracks", len(res.tracks)).Msg("closed capture that finished after cancel")
			}
		}()
		return nil, ctx.Err()
	}
}

// PopulateMediaEngine registers the capture codecs so negotiated payload
// types match what the encoders produce.
func (d *Devices) PopulateMediaEngine(me *webrtc.MediaEngine) error {
	if d.selector == nil {
		return me.RegisterDefaultCodecs()
	}
	d.selector.Populate(me)
	return nil
}

// track adapts a mediadevices track to core.LocalTrack.
type track struct {
	src    mediadevices.Track
	device string
	kind   core.TrackKind

	once sync.Once
	err  error
}

func newTrack(src mediadevices.Track, device string) *track {
	kind := core.TrackAudio
	if src.Kind() == webrtc.RTPCodecTypeVideo {
		kind = core.TrackVideo
	}
	return &track{src: src, device: device, kind: kind}
}

func (t *track) ID() string                 { return t.src.ID() }
func (t *track) DeviceID() string           { return t.device }
func (t *track) Kind() core.TrackKind       { return t.kind }
func (t *track) Local() webrtc.TrackLocal   { return t.src }
func (t *track) OnEnded(fn func(err error)) { t.src.OnEnded(fn) }

func (t *track) Stop() error {
	t.once.Do(func() {
		t.err = t.src.Close()
		log.Debug().Str("module", "capture").Str("track_id", t.src.ID()).Msg("track stopped")
	})
	return t.err
}
