//go:build linux

package capture

import (
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"
)

// NewDevices builds a VP8 + Opus capture pipeline over V4L2, malgo and X11.
func NewDevices(opts Options) (*Devices, error) {
	opts = opts.withDefaults()
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = opts.VideoBitRate

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	d := &Devices{
		opts: opts,
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		logger:       log.With().Str("module", "capture").Logger(),
		userMedia:    mediadevices.GetUserMedia,
		displayMedia: mediadevices.GetDisplayMedia,
	}
	for _, info := range mediadevices.EnumerateDevices() {
		d.logger.Info().Str("label", info.Label).Str("device_id", info.DeviceID).Msg("media device")
	}
	return d, nil
}

func (d *Devices) cameraConstraints(c *mediadevices.MediaTrackConstraints) {
	// MJPEG nodes on some cameras yield frames the VP8 encoder rejects.
	c.FrameFormat = prop.FrameFormatOneOf{
		frame.FormatYUYV,
		frame.FormatI420,
		frame.FormatI444,
		frame.FormatRGBA,
	}
	c.Width = prop.IntRanged{Max: d.opts.Width}
	c.Height = prop.IntRanged{Max: d.opts.Height}
	c.FrameRate = prop.FloatRanged{Max: float32(d.opts.FrameRate)}
}

func (d *Devices) screenConstraints(c *mediadevices.MediaTrackConstraints) {
	c.FrameRate = prop.FloatRanged{Max: float32(d.opts.FrameRate)}
}
