//go:build !linux

package capture

import (
	"github.com/pion/mediadevices"
	"github.com/rs/zerolog/log"
)

// NewDevices returns capture without drivers: every request is denied and
// calls fail with media_denied. Transport codecs fall back to pion defaults.
func NewDevices(opts Options) (*Devices, error) {
	d := &Devices{
		opts:   opts.withDefaults(),
		logger: log.With().Str("module", "capture").Logger(),
	}
	d.logger.Warn().Msg("no capture drivers on this platform")
	return d, nil
}

func (d *Devices) cameraConstraints(*mediadevices.MediaTrackConstraints) {}
func (d *Devices) screenConstraints(*mediadevices.MediaTrackConstraints) {}
