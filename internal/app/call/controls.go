package call

import (
	"context"

	"github.com/dkeye/tribecall/internal/domain"
)

func (m *Machine) toggleMute(rep chan reply) {
	ac := m.active
	if ac == nil || ac.replacer == nil {
		m.reply(rep, domain.ErrInvalidState)
		return
	}
	muted := !ac.sess.MutedLocalAudio
	if err := ac.replacer.SetAudio(!muted); err != nil {
		m.reply(rep, err)
		return
	}
	ac.sess.MutedLocalAudio = muted
	ac.log.Info().Bool("muted", muted).Msg("microphone toggled")
	m.publish(EventState, nil)
	m.reply(rep, nil)
}

func (m *Machine) toggleCamera(rep chan reply) {
	ac := m.active
	switch {
	case ac == nil || ac.replacer == nil:
		m.reply(rep, domain.ErrInvalidState)
		return
	case !ac.sess.Kind.HasVideo():
		m.reply(rep, domain.ErrNoVideo)
		return
	}
	disabled := !ac.sess.CameraDisabled
	if err := ac.replacer.SetCamera(!disabled); err != nil {
		m.reply(rep, err)
		return
	}
	ac.sess.CameraDisabled = disabled
	ac.log.Info().Bool("camera_disabled", disabled).Msg("camera toggled")
	m.publish(EventState, nil)
	m.reply(rep, nil)
}

// startScreenShare opens the screen source off the loop; onScreenResult
// attaches it.
func (m *Machine) startScreenShare(rep chan reply) {
	ac := m.active
	switch {
	case ac == nil || ac.sess.State != domain.StateConnected || ac.replacer == nil:
		m.reply(rep, domain.ErrInvalidState)
		return
	case !ac.sess.Kind.HasVideo():
		m.reply(rep, domain.ErrScreenShareRequiresVideo)
		return
	case ac.sess.ScreenSharing:
		m.reply(rep, nil)
		return
	case ac.screenReply != nil:
		m.reply(rep, domain.ErrInvalidState)
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	ac.cancelScreen = cancel
	ac.screenReply = rep
	id, r := ac.sess.ID, ac.replacer
	go func() {
		t, err := r.Acquire(ctx)
		m.box.push(screenResult{id: id, track: t, err: err})
	}()
}

func (m *Machine) onScreenResult(res screenResult) {
	ac := m.lookup(res.id)
	if ac == nil {
		// Release on termination already stopped the source.
		return
	}
	rep := ac.screenReply
	ac.screenReply = nil
	if ac.cancelScreen != nil {
		ac.cancelScreen()
		ac.cancelScreen = nil
	}
	err := res.err
	if err == nil {
		err = ac.replacer.Attach(res.track)
	}
	if err != nil {
		ac.log.Warn().Err(err).Msg("screen share failed")
		m.publish(EventError, err)
		m.reply(rep, err)
		return
	}
	if err := ac.sess.SetScreenSharing(true); err != nil {
		m.reply(rep, err)
		return
	}
	ac.log.Info().Msg("screen share started")
	m.publish(EventScreenShare, nil)
	m.reply(rep, nil)
}

func (m *Machine) stopScreenShare(rep chan reply) {
	ac := m.active
	if ac == nil || ac.replacer == nil {
		m.reply(rep, domain.ErrInvalidState)
		return
	}
	if err := ac.replacer.Stop(); err != nil {
		m.reply(rep, err)
		return
	}
	_ = ac.sess.SetScreenSharing(false)
	ac.log.Info().Msg("screen share stopped")
	m.publish(EventScreenShare, nil)
	m.reply(rep, nil)
}

// onScreenEnded reverts to the camera when the shared source stops by itself.
func (m *Machine) onScreenEnded(ev screenEnded) {
	ac := m.lookup(ev.id)
	if ac == nil || ac.replacer == nil {
		return
	}
	reverted, err := ac.replacer.StopIf(ev.trackID)
	if err != nil {
		ac.log.Warn().Err(err).Msg("revert after screen ended")
		m.publish(EventError, err)
		return
	}
	if !reverted {
		return
	}
	_ = ac.sess.SetScreenSharing(false)
	ac.log.Info().Msg("screen source ended, camera restored")
	m.publish(EventScreenShare, nil)
}
