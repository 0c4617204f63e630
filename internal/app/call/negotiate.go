package call

import (
	"fmt"

	"github.com/dkeye/tribecall/internal/app/media"
	"github.com/dkeye/tribecall/internal/core"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/dkeye/tribecall/internal/protocol"
)

func (m *Machine) startCall(c StartCall, rep chan reply) {
	switch {
	case m.active != nil:
		m.reply(rep, domain.ErrBusy)
		return
	case !c.Kind.Valid():
		m.reply(rep, domain.ErrInvalidMediaKind)
		return
	case c.Remote == "":
		m.reply(rep, domain.ErrIdentityEmpty)
		return
	case c.Remote == m.self:
		m.reply(rep, domain.ErrSelfCall)
		return
	}
	ac := m.open(domain.NewOutgoingSession(c.Remote, c.Kind))
	ac.startReply = rep
	m.publish(EventState, nil)
	m.acquire(ac)
}

func (m *Machine) acceptCall(rep chan reply) {
	ac := m.active
	if ac == nil || ac.sess.State != domain.StateIncoming || ac.acquiring {
		m.reply(rep, domain.ErrInvalidState)
		return
	}
	ac.startReply = rep
	ac.log.Info().Msg("accepting call")
	m.acquire(ac)
}

func (m *Machine) declineCall(rep chan reply) {
	ac := m.active
	if ac == nil || ac.sess.State != domain.StateIncoming {
		m.reply(rep, domain.ErrInvalidState)
		return
	}
	msg := protocol.Decline(ac.sess.ID, protocol.ReasonDeclined)
	m.terminate(ac, domain.EndDeclined, &msg, nil)
	m.reply(rep, nil)
}

// hangUp ends whatever is live. With nothing live it is a no-op, so a
// repeated hang-up never sends a second end.
func (m *Machine) hangUp(rep chan reply) {
	ac := m.active
	if ac == nil {
		m.reply(rep, nil)
		return
	}
	switch ac.sess.State {
	case domain.StateIncoming:
		m.terminate(ac, domain.EndDeclined, farewell(ac, protocol.ReasonDeclined), nil)
	case domain.StateOutgoing:
		m.terminate(ac, domain.EndCancelled, farewell(ac, protocol.ReasonCancel), nil)
	default:
		m.terminate(ac, domain.EndHangup, farewell(ac, protocol.ReasonHangup), nil)
	}
	m.reply(rep, nil)
}

func (m *Machine) onMediaResult(r mediaResult) {
	ac := m.lookup(r.id)
	if ac == nil {
		// The session ended while devices were opening.
		m.media.Release(r.id)
		return
	}
	ac.acquiring = false
	if r.err != nil {
		m.terminate(ac, domain.EndMediaDenied, farewell(ac, protocol.ReasonFailed), r.err)
		return
	}
	ac.tracks = r.tracks
	if err := m.openTransport(ac); err != nil {
		m.failNegotiation(ac, err)
		return
	}
	if ac.sess.Role == domain.RoleCaller {
		m.sendOffer(ac)
		return
	}
	m.sendAnswer(ac)
}

func (m *Machine) openTransport(ac *activeCall) error {
	id := ac.sess.ID
	t, err := m.transports.NewTransport(m.ctx, id)
	if err != nil {
		return err
	}
	t.OnICECandidate(func(c protocol.Candidate) {
		m.box.push(localCandidate{id: id, c: c})
	})
	t.OnStateChange(func(s core.TransportState) {
		m.box.push(transportEvent{id: id, state: s})
	})
	for _, tr := range ac.tracks.All() {
		if err := t.AddTrack(tr); err != nil {
			_ = t.Close()
			return fmt.Errorf("add %s track: %w", tr.Kind(), err)
		}
	}
	ac.transport = t
	ac.replacer = media.NewReplacer(m.media, id, t, ac.tracks, media.ReplacerHooks{
		CanRenegotiate: func() bool { return ac.sess.State == domain.StateConnected },
		Renegotiate:    func() error { return m.renegotiate(ac) },
		ScreenEnded: func(trackID string) {
			m.box.push(screenEnded{id: id, trackID: trackID})
		},
	})
	return nil
}

func (m *Machine) sendOffer(ac *activeCall) {
	sdp, err := ac.transport.CreateOffer()
	if err != nil {
		m.failNegotiation(ac, err)
		return
	}
	m.send(ac, protocol.Offer(ac.sess.ID, sdp, ac.sess.Kind))
	ac.remoteKnows = true
	ac.ringTimer = m.startTimer(ac, m.cfg.RingTimeout, timerRing)
	m.reply(ac.startReply, nil)
	ac.startReply = nil
}

// sendAnswer completes an accept: stored offer, buffered candidates, answer.
func (m *Machine) sendAnswer(ac *activeCall) {
	if err := ac.transport.SetRemoteDescription(core.SDPOffer, ac.sess.PendingRemoteDescription); err != nil {
		m.failNegotiation(ac, err)
		return
	}
	ac.sess.PendingRemoteDescription = ""
	m.drain(ac)
	sdp, err := ac.transport.CreateAnswer()
	if err != nil {
		m.failNegotiation(ac, err)
		return
	}
	m.send(ac, protocol.Answer(ac.sess.ID, sdp))
	m.connect(ac)
	m.reply(ac.startReply, nil)
	ac.startReply = nil
}

func (m *Machine) connect(ac *activeCall) {
	if err := ac.sess.Transition(domain.StateConnected); err != nil {
		ac.log.Error().Err(err).Msg("connect")
		return
	}
	stopTimer(ac.ringTimer)
	if !ac.transportUp {
		ac.iceTimer = m.startTimer(ac, m.cfg.ICEConnectTimeout, timerICE)
	}
	ac.log.Info().Msg("call connected")
	m.publish(EventState, nil)
}

func (m *Machine) drain(ac *activeCall) {
	applied, failed := ac.buffer.Drain(ac.transport.AddICECandidate)
	for _, err := range failed {
		m.candidateFailed(ac, err)
	}
	if applied+len(failed) > 0 {
		ac.log.Debug().Int("applied", applied).Int("failed", len(failed)).Msg("buffered candidates drained")
	}
}

func (m *Machine) candidateFailed(ac *activeCall, err error) {
	ac.sess.CandidateFailures++
	m.metrics.CandidateFailed()
	ac.log.Warn().Err(fmt.Errorf("%w: %w", domain.ErrCandidateApply, err)).Msg("candidate skipped")
}

func (m *Machine) failNegotiation(ac *activeCall, err error) {
	m.terminate(ac, domain.EndNegotiationFailed, farewell(ac, protocol.ReasonFailed),
		fmt.Errorf("%w: %w", domain.ErrNegotiationFailed, err))
}

// renegotiate sends a fresh offer for the live call; the answer is applied
// by onAnswer.
func (m *Machine) renegotiate(ac *activeCall) error {
	if ac.sess.State != domain.StateConnected {
		return fmt.Errorf("%w: renegotiate in %s", domain.ErrInvalidState, ac.sess.State)
	}
	sdp, err := ac.transport.CreateOffer()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNegotiationFailed, err)
	}
	ac.renegotiating = true
	m.send(ac, protocol.Offer(ac.sess.ID, sdp, ac.sess.Kind))
	ac.log.Info().Msg("renegotiation offer sent")
	return nil
}

func (m *Machine) onTransportState(ev transportEvent) {
	ac := m.lookup(ev.id)
	if ac == nil {
		return
	}
	ac.log.Debug().Str("transport", ev.state.String()).Msg("transport state")
	switch ev.state {
	case core.TransportConnected:
		ac.transportUp = true
		stopTimer(ac.iceTimer)
		ac.iceTimer = nil
	case core.TransportDisconnected:
		ac.log.Warn().Msg("transport disconnected, waiting for recovery")
	case core.TransportFailed:
		m.terminate(ac, domain.EndTransportFailed, farewell(ac, protocol.ReasonFailed), domain.ErrTransportFailed)
	}
}

func (m *Machine) onTimer(ev timerFired) {
	ac := m.lookup(ev.id)
	if ac == nil {
		return
	}
	switch ev.kind {
	case timerRing:
		if ac.sess.State == domain.StateOutgoing {
			m.terminate(ac, domain.EndRingTimeout, farewell(ac, protocol.ReasonTimeout), nil)
		}
	case timerICE:
		if ac.sess.State == domain.StateConnected && !ac.transportUp {
			m.terminate(ac, domain.EndTransportFailed, farewell(ac, protocol.ReasonFailed),
				fmt.Errorf("%w: not connected within %s", domain.ErrTransportFailed, m.cfg.ICEConnectTimeout))
		}
	}
}
