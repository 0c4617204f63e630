package call

import (
	"github.com/dkeye/tribecall/internal/core"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/dkeye/tribecall/internal/protocol"
)

func (m *Machine) handleInbound(from domain.Identity, msg protocol.Message) {
	if err := msg.Validate(); err != nil {
		m.logger.Warn().Err(err).Str("from", from.String()).Msg("invalid signaling message")
		return
	}
	switch msg.Type {
	case protocol.TypeOffer:
		m.onOffer(from, msg)
	case protocol.TypeAnswer:
		m.onAnswer(from, msg)
	case protocol.TypeCandidate:
		m.onCandidate(from, msg)
	case protocol.TypeDecline:
		m.onDecline(from, msg)
	case protocol.TypeEnd:
		m.onEnd(from, msg)
	case protocol.TypeError:
		m.onRelayError(msg)
	}
}

// match returns the live session msg belongs to, or nil for a stale message.
// An empty call id matches on the remote identity alone.
func (m *Machine) match(from domain.Identity, id domain.CallID) *activeCall {
	ac := m.active
	if ac == nil || ac.sess.Remote != from {
		return nil
	}
	if id != "" && id != ac.sess.ID {
		return nil
	}
	return ac
}

func (m *Machine) stale(from domain.Identity, msg protocol.Message) {
	m.logger.Debug().
		Err(domain.ErrStaleMessage).
		Str("from", from.String()).
		Str("type", string(msg.Type)).
		Str("call_id", msg.CallID.String()).
		Msg("ignored")
}

func (m *Machine) onOffer(from domain.Identity, msg protocol.Message) {
	ac := m.active
	if ac == nil {
		if from == "" || from == m.self || (m.last != nil && m.last.ID == msg.CallID) {
			m.stale(from, msg)
			return
		}
		ac = m.open(domain.NewIncomingSession(msg.CallID, from, msg.MediaKind, msg.SDP))
		ac.remoteKnows = true
		m.publish(EventIncoming, nil)
		return
	}
	if ac.sess.Remote == from && ac.sess.ID == msg.CallID {
		if ac.sess.State == domain.StateConnected && ac.transport != nil {
			m.applyRemoteOffer(ac, msg.SDP)
			return
		}
		m.stale(from, msg)
		return
	}
	// One call at a time: a third party or a glaring peer is told we are busy.
	m.logger.Info().Str("from", from.String()).Str("call_id", msg.CallID.String()).Msg("busy, declining offer")
	if err := m.channel.Send(from, protocol.Decline(msg.CallID, protocol.ReasonBusy)); err != nil {
		m.logger.Warn().Err(err).Msg("busy decline not sent")
	}
}

// applyRemoteOffer answers a renegotiation offer of the connected peer.
// When both sides offered at once the caller's offer wins: the caller keeps
// waiting for its answer, the callee rolls back and offers again afterwards.
func (m *Machine) applyRemoteOffer(ac *activeCall, sdp string) {
	retry := false
	if ac.renegotiating {
		if ac.sess.Role == domain.RoleCaller {
			ac.log.Info().Msg("renegotiation collision, keeping local offer")
			return
		}
		if err := ac.transport.RollbackOffer(); err != nil {
			m.failNegotiation(ac, err)
			return
		}
		ac.renegotiating = false
		retry = true
		ac.log.Info().Msg("renegotiation collision, local offer rolled back")
	}
	if err := ac.transport.SetRemoteDescription(core.SDPOffer, sdp); err != nil {
		m.failNegotiation(ac, err)
		return
	}
	answer, err := ac.transport.CreateAnswer()
	if err != nil {
		m.failNegotiation(ac, err)
		return
	}
	m.send(ac, protocol.Answer(ac.sess.ID, answer))
	ac.log.Info().Msg("renegotiation answered")
	if retry {
		if err := m.renegotiate(ac); err != nil {
			ac.log.Warn().Err(err).Msg("renegotiation retry")
			m.publish(EventError, err)
		}
	}
}

func (m *Machine) onAnswer(from domain.Identity, msg protocol.Message) {
	ac := m.match(from, msg.CallID)
	if ac == nil {
		m.stale(from, msg)
		return
	}
	switch {
	case ac.sess.State == domain.StateOutgoing && ac.remoteKnows:
		if err := ac.transport.SetRemoteDescription(core.SDPAnswer, msg.SDP); err != nil {
			m.failNegotiation(ac, err)
			return
		}
		m.drain(ac)
		m.connect(ac)
	case ac.sess.State == domain.StateConnected && ac.renegotiating:
		if err := ac.transport.SetRemoteDescription(core.SDPAnswer, msg.SDP); err != nil {
			m.failNegotiation(ac, err)
			return
		}
		ac.renegotiating = false
		ac.log.Info().Msg("renegotiation complete")
	default:
		m.stale(from, msg)
	}
}

// onCandidate holds the candidate until a remote description exists, and
// applies it directly afterwards.
func (m *Machine) onCandidate(from domain.Identity, msg protocol.Message) {
	ac := m.match(from, msg.CallID)
	if ac == nil {
		m.stale(from, msg)
		return
	}
	c := *msg.Candidate
	if ac.buffer.Push(c) {
		m.metrics.CandidateBuffered()
		ac.log.Debug().Int("buffered", ac.buffer.Len()).Msg("candidate buffered")
		return
	}
	if err := ac.transport.AddICECandidate(c); err != nil {
		m.candidateFailed(ac, err)
	}
}

func (m *Machine) onDecline(from domain.Identity, msg protocol.Message) {
	ac := m.match(from, msg.CallID)
	if ac == nil || ac.sess.State != domain.StateOutgoing {
		m.stale(from, msg)
		return
	}
	reason := domain.EndRemoteDeclined
	if msg.Reason == protocol.ReasonBusy {
		reason = domain.EndBusy
	}
	m.terminate(ac, reason, nil, nil)
}

func (m *Machine) onEnd(from domain.Identity, msg protocol.Message) {
	ac := m.match(from, msg.CallID)
	if ac == nil {
		m.stale(from, msg)
		return
	}
	m.terminate(ac, domain.EndRemoteEnd, nil, nil)
}

// onRelayError handles delivery failures reported by the relay.
func (m *Machine) onRelayError(msg protocol.Message) {
	m.logger.Warn().Str("code", msg.Code).Str("call_id", msg.CallID.String()).Str("detail", msg.Message).Msg("relay error")
	if msg.Code != protocol.CodeOffline {
		return
	}
	ac := m.lookup(msg.CallID)
	if ac == nil || msg.CallID == "" {
		return
	}
	m.terminate(ac, domain.EndUnreachable, nil, nil)
}
