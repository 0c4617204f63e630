package signal

import (
	"errors"

	"github.com/dkeye/tribecall/internal/app/hub"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/dkeye/tribecall/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleSignal(id domain.Identity, c *WsSignalConn, data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("identity", id.String()).Msg("bad message")
		ctl.sendJSON(c, protocol.Error("", protocol.CodeBadMessage, err.Error()))
		return
	}

	switch {
	case msg.Type == protocol.TypePing:
		ctl.handlePing(c)
	case msg.IsCall():
		ctl.handleCall(id, c, msg)
	default:
		log.Debug().Str("module", "signal").Str("type", string(msg.Type)).Msg("ignored")
	}
}

func (ctl *SignalWSController) handlePing(c *WsSignalConn) {
	ctl.sendJSON(c, protocol.Message{Type: protocol.TypePong})
}

func (ctl *SignalWSController) handleCall(id domain.Identity, c *WsSignalConn, msg protocol.Message) {
	if ctl.Limiter != nil && !ctl.Limiter.Allow(id) {
		log.Warn().Str("module", "signal").Str("identity", id.String()).Msg("rate limited")
		ctl.sendJSON(c, protocol.Error(msg.CallID, protocol.CodeRateLimited, "too many messages"))
		return
	}

	err := ctl.Hub.Forward(id, msg)
	switch {
	case err == nil:
	case errors.Is(err, hub.ErrNoAddress):
		ctl.sendJSON(c, protocol.Error(msg.CallID, protocol.CodeBadMessage, err.Error()))
	case errors.Is(err, hub.ErrOffline):
		ctl.sendJSON(c, protocol.Error(msg.CallID, protocol.CodeOffline, msg.To.String()+" is offline"))
	case errors.Is(err, hub.ErrDropped):
		ctl.sendJSON(c, protocol.Error(msg.CallID, protocol.CodeDropped, err.Error()))
	default:
		log.Error().Err(err).Str("module", "signal").Msg("forward")
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, msg protocol.Message) {
	b, err := msg.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}
