package core

import (
	"errors"

	"github.com/dkeye/tribecall/internal/domain"
	"github.com/dkeye/tribecall/internal/protocol"
)

var ErrNotConnected = errors.New("signaling channel not connected")

// Frame is a raw encoded signaling message.
type Frame []byte

// SignalConnection abstracts one relay-side client connection.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalingChannel is the client-side relay link consumed by the call machine.
// Send is fire-and-forget. Handlers receive messages already attributed to
// their sender, in the order that sender issued them.
type SignalingChannel interface {
	Send(to domain.Identity, msg protocol.Message) error
	OnMessage(func(from domain.Identity, msg protocol.Message))
}
