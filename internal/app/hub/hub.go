// Package hub routes signaling messages between connected identities.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/tribecall/internal/core"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/dkeye/tribecall/internal/metrics"
	"github.com/dkeye/tribecall/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrOffline   = errors.New("recipient offline")
	ErrDropped   = errors.New("recipient too slow, message dropped")
	ErrNoAddress = errors.New("message has no recipient")
)

// ErrBackpressure is what a SignalConnection returns when its buffer is full.
var ErrBackpressure = errors.New("backpressure")

type entry struct {
	connID  string
	conn    core.SignalConnection
	cancel  context.CancelFunc
	strikes int
}

type Hub struct {
	mu      sync.Mutex
	conns   map[domain.Identity]*entry
	policy  Policy
	metrics *metrics.Relay
}

type Option func(*Hub)

func WithPolicy(p Policy) Option           { return func(h *Hub) { h.policy = p } }
func WithMetrics(m *metrics.Relay) Option { return func(h *Hub) { h.metrics = m } }

func New(opts ...Option) *Hub {
	h := &Hub{
		conns:  make(map[domain.Identity]*entry),
		policy: StrikePolicy{MaxStrikes: 8},
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Bind registers conn as the live connection of id. A previous connection of
// the same identity is cancelled and closed.
func (h *Hub) Bind(id domain.Identity, connID string, conn core.SignalConnection, cancel context.CancelFunc) {
	h.mu.Lock()
	old := h.conns[id]
	h.conns[id] = &entry{connID: connID, conn: conn, cancel: cancel}
	h.mu.Unlock()

	h.metrics.ConnOpened()
	if old != nil {
		h.closeEntry(old)
		log.Info().Str("module", "app.hub").Str("identity", id.String()).Str("replaced", old.connID).Msg("connection replaced")
	}
	log.Info().Str("module", "app.hub").Str("identity", id.String()).Str("conn_id", connID).Msg("bound")
}

// Unbind removes id only if connID is still its live connection, so a
// replaced connection shutting down late does not evict its successor.
func (h *Hub) Unbind(id domain.Identity, connID string) bool {
	h.mu.Lock()
	e, ok := h.conns[id]
	if !ok || e.connID != connID {
		h.mu.Unlock()
		return false
	}
	delete(h.conns, id)
	h.mu.Unlock()

	h.metrics.ConnClosed()
	log.Info().Str("module", "app.hub").Str("identity", id.String()).Str("conn_id", connID).Msg("unbound")
	return true
}

func (h *Hub) closeEntry(e *entry) {
	h.metrics.ConnClosed()
	if e.cancel != nil {
		e.cancel()
	}
	e.conn.Close()
}

func (h *Hub) Online(id domain.Identity) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.conns[id]
	return ok
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Forward stamps msg with its sender and delivers it to msg.To.
func (h *Hub) Forward(from domain.Identity, msg protocol.Message) error {
	if msg.To == "" {
		return ErrNoAddress
	}
	msg.From = from
	to := msg.To
	frame, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	h.mu.Lock()
	e, ok := h.conns[to]
	h.mu.Unlock()
	if !ok {
		h.metrics.Dropped(protocol.CodeOffline)
		return ErrOffline
	}

	err = e.conn.TrySend(frame)
	if err == nil {
		h.mu.Lock()
		e.strikes = 0
		h.mu.Unlock()
		h.metrics.Forwarded(string(msg.Type))
		return nil
	}
	if !errors.Is(err, ErrBackpressure) {
		h.metrics.Dropped(protocol.CodeOffline)
		return fmt.Errorf("%w: %v", ErrOffline, err)
	}
	return h.backpressure(to, e)
}

func (h *Hub) backpressure(to domain.Identity, e *entry) error {
	h.mu.Lock()
	e.strikes++
	strikes := e.strikes
	h.mu.Unlock()

	h.metrics.Dropped(protocol.CodeDropped)
	switch h.policy.OnBackpressure(to, strikes) {
	case Disconnect:
		log.Warn().Str("module", "app.hub").Str("identity", to.String()).Int("strikes", strikes).Msg("disconnecting slow receiver")
		if h.Unbind(to, e.connID) {
			if e.cancel != nil {
				e.cancel()
			}
			e.conn.Close()
		}
	case DropFrame:
		log.Debug().Str("module", "app.hub").Str("identity", to.String()).Int("strikes", strikes).Msg("frame dropped")
	}
	return ErrDropped
}
