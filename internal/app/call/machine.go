// Package call runs the call state machine of one local identity.
//
// All session state is owned by a single loop goroutine (Run). User commands,
// inbound signaling, transport callbacks, media results and timers are posted
// to one mailbox and applied in order.
package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/tribecall/internal/app/media"
	"github.com/dkeye/tribecall/internal/core"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/dkeye/tribecall/internal/metrics"
	"github.com/dkeye/tribecall/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("call machine stopped")

type Config struct {
	// RingTimeout cancels an unanswered outgoing call. Zero disables it.
	RingTimeout time.Duration
	// ICEConnectTimeout ends a connected call whose transport never came up.
	ICEConnectTimeout time.Duration
}

type Machine struct {
	self       domain.Identity
	channel    core.SignalingChannel
	transports core.TransportFactory
	media      *media.Manager
	cfg        Config
	metrics    *metrics.Calls
	logger     zerolog.Logger

	box    *mailbox
	done   chan struct{}
	events broadcaster

	// loop-owned
	ctx    context.Context
	active *activeCall
	last   *domain.CallSession
}

// activeCall is the live session plus the resources hanging off it.
type activeCall struct {
	sess      *domain.CallSession
	buffer    *CandidateBuffer
	transport core.PeerTransport
	tracks    *media.Tracks
	replacer  *media.Replacer
	log       zerolog.Logger

	remoteKnows   bool
	acquiring     bool
	transportUp   bool
	renegotiating bool

	cancelMedia  context.CancelFunc
	cancelScreen context.CancelFunc
	startReply   chan reply
	screenReply  chan reply
	ringTimer    *time.Timer
	iceTimer     *time.Timer
}

type Option func(*Machine)

func WithMetrics(c *metrics.Calls) Option {
	return func(m *Machine) { m.metrics = c }
}

// New wires the machine to its collaborators. The channel handler is
// registered immediately; messages are queued until Run starts.
func New(self domain.Identity, ch core.SignalingChannel, tf core.TransportFactory, mm *media.Manager, cfg Config, opts ...Option) *Machine {
	m := &Machine{
		self:       self,
		channel:    ch,
		transports: tf,
		media:      mm,
		cfg:        cfg,
		logger:     log.With().Str("module", "call").Str("self", self.String()).Logger(),
		box:        newMailbox(),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	ch.OnMessage(func(from domain.Identity, msg protocol.Message) {
		m.box.push(inbound{from: from, msg: msg})
	})
	return m
}

// Run applies queued inputs until ctx is done, then ends any live call with
// reason shutdown. It must be called once.
func (m *Machine) Run(ctx context.Context) error {
	m.ctx = ctx
	defer close(m.done)
	m.logger.Info().Msg("call machine started")
	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case <-m.box.ready:
			for _, item := range m.box.drain() {
				m.handle(item)
			}
		}
	}
}

func (m *Machine) handle(item any) {
	switch it := item.(type) {
	case request:
		m.handleRequest(it)
	case inbound:
		m.handleInbound(it.from, it.msg)
	case mediaResult:
		m.onMediaResult(it)
	case screenResult:
		m.onScreenResult(it)
	case localCandidate:
		if ac := m.lookup(it.id); ac != nil {
			m.send(ac, protocol.CandidateMessage(it.id, it.c))
		}
	case transportEvent:
		m.onTransportState(it)
	case screenEnded:
		m.onScreenEnded(it)
	case timerFired:
		m.onTimer(it)
	}
}

func (m *Machine) handleRequest(r request) {
	switch c := r.cmd.(type) {
	case StartCall:
		m.startCall(c, r.reply)
	case AcceptCall:
		m.acceptCall(r.reply)
	case DeclineCall:
		m.declineCall(r.reply)
	case HangUp:
		m.hangUp(r.reply)
	case ToggleMute:
		m.toggleMute(r.reply)
	case ToggleCamera:
		m.toggleCamera(r.reply)
	case StartScreenShare:
		m.startScreenShare(r.reply)
	case StopScreenShare:
		m.stopScreenShare(r.reply)
	case snapshotQuery:
		m.reply(r.reply, nil)
	default:
		m.reply(r.reply, fmt.Errorf("unknown command %T", c))
	}
}

func (m *Machine) snapshot() domain.Snapshot {
	if ac := m.active; ac != nil {
		s := ac.sess.Snapshot()
		s.BufferedCandidates = ac.buffer.Len()
		return s
	}
	if m.last != nil {
		return m.last.Snapshot()
	}
	return domain.Snapshot{State: domain.StateIdle}
}

func (m *Machine) reply(ch chan reply, err error) {
	if ch == nil {
		return
	}
	ch <- reply{snap: m.snapshot(), err: err}
}

func (m *Machine) publish(t EventType, err error) {
	ev := Event{Type: t, Call: m.snapshot()}
	if err != nil {
		ev.Error = err.Error()
	}
	m.events.publish(ev)
}

func (m *Machine) lookup(id domain.CallID) *activeCall {
	if m.active != nil && m.active.sess.ID == id {
		return m.active
	}
	return nil
}

// open installs sess as the live session.
func (m *Machine) open(sess *domain.CallSession) *activeCall {
	ac := &activeCall{
		sess:   sess,
		buffer: NewCandidateBuffer(),
		log: m.logger.With().
			Str("call_id", sess.ID.String()).
			Str("remote", sess.Remote.String()).
			Str("role", sess.Role.String()).
			Logger(),
	}
	m.active = ac
	m.last = nil
	m.metrics.Started(sess.Role.String())
	ac.log.Info().Str("kind", string(sess.Kind)).Str("state", sess.State.String()).Msg("call session opened")
	return ac
}

// acquire opens local media off the loop; the result comes back as a mediaResult.
func (m *Machine) acquire(ac *activeCall) {
	ctx, cancel := context.WithCancel(m.ctx)
	ac.cancelMedia = cancel
	ac.acquiring = true
	id, kind := ac.sess.ID, ac.sess.Kind
	go func() {
		tracks, err := m.media.Acquire(ctx, id, kind)
		m.box.push(mediaResult{id: id, tracks: tracks, err: err})
	}()
}

func (m *Machine) send(ac *activeCall, msg protocol.Message) {
	if err := m.channel.Send(ac.sess.Remote, msg); err != nil {
		ac.log.Warn().Err(err).Str("type", string(msg.Type)).Msg("signal send failed")
		return
	}
	ac.log.Debug().Str("type", string(msg.Type)).Msg("signal sent")
}

// farewell is the message that tells the remote the call is over, or nil
// when the remote never heard of it.
func farewell(ac *activeCall, reason string) *protocol.Message {
	if !ac.remoteKnows {
		return nil
	}
	msg := protocol.End(ac.sess.ID, reason)
	if ac.sess.State == domain.StateIncoming {
		msg = protocol.Decline(ac.sess.ID, reason)
	}
	return &msg
}

// terminate ends ac exactly once: media and transport are released before
// the session is marked Ended. Pending replies receive cause, or
// ErrCallCancelled when the end was not a failure.
func (m *Machine) terminate(ac *activeCall, reason domain.EndReason, note *protocol.Message, cause error) {
	if ac.sess.State == domain.StateEnded {
		return
	}
	stopTimer(ac.ringTimer)
	stopTimer(ac.iceTimer)
	if ac.cancelMedia != nil {
		ac.cancelMedia()
	}
	if ac.cancelScreen != nil {
		ac.cancelScreen()
	}
	m.media.Release(ac.sess.ID)
	if ac.transport != nil {
		if err := ac.transport.Close(); err != nil {
			ac.log.Warn().Err(err).Msg("transport close")
		}
	}
	ac.buffer.Discard()
	if note != nil {
		m.send(ac, *note)
	}
	ac.sess.End(reason)
	if m.active == ac {
		m.active = nil
	}
	m.last = ac.sess
	m.metrics.Ended(string(reason))

	pendingErr := cause
	if pendingErr == nil {
		pendingErr = domain.ErrCallCancelled
	}
	m.reply(ac.startReply, pendingErr)
	m.reply(ac.screenReply, pendingErr)
	ac.startReply, ac.screenReply = nil, nil

	ev := ac.log.Info()
	if cause != nil {
		ev = ac.log.Warn().Err(cause)
	}
	ev.Str("reason", string(reason)).Int("candidate_failures", ac.sess.CandidateFailures).Msg("call ended")
	if cause != nil {
		m.publish(EventError, cause)
	}
	m.publish(EventState, nil)
}

func (m *Machine) shutdown() {
	if ac := m.active; ac != nil {
		m.terminate(ac, domain.EndShutdown, farewell(ac, protocol.ReasonShutdown), nil)
	}
	for _, item := range m.box.drain() {
		if r, ok := item.(request); ok {
			r.reply <- reply{snap: m.snapshot(), err: ErrClosed}
		}
	}
	m.logger.Info().Msg("call machine stopped")
}

func (m *Machine) startTimer(ac *activeCall, d time.Duration, kind timerKind) *time.Timer {
	if d <= 0 {
		return nil
	}
	id := ac.sess.ID
	return time.AfterFunc(d, func() { m.box.push(timerFired{id: id, kind: kind}) })
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
