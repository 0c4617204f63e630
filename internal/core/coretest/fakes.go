// Package coretest provides in-memory implementations of the core ports for tests.
package coretest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/tribecall/internal/core"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/dkeye/tribecall/internal/protocol"
	"github.com/pion/webrtc/v4"
)

var ErrDenied = errors.New("permission denied")

type Track struct {
	id     string
	device string
	kind   core.TrackKind

	stopped atomic.Bool
	mu      sync.Mutex
	onEnded func(error)
}

func NewTrack(id, device string, kind core.TrackKind) *Track {
	return &Track{id: id, device: device, kind: kind}
}

func (t *Track) ID() string               { return t.id }
func (t *Track) DeviceID() string         { return t.device }
func (t *Track) Kind() core.TrackKind     { return t.kind }
func (t *Track) Local() webrtc.TrackLocal { return nil }
func (t *Track) Stopped() bool            { return t.stopped.Load() }

func (t *Track) Stop() error {
	t.stopped.Store(true)
	return nil
}

func (t *Track) OnEnded(fn func(error)) {
	t.mu.Lock()
	t.onEnded = fn
	t.mu.Unlock()
}

// End simulates the source stopping on its own.
func (t *Track) End() {
	t.mu.Lock()
	fn := t.onEnded
	t.mu.Unlock()
	if fn != nil {
		fn(errors.New("source ended"))
	}
}

// Devices hands out fake tracks. When Gate is set, GetUserMedia blocks on it
// and ignores ctx, which models a permission prompt that resolves late.
type Devices struct {
	mu        sync.Mutex
	Gate      chan struct{}
	Err       error
	ScreenErr error
	issued    []*Track
	userCalls int
	seq       int
}

func NewDevices() *Devices { return &Devices{} }

func (d *Devices) GetUserMedia(ctx context.Context, kind domain.MediaKind) ([]core.LocalTrack, error) {
	d.mu.Lock()
	d.userCalls++
	gate, err := d.Gate, d.Err
	d.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	out := []core.LocalTrack{d.issue("mic", core.TrackAudio)}
	if kind.HasVideo() {
		out = append(out, d.issue("camera", core.TrackVideo))
	}
	return out, nil
}

func (d *Devices) GetDisplayMedia(ctx context.Context) (core.LocalTrack, error) {
	d.mu.Lock()
	err := d.ScreenErr
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return d.issue("screen", core.TrackVideo), nil
}

func (d *Devices) issue(device string, kind core.TrackKind) *Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	t := NewTrack(fmt.Sprintf("%s-%d", device, d.seq), device, kind)
	d.issued = append(d.issued, t)
	return t
}

func (d *Devices) SetErr(err error) {
	d.mu.Lock()
	d.Err = err
	d.mu.Unlock()
}

func (d *Devices) SetScreenErr(err error) {
	d.mu.Lock()
	d.ScreenErr = err
	d.mu.Unlock()
}

func (d *Devices) UserMediaCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userCalls
}

func (d *Devices) Issued() []*Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Track(nil), d.issued...)
}

// Live counts issued tracks that were never stopped.
func (d *Devices) Live() int {
	n := 0
	for _, t := range d.Issued() {
		if !t.Stopped() {
			n++
		}
	}
	return n
}

type Sent struct {
	To  domain.Identity
	Msg protocol.Message
}

type Channel struct {
	mu      sync.Mutex
	sent    []Sent
	handler func(domain.Identity, protocol.Message)
}

func NewChannel() *Channel { return &Channel{} }

func (c *Channel) Send(to domain.Identity, msg protocol.Message) error {
	c.mu.Lock()
	c.sent = append(c.sent, Sent{To: to, Msg: msg})
	c.mu.Unlock()
	return nil
}

func (c *Channel) OnMessage(fn func(domain.Identity, protocol.Message)) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

// Deliver hands msg to the registered handler as if it came from the relay.
func (c *Channel) Deliver(from domain.Identity, msg protocol.Message) {
	c.mu.Lock()
	fn := c.handler
	c.mu.Unlock()
	msg.From = from
	if fn != nil {
		fn(from, msg)
	}
}

func (c *Channel) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

func (c *Channel) Count(t protocol.Type) int {
	n := 0
	for _, s := range c.Sent() {
		if s.Msg.Type == t {
			n++
		}
	}
	return n
}

// Last returns the most recent message of type t.
func (c *Channel) Last(t protocol.Type) (protocol.Message, bool) {
	sent := c.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].Msg.Type == t {
			return sent[i].Msg, true
		}
	}
	return protocol.Message{}, false
}

// Transport records what the call machine does to a peer connection.
type Transport struct {
	mu sync.Mutex

	remote     string
	remoteSet  bool
	applied    []protocol.Candidate
	violations int
	tracks     map[core.TrackKind]core.LocalTrack
	swaps      int
	closed     bool
	offers     int
	answers    int
	rollbacks  int
	localOffer bool

	RemoteErr     error
	ReplaceErr    error
	FailCandidate func(protocol.Candidate) bool

	onICE   func(protocol.Candidate)
	onState func(core.TransportState)
}

func NewTransport() *Transport {
	return &Transport{tracks: make(map[core.TrackKind]core.LocalTrack)}
}

func (t *Transport) AddTrack(tr core.LocalTrack) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks[tr.Kind()] = tr
	return nil
}

func (t *Transport) ReplaceTrack(kind core.TrackKind, tr core.LocalTrack) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ReplaceErr != nil {
		return t.ReplaceErr
	}
	t.tracks[kind] = tr
	return nil
}

func (t *Transport) SwapTrack(kind core.TrackKind, tr core.LocalTrack) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.swaps++
	t.tracks[kind] = tr
	return nil
}

func (t *Transport) CreateOffer() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offers++
	t.localOffer = true
	return fmt.Sprintf("offer-%d", t.offers), nil
}

func (t *Transport) CreateAnswer() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.remoteSet {
		return "", errors.New("answer without remote offer")
	}
	t.answers++
	return fmt.Sprintf("answer-%d", t.answers), nil
}

func (t *Transport) SetRemoteDescription(typ core.SDPType, sdp string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.RemoteErr != nil {
		return t.RemoteErr
	}
	switch {
	case typ == core.SDPOffer && t.localOffer:
		return errors.New("remote offer in have-local-offer")
	case typ == core.SDPAnswer:
		t.localOffer = false
	}
	t.remote = sdp
	t.remoteSet = true
	return nil
}

func (t *Transport) RollbackOffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.localOffer {
		return errors.New("no local offer to roll back")
	}
	t.localOffer = false
	t.rollbacks++
	return nil
}

func (t *Transport) AddICECandidate(c protocol.Candidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.remoteSet {
		t.violations++
		return errors.New("candidate before remote description")
	}
	if t.FailCandidate != nil && t.FailCandidate(c) {
		return errors.New("bad candidate")
	}
	t.applied = append(t.applied, c)
	return nil
}

func (t *Transport) OnICECandidate(fn func(protocol.Candidate)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *Transport) OnStateChange(fn func(core.TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// EmitCandidate simulates a locally gathered candidate.
func (t *Transport) EmitCandidate(c protocol.Candidate) {
	t.mu.Lock()
	fn := t.onICE
	t.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// EmitState simulates an ICE connection state change.
func (t *Transport) EmitState(s core.TransportState) {
	t.mu.Lock()
	fn := t.onState
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (t *Transport) Applied() []protocol.Candidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Candidate(nil), t.applied...)
}

func (t *Transport) Violations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.violations
}

func (t *Transport) Remote() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remote
}

func (t *Transport) Track(kind core.TrackKind) core.LocalTrack {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracks[kind]
}

func (t *Transport) Swaps() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.swaps
}

func (t *Transport) Offers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offers
}

func (t *Transport) Rollbacks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rollbacks
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type Factory struct {
	mu         sync.Mutex
	transports []*Transport
	Prepare    func(*Transport)
}

func (f *Factory) NewTransport(_ context.Context, _ domain.CallID) (core.PeerTransport, error) {
	t := NewTransport()
	f.mu.Lock()
	prep := f.Prepare
	f.transports = append(f.transports, t)
	f.mu.Unlock()
	if prep != nil {
		prep(t)
	}
	return t, nil
}

// Last returns the most recently created transport or nil.
func (f *Factory) Last() *Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transports) == 0 {
		return nil
	}
	return f.transports[len(f.transports)-1]
}

func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

// Candidate builds a candidate with a recognisable payload.
func Candidate(n int) protocol.Candidate {
	return protocol.Candidate{Candidate: fmt.Sprintf("candidate:%d 1 udp 2122260223 10.0.0.%d 5000 typ host", n, n)}
}
