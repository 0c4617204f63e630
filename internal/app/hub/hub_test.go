package hub

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dkeye/tribecall/internal/core"
	"github.com/dkeye/tribecall/internal/metrics"
	"github.com/dkeye/tribecall/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	full   bool
	closed bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	if c.full {
		return ErrBackpressure
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) last(t *testing.T) protocol.Message {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		t.Fatal("nothing delivered")
	}
	msg, err := protocol.Parse(c.frames[len(c.frames)-1])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return msg
}

func TestForwardStampsSender(t *testing.T) {
	h := New()
	bob := &fakeConn{}
	h.Bind("bob", "c1", bob, nil)

	msg := protocol.Decline("call-1", protocol.ReasonBusy)
	msg.To = "bob"
	msg.From = "mallory"
	if err := h.Forward("alice", msg); err != nil {
		t.Fatalf("forward: %v", err)
	}
	got := bob.last(t)
	if got.From != "alice" || got.CallID != "call-1" || got.Reason != protocol.ReasonBusy {
		t.Fatalf("unexpected delivery %+v", got)
	}
}

func TestForwardOffline(t *testing.T) {
	h := New()
	msg := protocol.End("call-1", protocol.ReasonHangup)
	msg.To = "nobody"
	if err := h.Forward("alice", msg); !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
	if err := h.Forward("alice", protocol.End("call-1", "")); !errors.Is(err, ErrNoAddress) {
		t.Fatalf("expected ErrNoAddress, got %v", err)
	}
}

func TestBindReplacesPrevious(t *testing.T) {
	h := New()
	first, second := &fakeConn{}, &fakeConn{}
	cancelled := false
	h.Bind("bob", "c1", first, func() { cancelled = true })
	h.Bind("bob", "c2", second, nil)

	if !first.closed || !cancelled {
		t.Fatal("previous connection must be cancelled and closed")
	}
	if h.Unbind("bob", "c1") {
		t.Fatal("stale unbind must not evict the new connection")
	}
	if !h.Online("bob") || h.Count() != 1 {
		t.Fatal("bob should still be online")
	}
	if !h.Unbind("bob", "c2") || h.Online("bob") {
		t.Fatal("unbind of the live connection failed")
	}
}

func TestSlowReceiverDisconnected(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRelay(reg)
	h := New(WithPolicy(StrikePolicy{MaxStrikes: 2}), WithMetrics(m))
	bob := &fakeConn{full: true}
	h.Bind("bob", "c1", bob, nil)

	msg := protocol.End("call-1", "")
	msg.To = "bob"
	for i := 0; i < 2; i++ {
		if err := h.Forward("alice", msg); !errors.Is(err, ErrDropped) {
			t.Fatalf("send %d: expected ErrDropped, got %v", i, err)
		}
	}
	if h.Online("bob") || !bob.closed {
		t.Fatal("slow receiver should be disconnected after two strikes")
	}
	want := `
# HELP tribecall_relay_dropped_total Signaling messages not delivered, by reason.
# TYPE tribecall_relay_dropped_total counter
tribecall_relay_dropped_total{reason="dropped"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "tribecall_relay_dropped_total"); err != nil {
		t.Fatal(err)
	}
}

func TestStrikesResetOnDelivery(t *testing.T) {
	h := New(WithPolicy(StrikePolicy{MaxStrikes: 2}))
	bob := &fakeConn{full: true}
	h.Bind("bob", "c1", bob, nil)
	msg := protocol.End("call-1", "")
	msg.To = "bob"

	_ = h.Forward("alice", msg)
	bob.mu.Lock()
	bob.full = false
	bob.mu.Unlock()
	if err := h.Forward("alice", msg); err != nil {
		t.Fatal(err)
	}
	bob.mu.Lock()
	bob.full = true
	bob.mu.Unlock()
	_ = h.Forward("alice", msg)
	if !h.Online("bob") {
		t.Fatal("strikes must reset after a successful send")
	}
}
