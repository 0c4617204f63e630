package wsclient

import (
	"errors"
	"testing"

	"github.com/dkeye/tribecall/internal/core"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/dkeye/tribecall/internal/protocol"
)

func TestNewValidates(t *testing.T) {
	if _, err := New(Options{RelayURL: "ftp://relay", Identity: "alice"}); err == nil {
		t.Fatal("non-http relay url must be rejected")
	}
	if _, err := New(Options{RelayURL: "http://relay", Identity: ""}); !errors.Is(err, domain.ErrIdentityEmpty) {
		t.Fatalf("expected ErrIdentityEmpty, got %v", err)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c, err := New(Options{RelayURL: "http://relay", Identity: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if c.Connected() {
		t.Fatal("connected before Connect")
	}
	if err := c.Send("bob", protocol.End("call-1", "")); !errors.Is(err, core.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestDispatchFiltersFrames(t *testing.T) {
	c, err := New(Options{RelayURL: "http://relay", Identity: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	var got []protocol.Message
	c.OnMessage(func(_ domain.Identity, m protocol.Message) { got = append(got, m) })

	c.dispatch([]byte(`{"type":"end","call_id":"c1"}`))
	c.dispatch([]byte(`{"type":"offer","from":"bob"}`))
	c.dispatch([]byte(`{"type":"pong"}`))
	c.dispatch([]byte(`{"type":"end","from":"bob","call_id":"c1","reason":"hangup"}`))
	c.dispatch([]byte(`{"type":"error","code":"offline","call_id":"c2"}`))

	if len(got) != 2 {
		t.Fatalf("dispatched %d messages, want 2: %+v", len(got), got)
	}
	if got[0].From != "bob" || got[0].Type != protocol.TypeEnd {
		t.Fatalf("unexpected first message %+v", got[0])
	}
	if got[1].Type != protocol.TypeError || got[1].Code != protocol.CodeOffline {
		t.Fatalf("unexpected second message %+v", got[1])
	}
}
