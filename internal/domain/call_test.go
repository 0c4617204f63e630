package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParseIdentity(t *testing.T) {
	if _, err := ParseIdentity("   "); !errors.Is(err, ErrIdentityEmpty) {
		t.Fatalf("blank identity: got %v", err)
	}
	if _, err := ParseIdentity(strings.Repeat("a", MaxIdentityLen+1)); !errors.Is(err, ErrIdentityTooLong) {
		t.Fatalf("long identity: got %v", err)
	}
	id, err := ParseIdentity(" alice ")
	if err != nil || id != "alice" {
		t.Fatalf("got %q, %v", id, err)
	}
}

func TestParseMediaKind(t *testing.T) {
	if k, err := ParseMediaKind("audio_video"); err != nil || !k.HasVideo() {
		t.Fatalf("got %q, %v", k, err)
	}
	if _, err := ParseMediaKind("video"); !errors.Is(err, ErrInvalidMediaKind) {
		t.Fatalf("expected ErrInvalidMediaKind, got %v", err)
	}
}

func TestSessionTransitions(t *testing.T) {
	s := NewOutgoingSession("bob", MediaAudio)
	if s.Role != RoleCaller || s.State != StateOutgoing || s.ID == "" {
		t.Fatalf("unexpected new session: %+v", s)
	}
	if err := s.Transition(StateIncoming); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("outgoing -> incoming must be rejected, got %v", err)
	}
	if err := s.Transition(StateConnected); err != nil {
		t.Fatalf("outgoing -> connected: %v", err)
	}
	if s.ConnectedAt.IsZero() {
		t.Fatal("ConnectedAt not stamped")
	}
	if !s.End(EndHangup) {
		t.Fatal("first End must report true")
	}
	if s.End(EndRemoteEnd) {
		t.Fatal("second End must report false")
	}
	if s.EndReason != EndHangup {
		t.Fatalf("end reason overwritten: %s", s.EndReason)
	}
	if err := s.Transition(StateConnected); err == nil {
		t.Fatal("ended session must not transition")
	}
}

func TestIncomingSessionKeepsOfferUntilEnd(t *testing.T) {
	s := NewIncomingSession("", "alice", MediaAudioVideo, "v=0")
	if s.ID == "" {
		t.Fatal("missing call id")
	}
	if err := s.Check(); err != nil {
		t.Fatalf("check: %v", err)
	}
	s.End(EndDeclined)
	if s.PendingRemoteDescription != "" {
		t.Fatal("pending offer must be cleared on end")
	}
}

func TestScreenShareRequiresVideo(t *testing.T) {
	s := NewOutgoingSession("bob", MediaAudio)
	if err := s.SetScreenSharing(true); !errors.Is(err, ErrScreenShareRequiresVideo) {
		t.Fatalf("got %v", err)
	}
	s.ScreenSharing = true
	if err := s.Check(); !errors.Is(err, ErrScreenShareRequiresVideo) {
		t.Fatalf("check must flag audio screen share, got %v", err)
	}
}
