package protocol

import (
	"errors"
	"testing"

	"github.com/dkeye/tribecall/internal/domain"
)

func TestParseOffer(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"offer","to":"bob","call_id":"c1","sdp":"v=0","media_kind":"audio_video"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.To != "bob" || msg.CallID != "c1" || msg.MediaKind != domain.MediaAudioVideo {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if !msg.IsCall() {
		t.Fatal("offer must be a call message")
	}
}

func TestParseCandidateKeepsPionFields(t *testing.T) {
	msg, err := Parse([]byte(`{"type":"candidate","call_id":"c1","candidate":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host","sdpMid":"0","sdpMLineIndex":0}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	init := msg.Candidate.ToPion()
	if init.SDPMid == nil || *init.SDPMid != "0" {
		t.Fatalf("sdpMid lost: %+v", init)
	}
	if init.SDPMLineIndex == nil || *init.SDPMLineIndex != 0 {
		t.Fatalf("sdpMLineIndex lost: %+v", init)
	}
	if back := CandidateFromPion(init); back.Candidate != msg.Candidate.Candidate {
		t.Fatalf("candidate changed: %q", back.Candidate)
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":      `{"type":"end","extra":1}`,
		"unknown type":       `{"type":"hello"}`,
		"offer without sdp":  `{"type":"offer","media_kind":"audio"}`,
		"offer bad kind":     `{"type":"offer","sdp":"v=0","media_kind":"video"}`,
		"empty candidate":    `{"type":"candidate","candidate":{"candidate":""}}`,
		"answer with kind":   `{"type":"answer","sdp":"v=0","media_kind":"audio"}`,
		"error without code": `{"type":"error","message":"x"}`,
		"trailing data":      `{"type":"end"}{"type":"end"}`,
		"not json":           `offer`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(raw)); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}
