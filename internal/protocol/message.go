// Package protocol defines the JSON envelope exchanged over the signaling relay.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dkeye/tribecall/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Type string

const (
	TypeOffer     Type = "offer"
	TypeAnswer    Type = "answer"
	TypeCandidate Type = "candidate"
	TypeDecline   Type = "decline"
	TypeEnd       Type = "end"
	TypeError     Type = "error"
	TypePing      Type = "ping"
	TypePong      Type = "pong"
)

// Reasons carried by decline and end.
const (
	ReasonBusy     = "busy"
	ReasonDeclined = "declined"
	ReasonTimeout  = "timeout"
	ReasonFailed   = "failed"
	ReasonHangup   = "hangup"
	ReasonCancel   = "cancelled"
	ReasonShutdown = "shutdown"
)

// Error codes sent by the relay.
const (
	CodeOffline     = "offline"
	CodeRateLimited = "rate_limited"
	CodeBadMessage  = "bad_message"
	CodeDropped     = "dropped"
)

var ErrMalformed = errors.New("malformed signaling message")

type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(init webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        init.Candidate,
		SDPMid:           init.SDPMid,
		SDPMLineIndex:    init.SDPMLineIndex,
		UsernameFragment: init.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

type Message struct {
	Type      Type             `json:"type"`
	To        domain.Identity  `json:"to,omitempty"`
	From      domain.Identity  `json:"from,omitempty"`
	CallID    domain.CallID    `json:"call_id,omitempty"`
	SDP       string           `json:"sdp,omitempty"`
	MediaKind domain.MediaKind `json:"media_kind,omitempty"`
	Candidate *Candidate       `json:"candidate,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Code      string           `json:"code,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// Parse decodes a single frame, rejecting unknown fields and trailing data.
func Parse(data []byte) (Message, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg Message
	if err := dec.Decode(&msg); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Message{}, fmt.Errorf("%w: unexpected trailing data", ErrMalformed)
	}
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (m Message) Encode() ([]byte, error) { return json.Marshal(m) }

// IsCall reports whether the message belongs to call negotiation and must be
// addressed to a peer.
func (m Message) IsCall() bool {
	switch m.Type {
	case TypeOffer, TypeAnswer, TypeCandidate, TypeDecline, TypeEnd:
		return true
	}
	return false
}

// Validate checks the payload for the message type. Addressing (to/from) is
// checked by whoever knows the direction.
func (m Message) Validate() error {
	switch m.Type {
	case TypeOffer:
		if m.SDP == "" {
			return fmt.Errorf("%w: offer missing sdp", ErrMalformed)
		}
		if !m.MediaKind.Valid() {
			return fmt.Errorf("%w: offer has media_kind=%q", ErrMalformed, m.MediaKind)
		}
		if m.Candidate != nil {
			return fmt.Errorf("%w: offer has unexpected fields", ErrMalformed)
		}
	case TypeAnswer:
		if m.SDP == "" {
			return fmt.Errorf("%w: answer missing sdp", ErrMalformed)
		}
		if m.Candidate != nil || m.MediaKind != "" {
			return fmt.Errorf("%w: answer has unexpected fields", ErrMalformed)
		}
	case TypeCandidate:
		if m.Candidate == nil || m.Candidate.Candidate == "" {
			return fmt.Errorf("%w: candidate message missing candidate", ErrMalformed)
		}
		if m.SDP != "" || m.MediaKind != "" {
			return fmt.Errorf("%w: candidate message has unexpected fields", ErrMalformed)
		}
	case TypeDecline, TypeEnd:
		if m.SDP != "" || m.Candidate != nil || m.MediaKind != "" {
			return fmt.Errorf("%w: %s message has unexpected fields", ErrMalformed, m.Type)
		}
	case TypeError:
		if m.Code == "" {
			return fmt.Errorf("%w: error message missing code", ErrMalformed)
		}
	case TypePing, TypePong:
	default:
		return fmt.Errorf("%w: unsupported message type %q", ErrMalformed, m.Type)
	}
	return nil
}

func Offer(id domain.CallID, sdp string, kind domain.MediaKind) Message {
	return Message{Type: TypeOffer, CallID: id, SDP: sdp, MediaKind: kind}
}

func Answer(id domain.CallID, sdp string) Message {
	return Message{Type: TypeAnswer, CallID: id, SDP: sdp}
}

func CandidateMessage(id domain.CallID, c Candidate) Message {
	return Message{Type: TypeCandidate, CallID: id, Candidate: &c}
}

func Decline(id domain.CallID, reason string) Message {
	return Message{Type: TypeDecline, CallID: id, Reason: reason}
}

func End(id domain.CallID, reason string) Message {
	return Message{Type: TypeEnd, CallID: id, Reason: reason}
}

func Error(id domain.CallID, code, message string) Message {
	return Message{Type: TypeError, CallID: id, Code: code, Message: message}
}
