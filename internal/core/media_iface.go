package core

import (
	"context"
	"errors"

	"github.com/dkeye/tribecall/internal/domain"
	"github.com/dkeye/tribecall/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// ErrReplaceUnsupported is returned by ReplaceTrack when the sender cannot
// switch sources in place and the session has to be renegotiated.
var ErrReplaceUnsupported = errors.New("in-place track replacement unsupported")

type TrackKind int

const (
	TrackAudio TrackKind = iota
	TrackVideo
)

func (k TrackKind) String() string {
	if k == TrackVideo {
		return "video"
	}
	return "audio"
}

// LocalTrack is a handle to one captured source.
type LocalTrack interface {
	ID() string
	// DeviceID identifies the capture source feeding the track.
	DeviceID() string
	Kind() TrackKind
	// OnEnded fires when the source stops on its own.
	OnEnded(func(error))
	// Stop releases the device. Safe to call more than once.
	Stop() error
	// Local returns the track to hand to a peer connection.
	Local() webrtc.TrackLocal
}

// MediaDevices opens capture sources.
type MediaDevices interface {
	GetUserMedia(ctx context.Context, kind domain.MediaKind) ([]LocalTrack, error)
	GetDisplayMedia(ctx context.Context) (LocalTrack, error)
}

type SDPType int

const (
	SDPOffer SDPType = iota
	SDPAnswer
)

type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

var transportStateNames = [...]string{"new", "connecting", "connected", "disconnected", "failed", "closed"}

func (s TransportState) String() string {
	if int(s) < len(transportStateNames) {
		return transportStateNames[s]
	}
	return "unknown"
}

// PeerTransport is the peer connection of one call.
type PeerTransport interface {
	AddTrack(LocalTrack) error
	// ReplaceTrack swaps the source of an existing sender; nil pauses it.
	ReplaceTrack(kind TrackKind, t LocalTrack) error
	// SwapTrack removes the sender of kind and adds t. Needs renegotiation.
	SwapTrack(kind TrackKind, t LocalTrack) error

	// CreateOffer and CreateAnswer also set the local description.
	CreateOffer() (string, error)
	CreateAnswer() (string, error)
	SetRemoteDescription(t SDPType, sdp string) error
	// RollbackOffer discards an unanswered local offer.
	RollbackOffer() error
	AddICECandidate(protocol.Candidate) error

	// OnICECandidate sets a callback for newly gathered local candidates.
	OnICECandidate(func(protocol.Candidate))
	OnStateChange(func(TransportState))

	// Close should stop all underlying network resources.
	Close() error
}

type TransportFactory interface {
	NewTransport(ctx context.Context, id domain.CallID) (PeerTransport, error)
}
