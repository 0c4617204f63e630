package domain

import (
	"fmt"
	"time"
)

type MediaKind string

const (
	MediaAudio      MediaKind = "audio"
	MediaAudioVideo MediaKind = "audio_video"
)

func ParseMediaKind(s string) (MediaKind, error) {
	switch k := MediaKind(s); k {
	case MediaAudio, MediaAudioVideo:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMediaKind, s)
	}
}

func (k MediaKind) Valid() bool    { return k == MediaAudio || k == MediaAudioVideo }
func (k MediaKind) HasVideo() bool { return k == MediaAudioVideo }

type Role int

const (
	RoleCaller Role = iota
	RoleCallee
)

func (r Role) String() string {
	if r == RoleCallee {
		return "callee"
	}
	return "caller"
}

func (r Role) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

type State int

const (
	StateIdle State = iota
	StateOutgoing
	StateIncoming
	StateConnected
	StateEnded
)

var stateNames = [...]string{"idle", "outgoing", "incoming", "connected", "ended"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// transitions lists every legal edge; Ended is reachable from anywhere live.
var transitions = map[State][]State{
	StateIdle:      {StateOutgoing, StateIncoming},
	StateOutgoing:  {StateConnected, StateEnded},
	StateIncoming:  {StateConnected, StateEnded},
	StateConnected: {StateEnded},
}

func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type EndReason string

const (
	EndHangup            EndReason = "hangup"
	EndRemoteEnd         EndReason = "remote_end"
	EndDeclined          EndReason = "declined"
	EndRemoteDeclined    EndReason = "remote_declined"
	EndBusy              EndReason = "busy"
	EndCancelled         EndReason = "cancelled"
	EndMediaDenied       EndReason = "media_denied"
	EndNegotiationFailed EndReason = "negotiation_failed"
	EndTransportFailed   EndReason = "transport_failed"
	EndRingTimeout       EndReason = "ring_timeout"
	EndUnreachable       EndReason = "unreachable"
	EndShutdown          EndReason = "shutdown"
)

// CallSession is one active or pending call attempt. It is not safe for
// concurrent use; the call machine is its single owner.
type CallSession struct {
	ID     CallID
	Role   Role
	Remote Identity
	Kind   MediaKind
	State  State

	// PendingRemoteDescription holds the received offer until accept.
	PendingRemoteDescription string

	MutedLocalAudio bool
	CameraDisabled  bool
	ScreenSharing   bool

	CandidateFailures int
	EndReason         EndReason

	CreatedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
}

func NewOutgoingSession(remote Identity, kind MediaKind) *CallSession {
	return &CallSession{
		ID:        NewCallID(),
		Role:      RoleCaller,
		Remote:    remote,
		Kind:      kind,
		State:     StateOutgoing,
		CreatedAt: time.Now(),
	}
}

// NewIncomingSession records an offer without touching any media.
func NewIncomingSession(id CallID, remote Identity, kind MediaKind, offer string) *CallSession {
	if id == "" {
		id = NewCallID()
	}
	return &CallSession{
		ID:                       id,
		Role:                     RoleCallee,
		Remote:                   remote,
		Kind:                     kind,
		State:                    StateIncoming,
		PendingRemoteDescription: offer,
		CreatedAt:                time.Now(),
	}
}

func (s *CallSession) Live() bool { return s.State != StateIdle && s.State != StateEnded }

func (s *CallSession) Transition(to State) error {
	if !s.State.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, s.State, to)
	}
	s.State = to
	if to == StateConnected {
		s.ConnectedAt = time.Now()
	}
	return nil
}

// End moves the session to Ended once. It reports false when the session
// had already ended so callers can keep termination idempotent.
func (s *CallSession) End(reason EndReason) bool {
	if s.State == StateEnded {
		return false
	}
	s.State = StateEnded
	s.EndReason = reason
	s.EndedAt = time.Now()
	s.PendingRemoteDescription = ""
	s.ScreenSharing = false
	return true
}

func (s *CallSession) SetScreenSharing(on bool) error {
	if on && !s.Kind.HasVideo() {
		return ErrScreenShareRequiresVideo
	}
	s.ScreenSharing = on
	return nil
}

// Check verifies the cross-field invariants of the entity.
func (s *CallSession) Check() error {
	if !s.Kind.Valid() {
		return ErrInvalidMediaKind
	}
	if s.ScreenSharing && !s.Kind.HasVideo() {
		return ErrScreenShareRequiresVideo
	}
	if s.PendingRemoteDescription != "" && s.State != StateIncoming {
		return fmt.Errorf("%w: pending offer in %s", ErrInvalidState, s.State)
	}
	return nil
}

// Snapshot is the read-only view handed to the UI layer.
type Snapshot struct {
	CallID             CallID    `json:"call_id,omitempty"`
	Role               Role      `json:"role"`
	Remote             Identity  `json:"remote,omitempty"`
	MediaKind          MediaKind `json:"media_kind,omitempty"`
	State              State     `json:"state"`
	MutedLocalAudio    bool      `json:"muted"`
	CameraDisabled     bool      `json:"camera_disabled"`
	ScreenSharing      bool      `json:"screen_sharing"`
	BufferedCandidates int       `json:"buffered_candidates"`
	CandidateFailures  int       `json:"candidate_failures"`
	EndReason          EndReason `json:"end_reason,omitempty"`
}

func (s *CallSession) Snapshot() Snapshot {
	return Snapshot{
		CallID:            s.ID,
		Role:              s.Role,
		Remote:            s.Remote,
		MediaKind:         s.Kind,
		State:             s.State,
		MutedLocalAudio:   s.MutedLocalAudio,
		CameraDisabled:    s.CameraDisabled,
		ScreenSharing:     s.ScreenSharing,
		CandidateFailures: s.CandidateFailures,
		EndReason:         s.EndReason,
	}
}
