package call

import (
	"context"

	"github.com/dkeye/tribecall/internal/app/media"
	"github.com/dkeye/tribecall/internal/core"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/dkeye/tribecall/internal/protocol"
)

// Command is a user intent consumed by the machine loop.
type Command interface{ command() }

type (
	StartCall struct {
		Remote domain.Identity
		Kind   domain.MediaKind
	}
	AcceptCall       struct{}
	DeclineCall      struct{}
	HangUp           struct{}
	ToggleMute       struct{}
	ToggleCamera     struct{}
	StartScreenShare struct{}
	StopScreenShare  struct{}

	snapshotQuery struct{}
)

func (StartCall) command()        {}
func (AcceptCall) command()       {}
func (DeclineCall) command()      {}
func (HangUp) command()           {}
func (ToggleMute) command()       {}
func (ToggleCamera) command()     {}
func (StartScreenShare) command() {}
func (StopScreenShare) command()  {}
func (snapshotQuery) command()    {}

// Loop inputs besides commands.
type (
	request struct {
		cmd   Command
		reply chan reply
	}
	reply struct {
		snap domain.Snapshot
		err  error
	}
	inbound struct {
		from domain.Identity
		msg  protocol.Message
	}
	mediaResult struct {
		id     domain.CallID
		tracks *media.Tracks
		err    error
	}
	screenResult struct {
		id    domain.CallID
		track core.LocalTrack
		err   error
	}
	localCandidate struct {
		id domain.CallID
		c  protocol.Candidate
	}
	transportEvent struct {
		id    domain.CallID
		state core.TransportState
	}
	screenEnded struct {
		id      domain.CallID
		trackID string
	}
	timerFired struct {
		id   domain.CallID
		kind timerKind
	}
)

type timerKind int

const (
	timerRing timerKind = iota
	timerICE
)

// Do submits cmd and waits for the loop to apply it. StartCall and
// AcceptCall return once local media is attached and the offer or answer
// has been sent.
func (m *Machine) Do(ctx context.Context, cmd Command) (domain.Snapshot, error) {
	req := request{cmd: cmd, reply: make(chan reply, 1)}
	m.box.push(req)
	select {
	case r := <-req.reply:
		return r.snap, r.err
	case <-ctx.Done():
		return domain.Snapshot{}, ctx.Err()
	case <-m.done:
		select {
		case r := <-req.reply:
			return r.snap, r.err
		default:
		}
		return domain.Snapshot{}, ErrClosed
	}
}

func (m *Machine) StartCall(ctx context.Context, remote domain.Identity, kind domain.MediaKind) (domain.Snapshot, error) {
	return m.Do(ctx, StartCall{Remote: remote, Kind: kind})
}

func (m *Machine) AcceptCall(ctx context.Context) (domain.Snapshot, error) {
	return m.Do(ctx, AcceptCall{})
}

func (m *Machine) DeclineCall(ctx context.Context) (domain.Snapshot, error) {
	return m.Do(ctx, DeclineCall{})
}

func (m *Machine) HangUp(ctx context.Context) (domain.Snapshot, error) {
	return m.Do(ctx, HangUp{})
}

func (m *Machine) ToggleMute(ctx context.Context) (domain.Snapshot, error) {
	return m.Do(ctx, ToggleMute{})
}

func (m *Machine) ToggleCamera(ctx context.Context) (domain.Snapshot, error) {
	return m.Do(ctx, ToggleCamera{})
}

func (m *Machine) StartScreenShare(ctx context.Context) (domain.Snapshot, error) {
	return m.Do(ctx, StartScreenShare{})
}

func (m *Machine) StopScreenShare(ctx context.Context) (domain.Snapshot, error) {
	return m.Do(ctx, StopScreenShare{})
}

// Snapshot returns the live session, or the last ended one.
func (m *Machine) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	return m.Do(ctx, snapshotQuery{})
}
