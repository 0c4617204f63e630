package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/tribecall/internal/core"
	"github.com/dkeye/tribecall/internal/domain"
)

// Sender is the part of a peer transport the replacer drives.
type Sender interface {
	ReplaceTrack(kind core.TrackKind, t core.LocalTrack) error
	SwapTrack(kind core.TrackKind, t core.LocalTrack) error
}

type ReplacerHooks struct {
	// CanRenegotiate reports whether a SwapTrack fallback may run now.
	// Nil means always.
	CanRenegotiate func() bool
	// Renegotiate is called after a SwapTrack fallback. On error the
	// previous track is swapped back.
	Renegotiate func() error
	// ScreenEnded is called from the capture goroutine when the shared
	// screen stops on its own. The caller must re-serialize and call StopIf.
	ScreenEnded func(trackID string)
}

// Replacer switches the outgoing sources of one call: camera to screen and
// back, and pausing audio or video. It is not safe for concurrent use.
type Replacer struct {
	media  *Manager
	owner  domain.CallID
	sender Sender
	hooks  ReplacerHooks

	camera   core.LocalTrack
	audio    core.LocalTrack
	audioOut core.LocalTrack // what the audio sender carries now
	outgoing core.LocalTrack // what the video sender carries now
	restore  core.LocalTrack // what Stop puts back
	screen   core.LocalTrack
}

func NewReplacer(m *Manager, owner domain.CallID, sender Sender, tracks *Tracks, hooks ReplacerHooks) *Replacer {
	r := &Replacer{media: m, owner: owner, sender: sender, hooks: hooks}
	if tracks != nil {
		r.camera = tracks.Video
		r.audio = tracks.Audio
		r.audioOut = tracks.Audio
		r.outgoing = tracks.Video
	}
	return r
}

func (r *Replacer) Outgoing() core.LocalTrack { return r.outgoing }
func (r *Replacer) Sharing() bool             { return r.screen != nil }

// Acquire opens a screen source. It may block on the user and does not touch
// the sender, so it can run off the owner's goroutine.
func (r *Replacer) Acquire(ctx context.Context) (core.LocalTrack, error) {
	return r.media.AcquireScreen(ctx, r.owner)
}

// Attach puts an acquired screen source on the video sender.
func (r *Replacer) Attach(screen core.LocalTrack) error {
	if r.screen != nil {
		return nil
	}
	prev := r.outgoing
	if err := r.replace(core.TrackVideo, screen); err != nil {
		r.media.ReleaseScreen(r.owner)
		return fmt.Errorf("%w: %w", domain.ErrScreenShareUnavailable, err)
	}
	r.restore = prev
	r.screen = screen
	r.outgoing = screen
	id := screen.ID()
	screen.OnEnded(func(error) {
		if r.hooks.ScreenEnded != nil {
			r.hooks.ScreenEnded(id)
		}
	})
	return nil
}

// Stop puts back the track that was outgoing before the share began.
func (r *Replacer) Stop() error {
	if r.screen == nil {
		return domain.ErrScreenShareInactive
	}
	if err := r.replace(core.TrackVideo, r.restore); err != nil {
		return err
	}
	r.outgoing = r.restore
	r.restore = nil
	r.screen = nil
	r.media.ReleaseScreen(r.owner)
	return nil
}

// StopIf reverts only if trackID is still the shared screen.
func (r *Replacer) StopIf(trackID string) (bool, error) {
	if r.screen == nil || r.screen.ID() != trackID {
		return false, nil
	}
	return true, r.Stop()
}

// SetCamera enables or disables the camera. While sharing it only changes
// what Stop restores.
func (r *Replacer) SetCamera(enabled bool) error {
	want := r.camera
	if !enabled {
		want = nil
	}
	if r.screen != nil {
		r.restore = want
		return nil
	}
	if err := r.replace(core.TrackVideo, want); err != nil {
		return err
	}
	r.outgoing = want
	return nil
}

func (r *Replacer) SetAudio(enabled bool) error {
	want := r.audio
	if !enabled {
		want = nil
	}
	if err := r.replace(core.TrackAudio, want); err != nil {
		return err
	}
	r.audioOut = want
	return nil
}

func (r *Replacer) current(kind core.TrackKind) core.LocalTrack {
	if kind == core.TrackAudio {
		return r.audioOut
	}
	return r.outgoing
}

// replace puts t on the sender of kind. When the sender cannot switch in
// place it swaps the track and renegotiates; the sender is left unchanged
// if either step is refused.
func (r *Replacer) replace(kind core.TrackKind, t core.LocalTrack) error {
	err := r.sender.ReplaceTrack(kind, t)
	if !errors.Is(err, core.ErrReplaceUnsupported) {
		return err
	}
	if r.hooks.CanRenegotiate != nil && !r.hooks.CanRenegotiate() {
		return fmt.Errorf("%w: %w", domain.ErrInvalidState, err)
	}
	prev := r.current(kind)
	if err := r.sender.SwapTrack(kind, t); err != nil {
		return err
	}
	if r.hooks.Renegotiate == nil {
		return nil
	}
	if err := r.hooks.Renegotiate(); err != nil {
		if rerr := r.sender.SwapTrack(kind, prev); rerr != nil {
			return fmt.Errorf("%w (restore %s: %v)", err, kind, rerr)
		}
		return err
	}
	return nil
}
