// Package media owns the local capture devices for the active call.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/tribecall/internal/core"
	"github.com/dkeye/tribecall/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Tracks are the camera and microphone held by one call.
type Tracks struct {
	Audio core.LocalTrack
	Video core.LocalTrack
}

func (t *Tracks) All() []core.LocalTrack {
	var out []core.LocalTrack
	if t.Audio != nil {
		out = append(out, t.Audio)
	}
	if t.Video != nil {
		out = append(out, t.Video)
	}
	return out
}

type attempt struct {
	owner     domain.CallID
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled bool
}

// Manager hands the capture devices to one owner at a time. A pending
// acquisition counts as holding them.
type Manager struct {
	devices        core.MediaDevices
	acquireTimeout time.Duration
	logger         zerolog.Logger

	mu      sync.Mutex
	owner   domain.CallID
	pending *attempt
	tracks  *Tracks
	screen  core.LocalTrack
}

type Option func(*Manager)

// WithAcquireTimeout bounds a single device request. Zero waits forever.
func WithAcquireTimeout(d time.Duration) Option {
	return func(m *Manager) { m.acquireTimeout = d }
}

func NewManager(devices core.MediaDevices, opts ...Option) *Manager {
	m := &Manager{
		devices: devices,
		logger:  log.With().Str("module", "media").Logger(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Acquire returns the tracks for owner, opening devices on first use.
// A second call for the same owner returns the same tracks. A result that
// arrives after Release is stopped and reported as ErrAcquireCancelled.
func (m *Manager) Acquire(ctx context.Context, owner domain.CallID, kind domain.MediaKind) (*Tracks, error) {
	for {
		m.mu.Lock()
		if m.owner != "" && m.owner != owner {
			m.mu.Unlock()
			return nil, domain.ErrDevicesBusy
		}
		if m.tracks != nil {
			t := m.tracks
			m.mu.Unlock()
			return t, nil
		}
		if m.pending == nil {
			break
		}
		done := m.pending.done
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	actx, cancel := m.requestContext(ctx)
	a := &attempt{owner: owner, cancel: cancel, done: make(chan struct{})}
	m.owner = owner
	m.pending = a
	m.mu.Unlock()

	list, err := m.devices.GetUserMedia(actx, kind)
	cancel()

	m.mu.Lock()
	defer close(a.done)
	if m.pending == a {
		m.pending = nil
	}
	if a.cancelled || m.owner != owner {
		m.mu.Unlock()
		stopAll(list)
		m.logger.Debug().Str("call_id", owner.String()).Msg("late media released")
		return nil, domain.ErrAcquireCancelled
	}
	if err == nil {
		err = checkKinds(list, kind)
	}
	if err != nil {
		m.owner = ""
		m.mu.Unlock()
		stopAll(list)
		if !errors.Is(err, domain.ErrMediaAccessDenied) {
			err = fmt.Errorf("%w: %w", domain.ErrMediaAccessDenied, err)
		}
		return nil, err
	}
	t := &Tracks{}
	for _, tr := range list {
		switch tr.Kind() {
		case core.TrackAudio:
			t.Audio = tr
		case core.TrackVideo:
			t.Video = tr
		}
	}
	m.tracks = t
	m.mu.Unlock()

	m.logger.Info().Str("call_id", owner.String()).Str("kind", string(kind)).Int("tracks", len(list)).Msg("media acquired")
	return t, nil
}

// AcquireScreen opens a screen capture source for the current owner.
func (m *Manager) AcquireScreen(ctx context.Context, owner domain.CallID) (core.LocalTrack, error) {
	m.mu.Lock()
	if m.owner != owner || m.tracks == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: devices not held by call", domain.ErrInvalidState)
	}
	if m.screen != nil {
		s := m.screen
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	actx, cancel := m.requestContext(ctx)
	defer cancel()
	s, err := m.devices.GetDisplayMedia(actx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrScreenShareUnavailable, err)
	}

	m.mu.Lock()
	if m.owner != owner || m.screen != nil {
		m.mu.Unlock()
		_ = s.Stop()
		return nil, domain.ErrAcquireCancelled
	}
	m.screen = s
	m.mu.Unlock()
	return s, nil
}

// ReleaseScreen stops the screen source of owner, if any.
func (m *Manager) ReleaseScreen(owner domain.CallID) {
	m.mu.Lock()
	if m.owner != owner || m.screen == nil {
		m.mu.Unlock()
		return
	}
	s := m.screen
	m.screen = nil
	m.mu.Unlock()
	_ = s.Stop()
}

// Release stops every track of owner and cancels a pending acquisition.
// Releasing twice, or releasing a non-owner, is a no-op.
func (m *Manager) Release(owner domain.CallID) {
	m.mu.Lock()
	if m.owner != owner || owner == "" {
		m.mu.Unlock()
		return
	}
	var stop []core.LocalTrack
	if m.pending != nil {
		m.pending.cancelled = true
		m.pending.cancel()
		m.pending = nil
	}
	if m.tracks != nil {
		stop = m.tracks.All()
	}
	if m.screen != nil {
		stop = append(stop, m.screen)
	}
	m.owner = ""
	m.tracks = nil
	m.screen = nil
	m.mu.Unlock()

	stopAll(stop)
	m.logger.Info().Str("call_id", owner.String()).Int("tracks", len(stop)).Msg("media released")
}

// Held reports how many live tracks the manager is holding.
func (m *Manager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	if m.tracks != nil {
		n = len(m.tracks.All())
	}
	if m.screen != nil {
		n++
	}
	return n
}

func (m *Manager) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.acquireTimeout > 0 {
		return context.WithTimeout(ctx, m.acquireTimeout)
	}
	return context.WithCancel(ctx)
}

func checkKinds(list []core.LocalTrack, kind domain.MediaKind) error {
	var audio, video bool
	for _, t := range list {
		switch t.Kind() {
		case core.TrackAudio:
			audio = true
		case core.TrackVideo:
			video = true
		}
	}
	if !audio {
		return fmt.Errorf("%w: no microphone", domain.ErrMediaAccessDenied)
	}
	if kind.HasVideo() && !video {
		return fmt.Errorf("%w: no camera", domain.ErrMediaAccessDenied)
	}
	return nil
}

func stopAll(list []core.LocalTrack) {
	for _, t := range list {
		if err := t.Stop(); err != nil {
			log.Warn().Str("module", "media").Str("track", t.ID()).Err(err).Msg("stop track")
		}
	}
}
