package media

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/tribecall/internal/core"
	"github.com/dkeye/tribecall/internal/core/coretest"
	"github.com/dkeye/tribecall/internal/domain"
)

func newReplacerFixture(t *testing.T) (*Replacer, *Manager, *coretest.Devices, *coretest.Transport) {
	t.Helper()
	dev := coretest.NewDevices()
	m := NewManager(dev)
	tracks, err := m.Acquire(context.Background(), "c1", domain.MediaAudioVideo)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	tr := coretest.NewTransport()
	for _, lt := range tracks.All() {
		_ = tr.AddTrack(lt)
	}
	return NewReplacer(m, "c1", tr, tracks, ReplacerHooks{}), m, dev, tr
}

func share(r *Replacer) error {
	screen, err := r.Acquire(context.Background())
	if err != nil {
		return err
	}
	return r.Attach(screen)
}

func TestShareThenStopRestoresCamera(t *testing.T) {
	r, m, _, tr := newReplacerFixture(t)
	before := tr.Track(core.TrackVideo)

	if err := share(r); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := tr.Track(core.TrackVideo); got.DeviceID() != "screen" {
		t.Fatalf("sender carries %q, want screen", got.DeviceID())
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	after := tr.Track(core.TrackVideo)
	if after.DeviceID() != before.DeviceID() || after.ID() != before.ID() {
		t.Fatalf("restored %s/%s, want %s/%s", after.ID(), after.DeviceID(), before.ID(), before.DeviceID())
	}
	if m.Held() != 2 {
		t.Fatalf("screen not released, held=%d", m.Held())
	}
	if err := r.Stop(); !errors.Is(err, domain.ErrScreenShareInactive) {
		t.Fatalf("second stop: %v", err)
	}
}

func TestScreenFailureLeavesCamera(t *testing.T) {
	r, _, dev, tr := newReplacerFixture(t)
	before := tr.Track(core.TrackVideo)
	dev.SetScreenErr(coretest.ErrDenied)

	if err := share(r); !errors.Is(err, domain.ErrScreenShareUnavailable) {
		t.Fatalf("expected ErrScreenShareUnavailable, got %v", err)
	}
	if tr.Track(core.TrackVideo) != before || r.Sharing() {
		t.Fatal("camera must stay on the sender")
	}
}

func TestScreenEndedHookAndStopIf(t *testing.T) {
	r, _, _, tr := newReplacerFixture(t)
	ended := make(chan string, 1)
	r.hooks.ScreenEnded = func(id string) { ended <- id }
	camera := tr.Track(core.TrackVideo)

	if err := share(r); err != nil {
		t.Fatalf("start: %v", err)
	}
	screen := r.Outgoing().(*coretest.Track)
	screen.End()
	id := <-ended

	if ok, _ := r.StopIf("something-else"); ok {
		t.Fatal("StopIf must ignore other tracks")
	}
	ok, err := r.StopIf(id)
	if !ok || err != nil {
		t.Fatalf("StopIf(%s) = %v, %v", id, ok, err)
	}
	if tr.Track(core.TrackVideo) != camera {
		t.Fatal("camera not restored after screen ended")
	}
}

func TestCameraToggleWhileSharing(t *testing.T) {
	r, _, _, tr := newReplacerFixture(t)
	if err := share(r); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.SetCamera(false); err != nil {
		t.Fatalf("disable camera: %v", err)
	}
	if tr.Track(core.TrackVideo).DeviceID() != "screen" {
		t.Fatal("camera toggle must not interrupt the share")
	}
	if err := r.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if tr.Track(core.TrackVideo) != nil {
		t.Fatal("disabled camera must not come back after the share")
	}
}

func TestReplaceFallsBackToRenegotiation(t *testing.T) {
	r, _, _, tr := newReplacerFixture(t)
	tr.ReplaceErr = core.ErrReplaceUnsupported
	renegotiated := 0
	r.hooks.Renegotiate = func() error { renegotiated++; return nil }

	if err := share(r); err != nil {
		t.Fatalf("start: %v", err)
	}
	if tr.Swaps() != 1 || renegotiated != 1 {
		t.Fatalf("swaps=%d renegotiated=%d, want 1/1", tr.Swaps(), renegotiated)
	}
}

func TestMuteClearsAudioSender(t *testing.T) {
	r, _, _, tr := newReplacerFixture(t)
	mic := tr.Track(core.TrackAudio)
	if err := r.SetAudio(false); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if tr.Track(core.TrackAudio) != nil {
		t.Fatal("muted sender must carry no track")
	}
	if err := r.SetAudio(true); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	if tr.Track(core.TrackAudio) != mic {
		t.Fatal("unmute must restore the microphone")
	}
}

func TestFallbackRefusedBeforeTouchingSender(t *testing.T) {
	r, _, _, tr := newReplacerFixture(t)
	tr.ReplaceErr = core.ErrReplaceUnsupported
	r.hooks.CanRenegotiate = func() bool { return false }
	r.hooks.Renegotiate = func() error {
		t.Fatal("renegotiate must not run")
		return nil
	}
	mic := tr.Track(core.TrackAudio)

	if err := r.SetAudio(false); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("mute: %v", err)
	}
	if tr.Swaps() != 0 || tr.Track(core.TrackAudio) != mic {
		t.Fatalf("sender changed: swaps=%d", tr.Swaps())
	}
}

func TestFailedRenegotiationRestoresCamera(t *testing.T) {
	r, m, dev, tr := newReplacerFixture(t)
	tr.ReplaceErr = core.ErrReplaceUnsupported
	r.hooks.Renegotiate = func() error { return errors.New("offer rejected") }
	camera := tr.Track(core.TrackVideo)

	if err := share(r); !errors.Is(err, domain.ErrScreenShareUnavailable) {
		t.Fatalf("expected ErrScreenShareUnavailable, got %v", err)
	}
	if tr.Track(core.TrackVideo) != camera || r.Sharing() || r.Outgoing() != camera {
		t.Fatal("camera must be back on the sender")
	}
	if tr.Swaps() != 2 {
		t.Fatalf("swaps=%d, want 2", tr.Swaps())
	}
	if m.Held() != 2 {
		t.Fatalf("screen still held, held=%d", m.Held())
	}
	for _, tk := range dev.Issued() {
		if tk.DeviceID() == "screen" && !tk.Stopped() {
			t.Fatal("screen source not stopped")
		}
	}
}

func TestFailedRenegotiationKeepsMicrophone(t *testing.T) {
	r, _, _, tr := newReplacerFixture(t)
	tr.ReplaceErr = core.ErrReplaceUnsupported
	r.hooks.Renegotiate = func() error { return errors.New("offer rejected") }
	mic := tr.Track(core.TrackAudio)

	if err := r.SetAudio(false); err == nil {
		t.Fatal("mute must report the failed renegotiation")
	}
	if tr.Track(core.TrackAudio) != mic {
		t.Fatal("microphone must be back on the sender")
	}
}
