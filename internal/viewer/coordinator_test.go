package viewer

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakePanel struct {
	mu        sync.Mutex
	pauseFns  []func()
	resumeFns []func()
	maxResFns []func(int)
	visible   bool
	paused    bool
	stats     []string
}

func (p *fakePanel) OnPause(fn func()) {
	p.mu.Lock()
	p.pauseFns = append(p.pauseFns, fn)
	p.mu.Unlock()
}

func (p *fakePanel) OnResume(fn func()) {
	p.mu.Lock()
	p.resumeFns = append(p.resumeFns, fn)
	p.mu.Unlock()
}

func (p *fakePanel) OnMaxRenderRes(fn func(int)) {
	p.mu.Lock()
	p.maxResFns = append(p.maxResFns, fn)
	p.mu.Unlock()
}

func (p *fakePanel) SetTrainingControls(visible, paused bool) {
	p.mu.Lock()
	p.visible = visible
	p.paused = paused
	p.mu.Unlock()
}

func (p *fakePanel) SetStatsText(text string) {
	p.mu.Lock()
	p.stats = append(p.stats, text)
	p.mu.Unlock()
}

func (p *fakePanel) controls() (visible, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible, p.paused
}

func (p *fakePanel) lastStats() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.stats) == 0 {
		return ""
	}
	return p.stats[len(p.stats)-1]
}

func (p *fakePanel) firePause() {
	p.mu.Lock()
	fns := append([]func(){}, p.pauseFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (p *fakePanel) fireResume() {
	p.mu.Lock()
	fns := append([]func(){}, p.resumeFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (p *fakePanel) fireMaxRes(res int) {
	p.mu.Lock()
	fns := append([]func(int){}, p.maxResFns...)
	p.mu.Unlock()
	for _, fn := range fns {
		fn(res)
	}
}

func newTestCoordinator(t *testing.T, mode Mode) *Coordinator {
	t.Helper()
	cfg := testConfig(t, 70, 512, 0.5)
	c := NewCoordinator(mode, noopRender, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	// Keep training-loop tests from sleeping on the movement debounce.
	c.moveDebounce = 0
	return c
}

func TestCoordinator_ConnectDisconnect(t *testing.T) {
	c := newTestCoordinator(t, ModeTraining)

	a := newFakeClient("a", 1.0)
	c.Connect(a)
	if c.ClientCount() != 1 {
		t.Fatalf("clients = %d, want 1", c.ClientCount())
	}

	// Connect registers a movement listener on the handle.
	if errs := a.fireMoved(); len(errs) != 0 {
		t.Fatalf("movement handler failed: %v", errs)
	}
	if len(a.publishes()) != 1 {
		t.Fatalf("movement must produce exactly one preview, got %d", len(a.publishes()))
	}

	c.Disconnect("a")
	if c.ClientCount() != 0 {
		t.Errorf("clients = %d after disconnect, want 0", c.ClientCount())
	}

	// Unknown or already-removed ids are silent no-ops.
	c.Disconnect("a")
	c.Disconnect("never-connected")
}

func TestCoordinator_MovementAfterDisconnectIsNoop(t *testing.T) {
	c := newTestCoordinator(t, ModeTraining)
	a := newFakeClient("a", 1.0)
	c.Connect(a)
	c.Disconnect("a")

	// The transport may still deliver a movement event racing the
	// disconnect; the publish lands on a closed handle and is dropped.
	a.setClosed(true)
	if errs := a.fireMoved(); len(errs) != 0 {
		t.Errorf("movement after disconnect must not fail: %v", errs)
	}
}

func TestCoordinator_UpdateRouting(t *testing.T) {
	c := newTestCoordinator(t, ModeTraining)
	a := newFakeClient("a", 1.0)
	b := newFakeClient("b", 1.0)
	c.Connect(a)
	c.Connect(b)
	time.Sleep(time.Millisecond)

	// Fresh clients rendered "since" the initial update mark: nothing yet.
	if err := c.Update(1, false); err != nil {
		t.Fatal(err)
	}
	if n := len(a.publishes()) + len(b.publishes()); n != 0 {
		t.Fatalf("freshly connected clients re-rendered: %d publishes", n)
	}

	// Next cycle both are stale and get a full-resolution render.
	if err := c.Update(2, false); err != nil {
		t.Fatal(err)
	}
	if len(a.publishes()) != 1 || len(b.publishes()) != 1 {
		t.Fatalf("stale clients not rendered: a=%d b=%d", len(a.publishes()), len(b.publishes()))
	}
	if w := a.publishes()[0].frame.Width; w != 512 {
		t.Errorf("training render width = %d, want full 512", w)
	}

	// Idempotence: an immediate repeat observes "already rendered since
	// last update" and triggers nothing.
	time.Sleep(time.Millisecond)
	if err := c.Update(3, false); err != nil {
		t.Fatal(err)
	}
	if len(a.publishes()) != 1 || len(b.publishes()) != 1 {
		t.Fatalf("repeat update re-rendered: a=%d b=%d", len(a.publishes()), len(b.publishes()))
	}

	// A moves its camera (256px preview), B stays idle. The next update
	// must skip A and refresh only B.
	time.Sleep(time.Millisecond)
	if errs := a.fireMoved(); len(errs) != 0 {
		t.Fatal(errs)
	}
	if err := c.Update(5, false); err != nil {
		t.Fatal(err)
	}

	aPubs, bPubs := a.publishes(), b.publishes()
	if len(aPubs) != 2 {
		t.Fatalf("a should have full+preview only, got %d publishes", len(aPubs))
	}
	if aPubs[1].frame.Width != 256 {
		t.Errorf("a's last publish width = %d, want 256 preview", aPubs[1].frame.Width)
	}
	if len(bPubs) != 2 {
		t.Fatalf("b should have been refreshed, got %d publishes", len(bPubs))
	}
	if bPubs[1].frame.Width != 512 {
		t.Errorf("b's refresh width = %d, want full 512", bPubs[1].frame.Width)
	}
}

func TestCoordinator_SceneChangedForcesFullRender(t *testing.T) {
	c := newTestCoordinator(t, ModeTraining)
	a := newFakeClient("a", 1.0)
	c.Connect(a)

	// Even a client that just rendered gets refreshed when the scene
	// itself changed.
	if errs := a.fireMoved(); len(errs) != 0 {
		t.Fatal(errs)
	}
	if err := c.Update(1, true); err != nil {
		t.Fatal(err)
	}

	pubs := a.publishes()
	if len(pubs) != 2 {
		t.Fatalf("expected preview + full, got %d publishes", len(pubs))
	}
	if pubs[1].frame.Width != 512 {
		t.Errorf("scene-changed render width = %d, want 512", pubs[1].frame.Width)
	}
}

func TestCoordinator_UpdateInRenderingMode(t *testing.T) {
	c := newTestCoordinator(t, ModeRendering)
	if c.Status() != StatusRendering {
		t.Fatalf("status = %v, want rendering", c.Status())
	}

	if err := c.Update(1, true); !errors.Is(err, ErrRenderingMode) {
		t.Errorf("Update = %v, want ErrRenderingMode", err)
	}
	if err := c.Pause(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Pause = %v, want ErrInvalidTransition", err)
	}

	// Camera-driven previews still work in rendering mode.
	a := newFakeClient("a", 1.0)
	c.Connect(a)
	if errs := a.fireMoved(); len(errs) != 0 {
		t.Fatal(errs)
	}
	if len(a.publishes()) != 1 {
		t.Error("preview render suppressed in rendering mode")
	}
}

func TestCoordinator_PauseResume(t *testing.T) {
	c := newTestCoordinator(t, ModeTraining)
	panel := &fakePanel{}
	c.BindPanel(panel)

	if visible, paused := panel.controls(); !visible || paused {
		t.Fatalf("initial controls visible=%v paused=%v, want true/false", visible, paused)
	}

	a := newFakeClient("a", 1.0)
	c.Connect(a)
	if err := c.Update(1, false); err != nil {
		t.Fatal(err)
	}

	panel.firePause()
	if c.Status() != StatusPaused {
		t.Fatalf("status = %v after pause, want paused", c.Status())
	}
	if _, paused := panel.controls(); !paused {
		t.Error("controls should offer resume while paused")
	}

	// Updates are no-ops while paused and must not render.
	before := len(a.publishes())
	if err := c.Update(2, true); err != nil {
		t.Fatal(err)
	}
	if len(a.publishes()) != before {
		t.Error("paused coordinator triggered a render")
	}

	panel.fireResume()
	if c.Status() != StatusTraining {
		t.Fatalf("status = %v after resume, want training", c.Status())
	}
	if visible, paused := panel.controls(); !visible || paused {
		t.Errorf("controls visible=%v paused=%v after resume, want true/false", visible, paused)
	}

	// Double pause: second one is rejected, state unchanged.
	panel.firePause()
	panel.firePause()
	if c.Status() != StatusPaused {
		t.Errorf("status = %v, want paused", c.Status())
	}
}

func TestCoordinator_PanelMaxRenderRes(t *testing.T) {
	c := newTestCoordinator(t, ModeTraining)
	panel := &fakePanel{}
	c.BindPanel(panel)

	panel.fireMaxRes(1024)
	if c.Config().MaxRenderRes() != 1024 {
		t.Errorf("max res = %d after slider, want 1024", c.Config().MaxRenderRes())
	}

	// An invalid slider value is rejected and the old cap survives.
	panel.fireMaxRes(-1)
	if c.Config().MaxRenderRes() != 1024 {
		t.Errorf("max res = %d after invalid slider, want 1024", c.Config().MaxRenderRes())
	}
}

func TestCoordinator_CompleteIsTerminal(t *testing.T) {
	c := newTestCoordinator(t, ModeTraining)
	panel := &fakePanel{}
	c.BindPanel(panel)
	a := newFakeClient("a", 1.0)
	c.Connect(a)

	if err := c.Update(42, false); err != nil {
		t.Fatal(err)
	}
	if err := c.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c.Status() != StatusCompleted {
		t.Fatalf("status = %v, want completed", c.Status())
	}

	// Terminal stats line carries the final step count.
	if got := panel.lastStats(); !strings.Contains(got, "step: 42") {
		t.Errorf("final stats %q should contain the final step", got)
	}
	if visible, _ := panel.controls(); visible {
		t.Error("training controls should be hidden after complete")
	}

	// One-way: everything after is rejected or a no-op.
	if err := c.Complete(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Complete = %v, want ErrInvalidTransition", err)
	}
	if err := c.Pause(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Pause after complete = %v, want ErrInvalidTransition", err)
	}
	if err := c.Resume(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Resume after complete = %v, want ErrInvalidTransition", err)
	}

	before := len(a.publishes())
	if err := c.Update(43, true); err != nil {
		t.Fatal(err)
	}
	if len(a.publishes()) != before {
		t.Error("update after complete triggered a render")
	}
	if c.Step() != 42 {
		t.Errorf("step advanced after complete: %d", c.Step())
	}

	// Viewing the finished result stays interactive.
	if errs := a.fireMoved(); len(errs) != 0 {
		t.Fatal(errs)
	}
	if len(a.publishes()) != before+1 {
		t.Error("camera preview suppressed after complete")
	}
}

func TestCoordinator_UpdatePropagatesCallbackFailure(t *testing.T) {
	errBroken := errors.New("render device lost")
	cfg := testConfig(t, 70, 128, 0.5)
	c := NewCoordinator(ModeTraining, func(cam CameraState, w, h int) (Frame, []float32, error) {
		return Frame{}, nil, errBroken
	}, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	c.moveDebounce = 0

	c.Connect(newFakeClient("a", 1.0))
	if err := c.Update(1, true); !errors.Is(err, errBroken) {
		t.Fatalf("Update = %v, want wrapped callback error", err)
	}

	// The coordinator survives: the next update still dispatches.
	if err := c.Update(2, true); !errors.Is(err, errBroken) {
		t.Fatalf("second Update = %v, want wrapped callback error", err)
	}
}

func TestCoordinator_MovementDebounce(t *testing.T) {
	c := newTestCoordinator(t, ModeTraining)
	c.moveDebounce = 50 * time.Millisecond
	c.debouncePoll = 5 * time.Millisecond
	c.debounceMaxWait = 250 * time.Millisecond

	a := newFakeClient("a", 1.0)
	c.Connect(a)
	if errs := a.fireMoved(); len(errs) != 0 {
		t.Fatal(errs)
	}

	// The client just moved: the update holds until the movement is at
	// least 50ms old, but stays bounded by the max wait.
	start := time.Now()
	if err := c.Update(1, true); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)

	if elapsed < 40*time.Millisecond {
		t.Errorf("update pushed %v after movement, want a ~50ms hold", elapsed)
	}
	if elapsed > 400*time.Millisecond {
		t.Errorf("update held %v, debounce must stay bounded", elapsed)
	}
}

func TestCoordinator_LastMoved(t *testing.T) {
	c := newTestCoordinator(t, ModeTraining)
	if !c.LastMoved().IsZero() {
		t.Error("LastMoved with no clients should be the zero time")
	}

	a := newFakeClient("a", 1.0)
	b := newFakeClient("b", 1.0)
	c.Connect(a)
	c.Connect(b)

	time.Sleep(time.Millisecond)
	if errs := b.fireMoved(); len(errs) != 0 {
		t.Fatal(errs)
	}

	if got := c.LastMoved(); time.Since(got) > time.Second {
		t.Errorf("LastMoved = %v, want just now", got)
	}
}
