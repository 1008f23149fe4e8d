package player_test

import (
	"errors"
	"io"
	"math"
	"testing"

	"github.com/sirupsen/logrus"

	"abplayer/internal/broadcast"
	"abplayer/internal/config"
	"abplayer/internal/fake"
	"abplayer/internal/level"
	"abplayer/internal/player"
	"abplayer/internal/renderer"
	"abplayer/pkg/models"
)

type rig struct {
	p        *player.Player
	bus      *broadcast.Bus
	factory  *fake.Factory
	platform *fake.Platform
	frames   *fake.Scheduler
	canvas   *fake.Canvas
	clock    *fake.Clock
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newRig(t *testing.T, bus *broadcast.Bus, mutate func(*player.Config)) *rig {
	t.Helper()
	cfg := player.ConfigFrom(config.DefaultConfig())
	if mutate != nil {
		mutate(&cfg)
	}
	r := &rig{
		bus: bus,
		factory: &fake.Factory{Durations: map[renderer.Variant]float64{
			renderer.Mix:    180.4,
			renderer.Master: 180.4,
		}},
		platform: &fake.Platform{},
		frames:   fake.NewScheduler(),
		canvas:   fake.NewCanvas(640, 80),
		clock:    &fake.Clock{},
	}
	p, err := player.New(cfg, player.Deps{
		Bus:       bus,
		Renderers: r.factory.New,
		Platform:  r.platform,
		Frames:    r.frames,
		Canvas:    r.canvas,
		Logger:    quietLogger(),
		AfterFunc: r.clock.AfterFunc,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	r.p = p
	t.Cleanup(p.Close)
	return r
}

func testPair() models.TrackPair {
	return models.TrackPair{
		ID:            7,
		Title:         "Midnight",
		Artist:        "Studio",
		Tags:          []string{"house", "club"},
		DeclaredLevel: "-8.5 LUFS",
		MixURL:        "https://cdn.example/midnight-mix.wav",
		MasterURL:     "https://cdn.example/midnight-master.wav",
	}
}

func (r *rig) master() *fake.Renderer { return r.factory.Latest(renderer.Master) }
func (r *rig) mix() *fake.Renderer    { return r.factory.Latest(renderer.Mix) }

// loadReady loads the pair and fires both ready events and the settle timer.
func (r *rig) loadReady(t *testing.T, pair models.TrackPair) {
	t.Helper()
	if err := r.p.Load(pair); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	r.master().Emit(renderer.Event{Type: renderer.EventReady})
	r.mix().Emit(renderer.Event{Type: renderer.EventReady})
	r.clock.Fire()
	if !r.p.Ready() {
		t.Fatal("player not ready after both ready events")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	cfg := player.ConfigFrom(config.DefaultConfig())
	f := &fake.Factory{}

	tests := []struct {
		name string
		deps player.Deps
	}{
		{"no bus", player.Deps{Renderers: f.New, Platform: &fake.Platform{}}},
		{"no factory", player.Deps{Bus: broadcast.NewBus(), Platform: &fake.Platform{}}},
		{"no platform", player.Deps{Bus: broadcast.NewBus(), Renderers: f.New}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := player.New(cfg, tt.deps); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEachInstanceGetsItsOwnIdentity(t *testing.T) {
	bus := broadcast.NewBus()
	a := newRig(t, bus, nil)
	b := newRig(t, bus, nil)

	if a.p.ID() == "" || a.p.ID() == b.p.ID() {
		t.Errorf("IDs = %q and %q, want distinct non-empty tokens", a.p.ID(), b.p.ID())
	}
	if bus.Len() != 2 {
		t.Errorf("bus subscribers = %d, want 2", bus.Len())
	}
}

func TestScenario(t *testing.T) {
	r := newRig(t, broadcast.NewBus(), nil)

	if err := r.p.Load(testPair()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if r.p.Ready() {
		t.Fatal("ready before any renderer loaded")
	}
	if r.master().URL != testPair().MasterURL || r.mix().URL != testPair().MixURL {
		t.Errorf("renderers loaded %q / %q", r.master().URL, r.mix().URL)
	}

	r.master().Emit(renderer.Event{Type: renderer.EventReady})
	if r.p.Ready() {
		t.Fatal("ready after only the master loaded")
	}
	r.mix().Emit(renderer.Event{Type: renderer.EventReady})
	if !r.p.Ready() {
		t.Fatal("not ready after both renderers loaded")
	}

	if got := r.p.State().Duration; got != "0:00" {
		t.Errorf("Duration before settle = %q, want 0:00", got)
	}
	r.clock.Fire()
	st := r.p.State()
	if st.Duration != "3:00" {
		t.Errorf("Duration = %q, want 3:00", st.Duration)
	}
	if st.Level != "-8.5 LUFS" {
		t.Errorf("Level = %q, want -8.5 LUFS", st.Level)
	}

	if err := r.p.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if !r.master().IsPlaying() || !r.mix().IsPlaying() {
		t.Fatalf("playing = master %v mix %v, want both", r.master().IsPlaying(), r.mix().IsPlaying())
	}

	r.p.ToggleVariant()
	if r.master().Volume() != 0 || r.mix().Volume() != 1 {
		t.Errorf("after toggle: volumes = (%v, %v), want (0, 1)", r.master().Volume(), r.mix().Volume())
	}

	r.p.ToggleGainMatch()
	if r.master().Volume() != 0 || r.mix().Volume() != 1 {
		t.Errorf("gain match changed volumes while mix audible: (%v, %v)", r.master().Volume(), r.mix().Volume())
	}

	r.p.ToggleVariant()
	if r.master().Volume() != 0.6 || r.mix().Volume() != 0 {
		t.Errorf("after toggling back: volumes = (%v, %v), want (0.6, 0)", r.master().Volume(), r.mix().Volume())
	}
	if !r.master().IsPlaying() || !r.mix().IsPlaying() {
		t.Error("a variant toggle paused a renderer")
	}
}

func TestTransportDisabledUntilReady(t *testing.T) {
	r := newRig(t, broadcast.NewBus(), nil)
	if err := r.p.Load(testPair()); err != nil {
		t.Fatal(err)
	}

	if err := r.p.Play(); err != nil {
		t.Errorf("Play before ready = %v, want nil", err)
	}
	r.p.Seek(0.5)
	r.p.ToggleVariant()

	if r.master().PlayCalls != 0 || r.master().SeekCalls != 0 {
		t.Errorf("renderer commanded before ready: play %d seek %d", r.master().PlayCalls, r.master().SeekCalls)
	}
	if r.p.State().Variant != "MASTER" {
		t.Errorf("Variant = %q, want MASTER", r.p.State().Variant)
	}
}

func TestPlayCascadesToMix(t *testing.T) {
	r := newRig(t, broadcast.NewBus(), nil)
	r.loadReady(t, testPair())

	if err := r.p.Play(); err != nil {
		t.Fatal(err)
	}
	if r.mix().PlayCalls != 1 {
		t.Errorf("mix PlayCalls = %d, want 1", r.mix().PlayCalls)
	}
	if !r.p.Playing() || !r.p.State().Playing {
		t.Error("player not marked playing")
	}

	r.p.Pause()
	if r.mix().IsPlaying() || r.master().IsPlaying() {
		t.Error("renderers still playing after Pause")
	}
	if r.p.Playing() {
		t.Error("player still marked playing")
	}
}

func TestFirstPlayBuildsGraphAndStartsSpectrum(t *testing.T) {
	r := newRig(t, broadcast.NewBus(), nil)
	r.loadReady(t, testPair())

	if r.platform.Count() != 0 {
		t.Fatalf("audio context created before first play")
	}

	if err := r.p.Play(); err != nil {
		t.Fatal(err)
	}
	ctx := r.platform.Last()
	if ctx == nil {
		t.Fatal("no audio context after play")
	}
	if ctx.TappedCount() != 2 {
		t.Errorf("tapped elements = %d, want 2", ctx.TappedCount())
	}
	if ctx.Resumes != 1 {
		t.Errorf("Resumes = %d, want 1", ctx.Resumes)
	}
	if r.frames.Pending() != 1 {
		t.Errorf("pending frames = %d, want 1", r.frames.Pending())
	}

	// pause and play again: same context, no new taps
	r.p.Pause()
	if err := r.p.Play(); err != nil {
		t.Fatal(err)
	}
	if r.platform.Count() != 1 {
		t.Errorf("contexts = %d, want 1", r.platform.Count())
	}
	if ctx.TappedCount() != 2 {
		t.Errorf("tapped elements after replay = %d, want 2", ctx.TappedCount())
	}

	ctx.Analysers[0].Fill(200)
	r.frames.Advance()
	bars, _ := r.canvas.Snapshot()
	if len(bars) != 64 {
		t.Errorf("bars drawn = %d, want 64", len(bars))
	}
}

func TestSyncInvariant(t *testing.T) {
	r := newRig(t, broadcast.NewBus(), nil)
	r.loadReady(t, testPair())
	const frame = 1.0 / 60

	steps := []func(){
		func() { r.p.Play() },
		func() { r.p.Seek(0.25) },
		func() { r.p.Pause() },
		func() { r.p.Seek(0.9) },
		func() { r.p.Play() },
		func() { r.p.ToggleVariant() },
		func() { r.p.SeekAt(100, 400) },
		func() { r.p.TogglePlay() },
		func() { r.p.TogglePlay() },
		func() { r.p.Seek(2) },
		func() { r.p.Seek(-1) },
		func() { r.p.Play() },
	}
	for i, step := range steps {
		step()
		for k := 0; k < 5; k++ {
			r.master().Advance(0.1)
			r.mix().Advance(0.1)
			if d := math.Abs(r.master().CurrentTime() - r.mix().CurrentTime()); d >= frame {
				t.Fatalf("step %d: positions differ by %v", i, d)
			}
			if r.master().IsPlaying() != r.mix().IsPlaying() {
				t.Fatalf("step %d: master playing %v, mix playing %v", i, r.master().IsPlaying(), r.mix().IsPlaying())
			}
		}
	}
}

func TestSeekAt(t *testing.T) {
	r := newRig(t, broadcast.NewBus(), nil)
	r.loadReady(t, testPair())

	r.p.SeekAt(200, 400)
	if got := r.master().CurrentTime(); math.Abs(got-90.2) > 1e-9 {
		t.Errorf("master position = %v, want 90.2", got)
	}
	r.p.SeekAt(10, 0)
	if r.master().SeekCalls != 1 {
		t.Errorf("SeekCalls = %d, want 1 (zero width ignored)", r.master().SeekCalls)
	}
}

func TestSilenceSwapAcrossToggles(t *testing.T) {
	r := newRig(t, broadcast.NewBus(), nil)
	r.loadReady(t, testPair())
	if err := r.p.Play(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 9; i++ {
		if i%3 == 0 {
			r.p.ToggleGainMatch()
		}
		r.p.ToggleVariant()
		m, x := r.master().Volume(), r.mix().Volume()
		if (m != 0) == (x != 0) {
			t.Fatalf("toggle %d: volumes = (%v, %v), want exactly one nonzero", i, m, x)
		}
		if !r.master().IsPlaying() || !r.mix().IsPlaying() {
			t.Fatalf("toggle %d paused a renderer", i)
		}
	}
	st := r.p.State()
	if st.Variant != "MIX" {
		t.Errorf("Variant = %q, want MIX", st.Variant)
	}
}

func TestGlobalExclusivity(t *testing.T) {
	bus := broadcast.NewBus()
	a := newRig(t, bus, nil)
	b := newRig(t, bus, nil)
	a.loadReady(t, testPair())
	b.loadReady(t, testPair())

	if err := a.p.Play(); err != nil {
		t.Fatal(err)
	}

	// A must already be paused when B's master starts
	b.master().On(func(e renderer.Event) {
		if e.Type == renderer.EventPlay && a.master().IsPlaying() {
			t.Error("A still audible when B started")
		}
	})
	if err := b.p.Play(); err != nil {
		t.Fatal(err)
	}

	if a.p.Playing() || a.master().IsPlaying() || a.mix().IsPlaying() {
		t.Error("A still playing after B played")
	}
	if !b.p.Playing() || !b.master().IsPlaying() {
		t.Error("B not playing")
	}
}

func TestPausedInstanceIgnoresBroadcast(t *testing.T) {
	bus := broadcast.NewBus()
	a := newRig(t, bus, nil)
	b := newRig(t, bus, nil)
	a.loadReady(t, testPair())
	b.loadReady(t, testPair())

	if err := b.p.Play(); err != nil {
		t.Fatal(err)
	}
	if a.master().PauseCalls != 0 {
		t.Errorf("idle instance paused: PauseCalls = %d", a.master().PauseCalls)
	}
}

func TestErrorAfterReadySilencesPlayer(t *testing.T) {
	for _, variant := range []renderer.Variant{renderer.Master, renderer.Mix} {
		t.Run(variant.String(), func(t *testing.T) {
			bus := broadcast.NewBus()
			a := newRig(t, bus, nil)
			b := newRig(t, bus, nil)
			a.loadReady(t, testPair())
			b.loadReady(t, testPair())

			if err := a.p.Play(); err != nil {
				t.Fatal(err)
			}
			failing := a.mix()
			if variant == renderer.Master {
				failing = a.master()
			}
			failing.Emit(renderer.Event{Type: renderer.EventError, Err: errors.New("network lost")})

			if a.p.Ready() {
				t.Error("Ready = true after a renderer error")
			}
			if a.p.Playing() || a.master().IsPlaying() || a.mix().IsPlaying() {
				t.Error("A still audible after a renderer error")
			}

			// neither an explicit pause nor another player may revive it
			a.p.Pause()
			if err := b.p.Play(); err != nil {
				t.Fatal(err)
			}
			if a.master().IsPlaying() || a.mix().IsPlaying() {
				t.Error("A audible alongside B")
			}
			if !b.master().IsPlaying() || !b.mix().IsPlaying() {
				t.Error("B not playing")
			}
			if err := a.p.Play(); err != nil || a.master().IsPlaying() {
				t.Errorf("failed player started again: err = %v", err)
			}
		})
	}
}

func TestTimeUpdatesAndFinish(t *testing.T) {
	r := newRig(t, broadcast.NewBus(), nil)
	r.loadReady(t, testPair())
	if err := r.p.Play(); err != nil {
		t.Fatal(err)
	}

	r.master().Advance(65.3)
	if got := r.p.State().CurrentTime; got != "1:05" {
		t.Errorf("CurrentTime = %q, want 1:05", got)
	}

	// the mix never drives position
	r.mix().Emit(renderer.Event{Type: renderer.EventTimeUpdate, Time: 10})
	if got := r.p.State().CurrentTime; got != "1:05" {
		t.Errorf("CurrentTime after mix tick = %q, want 1:05", got)
	}

	r.master().Advance(1000)
	if r.p.Playing() {
		t.Error("still playing after finish")
	}
}

func TestLoadFailureLeavesPlayerNotReady(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *rig)
	}{
		{"mix error event", func(r *rig) {
			r.master().Emit(renderer.Event{Type: renderer.EventReady})
			r.mix().Emit(renderer.Event{Type: renderer.EventError, Err: errors.New("404")})
			r.mix().Emit(renderer.Event{Type: renderer.EventReady})
		}},
		{"master error before ready", func(r *rig) {
			r.master().Emit(renderer.Event{Type: renderer.EventError, Err: errors.New("decode")})
			r.master().Emit(renderer.Event{Type: renderer.EventReady})
			r.mix().Emit(renderer.Event{Type: renderer.EventReady})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, broadcast.NewBus(), nil)
			if err := r.p.Load(testPair()); err != nil {
				t.Fatal(err)
			}
			tt.setup(r)

			if r.p.Ready() {
				t.Error("Ready = true after a load failure")
			}
			if !r.p.State().Failed {
				t.Error("State.Failed = false")
			}
			if err := r.p.Play(); err != nil {
				t.Errorf("Play = %v, want silent no-op", err)
			}
			if r.master().PlayCalls != 0 {
				t.Error("failed player commanded the renderer")
			}
		})
	}
}

func TestSynchronousLoadError(t *testing.T) {
	r := newRig(t, broadcast.NewBus(), nil)
	r.factory.Prepare = func(fr *fake.Renderer) {
		if fr.Opts.Variant == renderer.Mix {
			fr.LoadErr = errors.New("unreachable")
		}
	}

	if err := r.p.Load(testPair()); err != nil {
		t.Fatalf("Load = %v, want nil", err)
	}
	r.master().Emit(renderer.Event{Type: renderer.EventReady})
	if r.p.Ready() || !r.p.State().Failed {
		t.Error("synchronous load error did not mark the player failed")
	}
}

func TestLoadRejectsIncompletePair(t *testing.T) {
	r := newRig(t, broadcast.NewBus(), nil)
	pair := testPair()
	pair.MixURL = ""
	if err := r.p.Load(pair); err == nil {
		t.Error("expected error for a pair without a mix address")
	}
	if len(r.factory.Created) != 0 {
		t.Error("renderers created for an incomplete pair")
	}
}

func TestFactoryFailureCleansUp(t *testing.T) {
	r := newRig(t, broadcast.NewBus(), nil)
	calls := 0
	var first *fake.Renderer
	p, err := player.New(player.ConfigFrom(config.DefaultConfig()), player.Deps{
		Bus: broadcast.NewBus(),
		Renderers: func(opts renderer.Options) (renderer.Renderer, error) {
			calls++
			if calls == 2 {
				return nil, errors.New("no canvas")
			}
			first = fake.NewRenderer(opts, 1)
			return first, nil
		},
		Platform:  r.platform,
		Logger:    quietLogger(),
		AfterFunc: r.clock.AfterFunc,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.Load(testPair()); err == nil {
		t.Fatal("expected factory error")
	}
	if !first.Destroyed() {
		t.Error("master renderer leaked after mix creation failed")
	}
}

func TestTrackChangeTearsDown(t *testing.T) {
	r := newRig(t, broadcast.NewBus(), nil)
	r.loadReady(t, testPair())
	if err := r.p.Play(); err != nil {
		t.Fatal(err)
	}
	oldMaster, oldMix := r.master(), r.mix()
	oldCtx := r.platform.Last()

	next := testPair()
	next.ID = 8
	next.MixURL = "https://cdn.example/other-mix.wav"
	next.MasterURL = "https://cdn.example/other-master.wav"
	if err := r.p.Load(next); err != nil {
		t.Fatal(err)
	}

	if !oldMaster.Destroyed() || !oldMix.Destroyed() {
		t.Error("previous renderers not destroyed")
	}
	if oldCtx.State() != "closed" {
		t.Errorf("previous context state = %s, want closed", oldCtx.State())
	}
	if r.frames.Pending() != 0 {
		t.Errorf("pending frames = %d, want 0", r.frames.Pending())
	}
	if r.p.Ready() || r.p.Playing() {
		t.Error("new pair inherited ready/playing state")
	}

	// late events from the old pair are ignored
	oldMaster.Emit(renderer.Event{Type: renderer.EventReady})
	oldMix.Emit(renderer.Event{Type: renderer.EventReady})
	if r.p.Ready() {
		t.Error("stale ready events made the new pair ready")
	}
	if r.p.State().PairID != 8 {
		t.Errorf("PairID = %d, want 8", r.p.State().PairID)
	}
}

func TestTeardownSafety(t *testing.T) {
	stages := []struct {
		name  string
		setup func(t *testing.T, r *rig)
	}{
		{"before load", func(*testing.T, *rig) {}},
		{"mid load", func(t *testing.T, r *rig) {
			if err := r.p.Load(testPair()); err != nil {
				t.Fatal(err)
			}
			r.master().Emit(renderer.Event{Type: renderer.EventReady})
		}},
		{"ready with pending settle", func(t *testing.T, r *rig) {
			if err := r.p.Load(testPair()); err != nil {
				t.Fatal(err)
			}
			r.master().Emit(renderer.Event{Type: renderer.EventReady})
			r.mix().Emit(renderer.Event{Type: renderer.EventReady})
		}},
		{"playing", func(t *testing.T, r *rig) {
			r.loadReady(t, testPair())
			if err := r.p.Play(); err != nil {
				t.Fatal(err)
			}
		}},
		{"paused", func(t *testing.T, r *rig) {
			r.loadReady(t, testPair())
			r.p.Play()
			r.p.Pause()
		}},
		{"renderers panic on destroy", func(t *testing.T, r *rig) {
			r.factory.Prepare = func(fr *fake.Renderer) { fr.PanicOnDestroy = true }
			r.loadReady(t, testPair())
			r.p.Play()
		}},
		{"context already closed", func(t *testing.T, r *rig) {
			r.loadReady(t, testPair())
			r.p.Play()
			r.platform.Last().SetState("closed")
		}},
	}
	for _, st := range stages {
		t.Run(st.name, func(t *testing.T) {
			bus := broadcast.NewBus()
			r := newRig(t, bus, nil)
			st.setup(t, r)

			r.p.Close()
			r.p.Close()

			if r.frames.Pending() != 0 {
				t.Errorf("frame callbacks still scheduled: %d", r.frames.Pending())
			}
			if n := r.clock.Fire(); n != 0 {
				t.Errorf("settle timers fired after close: %d", n)
			}
			if bus.Len() != 0 {
				t.Errorf("bus subscribers = %d, want 0", bus.Len())
			}
			if ctx := r.platform.Last(); ctx != nil && ctx.State() != "closed" {
				t.Errorf("context state = %s, want closed", ctx.State())
			}
			for _, fr := range r.factory.Created {
				if !fr.Destroyed() {
					t.Errorf("%s renderer not destroyed", fr.Opts.Variant)
				}
			}
			if err := r.p.Load(testPair()); !errors.Is(err, player.ErrClosed) {
				t.Errorf("Load after Close = %v, want ErrClosed", err)
			}
		})
	}
}

func TestMeasuredPolicy(t *testing.T) {
	loud := constant(4096, 0.5)
	quiet := constant(4096, 0.2)

	r := newRig(t, broadcast.NewBus(), func(c *player.Config) {
		c.Level.Policy = "measured"
		c.Level.CalibrationDB = 0
	})
	r.factory.Prepare = func(fr *fake.Renderer) {
		if fr.Opts.Variant == renderer.Master {
			fr.Samples = loud
		} else {
			fr.Samples = quiet
		}
	}

	pair := testPair()
	pair.DeclaredLevel = ""
	r.loadReady(t, pair)

	st := r.p.State()
	if math.Abs(st.Compensation-0.4) > 1e-6 {
		t.Errorf("Compensation = %v, want 0.4", st.Compensation)
	}
	if st.Level != "-6.0 LUFS" {
		t.Errorf("Level = %q, want -6.0 LUFS", st.Level)
	}

	r.p.ToggleGainMatch()
	if math.Abs(r.master().Volume()-0.4) > 1e-6 {
		t.Errorf("master volume = %v, want 0.4", r.master().Volume())
	}
}

func TestMeasuredPolicyKeepsDeclaredLabel(t *testing.T) {
	r := newRig(t, broadcast.NewBus(), func(c *player.Config) { c.Level.Policy = "measured" })
	r.factory.Prepare = func(fr *fake.Renderer) { fr.Samples = constant(1024, 0.3) }

	r.loadReady(t, testPair())
	if got := r.p.State().Level; got != "-8.5 LUFS" {
		t.Errorf("Level = %q, want declared -8.5 LUFS", got)
	}
}

func TestMeasuredPolicyFallback(t *testing.T) {
	r := newRig(t, broadcast.NewBus(), func(c *player.Config) { c.Level.Policy = "measured" })
	r.factory.Prepare = func(fr *fake.Renderer) { fr.SampleErr = errors.New("not decoded") }

	pair := testPair()
	pair.DeclaredLevel = ""
	r.loadReady(t, pair)

	st := r.p.State()
	if st.Level != "-- LUFS" {
		t.Errorf("Level = %q, want -- LUFS", st.Level)
	}
	if st.Compensation != 0.6 {
		t.Errorf("Compensation = %v, want fallback 0.6", st.Compensation)
	}
	if !st.Ready {
		t.Error("analysis failure blocked readiness")
	}
}

type memoCache struct {
	items map[string]level.Measurement
	gets  int
}

func (m *memoCache) GetMeasurement(key string) (level.Measurement, bool) {
	m.gets++
	v, ok := m.items[key]
	return v, ok
}

func (m *memoCache) SetMeasurement(key string, v level.Measurement) {
	m.items[key] = v
}

func TestMeasuredPolicyUsesCache(t *testing.T) {
	memo := &memoCache{items: map[string]level.Measurement{}}
	pair := testPair()
	memo.items[pair.MixURL+"|"+pair.MasterURL] = level.Measurement{Factor: 0.3, Label: "-7.0 LUFS"}

	cfg := player.ConfigFrom(config.DefaultConfig())
	cfg.Level.Policy = "measured"
	f := &fake.Factory{Durations: map[renderer.Variant]float64{renderer.Master: 10, renderer.Mix: 10}}
	clock := &fake.Clock{}
	p, err := player.New(cfg, player.Deps{
		Bus:          broadcast.NewBus(),
		Renderers:    f.New,
		Platform:     &fake.Platform{},
		Logger:       quietLogger(),
		Measurements: memo,
		AfterFunc:    clock.AfterFunc,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.Load(pair); err != nil {
		t.Fatal(err)
	}
	f.Latest(renderer.Master).Emit(renderer.Event{Type: renderer.EventReady})
	f.Latest(renderer.Mix).Emit(renderer.Event{Type: renderer.EventReady})

	if memo.gets != 1 {
		t.Errorf("cache lookups = %d, want 1", memo.gets)
	}
	if got := p.State().Compensation; got != 0.3 {
		t.Errorf("Compensation = %v, want cached 0.3", got)
	}
}

func TestStateSubscription(t *testing.T) {
	r := newRig(t, broadcast.NewBus(), nil)
	ch := r.p.Subscribe()

	r.loadReady(t, testPair())

	var last player.State
	for {
		select {
		case st := <-ch:
			last = st
			continue
		default:
		}
		break
	}
	if !last.Ready || last.Title != "Midnight" {
		t.Errorf("last state = %+v", last)
	}

	r.p.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("channel still open after Unsubscribe")
	}
}

func TestStalledSubscriberCatchesUp(t *testing.T) {
	r := newRig(t, broadcast.NewBus(), nil)
	r.loadReady(t, testPair())
	ch := r.p.Subscribe()
	if err := r.p.Play(); err != nil {
		t.Fatal(err)
	}

	// the display stalls through more ticks than its buffer holds
	for i := 0; i < 12; i++ {
		r.master().Advance(0.1)
	}

	var last player.State
	for n := 0; ; n++ {
		select {
		case st, ok := <-ch:
			if !ok {
				t.Fatal("state stream closed under a stalled subscriber")
			}
			last = st
			continue
		default:
		}
		if n == 0 {
			t.Fatal("no states buffered")
		}
		break
	}
	if !last.Playing || last.Title != "Midnight" || last.CurrentTime != "0:01" {
		t.Errorf("last state = %+v, want the latest playing tick", last)
	}
}

func TestHeadlessPlayerSkipsSpectrum(t *testing.T) {
	f := &fake.Factory{Durations: map[renderer.Variant]float64{renderer.Master: 10, renderer.Mix: 10}}
	platform := &fake.Platform{}
	clock := &fake.Clock{}
	p, err := player.New(player.ConfigFrom(config.DefaultConfig()), player.Deps{
		Bus:       broadcast.NewBus(),
		Renderers: f.New,
		Platform:  platform,
		Logger:    quietLogger(),
		AfterFunc: clock.AfterFunc,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if err := p.Load(testPair()); err != nil {
		t.Fatal(err)
	}
	f.Latest(renderer.Master).Emit(renderer.Event{Type: renderer.EventReady})
	f.Latest(renderer.Mix).Emit(renderer.Event{Type: renderer.EventReady})
	if err := p.Play(); err != nil {
		t.Fatal(err)
	}
	if platform.Last().TappedCount() != 2 {
		t.Error("headless player did not tap both renderers")
	}
}

func constant(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}
