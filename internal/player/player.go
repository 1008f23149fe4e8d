// Package player binds two renderers, one per rendition, into a single
// logical player. The master renderer owns the transport: its play and pause
// events cascade to the mix, and its position is the only one reported.
package player

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"abplayer/internal/broadcast"
	"abplayer/internal/cache"
	"abplayer/internal/config"
	"abplayer/internal/graph"
	"abplayer/internal/level"
	"abplayer/internal/renderer"
	"abplayer/internal/spectrum"
	"abplayer/pkg/models"
)

// ErrClosed is returned by Load after Close.
var ErrClosed = errors.New("player closed")

// AfterFunc schedules f after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

// MeasurementCache stores loudness comparisons between mounts.
type MeasurementCache interface {
	GetMeasurement(key string) (level.Measurement, bool)
	SetMeasurement(key string, m level.Measurement)
}

// Config groups the settings a player reads.
type Config struct {
	Player   config.PlayerConfig
	Spectrum config.SpectrumConfig
	Level    config.LevelConfig
}

// ConfigFrom extracts the player settings from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Player:   cfg.Player,
		Spectrum: cfg.Spectrum,
		Level:    cfg.Level,
	}
}

// Deps are the collaborators a player is wired to. Bus, Renderers and
// Platform are required. Without Frames or Canvas no spectrum is drawn.
type Deps struct {
	Bus          *broadcast.Bus
	Renderers    renderer.Factory
	Platform     graph.Platform
	Frames       spectrum.FrameScheduler
	Canvas       spectrum.Canvas
	Logger       *logrus.Logger
	Measurements MeasurementCache
	AfterFunc    AfterFunc
}

// session is everything built for one loaded pair. It is discarded whole on
// track change or close.
type session struct {
	pair   models.TrackPair
	master renderer.Renderer
	mix    renderer.Renderer
	levels *level.Switch
	graph  *graph.Manager
	vis    *spectrum.Visualizer

	masterReady bool
	mixReady    bool
	readying    bool
	ready       bool
	failed      bool
	playing     bool
	position    float64
	duration    float64
	label       string
	stopSettle  func() bool
}

// Player is one mounted A/B player.
type Player struct {
	id    string
	cfg   Config
	deps  Deps
	log   *logrus.Entry
	sub   *broadcast.Subscription
	state *StateManager

	mu     sync.Mutex
	cur    *session
	closed bool
}

// New creates an idle player and subscribes it to the bus.
func New(cfg Config, deps Deps) (*Player, error) {
	if deps.Bus == nil {
		return nil, fmt.Errorf("player requires a broadcast bus")
	}
	if deps.Renderers == nil {
		return nil, fmt.Errorf("player requires a renderer factory")
	}
	if deps.Platform == nil {
		return nil, fmt.Errorf("player requires an audio platform")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.AfterFunc == nil {
		deps.AfterFunc = func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		}
	}

	id := uuid.NewString()
	p := &Player{
		id:    id,
		cfg:   cfg,
		deps:  deps,
		log:   deps.Logger.WithField("player_id", id),
		state: NewStateManager(),
	}
	p.sub = deps.Bus.Subscribe(id, p.onBroadcast)
	return p, nil
}

// ID returns the instance identity token.
func (p *Player) ID() string {
	return p.id
}

// Load tears down the current pair, if any, and starts loading both
// renditions of pair. Readiness is reported through state updates.
func (p *Player) Load(pair models.TrackPair) error {
	if pair.MixURL == "" || pair.MasterURL == "" {
		return fmt.Errorf("pair %d is missing an audio address", pair.ID)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	old := p.cur
	p.cur = nil
	p.mu.Unlock()
	p.teardown(old)

	s, err := p.newSession(pair)
	if err != nil {
		p.publishState()
		return err
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.teardown(s)
		return ErrClosed
	}
	p.cur = s
	p.mu.Unlock()
	p.publishState()

	p.log.WithFields(logrus.Fields{
		"pair_id": pair.ID,
		"title":   pair.Title,
	}).Info("Loading track pair")

	// both renditions load concurrently; readiness waits for both
	if err := s.master.Load(pair.MasterURL); err != nil {
		p.fail(s, renderer.Master, err)
	}
	if err := s.mix.Load(pair.MixURL); err != nil {
		p.fail(s, renderer.Mix, err)
	}
	return nil
}

func (p *Player) newSession(pair models.TrackPair) (*session, error) {
	master, err := p.deps.Renderers(renderer.DefaultOptions(renderer.Master))
	if err != nil {
		return nil, fmt.Errorf("failed to create master renderer: %w", err)
	}
	mix, err := p.deps.Renderers(renderer.DefaultOptions(renderer.Mix))
	if err != nil {
		p.destroy(master, renderer.Master)
		return nil, fmt.Errorf("failed to create mix renderer: %w", err)
	}

	lc := p.cfg.Level
	s := &session{
		pair:   pair,
		master: master,
		mix:    mix,
		levels: level.NewSwitch(master, mix, lc.FallbackFactor, lc.MinFactor, lc.MaxFactor),
		graph: graph.NewManager(p.deps.Platform, graph.Config{
			FFTSize:   p.cfg.Player.FFTSize,
			Smoothing: p.cfg.Player.Smoothing,
		}, p.log),
		label: pair.DeclaredLevel,
	}
	if s.label == "" {
		s.label = lc.UnknownLabel
	}
	if p.deps.Frames != nil && p.deps.Canvas != nil {
		s.vis = spectrum.NewVisualizer(s.graph, p.deps.Frames, p.deps.Canvas, layoutFrom(p.cfg.Spectrum), p.log)
	}

	master.On(func(e renderer.Event) { p.onMaster(s, e) })
	mix.On(func(e renderer.Event) { p.onMix(s, e) })
	return s, nil
}

func layoutFrom(c config.SpectrumConfig) spectrum.Layout {
	return spectrum.Layout{
		Bars:        c.Bars,
		BinFraction: c.BinFraction,
		CapDecay:    c.CapDecay,
		BarScale:    c.BarScale,
		BarFill:     c.BarFill,
		CapOffset:   c.CapOffset,
		CapHeight:   c.CapHeight,
	}
}

// current returns s if it is still the loaded session.
func (p *Player) current(s *session) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur == s
}

func (p *Player) onMaster(s *session, e renderer.Event) {
	if !p.current(s) {
		return
	}

	switch e.Type {
	case renderer.EventReady:
		p.markReady(s, renderer.Master)
	case renderer.EventPlay:
		p.onMasterPlay(s)
	case renderer.EventPause:
		s.mix.Pause()
		p.setPlaying(s, false)
	case renderer.EventTimeUpdate:
		p.mu.Lock()
		s.position = e.Time
		p.mu.Unlock()
		p.publishState()
	case renderer.EventFinish:
		p.setPlaying(s, false)
	case renderer.EventError:
		p.fail(s, renderer.Master, e.Err)
	}
}

func (p *Player) onMix(s *session, e renderer.Event) {
	if !p.current(s) {
		return
	}

	switch e.Type {
	case renderer.EventReady:
		p.markReady(s, renderer.Mix)
	case renderer.EventError:
		p.fail(s, renderer.Mix, e.Err)
	}
}

func (p *Player) markReady(s *session, v renderer.Variant) {
	p.mu.Lock()
	if p.cur != s || s.failed {
		p.mu.Unlock()
		return
	}
	if v == renderer.Master {
		s.masterReady = true
	} else {
		s.mixReady = true
	}
	if !s.masterReady || !s.mixReady || s.readying {
		p.mu.Unlock()
		return
	}
	s.readying = true
	p.mu.Unlock()

	s.levels.Apply()
	p.resolveCompensation(s)

	p.mu.Lock()
	if p.cur != s {
		p.mu.Unlock()
		return
	}
	s.ready = true
	// duration is not always available the moment loading completes
	s.stopSettle = p.deps.AfterFunc(p.cfg.Player.SettleDelay(), func() { p.readDuration(s) })
	p.mu.Unlock()

	p.log.WithField("pair_id", s.pair.ID).Info("Track pair ready")
	p.publishState()
}

// resolveCompensation computes the measured factor and label when the
// measured policy is configured. Failures keep the fallback factor.
func (p *Player) resolveCompensation(s *session) {
	lc := p.cfg.Level
	if level.Policy(lc.Policy) != level.PolicyMeasured {
		return
	}

	key := cache.AnalysisKey(s.pair.MixURL, s.pair.MasterURL)
	m, ok := level.Measurement{}, false
	if p.deps.Measurements != nil {
		m, ok = p.deps.Measurements.GetMeasurement(key)
	}
	if !ok {
		var err error
		m, err = p.measure(s)
		if err != nil {
			p.log.WithError(err).Warn("Gain analysis failed, using fallback factor")
			return
		}
		if p.deps.Measurements != nil {
			p.deps.Measurements.SetMeasurement(key, m)
		}
	}

	s.levels.SetFactor(m.Factor)
	p.mu.Lock()
	if s.pair.DeclaredLevel == "" {
		s.label = m.Label
	}
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{
		"factor": m.Factor,
		"label":  m.Label,
	}).Debug("Gain analysis complete")
}

func (p *Player) measure(s *session) (level.Measurement, error) {
	masterSrc, ok := s.master.(renderer.SampleSource)
	if !ok {
		return level.Measurement{}, fmt.Errorf("master renderer does not expose samples")
	}
	mixSrc, ok := s.mix.(renderer.SampleSource)
	if !ok {
		return level.Measurement{}, fmt.Errorf("mix renderer does not expose samples")
	}

	masterSamples, err := masterSrc.DecodedChannel(0)
	if err != nil {
		return level.Measurement{}, fmt.Errorf("master samples: %w", err)
	}
	mixSamples, err := mixSrc.DecodedChannel(0)
	if err != nil {
		return level.Measurement{}, fmt.Errorf("mix samples: %w", err)
	}

	lc := p.cfg.Level
	return level.Measure(mixSamples, masterSamples, level.AnalysisConfig{
		Points:        lc.AnalysisPoints,
		CalibrationDB: lc.CalibrationDB,
		MinFactor:     lc.MinFactor,
		MaxFactor:     lc.MaxFactor,
	})
}

func (p *Player) readDuration(s *session) {
	if !p.current(s) {
		return
	}
	d := s.master.Duration()

	p.mu.Lock()
	if p.cur != s {
		p.mu.Unlock()
		return
	}
	s.duration = d
	p.mu.Unlock()
	p.publishState()
}

func (p *Player) fail(s *session, v renderer.Variant, err error) {
	p.mu.Lock()
	if p.cur != s {
		p.mu.Unlock()
		return
	}
	s.failed = true
	s.ready = false
	wasPlaying := s.playing
	p.mu.Unlock()

	// a failed pair must not keep sounding, whatever stage it failed at
	if wasPlaying {
		s.master.Pause()
		s.mix.Pause()
		p.setPlaying(s, false)
	}

	p.log.WithError(err).WithFields(logrus.Fields{
		"pair_id": s.pair.ID,
		"variant": v.String(),
	}).Error("Failed to load track variant")
	p.publishState()
}

func (p *Player) onMasterPlay(s *session) {
	if err := s.mix.Play(); err != nil {
		p.log.WithError(err).Debug("Mix renderer refused to play")
	}

	if _, err := s.graph.Ensure(); err != nil {
		p.log.WithError(err).Debug("Audio graph unavailable")
		return
	}
	if s.vis != nil {
		s.vis.Start()
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.Player.ResumeTimeout())
	defer cancel()
	if err := s.graph.Activate(ctx, s.master.Media(), s.mix.Media()); err != nil {
		p.log.WithError(err).Debug("Audio graph activation failed")
	}
}

func (p *Player) setPlaying(s *session, playing bool) {
	p.mu.Lock()
	if p.cur != s || s.playing == playing {
		p.mu.Unlock()
		return
	}
	s.playing = playing
	p.mu.Unlock()
	p.publishState()
}

// readySession returns the loaded session if it is ready for transport.
func (p *Player) readySession() *session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil || !p.cur.ready {
		return nil
	}
	return p.cur
}

// Play announces this instance on the bus, then starts the master. The mix
// follows from the master's play event. It is a no-op until ready.
func (p *Player) Play() error {
	s := p.readySession()
	if s == nil {
		return nil
	}

	p.deps.Bus.Publish(p.id)

	if err := s.master.Play(); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	p.setPlaying(s, true)
	return nil
}

// Pause stops the master. The mix follows from the master's pause event.
// A session that is still playing can always be paused, ready or not.
func (p *Player) Pause() {
	p.mu.Lock()
	s := p.cur
	active := s != nil && (s.ready || s.playing)
	p.mu.Unlock()
	if !active {
		return
	}
	s.master.Pause()
	if !s.ready {
		s.mix.Pause()
	}
	p.setPlaying(s, false)
}

// TogglePlay pauses a playing player and plays a paused one.
func (p *Player) TogglePlay() error {
	if p.Playing() {
		p.Pause()
		return nil
	}
	return p.Play()
}

// Seek moves both renderers to the same fraction. Seeks go to both directly
// rather than cascading so they cannot drift.
func (p *Player) Seek(fraction float64) {
	s := p.readySession()
	if s == nil || math.IsNaN(fraction) {
		return
	}
	fraction = math.Max(0, math.Min(1, fraction))
	s.master.SeekTo(fraction)
	s.mix.SeekTo(fraction)
}

// SeekAt seeks to a pointer offset within a surface of the given width.
func (p *Player) SeekAt(x, width float64) {
	if width <= 0 {
		return
	}
	p.Seek(x / width)
}

// ToggleVariant swaps the audible rendition. Disabled until ready.
func (p *Player) ToggleVariant() {
	s := p.readySession()
	if s == nil {
		return
	}
	s.levels.ToggleVariant()
	p.publishState()
}

// ToggleGainMatch flips gain matching for the master.
func (p *Player) ToggleGainMatch() {
	p.mu.Lock()
	s := p.cur
	p.mu.Unlock()
	if s == nil {
		return
	}
	s.levels.ToggleGainMatch()
	p.publishState()
}

func (p *Player) onBroadcast(publisherID string) {
	if publisherID == p.id || !p.Playing() {
		return
	}
	p.log.WithField("publisher", publisherID).Debug("Another player started, pausing")
	p.Pause()
}

// Ready reports whether both renditions have loaded.
func (p *Player) Ready() bool {
	return p.readySession() != nil
}

// Playing reports whether the transport is running.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur != nil && p.cur.playing
}

// State returns the current display state.
func (p *Player) State() State {
	return p.state.GetState()
}

// Subscribe returns a channel that receives every state change.
func (p *Player) Subscribe() <-chan State {
	return p.state.Subscribe()
}

// Unsubscribe stops delivery to ch.
func (p *Player) Unsubscribe(ch <-chan State) {
	p.state.Unsubscribe(ch)
}

func (p *Player) publishState() {
	p.mu.Lock()
	s := p.cur
	if s == nil {
		p.mu.Unlock()
		p.state.Set(State{
			CurrentTime: FormatTime(0),
			Duration:    FormatTime(0),
		})
		return
	}
	st := State{
		PairID:      s.pair.ID,
		Title:       s.pair.Title,
		Artist:      s.pair.Artist,
		Tags:        append([]string(nil), s.pair.Tags...),
		Level:       s.label,
		Ready:       s.ready,
		Failed:      s.failed,
		Playing:     s.playing,
		Position:    s.position,
		CurrentTime: FormatTime(s.position),
		Duration:    FormatTime(s.duration),
	}
	p.mu.Unlock()

	st.Variant = renderer.Mix.String()
	if s.levels.MasterAudible() {
		st.Variant = renderer.Master.String()
	}
	st.GainMatch = s.levels.GainMatch()
	st.Compensation = s.levels.Factor()
	st.MasterVolume = s.levels.MasterVolume()
	st.MixVolume = s.levels.MixVolume()
	p.state.Set(st)
}

// Close unsubscribes from the bus and releases everything. It may be called
// at any point in the lifecycle and more than once.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	s := p.cur
	p.cur = nil
	p.mu.Unlock()

	p.sub.Unsubscribe()
	p.teardown(s)
	p.state.Close()
	p.log.Debug("Player closed")
}

func (p *Player) teardown(s *session) {
	if s == nil {
		return
	}
	p.mu.Lock()
	stop := s.stopSettle
	s.stopSettle = nil
	p.mu.Unlock()
	if stop != nil {
		stop()
	}

	if s.vis != nil {
		s.vis.Stop()
	}
	p.guard("close audio graph", s.graph.Close)
	p.destroy(s.master, renderer.Master)
	p.destroy(s.mix, renderer.Mix)
}

func (p *Player) destroy(r renderer.Renderer, v renderer.Variant) {
	p.guard("destroy "+v.String()+" renderer", r.Destroy)
}

// guard runs a teardown step and absorbs any panic from the platform.
func (p *Player) guard(step string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			p.log.WithField("step", step).Debugf("Teardown step panicked: %v", rec)
		}
	}()
	fn()
}
