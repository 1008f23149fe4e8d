package fake

import (
	"sync"
	"time"

	"abplayer/internal/graph"
	"abplayer/internal/renderer"
)

// Renderer is a scriptable renderer. Play and Pause emit their events
// synchronously; Ready and Error are emitted by the test.
type Renderer struct {
	mu        sync.Mutex
	Opts      renderer.Options
	URL       string
	LoadErr   error
	PlayErr   error
	Samples   []float32
	SampleErr error

	// PanicOnDestroy makes Destroy panic, as a JS exception would.
	PanicOnDestroy bool

	element   *Element
	volume    float64
	playing   bool
	position  float64
	duration  float64
	destroyed bool
	handlers  []renderer.Handler

	PlayCalls    int
	PauseCalls   int
	SeekCalls    int
	DestroyCalls int
}

// NewRenderer creates a renderer with the given duration in seconds.
func NewRenderer(opts renderer.Options, duration float64) *Renderer {
	return &Renderer{
		Opts:     opts,
		element:  &Element{},
		volume:   1,
		duration: duration,
	}
}

// Load implements renderer.Renderer.
func (r *Renderer) Load(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.URL = url
	r.element.URL = url
	return r.LoadErr
}

// Play implements renderer.Renderer.
func (r *Renderer) Play() error {
	r.mu.Lock()
	r.PlayCalls++
	if r.PlayErr != nil {
		err := r.PlayErr
		r.mu.Unlock()
		return err
	}
	if r.playing || r.destroyed {
		r.mu.Unlock()
		return nil
	}
	r.playing = true
	r.mu.Unlock()

	r.Emit(renderer.Event{Type: renderer.EventPlay})
	return nil
}

// Pause implements renderer.Renderer.
func (r *Renderer) Pause() {
	r.mu.Lock()
	r.PauseCalls++
	if !r.playing {
		r.mu.Unlock()
		return
	}
	r.playing = false
	r.mu.Unlock()

	r.Emit(renderer.Event{Type: renderer.EventPause})
}

// SeekTo implements renderer.Renderer.
func (r *Renderer) SeekTo(fraction float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SeekCalls++
	r.position = fraction * r.duration
}

// SetVolume implements renderer.Renderer.
func (r *Renderer) SetVolume(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volume = v
}

// Volume returns the last volume set.
func (r *Renderer) Volume() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.volume
}

// CurrentTime implements renderer.Renderer.
func (r *Renderer) CurrentTime() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

// Duration implements renderer.Renderer.
func (r *Renderer) Duration() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duration
}

// IsPlaying implements renderer.Renderer.
func (r *Renderer) IsPlaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

// Media implements renderer.Renderer.
func (r *Renderer) Media() graph.MediaElement {
	return r.element
}

// On implements renderer.Renderer.
func (r *Renderer) On(h renderer.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// Destroy implements renderer.Renderer.
func (r *Renderer) Destroy() {
	r.mu.Lock()
	r.DestroyCalls++
	panicNow := r.PanicOnDestroy
	r.destroyed = true
	r.playing = false
	r.handlers = nil
	r.mu.Unlock()

	if panicNow {
		panic("renderer already destroyed")
	}
}

// Destroyed reports whether Destroy was called.
func (r *Renderer) Destroyed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed
}

// DecodedChannel implements renderer.SampleSource.
func (r *Renderer) DecodedChannel(int) ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Samples, r.SampleErr
}

// Emit delivers e to every handler.
func (r *Renderer) Emit(e renderer.Event) {
	r.mu.Lock()
	handlers := append([]renderer.Handler(nil), r.handlers...)
	r.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
}

// Advance moves a playing renderer forward by dt seconds, emitting a time
// update and, at the end, a finish event.
func (r *Renderer) Advance(dt float64) {
	r.mu.Lock()
	if !r.playing {
		r.mu.Unlock()
		return
	}
	r.position += dt
	finished := r.position >= r.duration
	if finished {
		r.position = r.duration
		r.playing = false
	}
	pos := r.position
	r.mu.Unlock()

	r.Emit(renderer.Event{Type: renderer.EventTimeUpdate, Time: pos})
	if finished {
		r.Emit(renderer.Event{Type: renderer.EventFinish})
	}
}

// Factory hands out fake renderers and remembers them by variant.
type Factory struct {
	mu        sync.Mutex
	Durations map[renderer.Variant]float64
	Err       error
	Created   []*Renderer

	// Prepare, if set, adjusts each renderer before it is returned.
	Prepare func(r *Renderer)
}

// New implements renderer.Factory.
func (f *Factory) New(opts renderer.Options) (renderer.Renderer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	r := NewRenderer(opts, f.Durations[opts.Variant])
	if f.Prepare != nil {
		f.Prepare(r)
	}
	f.Created = append(f.Created, r)
	return r, nil
}

// Latest returns the most recently created renderer of variant v.
func (f *Factory) Latest(v renderer.Variant) *Renderer {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Created) - 1; i >= 0; i-- {
		if f.Created[i].Opts.Variant == v {
			return f.Created[i]
		}
	}
	return nil
}

// Clock collects AfterFunc callbacks until the test fires them.
type Clock struct {
	mu      sync.Mutex
	pending []*timer
}

type timer struct {
	fn      func()
	stopped bool
}

// AfterFunc matches player.AfterFunc.
func (c *Clock) AfterFunc(_ time.Duration, fn func()) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{fn: fn}
	c.pending = append(c.pending, t)
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		was := !t.stopped
		t.stopped = true
		return was
	}
}

// Fire runs every pending timer that was not stopped.
func (c *Clock) Fire() int {
	c.mu.Lock()
	timers := c.pending
	c.pending = nil
	c.mu.Unlock()

	n := 0
	for _, t := range timers {
		c.mu.Lock()
		stopped := t.stopped
		t.stopped = true
		c.mu.Unlock()
		if !stopped {
			t.fn()
			n++
		}
	}
	return n
}
