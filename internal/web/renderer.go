//go:build js
// +build js

package web

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gopherjs/gopherjs/js"
	"github.com/sirupsen/logrus"

	"abplayer/internal/graph"
	"abplayer/internal/renderer"
)

// ErrNoWaveSurfer is returned when the WaveSurfer script is not loaded.
var ErrNoWaveSurfer = errors.New("WaveSurfer is not available")

// Renderer wraps one WaveSurfer instance.
type Renderer struct {
	mu       sync.Mutex
	ws       *js.Object
	logger   *logrus.Entry
	handlers []renderer.Handler
	gone     bool
}

// Containers resolves the DOM element each variant is drawn into.
type Containers func(v renderer.Variant) *js.Object

// Factory returns a renderer.Factory creating WaveSurfer renderers.
func Factory(containers Containers, logger *logrus.Logger) renderer.Factory {
	return func(opts renderer.Options) (renderer.Renderer, error) {
		container := containers(opts.Variant)
		if !defined(container) {
			return nil, fmt.Errorf("no container for %s", opts.Variant)
		}
		return NewRenderer(container, opts, logger)
	}
}

// NewRenderer creates a WaveSurfer instance inside container.
func NewRenderer(container *js.Object, opts renderer.Options, logger *logrus.Logger) (*Renderer, error) {
	ctor := js.Global.Get("WaveSurfer")
	if !defined(ctor) {
		return nil, ErrNoWaveSurfer
	}

	r := &Renderer{logger: logger.WithField("variant", opts.Variant.String())}
	err := guard(func() {
		r.ws = ctor.Call("create", waveSurferOptions(container, opts))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create waveform: %w", err)
	}

	r.listen("ready", func(*js.Object) renderer.Event { return renderer.Event{Type: renderer.EventReady} })
	r.listen("play", func(*js.Object) renderer.Event { return renderer.Event{Type: renderer.EventPlay} })
	r.listen("pause", func(*js.Object) renderer.Event { return renderer.Event{Type: renderer.EventPause} })
	r.listen("finish", func(*js.Object) renderer.Event { return renderer.Event{Type: renderer.EventFinish} })
	r.listen("timeupdate", func(t *js.Object) renderer.Event {
		return renderer.Event{Type: renderer.EventTimeUpdate, Time: t.Float()}
	})
	r.listen("error", func(reason *js.Object) renderer.Event {
		return renderer.Event{Type: renderer.EventError, Err: jsError(reason)}
	})
	return r, nil
}

func waveSurferOptions(container *js.Object, opts renderer.Options) js.M {
	return js.M{
		"container":     container,
		"height":        opts.Height,
		"barWidth":      opts.BarWidth,
		"barGap":        opts.BarGap,
		"barRadius":     opts.BarRadius,
		"barAlign":      "center",
		"normalize":     opts.Normalize,
		"interact":      opts.Interactive,
		"cursorColor":   opts.CursorColor,
		"cursorWidth":   0,
		"waveColor":     opts.WaveColor,
		"progressColor": verticalGradient(opts.ProgressGradient, 100),
	}
}

// verticalGradient spreads colour stops evenly from top to bottom.
func verticalGradient(stops []string, height float64) interface{} {
	if len(stops) == 1 {
		return stops[0]
	}
	ctx := js.Global.Get("document").Call("createElement", "canvas").Call("getContext", "2d")
	gradient := ctx.Call("createLinearGradient", 0, 0, 0, height)
	for i, c := range stops {
		gradient.Call("addColorStop", float64(i)/float64(len(stops)-1), c)
	}
	return gradient
}

// listen forwards a WaveSurfer event. Handlers run on their own goroutine
// because they may block on locks, which the JS event loop cannot.
func (r *Renderer) listen(name string, convert func(arg *js.Object) renderer.Event) {
	r.ws.Call("on", name, func(arg *js.Object) {
		e := convert(arg)
		go r.emit(e)
	})
}

func (r *Renderer) emit(e renderer.Event) {
	r.mu.Lock()
	handlers := append([]renderer.Handler(nil), r.handlers...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(e)
	}
}

// Load implements renderer.Renderer.
func (r *Renderer) Load(url string) error {
	return guard(func() {
		settle(r.ws.Call("load", url), func(err error) {
			r.logger.WithError(err).WithField("url", url).Debug("Waveform load rejected")
		})
	})
}

// Play implements renderer.Renderer. Playback rejections, such as autoplay
// policy refusals, are logged.
func (r *Renderer) Play() error {
	return guard(func() {
		settle(r.ws.Call("play"), func(err error) {
			r.logger.WithError(err).Warn("Playback was refused")
		})
	})
}

// Pause implements renderer.Renderer.
func (r *Renderer) Pause() {
	r.call("pause")
}

// SeekTo implements renderer.Renderer.
func (r *Renderer) SeekTo(fraction float64) {
	r.call("seekTo", fraction)
}

// SetVolume implements renderer.Renderer.
func (r *Renderer) SetVolume(v float64) {
	r.call("setVolume", v)
}

func (r *Renderer) call(method string, args ...interface{}) {
	if err := guard(func() { r.ws.Call(method, args...) }); err != nil {
		r.logger.WithError(err).WithField("method", method).Debug("Waveform call failed")
	}
}

// CurrentTime implements renderer.Renderer.
func (r *Renderer) CurrentTime() float64 {
	return r.float("getCurrentTime")
}

// Duration implements renderer.Renderer.
func (r *Renderer) Duration() float64 {
	return r.float("getDuration")
}

func (r *Renderer) float(method string) float64 {
	var v float64
	_ = guard(func() { v = r.ws.Call(method).Float() })
	return v
}

// IsPlaying implements renderer.Renderer.
func (r *Renderer) IsPlaying() bool {
	var playing bool
	_ = guard(func() { playing = r.ws.Call("isPlaying").Bool() })
	return playing
}

// Media implements renderer.Renderer.
func (r *Renderer) Media() graph.MediaElement {
	var el *js.Object
	if err := guard(func() { el = r.ws.Call("getMediaElement") }); err != nil || !defined(el) {
		return nil
	}
	return &mediaElement{obj: el}
}

// On implements renderer.Renderer.
func (r *Renderer) On(h renderer.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.gone {
		r.handlers = append(r.handlers, h)
	}
}

// DecodedChannel implements renderer.SampleSource.
func (r *Renderer) DecodedChannel(ch int) ([]float32, error) {
	var out []float32
	err := guard(func() {
		data := r.ws.Call("getDecodedData")
		if !defined(data) {
			panic("audio not decoded")
		}
		if ch < 0 || ch >= data.Get("numberOfChannels").Int() {
			panic(fmt.Sprintf("channel %d out of range", ch))
		}
		samples := data.Call("getChannelData", ch)
		out = make([]float32, samples.Length())
		for i := range out {
			out[i] = float32(samples.Index(i).Float())
		}
	})
	return out, err
}

// Destroy implements renderer.Renderer. Exceptions propagate as panics so
// the caller's teardown guard sees them.
func (r *Renderer) Destroy() {
	r.mu.Lock()
	if r.gone {
		r.mu.Unlock()
		return
	}
	r.gone = true
	r.handlers = nil
	r.mu.Unlock()
	r.ws.Call("destroy")
}

// mediaElement is the <audio> element WaveSurfer plays through.
type mediaElement struct {
	obj *js.Object
}

// SourceURL implements graph.MediaElement.
func (m *mediaElement) SourceURL() string {
	if src := m.obj.Get("currentSrc"); defined(src) && src.String() != "" {
		return src.String()
	}
	if src := m.obj.Get("src"); defined(src) {
		return src.String()
	}
	return ""
}
