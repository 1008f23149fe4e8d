// Package spectrum paints the live bar visualization. It runs its own frame
// loop, separate from the transport, and samples whatever the audio graph's
// analysis node currently reports.
package spectrum

import (
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// FrameHandle identifies a scheduled frame callback.
type FrameHandle int

// FrameScheduler is the platform's frame timing primitive. RequestFrame must
// never run fn synchronously.
type FrameScheduler interface {
	RequestFrame(fn func()) FrameHandle
	CancelFrame(h FrameHandle)
}

// Source supplies frequency magnitudes in 0..255.
type Source interface {
	BinCount() int
	FrequencyData(dst []byte) int
}

// Canvas is the drawing surface. Coordinates have the origin top-left.
type Canvas interface {
	Size() (width, height float64)
	Clear()
	FillBar(x, y, w, h float64)
	FillCap(x, y, w, h float64)
}

// Flusher is implemented by canvases that buffer a frame before showing it.
type Flusher interface {
	Flush()
}

// Layout holds the bar geometry.
type Layout struct {
	Bars int
	// BinFraction is the share of the bin range the bars are spread over,
	// starting from the lowest bin.
	BinFraction float64
	CapDecay    float64
	// BarScale is the drawn height as a fraction of the raw magnitude
	// height, leaving headroom for the caps.
	BarScale  float64
	BarFill   float64
	CapOffset float64
	CapHeight float64
}

// DefaultLayout returns the stock 64 bar layout.
func DefaultLayout() Layout {
	return Layout{
		Bars:        64,
		BinFraction: 0.8,
		CapDecay:    1.2,
		BarScale:    0.8,
		BarFill:     0.8,
		CapOffset:   4,
		CapHeight:   2,
	}
}

// BinIndex maps display bar i onto a bin.
func BinIndex(i, bars, bins int, fraction float64) int {
	if bars <= 0 || bins <= 0 {
		return 0
	}
	idx := int(math.Floor(float64(i) * (float64(bins) / float64(bars)) * fraction))
	if idx >= bins {
		idx = bins - 1
	}
	return idx
}

// Visualizer owns one draw loop.
type Visualizer struct {
	mu     sync.Mutex
	source Source
	frames FrameScheduler
	canvas Canvas
	layout Layout
	logger *logrus.Entry

	caps    *PeakCaps
	data    []byte
	alive   bool
	pending FrameHandle
	hasNext bool
	drawn   uint64
}

// NewVisualizer creates a stopped visualizer.
func NewVisualizer(source Source, frames FrameScheduler, canvas Canvas, layout Layout, logger *logrus.Entry) *Visualizer {
	return &Visualizer{
		source: source,
		frames: frames,
		canvas: canvas,
		layout: layout,
		logger: logger,
		caps:   NewPeakCaps(layout.Bars, layout.CapDecay),
	}
}

// Start begins the loop. It returns false if the loop was already running.
func (v *Visualizer) Start() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.alive {
		return false
	}
	v.alive = true
	v.schedule()
	v.logger.Debug("Spectrum loop started")
	return true
}

// Stop cancels the pending frame. Once Stop returns no frame will draw.
func (v *Visualizer) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.alive {
		return
	}
	v.alive = false
	if v.hasNext {
		v.frames.CancelFrame(v.pending)
		v.hasNext = false
	}
	v.caps.Reset()
	v.logger.WithField("frames", v.drawn).Debug("Spectrum loop stopped")
}

// Running reports whether the loop is live.
func (v *Visualizer) Running() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.alive
}

// Frames returns the number of frames drawn so far.
func (v *Visualizer) Frames() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.drawn
}

// Caps returns a copy of the current peak caps.
func (v *Visualizer) Caps() []float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.caps.Values()
}

func (v *Visualizer) schedule() {
	v.pending = v.frames.RequestFrame(v.frame)
	v.hasNext = true
}

func (v *Visualizer) frame() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.alive {
		return
	}
	v.schedule()
	v.draw()
	v.drawn++
}

func (v *Visualizer) draw() {
	bins := v.source.BinCount()
	if len(v.data) != bins {
		v.data = make([]byte, bins)
	}
	v.source.FrequencyData(v.data)

	v.canvas.Clear()
	width, height := v.canvas.Size()
	l := v.layout
	if bins > 0 && l.Bars > 0 {
		slot := width / float64(l.Bars)
		barWidth := slot * l.BarFill
		x := 0.0
		for i := 0; i < l.Bars; i++ {
			magnitude := float64(v.data[BinIndex(i, l.Bars, bins, l.BinFraction)])
			barHeight := magnitude / 255 * height
			capHeight := v.caps.Update(i, barHeight)

			visual := barHeight * l.BarScale
			v.canvas.FillBar(x, height-visual, barWidth, visual)
			v.canvas.FillCap(x, height-capHeight*l.BarScale-l.CapOffset, barWidth, l.CapHeight)
			x += slot
		}
	}

	if f, ok := v.canvas.(Flusher); ok {
		f.Flush()
	}
}
