package fake

import (
	"sort"
	"sync"

	"abplayer/internal/spectrum"
)

// Scheduler is a frame scheduler advanced by hand.
type Scheduler struct {
	mu       sync.Mutex
	next     spectrum.FrameHandle
	pending  map[spectrum.FrameHandle]func()
	Requests int
	Cancels  int
}

// NewScheduler creates an idle scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{pending: make(map[spectrum.FrameHandle]func())}
}

// RequestFrame implements spectrum.FrameScheduler.
func (s *Scheduler) RequestFrame(fn func()) spectrum.FrameHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.pending[s.next] = fn
	s.Requests++
	return s.next
}

// CancelFrame implements spectrum.FrameScheduler.
func (s *Scheduler) CancelFrame(h spectrum.FrameHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, h)
	s.Cancels++
}

// Pending returns the number of callbacks waiting for the next frame.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Advance fires every callback that was pending when it was called, in
// request order, and returns how many ran.
func (s *Scheduler) Advance() int {
	s.mu.Lock()
	handles := make([]spectrum.FrameHandle, 0, len(s.pending))
	for h := range s.pending {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	fns := make([]func(), 0, len(handles))
	for _, h := range handles {
		fns = append(fns, s.pending[h])
		delete(s.pending, h)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Rect is a filled rectangle.
type Rect struct {
	X, Y, W, H float64
}

// Canvas records what the last frame drew.
type Canvas struct {
	mu      sync.Mutex
	Width   float64
	Height  float64
	Bars    []Rect
	Caps    []Rect
	Clears  int
	Flushes int
}

// NewCanvas creates a recording canvas of the given size.
func NewCanvas(w, h float64) *Canvas {
	return &Canvas{Width: w, Height: h}
}

// Size implements spectrum.Canvas.
func (c *Canvas) Size() (float64, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Width, c.Height
}

// Clear implements spectrum.Canvas.
func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bars = c.Bars[:0]
	c.Caps = c.Caps[:0]
	c.Clears++
}

// FillBar implements spectrum.Canvas.
func (c *Canvas) FillBar(x, y, w, h float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Bars = append(c.Bars, Rect{x, y, w, h})
}

// FillCap implements spectrum.Canvas.
func (c *Canvas) FillCap(x, y, w, h float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Caps = append(c.Caps, Rect{x, y, w, h})
}

// Flush implements spectrum.Flusher.
func (c *Canvas) Flush() {
	c.mu.Lock()
	c.Flushes++
	c.mu.Unlock()
}

// Snapshot returns copies of the last frame's bars and caps.
func (c *Canvas) Snapshot() (bars, caps []Rect) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bars = append([]Rect(nil), c.Bars...)
	caps = append([]Rect(nil), c.Caps...)
	return bars, caps
}
