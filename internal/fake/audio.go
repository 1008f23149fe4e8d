// Package fake provides in-memory stand-ins for the platform collaborators
// (audio context, renderers, frame timing, drawing surface) so the engine can
// be exercised without a browser or a sound card.
package fake

import (
	"context"
	"errors"
	"sync"

	"abplayer/internal/graph"
)

// ErrDoubleTap mirrors the platform refusing to tap an element twice.
var ErrDoubleTap = errors.New("media element already connected to a source node")

// Platform records every context it creates.
type Platform struct {
	mu        sync.Mutex
	Contexts  []*Context
	FailNext  error
	StartRuns bool // contexts start running instead of suspended
}

// NewContext implements graph.Platform.
func (p *Platform) NewContext() (graph.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailNext != nil {
		err := p.FailNext
		p.FailNext = nil
		return nil, err
	}
	state := graph.StateSuspended
	if p.StartRuns {
		state = graph.StateRunning
	}
	c := &Context{state: state, tapped: make(map[graph.MediaElement]bool)}
	p.Contexts = append(p.Contexts, c)
	return c, nil
}

// Count returns how many contexts were created.
func (p *Platform) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Contexts)
}

// Last returns the most recent context or nil.
func (p *Platform) Last() *Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Contexts) == 0 {
		return nil
	}
	return p.Contexts[len(p.Contexts)-1]
}

// Context is a fake audio context.
type Context struct {
	mu        sync.Mutex
	state     graph.ContextState
	tapped    map[graph.MediaElement]bool
	Analysers []*Analyser
	Resumes   int
	Closes    int
	ResumeErr error
	destNode  destination
}

// State implements graph.Context.
func (c *Context) State() graph.ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetState forces a state, e.g. to simulate the platform suspending audio.
func (c *Context) SetState(s graph.ContextState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Resume implements graph.Context.
func (c *Context) Resume(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resumes++
	if c.ResumeErr != nil {
		return c.ResumeErr
	}
	if c.state == graph.StateClosed {
		return errors.New("cannot resume a closed context")
	}
	c.state = graph.StateRunning
	return nil
}

// Close implements graph.Context. Closing twice fails like the platform does.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closes++
	if c.state == graph.StateClosed {
		return errors.New("context already closed")
	}
	c.state = graph.StateClosed
	return nil
}

// Destination implements graph.Context.
func (c *Context) Destination() graph.Node {
	return &c.destNode
}

// NewAnalyser implements graph.Context.
func (c *Context) NewAnalyser(fftSize int, smoothing float64) (graph.Analyser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := &Analyser{FFTSize: fftSize, Smoothing: smoothing, Data: make([]byte, fftSize/2)}
	c.Analysers = append(c.Analysers, a)
	return a, nil
}

// NewMediaSource implements graph.Context.
func (c *Context) NewMediaSource(el graph.MediaElement) (graph.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tapped[el] {
		return nil, ErrDoubleTap
	}
	c.tapped[el] = true
	return &source{}, nil
}

// TappedCount returns how many distinct elements were tapped.
func (c *Context) TappedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tapped)
}

type destination struct{}

func (destination) Connect(graph.Node) error { return nil }

type source struct {
	target graph.Node
}

func (s *source) Connect(dst graph.Node) error {
	s.target = dst
	return nil
}

// Analyser serves whatever magnitudes the test puts in Data.
type Analyser struct {
	mu        sync.Mutex
	FFTSize   int
	Smoothing float64
	Data      []byte
	Connected bool
}

// Connect implements graph.Node.
func (a *Analyser) Connect(graph.Node) error {
	a.mu.Lock()
	a.Connected = true
	a.mu.Unlock()
	return nil
}

// BinCount implements graph.Analyser.
func (a *Analyser) BinCount() int {
	return a.FFTSize / 2
}

// ByteFrequencyData implements graph.Analyser.
func (a *Analyser) ByteFrequencyData(dst []byte) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return copy(dst, a.Data)
}

// Fill sets every bin to v.
func (a *Analyser) Fill(v byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.Data {
		a.Data[i] = v
	}
}

// Element is a fake media element.
type Element struct {
	URL string
}

// SourceURL implements graph.MediaElement.
func (e *Element) SourceURL() string { return e.URL }
