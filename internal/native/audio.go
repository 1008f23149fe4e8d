package native

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"abplayer/internal/graph"
)

// Decibel range mapped onto 0..255, as in the Web Audio defaults.
const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

var ErrContextClosed = errors.New("audio context closed")

// Platform implements graph.Platform for native renderers.
type Platform struct{}

// NewContext implements graph.Platform. Contexts start suspended.
func (Platform) NewContext() (graph.Context, error) {
	return &Context{state: graph.StateSuspended}, nil
}

// Context implements graph.Context over renderer taps.
type Context struct {
	mu      sync.Mutex
	state   graph.ContextState
	sources []*mediaSource
}

// State implements graph.Context.
func (c *Context) State() graph.ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resume implements graph.Context.
func (c *Context) Resume(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == graph.StateClosed {
		return ErrContextClosed
	}
	c.state = graph.StateRunning
	return nil
}

// Close implements graph.Context. Taps are released so the renderers may
// be connected again.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.state == graph.StateClosed {
		c.mu.Unlock()
		return ErrContextClosed
	}
	c.state = graph.StateClosed
	sources := c.sources
	c.sources = nil
	c.mu.Unlock()

	for _, s := range sources {
		s.renderer.detachTap(s.tap)
	}
	return nil
}

// Destination implements graph.Context. Renderers play to the device
// directly, so the destination only terminates connections.
func (c *Context) Destination() graph.Node {
	return destination{}
}

// NewAnalyser implements graph.Context.
func (c *Context) NewAnalyser(fftSize int, smoothing float64) (graph.Analyser, error) {
	if fftSize < 32 || fftSize > tapSize || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size %d must be a power of two in [32, %d]", fftSize, tapSize)
	}
	if smoothing < 0 || smoothing > 1 || math.IsNaN(smoothing) {
		return nil, fmt.Errorf("smoothing %v out of range [0, 1]", smoothing)
	}
	if c.State() == graph.StateClosed {
		return nil, ErrContextClosed
	}
	return newAnalyser(c, fftSize, smoothing), nil
}

// NewMediaSource implements graph.Context. Only native renderers can be
// tapped, each at most once.
func (c *Context) NewMediaSource(el graph.MediaElement) (graph.Node, error) {
	r, ok := el.(*Renderer)
	if !ok {
		return nil, fmt.Errorf("unsupported media element %T", el)
	}
	if c.State() == graph.StateClosed {
		return nil, ErrContextClosed
	}
	t, err := r.attachTap()
	if err != nil {
		return nil, err
	}

	s := &mediaSource{renderer: r, tap: t}
	c.mu.Lock()
	c.sources = append(c.sources, s)
	c.mu.Unlock()
	return s, nil
}

type destination struct{}

func (destination) Connect(graph.Node) error {
	return errors.New("destination has no outputs")
}

type mediaSource struct {
	renderer *Renderer
	tap      *tap
}

func (s *mediaSource) Connect(dst graph.Node) error {
	switch d := dst.(type) {
	case *Analyser:
		d.addInput(s.tap)
		return nil
	case destination:
		return nil
	default:
		return fmt.Errorf("cannot connect media source to %T", dst)
	}
}

// Analyser implements graph.Analyser with an FFT over the most recent
// fftSize samples of every connected source.
type Analyser struct {
	ctx       *Context
	size      int
	smoothing float64
	fft       *fourier.FFT
	window    []float64

	mu       sync.Mutex
	inputs   []*tap
	frame    []float64
	coeffs   []complex128
	smoothed []float64
}

func newAnalyser(ctx *Context, size int, smoothing float64) *Analyser {
	return &Analyser{
		ctx:       ctx,
		size:      size,
		smoothing: smoothing,
		fft:       fourier.NewFFT(size),
		window:    blackman(size),
		frame:     make([]float64, size),
		smoothed:  make([]float64, size/2),
	}
}

// blackman returns the window the Web Audio analyser applies.
func blackman(n int) []float64 {
	const (
		alpha = 0.16
		a0    = (1 - alpha) / 2
		a1    = 0.5
		a2    = alpha / 2
	)
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

func (a *Analyser) addInput(t *tap) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inputs = append(a.inputs, t)
}

// Connect implements graph.Node.
func (a *Analyser) Connect(dst graph.Node) error {
	if _, ok := dst.(destination); !ok {
		return fmt.Errorf("cannot connect analyser to %T", dst)
	}
	return nil
}

// BinCount implements graph.Analyser.
func (a *Analyser) BinCount() int {
	return a.size / 2
}

// ByteFrequencyData implements graph.Analyser. A closed context reports
// silence.
func (a *Analyser) ByteFrequencyData(dst []byte) int {
	closed := a.ctx.State() == graph.StateClosed

	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(dst)
	if n > len(a.smoothed) {
		n = len(a.smoothed)
	}
	if closed {
		for i := 0; i < n; i++ {
			dst[i] = 0
		}
		return n
	}

	for i := range a.frame {
		a.frame[i] = 0
	}
	for _, in := range a.inputs {
		in.addLatest(a.frame)
	}
	for i := range a.frame {
		a.frame[i] *= a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.frame)

	scale := 1 / float64(a.size)
	for k := range a.smoothed {
		magnitude := cmplx.Abs(a.coeffs[k]) * scale
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*magnitude
	}
	for i := 0; i < n; i++ {
		dst[i] = toByte(a.smoothed[i])
	}
	return n
}

func toByte(magnitude float64) byte {
	if magnitude <= 0 {
		return 0
	}
	db := 20 * math.Log10(magnitude)
	scaled := 255 * (db - minDecibels) / (maxDecibels - minDecibels)
	if scaled <= 0 {
		return 0
	}
	if scaled >= 255 {
		return 255
	}
	return byte(scaled)
}
