//go:build js
// +build js

package web

import (
	"context"
	"errors"
	"fmt"

	"github.com/gopherjs/gopherjs/js"

	"abplayer/internal/graph"
)

// ErrNoAudioContext is returned by browsers without Web Audio.
var ErrNoAudioContext = errors.New("web audio is not supported")

// Platform creates Web Audio contexts.
type Platform struct{}

// NewContext implements graph.Platform.
func (Platform) NewContext() (graph.Context, error) {
	ctor := js.Global.Get("AudioContext")
	if !defined(ctor) {
		ctor = js.Global.Get("webkitAudioContext")
	}
	if !defined(ctor) {
		return nil, ErrNoAudioContext
	}
	var obj *js.Object
	if err := guard(func() { obj = ctor.New() }); err != nil {
		return nil, err
	}
	return &Context{obj: obj}, nil
}

// Context wraps an AudioContext.
type Context struct {
	obj *js.Object
}

// State implements graph.Context.
func (c *Context) State() graph.ContextState {
	return graph.ContextState(c.obj.Get("state").String())
}

// Resume implements graph.Context.
func (c *Context) Resume(ctx context.Context) error {
	var promise *js.Object
	if err := guard(func() { promise = c.obj.Call("resume") }); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- await(promise) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements graph.Context.
func (c *Context) Close() error {
	if c.State() == graph.StateClosed {
		return errors.New("audio context already closed")
	}
	var promise *js.Object
	if err := guard(func() { promise = c.obj.Call("close") }); err != nil {
		return err
	}
	settle(promise, func(error) {})
	return nil
}

// Destination implements graph.Context.
func (c *Context) Destination() graph.Node {
	return &node{obj: c.obj.Get("destination")}
}

// NewAnalyser implements graph.Context.
func (c *Context) NewAnalyser(fftSize int, smoothing float64) (graph.Analyser, error) {
	a := &Analyser{}
	err := guard(func() {
		a.obj = c.obj.Call("createAnalyser")
		a.obj.Set("fftSize", fftSize)
		a.obj.Set("smoothingTimeConstant", smoothing)
		a.bins = a.obj.Get("frequencyBinCount").Int()
		a.buf = js.Global.Get("Uint8Array").New(a.bins)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create analyser: %w", err)
	}
	return a, nil
}

// NewMediaSource implements graph.Context. The browser throws when the
// element already feeds a source node; that surfaces as an error.
func (c *Context) NewMediaSource(el graph.MediaElement) (graph.Node, error) {
	m, ok := el.(*mediaElement)
	if !ok {
		return nil, fmt.Errorf("unsupported media element %T", el)
	}
	n := &node{}
	if err := guard(func() { n.obj = c.obj.Call("createMediaElementSource", m.obj) }); err != nil {
		return nil, err
	}
	return n, nil
}

type jsNode interface {
	object() *js.Object
}

type node struct {
	obj *js.Object
}

func (n *node) object() *js.Object { return n.obj }

// Connect implements graph.Node.
func (n *node) Connect(dst graph.Node) error {
	return connect(n.obj, dst)
}

func connect(src *js.Object, dst graph.Node) error {
	target, ok := dst.(jsNode)
	if !ok {
		return fmt.Errorf("cannot connect to %T", dst)
	}
	return guard(func() { src.Call("connect", target.object()) })
}

// Analyser wraps an AnalyserNode.
type Analyser struct {
	obj  *js.Object
	buf  *js.Object
	bins int
}

func (a *Analyser) object() *js.Object { return a.obj }

// Connect implements graph.Node.
func (a *Analyser) Connect(dst graph.Node) error {
	return connect(a.obj, dst)
}

// BinCount implements graph.Analyser.
func (a *Analyser) BinCount() int {
	return a.bins
}

// ByteFrequencyData implements graph.Analyser.
func (a *Analyser) ByteFrequencyData(dst []byte) int {
	a.obj.Call("getByteFrequencyData", a.buf)
	n := len(dst)
	if n > a.bins {
		n = a.bins
	}
	for i := 0; i < n; i++ {
		dst[i] = byte(a.buf.Index(i).Int())
	}
	return n
}
