//go:build js
// +build js

package web

import (
	"github.com/gopherjs/gopherjs/js"

	"abplayer/internal/spectrum"
)

// Bar gradient stops, bottom to top, and the cap colour.
var (
	barStops = []string{
		"rgba(139, 69, 19, 0.1)",
		"rgba(184, 134, 11, 0.3)",
		"rgba(212, 175, 55, 0.5)",
	}
	capColor = "rgba(255, 248, 220, 0.5)"
)

// Scheduler implements spectrum.FrameScheduler with requestAnimationFrame.
type Scheduler struct{}

// RequestFrame implements spectrum.FrameScheduler. fn runs on a goroutine
// since it takes the visualizer's lock.
func (Scheduler) RequestFrame(fn func()) spectrum.FrameHandle {
	id := js.Global.Call("requestAnimationFrame", func() {
		go fn()
	})
	return spectrum.FrameHandle(id.Int())
}

// CancelFrame implements spectrum.FrameScheduler.
func (Scheduler) CancelFrame(h spectrum.FrameHandle) {
	js.Global.Call("cancelAnimationFrame", int(h))
}

// Canvas paints the spectrum on a <canvas> 2D context.
type Canvas struct {
	el  *js.Object
	ctx *js.Object

	gradient *js.Object
	height   float64
}

// NewCanvas wraps el.
func NewCanvas(el *js.Object) *Canvas {
	return &Canvas{el: el, ctx: el.Call("getContext", "2d")}
}

// Size implements spectrum.Canvas.
func (c *Canvas) Size() (width, height float64) {
	return c.el.Get("width").Float(), c.el.Get("height").Float()
}

// Clear implements spectrum.Canvas.
func (c *Canvas) Clear() {
	w, h := c.Size()
	c.ctx.Call("clearRect", 0, 0, w, h)
}

// FillBar implements spectrum.Canvas.
func (c *Canvas) FillBar(x, y, w, h float64) {
	c.ctx.Set("fillStyle", c.barGradient())
	c.ctx.Call("fillRect", x, y, w, h)
}

// FillCap implements spectrum.Canvas.
func (c *Canvas) FillCap(x, y, w, h float64) {
	c.ctx.Set("fillStyle", capColor)
	c.ctx.Call("fillRect", x, y, w, h)
}

// barGradient is rebuilt when the canvas is resized.
func (c *Canvas) barGradient() *js.Object {
	_, h := c.Size()
	if c.gradient == nil || h != c.height {
		g := c.ctx.Call("createLinearGradient", 0, h, 0, 0)
		for i, stop := range barStops {
			g.Call("addColorStop", float64(i)/float64(len(barStops)-1), stop)
		}
		c.gradient = g
		c.height = h
	}
	return c.gradient
}
