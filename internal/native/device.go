// Package native runs the engine on a desktop: renditions are decoded in
// process and played through oto, the analyser is an FFT over a ring buffer
// of what was played, and the spectrum is painted onto a text grid.
package native

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hajimehoshi/oto/v2"
)

const (
	channelCount   = 2
	bytesPerSample = 4
	bytesPerFrame  = channelCount * bytesPerSample

	sampleFormat = oto.FormatFloat32LE
)

// ErrDeviceTimeout is returned when the audio device never becomes ready.
var ErrDeviceTimeout = errors.New("audio device not ready")

// Output is one playing stream.
type Output interface {
	Play()
	Pause()
	SetVolume(v float64)
	Close() error
}

// Sink opens outputs for a stream of float32 LE stereo frames.
type Sink interface {
	SampleRate() int
	Open(r io.Reader) Output
}

// Device is the process-wide oto context.
type Device struct {
	ctx  *oto.Context
	rate int
}

var (
	deviceOnce sync.Once
	device     *Device
	deviceErr  error
)

// OpenDevice returns the shared device, creating it on first use. oto only
// allows one context per process, so later calls ignore rate.
func OpenDevice(rate int, timeout time.Duration) (*Device, error) {
	deviceOnce.Do(func() {
		ctx, ready, err := oto.NewContext(rate, channelCount, sampleFormat)
		if err != nil {
			deviceErr = fmt.Errorf("failed to open audio device: %w", err)
			return
		}
		select {
		case <-ready:
		case <-time.After(timeout):
			deviceErr = ErrDeviceTimeout
			return
		}
		device = &Device{ctx: ctx, rate: rate}
	})
	return device, deviceErr
}

// SampleRate implements Sink.
func (d *Device) SampleRate() int {
	return d.rate
}

// Open implements Sink.
func (d *Device) Open(r io.Reader) Output {
	return d.ctx.NewPlayer(r)
}
