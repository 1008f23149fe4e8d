// Package renderer defines the contract the engine consumes from a waveform
// renderer: an opaque component that draws a static waveform, hosts one media
// element and reports its lifecycle through events.
package renderer

import (
	"abplayer/internal/graph"
)

// Variant identifies which rendition of a track a renderer hosts.
type Variant int

const (
	Mix Variant = iota
	Master
)

func (v Variant) String() string {
	if v == Master {
		return "MASTER"
	}
	return "MIX"
}

// EventType enumerates renderer notifications.
type EventType int

const (
	EventReady EventType = iota
	EventPlay
	EventPause
	EventTimeUpdate
	EventFinish
	EventError
)

func (e EventType) String() string {
	switch e {
	case EventReady:
		return "ready"
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventTimeUpdate:
		return "timeupdate"
	case EventFinish:
		return "finish"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered to handlers registered with On. Time is the playback
// position in seconds for EventTimeUpdate; Err is set for EventError.
type Event struct {
	Type EventType
	Time float64
	Err  error
}

// Handler receives renderer events.
type Handler func(Event)

// Renderer is one waveform view plus its media element.
type Renderer interface {
	// Load starts fetching and decoding url. Completion is reported by an
	// EventReady or EventError, never by the return value alone.
	Load(url string) error
	Play() error
	Pause()
	// SeekTo moves the playhead to a fraction of the duration in [0, 1].
	SeekTo(fraction float64)
	SetVolume(v float64)
	CurrentTime() float64
	Duration() float64
	IsPlaying() bool
	Media() graph.MediaElement
	On(h Handler)
	Destroy()
}

// SampleSource is implemented by renderers that expose their decoded audio.
type SampleSource interface {
	DecodedChannel(ch int) ([]float32, error)
}

// Factory builds a renderer with the given options.
type Factory func(opts Options) (Renderer, error)
