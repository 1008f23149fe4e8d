package graph

import "context"

// ContextState mirrors the audio context lifecycle.
type ContextState string

const (
	StateSuspended ContextState = "suspended"
	StateRunning   ContextState = "running"
	StateClosed    ContextState = "closed"
)

// MediaElement is the playable element a renderer hosts. Its resolved source
// address identifies it for tapping.
type MediaElement interface {
	SourceURL() string
}

// Node is anything that can be connected into the graph.
type Node interface {
	Connect(dst Node) error
}

// Analyser is a frequency analysis node.
type Analyser interface {
	Node
	BinCount() int
	// ByteFrequencyData fills dst with magnitudes scaled to 0..255 and
	// returns how many bins were written.
	ByteFrequencyData(dst []byte) int
}

// Context is a platform audio context.
type Context interface {
	State() ContextState
	Resume(ctx context.Context) error
	Close() error
	Destination() Node
	NewAnalyser(fftSize int, smoothing float64) (Analyser, error)
	// NewMediaSource taps a media element. Platforms fail when the same
	// element is tapped twice.
	NewMediaSource(el MediaElement) (Node, error)
}

// Platform creates audio contexts.
type Platform interface {
	NewContext() (Context, error)
}
