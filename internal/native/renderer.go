package native

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"abplayer/internal/graph"
	"abplayer/internal/metadata"
	"abplayer/internal/renderer"
)

var (
	ErrNotLoaded     = errors.New("no audio loaded")
	ErrDestroyed     = errors.New("renderer destroyed")
	ErrAlreadyTapped = errors.New("media element already connected to a source node")
)

// tickInterval is how often position updates are sent while playing.
var tickInterval = 100 * time.Millisecond

// Renderer decodes one rendition into memory and plays it through a Sink.
// It has no waveform view; Options only supply the variant for logging.
type Renderer struct {
	mu     sync.Mutex
	sink   Sink
	opts   renderer.Options
	logger *logrus.Entry

	source     string
	generation int
	pcm        *metadata.PCM
	samples    []float32
	cursor     int

	output    Output
	volume    float64
	playing   bool
	tap       *tap
	handlers  []renderer.Handler
	done      chan struct{}
	ticking   bool
	destroyed bool
}

// NewRenderer creates an empty renderer on sink.
func NewRenderer(sink Sink, opts renderer.Options, logger *logrus.Logger) *Renderer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Renderer{
		sink:   sink,
		opts:   opts,
		logger: logger.WithField("variant", opts.Variant.String()),
		volume: 1,
		done:   make(chan struct{}),
	}
}

// Factory returns a renderer.Factory building native renderers on sink.
func Factory(sink Sink, logger *logrus.Logger) renderer.Factory {
	return func(opts renderer.Options) (renderer.Renderer, error) {
		if sink == nil {
			return nil, errors.New("no audio sink")
		}
		return NewRenderer(sink, opts, logger), nil
	}
}

// resolvePath accepts a plain path or a file:// URL.
func resolvePath(source string) (string, error) {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// single letter schemes are Windows drive letters
		return source, nil
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
	return u.Path, nil
}

// Load implements renderer.Renderer. Decoding runs in the background and
// ends with EventReady or EventError.
func (r *Renderer) Load(source string) error {
	path, err := resolvePath(source)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return ErrDestroyed
	}
	r.generation++
	gen := r.generation
	r.source = source
	r.pcm = nil
	r.samples = nil
	r.cursor = 0
	wasPlaying := r.playing
	r.playing = false
	out := r.output
	rate := r.sink.SampleRate()
	r.mu.Unlock()

	if wasPlaying && out != nil {
		out.Pause()
	}
	go r.decode(gen, path, rate)
	return nil
}

func (r *Renderer) decode(gen int, path string, rate int) {
	start := time.Now()
	pcm, err := metadata.DecodeFile(path)
	if err == nil && pcm.Frames() == 0 {
		err = fmt.Errorf("no audio in %s", path)
	}
	if err != nil {
		r.logger.WithError(err).WithField("path", path).Warn("Failed to decode rendition")
		if r.current(gen) {
			r.emit(renderer.Event{Type: renderer.EventError, Err: err})
		}
		return
	}

	pcm = metadata.Resample(pcm, rate)
	samples := interleave(pcm)

	r.mu.Lock()
	if r.destroyed || r.generation != gen {
		r.mu.Unlock()
		return
	}
	r.pcm = pcm
	r.samples = samples
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{
		"path":     path,
		"seconds":  pcm.Seconds(),
		"duration": time.Since(start),
	}).Debug("Rendition decoded")
	r.emit(renderer.Event{Type: renderer.EventReady})
}

func (r *Renderer) current(gen int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.destroyed && r.generation == gen
}

func interleave(pcm *metadata.PCM) []float32 {
	left, right := pcm.Stereo()
	out := make([]float32, len(left)*channelCount)
	for i := range left {
		out[i*2] = left[i]
		out[i*2+1] = right[i]
	}
	return out
}

// Play implements renderer.Renderer.
func (r *Renderer) Play() error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return ErrDestroyed
	}
	if r.samples == nil {
		r.mu.Unlock()
		return ErrNotLoaded
	}
	if r.playing {
		r.mu.Unlock()
		return nil
	}
	rewound := false
	if r.cursor >= r.frames() {
		r.cursor = 0
		rewound = true
	}
	if r.output == nil {
		r.output = r.sink.Open(&stream{r: r})
		r.output.SetVolume(r.volume)
		rewound = false
	}
	r.playing = true
	out := r.output
	r.startTickerLocked()
	r.mu.Unlock()

	if rewound {
		seekOutput(out, 0)
	}
	out.Play()
	r.emit(renderer.Event{Type: renderer.EventPlay})
	return nil
}

// Pause implements renderer.Renderer.
func (r *Renderer) Pause() {
	r.mu.Lock()
	if !r.playing {
		r.mu.Unlock()
		return
	}
	r.playing = false
	out := r.output
	r.mu.Unlock()

	out.Pause()
	r.emit(renderer.Event{Type: renderer.EventPause})
}

// SeekTo implements renderer.Renderer.
func (r *Renderer) SeekTo(fraction float64) {
	if math.IsNaN(fraction) {
		return
	}
	fraction = math.Max(0, math.Min(1, fraction))

	r.mu.Lock()
	if r.samples == nil {
		r.mu.Unlock()
		return
	}
	frame := int(fraction * float64(r.frames()))
	r.cursor = frame
	out := r.output
	t := r.positionLocked()
	r.mu.Unlock()

	if out != nil {
		seekOutput(out, frame)
	}
	r.emit(renderer.Event{Type: renderer.EventTimeUpdate, Time: t})
}

// seekOutput drops audio the output has already buffered. Outputs that
// cannot seek keep playing their buffer before the new position is heard.
func seekOutput(out Output, frame int) {
	if s, ok := out.(io.Seeker); ok {
		_, _ = s.Seek(int64(frame)*bytesPerFrame, io.SeekStart)
	}
}

// SetVolume implements renderer.Renderer.
func (r *Renderer) SetVolume(v float64) {
	v = math.Max(0, math.Min(1, v))
	r.mu.Lock()
	r.volume = v
	out := r.output
	r.mu.Unlock()

	if out != nil {
		out.SetVolume(v)
	}
}

// Volume returns the current volume.
func (r *Renderer) Volume() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.volume
}

// CurrentTime implements renderer.Renderer.
func (r *Renderer) CurrentTime() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positionLocked()
}

// Duration implements renderer.Renderer.
func (r *Renderer) Duration() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pcm == nil {
		return 0
	}
	return r.pcm.Seconds()
}

// IsPlaying implements renderer.Renderer.
func (r *Renderer) IsPlaying() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.playing
}

// Media implements renderer.Renderer. The renderer is its own element.
func (r *Renderer) Media() graph.MediaElement {
	return r
}

// SourceURL implements graph.MediaElement.
func (r *Renderer) SourceURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.source
}

// On implements renderer.Renderer.
func (r *Renderer) On(h renderer.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.destroyed {
		r.handlers = append(r.handlers, h)
	}
}

// DecodedChannel implements renderer.SampleSource.
func (r *Renderer) DecodedChannel(ch int) ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pcm == nil {
		return nil, ErrNotLoaded
	}
	return r.pcm.Channel(ch)
}

// Destroy implements renderer.Renderer. It is safe to call more than once.
func (r *Renderer) Destroy() {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	r.destroyed = true
	r.playing = false
	r.handlers = nil
	r.tap = nil
	close(r.done)
	out := r.output
	r.output = nil
	r.mu.Unlock()

	if out != nil {
		if err := out.Close(); err != nil {
			r.logger.WithError(err).Debug("Failed to close output")
		}
	}
}

func (r *Renderer) emit(e renderer.Event) {
	r.mu.Lock()
	handlers := append([]renderer.Handler(nil), r.handlers...)
	r.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
}

func (r *Renderer) frames() int {
	return len(r.samples) / channelCount
}

func (r *Renderer) positionLocked() float64 {
	if r.pcm == nil || r.pcm.SampleRate <= 0 {
		return 0
	}
	return float64(r.cursor) / float64(r.pcm.SampleRate)
}

func (r *Renderer) startTickerLocked() {
	if r.ticking {
		return
	}
	r.ticking = true
	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.tick()
			}
		}
	}()
}

// tick reports the position and detects the end of the stream.
func (r *Renderer) tick() {
	r.mu.Lock()
	if !r.playing {
		r.mu.Unlock()
		return
	}
	finished := r.cursor >= r.frames()
	if finished {
		r.playing = false
	}
	t := r.positionLocked()
	out := r.output
	r.mu.Unlock()

	if finished {
		out.Pause()
	}
	r.emit(renderer.Event{Type: renderer.EventTimeUpdate, Time: t})
	if finished {
		r.emit(renderer.Event{Type: renderer.EventFinish})
	}
}

// attachTap starts copying played audio into a new tap.
func (r *Renderer) attachTap() (*tap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return nil, ErrDestroyed
	}
	if r.tap != nil {
		return nil, ErrAlreadyTapped
	}
	r.tap = newTap(tapSize)
	return r.tap, nil
}

func (r *Renderer) detachTap(t *tap) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tap == t {
		r.tap = nil
	}
}

// stream feeds the output with float32 LE interleaved frames.
type stream struct {
	r *Renderer
}

// Read never returns io.EOF so the output survives reaching the end and
// can be rewound. Past the end, or while paused, it yields silence.
func (s *stream) Read(p []byte) (int, error) {
	want := len(p) / bytesPerFrame
	if want == 0 {
		return 0, nil
	}

	r := s.r
	r.mu.Lock()
	count := 0
	if r.playing {
		count = r.frames() - r.cursor
		if count > want {
			count = want
		}
		if count < 0 {
			count = 0
		}
	}
	chunk := r.samples[r.cursor*channelCount : (r.cursor+count)*channelCount]
	r.cursor += count
	t := r.tap
	gain := r.volume
	r.mu.Unlock()

	for i, v := range chunk {
		binary.LittleEndian.PutUint32(p[i*bytesPerSample:], math.Float32bits(v))
	}
	silent := p[len(chunk)*bytesPerSample : want*bytesPerFrame]
	for i := range silent {
		silent[i] = 0
	}

	if t != nil {
		t.write(chunk, gain)
		t.silence(want - count)
	}
	return want * bytesPerFrame, nil
}

// Seek moves the cursor. Only io.SeekStart is supported.
func (s *stream) Seek(offset int64, whence int) (int64, error) {
	if whence != io.SeekStart {
		return 0, fmt.Errorf("unsupported whence %d", whence)
	}
	r := s.r
	r.mu.Lock()
	defer r.mu.Unlock()

	frame := int(offset / bytesPerFrame)
	if frame < 0 {
		frame = 0
	}
	if frame > r.frames() {
		frame = r.frames()
	}
	r.cursor = frame
	return int64(frame) * bytesPerFrame, nil
}
