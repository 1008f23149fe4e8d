package native

import "sync"

// tapSize holds enough history for the largest analyser.
const tapSize = 32768

// tap keeps the most recent mono samples written to an output.
type tap struct {
	mu   sync.Mutex
	buf  []float64
	pos  int
	size int
}

func newTap(size int) *tap {
	return &tap{
		buf:  make([]float64, size),
		size: size,
	}
}

// write appends the mono mix of interleaved stereo frames.
func (t *tap) write(frames []float32, gain float64) {
	t.mu.Lock()
	for i := 0; i+1 < len(frames); i += channelCount {
		t.buf[t.pos] = float64(frames[i]+frames[i+1]) / 2 * gain
		t.pos = (t.pos + 1) % t.size
	}
	t.mu.Unlock()
}

// silence appends n zero samples.
func (t *tap) silence(n int) {
	t.mu.Lock()
	for i := 0; i < n; i++ {
		t.buf[t.pos] = 0
		t.pos = (t.pos + 1) % t.size
	}
	t.mu.Unlock()
}

// addLatest adds the last len(dst) samples to dst in chronological order.
func (t *tap) addLatest(dst []float64) {
	n := len(dst)
	if n > t.size {
		n = t.size
	}
	t.mu.Lock()
	start := (t.pos - n + t.size) % t.size
	for i := 0; i < n; i++ {
		dst[len(dst)-n+i] += t.buf[(start+i)%t.size]
	}
	t.mu.Unlock()
}
