package spectrum

import "math"

// PeakCaps holds the falling marker above each bar. A cap jumps to a new
// peak at once and otherwise sinks by a fixed amount per frame, never below
// the bar it sits on.
type PeakCaps struct {
	caps  []float64
	decay float64
}

// NewPeakCaps creates n caps resting at zero.
func NewPeakCaps(n int, decay float64) *PeakCaps {
	return &PeakCaps{
		caps:  make([]float64, n),
		decay: decay,
	}
}

// Update feeds the current height of bar i and returns its cap.
func (p *PeakCaps) Update(i int, height float64) float64 {
	if height > p.caps[i] {
		p.caps[i] = height
		return height
	}
	p.caps[i] = math.Max(height, p.caps[i]-p.decay)
	return p.caps[i]
}

// Len returns the number of caps.
func (p *PeakCaps) Len() int {
	return len(p.caps)
}

// Values returns a copy of the caps.
func (p *PeakCaps) Values() []float64 {
	out := make([]float64, len(p.caps))
	copy(out, p.caps)
	return out
}

// Reset drops every cap to zero.
func (p *PeakCaps) Reset() {
	for i := range p.caps {
		p.caps[i] = 0
	}
}
