// Package level decides which rendition of a pair is audible and at what
// volume. Switching is done by silencing one renderer, never by pausing it,
// so both keep advancing together.
package level

import "sync"

// Policy selects how the compensation factor is obtained.
type Policy string

const (
	// PolicyFixed uses a constant conservative factor.
	PolicyFixed Policy = "fixed"
	// PolicyMeasured derives the factor from an RMS comparison of the
	// decoded renditions.
	PolicyMeasured Policy = "measured"
)

// Volumer is the part of a renderer the switch drives.
type Volumer interface {
	SetVolume(v float64)
}

// Switch tracks the audible variant and the gain-match flag. Exactly one of
// the two volumes is nonzero after every operation.
type Switch struct {
	mu            sync.Mutex
	master        Volumer
	mix           Volumer
	masterAudible bool
	gainMatch     bool
	factor        float64
	minFactor     float64
	maxFactor     float64
}

// NewSwitch creates a switch with the master audible and gain match off.
// The factor is clamped to [minFactor, maxFactor].
func NewSwitch(master, mix Volumer, factor, minFactor, maxFactor float64) *Switch {
	s := &Switch{
		master:        master,
		mix:           mix,
		masterAudible: true,
		minFactor:     minFactor,
		maxFactor:     maxFactor,
	}
	s.factor = s.clamp(factor)
	return s
}

func (s *Switch) clamp(f float64) float64 {
	if f < s.minFactor {
		return s.minFactor
	}
	if f > s.maxFactor {
		return s.maxFactor
	}
	return f
}

func (s *Switch) masterLevel() float64 {
	if s.gainMatch {
		return s.factor
	}
	return 1
}

// Apply pushes the current state to both renderers.
func (s *Switch) Apply() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked()
}

func (s *Switch) applyLocked() {
	if s.masterAudible {
		s.mix.SetVolume(0)
		s.master.SetVolume(s.masterLevel())
		return
	}
	s.master.SetVolume(0)
	s.mix.SetVolume(1)
}

// ToggleVariant flips which rendition is heard. The outgoing renderer is
// muted before the incoming one is raised.
func (s *Switch) ToggleVariant() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masterAudible = !s.masterAudible
	s.applyLocked()
}

// ToggleGainMatch flips the gain-match flag. The master volume is only
// touched while the master is audible; the mix always plays at unity.
func (s *Switch) ToggleGainMatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gainMatch = !s.gainMatch
	if s.masterAudible {
		s.master.SetVolume(s.masterLevel())
	}
}

// SetFactor replaces the compensation factor and re-applies it if the
// master is currently attenuated.
func (s *Switch) SetFactor(f float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factor = s.clamp(f)
	if s.masterAudible && s.gainMatch {
		s.master.SetVolume(s.factor)
	}
}

// MasterAudible reports whether the master is the rendition being heard.
func (s *Switch) MasterAudible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.masterAudible
}

// GainMatch reports whether the master is attenuated to the factor when
// it is audible.
func (s *Switch) GainMatch() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gainMatch
}

// Factor returns the compensation factor, already clamped.
func (s *Switch) Factor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.factor
}

// MasterVolume returns the volume the master should currently have.
func (s *Switch) MasterVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.masterAudible {
		return 0
	}
	return s.masterLevel()
}

// MixVolume returns the volume the mix should currently have.
func (s *Switch) MixVolume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.masterAudible {
		return 0
	}
	return 1
}
