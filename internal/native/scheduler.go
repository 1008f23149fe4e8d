package native

import (
	"sync"
	"time"

	"abplayer/internal/spectrum"
)

// Scheduler implements spectrum.FrameScheduler with timers.
type Scheduler struct {
	mu       sync.Mutex
	interval time.Duration
	next     spectrum.FrameHandle
	timers   map[spectrum.FrameHandle]*time.Timer
}

// NewScheduler creates a scheduler firing at fps frames per second.
func NewScheduler(fps int) *Scheduler {
	if fps <= 0 {
		fps = 60
	}
	return &Scheduler{
		interval: time.Second / time.Duration(fps),
		timers:   make(map[spectrum.FrameHandle]*time.Timer),
	}
}

// RequestFrame implements spectrum.FrameScheduler.
func (s *Scheduler) RequestFrame(fn func()) spectrum.FrameHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	h := s.next
	s.timers[h] = time.AfterFunc(s.interval, func() {
		s.mu.Lock()
		_, live := s.timers[h]
		delete(s.timers, h)
		s.mu.Unlock()
		if live {
			fn()
		}
	})
	return h
}

// CancelFrame implements spectrum.FrameScheduler.
func (s *Scheduler) CancelFrame(h spectrum.FrameHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[h]; ok {
		t.Stop()
		delete(s.timers, h)
	}
}

// Pending returns the number of scheduled frames.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
