package player

import (
	"sync"
	"time"
)

// State is what the display layer renders for one player instance.
type State struct {
	PairID       int       `json:"pairId"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	Tags         []string  `json:"tags"`
	Level        string    `json:"level"` // loudness label
	Ready        bool      `json:"ready"`
	Failed       bool      `json:"failed"`
	Playing      bool      `json:"playing"`
	Variant      string    `json:"variant"` // MASTER or MIX
	GainMatch    bool      `json:"gainMatch"`
	Compensation float64   `json:"compensation"`
	MasterVolume float64   `json:"masterVolume"`
	MixVolume    float64   `json:"mixVolume"`
	Position     float64   `json:"position"` // in seconds
	CurrentTime  string    `json:"currentTime"`
	Duration     string    `json:"duration"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// listenerBuffer is how many undelivered states a listener holds.
const listenerBuffer = 10

// StateManager holds the latest state and fans copies out to listeners
type StateManager struct {
	state     State
	mutex     sync.RWMutex
	listeners []chan State
	closed    bool
}

// NewStateManager creates a state manager for an idle player
func NewStateManager() *StateManager {
	return &StateManager{
		state: State{
			CurrentTime: FormatTime(0),
			Duration:    FormatTime(0),
			UpdatedAt:   time.Now(),
		},
	}
}

// GetState returns a copy of the current state
func (sm *StateManager) GetState() State {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.state
}

// Set replaces the state and notifies listeners
func (sm *StateManager) Set(s State) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.closed {
		return
	}
	s.UpdatedAt = time.Now()
	sm.state = s
	sm.notifyListeners()
}

// Subscribe adds a listener for state changes
func (sm *StateManager) Subscribe() <-chan State {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	ch := make(chan State, listenerBuffer)
	if sm.closed {
		close(ch)
		return ch
	}
	sm.listeners = append(sm.listeners, ch)
	return ch
}

// Unsubscribe removes a listener and closes its channel
func (sm *StateManager) Unsubscribe(ch <-chan State) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	for i, listener := range sm.listeners {
		if listener == ch {
			close(listener)
			sm.listeners = append(sm.listeners[:i], sm.listeners[i+1:]...)
			break
		}
	}
}

// Close closes every listener channel. Later updates are dropped.
func (sm *StateManager) Close() {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.closed {
		return
	}
	sm.closed = true
	for _, listener := range sm.listeners {
		close(listener)
	}
	sm.listeners = nil
}

// notifyListeners sends the state to all subscribers (must be called with lock held).
// A full buffer loses its oldest state so a slow display always catches
// up to the latest one.
func (sm *StateManager) notifyListeners() {
	for _, listener := range sm.listeners {
		s := sm.state
		s.Tags = append([]string(nil), sm.state.Tags...)
		select {
		case listener <- s:
			continue
		default:
		}
		select {
		case <-listener:
		default:
		}
		select {
		case listener <- s:
		default:
		}
	}
}
