// Package graph owns the per-player audio graph: one lazily created context,
// one analysis node between every tapped media element and the output, and
// the registry that keeps each element tapped at most once.
package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrClosed is returned once the manager has been torn down.
var ErrClosed = errors.New("audio graph closed")

// Config holds the analysis node settings.
type Config struct {
	FFTSize   int
	Smoothing float64
}

// Manager is owned by exactly one player instance.
type Manager struct {
	mu       sync.Mutex
	platform Platform
	cfg      Config
	logger   *logrus.Entry

	ctx      Context
	analyser Analyser
	taps     map[string]Node
	closed   bool
}

// NewManager creates a manager. No platform resources are requested until
// the first Ensure.
func NewManager(p Platform, cfg Config, logger *logrus.Entry) *Manager {
	return &Manager{
		platform: p,
		cfg:      cfg,
		logger:   logger,
		taps:     make(map[string]Node),
	}
}

// Ensure creates the context and analysis node if absent. created reports
// whether this call built them.
func (m *Manager) Ensure() (created bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureLocked()
}

func (m *Manager) ensureLocked() (bool, error) {
	if m.closed {
		return false, ErrClosed
	}
	if m.ctx != nil && m.analyser != nil {
		return false, nil
	}

	if m.ctx == nil {
		ctx, err := m.platform.NewContext()
		if err != nil {
			return false, fmt.Errorf("failed to create audio context: %w", err)
		}
		m.ctx = ctx
	}

	analyser, err := m.ctx.NewAnalyser(m.cfg.FFTSize, m.cfg.Smoothing)
	if err != nil {
		return false, fmt.Errorf("failed to create analyser: %w", err)
	}
	if err := analyser.Connect(m.ctx.Destination()); err != nil {
		return false, fmt.Errorf("failed to connect analyser: %w", err)
	}
	m.analyser = analyser

	m.logger.WithFields(logrus.Fields{
		"fft_size":  m.cfg.FFTSize,
		"smoothing": m.cfg.Smoothing,
	}).Debug("Audio graph created")
	return true, nil
}

// Activate runs on every play transition: it makes sure the graph exists,
// resumes a suspended context and then attempts to tap every element.
func (m *Manager) Activate(ctx context.Context, elements ...MediaElement) error {
	m.mu.Lock()
	if _, err := m.ensureLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	audioCtx := m.ctx
	m.mu.Unlock()

	// Resume may wait on the platform, so it runs without the lock
	if audioCtx.State() == StateSuspended {
		if err := audioCtx.Resume(ctx); err != nil {
			return fmt.Errorf("failed to resume audio context: %w", err)
		}
	}

	for _, el := range elements {
		m.Tap(el)
	}
	return nil
}

// Tap connects el to the analysis node. It is idempotent per source address
// and reports whether a new tap was registered. Platform errors from tapping
// an already connected element are swallowed.
func (m *Manager) Tap(el MediaElement) bool {
	if el == nil {
		return false
	}
	source := el.SourceURL()
	if source == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.ctx == nil || m.analyser == nil {
		return false
	}
	if _, exists := m.taps[source]; exists {
		return false
	}

	node, err := m.ctx.NewMediaSource(el)
	if err != nil {
		m.logger.WithError(err).WithField("source", source).Debug("Media element already connected")
		return false
	}
	if err := node.Connect(m.analyser); err != nil {
		m.logger.WithError(err).WithField("source", source).Debug("Failed to connect media source")
		return false
	}

	m.taps[source] = node
	return true
}

// TapCount returns the number of registered taps.
func (m *Manager) TapCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.taps)
}

// Initialized reports whether the context exists.
func (m *Manager) Initialized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx != nil
}

// BinCount returns the analysis node's bin count, or 0 before the graph exists.
func (m *Manager) BinCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.analyser == nil {
		return 0
	}
	return m.analyser.BinCount()
}

// FrequencyData copies the current magnitudes into dst.
func (m *Manager) FrequencyData(dst []byte) int {
	m.mu.Lock()
	analyser := m.analyser
	m.mu.Unlock()

	if analyser == nil {
		return 0
	}
	return analyser.ByteFrequencyData(dst)
}

// Close releases the context and clears the tap registry. It tolerates an
// already closed context and may be called any number of times.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	if m.ctx != nil && m.ctx.State() != StateClosed {
		if err := m.ctx.Close(); err != nil {
			m.logger.WithError(err).Debug("Audio context close failed")
		}
	}
	m.ctx = nil
	m.analyser = nil
	m.taps = make(map[string]Node)
}
