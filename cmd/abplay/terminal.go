package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"abplayer/internal/player"
)

const (
	clearScreen = "\x1b[2J"
	clearLine   = "\x1b[2K"
	hideCursor  = "\x1b[?25l"
	showCursor  = "\x1b[?25h"

	helpLine = "space play/pause   a A/B   g gain match   0-9 seek   q quit"
)

func moveTo(row int) string {
	return fmt.Sprintf("\x1b[%d;1H", row)
}

// syncWriter serializes writes from the spectrum loop and the status line.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *syncWriter) WriteString(str string) {
	s.Write([]byte(str))
}

// controls is the part of the player the keyboard drives.
type controls interface {
	TogglePlay() error
	ToggleVariant()
	ToggleGainMatch()
	Seek(fraction float64)
}

// handleKey applies one key press. It returns false when the user quits.
func handleKey(c controls, k byte) bool {
	switch {
	case k == 'q' || k == 'Q' || k == 3:
		return false
	case k == ' ':
		c.TogglePlay()
	case k == 'a' || k == 'A' || k == '\t':
		c.ToggleVariant()
	case k == 'g' || k == 'G':
		c.ToggleGainMatch()
	case k >= '0' && k <= '9':
		c.Seek(float64(k-'0') / 10)
	}
	return true
}

func statusLine(s player.State) string {
	var b strings.Builder
	b.WriteString(s.Title)
	if s.Artist != "" {
		b.WriteString(" - " + s.Artist)
	}
	b.WriteString("   ")

	switch {
	case s.Failed:
		b.WriteString("failed to load")
		return b.String()
	case !s.Ready:
		b.WriteString("loading")
		return b.String()
	case s.Playing:
		b.WriteString("playing")
	default:
		b.WriteString("paused")
	}

	fmt.Fprintf(&b, "   %s / %s   [%s]", s.CurrentTime, s.Duration, s.Variant)
	if s.GainMatch {
		fmt.Fprintf(&b, "   gain match x%.2f", s.Compensation)
	}
	if s.Level != "" {
		b.WriteString("   " + s.Level)
	}
	return b.String()
}
