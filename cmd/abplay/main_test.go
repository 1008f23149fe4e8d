package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"abplayer/internal/config"
	"abplayer/internal/fake"
	"abplayer/internal/player"
)

type recordingControls struct {
	toggles, variants, gains int
	seeks                    []float64
}

func (c *recordingControls) TogglePlay() error { c.toggles++; return nil }
func (c *recordingControls) ToggleVariant() { c.variants++ }
func (c *recordingControls) ToggleGainMatch() { c.gains++ }
func (c *recordingControls) Seek(fraction float64) { c.seeks = append(c.seeks, fraction) }

func TestHandleKey(t *testing.T) {
	c := &recordingControls{}
	for _, k := range []byte(" aAg\t5x0") {
		if !handleKey(c, k) {
			t.Fatalf("Key %q should not quit", k)
		}
	}
	if c.toggles != 1 || c.variants != 3 || c.gains != 1 {
		t.Errorf("Unexpected counts: toggles %d variants %d gains %d", c.toggles, c.variants, c.gains)
	}
	if len(c.seeks) != 2 || c.seeks[0] != 0.5 || c.seeks[1] != 0 {
		t.Errorf("Expected seeks [0.5 0], got %v", c.seeks)
	}
	for _, k := range []byte{'q', 'Q', 3} {
		if handleKey(c, k) {
			t.Errorf("Key %d should quit", k)
		}
	}
}

func TestStatusLine(t *testing.T) {
	tests := []struct {
		name  string
		state player.State
		want  []string
	}{
		{"Loading", player.State{Title: "Song", Artist: "Band"}, []string{"Song - Band", "loading"}},
		{"Failed", player.State{Title: "Song", Failed: true}, []string{"failed to load"}},
		{
			"Playing",
			player.State{Title: "Song", Ready: true, Playing: true, CurrentTime: "0:05", Duration: "3:20", Variant: "MASTER", GainMatch: true, Compensation: 0.6, Level: "-9 LUFS"},
			[]string{"playing", "0:05 / 3:20", "[MASTER]", "gain match x0.60", "-9 LUFS"},
		},
		{"Paused", player.State{Title: "Song", Ready: true, Variant: "MIX"}, []string{"paused", "[MIX]"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := statusLine(tt.state)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("statusLine() = %q, want it to contain %q", got, w)
				}
			}
		})
	}
}

func TestResolvePair(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := config.DefaultConfig()

	dir := filepath.Join(t.TempDir(), "first-song")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	tone := fake.Sine(800, 8000, 440, 0.5)
	for _, name := range []string{"mix.wav", "master.wav"} {
		if err := fake.WriteWAV(filepath.Join(dir, name), 8000, tone); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("Directory", func(t *testing.T) {
		pair, err := resolvePair(cfg, logger, dir, "", "")
		if err != nil {
			t.Fatalf("resolvePair failed: %v", err)
		}
		if pair.Title != "first-song" {
			t.Errorf("Expected title from directory, got %q", pair.Title)
		}
		if !strings.HasPrefix(pair.MixURL, "file://") || !strings.HasSuffix(pair.MasterURL, "/master.wav") {
			t.Errorf("Unexpected URLs %q %q", pair.MixURL, pair.MasterURL)
		}
	})

	t.Run("Files", func(t *testing.T) {
		pair, err := resolvePair(cfg, logger, "", filepath.Join(dir, "mix.wav"), filepath.Join(dir, "master.wav"))
		if err != nil {
			t.Fatalf("resolvePair failed: %v", err)
		}
		if pair.Title != "master" {
			t.Errorf("Expected title from master file, got %q", pair.Title)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, err := resolvePair(cfg, logger, "", "", ""); err == nil {
			t.Error("Expected error without sources")
		}
		if _, err := resolvePair(cfg, logger, "", filepath.Join(dir, "nope.wav"), filepath.Join(dir, "master.wav")); err == nil {
			t.Error("Expected error for a missing file")
		}
	})
}
