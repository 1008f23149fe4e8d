package server

import (
	"net/http"

	"abplayer/internal/config"
	"abplayer/internal/renderer"
)

// ConfigResponse is the engine configuration browser players mount with
type ConfigResponse struct {
	Player   config.PlayerConfig   `json:"player"`
	Spectrum config.SpectrumConfig `json:"spectrum"`
	Level    LevelResponse         `json:"level"`
	Renderer RendererResponse      `json:"renderer"`
	Auth     bool                  `json:"auth"`
}

// LevelResponse is the level-match section without analysis internals
type LevelResponse struct {
	Policy         string  `json:"policy"`
	FallbackFactor float64 `json:"fallbackFactor"`
	MinFactor      float64 `json:"minFactor"`
	MaxFactor      float64 `json:"maxFactor"`
	UnknownLabel   string  `json:"unknownLabel"`
}

// RendererResponse carries the waveform styling per rendition
type RendererResponse struct {
	Mix    renderer.Options `json:"mix"`
	Master renderer.Options `json:"master"`
}

// handleGetConfig returns the engine settings for the frontend
func (ms *PreviewServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	lc := ms.config.Level
	ms.respondJSON(w, ConfigResponse{
		Player:   ms.config.Player,
		Spectrum: ms.config.Spectrum,
		Level: LevelResponse{
			Policy:         lc.Policy,
			FallbackFactor: lc.FallbackFactor,
			MinFactor:      lc.MinFactor,
			MaxFactor:      lc.MaxFactor,
			UnknownLabel:   lc.UnknownLabel,
		},
		Renderer: RendererResponse{
			Mix:    renderer.DefaultOptions(renderer.Mix),
			Master: renderer.DefaultOptions(renderer.Master),
		},
		Auth: ms.authService.IsEnabled(),
	})
}
