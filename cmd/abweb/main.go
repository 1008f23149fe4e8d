//go:build js
// +build js

package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gopherjs/gopherjs/js"
	"github.com/sirupsen/logrus"

	"abplayer/internal/broadcast"
	"abplayer/internal/cache"
	"abplayer/internal/config"
	"abplayer/internal/player"
	"abplayer/internal/renderer"
	"abplayer/internal/web"
	"abplayer/pkg/models"
)

// Every player on the page shares the bus and the measurement cache.
var (
	bus          = broadcast.NewBus()
	measurements = cache.NewAnalysisCache(time.Hour)
	logger       = logrus.New()
)

func main() {
	logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})

	js.Global.Set("ABPlayer", map[string]interface{}{
		"mount": mount,
	})
}

// engineConfig is the /api/config document.
type engineConfig struct {
	Player   config.PlayerConfig   `json:"player"`
	Spectrum config.SpectrumConfig `json:"spectrum"`
	Level    config.LevelConfig    `json:"level"`
}

// decode round trips a JS value through JSON into v.
func decode(obj *js.Object, v interface{}) error {
	if obj == nil || obj == js.Undefined || obj == js.Null {
		return nil
	}
	raw := js.Global.Get("JSON").Call("stringify", obj).String()
	return json.Unmarshal([]byte(raw), v)
}

func encode(v interface{}) *js.Object {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return js.Global.Get("JSON").Call("parse", string(raw))
}

// mount builds a player bound to the given elements:
//
//	ABPlayer.mount({master: el, mix: el, spectrum: canvas, config: {...}})
//
// The returned handle drives it, or is null when mounting failed. Calls
// return immediately; the work runs on goroutines so it may wait on locks.
func mount(opts *js.Object) map[string]interface{} {
	p, err := newPlayer(opts)
	if err != nil {
		logger.WithError(err).Error("Failed to mount player")
		return nil
	}
	return newHandle(p)
}

func newPlayer(opts *js.Object) (*player.Player, error) {
	defaults := config.DefaultConfig()
	cfg := engineConfig{Player: defaults.Player, Spectrum: defaults.Spectrum, Level: defaults.Level}
	if err := decode(opts.Get("config"), &cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	master, mix := opts.Get("master"), opts.Get("mix")
	deps := player.Deps{
		Bus: bus,
		Renderers: web.Factory(func(v renderer.Variant) *js.Object {
			if v == renderer.Master {
				return master
			}
			return mix
		}, logger),
		Platform:     web.Platform{},
		Logger:       logger,
		Measurements: measurements,
	}
	if canvas := opts.Get("spectrum"); canvas != js.Undefined && canvas != js.Null {
		deps.Frames = web.Scheduler{}
		deps.Canvas = web.NewCanvas(canvas)
	}

	return player.New(player.Config{Player: cfg.Player, Spectrum: cfg.Spectrum, Level: cfg.Level}, deps)
}

func newHandle(p *player.Player) map[string]interface{} {
	async := func(fn func()) { go fn() }
	return map[string]interface{}{
		"id": p.ID(),
		"load": func(obj *js.Object) {
			var pair models.TrackPair
			if err := decode(obj, &pair); err != nil {
				logger.WithError(err).Error("Invalid track pair")
				return
			}
			async(func() {
				if err := p.Load(pair); err != nil {
					logger.WithError(err).Error("Failed to load track pair")
				}
			})
		},
		"play":            func() { async(func() { p.Play() }) },
		"pause":           func() { async(p.Pause) },
		"toggle":          func() { async(func() { p.TogglePlay() }) },
		"seek":            func(f float64) { async(func() { p.Seek(f) }) },
		"seekAt":          func(x, w float64) { async(func() { p.SeekAt(x, w) }) },
		"toggleVariant":   func() { async(p.ToggleVariant) },
		"toggleGainMatch": func() { async(p.ToggleGainMatch) },
		"state":           func() *js.Object { return encode(p.State()) },
		"onState": func(cb *js.Object) {
			ch := p.Subscribe()
			go func() {
				for s := range ch {
					cb.Invoke(encode(s))
				}
				logger.WithField("player_id", p.ID()).Debug("State stream closed")
			}()
		},
		"destroy": func() { async(p.Close) },
	}
}
