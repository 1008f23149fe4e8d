package server

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

// HealthStatus is the /health document.
type HealthStatus struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Pairs     int               `json:"pairCount"`
	Uptime    string            `json:"uptime"`
	PublicURL string            `json:"publicUrl,omitempty"`
	CheckedAt time.Time         `json:"checkedAt"`
}

type healthCheck struct {
	name string
	run  func() error
}

func (ms *PreviewServer) healthChecks(health *HealthStatus) []healthCheck {
	return []healthCheck{
		{"database", ms.store.Ping},
		{"library", ms.libraryReachable},
		{"catalog", func() error {
			n, err := ms.store.CountPairs()
			health.Pairs = n
			return err
		}},
	}
}

// handleHealthCheck runs every check and answers 503 when any fails.
func (ms *PreviewServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:    "healthy",
		Checks:    make(map[string]string),
		Uptime:    time.Since(ms.started).Round(time.Second).String(),
		PublicURL: ms.ngrokService.GetPublicURL(),
		CheckedAt: time.Now().UTC(),
	}

	for _, c := range ms.healthChecks(&health) {
		if err := c.run(); err != nil {
			health.Status = "unhealthy"
			health.Checks[c.name] = err.Error()
			continue
		}
		health.Checks[c.name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if health.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	ms.respondJSON(w, health)
}

func (ms *PreviewServer) libraryReachable() error {
	dir := ms.config.Catalog.LibraryPath
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("library path %s is not a directory", dir)
	}
	return nil
}
