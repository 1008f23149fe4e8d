package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"abplayer/internal/database"
	"abplayer/pkg/models"
)

const pairsCacheKey = "pairs"

// handleHome serves the page shell from the configured static dir.
func (ms *PreviewServer) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		ms.respondWithError(w, r, http.StatusNotFound, "Not found", nil)
		return
	}
	http.ServeFile(w, r, filepath.Join(ms.config.Server.StaticDir, "index.html"))
}

// handleGetPairs returns every pair in display order with its audio URLs.
func (ms *PreviewServer) handleGetPairs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	pairs, err := ms.listPairs()
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving tracks", err)
		return
	}

	ms.respondJSON(w, pairs)
}

// handleGetPair returns one pair: /api/tracks/{id}
func (ms *PreviewServer) handleGetPair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	pathParts := strings.Split(strings.TrimSuffix(r.URL.Path, "/"), "/")
	id, verr := ms.validatePairID(pathParts, 4)
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	pair, err := ms.store.GetPairByID(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			ms.respondWithError(w, r, http.StatusNotFound, "Track not found", nil)
			return
		}
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving track", err)
		return
	}

	ms.respondJSON(w, withURLs(*pair))
}

// handleStreamRendition serves one rendition: /audio/{id}/{mix|master}
func (ms *PreviewServer) handleStreamRendition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	pathParts := strings.Split(r.URL.Path, "/")
	id, verr := ms.validatePairID(pathParts, 3)
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}
	variant, verr := validateVariant(pathParts, 4)
	if verr != nil {
		ms.respondWithValidationError(w, r, []ValidationError{*verr})
		return
	}

	pair, err := ms.store.GetPairByID(id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			ms.respondWithError(w, r, http.StatusNotFound, "Track not found", nil)
			return
		}
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error retrieving track", err)
		return
	}

	filePath := pair.MasterPath
	if variant == "mix" {
		filePath = pair.MixPath
	}
	if verr := ms.validateFilePath(filePath); verr != nil {
		ms.respondWithError(w, r, http.StatusForbidden, verr.Message, nil)
		return
	}
	if verr := ms.validateContentType(filePath); verr != nil {
		ms.respondWithError(w, r, http.StatusUnsupportedMediaType, verr.Message, nil)
		return
	}

	if err := ms.streamFile(w, r, filePath); err != nil {
		ms.logger.WithError(err).WithField("file_path", filePath).Debug("Streaming ended early")
	}
}

// handleRescan re-reads the library: POST /api/rescan
func (ms *PreviewServer) handleRescan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ms.respondWithError(w, r, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}
	if ms.library == nil {
		ms.respondWithError(w, r, http.StatusServiceUnavailable, "Library scanning is not available", nil)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	count, err := ms.library.Scan(ctx)
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Library scan failed", err)
		return
	}

	ms.respondJSON(w, map[string]interface{}{
		"success": true,
		"pairs":   count,
	})
}

// listPairs reads the catalog through the listing cache.
func (ms *PreviewServer) listPairs() ([]models.TrackPair, error) {
	if pairs, ok := ms.pairs.GetPairs(pairsCacheKey); ok {
		return pairs, nil
	}

	pairs, err := ms.store.GetAllPairs()
	if err != nil {
		return nil, err
	}
	out := make([]models.TrackPair, 0, len(pairs))
	for _, pair := range pairs {
		out = append(out, withURLs(pair))
	}
	ms.pairs.SetPairs(pairsCacheKey, out)
	return out, nil
}

// withURLs points a pair's renditions at the audio endpoint.
func withURLs(pair models.TrackPair) models.TrackPair {
	pair.MixURL = fmt.Sprintf("/audio/%d/mix", pair.ID)
	pair.MasterURL = fmt.Sprintf("/audio/%d/master", pair.ID)
	return pair
}

// respondJSON writes v as a JSON body.
func (ms *PreviewServer) respondJSON(w http.ResponseWriter, v interface{}) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		ms.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
