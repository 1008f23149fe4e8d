package server

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// ValidationError describes one rejected request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, code, message string) *ValidationError {
	return &ValidationError{Field: field, Code: code, Message: message}
}

// ValidationResult is the 400 response body.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func (ms *PreviewServer) respondWithValidationError(w http.ResponseWriter, r *http.Request, errs []ValidationError) {
	ms.logger.WithFields(logrus.Fields{
		"path":   r.URL.Path,
		"errors": errs,
	}).Warn("Rejected request")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	ms.respondJSON(w, ValidationResult{Errors: errs})
}

// respondWithError writes {"error", "code"} and logs server errors at
// error level, client errors at debug.
func (ms *PreviewServer) respondWithError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	entry := ms.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	if status >= http.StatusInternalServerError {
		entry.Error(message)
	} else {
		entry.Debug(message)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	ms.respondJSON(w, map[string]interface{}{
		"error": message,
		"code":  status,
	})
}

// validatePairID parses the positive pair id at pathParts[pos-1].
func (ms *PreviewServer) validatePairID(pathParts []string, pos int) (int, *ValidationError) {
	if len(pathParts) < pos || pathParts[pos-1] == "" {
		return 0, invalid("track_id", "MISSING_TRACK_ID", "Track ID is required")
	}
	id, err := strconv.Atoi(pathParts[pos-1])
	switch {
	case err != nil:
		return 0, invalid("track_id", "INVALID_TRACK_ID_FORMAT", "Track ID must be a valid integer")
	case id <= 0:
		return 0, invalid("track_id", "INVALID_TRACK_ID_VALUE", "Track ID must be positive")
	}
	return id, nil
}

// validateVariant reads the rendition name, which must end the path.
func validateVariant(pathParts []string, pos int) (string, *ValidationError) {
	if len(pathParts) < pos || pathParts[pos-1] == "" {
		return "", invalid("variant", "MISSING_VARIANT", "Rendition is required")
	}
	if len(pathParts) > pos {
		return "", invalid("variant", "INVALID_PATH", "Unexpected path after rendition")
	}
	switch v := strings.ToLower(pathParts[pos-1]); v {
	case "mix", "master":
		return v, nil
	}
	return "", invalid("variant", "INVALID_VARIANT", "Rendition must be mix or master")
}

// validateFilePath rejects stored paths that resolve outside the library.
func (ms *PreviewServer) validateFilePath(filePath string) *ValidationError {
	root, err := filepath.Abs(ms.config.Catalog.LibraryPath)
	if err != nil {
		return invalid("file_path", "CONFIG_ERROR", "Server configuration error")
	}
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return invalid("file_path", "INVALID_FILE_PATH", "Invalid file path")
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return invalid("file_path", "PATH_TRAVERSAL_DENIED", "File path outside allowed directory")
	}
	return nil
}

func (ms *PreviewServer) validateContentType(filePath string) *ValidationError {
	if ms.extractor.IsAudioFile(filePath) {
		return nil
	}
	return invalid("file_type", "UNSUPPORTED_FILE_TYPE", "Unsupported file type: "+strings.ToLower(filepath.Ext(filePath)))
}
