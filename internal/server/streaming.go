package server

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"abplayer/internal/metadata"
)

const (
	// Buffer size for streaming (64KB)
	streamBufferSize = 64 * 1024
)

// streamFile serves an audio file with caching headers and single byte
// range support, which the browser needs to seek both renditions.
func (ms *PreviewServer) streamFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		ms.respondWithError(w, r, http.StatusNotFound, "Audio file not found", err)
		return nil
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		ms.respondWithError(w, r, http.StatusInternalServerError, "Error reading file info", err)
		return nil
	}

	fileSize := stat.Size()
	modTime := stat.ModTime().Unix()
	etag := fmt.Sprintf(`"%d-%d"`, modTime, fileSize)

	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("ETag", etag)

	if checkNotModified(w, r, etag) {
		return nil
	}

	w.Header().Set("Content-Type", metadata.ContentType(filePath))
	w.Header().Set("Accept-Ranges", "bytes")

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		return handleRangeRequest(w, r, file, fileSize, rangeHeader)
	}

	w.Header().Set("Content-Length", strconv.FormatInt(fileSize, 10))
	if r.Method == http.MethodHead {
		return nil
	}

	bufferedReader := bufio.NewReaderSize(file, streamBufferSize)
	buffer := make([]byte, streamBufferSize)

	if _, err := io.CopyBuffer(w, bufferedReader, buffer); err != nil {
		return fmt.Errorf("error streaming file: %w", err)
	}
	return nil
}

// parseRange parses a single "bytes=" range against size. Suffix ranges
// ("bytes=-500") address the tail of the file.
func parseRange(rangeHeader string, size int64) (start, end int64, ok bool) {
	if !strings.HasPrefix(rangeHeader, "bytes=") || size <= 0 {
		return 0, 0, false
	}
	spec := strings.TrimPrefix(rangeHeader, "bytes=")
	if strings.Contains(spec, ",") {
		return 0, 0, false
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	if parts[0] == "" {
		n, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || n <= 0 {
			return 0, 0, false
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, true
	}

	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	end = size - 1
	if parts[1] != "" {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, 0, false
		}
		if end >= size {
			end = size - 1
		}
	}
	if start < 0 || start > end {
		return 0, 0, false
	}
	return start, end, true
}

// handleRangeRequest implements simple single-range byte serving for seeking.
func handleRangeRequest(w http.ResponseWriter, r *http.Request, file io.ReadSeeker, fileSize int64, rangeHeader string) error {
	start, end, ok := parseRange(rangeHeader, fileSize)
	if !ok {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", fileSize))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	}

	contentLength := end - start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, fileSize))
	w.Header().Set("Content-Length", strconv.FormatInt(contentLength, 10))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		return err
	}
	_, err := io.CopyN(w, file, contentLength)
	return err
}

// checkNotModified answers 304 when the client's cached copy is current
func checkNotModified(w http.ResponseWriter, r *http.Request, etag string) bool {
	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}
	return false
}
