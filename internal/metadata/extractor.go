package metadata

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"
)

var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Info is what the catalog stores about a rendition file.
type Info struct {
	Title    string
	Artist   string
	Genre    string
	Duration int // seconds
	Size     int64
}

// format ties an extension to its MIME type and length probe.
type format struct {
	mime  string
	probe func(path string) (time.Duration, error)
}

var formats = map[string]format{
	".mp3":  {"audio/mpeg", probeMP3},
	".flac": {"audio/flac", probeFLAC},
	".wav":  {"audio/wav", probeWAV},
}

// mp3FallbackBitrate is assumed when no MP3 frame decodes.
const mp3FallbackBitrate = 192000

// Extractor reads tags and lengths of the files in a library.
type Extractor struct {
	allowed map[string]bool
	logger  *logrus.Logger
}

func NewExtractor(supportedFormats []string, logger *logrus.Logger) *Extractor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	allowed := make(map[string]bool, len(supportedFormats))
	for _, ext := range supportedFormats {
		allowed[strings.ToLower(ext)] = true
	}
	return &Extractor{allowed: allowed, logger: logger}
}

// Describe reads tags and length. Missing tags and an unreadable length
// leave the fields zero; only an unreadable file is an error.
func (e *Extractor) Describe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("failed to stat audio file: %w", err)
	}
	info := Info{Size: st.Size()}
	log := e.logger.WithField("file", filepath.Base(path))

	if info.Duration, err = e.Duration(path); err != nil {
		log.WithError(err).Warn("Could not read duration")
	}

	m, err := tag.ReadFrom(f)
	if err != nil {
		log.WithError(err).Debug("No readable tags")
		return info, nil
	}
	info.Title = strings.TrimSpace(m.Title())
	info.Artist = strings.TrimSpace(m.Artist())
	info.Genre = strings.TrimSpace(m.Genre())

	log.WithFields(logrus.Fields{
		"title":    info.Title,
		"artist":   info.Artist,
		"duration": info.Duration,
	}).Debug("Read tags")
	return info, nil
}

// Duration returns the length of path rounded to whole seconds.
func (e *Extractor) Duration(path string) (int, error) {
	ext := strings.ToLower(filepath.Ext(path))
	f, ok := formats[ext]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	d, err := f.probe(path)
	if err != nil {
		return 0, err
	}
	return int(math.Round(d.Seconds())), nil
}

// probeMP3 sums frame durations. A stream that fails after some frames
// keeps the partial sum; one with no frames falls back to the file size.
func probeMP3(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	dec := mp3.NewDecoder(f)
	var (
		total   time.Duration
		frame   mp3.Frame
		skipped int
		frames  int
	)
	for {
		err := dec.Decode(&frame, &skipped)
		if err == nil {
			total += frame.Duration()
			frames++
			continue
		}
		if errors.Is(err, io.EOF) || frames > 0 {
			return total, nil
		}
		st, serr := f.Stat()
		if serr != nil {
			return 0, serr
		}
		return time.Duration(st.Size()*8) * time.Second / mp3FallbackBitrate, nil
	}
}

func probeFLAC(path string) (time.Duration, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	defer stream.Close()
	if stream.Info.NSamples == 0 || stream.Info.SampleRate == 0 {
		return 0, errors.New("flac stream missing sample info")
	}
	secs := float64(stream.Info.NSamples) / float64(stream.Info.SampleRate)
	return time.Duration(secs * float64(time.Second)), nil
}

func probeWAV(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, errors.New("invalid wav file")
	}
	d, err := dec.Duration()
	if err != nil {
		return 0, fmt.Errorf("invalid wav header: %w", err)
	}
	return d, nil
}

// IsAudioFile reports whether the extension is one the library accepts.
func (e *Extractor) IsAudioFile(path string) bool {
	return e.allowed[strings.ToLower(filepath.Ext(path))]
}

// ContentType returns the MIME type served for path.
func ContentType(path string) string {
	if f, ok := formats[strings.ToLower(filepath.Ext(path))]; ok {
		return f.mime
	}
	return "application/octet-stream"
}
