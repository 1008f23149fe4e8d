package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"abplayer/internal/config"
	"abplayer/internal/level"
	"abplayer/internal/metadata"
	"abplayer/pkg/models"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ErrIncomplete is returned for a pair directory lacking one of its
// renditions.
var ErrIncomplete = errors.New("pair directory needs both a mix and a master")

// UnknownArtist is used when neither the sidecar nor the tags name one.
const UnknownArtist = "Unknown Artist"

// Store persists pairs and their loudness analyses.
type Store interface {
	UpsertPair(pair models.TrackPair) (int, error)
	PruneExcept(keep []string) (int, error)
	RemovePairByDir(dir string) error
	GetAnalysis(pairID int) (*models.Analysis, error)
	SaveAnalysis(a models.Analysis) error
}

// Options configures a Library.
type Options struct {
	Root     string
	Formats  []string
	Analyze  bool
	Analysis level.AnalysisConfig
	Workers  int
	Debounce time.Duration
}

// OptionsFrom maps the catalog and level sections of the configuration.
func OptionsFrom(cfg *config.Config) Options {
	return Options{
		Root:    cfg.Catalog.LibraryPath,
		Formats: cfg.Catalog.SupportedFormats,
		Analyze: cfg.Catalog.AnalyzeLoudness,
		Analysis: level.AnalysisConfig{
			Points:        cfg.Level.AnalysisPoints,
			CalibrationDB: cfg.Level.CalibrationDB,
			MinFactor:     cfg.Level.MinFactor,
			MaxFactor:     cfg.Level.MaxFactor,
		},
		Workers:  runtime.NumCPU(),
		Debounce: 500 * time.Millisecond,
	}
}

// Library is a directory of pair directories:
//
//	<root>/<slug>/mix.<ext>
//	<root>/<slug>/master.<ext>
//	<root>/<slug>/track.toml   (optional)
type Library struct {
	opts      Options
	store     Store
	extractor *metadata.Extractor
	logger    *logrus.Logger

	mu        sync.Mutex
	listeners []func()
	watcher   *fsnotify.Watcher
	pending   map[string]*time.Timer
	closed    bool
}

// NewLibrary creates a library over opts.Root backed by store.
func NewLibrary(opts Options, store Store, logger *logrus.Logger) *Library {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	return &Library{
		opts:      opts,
		store:     store,
		extractor: metadata.NewExtractor(opts.Formats, logger),
		logger:    logger,
		pending:   make(map[string]*time.Timer),
	}
}

// Root returns the library directory.
func (l *Library) Root() string {
	return l.opts.Root
}

// OnChange registers fn to be called after the stored catalog changes.
func (l *Library) OnChange(fn func()) {
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	l.mu.Unlock()
}

func (l *Library) notify() {
	l.mu.Lock()
	listeners := append([]func(){}, l.listeners...)
	l.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// Scan walks every pair directory, stores what it finds and prunes pairs
// whose directories are gone. It returns the number of pairs stored.
func (l *Library) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(l.opts.Root)
	if err != nil {
		return 0, fmt.Errorf("failed to read library: %w", err)
	}

	l.logger.WithField("library_path", l.opts.Root).Info("Scanning library")

	var (
		wg    sync.WaitGroup
		count int64
		mu    sync.Mutex
		slugs []string
	)
	jobs := make(chan string, 100)

	for i := 0; i < l.opts.Workers; i++ {
		go func() {
			for dir := range jobs {
				if _, err := l.refresh(dir); err == nil {
					atomic.AddInt64(&count, 1)
					mu.Lock()
					slugs = append(slugs, filepath.Base(dir))
					mu.Unlock()
				}
				wg.Done()
			}
		}()
	}

enqueue:
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		select {
		case <-ctx.Done():
			break enqueue
		default:
		}
		wg.Add(1)
		jobs <- filepath.Join(l.opts.Root, entry.Name())
	}

	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return int(count), err
	}

	removed, err := l.store.PruneExcept(slugs)
	if err != nil {
		return int(count), fmt.Errorf("failed to prune catalog: %w", err)
	}

	l.logger.WithFields(logrus.Fields{
		"pairs":   count,
		"removed": removed,
	}).Info("Library scan complete")

	l.notify()
	return int(count), nil
}

// refresh loads and stores one pair directory, analysing it when enabled.
func (l *Library) refresh(dir string) (int, error) {
	pair, err := l.LoadPair(dir)
	if err != nil {
		if errors.Is(err, ErrIncomplete) {
			l.logger.WithField("dir", dir).Debug("Skipping incomplete pair directory")
		} else {
			l.logger.WithError(err).WithField("dir", dir).Error("Error reading pair directory")
		}
		return 0, err
	}

	id, err := l.store.UpsertPair(pair)
	if err != nil {
		l.logger.WithError(err).WithField("slug", pair.Slug).Error("Error storing pair")
		return 0, err
	}

	l.logger.WithFields(logrus.Fields{
		"artist": pair.Artist,
		"title":  pair.Title,
		"id":     id,
	}).Debug("Stored pair")

	if l.opts.Analyze {
		l.analyze(id, pair)
	}
	return id, nil
}

// LoadPair reads one pair directory. Title falls back from the sidecar to
// the master's tags to the directory name; artist from the sidecar to the
// tags to UnknownArtist.
func (l *Library) LoadPair(dir string) (models.TrackPair, error) {
	slug := filepath.Base(dir)
	sc, err := ReadSidecar(dir)
	if err != nil {
		return models.TrackPair{}, err
	}

	mixPath, err := l.findRendition(dir, sc.Mix, "mix")
	if err != nil {
		return models.TrackPair{}, err
	}
	masterPath, err := l.findRendition(dir, sc.Master, "master")
	if err != nil {
		return models.TrackPair{}, err
	}

	info, err := l.extractor.Describe(masterPath)
	if err != nil {
		l.logger.WithError(err).WithField("file_path", masterPath).Warn("Could not read master metadata")
	}

	pair := models.TrackPair{
		Slug:          slug,
		Order:         sc.Order,
		Title:         firstNonEmpty(sc.Title, info.Title, slug),
		Artist:        firstNonEmpty(sc.Artist, info.Artist, UnknownArtist),
		Tags:          sc.Tags,
		DeclaredLevel: strings.TrimSpace(sc.Level),
		Duration:      info.Duration,
		MixPath:       mixPath,
		MasterPath:    masterPath,
		Dir:           dir,
	}
	if len(pair.Tags) == 0 && info.Genre != "" {
		pair.Tags = []string{info.Genre}
	}
	if pair.Tags == nil {
		pair.Tags = []string{}
	}
	return pair, nil
}

// findRendition resolves the file for one rendition: the sidecar's name
// when given, otherwise the first supported <stem>.<ext> in the directory.
func (l *Library) findRendition(dir, explicit, stem string) (string, error) {
	if explicit != "" {
		path := filepath.Join(dir, filepath.Base(explicit))
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", ErrIncomplete, err)
		}
		if !l.extractor.IsAudioFile(path) {
			return "", fmt.Errorf("%w: %s", metadata.ErrUnsupportedFormat, explicit)
		}
		return path, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		base := strings.TrimSuffix(name, filepath.Ext(name))
		if strings.EqualFold(base, stem) && l.extractor.IsAudioFile(name) {
			return filepath.Join(dir, name), nil
		}
	}
	return "", fmt.Errorf("%w: no %s file in %s", ErrIncomplete, stem, dir)
}

// analyze measures the pair unless the stored analysis already covers the
// current files.
func (l *Library) analyze(id int, pair models.TrackPair) {
	fp, err := Fingerprint(pair)
	if err != nil {
		l.logger.WithError(err).WithField("slug", pair.Slug).Warn("Cannot fingerprint pair")
		return
	}
	if existing, err := l.store.GetAnalysis(id); err == nil && existing.Fingerprint == fp {
		return
	}

	start := time.Now()
	a := models.Analysis{PairID: id, Fingerprint: fp, AnalyzedAt: start}
	m, err := measurePair(pair, l.opts.Analysis)
	if err != nil {
		a.Error = err.Error()
		l.logger.WithError(err).WithField("slug", pair.Slug).Warn("Loudness analysis failed")
	} else {
		a.MixRMS = m.MixRMS
		a.MasterRMS = m.MasterRMS
		a.Factor = m.Factor
		a.LevelDB = m.LevelDB
		a.Label = m.Label
		l.logger.WithFields(logrus.Fields{
			"slug":           pair.Slug,
			"factor":         m.Factor,
			"label":          m.Label,
			"processingTime": time.Since(start),
		}).Info("Analysed pair loudness")
	}

	if err := l.store.SaveAnalysis(a); err != nil {
		l.logger.WithError(err).WithField("slug", pair.Slug).Error("Error storing loudness analysis")
	}
}

func measurePair(pair models.TrackPair, cfg level.AnalysisConfig) (level.Measurement, error) {
	mix, err := decodeFirstChannel(pair.MixPath)
	if err != nil {
		return level.Measurement{}, fmt.Errorf("mix: %w", err)
	}
	master, err := decodeFirstChannel(pair.MasterPath)
	if err != nil {
		return level.Measurement{}, fmt.Errorf("master: %w", err)
	}
	return level.Measure(mix, master, cfg)
}

func decodeFirstChannel(path string) ([]float32, error) {
	pcm, err := metadata.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return pcm.Channel(0)
}

// Fingerprint identifies the current versions of a pair's two files.
func Fingerprint(pair models.TrackPair) (string, error) {
	mix, err := os.Stat(pair.MixPath)
	if err != nil {
		return "", err
	}
	master, err := os.Stat(pair.MasterPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%d|%d:%d",
		mix.Size(), mix.ModTime().UnixNano(),
		master.Size(), master.ModTime().UnixNano()), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
