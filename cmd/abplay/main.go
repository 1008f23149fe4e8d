package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"abplayer/internal/broadcast"
	"abplayer/internal/cache"
	"abplayer/internal/catalog"
	"abplayer/internal/config"
	"abplayer/internal/native"
	"abplayer/internal/player"
	"abplayer/pkg/models"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file (defaults are used when empty)")
	pairDir := flag.String("pair", "", "pair directory holding a mix and a master")
	mixPath := flag.String("mix", "", "mix file, used with -master instead of -pair")
	masterPath := flag.String("master", "", "master file, used with -mix instead of -pair")
	cols := flag.Int("cols", 64, "spectrum width in characters")
	rows := flag.Int("rows", 12, "spectrum height in characters")
	logPath := flag.String("log", "", "write logs to this file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.Logging, *logPath)

	pair, err := resolvePair(cfg, logger, *pairDir, *mixPath, *masterPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	device, err := native.OpenDevice(cfg.Native.SampleRate, 5*time.Second)
	if err != nil {
		logger.WithError(err).Fatal("Error opening audio device")
	}

	screen := &syncWriter{w: os.Stdout}
	measurements := cache.NewAnalysisCache(time.Hour)
	defer measurements.Close()

	p, err := player.New(player.ConfigFrom(cfg), player.Deps{
		Bus:          broadcast.NewBus(),
		Renderers:    native.Factory(device, logger),
		Platform:     native.Platform{},
		Frames:       native.NewScheduler(cfg.Native.FrameRate),
		Canvas:       native.NewTextCanvas(*cols, *rows, screen),
		Logger:       logger,
		Measurements: measurements,
	})
	if err != nil {
		logger.WithError(err).Fatal("Error creating player")
	}
	defer p.Close()

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		if state, err := term.MakeRaw(fd); err == nil {
			defer term.Restore(fd, state)
		}
	}
	screen.WriteString(clearScreen + hideCursor)
	defer screen.WriteString(showCursor + "\r\n")

	states := p.Subscribe()
	if err := p.Load(pair); err != nil {
		logger.WithError(err).Error("Error loading track pair")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keys := make(chan byte)
	go readKeys(os.Stdin, keys)

	statusRow := *rows + 2
	screen.WriteString(moveTo(statusRow+1) + helpLine)
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				logger.Debug("Player closed its state stream")
				return
			}
			screen.WriteString(moveTo(statusRow) + clearLine + statusLine(s))
		case k, ok := <-keys:
			if !ok {
				keys = nil
				continue
			}
			if !handleKey(p, k) {
				return
			}
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadConfig(path)
	}
	cfg := config.DefaultConfig()
	return cfg, cfg.Validate()
}

// newLogger keeps log output off the terminal, which the player draws on.
func newLogger(lc config.LoggingConfig, path string) *logrus.Logger {
	lc.File = ""
	logger := lc.NewLogger()
	logger.SetOutput(io.Discard)
	if path == "" {
		return logger
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not open log file: %v\n", err)
		return logger
	}
	logger.SetOutput(f)
	return logger
}

// resolvePair builds the pair from a library directory or two files.
func resolvePair(cfg *config.Config, logger *logrus.Logger, dir, mix, master string) (models.TrackPair, error) {
	var pair models.TrackPair
	switch {
	case dir != "":
		library := catalog.NewLibrary(catalog.OptionsFrom(cfg), nil, logger)
		loaded, err := library.LoadPair(dir)
		if err != nil {
			return pair, fmt.Errorf("could not read pair directory: %w", err)
		}
		pair = loaded
	case mix != "" && master != "":
		pair = models.TrackPair{
			Title:      strings.TrimSuffix(filepath.Base(master), filepath.Ext(master)),
			Artist:     catalog.UnknownArtist,
			Tags:       []string{},
			MixPath:    mix,
			MasterPath: master,
		}
	default:
		return pair, fmt.Errorf("either -pair or both -mix and -master are required")
	}

	var err error
	if pair.MixURL, err = fileURL(pair.MixPath); err != nil {
		return pair, err
	}
	if pair.MasterURL, err = fileURL(pair.MasterPath); err != nil {
		return pair, err
	}
	return pair, nil
}

func fileURL(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(abs); err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

func readKeys(r io.Reader, keys chan<- byte) {
	defer close(keys)
	buf := make([]byte, 16)
	for {
		n, err := r.Read(buf)
		for _, b := range buf[:n] {
			keys <- b
		}
		if err != nil {
			return
		}
	}
}
