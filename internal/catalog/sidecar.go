package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// SidecarName is the per-pair metadata file inside a pair directory.
const SidecarName = "track.toml"

// Sidecar is the optional track.toml next to a pair's audio files.
type Sidecar struct {
	Order  int      `toml:"order"`
	Title  string   `toml:"title"`
	Artist string   `toml:"artist"`
	Level  string   `toml:"level"` // empty means not declared
	Tags   []string `toml:"tags"`
	Mix    string   `toml:"mix"`    // file name, defaults to mix.*
	Master string   `toml:"master"` // file name, defaults to master.*
}

// ReadSidecar loads dir/track.toml. A missing file yields a zero Sidecar.
func ReadSidecar(dir string) (Sidecar, error) {
	var sc Sidecar
	path := filepath.Join(dir, SidecarName)
	if _, err := toml.DecodeFile(path, &sc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Sidecar{}, nil
		}
		return Sidecar{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return sc, nil
}

// WriteSidecar writes sc to dir/track.toml.
func WriteSidecar(dir string, sc Sidecar) error {
	file, err := os.Create(filepath.Join(dir, SidecarName))
	if err != nil {
		return fmt.Errorf("failed to create sidecar: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(sc); err != nil {
		return fmt.Errorf("failed to encode sidecar: %w", err)
	}
	return nil
}
