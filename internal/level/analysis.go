package level

import (
	"errors"
	"fmt"
	"math"
)

// ErrSilent is returned when a rendition has no usable signal.
var ErrSilent = errors.New("no signal to analyse")

// AnalysisConfig controls the RMS comparison.
type AnalysisConfig struct {
	// Points is the number of samples taken uniformly across the channel.
	Points int
	// CalibrationDB is added to the RMS level for display. It has no
	// physical meaning.
	CalibrationDB float64
	MinFactor     float64
	MaxFactor     float64
}

// Measurement is the outcome of comparing two renditions.
//
// The figures are a coarse proxy: plain RMS of a subsampled first channel,
// with no K-weighting and no gating. They are not a loudness standard
// measurement and must not be used for mastering decisions.
type Measurement struct {
	MixRMS    float64
	MasterRMS float64
	// Factor is the master attenuation that brings it level with the mix.
	Factor float64
	// LevelDB is the master's pseudo-decibel figure.
	LevelDB float64
	Label   string
}

// RMS returns the root-mean-square of roughly points samples taken at a
// uniform stride.
func RMS(samples []float32, points int) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrSilent
	}
	step := 1
	if points > 0 && len(samples) > points {
		step = len(samples) / points
	}

	var sum float64
	n := 0
	for i := 0; i < len(samples); i += step {
		v := float64(samples[i])
		sum += v * v
		n++
	}
	rms := math.Sqrt(sum / float64(n))
	if rms == 0 || math.IsNaN(rms) {
		return 0, ErrSilent
	}
	return rms, nil
}

// CompensationFactor returns mixRMS/masterRMS clamped to [lo, hi].
func CompensationFactor(mixRMS, masterRMS, lo, hi float64) float64 {
	if masterRMS <= 0 {
		return hi
	}
	f := mixRMS / masterRMS
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}

// PseudoLoudness converts an RMS value to decibels plus a calibration offset.
func PseudoLoudness(rms, calibrationDB float64) float64 {
	return 20*math.Log10(rms) + calibrationDB
}

// Label formats a pseudo-loudness figure for display.
func Label(db float64) string {
	return fmt.Sprintf("%.1f LUFS", db)
}

// Measure compares the first channels of both renditions.
func Measure(mix, master []float32, cfg AnalysisConfig) (Measurement, error) {
	mixRMS, err := RMS(mix, cfg.Points)
	if err != nil {
		return Measurement{}, fmt.Errorf("mix: %w", err)
	}
	masterRMS, err := RMS(master, cfg.Points)
	if err != nil {
		return Measurement{}, fmt.Errorf("master: %w", err)
	}

	db := PseudoLoudness(masterRMS, cfg.CalibrationDB)
	return Measurement{
		MixRMS:    mixRMS,
		MasterRMS: masterRMS,
		Factor:    CompensationFactor(mixRMS, masterRMS, cfg.MinFactor, cfg.MaxFactor),
		LevelDB:   db,
		Label:     Label(db),
	}, nil
}
