package models

import "time"

// TrackPair represents one piece in two renditions: the pre-mastering mix
// and the finished master. A pair is immutable once handed to a player;
// a different pair means a full reload.
type TrackPair struct {
	ID            int      `json:"id"`
	Slug          string   `json:"slug"`
	Order         int      `json:"order"`
	Title         string   `json:"title"`
	Artist        string   `json:"artist"`
	Tags          []string `json:"tags"`
	DeclaredLevel string   `json:"level"`    // upstream loudness label, shown verbatim
	Duration      int      `json:"duration"` // in seconds, from the master file
	MixURL        string   `json:"mixUrl"`
	MasterURL     string   `json:"masterUrl"`
	MixPath       string   `json:"-"` // don't expose file paths to clients
	MasterPath    string   `json:"-"`
	Dir           string   `json:"-"`

	// Filled from the latest loudness analysis, if any
	MeasuredLevel string  `json:"measuredLevel,omitempty"`
	Compensation  float64 `json:"compensation,omitempty"`
}

// Analysis is a persisted coarse loudness comparison of a pair. The values
// come from an RMS proxy and are not a standards-compliant measurement.
type Analysis struct {
	PairID     int       `json:"pairId"`
	MixRMS     float64   `json:"mixRms"`
	MasterRMS  float64   `json:"masterRms"`
	Factor     float64   `json:"factor"`
	LevelDB    float64   `json:"levelDb"`
	Label      string    `json:"label"`
	Error      string    `json:"error,omitempty"`
	AnalyzedAt time.Time `json:"analyzedAt"`

	// Identifies the file versions that were analysed
	Fingerprint string `json:"-"`
}
