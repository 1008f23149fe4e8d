package database

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"abplayer/pkg/models"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"), 2, logger)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func samplePair(slug string, order int) models.TrackPair {
	return models.TrackPair{
		Slug:          slug,
		Order:         order,
		Title:         "Title " + slug,
		Artist:        "Artist",
		Tags:          []string{"rock", "live"},
		DeclaredLevel: "-8.5 LUFS",
		Duration:      180,
		MixPath:       "/lib/" + slug + "/mix.wav",
		MasterPath:    "/lib/" + slug + "/master.wav",
		Dir:           "/lib/" + slug,
	}
}

func TestDatabase(t *testing.T) {
	db := newTestDB(t)

	t.Run("UpsertAndGetPair", func(t *testing.T) {
		id, err := db.UpsertPair(samplePair("alpha", 2))
		if err != nil {
			t.Fatalf("Failed to upsert pair: %v", err)
		}

		pair, err := db.GetPairByID(id)
		if err != nil {
			t.Fatalf("Failed to get pair by ID: %v", err)
		}
		if pair.Title != "Title alpha" {
			t.Errorf("Expected title %s, got %s", "Title alpha", pair.Title)
		}
		if len(pair.Tags) != 2 || pair.Tags[0] != "rock" {
			t.Errorf("Expected tags [rock live], got %v", pair.Tags)
		}
		if pair.DeclaredLevel != "-8.5 LUFS" {
			t.Errorf("Expected level -8.5 LUFS, got %s", pair.DeclaredLevel)
		}
		if pair.MeasuredLevel != "" || pair.Compensation != 0 {
			t.Errorf("Expected no analysis yet, got %q / %v", pair.MeasuredLevel, pair.Compensation)
		}
	})

	t.Run("UpsertKeepsID", func(t *testing.T) {
		first, err := db.UpsertPair(samplePair("beta", 1))
		if err != nil {
			t.Fatal(err)
		}
		updated := samplePair("beta", 1)
		updated.Title = "Renamed"
		updated.Tags = nil
		second, err := db.UpsertPair(updated)
		if err != nil {
			t.Fatal(err)
		}
		if first != second {
			t.Errorf("Expected same ID on update, got %d then %d", first, second)
		}

		pair, err := db.GetPairBySlug("beta")
		if err != nil {
			t.Fatal(err)
		}
		if pair.Title != "Renamed" {
			t.Errorf("Expected updated title, got %s", pair.Title)
		}
		if pair.Tags == nil || len(pair.Tags) != 0 {
			t.Errorf("Expected empty non-nil tags, got %#v", pair.Tags)
		}
	})

	t.Run("GetAllPairsOrdered", func(t *testing.T) {
		pairs, err := db.GetAllPairs()
		if err != nil {
			t.Fatalf("Failed to get all pairs: %v", err)
		}
		if len(pairs) != 2 {
			t.Fatalf("Expected 2 pairs, got %d", len(pairs))
		}
		if pairs[0].Slug != "beta" || pairs[1].Slug != "alpha" {
			t.Errorf("Expected order [beta alpha], got [%s %s]", pairs[0].Slug, pairs[1].Slug)
		}

		n, err := db.CountPairs()
		if err != nil || n != 2 {
			t.Errorf("CountPairs = %d, %v; want 2", n, err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := db.GetPairByID(9999); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		if _, err := db.GetPairBySlug("missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
		if _, err := db.GetAnalysis(9999); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := db.Ping(); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}

func TestAnalysis(t *testing.T) {
	db := newTestDB(t)
	id, err := db.UpsertPair(samplePair("gamma", 0))
	if err != nil {
		t.Fatal(err)
	}

	err = db.SaveAnalysis(models.Analysis{
		PairID:      id,
		MixRMS:      0.2,
		MasterRMS:   0.5,
		Factor:      0.4,
		LevelDB:     -6.7,
		Label:       "-6.7 LUFS",
		Fingerprint: "v1",
	})
	if err != nil {
		t.Fatalf("Failed to save analysis: %v", err)
	}

	a, err := db.GetAnalysis(id)
	if err != nil {
		t.Fatalf("Failed to get analysis: %v", err)
	}
	if a.Factor != 0.4 || a.Label != "-6.7 LUFS" || a.Fingerprint != "v1" {
		t.Errorf("Unexpected analysis: %+v", a)
	}
	if a.AnalyzedAt.IsZero() {
		t.Error("Expected analyzed_at to be stamped")
	}

	pair, err := db.GetPairByID(id)
	if err != nil {
		t.Fatal(err)
	}
	if pair.MeasuredLevel != "-6.7 LUFS" || pair.Compensation != 0.4 {
		t.Errorf("Expected pair to carry analysis, got %q / %v", pair.MeasuredLevel, pair.Compensation)
	}

	t.Run("FailedAnalysisHidden", func(t *testing.T) {
		if err := db.SaveAnalysis(models.Analysis{PairID: id, Error: "mix: silent", Fingerprint: "v2"}); err != nil {
			t.Fatal(err)
		}
		pair, err := db.GetPairByID(id)
		if err != nil {
			t.Fatal(err)
		}
		if pair.MeasuredLevel != "" || pair.Compensation != 0 {
			t.Errorf("Expected failed analysis to be hidden, got %q / %v", pair.MeasuredLevel, pair.Compensation)
		}
		a, err := db.GetAnalysis(id)
		if err != nil {
			t.Fatal(err)
		}
		if a.Fingerprint != "v2" {
			t.Errorf("Expected fingerprint v2, got %s", a.Fingerprint)
		}
	})

	t.Run("RemoveCascades", func(t *testing.T) {
		if err := db.RemovePairByDir("/lib/gamma"); err != nil {
			t.Fatal(err)
		}
		if _, err := db.GetPairByID(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected pair removed, got %v", err)
		}
		if _, err := db.GetAnalysis(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected analysis removed with pair, got %v", err)
		}
	})
}

func TestPruneExcept(t *testing.T) {
	db := newTestDB(t)
	for i, slug := range []string{"a", "b", "c"} {
		if _, err := db.UpsertPair(samplePair(slug, i)); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := db.PruneExcept([]string{"b"})
	if err != nil {
		t.Fatalf("PruneExcept failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}

	pairs, err := db.GetAllPairs()
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 1 || pairs[0].Slug != "b" {
		t.Errorf("Expected only b left, got %v", pairs)
	}
}
