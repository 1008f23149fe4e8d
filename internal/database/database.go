package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"abplayer/pkg/models"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a pair or analysis does not exist.
var ErrNotFound = errors.New("not found")

// Database wraps a *sql.DB providing the catalog of track pairs and their
// loudness analyses. It is safe for concurrent use because the underlying
// *sql.DB is concurrency-safe.
type Database struct {
	conn   *sql.DB
	logger *logrus.Logger

	// Prepared statements for the hot paths
	upsertPairStmt   *sql.Stmt
	getPairByIDStmt  *sql.Stmt
	removePairStmt   *sql.Stmt
	saveAnalysisStmt *sql.Stmt
}

const pairColumns = `p.id, p.slug, p.sort_order, p.title, p.artist, p.tags, p.declared_level,
	p.duration, p.mix_path, p.master_path, p.dir,
	COALESCE(l.label, ''), COALESCE(l.factor, 0), COALESCE(l.error, '')`

const pairFrom = `FROM track_pairs p LEFT JOIN loudness l ON l.pair_id = p.id`

// NewDatabase opens (or creates) a SQLite database at the provided path and
// ensures all required tables and indices exist. Caller should Close() it
// when finished.
func NewDatabase(dbPath string, maxConns int, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if maxConns < 1 {
		maxConns = 1
	}

	conn, err := sql.Open("sqlite3", dbPath+"?cache=shared&mode=rwc&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works better with few connections
	conn.SetMaxOpenConns(maxConns)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=2000;",
		"PRAGMA temp_store=memory;",
		"PRAGMA foreign_keys=ON;",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	db := &Database{
		conn:   conn,
		logger: logger,
	}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Database initialized successfully")
	return db, nil
}

// createTables creates tables and indices if they do not already exist.
// This is idempotent and safe to call multiple times.
func (db *Database) createTables() error {
	pairsTable := `
	CREATE TABLE IF NOT EXISTS track_pairs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		slug TEXT NOT NULL UNIQUE,
		sort_order INTEGER DEFAULT 0,
		title TEXT NOT NULL,
		artist TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		declared_level TEXT NOT NULL DEFAULT '',
		duration INTEGER DEFAULT 0,
		mix_path TEXT NOT NULL,
		master_path TEXT NOT NULL,
		dir TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	loudnessTable := `
	CREATE TABLE IF NOT EXISTS loudness (
		pair_id INTEGER PRIMARY KEY,
		mix_rms REAL NOT NULL DEFAULT 0,
		master_rms REAL NOT NULL DEFAULT 0,
		factor REAL NOT NULL DEFAULT 0,
		level_db REAL NOT NULL DEFAULT 0,
		label TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		fingerprint TEXT NOT NULL DEFAULT '',
		analyzed_at DATETIME,
		FOREIGN KEY (pair_id) REFERENCES track_pairs(id) ON DELETE CASCADE
	);`

	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_track_pairs_order ON track_pairs(sort_order, title);",
		"CREATE INDEX IF NOT EXISTS idx_track_pairs_dir ON track_pairs(dir);",
	}

	for _, table := range []string{pairsTable, loudnessTable} {
		if _, err := db.conn.Exec(table); err != nil {
			return err
		}
	}

	for _, index := range indices {
		if _, err := db.conn.Exec(index); err != nil {
			return err
		}
	}

	return nil
}

// prepareStatements prepares commonly used SQL statements
func (db *Database) prepareStatements() error {
	var err error

	db.upsertPairStmt, err = db.conn.Prepare(`
		INSERT INTO track_pairs (slug, sort_order, title, artist, tags, declared_level, duration, mix_path, master_path, dir)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			sort_order=excluded.sort_order,
			title=excluded.title,
			artist=excluded.artist,
			tags=excluded.tags,
			declared_level=excluded.declared_level,
			duration=excluded.duration,
			mix_path=excluded.mix_path,
			master_path=excluded.master_path,
			dir=excluded.dir,
			updated_at=CURRENT_TIMESTAMP`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert pair statement: %w", err)
	}

	db.getPairByIDStmt, err = db.conn.Prepare(`SELECT ` + pairColumns + ` ` + pairFrom + ` WHERE p.id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare get pair by ID statement: %w", err)
	}

	db.removePairStmt, err = db.conn.Prepare(`DELETE FROM track_pairs WHERE dir = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare remove pair statement: %w", err)
	}

	db.saveAnalysisStmt, err = db.conn.Prepare(`
		INSERT INTO loudness (pair_id, mix_rms, master_rms, factor, level_db, label, error, fingerprint, analyzed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pair_id) DO UPDATE SET
			mix_rms=excluded.mix_rms,
			master_rms=excluded.master_rms,
			factor=excluded.factor,
			level_db=excluded.level_db,
			label=excluded.label,
			error=excluded.error,
			fingerprint=excluded.fingerprint,
			analyzed_at=excluded.analyzed_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare save analysis statement: %w", err)
	}

	return nil
}

// UpsertPair inserts a new pair or updates the existing pair with the same
// slug, returning the pair's database ID.
func (db *Database) UpsertPair(pair models.TrackPair) (int, error) {
	tags := pair.Tags
	if tags == nil {
		tags = []string{}
	}
	encoded, err := json.Marshal(tags)
	if err != nil {
		return 0, fmt.Errorf("failed to encode tags: %w", err)
	}

	_, err = db.upsertPairStmt.Exec(
		pair.Slug, pair.Order, pair.Title, pair.Artist, string(encoded), pair.DeclaredLevel,
		pair.Duration, pair.MixPath, pair.MasterPath, pair.Dir)
	if err != nil {
		db.logger.WithError(err).WithField("slug", pair.Slug).Error("Failed to upsert track pair")
		return 0, err
	}

	// LastInsertId is unreliable for the update branch of an upsert
	var id int
	if err := db.conn.QueryRow("SELECT id FROM track_pairs WHERE slug = ?", pair.Slug).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read pair id: %w", err)
	}
	return id, nil
}

// GetAllPairs returns every pair in display order.
func (db *Database) GetAllPairs() ([]models.TrackPair, error) {
	rows, err := db.conn.Query(`SELECT ` + pairColumns + ` ` + pairFrom + ` ORDER BY p.sort_order, p.title, p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []models.TrackPair
	for rows.Next() {
		pair, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, *pair)
	}
	return pairs, rows.Err()
}

// GetPairByID returns a single pair, or ErrNotFound.
func (db *Database) GetPairByID(id int) (*models.TrackPair, error) {
	pair, err := scanPair(db.getPairByIDStmt.QueryRow(id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("pair with ID %d: %w", id, ErrNotFound)
		}
		db.logger.WithError(err).WithField("pair_id", id).Error("Failed to get pair by ID")
		return nil, err
	}
	return pair, nil
}

// GetPairBySlug returns a single pair by its directory slug, or ErrNotFound.
func (db *Database) GetPairBySlug(slug string) (*models.TrackPair, error) {
	row := db.conn.QueryRow(`SELECT `+pairColumns+` `+pairFrom+` WHERE p.slug = ?`, slug)
	pair, err := scanPair(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("pair %q: %w", slug, ErrNotFound)
		}
		return nil, err
	}
	return pair, nil
}

// RemovePairByDir deletes the pair stored for a directory. Its analysis goes
// with it.
func (db *Database) RemovePairByDir(dir string) error {
	_, err := db.removePairStmt.Exec(dir)
	if err != nil {
		db.logger.WithError(err).WithField("dir", dir).Error("Failed to remove pair")
	}
	return err
}

// PruneExcept deletes every pair whose slug is not in keep and returns how
// many were removed.
func (db *Database) PruneExcept(keep []string) (int, error) {
	keepSet := make(map[string]bool, len(keep))
	for _, slug := range keep {
		keepSet[slug] = true
	}

	rows, err := db.conn.Query("SELECT slug FROM track_pairs")
	if err != nil {
		return 0, err
	}
	var stale []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			rows.Close()
			return 0, err
		}
		if !keepSet[slug] {
			stale = append(stale, slug)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, slug := range stale {
		if _, err := db.conn.Exec("DELETE FROM track_pairs WHERE slug = ?", slug); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// SaveAnalysis stores the loudness comparison for a pair, replacing any
// earlier one.
func (db *Database) SaveAnalysis(a models.Analysis) error {
	analyzedAt := a.AnalyzedAt
	if analyzedAt.IsZero() {
		analyzedAt = time.Now()
	}
	_, err := db.saveAnalysisStmt.Exec(
		a.PairID, a.MixRMS, a.MasterRMS, a.Factor, a.LevelDB, a.Label, a.Error, a.Fingerprint, analyzedAt.UTC())
	if err != nil {
		db.logger.WithError(err).WithField("pair_id", a.PairID).Error("Failed to save loudness analysis")
	}
	return err
}

// GetAnalysis returns the stored analysis for a pair, or ErrNotFound.
func (db *Database) GetAnalysis(pairID int) (*models.Analysis, error) {
	var a models.Analysis
	var analyzedAt sql.NullTime
	err := db.conn.QueryRow(`
		SELECT pair_id, mix_rms, master_rms, factor, level_db, label, error, fingerprint, analyzed_at
		FROM loudness WHERE pair_id = ?`, pairID).Scan(
		&a.PairID, &a.MixRMS, &a.MasterRMS, &a.Factor, &a.LevelDB, &a.Label, &a.Error, &a.Fingerprint, &analyzedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("analysis for pair %d: %w", pairID, ErrNotFound)
		}
		return nil, err
	}
	if analyzedAt.Valid {
		a.AnalyzedAt = analyzedAt.Time
	}
	return &a, nil
}

// CountPairs returns the number of pairs in the catalog.
func (db *Database) CountPairs() (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM track_pairs").Scan(&n)
	return n, err
}

// Ping checks that the database is reachable.
func (db *Database) Ping() error {
	return db.conn.Ping()
}

// Close closes the underlying database connection and prepared statements.
func (db *Database) Close() error {
	statements := []*sql.Stmt{
		db.upsertPairStmt,
		db.getPairByIDStmt,
		db.removePairStmt,
		db.saveAnalysisStmt,
	}

	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				db.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}

	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanPair reads one row produced by pairColumns.
func scanPair(row rowScanner) (*models.TrackPair, error) {
	var pair models.TrackPair
	var tags string
	var analysisErr string
	err := row.Scan(
		&pair.ID, &pair.Slug, &pair.Order, &pair.Title, &pair.Artist, &tags, &pair.DeclaredLevel,
		&pair.Duration, &pair.MixPath, &pair.MasterPath, &pair.Dir,
		&pair.MeasuredLevel, &pair.Compensation, &analysisErr)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tags), &pair.Tags); err != nil {
		pair.Tags = nil
	}
	if pair.Tags == nil {
		pair.Tags = []string{}
	}
	// failed analyses keep their row for the fingerprint but expose nothing
	if analysisErr != "" {
		pair.MeasuredLevel = ""
		pair.Compensation = 0
	}
	return &pair, nil
}
