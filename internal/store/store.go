// Package store persists meter readings in a SQLite database.
//
// A Store owns the single writer connection used by the ingestion loop.
// ReadOnly opens an independent read-only connection for request handlers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/septivank/sml-meter-logger/internal/reading"
)

const (
	dirPermissions = 0750

	// busyTimeout is how long a connection waits for a database lock.
	busyTimeout = 5 * time.Second

	pingTimeout = 5 * time.Second
)

const schema = `
CREATE TABLE readings (
	meter_time          INTEGER,
	ingestion_timestamp INTEGER NOT NULL UNIQUE,
	total_energy        REAL    NOT NULL,
	line1               INTEGER,
	line2               INTEGER,
	line3               INTEGER
);
`

// StoredRow is a reading together with the time it was stored.
type StoredRow struct {
	Reading            reading.Reading
	IngestionTimestamp int64
	// Duplicate is set when a row with the same ingestion timestamp already
	// existed and nothing was written.
	Duplicate bool
}

// Store is the writable reading store.
type Store struct {
	db     *sql.DB
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for ingestion timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Init creates a new database with the readings schema at path. It refuses to
// touch an existing file.
func Init(path string, logger *zap.Logger, opts ...Option) (*Store, error) {
	_, err := os.Stat(path)
	if err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	s, err := open(path, logger, opts)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.Exec(schema); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("database created", zap.String("path", path))
	return s, nil
}

// Load opens the database at path, creating it when it does not exist yet.
func Load(path string, logger *zap.Logger, opts ...Option) (*Store, error) {
	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Init(path, logger, opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat database: %w", err)
	}

	s, err := open(path, logger, opts)
	if err != nil {
		return nil, err
	}
	logger.Info("database opened", zap.String("path", path))
	return s, nil
}

func open(path string, logger *zap.Logger, opts []Option) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		path, busyTimeout.Milliseconds())

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, path: path, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the writer connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Insert stores r with the current time in seconds as ingestion timestamp.
// A second reading within the same second is logged and dropped: the
// returned row has Duplicate set and the error is nil.
func (s *Store) Insert(ctx context.Context, r reading.Reading) (StoredRow, error) {
	if r.TotalEnergy == nil {
		return StoredRow{}, ErrMissingTotalEnergy
	}

	row := StoredRow{Reading: r, IngestionTimestamp: s.now().Unix()}

	var meterTime sql.NullInt64
	if r.MeterTime != nil {
		meterTime = sql.NullInt64{Int64: int64(*r.MeterTime), Valid: true}
	}
	var lines [3]sql.NullInt64
	for i, p := range r.Lines {
		if p != nil {
			lines[i] = sql.NullInt64{Int64: int64(p.Value), Valid: true}
		}
	}

	query := `
		INSERT INTO readings (meter_time, ingestion_timestamp, total_energy, line1, line2, line3)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		meterTime,
		row.IngestionTimestamp,
		r.TotalEnergy.Value,
		lines[0],
		lines[1],
		lines[2],
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			s.logger.Warn("duplicate ingestion timestamp, reading dropped",
				zap.Int64("ingestion_timestamp", row.IngestionTimestamp))
			row.Duplicate = true
			return row, nil
		}
		return StoredRow{}, fmt.Errorf("failed to insert reading: %w", err)
	}

	return row, nil
}

// Metrics returns the current row count and on-disk size.
func (s *Store) Metrics(ctx context.Context) (Metrics, error) {
	return collectMetrics(ctx, s.db, s.path)
}
