package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Metrics describes the database on disk.
type Metrics struct {
	Location      string `json:"location"`
	ReadingsCount uint64 `json:"readings_count"`
	SizeBytes     uint64 `json:"size_bytes"`
}

func (m Metrics) String() string {
	return fmt.Sprintf("Location: %s\nMetrics: %d readings, %d bytes", m.Location, m.ReadingsCount, m.SizeBytes)
}

func collectMetrics(ctx context.Context, db *sql.DB, path string) (Metrics, error) {
	var count int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM readings").Scan(&count); err != nil {
		return Metrics{}, fmt.Errorf("failed to count readings: %w", err)
	}

	size, err := fileSize(path)
	if err != nil {
		return Metrics{}, err
	}
	// The write-ahead log holds committed rows not yet checkpointed.
	walSize, err := fileSize(path + "-wal")
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Metrics{}, err
	}

	return Metrics{
		Location:      path,
		ReadingsCount: uint64(count),
		SizeBytes:     size + walSize,
	}, nil
}

func fileSize(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return uint64(info.Size()), nil
}
