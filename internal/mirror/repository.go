// Package mirror copies stored readings into a PostgreSQL table.
package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/septivank/sml-meter-logger/internal/ingest"
	"github.com/septivank/sml-meter-logger/internal/store"
)

const createTable = `
	CREATE TABLE IF NOT EXISTS meter_readings (
		ingestion_timestamp TIMESTAMPTZ      NOT NULL PRIMARY KEY,
		meter_time          BIGINT,
		total_energy        DOUBLE PRECISION NOT NULL,
		line1               INTEGER,
		line2               INTEGER,
		line3               INTEGER,
		status              TEXT             NOT NULL,
		anomaly_reason      TEXT
	)
`

const insertReading = `
	INSERT INTO meter_readings (
		ingestion_timestamp, meter_time, total_energy,
		line1, line2, line3, status, anomaly_reason
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (ingestion_timestamp) DO NOTHING
`

// execer is the subset of *pgxpool.Pool the repository uses.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Repository mirrors stored readings
type Repository struct {
	db     execer
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool, logger *zap.Logger) *Repository {
	return &Repository{db: pool, logger: logger}
}

// EnsureSchema creates the mirror table when missing
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create meter_readings table: %w", err)
	}
	return nil
}

func (r *Repository) Name() string {
	return "postgres-mirror"
}

// Forward inserts the stored row; rows already mirrored are left alone
func (r *Repository) Forward(ctx context.Context, event ingest.Event) error {
	return r.InsertReading(ctx, event.Row, event.Anomaly.Anomalous, event.Anomaly.Reason)
}

// InsertReading inserts a stored reading
func (r *Repository) InsertReading(ctx context.Context, row store.StoredRow, anomalous bool, reason string) error {
	if row.Reading.TotalEnergy == nil {
		return store.ErrMissingTotalEnergy
	}

	var meterTime *int64
	if row.Reading.MeterTime != nil {
		v := int64(*row.Reading.MeterTime)
		meterTime = &v
	}
	var lines [3]*int32
	for i, p := range row.Reading.Lines {
		if p != nil {
			v := p.Value
			lines[i] = &v
		}
	}
	status := "valid"
	var anomalyReason *string
	if anomalous {
		status = "anomalous"
		anomalyReason = &reason
	}

	tag, err := r.db.Exec(ctx, insertReading,
		time.Unix(row.IngestionTimestamp, 0).UTC(),
		meterTime,
		row.Reading.TotalEnergy.Value,
		lines[0],
		lines[1],
		lines[2],
		status,
		anomalyReason,
	)
	if err != nil {
		return fmt.Errorf("failed to insert meter reading: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Debug("reading already mirrored", zap.Int64("ingestion_timestamp", row.IngestionTimestamp))
	}

	return nil
}
