package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/septivank/sml-meter-logger/internal/reading"
)

// Rows is a forward-only cursor over stored readings. It holds the writer
// connection until Close is called.
type Rows struct {
	rows *sql.Rows
	cur  StoredRow
	err  error
}

// List returns a cursor over all stored readings in storage order.
func (s *Store) List(ctx context.Context) (*Rows, error) {
	query := `
		SELECT meter_time, ingestion_timestamp, total_energy, line1, line2, line3
		FROM readings
		ORDER BY rowid
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	return &Rows{rows: rows}, nil
}

// Next advances to the next row. It returns false at the end or after a scan
// error, which is then reported by Err.
func (r *Rows) Next() bool {
	if r.err != nil || !r.rows.Next() {
		return false
	}

	var (
		meterTime sql.NullInt64
		timestamp int64
		energy    float64
		lines     [3]sql.NullInt64
	)
	if err := r.rows.Scan(&meterTime, &timestamp, &energy, &lines[0], &lines[1], &lines[2]); err != nil {
		r.err = fmt.Errorf("failed to scan reading: %w", err)
		return false
	}

	// Units are not stored; stored values always use the canonical units.
	row := StoredRow{IngestionTimestamp: timestamp}
	row.Reading.TotalEnergy = &reading.Energy{Value: energy, Unit: reading.WattHour, HasUnit: true}
	if meterTime.Valid {
		t := uint32(meterTime.Int64)
		row.Reading.MeterTime = &t
	}
	for i, l := range lines {
		if l.Valid {
			row.Reading.Lines[i] = &reading.Power{Value: int32(l.Int64), Unit: reading.Watt, HasUnit: true}
		}
	}
	r.cur = row
	return true
}

// Row returns the current row.
func (r *Rows) Row() StoredRow {
	return r.cur
}

// Err returns the error that stopped iteration, if any.
func (r *Rows) Err() error {
	if r.err != nil {
		return r.err
	}
	if err := r.rows.Err(); err != nil {
		return fmt.Errorf("rows iteration error: %w", err)
	}
	return nil
}

// Close releases the cursor.
func (r *Rows) Close() error {
	return r.rows.Close()
}
