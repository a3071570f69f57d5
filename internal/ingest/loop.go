// Package ingest drives the serial byte stream through decoding, extraction
// and storage.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/septivank/sml-meter-logger/internal/anomaly"
	"github.com/septivank/sml-meter-logger/internal/reading"
	"github.com/septivank/sml-meter-logger/internal/sml"
	"github.com/septivank/sml-meter-logger/internal/store"
)

const readBufferSize = 256

// Inserter persists readings.
type Inserter interface {
	Insert(ctx context.Context, r reading.Reading) (store.StoredRow, error)
}

// Publisher receives every successfully decoded reading.
type Publisher interface {
	Publish(r reading.Reading)
}

// Event is a stored reading handed to forwarders.
type Event struct {
	Row     store.StoredRow
	Anomaly anomaly.Result
}

// Forwarder ships stored readings to an external system. Errors are logged
// by the loop and never stop ingestion.
type Forwarder interface {
	Name() string
	Forward(ctx context.Context, event Event) error
}

// Stats are counters of the loop since start.
type Stats struct {
	BytesRead      uint64 `json:"bytes_read"`
	Frames         uint64 `json:"frames"`
	FramingErrors  uint64 `json:"framing_errors"`
	ParseErrors    uint64 `json:"parse_errors"`
	ShapeErrors    uint64 `json:"shape_errors"`
	ReadingsStored uint64 `json:"readings_stored"`
	Duplicates     uint64 `json:"duplicates"`
	Anomalies      uint64 `json:"anomalies"`
	LastStoredAt   int64  `json:"last_stored_at,omitempty"`
}

type counters struct {
	bytesRead      atomic.Uint64
	frames         atomic.Uint64
	framingErrors  atomic.Uint64
	parseErrors    atomic.Uint64
	shapeErrors    atomic.Uint64
	readingsStored atomic.Uint64
	duplicates     atomic.Uint64
	anomalies      atomic.Uint64
	lastStoredAt   atomic.Int64
}

// Loop reads from a source until it fails. It is not restartable.
type Loop struct {
	source     io.Reader
	inserter   Inserter
	publisher  Publisher
	detector   *anomaly.Detector
	forwarders []Forwarder
	logger     *zap.Logger

	decoder *sml.Decoder
	stats   counters
}

// NewLoop creates a loop. detector may be nil to disable anomaly checks.
func NewLoop(source io.Reader, inserter Inserter, publisher Publisher, detector *anomaly.Detector, logger *zap.Logger, forwarders ...Forwarder) *Loop {
	return &Loop{
		source:     source,
		inserter:   inserter,
		publisher:  publisher,
		detector:   detector,
		forwarders: forwarders,
		logger:     logger,
		decoder:    sml.NewDecoder(),
	}
}

// Stats returns a snapshot of the loop counters. Safe for concurrent use.
func (l *Loop) Stats() Stats {
	return Stats{
		BytesRead:      l.stats.bytesRead.Load(),
		Frames:         l.stats.frames.Load(),
		FramingErrors:  l.stats.framingErrors.Load(),
		ParseErrors:    l.stats.parseErrors.Load(),
		ShapeErrors:    l.stats.shapeErrors.Load(),
		ReadingsStored: l.stats.readingsStored.Load(),
		Duplicates:     l.stats.duplicates.Load(),
		Anomalies:      l.stats.anomalies.Load(),
		LastStoredAt:   l.stats.lastStoredAt.Load(),
	}
}

// Run reads the source until a read or store error occurs. It returns nil
// when ctx has been cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("ingestion loop started", zap.Int("forwarders", len(l.forwarders)))

	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			l.logger.Info("ingestion loop stopped")
			return nil
		}

		n, err := l.source.Read(buf)
		if n > 0 {
			l.stats.bytesRead.Add(uint64(n))
			for _, b := range buf[:n] {
				if err := l.push(ctx, b); err != nil {
					if ctx.Err() != nil {
						l.logger.Info("ingestion loop stopped")
						return nil
					}
					return err
				}
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info("ingestion loop stopped")
				return nil
			}
			return fmt.Errorf("failed to read from source: %w", err)
		}
		// A zero-byte read without error is a read timeout.
	}
}

func (l *Loop) push(ctx context.Context, b byte) error {
	payload, err := l.decoder.PushByte(b)
	if err != nil {
		l.stats.framingErrors.Add(1)
		l.logger.Debug("framing error", zap.Error(err))
		return nil
	}
	if payload == nil {
		return nil
	}
	l.stats.frames.Add(1)

	file, err := sml.Parse(payload)
	if err != nil {
		l.stats.parseErrors.Add(1)
		l.logger.Debug("failed to parse frame", zap.Error(err), zap.Int("payload_size", len(payload)))
		return nil
	}

	r, err := reading.Extract(file, l.logger)
	if err != nil {
		l.stats.shapeErrors.Add(1)
		l.logger.Debug("unexpected file shape", zap.Error(err))
		return nil
	}

	return l.handle(ctx, r)
}

func (l *Loop) handle(ctx context.Context, r reading.Reading) error {
	row, err := l.inserter.Insert(ctx, r)
	if errors.Is(err, store.ErrMissingTotalEnergy) {
		l.logger.Warn("reading without total energy not stored", zap.String("reading", r.Compact()))
		l.publisher.Publish(r)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to store reading: %w", err)
	}

	l.publisher.Publish(r)

	if row.Duplicate {
		l.stats.duplicates.Add(1)
		return nil
	}
	l.stats.readingsStored.Add(1)
	l.stats.lastStoredAt.Store(row.IngestionTimestamp)

	l.logger.Info("reading stored",
		zap.String("reading", r.Compact()),
		zap.Int64("ingestion_timestamp", row.IngestionTimestamp))

	event := Event{Row: row}
	if l.detector != nil {
		event.Anomaly = l.detector.Observe(r)
		if event.Anomaly.Anomalous {
			l.stats.anomalies.Add(1)
			l.logger.Warn("anomalous reading",
				zap.String("reason", event.Anomaly.Reason),
				zap.Int64("ingestion_timestamp", row.IngestionTimestamp))
		}
	}

	for _, f := range l.forwarders {
		start := time.Now()
		if err := f.Forward(ctx, event); err != nil {
			l.logger.Error("failed to forward reading",
				zap.String("forwarder", f.Name()),
				zap.Error(err))
			continue
		}
		l.logger.Debug("reading forwarded",
			zap.String("forwarder", f.Name()),
			zap.Duration("took", time.Since(start)))
	}
	return nil
}
