package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap"

	"github.com/septivank/sml-meter-logger/internal/config"
	"github.com/septivank/sml-meter-logger/internal/serialport"
	"github.com/septivank/sml-meter-logger/internal/store"
)

var exportHeader = []string{"ingestion_timestamp", "meter_time", "total_energy", "line1", "line2", "line3"}

func runDatabase(cfg *config.Config, logger *zap.Logger, out io.Writer) error {
	s, err := store.Load(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	metrics, err := s.Metrics(context.Background())
	if err != nil {
		return err
	}

	fmt.Fprintln(out, metrics)
	return nil
}

func runExport(cfg *config.Config, logger *zap.Logger, out io.Writer) error {
	s, err := store.Load(cfg.Database.Path, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	return exportCSV(context.Background(), s, out)
}

func exportCSV(ctx context.Context, s *store.Store, out io.Writer) error {
	rows, err := s.List(ctx)
	if err != nil {
		return err
	}
	defer rows.Close()

	w := csv.NewWriter(out)
	if err := w.Write(exportHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for rows.Next() {
		row := rows.Row()
		r := row.Reading

		record := make([]string, 0, len(exportHeader))
		record = append(record, strconv.FormatInt(row.IngestionTimestamp, 10))
		if r.MeterTime != nil {
			record = append(record, strconv.FormatUint(uint64(*r.MeterTime), 10))
		} else {
			record = append(record, "")
		}
		record = append(record, strconv.FormatFloat(r.TotalEnergy.Value, 'f', -1, 64))
		for _, line := range r.Lines {
			if line != nil {
				record = append(record, strconv.FormatInt(int64(line.Value), 10))
			} else {
				record = append(record, "")
			}
		}

		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	w.Flush()
	return w.Error()
}

func runListPorts(out io.Writer) error {
	ports, err := serialport.List()
	if err != nil {
		return err
	}

	if len(ports) == 0 {
		fmt.Fprintln(out, "No ports available.")
		return nil
	}
	for _, p := range ports {
		fmt.Fprintln(out, p)
	}
	return nil
}
