package ingest_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/septivank/sml-meter-logger/internal/anomaly"
	"github.com/septivank/sml-meter-logger/internal/ingest"
	"github.com/septivank/sml-meter-logger/internal/latest"
	"github.com/septivank/sml-meter-logger/internal/reading"
	"github.com/septivank/sml-meter-logger/internal/sml/smltest"
	"github.com/septivank/sml-meter-logger/internal/store"
)

func meterFrame(energy uint64, power int64) []byte {
	return smltest.Frame(smltest.MeterFile(
		smltest.ListEntry(smltest.Entry{
			ObjName: []byte{1, 0, 1, 8, 0, 255},
			ValTime: smltest.SecIndex(uint32(energy)),
			Unit:    smltest.Ptr[uint8](30),
			Scaler:  smltest.Ptr[int8](-1),
			Value:   smltest.Unsigned(energy, 8),
		}),
		smltest.ListEntry(smltest.Entry{
			ObjName: []byte{1, 0, 36, 7, 0, 255},
			Unit:    smltest.Ptr[uint8](27),
			Scaler:  smltest.Ptr[int8](0),
			Value:   smltest.Signed(power, 4),
		}),
	))
}

// tickingClock advances one second per call so every insert gets its own
// ingestion timestamp.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Unix(1700000000, 0)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newStore(t *testing.T, opts ...store.Option) *store.Store {
	t.Helper()
	s, err := store.Load(filepath.Join(t.TempDir(), "database.sqlite3"), zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type recordingForwarder struct {
	events []ingest.Event
	err    error
}

func (f *recordingForwarder) Name() string { return "recording" }

func (f *recordingForwarder) Forward(_ context.Context, event ingest.Event) error {
	f.events = append(f.events, event)
	return f.err
}

// timeoutReader yields a zero-byte read before every chunk like a serial port
// with a read timeout.
type timeoutReader struct {
	chunks  [][]byte
	timeout bool
}

func (r *timeoutReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	if !r.timeout {
		r.timeout = true
		return 0, nil
	}
	r.timeout = false
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestLoop_EndToEnd(t *testing.T) {
	s := newStore(t, store.WithClock(tickingClock()))
	cache := latest.New()
	fwd := &recordingForwarder{}

	corrupt := meterFrame(1, 1)
	corrupt[len(corrupt)-1] ^= 0xff

	var stream []byte
	stream = append(stream, 0x42, 0x00, 0x13)
	stream = append(stream, meterFrame(123456, 100)...)
	stream = append(stream, corrupt...)
	stream = append(stream, smltest.Frame([]byte{0x76, 0x01})...)
	stream = append(stream, meterFrame(123460, 120)...)

	loop := ingest.NewLoop(bytes.NewReader(stream), s, cache, nil, zaptest.NewLogger(t), fwd)
	err := loop.Run(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Expected the loop to end with EOF, got %v", err)
	}

	stats := loop.Stats()
	if stats.ReadingsStored != 2 {
		t.Errorf("Expected 2 stored readings, got %d", stats.ReadingsStored)
	}
	if stats.Frames != 3 {
		t.Errorf("Expected 3 frames, got %d", stats.Frames)
	}
	if stats.ParseErrors != 1 {
		t.Errorf("Expected 1 parse error, got %d", stats.ParseErrors)
	}
	if stats.FramingErrors < 2 {
		t.Errorf("Expected framing errors for garbage and bad checksum, got %d", stats.FramingErrors)
	}
	if stats.BytesRead != uint64(len(stream)) {
		t.Errorf("Expected %d bytes read, got %d", len(stream), stats.BytesRead)
	}

	got, ok := cache.Take()
	if !ok {
		t.Fatal("Expected a cached reading")
	}
	if got.TotalEnergy.Value != 12346.0 || got.TotalEnergy.Unit != reading.WattHour {
		t.Errorf("Expected latest reading 12346 Wh, got %+v", got.TotalEnergy)
	}

	if len(fwd.events) != 2 {
		t.Fatalf("Expected 2 forwarded events, got %d", len(fwd.events))
	}
	first := fwd.events[0].Row
	if first.Reading.TotalEnergy.Value != 12345.6 {
		t.Errorf("Expected 12345.6, got %v", first.Reading.TotalEnergy.Value)
	}
	if first.Reading.Lines[0] == nil || first.Reading.Lines[0].Value != 100 {
		t.Errorf("Expected line one 100, got %+v", first.Reading.Lines[0])
	}

	m, err := s.Metrics(context.Background())
	if err != nil {
		t.Fatalf("Metrics failed: %v", err)
	}
	if m.ReadingsCount != 2 {
		t.Errorf("Expected 2 rows, got %d", m.ReadingsCount)
	}
}

func TestLoop_ZeroByteReadsContinue(t *testing.T) {
	s := newStore(t, store.WithClock(tickingClock()))
	cache := latest.New()

	frame := meterFrame(10, 1)
	source := &timeoutReader{chunks: [][]byte{frame[:7], frame[7:20], frame[20:]}}

	loop := ingest.NewLoop(source, s, cache, nil, zap.NewNop())
	if err := loop.Run(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Expected EOF, got %v", err)
	}
	if loop.Stats().ReadingsStored != 1 {
		t.Errorf("Expected 1 stored reading, got %d", loop.Stats().ReadingsStored)
	}
}

func TestLoop_DuplicatesAreCachedButNotForwarded(t *testing.T) {
	frozen := time.Unix(1700000000, 0)
	s := newStore(t, store.WithClock(func() time.Time { return frozen }))
	cache := latest.New()
	fwd := &recordingForwarder{}

	stream := append(meterFrame(10, 1), meterFrame(20, 2)...)
	loop := ingest.NewLoop(bytes.NewReader(stream), s, cache, nil, zap.NewNop(), fwd)
	if err := loop.Run(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Expected EOF, got %v", err)
	}

	stats := loop.Stats()
	if stats.ReadingsStored != 1 || stats.Duplicates != 1 {
		t.Errorf("Expected 1 stored and 1 duplicate, got %+v", stats)
	}
	if len(fwd.events) != 1 {
		t.Errorf("Expected 1 forwarded event, got %d", len(fwd.events))
	}
	got, ok := cache.Take()
	if !ok || got.TotalEnergy.Value != 2 {
		t.Errorf("Expected duplicate reading in cache, got %+v", got.TotalEnergy)
	}
}

func TestLoop_MissingTotalEnergyIsTransient(t *testing.T) {
	s := newStore(t, store.WithClock(tickingClock()))
	cache := latest.New()
	fwd := &recordingForwarder{}

	linesOnly := smltest.Frame(smltest.MeterFile(smltest.ListEntry(smltest.Entry{
		ObjName: []byte{1, 0, 56, 7, 0, 255},
		Value:   smltest.Signed(42, 4),
	})))

	loop := ingest.NewLoop(bytes.NewReader(linesOnly), s, cache, nil, zap.NewNop(), fwd)
	if err := loop.Run(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Expected EOF, got %v", err)
	}

	if len(fwd.events) != 0 {
		t.Errorf("Expected no forwarded events, got %d", len(fwd.events))
	}
	got, ok := cache.Take()
	if !ok || got.Lines[1] == nil || got.Lines[1].Value != 42 {
		t.Errorf("Expected cached reading with line two, got %+v", got)
	}
}

func TestLoop_ForwarderErrorsAreNotFatal(t *testing.T) {
	s := newStore(t, store.WithClock(tickingClock()))
	fwd := &recordingForwarder{err: errors.New("broker unavailable")}

	stream := append(meterFrame(10, 1), meterFrame(20, 2)...)
	loop := ingest.NewLoop(bytes.NewReader(stream), s, latest.New(), nil, zap.NewNop(), fwd)
	if err := loop.Run(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Expected EOF, got %v", err)
	}
	if len(fwd.events) != 2 {
		t.Errorf("Expected both readings to reach the forwarder, got %d", len(fwd.events))
	}
}

func TestLoop_AnomaliesAnnotateEvents(t *testing.T) {
	s := newStore(t, store.WithClock(tickingClock()))
	fwd := &recordingForwarder{}
	detector := anomaly.NewDetector(3, 3, 10)

	var stream []byte
	for _, energy := range []uint64{100, 110, 120, 50} {
		stream = append(stream, meterFrame(energy, 10)...)
	}

	loop := ingest.NewLoop(bytes.NewReader(stream), s, latest.New(), detector, zap.NewNop(), fwd)
	if err := loop.Run(context.Background()); !errors.Is(err, io.EOF) {
		t.Fatalf("Expected EOF, got %v", err)
	}

	if len(fwd.events) != 4 {
		t.Fatalf("Expected 4 events, got %d", len(fwd.events))
	}
	if fwd.events[2].Anomaly.Anomalous {
		t.Errorf("Expected third reading to be normal, got %s", fwd.events[2].Anomaly.Reason)
	}
	if !fwd.events[3].Anomaly.Anomalous {
		t.Error("Expected counter regression on the last reading")
	}
	if loop.Stats().Anomalies != 1 {
		t.Errorf("Expected 1 anomaly, got %d", loop.Stats().Anomalies)
	}
}

type failingInserter struct{}

func (failingInserter) Insert(context.Context, reading.Reading) (store.StoredRow, error) {
	return store.StoredRow{}, errors.New("disk full")
}

func TestLoop_StoreErrorIsFatal(t *testing.T) {
	loop := ingest.NewLoop(bytes.NewReader(meterFrame(10, 1)), failingInserter{}, latest.New(), nil, zap.NewNop())

	err := loop.Run(context.Background())
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("Expected store error, got %v", err)
	}
}

type blockingReader struct {
	cancel context.CancelFunc
}

func (r blockingReader) Read([]byte) (int, error) {
	r.cancel()
	return 0, errors.New("port closed")
}

func TestLoop_ReadErrorAfterCancelIsClean(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := ingest.NewLoop(blockingReader{cancel: cancel}, failingInserter{}, latest.New(), nil, zap.NewNop())
	if err := loop.Run(ctx); err != nil {
		t.Errorf("Expected nil after cancellation, got %v", err)
	}
}
