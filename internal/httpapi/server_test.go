package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/septivank/sml-meter-logger/internal/httpapi"
	"github.com/septivank/sml-meter-logger/internal/ingest"
	"github.com/septivank/sml-meter-logger/internal/latest"
	"github.com/septivank/sml-meter-logger/internal/reading"
	"github.com/septivank/sml-meter-logger/internal/store"
)

type fakeDatabase struct {
	result  *store.QueryResult
	err     error
	metrics store.Metrics
	got     string
}

func (f *fakeDatabase) Query(ctx context.Context, statement string) (*store.QueryResult, error) {
	f.got = statement
	return f.result, f.err
}

func (f *fakeDatabase) Metrics(ctx context.Context) (store.Metrics, error) {
	return f.metrics, f.err
}

type fixedStats struct{}

func (fixedStats) Stats() ingest.Stats {
	return ingest.Stats{Frames: 4, ReadingsStored: 3}
}

func newServer(t *testing.T, cache *latest.Cache, db httpapi.Database) http.Handler {
	t.Helper()
	srv, err := httpapi.New(httpapi.Deps{
		Logger:   zap.NewNop(),
		Latest:   cache,
		Database: db,
		Stats:    fixedStats{},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return srv.Handler()
}

func sampleReading() reading.Reading {
	meterTime := uint32(77)
	r := reading.Reading{
		MeterTime:   &meterTime,
		TotalEnergy: &reading.Energy{Value: 12345.6, Unit: reading.WattHour, HasUnit: true},
	}
	r.Lines[0] = &reading.Power{Value: 230, Unit: reading.Watt, HasUnit: true}
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := httpapi.New(httpapi.Deps{}); err == nil {
		t.Error("Expected error for missing deps")
	}
}

func TestRoot(t *testing.T) {
	h := newServer(t, latest.New(), &fakeDatabase{})
	rec := do(t, h, http.MethodGet, "/", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Expected text/plain, got %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "POST /api/query") {
		t.Errorf("Expected help text, got %q", rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("Expected a request ID header")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newServer(t, latest.New(), &fakeDatabase{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("Expected abc-123, got %s", got)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("Expected ok, got %q", rec.Body.String())
	}
}

func TestNow_ConsumesLatestReading(t *testing.T) {
	cache := latest.New()
	h := newServer(t, cache, &fakeDatabase{})

	rec := do(t, h, http.MethodGet, "/now", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("Expected empty body, got %q", rec.Body.String())
	}

	r := sampleReading()
	cache.Publish(r)

	rec = do(t, h, http.MethodGet, "/now", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != r.String() {
		t.Errorf("Expected %q, got %q", r.String(), rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/now", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204 after take, got %d", rec.Code)
	}
}

func TestAPINow(t *testing.T) {
	cache := latest.New()
	h := newServer(t, cache, &fakeDatabase{})

	rec := do(t, h, http.MethodGet, "/api/now", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", rec.Code)
	}

	cache.Publish(sampleReading())
	rec = do(t, h, http.MethodGet, "/api/now", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %s", ct)
	}

	var got reading.Reading
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if got.TotalEnergy == nil || got.TotalEnergy.Value != 12345.6 {
		t.Errorf("Expected total energy 12345.6, got %+v", got.TotalEnergy)
	}
	if got.Lines[1] != nil {
		t.Errorf("Expected line two to be null, got %+v", got.Lines[1])
	}
}

func TestQuery_PassesBodyAsStatement(t *testing.T) {
	db := &fakeDatabase{result: &store.QueryResult{
		Columns:   []string{"n"},
		RowsCount: 1,
		Rows:      [][]store.Cell{{store.IntCell(3)}},
	}}
	h := newServer(t, latest.New(), db)

	rec := do(t, h, http.MethodPost, "/api/query", "SELECT COUNT(*) AS n FROM readings")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if db.got != "SELECT COUNT(*) AS n FROM readings" {
		t.Errorf("Expected statement to be passed through, got %q", db.got)
	}

	var body struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if len(body.Columns) != 1 || body.Columns[0] != "n" {
		t.Errorf("Expected columns [n], got %v", body.Columns)
	}
	if len(body.Rows) != 1 || body.Rows[0][0] != float64(3) {
		t.Errorf("Expected rows [[3]], got %v", body.Rows)
	}
}

func TestQuery_ErrorIsBadRequest(t *testing.T) {
	db := &fakeDatabase{err: &store.QueryError{Err: errors.New("no such table: nope")}}
	h := newServer(t, latest.New(), db)

	rec := do(t, h, http.MethodPost, "/api/query", "SELECT * FROM nope")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", rec.Code)
	}

	var body httpapi.Error
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if !strings.Contains(body.Error, "no such table") {
		t.Errorf("Expected driver message, got %q", body.Error)
	}
}

func TestQuery_BodyTooLarge(t *testing.T) {
	h := newServer(t, latest.New(), &fakeDatabase{})
	rec := do(t, h, http.MethodPost, "/api/query", strings.Repeat("x", 2<<20))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d", rec.Code)
	}
}

func TestQuery_MethodNotAllowed(t *testing.T) {
	h := newServer(t, latest.New(), &fakeDatabase{})
	rec := do(t, h, http.MethodGet, "/api/query", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestMetricsAndStatus(t *testing.T) {
	db := &fakeDatabase{metrics: store.Metrics{Location: "/tmp/db.sqlite3", ReadingsCount: 9, SizeBytes: 4096}}
	h := newServer(t, latest.New(), db)

	rec := do(t, h, http.MethodGet, "/api/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var metrics store.Metrics
	if err := json.Unmarshal(rec.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("Failed to decode metrics: %v", err)
	}
	if metrics.ReadingsCount != 9 {
		t.Errorf("Expected 9 readings, got %d", metrics.ReadingsCount)
	}

	rec = do(t, h, http.MethodGet, "/api/status", "")
	var status httpapi.StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.Ingest == nil || status.Ingest.ReadingsStored != 3 {
		t.Errorf("Expected 3 stored readings, got %+v", status.Ingest)
	}
}

func TestQuery_AgainstReadOnlyStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database.sqlite3")
	s, err := store.Load(path, zap.NewNop())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer s.Close()
	if _, err := s.Insert(context.Background(), sampleReading()); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	ro, err := store.OpenReadOnly(path, zap.NewNop())
	if err != nil {
		t.Fatalf("OpenReadOnly failed: %v", err)
	}
	defer ro.Close()

	h := newServer(t, latest.New(), ro)

	rec := do(t, h, http.MethodPost, "/api/query", "SELECT total_energy, line2 FROM readings")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `"rows":[[12345.6,null]]`) {
		t.Errorf("Expected stored row in %s", body)
	}

	for _, statement := range []string{"DELETE FROM readings", "", "-- comment", "ATTACH ':memory:' AS other"} {
		rec = do(t, h, http.MethodPost, "/api/query", statement)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for %q, got %d", statement, rec.Code)
		}
	}
}

func TestStartAndClose(t *testing.T) {
	srv, err := httpapi.New(httpapi.Deps{
		Addr:     "127.0.0.1:0",
		Logger:   zap.NewNop(),
		Latest:   latest.New(),
		Database: &fakeDatabase{},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
