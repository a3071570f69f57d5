package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/septivank/sml-meter-logger/internal/ingest"
	"github.com/septivank/sml-meter-logger/internal/logging"
	"github.com/septivank/sml-meter-logger/internal/store"
)

const helpText = `Service is running.

GET /now - get the latest meter reading
GET /api/now - get the latest meter reading as JSON
POST /api/query - query the database with readonly SQLite statements
`

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Status        string        `json:"status"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Ingest        *ingest.Stats `json:"ingest,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, helpText)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok")
}

func (s *Server) handleNow(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	latest, ok := s.latest.Take()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, latest.String())
}

func (s *Server) handleAPINow(w http.ResponseWriter, r *http.Request) {
	latest, ok := s.latest.Take()
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	result, err := s.database.Query(r.Context(), string(body))
	if err != nil {
		logging.WithRequestID(s.logger, requestIDFrom(r.Context())).Debug("query rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := s.database.Metrics(r.Context())
	if err != nil {
		logging.WithRequestID(s.logger, requestIDFrom(r.Context())).Error("failed to collect database metrics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to collect database metrics")
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if s.stats != nil {
		stats := s.stats.Stats()
		resp.Ingest = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

var _ Database = (*store.ReadOnly)(nil)
