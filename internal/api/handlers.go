package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"market-pulse/internal/cache"
	"market-pulse/internal/metrics"
	"market-pulse/internal/models"
	"market-pulse/internal/repository"
	"market-pulse/internal/services/alerts"
	"market-pulse/internal/timeframe"

	"github.com/gorilla/mux"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 5000
)

type errorBody struct {
	Error string `json:"error"`
}

type healthBody struct {
	Healthy          bool              `json:"healthy"`
	Version          string            `json:"version"`
	UptimeSeconds    int64             `json:"uptime_seconds"`
	FetchesPerSecond float64           `json:"fetches_per_second"`
	FetchesTotal     int64             `json:"fetches_total"`
	Services         map[string]string `json:"services"`
}

type taskRequest struct {
	Timeframe string `json:"timeframe"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, cache.ErrCacheMiss), errors.Is(err, repository.ErrAlertNotFound):
		status = http.StatusNotFound
	case errors.Is(err, alerts.ErrInvalidAlert), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

var errBadRequest = errors.New("bad request")

func badRequest(msg string) error {
	return &requestError{msg: msg}
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func (e *requestError) Is(target error) bool { return target == errBadRequest }

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := healthBody{
		Healthy:          true,
		Version:          s.deps.Version,
		UptimeSeconds:    int64(time.Since(s.started).Seconds()),
		FetchesPerSecond: metrics.GetFetchesPerSecond(),
		FetchesTotal:     metrics.GetFetchesTotal(),
		Services:         make(map[string]string, len(s.deps.Checks)),
	}
	for name, check := range s.deps.Checks {
		if err := check(r.Context()); err != nil {
			body.Healthy = false
			body.Services[name] = err.Error()
			continue
		}
		body.Services[name] = "healthy"
	}

	status := http.StatusOK
	if !body.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func (s *Server) loadStructure(r *http.Request) (*models.FinalStructure, error) {
	tf := mux.Vars(r)["timeframe"]
	if _, ok := timeframe.Lookup(tf); !ok {
		return nil, badRequest("unsupported timeframe " + strconv.Quote(tf))
	}
	fs, err := s.deps.Structures.Load(r.Context(), tf)
	if err != nil {
		return nil, err
	}
	fs.Sanitize()
	return fs, nil
}

// getStructure serves the cached structure of a timeframe, optionally
// filtered to one instrument with ?symbol=.
func (s *Server) getStructure(w http.ResponseWriter, r *http.Request) {
	fs, err := s.loadStructure(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		series, ok := fs.Find(symbol)
		if !ok {
			fs.Data = []models.InstrumentSeries{}
		} else {
			fs.Data = []models.InstrumentSeries{*series}
		}
	}
	writeJSON(w, http.StatusOK, fs)
}

func (s *Server) getSeries(w http.ResponseWriter, r *http.Request) {
	fs, err := s.loadStructure(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	symbol := mux.Vars(r)["symbol"]
	series, ok := fs.Find(symbol)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "symbol " + strconv.Quote(symbol) + " not in " + fs.Timeframe + " data"})
		return
	}
	writeJSON(w, http.StatusOK, series)
}

// history reads stored records from the snapshot store, newest last.
func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tf := vars["timeframe"]
	if _, ok := timeframe.Lookup(tf); !ok {
		s.writeError(w, badRequest("unsupported timeframe "+strconv.Quote(tf)))
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			s.writeError(w, badRequest("limit must be between 1 and "+strconv.Itoa(maxHistoryLimit)))
			return
		}
		limit = n
	}

	records, err := s.deps.Snapshots.History(r.Context(), vars["symbol"], tf, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// stored rows may carry NaN
	models.SanitizeRecords(records)
	writeJSON(w, http.StatusOK, models.InstrumentSeries{Symbol: vars["symbol"], Data: records})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Snapshots.GetStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) enqueueTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest("invalid JSON body"))
		return
	}
	if _, ok := timeframe.Lookup(req.Timeframe); !ok {
		s.writeError(w, badRequest("unsupported timeframe "+strconv.Quote(req.Timeframe)))
		return
	}

	task, err := s.deps.Tasks.Enqueue(r.Context(), models.Task{Timeframe: req.Timeframe, Source: "api"})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	list, err := s.deps.Alerts.List(r.Context(), activeOnly)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) createAlert(w http.ResponseWriter, r *http.Request) {
	var req models.Alert
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, badRequest("invalid JSON body"))
		return
	}

	alert, err := s.deps.Alerts.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

func (s *Server) getAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.deps.Alerts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) deleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Alerts.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
