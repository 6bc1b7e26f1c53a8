package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"market-pulse/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type StructureReader interface {
	Load(ctx context.Context, tf string) (*models.FinalStructure, error)
}

type TaskEnqueuer interface {
	Enqueue(ctx context.Context, task models.Task) (models.Task, error)
}

type AlertManager interface {
	Create(ctx context.Context, alert models.Alert) (*models.Alert, error)
	Get(ctx context.Context, id string) (*models.Alert, error)
	List(ctx context.Context, activeOnly bool) ([]models.Alert, error)
	Delete(ctx context.Context, id string) error
}

// SnapshotReader is satisfied by repository.SnapshotRepository.
type SnapshotReader interface {
	History(ctx context.Context, symbol, tf string, limit int) ([]models.MergedRecord, error)
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// UpdateSubscriber is satisfied by pubsub.Publisher.
type UpdateSubscriber interface {
	SubscribeUpdates(ctx context.Context) (<-chan string, func() error)
}

// Deps are the services behind the routes. Alerts, Snapshots and Updates may
// be nil, in which case their routes are not registered.
type Deps struct {
	Structures StructureReader
	Tasks      TaskEnqueuer
	Alerts     AlertManager
	Snapshots  SnapshotReader
	Updates    UpdateSubscriber
	// Checks are run by /health; a failing check marks the service unhealthy.
	Checks  map[string]func(ctx context.Context) error
	Version string
}

type Server struct {
	router  *mux.Router
	server  *http.Server
	deps    Deps
	started time.Time
	logger  *logrus.Logger
}

func NewServer(deps Deps, port int, logger *logrus.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		deps:    deps,
		started: time.Now(),
		logger:  logger,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.requestLoggingMiddleware)

	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/data/{timeframe}", s.getStructure).Methods(http.MethodGet)
	api.HandleFunc("/data/{timeframe}/{symbol:.+}", s.getSeries).Methods(http.MethodGet)
	api.HandleFunc("/tasks", s.enqueueTask).Methods(http.MethodPost)

	if s.deps.Alerts != nil {
		api.HandleFunc("/alerts", s.listAlerts).Methods(http.MethodGet)
		api.HandleFunc("/alerts", s.createAlert).Methods(http.MethodPost)
		api.HandleFunc("/alerts/{id}", s.getAlert).Methods(http.MethodGet)
		api.HandleFunc("/alerts/{id}", s.deleteAlert).Methods(http.MethodDelete)
	}
	if s.deps.Snapshots != nil {
		api.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
		api.HandleFunc("/history/{timeframe}/{symbol:.+}", s.history).Methods(http.MethodGet)
	}
	if s.deps.Updates != nil {
		api.HandleFunc("/stream", s.stream).Methods(http.MethodGet)
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "route not found"})
	})
}

// Start blocks serving HTTP until Shutdown
func (s *Server) Start() error {
	s.logger.Infof("HTTP server starting on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.WithFields(logrus.Fields{
			"request_id": requestID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"latency_ms": time.Since(start).Milliseconds(),
		}).Debug("HTTP request")
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.WithFields(logrus.Fields{
					"path":  r.URL.Path,
					"panic": fmt.Sprint(rec),
				}).Error("Recovered from handler panic")
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
