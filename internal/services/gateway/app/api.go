package app

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/logging"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/entities"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/model/messages"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/observability/metrics"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/scheduler"
	"github.com/LeonardoBeccarini/irrigation_scheduler/internal/services/event"
)

// Scheduler is the engine surface the HTTP API drives.
type Scheduler interface {
	EvaluateTick(ctx context.Context) ([]messages.Event, error)
	RequestManualValve(ctx context.Context, fieldID string, mode entities.ValveMode) (entities.Field, error)
	SetSchedule(ctx context.Context, fieldID string, s entities.Schedule) ([]messages.Event, error)
	CancelSchedule(ctx context.Context, fieldID string) ([]messages.Event, error)
	GlobalSchedule() *entities.Schedule
	EngagedScope(fieldID string) (entities.ScheduleScope, bool)
}

// ServerDeps wires the dashboard API. Engine, Fields and Logs are required.
type ServerDeps struct {
	Engine        Scheduler
	Fields        scheduler.FieldStore
	Logs          scheduler.LogStore
	History       *event.History
	Events        http.Handler // archived events, optional
	Health        event.HealthDeps
	Gatherer      prometheus.Gatherer
	Metrics       *metrics.TransportMetrics
	Clock         func() time.Time
	AllowedOrigin []string
	Timeout       time.Duration
	Logger        *slog.Logger

	// MoistureCritical marks fields as critical on the dashboard, default 30.
	MoistureCritical float64
}

// Server exposes scheduling operations to the dashboard over REST.
type Server struct {
	ServerDeps
	log *slog.Logger
}

func NewServer(d ServerDeps) *Server {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Timeout <= 0 {
		d.Timeout = 10 * time.Second
	}
	if d.MoistureCritical <= 0 {
		d.MoistureCritical = 30
	}
	if len(d.AllowedOrigin) == 0 {
		d.AllowedOrigin = []string{"http://localhost:5173", "http://127.0.0.1:5173", "http://localhost:3000"}
	}
	return &Server{ServerDeps: d, log: logging.OrDiscard(d.Logger)}
}

// Routes wires middlewares and endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Use(middleware.Timeout(s.Timeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.AllowedOrigin,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Handle("/healthz", event.NewHealthHandler(s.Health))
	r.Handle("/readyz", event.NewReadyHandler(s.Health, 2*time.Second))
	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(api chi.Router) {
		api.Route("/fields", func(fr chi.Router) {
			fr.Get("/", s.handleListFields)
			fr.Get("/{id}", s.handleGetField)
			fr.Put("/{id}/valve", s.handleSetValve)
			fr.Put("/{id}/schedule", s.handleSetSchedule)
			fr.Delete("/{id}/schedule", s.handleCancelSchedule)
		})
		api.Get("/schedule", s.handleGetGlobal)
		api.Put("/schedule", s.handleSetSchedule)
		api.Delete("/schedule", s.handleCancelSchedule)
		api.Post("/tick", s.handleTick)
		api.Get("/watering-logs", s.handleListLogs)
		api.Get("/dashboard", s.handleDashboard)
		api.Get("/notifications", s.handleNotifications)
		if s.Events != nil {
			api.Handle("/events", s.Events)
		}
	})
	return r
}

// instrument logs each request and counts it by route pattern and status.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.Metrics.HTTPRequest(r.Method+" "+route, status)
		s.log.Debug("http request", "method", r.Method, "route", route,
			"status", status, "ms", strconv.FormatInt(time.Since(start).Milliseconds(), 10),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
