// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/encuesta/internal/domain/model"
	"github.com/okian/encuesta/pkg/logger"
)

const defaultMaxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers.
type Dependencies interface {
	// Process runs a webhook batch to completion.
	Process(ctx context.Context, events []model.Event) (model.BatchResult, error)
	// DailyCounters returns today's per-concept counters.
	DailyCounters(ctx context.Context) ([]model.ConceptCounter, error)
	// Ready reports whether the eligibility store is reachable.
	Ready(ctx context.Context) error
}

// Server wires HTTP routes for the eligibility API.
type Server struct {
	webhookHandler *WebhookHandler
	logsHandler    *LogsHandler
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
}

// Option configures a Server.
type Option func(*serverOptions)

type serverOptions struct {
	maxBodyBytes int64
	log          logger.Logger
}

// WithMaxBodyBytes caps the webhook request body.
func WithMaxBodyBytes(n int64) Option {
	return func(o *serverOptions) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// WithLogger sets the handler logger.
func WithLogger(l logger.Logger) Option {
	return func(o *serverOptions) {
		if l != nil {
			o.log = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	o := serverOptions{maxBodyBytes: defaultMaxBodyBytes, log: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{
		webhookHandler: NewWebhookHandler(deps, o.maxBodyBytes, o.log),
		logsHandler:    NewLogsHandler(deps, o.log),
		healthHandler:  NewHealthHandler(deps),
		statsHandler:   NewStatsHandler(statsProvider),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	webhook := MetricsMiddleware(s.webhookHandler.HandleWebhook, "webhook")
	mux.HandleFunc("POST /webhook", webhook)
	mux.HandleFunc("POST /api/webhook", webhook)

	logs := MetricsMiddleware(s.logsHandler.HandleLogs, "logs")
	mux.HandleFunc("GET /logs", logs)
	mux.HandleFunc("GET /api/logs", logs)

	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("GET /readyz", MetricsMiddleware(s.healthHandler.HandleReady, "readyz"))
	mux.HandleFunc("GET /metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
