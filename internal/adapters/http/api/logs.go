package api

import (
	"net/http"

	"github.com/okian/encuesta/internal/domain/model"
	"github.com/okian/encuesta/pkg/logger"
)

// LogsHandler reports today's per-concept counters.
type LogsHandler struct {
	deps Dependencies
	log  logger.Logger
}

// NewLogsHandler creates a new logs handler.
func NewLogsHandler(deps Dependencies, log logger.Logger) *LogsHandler {
	return &LogsHandler{deps: deps, log: log}
}

// HandleLogs handles GET /logs requests.
func (h *LogsHandler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	const op = "api.logs"
	counters, err := h.deps.DailyCounters(r.Context())
	if err != nil {
		h.log.Error(r.Context(), "daily counters query failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "store_unavailable", WrapKind(op, ErrUnavailable, err))
		return
	}
	if counters == nil {
		counters = []model.ConceptCounter{}
	}
	writeJSON(w, http.StatusOK, counters)
}
