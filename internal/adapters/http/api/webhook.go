package api

import (
	"errors"
	"io"
	"net/http"

	service "github.com/okian/encuesta/internal/app"
	"github.com/okian/encuesta/internal/domain/model"
	"github.com/okian/encuesta/pkg/logger"
)

var errNoEntityID = errors.New("no event carries an objectId or entityId")

// WebhookHandler accepts CRM deal webhooks.
type WebhookHandler struct {
	deps         Dependencies
	maxBodyBytes int64
	log          logger.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(deps Dependencies, maxBodyBytes int64, log logger.Logger) *WebhookHandler {
	return &WebhookHandler{deps: deps, maxBodyBytes: maxBodyBytes, log: log}
}

// HandleWebhook handles POST /webhook requests.
// The body is a single event object or an array of them; the batch is
// processed to completion before the response is written.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	const op = "api.webhook"

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", WrapKind(op, ErrBadRequest, err))
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	events, err := model.ParseEvents(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if !model.HasEntityID(events) {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, errNoEntityID))
		return
	}

	result, err := h.deps.Process(r.Context(), events)
	if err != nil {
		h.log.Error(r.Context(), "webhook batch aborted",
			logger.Int("events", len(events)),
			logger.Error(err))
		if errors.Is(err, service.ErrStoreUnavailable) {
			writeError(w, http.StatusInternalServerError, "store_unavailable", WrapKind(op, ErrUnavailable, err))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal", WrapKind(op, ErrInternal, err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}
