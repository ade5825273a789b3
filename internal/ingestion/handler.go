package ingestion

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/listenlab/artistrank/internal/model"
	"github.com/listenlab/artistrank/pkg/errors"
	"github.com/listenlab/artistrank/pkg/middleware"
)

// Handler exposes the listen-event ingestion endpoint.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a Handler around the ingestion service.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service: service,
		logger:  slog.Default().With("component", "ingestion-handler"),
	}
}

// Register mounts the ingestion routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/events/listen", h.handleListen)
}

type acceptedResponse struct {
	Status string            `json:"status"`
	Count  int               `json:"count"`
	Event  model.ListenEvent `json:"event"`
}

// handleListen accepts one listen event, optionally repeated via the count
// query parameter, and publishes it to the event topic.
func (h *Handler) handleListen(w http.ResponseWriter, r *http.Request) {
	var event model.ListenEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		h.writeError(w, r, errors.Newf(errors.ErrInvalidInput, http.StatusBadRequest, "malformed event body: %v", err))
		return
	}

	count := 1
	if raw := r.URL.Query().Get("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, errors.Newf(errors.ErrInvalidInput, http.StatusBadRequest, "count must be an integer, got %q", raw))
			return
		}
		count = parsed
	}

	stamped, err := h.service.Accept(r.Context(), event, count)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, acceptedResponse{
		Status: "accepted",
		Count:  count,
		Event:  stamped,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("writing response failed", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", middleware.GetRequestID(r.Context()),
			"error", err,
		)
	}
	h.writeJSON(w, status, map[string]string{
		"error":      err.Error(),
		"request_id": middleware.GetRequestID(r.Context()),
	})
}
