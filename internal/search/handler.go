package search

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/listenlab/artistrank/internal/model"
	"github.com/listenlab/artistrank/pkg/errors"
	"github.com/listenlab/artistrank/pkg/middleware"
)

// Handler exposes the artist search endpoint.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler creates a Handler around the search service.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service: service,
		logger:  slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the search routes on the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search/artist", h.handleSearch)
}

type searchResponse struct {
	Total   int                    `json:"total"`
	Results []model.ArtistDocument `json:"results"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := Params{
		Term:   q.Get("q"),
		UserID: q.Get("userid"),
	}

	var err error
	if params.From, err = intParam(q.Get("from"), 0); err != nil {
		h.writeError(w, r, errors.Newf(errors.ErrInvalidInput, http.StatusBadRequest, "from must be an integer, got %q", q.Get("from")))
		return
	}
	if params.Size, err = intParam(q.Get("size"), 0); err != nil {
		h.writeError(w, r, errors.Newf(errors.ErrInvalidInput, http.StatusBadRequest, "size must be an integer, got %q", q.Get("size")))
		return
	}
	if params.IncludeRanking, err = boolParam(q.Get("includeRanking")); err != nil {
		h.writeError(w, r, errors.Newf(errors.ErrInvalidInput, http.StatusBadRequest, "includeRanking must be a boolean, got %q", q.Get("includeRanking")))
		return
	}
	if params.IncludeUserProfile, err = boolParam(q.Get("includeUserProfile")); err != nil {
		h.writeError(w, r, errors.Newf(errors.ErrInvalidInput, http.StatusBadRequest, "includeUserProfile must be a boolean, got %q", q.Get("includeUserProfile")))
		return
	}

	docs, err := h.service.Search(r.Context(), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, searchResponse{
		Total:   len(docs),
		Results: docs,
	})
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func boolParam(raw string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	return strconv.ParseBool(raw)
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
