package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"dealerscan/models"
)

type handler struct {
	deps   Deps
	logger *zap.Logger
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

type response struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
	Meta    any  `json:"meta,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, code int, kind string, err error) {
	render.Status(r, code)
	render.JSON(w, r, errorResponse{Error: kind, Code: code, Message: err.Error()})
}

func writeOK(w http.ResponseWriter, r *http.Request, code int, data, meta any) {
	render.Status(r, code)
	render.JSON(w, r, response{Success: true, Data: data, Meta: meta})
}

// statusFor maps domain errors onto HTTP codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrConfigInvalid):
		return http.StatusBadRequest, "invalid_config"
	case errors.Is(err, models.ErrCycleAlreadyRunning):
		return http.StatusConflict, "cycle_running"
	case errors.Is(err, models.ErrListingNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrAlreadyPublished):
		return http.StatusConflict, "already_published"
	case errors.Is(err, models.ErrListingSold):
		return http.StatusConflict, "listing_sold"
	case errors.Is(err, models.ErrNotAuthenticated), errors.Is(err, models.ErrAuthExpired):
		return http.StatusUnauthorized, "auth_required"
	case models.PublishErrorKindOf(err) == models.PublishRejected:
		return http.StatusUnprocessableEntity, "publish_rejected"
	}
	return http.StatusBadGateway, "upstream_error"
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, http.StatusOK, h.deps.Scanner.Status(), map[string]any{
		"listings": h.deps.Store.CountByStatus(),
	})
}

func (h *handler) scan(w http.ResponseWriter, r *http.Request) {
	err := h.deps.Scanner.StartCycle(context.WithoutCancel(r.Context()))
	if err != nil {
		code, kind := statusFor(err)
		writeError(w, r, code, kind, err)
		return
	}
	writeOK(w, r, http.StatusAccepted, map[string]string{"message": "scan started"}, nil)
}

func (h *handler) pause(w http.ResponseWriter, r *http.Request) {
	h.deps.Scanner.Pause()
	writeOK(w, r, http.StatusOK, h.deps.Scanner.Status(), nil)
}

func (h *handler) resume(w http.ResponseWriter, r *http.Request) {
	h.deps.Scanner.Resume()
	writeOK(w, r, http.StatusOK, h.deps.Scanner.Status(), nil)
}

func (h *handler) getConfig(w http.ResponseWriter, r *http.Request) {
	writeOK(w, r, http.StatusOK, h.deps.Scanner.Config(), nil)
}

// putConfig merges the body over the current config, so clients may send
// only the fields they change.
func (h *handler) putConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.deps.Scanner.Config()
	if err := render.DecodeJSON(r.Body, &cfg); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", err)
		return
	}
	if err := h.deps.Scanner.UpdateConfig(cfg); err != nil {
		code, kind := statusFor(err)
		writeError(w, r, code, kind, err)
		return
	}

	writeOK(w, r, http.StatusOK, h.deps.Scanner.Config(), nil)
}

func (h *handler) runs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		writeOK(w, r, http.StatusOK, []models.ScanRun{}, nil)
		return
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit < 1 || limit > 100 {
		limit = 20
	}
	runs, err := h.deps.Runs.RecentRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to load runs", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeOK(w, r, http.StatusOK, runs, nil)
}

func (h *handler) listListings(w http.ResponseWriter, r *http.Request) {
	status := models.ListingStatus(r.URL.Query().Get("status"))
	all := h.deps.Store.All()

	out := make([]models.Listing, 0, len(all))
	for _, l := range all {
		if status != "" && l.Status != status {
			continue
		}
		out = append(out, l)
	}
	writeOK(w, r, http.StatusOK, out, map[string]int{"total": len(out)})
}

func (h *handler) getListing(w http.ResponseWriter, r *http.Request) {
	l, ok := h.deps.Store.GetByID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "not_found", models.ErrListingNotFound)
		return
	}
	writeOK(w, r, http.StatusOK, l, nil)
}

func (h *handler) publishListing(w http.ResponseWriter, r *http.Request) {
	l, ok := h.deps.Store.GetByID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "not_found", models.ErrListingNotFound)
		return
	}

	published, err := h.deps.Scanner.PublishOne(r.Context(), l.Key)
	if err != nil {
		code, kind := statusFor(err)
		h.logger.Warn("manual publish failed", zap.String("key", l.Key), zap.Error(err))
		writeError(w, r, code, kind, err)
		return
	}
	writeOK(w, r, http.StatusOK, published, nil)
}
