package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/docpulse/internal/aggregation"
)

type Dashboard interface {
	Stats(ctx context.Context) (aggregation.Stats, error)
	Accuracy(ctx context.Context) (map[string]float64, error)
	ExtractedMetrics(ctx context.Context) (aggregation.ExtractedMetrics, error)
	Classifications(ctx context.Context) (aggregation.Counts, error)
}

// DashboardHandler serves each aggregate on its own route so that one failing
// query never hides the others.
type DashboardHandler struct {
	svc    Dashboard
	logger *slog.Logger
}

func NewDashboardHandler(svc Dashboard, logger *slog.Logger) *DashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardHandler{svc: svc, logger: logger}
}

func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		h.fail(w, "stats", "Failed to fetch stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *DashboardHandler) Accuracy(w http.ResponseWriter, r *http.Request) {
	acc, err := h.svc.Accuracy(r.Context())
	if err != nil {
		h.fail(w, "accuracy", "Failed to fetch accuracy", err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (h *DashboardHandler) ExtractedMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.ExtractedMetrics(r.Context())
	if err != nil {
		h.fail(w, "extracted metrics", "Failed to fetch extracted metrics", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *DashboardHandler) Classifications(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Classifications(r.Context())
	if err != nil {
		h.fail(w, "classifications", "Failed to fetch classifications", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *DashboardHandler) fail(w http.ResponseWriter, query, msg string, err error) {
	h.logger.Error("dashboard query failed", "query", query, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msg})
}
