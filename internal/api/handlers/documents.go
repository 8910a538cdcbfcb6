package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/nikhilbhutani/docpulse/internal/export"
	"github.com/nikhilbhutani/docpulse/internal/ingestion"
	"github.com/nikhilbhutani/docpulse/internal/models"
	"github.com/nikhilbhutani/docpulse/internal/queue"
	"github.com/nikhilbhutani/docpulse/internal/store"
)

const defaultRecentLimit = 20

type Ingester interface {
	Ingest(ctx context.Context, up ingestion.Upload) (*models.DocumentRecord, error)
}

type RecentLister interface {
	Recent(ctx context.Context, f store.Filter, limit int) ([]models.DocumentSummary, error)
}

type Enqueuer interface {
	EnqueueReprocess(ctx context.Context, payload queue.ReprocessPayload) (string, error)
}

type FileChecker interface {
	Exists(ctx context.Context, name string) (bool, error)
}

type DocumentHandler struct {
	ingest        Ingester
	recent        RecentLister
	files         FileChecker
	queue         Enqueuer
	maxUpload     int64
	ingestTimeout time.Duration
	logger        *slog.Logger
}

// NewDocumentHandler wires the document endpoints. A nil queue disables
// reprocessing requests; a zero ingestTimeout leaves uploads unbounded.
func NewDocumentHandler(ingest Ingester, recent RecentLister, files FileChecker, q Enqueuer, maxUploadMB int, ingestTimeout time.Duration, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{
		ingest:        ingest,
		recent:        recent,
		files:         files,
		queue:         q,
		maxUpload:     int64(maxUploadMB) << 20,
		ingestTimeout: ingestTimeout,
		logger:        logger,
	}
}

func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file required"})
		return
	}
	defer file.Close()

	// A client hanging up must not cancel a delegate call or insert already
	// under way; only the configured deadline bounds the ingestion.
	ctx := context.WithoutCancel(r.Context())
	if h.ingestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.ingestTimeout)
		defer cancel()
	}

	rec, err := h.ingest.Ingest(ctx, ingestion.Upload{
		OriginalName: header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Body:         file,
	})
	if err != nil {
		h.logger.Error("upload failed", "file", header.Filename, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Document processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Document processed successfully",
		"data":    rec,
	})
}

func (h *DocumentHandler) Recent(w http.ResponseWriter, r *http.Request) {
	f, limit, err := parseRecentQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	docs, err := h.recent.Recent(r.Context(), f, limit)
	if err != nil {
		h.logger.Error("recent documents query", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch recent docs"})
		return
	}

	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = export.FormatXLSX
	}
	contentType := export.ContentType(format)
	if contentType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "format must be xlsx or json"})
		return
	}

	f, limit, err := parseRecentQuery(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	docs, err := h.recent.Recent(r.Context(), f, limit)
	if err != nil {
		h.logger.Error("export query", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch recent docs"})
		return
	}

	data, err := export.Render(format, docs)
	if err != nil {
		h.logger.Error("render export", "format", format, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to export documents"})
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename(format, time.Now())))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

type reprocessRequest struct {
	FileName string `json:"file_name"`
}

func (h *DocumentHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	var req reprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FileName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file_name required"})
		return
	}
	if req.FileName != path.Base(req.FileName) || strings.ContainsAny(req.FileName, `\/`) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid file_name"})
		return
	}
	if h.queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reprocessing unavailable"})
		return
	}

	ok, err := h.files.Exists(r.Context(), req.FileName)
	if err != nil {
		h.logger.Error("check stored file", "file", req.FileName, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to check stored file"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "file not found"})
		return
	}

	taskID, err := h.queue.EnqueueReprocess(r.Context(), queue.ReprocessPayload{FileName: req.FileName})
	if errors.Is(err, queue.ErrAlreadyQueued) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "reprocessing already queued"})
		return
	}
	if err != nil {
		h.logger.Error("enqueue reprocess", "file", req.FileName, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to queue reprocessing"})
		return
	}

	h.logger.Info("reprocess queued", "file", req.FileName, "task_id", taskID)
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "file_name": req.FileName})
}

// parseRecentQuery reads limit, search, type, from and to. A missing limit
// means 20; from/to accept RFC 3339 or YYYY-MM-DD, where a bare "to" date
// covers that whole day.
func parseRecentQuery(r *http.Request) (store.Filter, int, error) {
	q := r.URL.Query()
	f := store.Filter{
		SearchText:     strings.TrimSpace(q.Get("search")),
		Classification: strings.TrimSpace(q.Get("type")),
	}

	limit := defaultRecentLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, 0, fmt.Errorf("invalid limit %q", v)
		}
		limit = n
	}

	if v := q.Get("from"); v != "" {
		t, _, err := parseTime(v)
		if err != nil {
			return f, 0, fmt.Errorf("invalid from %q", v)
		}
		f.UploadedFrom = &t
	}
	if v := q.Get("to"); v != "" {
		t, dateOnly, err := parseTime(v)
		if err != nil {
			return f, 0, fmt.Errorf("invalid to %q", v)
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		f.UploadedTo = &t
	}

	return f, limit, nil
}

func parseTime(v string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, false, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}
