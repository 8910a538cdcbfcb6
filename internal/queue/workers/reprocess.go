package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/docpulse/internal/ingestion"
	"github.com/nikhilbhutani/docpulse/internal/models"
	"github.com/nikhilbhutani/docpulse/internal/queue"
	"github.com/nikhilbhutani/docpulse/internal/store"
)

type Reprocessor interface {
	Reprocess(ctx context.Context, fileName string) (*models.DocumentRecord, error)
}

type ReprocessWorker struct {
	svc    Reprocessor
	logger *slog.Logger
}

func NewReprocessWorker(svc Reprocessor, logger *slog.Logger) *ReprocessWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReprocessWorker{svc: svc, logger: logger}
}

// ProcessTask returns an error only when another attempt could succeed.
// Malformed payloads and missing files are archived without retry; a file
// that already has a record is treated as done.
func (w *ReprocessWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.ReprocessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.FileName == "" {
		return fmt.Errorf("empty file name: %w", asynq.SkipRetry)
	}

	log := w.logger.With("file", payload.FileName)
	log.Info("reprocessing document")

	rec, err := w.svc.Reprocess(ctx, payload.FileName)
	switch {
	case err == nil:
		log.Info("document reprocessed", "id", rec.ID, "warnings", len(rec.Warnings))
		return nil
	case errors.Is(err, store.ErrDuplicateKey):
		log.Info("document already recorded, skipping")
		return nil
	case errors.Is(err, ingestion.ErrFileNotFound):
		log.Warn("stored file missing", "error", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		log.Error("reprocess failed", "error", err)
		return err
	}
}
