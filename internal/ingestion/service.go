// Package ingestion turns an uploaded file into a persisted, classified
// document record and announces it to observers.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nikhilbhutani/docpulse/internal/delegate"
	"github.com/nikhilbhutani/docpulse/internal/models"
	"github.com/nikhilbhutani/docpulse/internal/storage"
	"github.com/nikhilbhutani/docpulse/internal/store"
)

var (
	ErrStorageFailure = errors.New("storage failure")
	ErrFileNotFound   = errors.New("stored file not found")
)

// nameAttempts bounds how often a colliding token is regenerated.
const nameAttempts = 3

type Processor interface {
	Process(ctx context.Context, fileRef string) (*delegate.Result, error)
}

type Notifier interface {
	Publish(evt models.NotificationEvent)
}

type Upload struct {
	OriginalName string
	ContentType  string
	Body         io.Reader
}

type Service struct {
	files     storage.Storage
	processor Processor
	records   store.Store
	notifier  Notifier
	logger    *slog.Logger

	now      func() time.Time
	newToken func() (string, error)
}

func NewService(files storage.Storage, processor Processor, records store.Store, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		files:     files,
		processor: processor,
		records:   records,
		notifier:  notifier,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		newToken:  newToken,
	}
}

// Ingest stores the upload under a fresh unique name, has the delegate
// interpret it, persists the outcome and publishes a notification.
//
// A delegate rejection is not an error: the record is persisted without a
// classification and with a warning. When the delegate is unavailable the
// stored file is kept and no record is written.
func (s *Service) Ingest(ctx context.Context, up Upload) (*models.DocumentRecord, error) {
	name, err := s.store(ctx, up)
	if err != nil {
		return nil, err
	}
	s.logger.Info("upload stored", "file", name, "original", up.OriginalName)
	return s.complete(ctx, name)
}

// Reprocess runs the delegate and persistence steps for a file that is already
// in storage, typically one retained after the delegate was unavailable.
func (s *Service) Reprocess(ctx context.Context, fileName string) (*models.DocumentRecord, error) {
	ok, err := s.files.Exists(ctx, fileName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileName)
	}
	return s.complete(ctx, fileName)
}

func (s *Service) store(ctx context.Context, up Upload) (string, error) {
	for attempt := 1; ; attempt++ {
		token, err := s.newToken()
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}

		name := storedName(token, up.OriginalName)
		err = s.files.Put(ctx, name, up.Body, up.ContentType)
		if err == nil {
			return name, nil
		}
		if errors.Is(err, storage.ErrObjectExists) && attempt < nameAttempts && rewind(up.Body) {
			s.logger.Warn("stored name collision, regenerating token", "file", name)
			continue
		}
		s.logger.Error("store upload", "file", name, "error", err)
		return "", fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
}

func (s *Service) complete(ctx context.Context, name string) (*models.DocumentRecord, error) {
	rec := &models.DocumentRecord{FileName: name}

	res, err := s.processor.Process(ctx, s.files.Ref(name))
	switch {
	case errors.Is(err, delegate.ErrProcessingRejected):
		s.logger.Warn("document rejected by delegate", "file", name, "error", err)
		rec.Warnings = []string{err.Error()}
		var rej *delegate.RejectedError
		if errors.As(err, &rej) {
			rec.Warnings = append(rec.Warnings, rej.Warnings...)
		}
	case err != nil:
		s.logger.Error("processing failed, file retained", "file", name, "error", err)
		return nil, err
	default:
		rec.Classification = res.Classification
		rec.Confidence = res.Confidence
		rec.ExtractedData = res.ExtractedData
		rec.Warnings = res.Warnings
	}
	if rec.Warnings == nil {
		rec.Warnings = []string{}
	}

	rec.UploadedAt = s.now()
	id, err := s.records.Insert(ctx, rec)
	if err != nil {
		s.logger.Error("persist record", "file", name, "error", err)
		return nil, err
	}
	rec.ID = id

	if s.notifier != nil {
		s.notifier.Publish(models.NewProcessedEvent(rec))
	}

	s.logger.Info("document processed",
		"file", name,
		"id", id,
		"classification", derefOr(rec.Classification, ""),
		"warnings", len(rec.Warnings),
	)
	return rec, nil
}

// rewind resets a seekable body so a collided write can be retried.
func rewind(r io.Reader) bool {
	sk, ok := r.(io.Seeker)
	if !ok {
		return false
	}
	_, err := sk.Seek(0, io.SeekStart)
	return err == nil
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
