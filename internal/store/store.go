// Package store is typed access to the persisted collection of document
// records. Implementations exist for Postgres, MongoDB and process memory; all of
// them are append-only.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/nikhilbhutani/docpulse/internal/models"
)

var (
	ErrStoreUnavailable = errors.New("record store unavailable")
	ErrDuplicateKey     = errors.New("duplicate file name")
)

// MaxRecentLimit bounds every FindRecent response regardless of what was asked for.
const MaxRecentLimit = 100

// UnknownCurrency buckets amounts that carry no currency.
const UnknownCurrency = "unknown"

// Filter narrows FindRecent. Zero-valued fields are ignored and the rest are ANDed.
type Filter struct {
	SearchText     string
	Classification string
	UploadedFrom   *time.Time
	UploadedTo     *time.Time
}

// Criteria selects records for Count. The zero value counts everything.
type Criteria struct {
	Classified    bool
	Extracted     bool
	WithWarnings  bool
	UploadedSince *time.Time
}

type GroupCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// AmountStats summarises every extracted amount across all records.
type AmountStats struct {
	Count   int64
	Average float64
	Min     float64
	Max     float64
}

type Store interface {
	Insert(ctx context.Context, rec *models.DocumentRecord) (string, error)
	FindRecent(ctx context.Context, f Filter, limit int) ([]models.DocumentRecord, error)

	Count(ctx context.Context, c Criteria) (int64, error)
	AverageConfidenceByClassification(ctx context.Context) (map[string]float64, error)
	CountByClassification(ctx context.Context) ([]GroupCount, error)
	AmountSummary(ctx context.Context) (AmountStats, error)
	CountByCurrency(ctx context.Context) ([]GroupCount, error)

	Ping(ctx context.Context) error
}

// ClampLimit applies the FindRecent bounds. A result of zero means "return nothing".
func ClampLimit(limit int) int {
	if limit <= 0 {
		return 0
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}

func currencyKey(c string) string {
	if c == "" {
		return UnknownCurrency
	}
	return c
}
