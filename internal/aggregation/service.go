// Package aggregation computes the read-only dashboard views over stored
// document records. Each query runs on its own; one failing does not affect
// the others.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nikhilbhutani/docpulse/internal/cache"
	"github.com/nikhilbhutani/docpulse/internal/models"
	"github.com/nikhilbhutani/docpulse/internal/store"
)

// CachePrefix namespaces the dashboard entries in a shared redis.
const CachePrefix = "docpulse:dashboard:"

const (
	keyStats           = "stats"
	keyAccuracy        = "accuracy"
	keyMetrics         = "extracted-metrics"
	keyClassifications = "classifications"
	keyGeneration      = "generation"

	invalidateTimeout = 2 * time.Second
)

type Stats struct {
	Total      int64 `json:"total"`
	Classified int64 `json:"classified"`
	Extracted  int64 `json:"extracted"`
	Errors     int64 `json:"errors"`
	Today      int64 `json:"today"`
}

type ExtractedMetrics struct {
	AverageAmount float64 `json:"average_amount"`
	MaxAmount     float64 `json:"max_amount"`
	MinAmount     float64 `json:"min_amount"`
	CurrencyCount Counts  `json:"currency_count"`
}

type Cache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Counter(ctx context.Context, key string) (int64, error)
}

type Service struct {
	records store.Store
	cache   Cache
	ttl     time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds the dashboard queries. A nil cache or a zero ttl disables
// caching.
func NewService(records store.Store, c Cache, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		records: records,
		cache:   c,
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return cached(ctx, s, keyStats, func(ctx context.Context) (Stats, error) {
		now := s.now().In(time.Local)
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local)

		var st Stats
		var err error
		if st.Total, err = s.records.Count(ctx, store.Criteria{}); err != nil {
			return Stats{}, err
		}
		if st.Today, err = s.records.Count(ctx, store.Criteria{UploadedSince: &midnight}); err != nil {
			return Stats{}, err
		}
		if st.Classified, err = s.records.Count(ctx, store.Criteria{Classified: true}); err != nil {
			return Stats{}, err
		}
		if st.Extracted, err = s.records.Count(ctx, store.Criteria{Extracted: true}); err != nil {
			return Stats{}, err
		}
		if st.Errors, err = s.records.Count(ctx, store.Criteria{WithWarnings: true}); err != nil {
			return Stats{}, err
		}
		return st, nil
	})
}

// Accuracy is the mean confidence per classification, rounded to 4 places.
func (s *Service) Accuracy(ctx context.Context) (map[string]float64, error) {
	return cached(ctx, s, keyAccuracy, func(ctx context.Context) (map[string]float64, error) {
		avg, err := s.records.AverageConfidenceByClassification(ctx)
		if err != nil {
			return nil, err
		}
		out := make(map[string]float64, len(avg))
		for label, v := range avg {
			out[label] = round(v, 4)
		}
		return out, nil
	})
}

func (s *Service) ExtractedMetrics(ctx context.Context) (ExtractedMetrics, error) {
	return cached(ctx, s, keyMetrics, func(ctx context.Context) (ExtractedMetrics, error) {
		st, err := s.records.AmountSummary(ctx)
		if err != nil {
			return ExtractedMetrics{}, err
		}
		currencies, err := s.records.CountByCurrency(ctx)
		if err != nil {
			return ExtractedMetrics{}, err
		}

		m := ExtractedMetrics{CurrencyCount: Counts(currencies)}
		if st.Count > 0 {
			m.AverageAmount = round(st.Average, 2)
			m.MinAmount = st.Min
			m.MaxAmount = st.Max
		}
		if m.CurrencyCount == nil {
			m.CurrencyCount = Counts{}
		}
		return m, nil
	})
}

func (s *Service) Classifications(ctx context.Context) (Counts, error) {
	return cached(ctx, s, keyClassifications, func(ctx context.Context) (Counts, error) {
		groups, err := s.records.CountByClassification(ctx)
		if err != nil {
			return nil, err
		}
		if groups == nil {
			return Counts{}, nil
		}
		return Counts(groups), nil
	})
}

// Recent lists the newest matching records projected for display. It is not
// cached because filters vary per caller.
func (s *Service) Recent(ctx context.Context, f store.Filter, limit int) ([]models.DocumentSummary, error) {
	docs, err := s.records.FindRecent(ctx, f, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.DocumentSummary, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].Summary())
	}
	return out, nil
}

// Publish moves the dashboard cache to a new generation so the next query
// recomputes. Entries of older generations are never read again and expire
// with their ttl. It never fails the publisher.
func (s *Service) Publish(evt models.NotificationEvent) {
	if s.cache == nil || s.ttl <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()

	if _, err := s.cache.Incr(ctx, keyGeneration); err != nil {
		s.logger.Warn("invalidate dashboard cache", "file_id", evt.DocumentID, "error", err)
	}
}

// cached keys each entry by the generation read before compute runs, so a
// result computed across a Publish lands under a generation nobody reads.
func cached[T any](ctx context.Context, s *Service, key string, compute func(context.Context) (T, error)) (T, error) {
	if s.cache == nil || s.ttl <= 0 {
		return compute(ctx)
	}

	gen, err := s.cache.Counter(ctx, keyGeneration)
	if err != nil {
		s.logger.Warn("dashboard cache generation", "key", key, "error", err)
		return compute(ctx)
	}
	key = fmt.Sprintf("%s:%d", key, gen)

	var v T
	err = s.cache.Get(ctx, key, &v)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("dashboard cache read", "key", key, "error", err)
	}

	v, err = compute(ctx)
	if err != nil {
		return v, err
	}
	if err := s.cache.Set(ctx, key, v, s.ttl); err != nil {
		s.logger.Warn("dashboard cache write", "key", key, "error", err)
	}
	return v, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
