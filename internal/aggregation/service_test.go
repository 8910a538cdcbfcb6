package aggregation

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/docpulse/internal/cache"
	"github.com/nikhilbhutani/docpulse/internal/models"
	"github.com/nikhilbhutani/docpulse/internal/store"
)

type mapCache struct {
	mu       sync.Mutex
	data     map[string][]byte
	counters map[string]int64
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]byte{}, counters: map[string]int64{}}
}

func (c *mapCache) Get(_ context.Context, key string, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	return json.Unmarshal(b, dest)
}

func (c *mapCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = b
	return nil
}

func (c *mapCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

func (c *mapCache) Counter(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[key], nil
}

// stallingStore holds the first Count result until release is closed.
type stallingStore struct {
	*store.Memory
	once    sync.Once
	counted chan struct{}
	release chan struct{}
}

func (s *stallingStore) Count(ctx context.Context, c store.Criteria) (int64, error) {
	n, err := s.Memory.Count(ctx, c)
	s.once.Do(func() {
		close(s.counted)
		<-s.release
	})
	return n, err
}

type brokenStore struct{ store.Store }

func (brokenStore) Count(context.Context, store.Criteria) (int64, error) {
	return 0, store.ErrStoreUnavailable
}

func (brokenStore) AverageConfidenceByClassification(context.Context) (map[string]float64, error) {
	return map[string]float64{"invoice": 0.5}, nil
}

func strPtr(s string) *string    { return &s }
func floatPtr(f float64) *float64 { return &f }

func insert(t *testing.T, m *store.Memory, rec models.DocumentRecord) {
	t.Helper()
	_, err := m.Insert(context.Background(), &rec)
	require.NoError(t, err)
}

func TestStats(t *testing.T) {
	now := time.Date(2024, 6, 10, 15, 0, 0, 0, time.Local)
	m := store.NewMemory()
	insert(t, m, models.DocumentRecord{FileName: "yesterday", UploadedAt: now.Add(-24 * time.Hour),
		Classification: strPtr("invoice"), Confidence: floatPtr(0.9), ExtractedData: &models.ExtractedData{}})
	insert(t, m, models.DocumentRecord{FileName: "today", UploadedAt: now.Add(-time.Hour),
		Classification: strPtr("receipt"), Confidence: floatPtr(0.7)})
	insert(t, m, models.DocumentRecord{FileName: "rejected", UploadedAt: now.Add(-time.Minute),
		Warnings: []string{"processing delegate rejected document"}})

	svc := NewService(m, nil, 0, nil)
	svc.now = func() time.Time { return now }

	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Classified: 2, Extracted: 1, Errors: 1, Today: 2}, st)

	again, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, st, again)
}

func TestAccuracy_RoundsToFourPlaces(t *testing.T) {
	m := store.NewMemory()
	now := time.Now()
	insert(t, m, models.DocumentRecord{FileName: "a", UploadedAt: now, Classification: strPtr("invoice"), Confidence: floatPtr(0.912345)})
	insert(t, m, models.DocumentRecord{FileName: "b", UploadedAt: now, Classification: strPtr("invoice"), Confidence: floatPtr(0.8)})
	insert(t, m, models.DocumentRecord{FileName: "c", UploadedAt: now, Classification: strPtr("contract")})
	insert(t, m, models.DocumentRecord{FileName: "d", UploadedAt: now, Confidence: floatPtr(0.3)})

	acc, err := NewService(m, nil, 0, nil).Accuracy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"invoice": 0.8562}, acc)
}

func TestExtractedMetrics(t *testing.T) {
	m := store.NewMemory()
	now := time.Now()
	insert(t, m, models.DocumentRecord{FileName: "a", UploadedAt: now, ExtractedData: &models.ExtractedData{
		Amounts: []models.Amount{{Amount: 10, Currency: "USD"}, {Amount: 20.005}},
	}})
	insert(t, m, models.DocumentRecord{FileName: "b", UploadedAt: now, ExtractedData: &models.ExtractedData{
		Amounts: []models.Amount{{Amount: 5, Currency: "USD"}, {Amount: 1, Currency: "EUR"}, {Amount: 2}},
	}})

	metrics, err := NewService(m, nil, 0, nil).ExtractedMetrics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 7.6, metrics.AverageAmount)
	assert.Equal(t, 1.0, metrics.MinAmount)
	assert.Equal(t, 20.005, metrics.MaxAmount)

	data, err := json.Marshal(metrics)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"average_amount": 7.6,
		"max_amount": 20.005,
		"min_amount": 1,
		"currency_count": {"USD": 2, "unknown": 2, "EUR": 1}
	}`, string(data))
	assert.Contains(t, string(data), `{"USD":2,"unknown":2,"EUR":1}`)
}

func TestExtractedMetrics_Empty(t *testing.T) {
	metrics, err := NewService(store.NewMemory(), nil, 0, nil).ExtractedMetrics(context.Background())
	require.NoError(t, err)

	data, err := json.Marshal(metrics)
	require.NoError(t, err)
	assert.JSONEq(t, `{"average_amount":0,"max_amount":0,"min_amount":0,"currency_count":{}}`, string(data))
}

func TestInvoiceScenario(t *testing.T) {
	m := store.NewMemory()
	svc := NewService(m, nil, 0, nil)
	ctx := context.Background()

	before, err := svc.Stats(ctx)
	require.NoError(t, err)

	insert(t, m, models.DocumentRecord{
		FileName:       "0011223344556677_invoice.pdf",
		UploadedAt:     time.Now(),
		Classification: strPtr("invoice"),
		Confidence:     floatPtr(0.91),
		ExtractedData:  &models.ExtractedData{Amounts: []models.Amount{{Amount: 120.5, Currency: "USD"}}},
		Warnings:       []string{},
	})

	after, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Total+1, after.Total)
	assert.Equal(t, before.Errors, after.Errors)

	acc, err := svc.Accuracy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.91, acc["invoice"])

	metrics, err := svc.ExtractedMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 120.5, metrics.AverageAmount)
	assert.EqualValues(t, 1, metrics.CurrencyCount.Get("USD"))
}

func TestCacheServesUntilInvalidated(t *testing.T) {
	m := store.NewMemory()
	c := newMapCache()
	svc := NewService(m, c, time.Minute, nil)
	ctx := context.Background()

	insert(t, m, models.DocumentRecord{FileName: "a", UploadedAt: time.Now(), Classification: strPtr("invoice")})
	first, err := svc.Classifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{{Key: "invoice", Count: 1}}, first)

	insert(t, m, models.DocumentRecord{FileName: "b", UploadedAt: time.Now(), Classification: strPtr("receipt")})
	cachedResult, err := svc.Classifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, cachedResult)

	svc.Publish(models.NotificationEvent{Type: models.EventDocumentProcessed, DocumentID: "b"})

	fresh, err := svc.Classifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{{Key: "invoice", Count: 1}, {Key: "receipt", Count: 1}}, fresh)
}

func TestPublishDuringComputeDoesNotCacheStaleResult(t *testing.T) {
	m := store.NewMemory()
	slow := &stallingStore{Memory: m, counted: make(chan struct{}), release: make(chan struct{})}
	svc := NewService(slow, newMapCache(), time.Minute, nil)
	ctx := context.Background()

	type result struct {
		st  Stats
		err error
	}
	done := make(chan result, 1)
	go func() {
		st, err := svc.Stats(ctx)
		done <- result{st, err}
	}()

	<-slow.counted
	insert(t, m, models.DocumentRecord{FileName: "late", UploadedAt: time.Now()})
	svc.Publish(models.NotificationEvent{Type: models.EventDocumentProcessed, DocumentID: "late"})
	close(slow.release)

	stale := <-done
	require.NoError(t, stale.err)
	assert.Zero(t, stale.st.Total)

	fresh, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, fresh.Total)
}

func TestQueriesFailIndependently(t *testing.T) {
	svc := NewService(brokenStore{}, nil, 0, nil)
	ctx := context.Background()

	_, err := svc.Stats(ctx)
	assert.True(t, errors.Is(err, store.ErrStoreUnavailable))

	acc, err := svc.Accuracy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.5, acc["invoice"])
}

func TestRecentProjectsDisplayFields(t *testing.T) {
	m := store.NewMemory()
	insert(t, m, models.DocumentRecord{
		FileName:       "x.pdf",
		UploadedAt:     time.Now(),
		Classification: strPtr("invoice"),
		ExtractedData:  &models.ExtractedData{Dates: []string{"2024-01-01"}},
	})

	docs, err := NewService(m, nil, 0, nil).Recent(context.Background(), store.Filter{}, 20)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	data, err := json.Marshal(docs[0])
	require.NoError(t, err)
	assert.NotContains(t, string(data), "extracted_data")
	assert.Contains(t, string(data), `"warnings":[]`)
	assert.Contains(t, string(data), `"file_name":"x.pdf"`)
}

func TestCountsJSONRoundTripKeepsOrder(t *testing.T) {
	in := Counts{{Key: "zeta", Count: 9}, {Key: "alpha", Count: 3}}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":9,"alpha":3}`, string(data))

	var out Counts
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)

	assert.Error(t, json.Unmarshal([]byte(`[1,2]`), &out))
}
