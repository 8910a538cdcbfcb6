package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/docpulse/internal/models"
)

// Memory keeps records in process memory. It backs tests and single-node runs
// without a database; nothing survives a restart.
type Memory struct {
	mu      sync.RWMutex
	records []models.DocumentRecord
	names   map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{names: make(map[string]struct{})}
}

func (m *Memory) Insert(_ context.Context, rec *models.DocumentRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.names[rec.FileName]; ok {
		return "", fmt.Errorf("%w: %s", ErrDuplicateKey, rec.FileName)
	}

	stored := cloneRecord(*rec)
	stored.ID = uuid.NewString()
	m.records = append(m.records, stored)
	m.names[rec.FileName] = struct{}{}
	return stored.ID, nil
}

func (m *Memory) FindRecent(_ context.Context, f Filter, limit int) ([]models.DocumentRecord, error) {
	limit = ClampLimit(limit)
	if limit == 0 {
		return []models.DocumentRecord{}, nil
	}

	m.mu.RLock()
	var matched []models.DocumentRecord
	for i := len(m.records) - 1; i >= 0; i-- {
		if matchesFilter(&m.records[i], f) {
			matched = append(matched, cloneRecord(m.records[i]))
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].UploadedAt.After(matched[j].UploadedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	if matched == nil {
		matched = []models.DocumentRecord{}
	}
	return matched, nil
}

func (m *Memory) Count(_ context.Context, c Criteria) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for i := range m.records {
		r := &m.records[i]
		if c.Classified && r.Classification == nil {
			continue
		}
		if c.Extracted && r.ExtractedData == nil {
			continue
		}
		if c.WithWarnings && !r.HasWarnings() {
			continue
		}
		if c.UploadedSince != nil && r.UploadedAt.Before(*c.UploadedSince) {
			continue
		}
		n++
	}
	return n, nil
}

func (m *Memory) AverageConfidenceByClassification(_ context.Context) (map[string]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sums := map[string]float64{}
	counts := map[string]int{}
	for _, r := range m.records {
		if r.Classification == nil || r.Confidence == nil {
			continue
		}
		sums[*r.Classification] += *r.Confidence
		counts[*r.Classification]++
	}

	out := make(map[string]float64, len(sums))
	for k, sum := range sums {
		out[k] = sum / float64(counts[k])
	}
	return out, nil
}

func (m *Memory) CountByClassification(_ context.Context) ([]GroupCount, error) {
	m.mu.RLock()
	counts := map[string]int64{}
	for _, r := range m.records {
		if r.Classification != nil {
			counts[*r.Classification]++
		}
	}
	m.mu.RUnlock()
	return sortedGroups(counts), nil
}

func (m *Memory) AmountSummary(_ context.Context) (AmountStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var st AmountStats
	var sum float64
	for _, r := range m.records {
		if r.ExtractedData == nil {
			continue
		}
		for _, a := range r.ExtractedData.Amounts {
			if st.Count == 0 || a.Amount < st.Min {
				st.Min = a.Amount
			}
			if st.Count == 0 || a.Amount > st.Max {
				st.Max = a.Amount
			}
			sum += a.Amount
			st.Count++
		}
	}
	if st.Count > 0 {
		st.Average = sum / float64(st.Count)
	}
	return st, nil
}

func (m *Memory) CountByCurrency(_ context.Context) ([]GroupCount, error) {
	m.mu.RLock()
	counts := map[string]int64{}
	for _, r := range m.records {
		if r.ExtractedData == nil {
			continue
		}
		for _, a := range r.ExtractedData.Amounts {
			counts[currencyKey(a.Currency)]++
		}
	}
	m.mu.RUnlock()
	return sortedGroups(counts), nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func matchesFilter(r *models.DocumentRecord, f Filter) bool {
	if f.Classification != "" && (r.Classification == nil || *r.Classification != f.Classification) {
		return false
	}
	if f.UploadedFrom != nil && r.UploadedAt.Before(*f.UploadedFrom) {
		return false
	}
	if f.UploadedTo != nil && r.UploadedAt.After(*f.UploadedTo) {
		return false
	}
	if f.SearchText == "" {
		return true
	}

	needle := strings.ToLower(f.SearchText)
	haystack := []string{r.FileName}
	if r.Classification != nil {
		haystack = append(haystack, *r.Classification)
	}
	if r.ExtractedData != nil && r.ExtractedData.Company != nil {
		haystack = append(haystack, *r.ExtractedData.Company)
	}
	for _, h := range haystack {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

// sortedGroups orders by count descending, then key, so results are stable.
func sortedGroups(counts map[string]int64) []GroupCount {
	out := make([]GroupCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, GroupCount{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func cloneRecord(r models.DocumentRecord) models.DocumentRecord {
	if r.Warnings != nil {
		r.Warnings = append([]string{}, r.Warnings...)
	}
	if r.ExtractedData != nil {
		ed := *r.ExtractedData
		ed.Dates = append([]string(nil), ed.Dates...)
		ed.Amounts = append([]models.Amount(nil), ed.Amounts...)
		r.ExtractedData = &ed
	}
	return r
}
