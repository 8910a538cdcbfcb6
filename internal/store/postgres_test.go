package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecentQuery_NoFilter(t *testing.T) {
	query, args := recentQuery(`"docs"`, Filter{}, 20)

	assert.NotContains(t, query, "WHERE")
	assert.Contains(t, query, `FROM "docs"`)
	assert.Contains(t, query, "ORDER BY uploaded_at DESC, id DESC LIMIT $1")
	assert.Equal(t, []any{20}, args)
}

func TestRecentQuery_AllFilters(t *testing.T) {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	query, args := recentQuery(`"docs"`, Filter{
		SearchText:     "50%_off",
		Classification: "invoice",
		UploadedFrom:   &from,
		UploadedTo:     &to,
	}, 10)

	assert.Contains(t, query, "file_name ILIKE $1 OR classification ILIKE $1 OR extracted_data->>'company' ILIKE $1")
	assert.Contains(t, query, "classification = $2")
	assert.Contains(t, query, "uploaded_at >= $3")
	assert.Contains(t, query, "uploaded_at <= $4")
	assert.Contains(t, query, "LIMIT $5")
	assert.Equal(t, []any{`%50\%\_off%`, "invoice", from, to, 10}, args)
}

func TestCountQuery(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)

	query, args := countQuery(`"docs"`, Criteria{})
	assert.Equal(t, `SELECT COUNT(*) FROM "docs"`, query)
	assert.Empty(t, args)

	query, args = countQuery(`"docs"`, Criteria{Classified: true, UploadedSince: &since})
	assert.Contains(t, query, "classification IS NOT NULL AND uploaded_at >= $1")
	assert.Equal(t, []any{since}, args)

	query, _ = countQuery(`"docs"`, Criteria{WithWarnings: true})
	assert.Contains(t, query, "jsonb_array_length")
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `a\%b\_c\\d`, escapeLike(`a%b_c\d`))
	assert.Equal(t, "plain", escapeLike("plain"))
}
