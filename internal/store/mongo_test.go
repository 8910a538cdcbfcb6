package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestRecentFilter(t *testing.T) {
	assert.Empty(t, recentFilter(Filter{}))

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := recentFilter(Filter{SearchText: "a.b", Classification: "invoice", UploadedFrom: &from})

	or, ok := f["$or"].(bson.A)
	require.True(t, ok)
	require.Len(t, or, 3)
	re := or[0].(bson.M)["file_name"].(primitive.Regex)
	assert.Equal(t, `a\.b`, re.Pattern)
	assert.Equal(t, "i", re.Options)

	assert.Equal(t, "invoice", f["classification"])
	assert.Equal(t, bson.M{"$gte": from}, f["uploaded_at"])
}

func TestCountFilter(t *testing.T) {
	assert.Empty(t, countFilter(Criteria{}))

	f := countFilter(Criteria{Classified: true, Extracted: true, WithWarnings: true})
	assert.Equal(t, bson.M{"$ne": nil}, f["classification"])
	assert.Equal(t, bson.M{"$ne": nil}, f["extracted_data"])
	assert.Equal(t, bson.M{"$exists": true}, f["warnings.0"])
}
