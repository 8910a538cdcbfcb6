package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/nikhilbhutani/docpulse/internal/models"
)

type Mongo struct {
	coll *mongo.Collection
}

type mongoRecord struct {
	ID                    primitive.ObjectID `bson:"_id,omitempty"`
	models.DocumentRecord `bson:",inline"`
}

func NewMongo(db *mongo.Database, collection string) *Mongo {
	return &Mongo{coll: db.Collection(collection)}
}

// EnsureIndexes creates the unique file_name index the duplicate-key contract
// relies on, plus the ordering index for recent-document listings.
func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "file_name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "uploaded_at", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func (s *Mongo) Insert(ctx context.Context, rec *models.DocumentRecord) (string, error) {
	res, err := s.coll.InsertOne(ctx, mongoRecord{DocumentRecord: *rec})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", fmt.Errorf("%w: %s", ErrDuplicateKey, rec.FileName)
		}
		return "", fmt.Errorf("%w: insert record: %w", ErrStoreUnavailable, err)
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Sprint(res.InsertedID), nil
	}
	return oid.Hex(), nil
}

func (s *Mongo) FindRecent(ctx context.Context, f Filter, limit int) ([]models.DocumentRecord, error) {
	limit = ClampLimit(limit)
	if limit == 0 {
		return []models.DocumentRecord{}, nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "uploaded_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.coll.Find(ctx, recentFilter(f), opts)
	if err != nil {
		return nil, fmt.Errorf("%w: find recent: %w", ErrStoreUnavailable, err)
	}

	var rows []mongoRecord
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("%w: decode recent: %w", ErrStoreUnavailable, err)
	}

	docs := make([]models.DocumentRecord, 0, len(rows))
	for _, r := range rows {
		d := r.DocumentRecord
		d.ID = r.ID.Hex()
		docs = append(docs, d)
	}
	return docs, nil
}

func (s *Mongo) Count(ctx context.Context, c Criteria) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, countFilter(c))
	if err != nil {
		return 0, fmt.Errorf("%w: count records: %w", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *Mongo) AverageConfidenceByClassification(ctx context.Context) (map[string]float64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"classification": bson.M{"$ne": nil},
			"confidence":     bson.M{"$ne": nil},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id": "$classification",
			"avg": bson.M{"$avg": "$confidence"},
		}}},
	}

	var rows []struct {
		Label string  `bson:"_id"`
		Avg   float64 `bson:"avg"`
	}
	if err := s.aggregate(ctx, "average confidence", pipeline, &rows); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.Label] = r.Avg
	}
	return out, nil
}

func (s *Mongo) CountByClassification(ctx context.Context) ([]GroupCount, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"classification": bson.M{"$ne": nil}}}},
		{{Key: "$group", Value: bson.M{"_id": "$classification", "count": bson.M{"$sum": 1}}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	return s.groupCounts(ctx, "count by classification", pipeline)
}

func (s *Mongo) AmountSummary(ctx context.Context) (AmountStats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$unwind", Value: "$extracted_data.amounts"}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"count": bson.M{"$sum": 1},
			"avg":   bson.M{"$avg": "$extracted_data.amounts.amount"},
			"min":   bson.M{"$min": "$extracted_data.amounts.amount"},
			"max":   bson.M{"$max": "$extracted_data.amounts.amount"},
		}}},
	}

	var rows []struct {
		Count int64   `bson:"count"`
		Avg   float64 `bson:"avg"`
		Min   float64 `bson:"min"`
		Max   float64 `bson:"max"`
	}
	if err := s.aggregate(ctx, "summarise amounts", pipeline, &rows); err != nil {
		return AmountStats{}, err
	}
	if len(rows) == 0 {
		return AmountStats{}, nil
	}
	r := rows[0]
	return AmountStats{Count: r.Count, Average: r.Avg, Min: r.Min, Max: r.Max}, nil
}

func (s *Mongo) CountByCurrency(ctx context.Context) ([]GroupCount, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$unwind", Value: "$extracted_data.amounts"}},
		{{Key: "$project", Value: bson.M{
			"currency": bson.M{"$ifNull": bson.A{"$extracted_data.amounts.currency", ""}},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$currency", ""}}, UnknownCurrency, "$currency",
			}},
			"count": bson.M{"$sum": 1},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}
	return s.groupCounts(ctx, "count by currency", pipeline)
}

func (s *Mongo) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, readpref.Primary())
}

func (s *Mongo) groupCounts(ctx context.Context, op string, pipeline mongo.Pipeline) ([]GroupCount, error) {
	var rows []struct {
		Key   string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := s.aggregate(ctx, op, pipeline, &rows); err != nil {
		return nil, err
	}

	out := make([]GroupCount, 0, len(rows))
	for _, r := range rows {
		out = append(out, GroupCount{Key: r.Key, Count: r.Count})
	}
	return out, nil
}

func (s *Mongo) aggregate(ctx context.Context, op string, pipeline mongo.Pipeline, dest any) error {
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	}
	if err := cur.All(ctx, dest); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: decode %s: %w", ErrStoreUnavailable, op, err)
	}
	return nil
}

func recentFilter(f Filter) bson.M {
	filter := bson.M{}
	if f.SearchText != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(f.SearchText), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"file_name": re},
			bson.M{"classification": re},
			bson.M{"extracted_data.company": re},
		}
	}
	if f.Classification != "" {
		filter["classification"] = f.Classification
	}
	if f.UploadedFrom != nil || f.UploadedTo != nil {
		rng := bson.M{}
		if f.UploadedFrom != nil {
			rng["$gte"] = *f.UploadedFrom
		}
		if f.UploadedTo != nil {
			rng["$lte"] = *f.UploadedTo
		}
		filter["uploaded_at"] = rng
	}
	return filter
}

func countFilter(c Criteria) bson.M {
	filter := bson.M{}
	if c.Classified {
		filter["classification"] = bson.M{"$ne": nil}
	}
	if c.Extracted {
		filter["extracted_data"] = bson.M{"$ne": nil}
	}
	if c.WithWarnings {
		filter["warnings.0"] = bson.M{"$exists": true}
	}
	if c.UploadedSince != nil {
		filter["uploaded_at"] = bson.M{"$gte": *c.UploadedSince}
	}
	return filter
}
