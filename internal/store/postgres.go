package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/docpulse/internal/models"
)

const pgUniqueViolation = "23505"

type Postgres struct {
	db    *pgxpool.Pool
	table string
}

// NewPostgres expects the table to exist already; see database.EnsureSchema.
func NewPostgres(db *pgxpool.Pool, table string) *Postgres {
	return &Postgres{db: db, table: pgx.Identifier{table}.Sanitize()}
}

func (s *Postgres) Insert(ctx context.Context, rec *models.DocumentRecord) (string, error) {
	var extracted, warnings []byte
	var err error
	if rec.ExtractedData != nil {
		if extracted, err = json.Marshal(rec.ExtractedData); err != nil {
			return "", fmt.Errorf("marshal extracted data: %w", err)
		}
	}
	if rec.Warnings != nil {
		if warnings, err = json.Marshal(rec.Warnings); err != nil {
			return "", fmt.Errorf("marshal warnings: %w", err)
		}
	}

	var id uuid.UUID
	err = s.db.QueryRow(ctx,
		`INSERT INTO `+s.table+` (id, file_name, uploaded_at, classification, confidence, extracted_data, warnings)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		uuid.New(), rec.FileName, rec.UploadedAt, rec.Classification, rec.Confidence, extracted, warnings,
	).Scan(&id)
	if err != nil {
		return "", classifyPgError("insert record", err)
	}
	return id.String(), nil
}

func (s *Postgres) FindRecent(ctx context.Context, f Filter, limit int) ([]models.DocumentRecord, error) {
	limit = ClampLimit(limit)
	if limit == 0 {
		return []models.DocumentRecord{}, nil
	}

	query, args := recentQuery(s.table, f, limit)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPgError("query recent records", err)
	}
	defer rows.Close()

	docs := []models.DocumentRecord{}
	for rows.Next() {
		var (
			d                   models.DocumentRecord
			id                  uuid.UUID
			extracted, warnings []byte
		)
		if err := rows.Scan(&id, &d.FileName, &d.UploadedAt, &d.Classification, &d.Confidence, &extracted, &warnings); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		d.ID = id.String()
		if len(extracted) > 0 {
			if err := json.Unmarshal(extracted, &d.ExtractedData); err != nil {
				return nil, fmt.Errorf("decode extracted data for %s: %w", d.FileName, err)
			}
		}
		if len(warnings) > 0 {
			if err := json.Unmarshal(warnings, &d.Warnings); err != nil {
				return nil, fmt.Errorf("decode warnings for %s: %w", d.FileName, err)
			}
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError("iterate recent records", err)
	}
	return docs, nil
}

func (s *Postgres) Count(ctx context.Context, c Criteria) (int64, error) {
	query, args := countQuery(s.table, c)
	var n int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, classifyPgError("count records", err)
	}
	return n, nil
}

func (s *Postgres) AverageConfidenceByClassification(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.Query(ctx,
		`SELECT classification, AVG(confidence)
		 FROM `+s.table+`
		 WHERE classification IS NOT NULL AND confidence IS NOT NULL
		 GROUP BY classification`)
	if err != nil {
		return nil, classifyPgError("average confidence", err)
	}
	defer rows.Close()

	out := map[string]float64{}
	for rows.Next() {
		var label string
		var avg float64
		if err := rows.Scan(&label, &avg); err != nil {
			return nil, fmt.Errorf("scan confidence average: %w", err)
		}
		out[label] = avg
	}
	return out, rows.Err()
}

func (s *Postgres) CountByClassification(ctx context.Context) ([]GroupCount, error) {
	return s.groupCounts(ctx, "count by classification",
		`SELECT classification, COUNT(*) AS n
		 FROM `+s.table+`
		 WHERE classification IS NOT NULL
		 GROUP BY classification
		 ORDER BY n DESC, classification`)
}

func (s *Postgres) AmountSummary(ctx context.Context) (AmountStats, error) {
	var st AmountStats
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(a.amount), COALESCE(AVG(a.amount), 0), COALESCE(MIN(a.amount), 0), COALESCE(MAX(a.amount), 0)
		 `+amountsFrom(s.table),
	).Scan(&st.Count, &st.Average, &st.Min, &st.Max)
	if err != nil {
		return AmountStats{}, classifyPgError("summarise amounts", err)
	}
	return st, nil
}

func (s *Postgres) CountByCurrency(ctx context.Context) ([]GroupCount, error) {
	return s.groupCounts(ctx, "count by currency",
		`SELECT COALESCE(NULLIF(a.currency, ''), $1) AS currency, COUNT(*) AS n
		 `+amountsFrom(s.table)+`
		 GROUP BY 1
		 ORDER BY n DESC, currency`, UnknownCurrency)
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Postgres) groupCounts(ctx context.Context, op, query string, args ...any) ([]GroupCount, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPgError(op, err)
	}
	defer rows.Close()

	out := []GroupCount{}
	for rows.Next() {
		var g GroupCount
		if err := rows.Scan(&g.Key, &g.Count); err != nil {
			return nil, fmt.Errorf("scan %s: %w", op, err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// amountsFrom unwinds extracted_data.amounts into one row per amount. Records
// without an amounts array contribute no rows.
func amountsFrom(table string) string {
	return `FROM ` + table + ` d
		 CROSS JOIN LATERAL jsonb_to_recordset(
			CASE WHEN jsonb_typeof(d.extracted_data->'amounts') = 'array'
			     THEN d.extracted_data->'amounts' ELSE '[]'::jsonb END
		 ) AS a(amount double precision, currency text)`
}

func recentQuery(table string, f Filter, limit int) (string, []any) {
	query := `SELECT id, file_name, uploaded_at, classification, confidence, extracted_data, warnings
			  FROM ` + table
	var conds []string
	var args []any
	argIdx := 1

	if f.SearchText != "" {
		conds = append(conds, fmt.Sprintf(
			"(file_name ILIKE $%d OR classification ILIKE $%d OR extracted_data->>'company' ILIKE $%d)",
			argIdx, argIdx, argIdx))
		args = append(args, "%"+escapeLike(f.SearchText)+"%")
		argIdx++
	}
	if f.Classification != "" {
		conds = append(conds, fmt.Sprintf("classification = $%d", argIdx))
		args = append(args, f.Classification)
		argIdx++
	}
	if f.UploadedFrom != nil {
		conds = append(conds, fmt.Sprintf("uploaded_at >= $%d", argIdx))
		args = append(args, *f.UploadedFrom)
		argIdx++
	}
	if f.UploadedTo != nil {
		conds = append(conds, fmt.Sprintf("uploaded_at <= $%d", argIdx))
		args = append(args, *f.UploadedTo)
		argIdx++
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY uploaded_at DESC, id DESC LIMIT $%d", argIdx)
	args = append(args, limit)
	return query, args
}

func countQuery(table string, c Criteria) (string, []any) {
	query := "SELECT COUNT(*) FROM " + table
	var conds []string
	var args []any

	if c.Classified {
		conds = append(conds, "classification IS NOT NULL")
	}
	if c.Extracted {
		conds = append(conds, "extracted_data IS NOT NULL")
	}
	if c.WithWarnings {
		conds = append(conds,
			"COALESCE(jsonb_array_length(CASE WHEN jsonb_typeof(warnings) = 'array' THEN warnings END), 0) > 0")
	}
	if c.UploadedSince != nil {
		args = append(args, *c.UploadedSince)
		conds = append(conds, fmt.Sprintf("uploaded_at >= $%d", len(args)))
	}

	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	return query, args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func classifyPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.Detail)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

