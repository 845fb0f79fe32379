package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/nucleus/memg-core/internal/domain"
	"github.com/nucleus/memg-core/internal/memgerr"
)

// PgVectorStore is a Postgres + pgvector backed Store, following the
// teacher's vectorstore.PgVectorStore: one table per collection with a
// vector(dim) column, an ivfflat index over vector_cosine_ops, a GIN index
// over a payload jsonb column, and hand-built vector literals since
// lib/pq has no native vector binding.
type PgVectorStore struct {
	db  *sql.DB
	dim int
}

var _ Store = (*PgVectorStore)(nil)

var validCollectionName = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// NewPgVectorStore opens a Postgres connection and returns a Store over it.
func NewPgVectorStore(dsn string, dim int) (*PgVectorStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, memgerr.Wrap(memgerr.DatabaseError, "vectorstore.NewPgVectorStore", err)
	}
	if err := db.Ping(); err != nil {
		return nil, memgerr.Wrap(memgerr.DatabaseError, "vectorstore.NewPgVectorStore", err)
	}
	return NewPgVectorStoreFromDB(db, dim), nil
}

// NewPgVectorStoreFromDB reuses an existing *sql.DB handle (shared with the
// graph adapter when both stores live in the same Postgres instance).
func NewPgVectorStoreFromDB(db *sql.DB, dim int) *PgVectorStore {
	return &PgVectorStore{db: db, dim: dim}
}

func (s *PgVectorStore) Close() error { return s.db.Close() }

func tableName(collection string) (string, error) {
	if !validCollectionName.MatchString(collection) {
		return "", memgerr.Kindf(memgerr.InvalidInputErr, "vectorstore", "invalid collection name %q", collection)
	}
	return "vec_" + collection, nil
}

// EnsureCollection idempotently creates the collection's table (§4.3).
func (s *PgVectorStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	table, err := tableName(name)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return memgerr.Wrap(memgerr.DatabaseError, "vectorstore.EnsureCollection", err)
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	point_id   TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	embedding  vector(%d) NOT NULL,
	payload    JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS %s_ivfflat ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
CREATE INDEX IF NOT EXISTS %s_payload_gin ON %s USING gin (payload);
CREATE INDEX IF NOT EXISTS %s_user_id ON %s (user_id);
`, table, dim, table, table, table, table, table, table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return memgerr.Wrap(memgerr.DatabaseError, "vectorstore.EnsureCollection", err)
	}
	return nil
}

func toVectorLiteral(embedding []float32, dim int) (string, error) {
	if len(embedding) != dim {
		return "", memgerr.Kindf(memgerr.InvalidInputErr, "vectorstore.toVectorLiteral", "embedding has %d dims, want %d", len(embedding), dim)
	}
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]", nil
}

// Upsert inserts or replaces the point (§4.3).
func (s *PgVectorStore) Upsert(ctx context.Context, collection, pointID string, vector []float32, payload map[string]any) error {
	table, err := tableName(collection)
	if err != nil {
		return err
	}
	literal, err := toVectorLiteral(vector, s.dim)
	if err != nil {
		return err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return memgerr.Wrap(memgerr.InvalidInputErr, "vectorstore.Upsert", err)
	}
	userID, _ := payload["user_id"].(string)

	query := fmt.Sprintf(`
INSERT INTO %s (point_id, user_id, embedding, payload)
VALUES ($1, $2, $3::vector, $4::jsonb)
ON CONFLICT (point_id) DO UPDATE SET user_id = EXCLUDED.user_id, embedding = EXCLUDED.embedding, payload = EXCLUDED.payload
`, table)
	if _, err := s.db.ExecContext(ctx, query, pointID, userID, literal, payloadJSON); err != nil {
		return memgerr.Wrap(memgerr.DatabaseError, "vectorstore.Upsert", err)
	}
	return nil
}

// Get returns the point, or (nil, nil) if absent (§4.3).
func (s *PgVectorStore) Get(ctx context.Context, collection, pointID string) (*Point, error) {
	table, err := tableName(collection)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT point_id, embedding::text, payload FROM %s WHERE point_id = $1`, table)
	row := s.db.QueryRowContext(ctx, query, pointID)

	var id, embText string
	var payloadJSON []byte
	switch err := row.Scan(&id, &embText, &payloadJSON); err {
	case sql.ErrNoRows:
		return nil, nil
	case nil:
		// fallthrough
	default:
		return nil, memgerr.Wrap(memgerr.DatabaseError, "vectorstore.Get", err)
	}

	vec, err := parseVectorLiteral(embText)
	if err != nil {
		return nil, memgerr.Wrap(memgerr.DatabaseError, "vectorstore.Get", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, memgerr.Wrap(memgerr.DatabaseError, "vectorstore.Get", err)
	}
	return &Point{ID: id, Vector: vec, Payload: payload}, nil
}

func parseVectorLiteral(text string) ([]float32, error) {
	text = strings.Trim(text, "[]")
	if text == "" {
		return nil, nil
	}
	parts := strings.Split(text, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(f)
	}
	return out, nil
}

// Delete removes points by id; idempotent (§4.3).
func (s *PgVectorStore) Delete(ctx context.Context, collection string, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}
	table, err := tableName(collection)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE point_id = ANY($1)`, table)
	if _, err := s.db.ExecContext(ctx, query, pq.Array(pointIDs)); err != nil {
		return memgerr.Wrap(memgerr.DatabaseError, "vectorstore.Delete", err)
	}
	return nil
}

// Search returns the top `limit` points by cosine similarity (§4.3).
func (s *PgVectorStore) Search(ctx context.Context, collection string, vector []float32, limit int, userID string, filters domain.Filter) ([]Hit, error) {
	table, err := tableName(collection)
	if err != nil {
		return nil, err
	}
	literal, err := toVectorLiteral(vector, s.dim)
	if err != nil {
		return nil, err
	}

	conditions := []string{"user_id = $1"}
	args := []any{userID}
	args = append(args, literal)
	vectorArgIdx := len(args)

	appendFilters(&conditions, &args, filters)

	query := fmt.Sprintf(`
SELECT point_id, payload, 1 - (embedding <=> $%d::vector) AS score
FROM %s
WHERE %s
ORDER BY embedding <=> $%d::vector
LIMIT %d
`, vectorArgIdx, table, strings.Join(conditions, " AND "), vectorArgIdx, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, memgerr.Wrap(memgerr.DatabaseError, "vectorstore.Search", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id string
		var payloadJSON []byte
		var score float64
		if err := rows.Scan(&id, &payloadJSON, &score); err != nil {
			return nil, memgerr.Wrap(memgerr.DatabaseError, "vectorstore.Search", err)
		}
		var payload map[string]any
		if err := json.Unmarshal(payloadJSON, &payload); err != nil {
			return nil, memgerr.Wrap(memgerr.DatabaseError, "vectorstore.Search", err)
		}
		hits = append(hits, Hit{ID: id, Score: score, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, memgerr.Wrap(memgerr.DatabaseError, "vectorstore.Search", err)
	}
	return hits, nil
}

// appendFilters extends conditions/args with the Filter conjunction (§4.3):
// exact match, "any of" list match, and gt/gte/lt/lte ranges, each against
// a JSONB payload field.
func appendFilters(conditions *[]string, args *[]any, filters domain.Filter) {
	for field, val := range filters.Exact {
		*args = append(*args, fmt.Sprintf("%v", val))
		*conditions = append(*conditions, fmt.Sprintf("payload->>'%s' = $%d", field, len(*args)))
	}
	for field, vals := range filters.AnyOf {
		strs := make([]string, len(vals))
		for i, v := range vals {
			strs[i] = fmt.Sprintf("%v", v)
		}
		*args = append(*args, pq.Array(strs))
		*conditions = append(*conditions, fmt.Sprintf("payload->>'%s' = ANY($%d)", field, len(*args)))
	}
	for _, r := range filters.Ranges {
		if r.GT != nil {
			*args = append(*args, *r.GT)
			*conditions = append(*conditions, fmt.Sprintf("(payload->>'%s')::double precision > $%d", r.Field, len(*args)))
		}
		if r.GTE != nil {
			*args = append(*args, *r.GTE)
			*conditions = append(*conditions, fmt.Sprintf("(payload->>'%s')::double precision >= $%d", r.Field, len(*args)))
		}
		if r.LT != nil {
			*args = append(*args, *r.LT)
			*conditions = append(*conditions, fmt.Sprintf("(payload->>'%s')::double precision < $%d", r.Field, len(*args)))
		}
		if r.LTE != nil {
			*args = append(*args, *r.LTE)
			*conditions = append(*conditions, fmt.Sprintf("(payload->>'%s')::double precision <= $%d", r.Field, len(*args)))
		}
	}
}
