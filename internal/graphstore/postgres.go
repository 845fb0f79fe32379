package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/nucleus/memg-core/internal/domain"
	"github.com/nucleus/memg-core/internal/memgerr"
)

// PostgresStore is a Postgres-backed Store generalizing the teacher's
// entity.PostgresEntityRegistry: one JSONB-backed properties table per
// entity type (plus promoted id/user_id/created_at/updated_at columns and a
// GIN index over properties), transactional CRUD with defer tx.Rollback(),
// pq.Array for any-of filter values, and dynamic WHERE clauses built with
// strings.Builder and incrementing $N placeholders.
type PostgresStore struct {
	db *sql.DB

	mu          sync.Mutex
	nodeTables  map[string]bool
	edgeTables  map[edgeKey]bool
	columnTypes map[string]map[string]string // node table -> field -> inferred type
}

var _ Store = (*PostgresStore)(nil)

type edgeKey struct {
	source    string
	predicate string
	target    string
}

var validIdent = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)

// NewPostgresStore opens a Postgres connection and returns a Store over it.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, memgerr.Wrap(memgerr.DatabaseError, "graphstore.NewPostgresStore", err)
	}
	if err := db.Ping(); err != nil {
		return nil, memgerr.Wrap(memgerr.DatabaseError, "graphstore.NewPostgresStore", err)
	}
	return NewPostgresStoreFromDB(db), nil
}

// NewPostgresStoreFromDB reuses an existing *sql.DB handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:          db,
		nodeTables:  make(map[string]bool),
		edgeTables:  make(map[edgeKey]bool),
		columnTypes: make(map[string]map[string]string),
	}
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func nodeTableName(nodeType string) (string, error) {
	if !validIdent.MatchString(nodeType) {
		return "", memgerr.Kindf(memgerr.InvalidInputErr, "graphstore", "invalid node type %q", nodeType)
	}
	return `"NODE_` + strings.ToUpper(nodeType) + `"`, nil
}

func edgeTableName(sourceType, predicate, targetType string) (string, error) {
	for _, v := range []string{sourceType, predicate, targetType} {
		if !validIdent.MatchString(v) {
			return "", memgerr.Kindf(memgerr.InvalidInputErr, "graphstore", "invalid edge component %q", v)
		}
	}
	return `"` + strings.ToUpper(sourceType) + "_" + strings.ToUpper(predicate) + "_" + strings.ToUpper(targetType) + `"`, nil
}

// EnsureNodeTable dynamically creates the node table on first use (§4.4).
func (s *PostgresStore) EnsureNodeTable(ctx context.Context, nodeType string) error {
	table, err := nodeTableName(nodeType)
	if err != nil {
		return err
	}
	s.mu.Lock()
	already := s.nodeTables[nodeType]
	s.mu.Unlock()
	if already {
		return nil
	}

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	properties JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS %s_user_id ON %s (user_id);
CREATE INDEX IF NOT EXISTS %s_properties_gin ON %s USING gin (properties);
`, table, strings.Trim(table, `"`)+"_idx1", table, strings.Trim(table, `"`)+"_idx2", table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return memgerr.Wrap(memgerr.DatabaseError, "graphstore.EnsureNodeTable", err)
	}
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS graph_column_types (
	node_type TEXT NOT NULL,
	field     TEXT NOT NULL,
	value_type TEXT NOT NULL,
	PRIMARY KEY (node_type, field)
)`); err != nil {
		return memgerr.Wrap(memgerr.DatabaseError, "graphstore.EnsureNodeTable", err)
	}

	s.mu.Lock()
	s.nodeTables[nodeType] = true
	if s.columnTypes[nodeType] == nil {
		s.columnTypes[nodeType] = make(map[string]string)
	}
	s.mu.Unlock()
	return nil
}

// inferValueType maps a Go value to the column-type vocabulary of §4.4:
// STRING, DOUBLE, INT64, BOOLEAN, TIMESTAMP.
func inferValueType(v any) string {
	switch v.(type) {
	case bool:
		return "BOOLEAN"
	case int, int32, int64:
		return "INT64"
	case float32, float64:
		return "DOUBLE"
	case time.Time:
		return "TIMESTAMP"
	default:
		return "STRING"
	}
}

// checkAndRegisterTypes enforces the widening policy resolved in
// SPEC_FULL.md §9: reject when a property is later observed with a type
// different from the one inferred on first write, rather than widening the
// column. Deterministic and logged (the caller logs the returned error).
func (s *PostgresStore) checkAndRegisterTypes(ctx context.Context, nodeType string, properties map[string]any) error {
	s.mu.Lock()
	types := s.columnTypes[nodeType]
	if types == nil {
		types = make(map[string]string)
		s.columnTypes[nodeType] = types
	}
	var toPersist map[string]string
	for field, v := range properties {
		if v == nil {
			continue
		}
		inferred := inferValueType(v)
		existing, known := types[field]
		if !known {
			types[field] = inferred
			if toPersist == nil {
				toPersist = make(map[string]string)
			}
			toPersist[field] = inferred
			continue
		}
		if existing != inferred {
			s.mu.Unlock()
			return memgerr.Kindf(memgerr.DatabaseError, "graphstore.checkAndRegisterTypes",
				"field %q on type %q is %s, cannot widen to %s", field, nodeType, existing, inferred)
		}
	}
	s.mu.Unlock()

	for field, t := range toPersist {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO graph_column_types (node_type, field, value_type) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			nodeType, field, t); err != nil {
			return memgerr.Wrap(memgerr.DatabaseError, "graphstore.checkAndRegisterTypes", err)
		}
	}
	return nil
}

// AddNode upserts a node by id (§4.4).
func (s *PostgresStore) AddNode(ctx context.Context, nodeType, id, userID string, properties map[string]any) error {
	if err := s.EnsureNodeTable(ctx, nodeType); err != nil {
		return err
	}
	if err := s.checkAndRegisterTypes(ctx, nodeType, properties); err != nil {
		return err
	}
	table, err := nodeTableName(nodeType)
	if err != nil {
		return err
	}
	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return memgerr.Wrap(memgerr.InvalidInputErr, "graphstore.AddNode", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, user_id, properties)
VALUES ($1, $2, $3::jsonb)
ON CONFLICT (id) DO UPDATE SET properties = EXCLUDED.properties, updated_at = now()
`, table)
	if _, err := s.db.ExecContext(ctx, query, id, userID, propsJSON); err != nil {
		return memgerr.Wrap(memgerr.DatabaseError, "graphstore.AddNode", err)
	}
	return nil
}

// UpdateNode directly updates properties; must not touch id/user_id/
// created_at (§4.4).
func (s *PostgresStore) UpdateNode(ctx context.Context, nodeType, id string, properties map[string]any) error {
	if err := s.checkAndRegisterTypes(ctx, nodeType, properties); err != nil {
		return err
	}
	table, err := nodeTableName(nodeType)
	if err != nil {
		return err
	}
	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return memgerr.Wrap(memgerr.InvalidInputErr, "graphstore.UpdateNode", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET properties = $1::jsonb, updated_at = now() WHERE id = $2`, table)
	res, err := s.db.ExecContext(ctx, query, propsJSON, id)
	if err != nil {
		return memgerr.Wrap(memgerr.DatabaseError, "graphstore.UpdateNode", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return memgerr.Wrap(memgerr.DatabaseError, "graphstore.UpdateNode", err)
	}
	if n == 0 {
		return memgerr.Kindf(memgerr.NotFoundErr, "graphstore.UpdateNode", "node %q of type %q not found", id, nodeType)
	}
	return nil
}

// GetNode returns the node, or (nil, nil) if absent (§4.4).
func (s *PostgresStore) GetNode(ctx context.Context, nodeType, id string) (*Node, error) {
	table, err := nodeTableName(nodeType)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, user_id, properties FROM %s WHERE id = $1`, table)
	row := s.db.QueryRowContext(ctx, query, id)

	var nodeID, userID string
	var propsJSON []byte
	switch err := row.Scan(&nodeID, &userID, &propsJSON); err {
	case sql.ErrNoRows:
		return nil, nil
	case nil:
	default:
		if isMissingRelation(err) {
			return nil, nil
		}
		return nil, memgerr.Wrap(memgerr.DatabaseError, "graphstore.GetNode", err)
	}
	var props map[string]any
	if err := json.Unmarshal(propsJSON, &props); err != nil {
		return nil, memgerr.Wrap(memgerr.DatabaseError, "graphstore.GetNode", err)
	}
	return &Node{ID: nodeID, UserID: userID, Properties: props}, nil
}

func isMissingRelation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "does not exist")
}

// DeleteNode deletes the node and all incident edges across every known
// edge table touching nodeType (§4.4).
func (s *PostgresStore) DeleteNode(ctx context.Context, nodeType, id string) error {
	table, err := nodeTableName(nodeType)
	if err != nil {
		return err
	}

	s.mu.Lock()
	var incident []edgeKey
	for k := range s.edgeTables {
		if k.source == nodeType || k.target == nodeType {
			incident = append(incident, k)
		}
	}
	s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return memgerr.Wrap(memgerr.DatabaseError, "graphstore.DeleteNode", err)
	}
	defer tx.Rollback()

	for _, k := range incident {
		edgeTable, err := edgeTableName(k.source, k.predicate, k.target)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE from_id = $1 OR to_id = $1`, edgeTable), id); err != nil {
			return memgerr.Wrap(memgerr.DatabaseError, "graphstore.DeleteNode", err)
		}
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id); err != nil {
		return memgerr.Wrap(memgerr.DatabaseError, "graphstore.DeleteNode", err)
	}

	return tx.Commit()
}

// ListNodes returns up to limit nodes for userID, optionally filtered, in
// updated_at-descending order (§4.7's list primary path).
func (s *PostgresStore) ListNodes(ctx context.Context, nodeType, userID string, filters domain.Filter, modifiedWithinDays int, limit, offset int) ([]Node, error) {
	table, err := nodeTableName(nodeType)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	args := []any{userID}
	fmt.Fprintf(&b, "SELECT id, user_id, properties FROM %s WHERE user_id = $1", table)

	if modifiedWithinDays > 0 {
		args = append(args, modifiedWithinDays)
		fmt.Fprintf(&b, " AND updated_at >= now() - ($%d || ' days')::interval", len(args))
	}
	for field, val := range filters.Exact {
		args = append(args, fmt.Sprintf("%v", val))
		fmt.Fprintf(&b, " AND properties->>'%s' = $%d", field, len(args))
	}
	for field, vals := range filters.AnyOf {
		strs := make([]string, len(vals))
		for i, v := range vals {
			strs[i] = fmt.Sprintf("%v", v)
		}
		args = append(args, pq.Array(strs))
		fmt.Fprintf(&b, " AND properties->>'%s' = ANY($%d)", field, len(args))
	}
	for _, r := range filters.Ranges {
		if r.GT != nil {
			args = append(args, *r.GT)
			fmt.Fprintf(&b, " AND (properties->>'%s')::double precision > $%d", r.Field, len(args))
		}
		if r.GTE != nil {
			args = append(args, *r.GTE)
			fmt.Fprintf(&b, " AND (properties->>'%s')::double precision >= $%d", r.Field, len(args))
		}
		if r.LT != nil {
			args = append(args, *r.LT)
			fmt.Fprintf(&b, " AND (properties->>'%s')::double precision < $%d", r.Field, len(args))
		}
		if r.LTE != nil {
			args = append(args, *r.LTE)
			fmt.Fprintf(&b, " AND (properties->>'%s')::double precision <= $%d", r.Field, len(args))
		}
	}

	b.WriteString(" ORDER BY updated_at DESC")
	fmt.Fprintf(&b, " LIMIT %d OFFSET %d", limit, offset)

	rows, err := s.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, memgerr.Wrap(memgerr.DatabaseError, "graphstore.ListNodes", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		var id, uid string
		var propsJSON []byte
		if err := rows.Scan(&id, &uid, &propsJSON); err != nil {
			return nil, memgerr.Wrap(memgerr.DatabaseError, "graphstore.ListNodes", err)
		}
		var props map[string]any
		if err := json.Unmarshal(propsJSON, &props); err != nil {
			return nil, memgerr.Wrap(memgerr.DatabaseError, "graphstore.ListNodes", err)
		}
		out = append(out, Node{ID: id, UserID: uid, Properties: props})
	}
	return out, rows.Err()
}

// EnsureEdgeTable idempotently creates the canonical SOURCE_PREDICATE_TARGET
// table (§4.1, §4.4).
func (s *PostgresStore) EnsureEdgeTable(ctx context.Context, sourceType, predicate, targetType string) error {
	key := edgeKey{source: sourceType, predicate: predicate, target: targetType}
	s.mu.Lock()
	already := s.edgeTables[key]
	s.mu.Unlock()
	if already {
		return nil
	}

	table, err := edgeTableName(sourceType, predicate, targetType)
	if err != nil {
		return err
	}
	base := strings.Trim(table, `"`)
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	from_id    TEXT NOT NULL,
	to_id      TEXT NOT NULL,
	properties JSONB NOT NULL DEFAULT '{}'::jsonb,
	PRIMARY KEY (from_id, to_id)
);
CREATE INDEX IF NOT EXISTS %s_to_id ON %s (to_id);
`, table, base+"_to_idx", table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return memgerr.Wrap(memgerr.DatabaseError, "graphstore.EnsureEdgeTable", err)
	}

	s.mu.Lock()
	s.edgeTables[key] = true
	s.mu.Unlock()
	return nil
}

// AddEdge inserts the edge; idempotent (§4.4).
func (s *PostgresStore) AddEdge(ctx context.Context, sourceType, targetType, predicate, fromID, toID string, props map[string]any) error {
	if err := s.EnsureEdgeTable(ctx, sourceType, predicate, targetType); err != nil {
		return err
	}
	table, err := edgeTableName(sourceType, predicate, targetType)
	if err != nil {
		return err
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return memgerr.Wrap(memgerr.InvalidInputErr, "graphstore.AddEdge", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (from_id, to_id, properties) VALUES ($1, $2, $3::jsonb)
ON CONFLICT (from_id, to_id) DO UPDATE SET properties = EXCLUDED.properties
`, table)
	if _, err := s.db.ExecContext(ctx, query, fromID, toID, propsJSON); err != nil {
		return memgerr.Wrap(memgerr.DatabaseError, "graphstore.AddEdge", err)
	}
	return nil
}

// DeleteEdge removes the edge; absence is not an error (§4.4).
func (s *PostgresStore) DeleteEdge(ctx context.Context, sourceType, targetType, predicate, fromID, toID string) error {
	table, err := edgeTableName(sourceType, predicate, targetType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE from_id = $1 AND to_id = $2`, table)
	if _, err := s.db.ExecContext(ctx, query, fromID, toID); err != nil {
		if isMissingRelation(err) {
			return nil
		}
		return memgerr.Wrap(memgerr.DatabaseError, "graphstore.DeleteEdge", err)
	}
	return nil
}

// Neighbors returns neighbor rows of nodeID, honoring direction and an
// optional predicate/type filter (§4.4). It walks every edge table whose
// (source,target) touches nodeType in the requested direction, mirroring
// the teacher's graphrag.DefaultExpander.GetNeighbors delegation shape.
func (s *PostgresStore) Neighbors(ctx context.Context, nodeType, nodeID string, predicates []string, direction domain.EdgeDirection, limit int, neighborType string) ([]NeighborRow, error) {
	s.mu.Lock()
	var candidates []edgeKey
	for k := range s.edgeTables {
		if len(predicates) > 0 && !containsStr(predicates, k.predicate) {
			continue
		}
		if neighborType != "" {
			if k.source == nodeType && k.target == neighborType {
				candidates = append(candidates, k)
			} else if k.target == nodeType && k.source == neighborType {
				candidates = append(candidates, k)
			}
			continue
		}
		if k.source == nodeType || k.target == nodeType {
			candidates = append(candidates, k)
		}
	}
	s.mu.Unlock()

	var out []NeighborRow
	for _, k := range candidates {
		if len(out) >= limit {
			break
		}
		if k.source == nodeType && (direction == domain.DirectionAny || direction == domain.DirectionOutgoing) {
			rows, err := s.fetchNeighborSide(ctx, k, k.target, "from_id", "to_id", nodeID, limit-len(out))
			if err != nil {
				return nil, err
			}
			out = append(out, rows...)
		}
		if k.target == nodeType && (direction == domain.DirectionAny || direction == domain.DirectionIncoming) {
			rows, err := s.fetchNeighborSide(ctx, k, k.source, "to_id", "from_id", nodeID, limit-len(out))
			if err != nil {
				return nil, err
			}
			out = append(out, rows...)
		}
	}
	return out, nil
}

func (s *PostgresStore) fetchNeighborSide(ctx context.Context, k edgeKey, neighborNodeType, anchorCol, neighborCol, nodeID string, limit int) ([]NeighborRow, error) {
	if limit <= 0 {
		return nil, nil
	}
	edgeTable, err := edgeTableName(k.source, k.predicate, k.target)
	if err != nil {
		return nil, err
	}
	nodeTable, err := nodeTableName(neighborNodeType)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
SELECT n.id, n.properties
FROM %s e
JOIN %s n ON n.id = e.%s
WHERE e.%s = $1
LIMIT %d
`, edgeTable, nodeTable, neighborCol, anchorCol, limit)

	rows, err := s.db.QueryContext(ctx, query, nodeID)
	if err != nil {
		if isMissingRelation(err) {
			return nil, nil
		}
		return nil, memgerr.Wrap(memgerr.DatabaseError, "graphstore.Neighbors", err)
	}
	defer rows.Close()

	var out []NeighborRow
	for rows.Next() {
		var id string
		var propsJSON []byte
		if err := rows.Scan(&id, &propsJSON); err != nil {
			return nil, memgerr.Wrap(memgerr.DatabaseError, "graphstore.Neighbors", err)
		}
		var props map[string]any
		if err := json.Unmarshal(propsJSON, &props); err != nil {
			return nil, memgerr.Wrap(memgerr.DatabaseError, "graphstore.Neighbors", err)
		}
		out = append(out, NeighborRow{NeighborID: id, Properties: props, RelationType: k.predicate})
	}
	return out, rows.Err()
}

func containsStr(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}
