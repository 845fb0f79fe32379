package hrid

import (
	"context"
	"database/sql"

	"github.com/nucleus/memg-core/internal/memgerr"
)

// Allocator persists HRID counters and the hrid<->id mapping in Postgres.
// next() opens a transaction and SELECT ... FOR UPDATEs the counter row —
// the per-(user,type) critical section required by §5's locking rule,
// expressed as a row lock (rather than an in-process mutex) so allocation
// stays correct across process restarts, following the read-current-then-
// write-incremented shape of the teacher's kvstore.Store.Put CAS pattern.
type Allocator struct {
	db *sql.DB
}

// NewAllocator wraps an existing *sql.DB (shared with the graph adapter;
// both the HRID counters and the hrid<->id mapping live in the same
// Postgres instance as the graph store per §5's "Shared resources" note).
func NewAllocator(db *sql.DB) *Allocator {
	return &Allocator{db: db}
}

// EnsureSchema creates the counter and mapping tables if absent.
func (a *Allocator) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS hrid_counters (
	user_id     TEXT NOT NULL,
	memory_type TEXT NOT NULL,
	alpha_index INT NOT NULL,
	numeric_val INT NOT NULL,
	PRIMARY KEY (user_id, memory_type)
);
CREATE TABLE IF NOT EXISTS hrid_allocations (
	user_id TEXT NOT NULL,
	hrid    TEXT NOT NULL,
	id      TEXT NOT NULL,
	PRIMARY KEY (user_id, hrid)
);
CREATE UNIQUE INDEX IF NOT EXISTS hrid_allocations_by_id ON hrid_allocations (user_id, id);
`
	if _, err := a.db.ExecContext(ctx, ddl); err != nil {
		return memgerr.Wrap(memgerr.DatabaseError, "hrid.EnsureSchema", err)
	}
	return nil
}

// Next allocates and persists the next HRID for (memoryType, userID) (§4.2).
func (a *Allocator) Next(ctx context.Context, memoryType, userID string) (string, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return "", memgerr.Wrap(memgerr.DatabaseError, "hrid.Next", err)
	}
	defer tx.Rollback()

	var alphaIndex, numeric int
	row := tx.QueryRowContext(ctx,
		`SELECT alpha_index, numeric_val FROM hrid_counters WHERE user_id = $1 AND memory_type = $2 FOR UPDATE`,
		userID, memoryType)
	switch err := row.Scan(&alphaIndex, &numeric); err {
	case sql.ErrNoRows:
		alphaIndex, numeric = 0, -1 // first Advance() call yields AAA000
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO hrid_counters (user_id, memory_type, alpha_index, numeric_val) VALUES ($1, $2, $3, $4)`,
			userID, memoryType, alphaIndex, numeric); err != nil {
			return "", memgerr.Wrap(memgerr.DatabaseError, "hrid.Next", err)
		}
	case nil:
		// row locked, fall through to advance below
	default:
		return "", memgerr.Wrap(memgerr.DatabaseError, "hrid.Next", err)
	}

	nextAlpha, nextNumeric, err := Advance(alphaIndex, numeric)
	if err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE hrid_counters SET alpha_index = $1, numeric_val = $2 WHERE user_id = $3 AND memory_type = $4`,
		nextAlpha, nextNumeric, userID, memoryType); err != nil {
		return "", memgerr.Wrap(memgerr.DatabaseError, "hrid.Next", err)
	}

	h, err := Format(memoryType, nextAlpha, nextNumeric)
	if err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO hrid_allocations (user_id, hrid, id) VALUES ($1, $2, '') ON CONFLICT (user_id, hrid) DO NOTHING`,
		userID, h); err != nil {
		return "", memgerr.Wrap(memgerr.DatabaseError, "hrid.Next", err)
	}

	if err := tx.Commit(); err != nil {
		return "", memgerr.Wrap(memgerr.DatabaseError, "hrid.Next", err)
	}
	return h, nil
}

// Assign records the hrid -> id mapping (§4.2). Called once the indexer has
// produced the internal id for a freshly allocated HRID.
func (a *Allocator) Assign(ctx context.Context, userID, h, id string) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO hrid_allocations (user_id, hrid, id) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, hrid) DO UPDATE SET id = EXCLUDED.id`,
		userID, h, id)
	if err != nil {
		return memgerr.Wrap(memgerr.DatabaseError, "hrid.Assign", err)
	}
	return nil
}

// Resolve looks up the internal id for a given hrid within userID's scope
// (§4.2). Returns NotFound if the hrid is unknown.
func (a *Allocator) Resolve(ctx context.Context, userID, h string) (string, error) {
	var id string
	err := a.db.QueryRowContext(ctx,
		`SELECT id FROM hrid_allocations WHERE user_id = $1 AND hrid = $2`, userID, h).Scan(&id)
	if err == sql.ErrNoRows || (err == nil && id == "") {
		return "", memgerr.Kindf(memgerr.NotFoundErr, "hrid.Resolve", "hrid %q not found for user %q", h, userID)
	}
	if err != nil {
		return "", memgerr.Wrap(memgerr.DatabaseError, "hrid.Resolve", err)
	}
	return id, nil
}

// ReverseResolve returns the hrid assigned to id within userID's scope.
func (a *Allocator) ReverseResolve(ctx context.Context, userID, id string) (string, error) {
	var h string
	err := a.db.QueryRowContext(ctx,
		`SELECT hrid FROM hrid_allocations WHERE user_id = $1 AND id = $2`, userID, id).Scan(&h)
	if err == sql.ErrNoRows {
		return "", memgerr.Kindf(memgerr.NotFoundErr, "hrid.ReverseResolve", "id %q not found for user %q", id, userID)
	}
	if err != nil {
		return "", memgerr.Wrap(memgerr.DatabaseError, "hrid.ReverseResolve", err)
	}
	return h, nil
}

// Forget removes the hrid mapping (§4.2), called by delete (§4.7). Idempotent.
func (a *Allocator) Forget(ctx context.Context, userID, h string) error {
	if _, err := a.db.ExecContext(ctx,
		`DELETE FROM hrid_allocations WHERE user_id = $1 AND hrid = $2`, userID, h); err != nil {
		return memgerr.Wrap(memgerr.DatabaseError, "hrid.Forget", err)
	}
	return nil
}
