// Package postgres provides a PostgreSQL-backed story archive.
//
// Beats live in a single table with a GIN full-text index over the scene text
// and a pgvector HNSW index over scene embeddings. The pgvector extension must
// be available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.SaveBeat(ctx, beat)
//	results, _ := store.SearchText(ctx, "abandoned lighthouse", archive.SearchOpts{})
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/taleweave/taleweave/pkg/archive"
)

// defaultLimit caps searches when SearchOpts.Limit is zero.
const defaultLimit = 10

// Compile-time interface check.
var _ archive.Archive = (*Store)(nil)

// Store is the PostgreSQL-backed story archive. All operations are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// ddlBeats returns the archive DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlBeats(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS beats (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    action      TEXT         NOT NULL,
    scene       TEXT         NOT NULL,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_beats_session_id
    ON beats (session_id);

CREATE INDEX IF NOT EXISTS idx_beats_created_at
    ON beats (created_at);

CREATE INDEX IF NOT EXISTS idx_beats_fts
    ON beats USING GIN (to_tsvector('english', scene));

CREATE INDEX IF NOT EXISTS idx_beats_embedding
    ON beats USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures the beats table and its indexes exist. It is
// idempotent and safe to call on every application start.
//
// embeddingDimensions must match the embedding model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small). Changing this
// value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlBeats(embeddingDimensions)); err != nil {
		return fmt.Errorf("archive migrate: %w", err)
	}
	return nil
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure the schema exists.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Ping reports whether the database is reachable. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveBeat implements [archive.Archive]. A nil embedding is stored as SQL
// NULL and the beat becomes reachable via full-text search only.
func (s *Store) SaveBeat(ctx context.Context, beat archive.Beat) error {
	const q = `
		INSERT INTO beats (session_id, action, scene, embedding)
		VALUES ($1, $2, $3, $4)`

	var vec any
	if beat.Embedding != nil {
		vec = pgvector.NewVector(beat.Embedding)
	}

	_, err := s.pool.Exec(ctx, q, beat.SessionID, beat.Action, beat.Scene, vec)
	if err != nil {
		return fmt.Errorf("archive store: save beat: %w", err)
	}
	return nil
}

// SearchText implements [archive.Archive]. The query is passed to
// plainto_tsquery so no special operator syntax is required. Results are
// ordered by full-text rank (best match first).
func (s *Store) SearchText(ctx context.Context, query string, opts archive.SearchOpts) ([]archive.Result, error) {
	args := []any{query} // $1 = FTS query string
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"to_tsvector('english', scene) @@ plainto_tsquery('english', $1)",
	}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	limitArg := next(limit)

	q := fmt.Sprintf(`
		SELECT id, session_id, action, scene, created_at
		FROM   beats
		WHERE  %s
		ORDER  BY ts_rank(to_tsvector('english', scene), plainto_tsquery('english', $1)) DESC
		LIMIT  %s`, strings.Join(conditions, "\n  AND "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("archive store: search text: %w", err)
	}
	return collectResults(rows, false)
}

// SearchSemantic implements [archive.Archive]. It finds the beats whose scene
// embeddings are closest (cosine distance) to the supplied query embedding,
// ordered by ascending distance (most similar first).
func (s *Store) SearchSemantic(ctx context.Context, embedding []float32, opts archive.SearchOpts) ([]archive.Result, error) {
	queryVec := pgvector.NewVector(embedding)

	args := []any{queryVec} // $1 = query vector
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"embedding IS NOT NULL"}
	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = "+next(opts.SessionID))
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	limitArg := next(limit)

	q := fmt.Sprintf(`
		SELECT id, session_id, action, scene, created_at,
		       embedding <=> $1 AS distance
		FROM   beats
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, strings.Join(conditions, "\n  AND "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("archive store: search semantic: %w", err)
	}
	return collectResults(rows, true)
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// collectResults scans beat rows into archive.Result values. withDistance
// indicates whether the row set carries a trailing distance column.
func collectResults(rows pgx.Rows, withDistance bool) ([]archive.Result, error) {
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Result, error) {
		var r archive.Result
		dest := []any{
			&r.Beat.ID,
			&r.Beat.SessionID,
			&r.Beat.Action,
			&r.Beat.Scene,
			&r.Beat.CreatedAt,
		}
		if withDistance {
			dest = append(dest, &r.Distance)
		}
		if err := row.Scan(dest...); err != nil {
			return archive.Result{}, err
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive store: scan rows: %w", err)
	}
	if results == nil {
		results = []archive.Result{}
	}
	return results, nil
}
