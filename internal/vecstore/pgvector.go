package vecstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ohvee/pursecat/internal/common"
	"github.com/ohvee/pursecat/internal/service"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PgVector is a VectorStore backed by Postgres with the pgvector extension.
// Rows carry the same schema as the original collection: a primary key of at
// most 64 bytes, an indexed last-modified epoch-millis column, the fact text,
// and a fixed-dimension embedding searched with cosine distance.
type PgVector struct {
	pool  *pgxpool.Pool
	table string
}

// NewPgVector wraps an existing connection pool.
func NewPgVector(pool *pgxpool.Pool, table string) (*PgVector, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: pgvector pool", common.ErrMissingConfig)
	}
	if !tableNamePattern.MatchString(table) {
		return nil, common.ConfigError("table", fmt.Errorf("invalid table name %q", table))
	}
	return &PgVector{pool: pool, table: table}, nil
}

// OpenPgVector connects to Postgres and wraps the pool.
func OpenPgVector(ctx context.Context, dsn, table string) (*PgVector, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return NewPgVector(pool, table)
}

// CollectionExists reports whether the backing table exists.
func (s *PgVector) CollectionExists(ctx context.Context) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT to_regclass($1) IS NOT NULL`, s.table).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check collection: %w", err)
	}
	return exists, nil
}

// CreateCollection creates the table and its indexes.
func (s *PgVector) CreateCollection(ctx context.Context, schema service.CollectionSchema) error {
	if schema.Dimension <= 0 {
		return common.ConfigError("dimension", fmt.Errorf("must be > 0, got %d", schema.Dimension))
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			pk varchar(64) PRIMARY KEY,
			last_modified bigint NOT NULL,
			content text NOT NULL,
			embedding vector(%d) NOT NULL
		)`, s.table, schema.Dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_last_modified_idx ON %s (last_modified)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, s.table, s.table),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}
	return nil
}

// Upsert inserts or replaces entries by primary key in one batch.
func (s *PgVector) Upsert(ctx context.Context, entries []service.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, entry := range entries {
		query, args, err := sq.Insert(s.table).
			Columns("pk", "last_modified", "content", "embedding").
			Values(entry.ID, entry.LastModified, entry.Text, vectorLiteral(entry.Vector)).
			Suffix(`ON CONFLICT (pk) DO UPDATE SET
				last_modified = EXCLUDED.last_modified,
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding`).
			PlaceholderFormat(sq.Dollar).
			ToSql()
		if err != nil {
			return fmt.Errorf("failed to build upsert: %w", err)
		}
		batch.Queue(query, args...)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for range entries {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert entry: %w", err)
		}
	}
	return nil
}

// Search returns up to topK rows with cosine similarity >= minScore, ranked
// by descending similarity.
func (s *PgVector) Search(ctx context.Context, vector []float32, topK int, minScore float64) ([]service.SearchMatch, error) {
	if topK <= 0 {
		topK = 5
	}

	lit := vectorLiteral(vector)
	query, args, err := sq.Select("pk", "last_modified", "content").
		Column(sq.Expr("1 - (embedding <=> ?::vector) AS score", lit)).
		From(s.table).
		Where(sq.Expr("1 - (embedding <=> ?::vector) >= ?", lit, minScore)).
		OrderBy("score DESC").
		Limit(uint64(topK)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build search: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	var matches []service.SearchMatch
	for rows.Next() {
		var match service.SearchMatch
		if err := rows.Scan(&match.ID, &match.LastModified, &match.Text, &match.Score); err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}
	return matches, nil
}

// Flush is a no-op: Postgres commits each upsert batch durably, so nothing
// is buffered between Upsert and the watermark advance.
func (s *PgVector) Flush(_ context.Context) error {
	return nil
}

// Close releases the connection pool.
func (s *PgVector) Close() {
	s.pool.Close()
}

func vectorLiteral(vector []float32) string {
	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
