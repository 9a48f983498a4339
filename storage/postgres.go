package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/documind/ragserver/models"
)

// PostgresStore persists documents and fragments in Postgres and runs
// similarity search through the pgvector extension.
type PostgresStore struct {
	pool   *pgxpool.Pool
	metric Metric
	dims   int
}

// PostgresOptions configures NewPostgresStore.
type PostgresOptions struct {
	DSN        string
	Metric     Metric
	Dimensions int
}

// NewPostgresStore connects, ensures the schema exists, and verifies that the
// embedding column width matches the configured dimensions. A mismatch is
// fatal here rather than a runtime surprise on the first insert.
func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, &models.StorageError{Op: "parse dsn", Err: err}
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &models.StorageError{Op: "connect", Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &models.StorageError{Op: "ping", Err: err}
	}

	s := &PostgresStore{pool: pool, metric: opts.Metric, dims: opts.Dimensions}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.verifyDimensions(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Printf("STORE: postgres ready (dims=%d, metric=%s)", opts.Dimensions, opts.Metric)
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	opclass := "vector_cosine_ops"
	indexName := "fragments_embedding_cosine_idx"
	if s.metric == MetricDot {
		opclass = "vector_ip_ops"
		indexName = "fragments_embedding_ip_idx"
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS documents (
			id         UUID PRIMARY KEY,
			filename   TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			metadata   JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS fragments (
			id          UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			ordinal     INT NOT NULL,
			content     TEXT NOT NULL,
			embedding   VECTOR(%d) NOT NULL,
			metadata    JSONB NOT NULL DEFAULT '{}',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dims),
		`CREATE INDEX IF NOT EXISTS fragments_document_ordinal_idx ON fragments (document_id, ordinal)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON fragments USING hnsw (embedding %s)`, indexName, opclass),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return &models.StorageError{Op: "ensure schema", Err: err}
		}
	}
	return nil
}

// verifyDimensions compares the configured dimensions against the live
// column. pgvector stores the dimension count in the column's typmod.
func (s *PostgresStore) verifyDimensions(ctx context.Context) error {
	var typmod int
	err := s.pool.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute WHERE attrelid = 'fragments'::regclass AND attname = 'embedding'`,
	).Scan(&typmod)
	if err != nil {
		return &models.StorageError{Op: "verify dimensions", Err: err}
	}
	if typmod != s.dims {
		return &models.ConfigError{
			Key:    "EMBEDDING_DIMENSIONS",
			Reason: fmt.Sprintf("fragments.embedding has %d dimensions, configured %d; migrate the table or fix the setting", typmod, s.dims),
		}
	}
	return nil
}

const upsertDocumentSQL = `
	INSERT INTO documents (id, filename, content, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		filename   = EXCLUDED.filename,
		content    = EXCLUDED.content,
		metadata   = EXCLUDED.metadata,
		created_at = EXCLUDED.created_at`

const upsertFragmentSQL = `
	INSERT INTO fragments (id, document_id, ordinal, content, embedding, metadata)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		document_id = EXCLUDED.document_id,
		ordinal     = EXCLUDED.ordinal,
		content     = EXCLUDED.content,
		embedding   = EXCLUDED.embedding,
		metadata    = EXCLUDED.metadata`

func (s *PostgresStore) SaveDocument(ctx context.Context, doc models.Document) error {
	_, err := s.pool.Exec(ctx, upsertDocumentSQL,
		doc.ID, doc.Filename, doc.Content, doc.Metadata, doc.CreatedAt)
	if err != nil {
		return &models.StorageError{Op: "save document", Err: err}
	}
	return nil
}

func (s *PostgresStore) UpsertFragments(ctx context.Context, fragments []models.Fragment) error {
	if len(fragments) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, f := range fragments {
		batch.Queue(upsertFragmentSQL,
			f.ID, f.DocumentID, f.Ordinal, f.Text, pgvector.NewVector(f.Embedding), f.Metadata)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return &models.StorageError{Op: "upsert fragments", Err: err}
	}
	return nil
}

func (s *PostgresStore) ReplaceFragments(ctx context.Context, doc models.Document, fragments []models.Fragment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &models.StorageError{Op: "begin replace", Err: err}
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, upsertDocumentSQL,
		doc.ID, doc.Filename, doc.Content, doc.Metadata, doc.CreatedAt); err != nil {
		return &models.StorageError{Op: "replace document", Err: err}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM fragments WHERE document_id = $1`, doc.ID); err != nil {
		return &models.StorageError{Op: "replace fragments", Err: err}
	}
	if len(fragments) > 0 {
		batch := &pgx.Batch{}
		for _, f := range fragments {
			batch.Queue(upsertFragmentSQL,
				f.ID, f.DocumentID, f.Ordinal, f.Text, pgvector.NewVector(f.Embedding), f.Metadata)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return &models.StorageError{Op: "replace fragments", Err: err}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return &models.StorageError{Op: "commit replace", Err: err}
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, embedding []float32, k int, opts QueryOptions) ([]models.ScoredFragment, error) {
	if k <= 0 {
		return []models.ScoredFragment{}, nil
	}
	similarity := "1 - (embedding <=> $1)"
	distance := "embedding <=> $1"
	if s.metric == MetricDot {
		similarity = "-(embedding <#> $1)"
		distance = "embedding <#> $1"
	}

	var sb strings.Builder
	args := []any{pgvector.NewVector(embedding)}
	fmt.Fprintf(&sb, "SELECT id, document_id, ordinal, content, metadata, %s FROM fragments", similarity)
	if opts.DocumentID != nil {
		args = append(args, *opts.DocumentID)
		fmt.Fprintf(&sb, " WHERE document_id = $%d", len(args))
	}
	args = append(args, k)
	fmt.Fprintf(&sb, " ORDER BY %s ASC, id ASC LIMIT $%d", distance, len(args))

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, &models.StorageError{Op: "query", Err: err}
	}
	defer rows.Close()

	results := []models.ScoredFragment{}
	for rows.Next() {
		var sf models.ScoredFragment
		if err := rows.Scan(&sf.ID, &sf.DocumentID, &sf.Ordinal, &sf.Text, &sf.Metadata, &sf.Score); err != nil {
			return nil, &models.StorageError{Op: "query scan", Err: err}
		}
		results = append(results, sf)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "query", Err: err}
	}
	return results, nil
}

func (s *PostgresStore) FragmentsByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Fragment, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM documents WHERE id = $1`, documentID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrDocumentNotFound
	}
	if err != nil {
		return nil, &models.StorageError{Op: "lookup document", Err: err}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, ordinal, content, metadata FROM fragments WHERE document_id = $1 ORDER BY ordinal ASC`,
		documentID)
	if err != nil {
		return nil, &models.StorageError{Op: "fragments by document", Err: err}
	}
	defer rows.Close()

	var out []models.Fragment
	for rows.Next() {
		f := models.Fragment{DocumentID: documentID}
		if err := rows.Scan(&f.ID, &f.Ordinal, &f.Text, &f.Metadata); err != nil {
			return nil, &models.StorageError{Op: "fragments scan", Err: err}
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "fragments by document", Err: err}
	}
	return out, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID uuid.UUID) (models.Document, error) {
	var doc models.Document
	err := s.pool.QueryRow(ctx,
		`SELECT id, filename, content, metadata, created_at FROM documents WHERE id = $1`,
		documentID,
	).Scan(&doc.ID, &doc.Filename, &doc.Content, &doc.Metadata, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Document{}, models.ErrDocumentNotFound
	}
	if err != nil {
		return models.Document{}, &models.StorageError{Op: "get document", Err: err}
	}
	return doc, nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID uuid.UUID) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, &models.StorageError{Op: "begin delete", Err: err}
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM fragments WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, &models.StorageError{Op: "delete fragments", Err: err}
	}
	removed := int(tag.RowsAffected())

	tag, err = tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return 0, &models.StorageError{Op: "delete document", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return 0, models.ErrDocumentNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, &models.StorageError{Op: "commit delete", Err: err}
	}
	return removed, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]models.DocumentInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.filename, d.created_at, COUNT(f.id)
		FROM documents d
		LEFT JOIN fragments f ON f.document_id = d.id
		GROUP BY d.id, d.filename, d.created_at
		ORDER BY d.created_at DESC, d.filename ASC`)
	if err != nil {
		return nil, &models.StorageError{Op: "list documents", Err: err}
	}
	defer rows.Close()

	infos := []models.DocumentInfo{}
	for rows.Next() {
		var (
			info  models.DocumentInfo
			count int64
		)
		if err := rows.Scan(&info.ID, &info.Filename, &info.UploadedAt, &count); err != nil {
			return nil, &models.StorageError{Op: "list scan", Err: err}
		}
		info.FragmentCount = int(count)
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "list documents", Err: err}
	}
	return infos, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
