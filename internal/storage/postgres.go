package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore implements Store over a Postgres database via lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres opens and pings a Postgres connection.
func OpenPostgres(dsn string, maxOpen, maxIdle int, connMaxLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS pages (
	id UUID PRIMARY KEY,
	domain_id UUID NOT NULL,
	url TEXT NOT NULL,
	raw_text TEXT NOT NULL DEFAULT '',
	content_fingerprint TEXT NOT NULL DEFAULT '',
	ingest_status TEXT NOT NULL DEFAULT 'new',
	retry_count INT NOT NULL DEFAULT 0,
	last_ingested_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (domain_id, url)
);

CREATE TABLE IF NOT EXISTS chunks (
	id UUID PRIMARY KEY,
	page_id UUID NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
	domain_id UUID NOT NULL,
	chunk_index INT NOT NULL,
	text TEXT NOT NULL,
	token_count_estimate INT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_chunks_page ON chunks(page_id, chunk_index);
CREATE INDEX IF NOT EXISTS idx_chunks_domain ON chunks(domain_id);

CREATE TABLE IF NOT EXISTS embeddings (
	chunk_id UUID NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	vector FLOAT8[] NOT NULL,
	PRIMARY KEY (chunk_id, kind)
);

CREATE TABLE IF NOT EXISTS entity_metadata (
	chunk_id UUID PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
	domain_id UUID NOT NULL,
	identifier TEXT,
	identifier_norm TEXT,
	price_cents BIGINT,
	availability BOOLEAN,
	brand TEXT,
	category TEXT,
	attrs JSONB,
	UNIQUE (chunk_id)
);
CREATE INDEX IF NOT EXISTS idx_meta_identifier ON entity_metadata(domain_id, identifier_norm);
CREATE INDEX IF NOT EXISTS idx_meta_scalars ON entity_metadata(domain_id, brand, category, price_cents, availability);
`

// Migrate applies the schema. Idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// mapError translates driver errors to the storage sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01": // serialization failure, deadlock
			return fmt.Errorf("%w: %v", ErrStorageContention, err)
		case "23505":
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	return err
}

// GetPage returns the live page for (domainID, url).
func (s *PostgresStore) GetPage(ctx context.Context, domainID uuid.UUID, url string) (*Page, error) {
	query := `
		SELECT id, domain_id, url, raw_text, content_fingerprint, ingest_status,
			retry_count, COALESCE(last_ingested_at, 'epoch'), created_at, updated_at
		FROM pages WHERE domain_id = $1 AND url = $2
	`
	page := &Page{}
	err := s.db.QueryRowContext(ctx, query, domainID, url).Scan(
		&page.ID, &page.DomainID, &page.URL, &page.RawText, &page.ContentFingerprint,
		&page.IngestStatus, &page.RetryCount, &page.LastIngestedAt,
		&page.CreatedAt, &page.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return page, mapError(err)
}

// SavePage inserts or updates a page keyed by (domain_id, url).
func (s *PostgresStore) SavePage(ctx context.Context, page *Page) error {
	if page.ID == uuid.Nil {
		page.ID = uuid.New()
	}
	now := time.Now()
	if page.CreatedAt.IsZero() {
		page.CreatedAt = now
	}
	page.UpdatedAt = now

	query := `
		INSERT INTO pages (id, domain_id, url, raw_text, content_fingerprint,
			ingest_status, retry_count, last_ingested_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (domain_id, url) DO UPDATE SET
			raw_text = EXCLUDED.raw_text,
			content_fingerprint = EXCLUDED.content_fingerprint,
			ingest_status = EXCLUDED.ingest_status,
			retry_count = EXCLUDED.retry_count,
			last_ingested_at = EXCLUDED.last_ingested_at,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		page.ID, page.DomainID, page.URL, page.RawText, page.ContentFingerprint,
		page.IngestStatus, page.RetryCount, nullTime(page.LastIngestedAt),
		page.CreatedAt, page.UpdatedAt,
	)
	return mapError(err)
}

// ListPages returns all pages for a domain.
func (s *PostgresStore) ListPages(ctx context.Context, domainID uuid.UUID) ([]*Page, error) {
	query := `
		SELECT id, domain_id, url, raw_text, content_fingerprint, ingest_status,
			retry_count, COALESCE(last_ingested_at, 'epoch'), created_at, updated_at
		FROM pages WHERE domain_id = $1 ORDER BY url
	`
	return s.queryPages(ctx, query, domainID)
}

// ListStalePages returns ingested pages whose last ingest predates cutoff.
func (s *PostgresStore) ListStalePages(ctx context.Context, cutoff time.Time) ([]*Page, error) {
	query := `
		SELECT id, domain_id, url, raw_text, content_fingerprint, ingest_status,
			retry_count, COALESCE(last_ingested_at, 'epoch'), created_at, updated_at
		FROM pages
		WHERE ingest_status = 'ingested' AND last_ingested_at < $1
		ORDER BY last_ingested_at
	`
	return s.queryPages(ctx, query, cutoff)
}

func (s *PostgresStore) queryPages(ctx context.Context, query string, args ...interface{}) ([]*Page, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var pages []*Page
	for rows.Next() {
		page := &Page{}
		if err := rows.Scan(
			&page.ID, &page.DomainID, &page.URL, &page.RawText, &page.ContentFingerprint,
			&page.IngestStatus, &page.RetryCount, &page.LastIngestedAt,
			&page.CreatedAt, &page.UpdatedAt,
		); err != nil {
			return nil, err
		}
		pages = append(pages, page)
	}
	return pages, rows.Err()
}

// ReplacePageChunks atomically swaps the chunk set for a page in one
// transaction: new rows are staged first, then the previous generation is
// deleted, so concurrent readers see the old set until commit.
func (s *PostgresStore) ReplacePageChunks(ctx context.Context, pageID uuid.UUID, records []ChunkRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer tx.Rollback()

	now := time.Now()
	newIDs := make([]string, 0, len(records))

	for i := range records {
		rec := &records[i]
		c := &rec.Chunk
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		c.PageID = pageID
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		newIDs = append(newIDs, c.ID.String())

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, page_id, domain_id, chunk_index, text, token_count_estimate, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, c.ID, c.PageID, c.DomainID, c.ChunkIndex, c.Text, c.TokenCountEstimate, c.CreatedAt); err != nil {
			return mapError(err)
		}

		for _, e := range rec.Embeddings {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO embeddings (chunk_id, kind, vector) VALUES ($1, $2, $3)
			`, c.ID, e.Kind, pq.Array(toFloat64(e.Vector))); err != nil {
				return mapError(err)
			}
		}

		m := rec.Metadata
		attrs, err := marshalAttrs(m.Attrs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entity_metadata (chunk_id, domain_id, identifier, identifier_norm,
				price_cents, availability, brand, category, attrs)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, c.ID, c.DomainID,
			nullString(m.Identifier), nullString(NormalizeIdentifier(m.Identifier)),
			nullInt64(m.PriceCents), nullBool(m.Availability),
			nullString(m.Brand), nullString(m.Category), attrs); err != nil {
			return mapError(err)
		}
	}

	// Drop the previous generation. Cascades remove embeddings and metadata.
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunks WHERE page_id = $1 AND NOT (id = ANY($2::uuid[]))
	`, pageID, pq.Array(newIDs)); err != nil {
		return mapError(err)
	}

	return mapError(tx.Commit())
}

// ChunksByPage returns a page's chunks ordered by chunk index.
func (s *PostgresStore) ChunksByPage(ctx context.Context, pageID uuid.UUID) ([]*Chunk, error) {
	query := `
		SELECT id, page_id, domain_id, chunk_index, text, token_count_estimate, created_at
		FROM chunks WHERE page_id = $1 ORDER BY chunk_index
	`
	return s.queryChunks(ctx, query, pageID)
}

// GetChunks resolves chunk IDs to chunks, skipping missing IDs.
func (s *PostgresStore) GetChunks(ctx context.Context, ids []uuid.UUID) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `
		SELECT id, page_id, domain_id, chunk_index, text, token_count_estimate, created_at
		FROM chunks WHERE id = ANY($1::uuid[])
	`
	return s.queryChunks(ctx, query, pq.Array(uuidStrings(ids)))
}

// SearchChunks returns chunks in a domain containing at least one term.
func (s *PostgresStore) SearchChunks(ctx context.Context, domainID uuid.UUID, terms []string, limit int) ([]*Chunk, error) {
	var clauses []string
	args := []interface{}{domainID}
	for _, t := range terms {
		if t == "" {
			continue
		}
		args = append(args, "%"+t+"%")
		clauses = append(clauses, fmt.Sprintf("text ILIKE $%d", len(args)))
	}
	if len(clauses) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT id, page_id, domain_id, chunk_index, text, token_count_estimate, created_at
		FROM chunks
		WHERE domain_id = $1 AND (%s)
		ORDER BY page_id, chunk_index
	`, strings.Join(clauses, " OR "))
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.queryChunks(ctx, query, args...)
}

func (s *PostgresStore) queryChunks(ctx context.Context, query string, args ...interface{}) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		c := &Chunk{}
		if err := rows.Scan(
			&c.ID, &c.PageID, &c.DomainID, &c.ChunkIndex, &c.Text,
			&c.TokenCountEstimate, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// FindByIdentifier returns metadata rows whose identifier matches exactly.
func (s *PostgresStore) FindByIdentifier(ctx context.Context, domainID uuid.UUID, identifier string) ([]*EntityMetadata, error) {
	query := metadataSelect + ` WHERE domain_id = $1 AND identifier = $2`
	return s.queryMetadata(ctx, query, domainID, identifier)
}

// FindByNormalizedIdentifier matches on the separator-insensitive form.
func (s *PostgresStore) FindByNormalizedIdentifier(ctx context.Context, domainID uuid.UUID, normalized string) ([]*EntityMetadata, error) {
	query := metadataSelect + ` WHERE domain_id = $1 AND identifier_norm = $2`
	return s.queryMetadata(ctx, query, domainID, normalized)
}

// FilterMetadata returns metadata rows in a domain satisfying the filter.
func (s *PostgresStore) FilterMetadata(ctx context.Context, domainID uuid.UUID, filter MetadataFilter) ([]*EntityMetadata, error) {
	query := metadataSelect + ` WHERE domain_id = $1`
	args := []interface{}{domainID}

	add := func(clause string, val interface{}) {
		args = append(args, val)
		query += fmt.Sprintf(" AND "+clause, len(args))
	}
	if filter.Identifier != "" {
		add("identifier = $%d", filter.Identifier)
	}
	if filter.Brand != "" {
		add("LOWER(brand) = LOWER($%d)", filter.Brand)
	}
	if filter.Category != "" {
		add("LOWER(category) = LOWER($%d)", filter.Category)
	}
	if filter.PriceMinCents != nil {
		add("price_cents >= $%d", *filter.PriceMinCents)
	}
	if filter.PriceMaxCents != nil {
		add("price_cents <= $%d", *filter.PriceMaxCents)
	}
	if filter.Availability != nil {
		add("availability = $%d", *filter.Availability)
	}
	return s.queryMetadata(ctx, query, args...)
}

// MetadataForChunks resolves chunk IDs to their metadata.
func (s *PostgresStore) MetadataForChunks(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*EntityMetadata, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*EntityMetadata{}, nil
	}
	query := metadataSelect + ` WHERE chunk_id = ANY($1::uuid[])`
	rows, err := s.queryMetadata(ctx, query, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]*EntityMetadata, len(rows))
	for _, m := range rows {
		out[m.ChunkID] = m
	}
	return out, nil
}

// EmbeddingsByDomain returns all embeddings of the given kind for a domain.
func (s *PostgresStore) EmbeddingsByDomain(ctx context.Context, domainID uuid.UUID, kind EmbeddingKind) ([]Embedding, error) {
	query := `
		SELECT e.chunk_id, e.kind, e.vector
		FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		WHERE c.domain_id = $1 AND e.kind = $2
	`
	rows, err := s.db.QueryContext(ctx, query, domainID, kind)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []Embedding
	for rows.Next() {
		var e Embedding
		var vec pq.Float64Array
		if err := rows.Scan(&e.ChunkID, &e.Kind, &vec); err != nil {
			return nil, err
		}
		e.Vector = toFloat32(vec)
		out = append(out, e)
	}
	return out, rows.Err()
}

const metadataSelect = `
	SELECT chunk_id, domain_id, identifier, price_cents, availability, brand, category, attrs
	FROM entity_metadata
`

func (s *PostgresStore) queryMetadata(ctx context.Context, query string, args ...interface{}) ([]*EntityMetadata, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*EntityMetadata
	for rows.Next() {
		m := &EntityMetadata{}
		var identifier, brand, category sql.NullString
		var price sql.NullInt64
		var avail sql.NullBool
		var attrs []byte
		if err := rows.Scan(
			&m.ChunkID, &m.DomainID, &identifier, &price, &avail, &brand, &category, &attrs,
		); err != nil {
			return nil, err
		}
		m.Identifier = identifier.String
		m.Brand = brand.String
		m.Category = category.String
		if price.Valid {
			v := price.Int64
			m.PriceCents = &v
		}
		if avail.Valid {
			v := avail.Bool
			m.Availability = &v
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &m.Attrs); err != nil {
				return nil, fmt.Errorf("decode attrs for chunk %s: %w", m.ChunkID, err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func marshalAttrs(attrs map[string]MetaValue) (interface{}, error) {
	if len(attrs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("encode attrs: %w", err)
	}
	return b, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
