package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Document is one indexed chunk of a source document
type Document struct {
	ID        string                 `json:"id"`
	Content   string                 `json:"content"`
	Metadata  map[string]interface{} `json:"metadata"`
	Embedding []float32              `json:"embedding,omitempty"`
}

// SimilaritySearchResult represents a search result with score
type SimilaritySearchResult struct {
	Document Document
	Score    float64
}

// PGVectorStore keeps document chunks and their embeddings in one table.
type PGVectorStore struct {
	pool      *pgxpool.Pool
	tableName string
}

var tableNameRe = regexp.MustCompile(`^[a-z_][a-zA-Z0-9_]{0,62}$`)

// isValidTableName reports whether name is a safe PostgreSQL identifier:
// a lowercase letter or underscore first, then up to 62 word characters.
func isValidTableName(name string) bool {
	return tableNameRe.MatchString(name)
}

func NewPGVectorStore(pool *pgxpool.Pool, tableName string) (*PGVectorStore, error) {
	if !isValidTableName(tableName) {
		return nil, fmt.Errorf("invalid table name %q: must contain only alphanumeric characters and underscores, start with a letter or underscore, and be 1-63 characters long", tableName)
	}
	return &PGVectorStore{
		pool:      pool,
		tableName: tableName,
	}, nil
}

func (vs *PGVectorStore) table() string {
	return pgx.Identifier{vs.tableName}.Sanitize()
}

// EnsureSchema creates the pgvector extension, the table and its HNSW index.
// HNSW only supports up to 2000 dimensions; larger vectors fall back to exact search.
func (vs *PGVectorStore) EnsureSchema(ctx context.Context, dimension int) error {
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			content TEXT NOT NULL,
			metadata JSONB,
			embedding vector(%d),
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`, vs.table(), dimension)
	if _, err := vs.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", vs.tableName, err)
	}

	if dimension <= 2000 {
		indexQuery := fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS %s
			ON %s USING hnsw (embedding vector_cosine_ops)
		`, pgx.Identifier{vs.tableName + "_embedding_idx"}.Sanitize(), vs.table())
		if _, err := vs.pool.Exec(ctx, indexQuery); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", vs.tableName, err)
		}
	}
	return nil
}

// AddDocuments inserts all docs in a single batch.
func (vs *PGVectorStore) AddDocuments(ctx context.Context, docs []Document) error {
	query := fmt.Sprintf(`INSERT INTO %s (content, metadata, embedding) VALUES ($1, $2, $3)`, vs.table())

	batch := &pgx.Batch{}
	for _, doc := range docs {
		metadataJSON, err := json.Marshal(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		batch.Queue(query, doc.Content, metadataJSON, pgvector.NewVector(doc.Embedding))
	}

	br := vs.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range docs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
	}
	return nil
}

// SimilaritySearch returns the topK closest chunks by cosine distance,
// optionally restricted to one source.
func (vs *PGVectorStore) SimilaritySearch(ctx context.Context, queryEmbedding []float32, topK int, sourceFilter string) ([]SimilaritySearchResult, error) {
	embedding := pgvector.NewVector(queryEmbedding)

	where := ""
	args := []interface{}{embedding, topK}
	if sourceFilter != "" {
		where = "WHERE metadata->>'source' = $3"
		args = append(args, sourceFilter)
	}
	query := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT $2
	`, vs.table(), where)

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute similarity search: %w", err)
	}
	defer rows.Close()

	var results []SimilaritySearchResult
	for rows.Next() {
		var doc Document
		var metadataJSON []byte
		var similarity float64
		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON, &similarity); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		results = append(results, SimilaritySearchResult{Document: doc, Score: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return results, nil
}

// GetContentBySource retrieves all chunks of one source in insertion order.
func (vs *PGVectorStore) GetContentBySource(ctx context.Context, source string) ([]Document, error) {
	query := fmt.Sprintf(`
		SELECT id, content, metadata
		FROM %s
		WHERE metadata->>'source' = $1
		ORDER BY created_at
	`, vs.table())
	return vs.queryDocuments(ctx, query, source)
}

// GetContentByMetadata retrieves chunks matching a JSON filter.
// The filter supports $and, $or and $not; any other key is an equality match.
func (vs *PGVectorStore) GetContentByMetadata(ctx context.Context, filter map[string]interface{}) ([]Document, error) {
	var f metadataFilter
	whereClause, err := f.clause(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata query: %w", err)
	}

	query := fmt.Sprintf(`SELECT id, content, metadata FROM %s WHERE %s ORDER BY created_at`, vs.table(), whereClause)
	return vs.queryDocuments(ctx, query, f.args...)
}

// HasSource reports whether any chunk of source is already indexed.
func (vs *PGVectorStore) HasSource(ctx context.Context, source string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE metadata->>'source' = $1)`, vs.table())
	var exists bool
	if err := vs.pool.QueryRow(ctx, query, source).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check source: %w", err)
	}
	return exists, nil
}

func (vs *PGVectorStore) queryDocuments(ctx context.Context, query string, args ...interface{}) ([]Document, error) {
	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var documents []Document
	for rows.Next() {
		var doc Document
		var metadataJSON []byte
		if err := rows.Scan(&doc.ID, &doc.Content, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal(metadataJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		documents = append(documents, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return documents, nil
}

// metadataFilter collects the placeholder arguments of one WHERE clause.
type metadataFilter struct {
	args []interface{}
}

// clause renders filter as SQL. Keys are visited in sorted order so the same
// filter always yields the same placeholders.
func (f *metadataFilter) clause(filter map[string]interface{}) (string, error) {
	var conditions []string
	for _, key := range slices.Sorted(maps.Keys(filter)) {
		value := filter[key]
		switch key {
		case "$and", "$or":
			list, ok := value.([]interface{})
			if !ok {
				return "", fmt.Errorf("value for %s must be a list of conditions", key)
			}
			subConditions := make([]string, 0, len(list))
			for _, item := range list {
				subMap, ok := item.(map[string]interface{})
				if !ok {
					return "", fmt.Errorf("item in %s list must be a JSON object", key)
				}
				sub, err := f.clause(subMap)
				if err != nil {
					return "", err
				}
				subConditions = append(subConditions, "("+sub+")")
			}
			if len(subConditions) == 0 {
				continue
			}
			op := " AND "
			if key == "$or" {
				op = " OR "
			}
			conditions = append(conditions, "("+strings.Join(subConditions, op)+")")

		case "$not":
			subMap, ok := value.(map[string]interface{})
			if !ok {
				return "", fmt.Errorf("value for $not must be a JSON object")
			}
			sub, err := f.clause(subMap)
			if err != nil {
				return "", err
			}
			conditions = append(conditions, "NOT ("+sub+")")

		default:
			containment, err := json.Marshal(map[string]interface{}{key: value})
			if err != nil {
				return "", fmt.Errorf("failed to marshal metadata pair: %w", err)
			}
			f.args = append(f.args, containment)
			conditions = append(conditions, fmt.Sprintf("metadata @> $%d", len(f.args)))
		}
	}

	if len(conditions) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conditions, " AND "), nil
}
