package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/solivox/solivox/pkg/provider/embeddings"
)

// SemanticSchema is the SQL DDL for the faq_entries table. Requires the
// pgvector extension. Execute it via [SemanticIndex.Migrate] or apply it
// manually during deployment. The embedding dimension placeholder is filled
// in from the configured embeddings provider.
const SemanticSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS faq_entries (
    id        TEXT PRIMARY KEY,
    question  TEXT NOT NULL,
    answer    TEXT NOT NULL,
    embedding VECTOR(%d) NOT NULL
);
`

// DB is the database interface used by [SemanticIndex]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SemanticIndex answers FAQ lookups by embedding similarity instead of
// keyword matching. Entries are embedded once at index time; queries are
// embedded per lookup and ranked by cosine distance in Postgres.
//
// This is an optional upgrade over [FAQ.Answer] for deployments with a
// Postgres instance; the keyword path needs no infrastructure.
type SemanticIndex struct {
	db       DB
	embedder embeddings.Provider

	// minSimilarity is the cosine similarity floor below which a lookup
	// reports no match.
	minSimilarity float64
}

// NewSemanticIndex creates a SemanticIndex over the given database and
// embeddings provider. The caller is responsible for calling Migrate before
// issuing queries.
func NewSemanticIndex(db DB, embedder embeddings.Provider, minSimilarity float64) *SemanticIndex {
	return &SemanticIndex{db: db, embedder: embedder, minSimilarity: minSimilarity}
}

// Migrate executes the schema DDL, creating the faq_entries table sized to
// the embedder's dimensionality if it does not already exist.
func (s *SemanticIndex) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(SemanticSchema, s.embedder.Dimensions())
	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("content: migrate semantic index: %w", err)
	}
	return nil
}

// Index embeds the given FAQ entries in one batch and upserts them. Existing
// entries with the same id are replaced, so re-indexing after a content
// change is safe.
func (s *SemanticIndex) Index(ctx context.Context, entries []FAQEntry) error {
	if len(entries) == 0 {
		return nil
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Question
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("content: embed FAQ entries: %w", err)
	}

	const query = `
		INSERT INTO faq_entries (id, question, answer, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			question = EXCLUDED.question,
			answer = EXCLUDED.answer,
			embedding = EXCLUDED.embedding`

	for i, e := range entries {
		if _, err := s.db.Exec(ctx, query, e.ID, e.Question, e.Answer, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("content: index FAQ entry %q: %w", e.ID, err)
		}
	}
	return nil
}

// Answer embeds the spoken question and returns the closest indexed entry,
// or ok=false when nothing clears the similarity floor.
func (s *SemanticIndex) Answer(ctx context.Context, utterance string) (FAQEntry, bool, error) {
	vec, err := s.embedder.Embed(ctx, utterance)
	if err != nil {
		return FAQEntry{}, false, fmt.Errorf("content: embed query: %w", err)
	}

	const query = `
		SELECT id, question, answer, 1 - (embedding <=> $1) AS similarity
		FROM faq_entries
		ORDER BY embedding <=> $1
		LIMIT 1`

	var (
		entry      FAQEntry
		similarity float64
	)
	err = s.db.QueryRow(ctx, query, pgvector.NewVector(vec)).Scan(
		&entry.ID, &entry.Question, &entry.Answer, &similarity,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FAQEntry{}, false, nil
		}
		return FAQEntry{}, false, fmt.Errorf("content: semantic lookup: %w", err)
	}
	if similarity < s.minSimilarity {
		return FAQEntry{}, false, nil
	}
	return entry, true, nil
}
