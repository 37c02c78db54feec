// Package embedding stores dense vector representations of papers.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/scopus-ingest/internal/database"
)

// SourceCombined marks embeddings computed from the concatenated title,
// abstract, and keywords of a paper.
const SourceCombined = "combined"

// Embedding is one stored vector for a paper. A paper may carry one vector
// per (model, source) pair.
type Embedding struct {
	PaperID int64
	Model   string
	Source  string
	Vector  []float32
}

// Store reads and writes paper embeddings.
type Store struct {
	db     database.DBTX
	logger zerolog.Logger
}

// NewStore creates a Store on the given connection.
func NewStore(db database.DBTX, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// UpsertBatch writes the given embeddings in one statement, replacing any
// existing vector for the same (paper, model, source). Duplicate keys within
// the batch keep the last vector.
func (s *Store) UpsertBatch(ctx context.Context, embeddings []Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}

	type key struct {
		paperID       int64
		model, source string
	}
	deduped := make([]Embedding, 0, len(embeddings))
	index := make(map[key]int, len(embeddings))
	for _, e := range embeddings {
		k := key{paperID: e.PaperID, model: e.Model, source: e.Source}
		if existing, seen := index[k]; seen {
			deduped[existing] = e
		} else {
			index[k] = len(deduped)
			deduped = append(deduped, e)
		}
	}

	valueStrings := make([]string, 0, len(deduped))
	args := make([]interface{}, 0, len(deduped)*4)
	for i, e := range deduped {
		base := i * 4
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4))
		args = append(args, e.PaperID, e.Model, e.Source, e.Vector)
	}

	query := fmt.Sprintf(`
		INSERT INTO paper_embeddings (paper_id, model, source, embedding)
		VALUES %s
		ON CONFLICT (paper_id, model, source) DO UPDATE SET embedding = EXCLUDED.embedding`,
		strings.Join(valueStrings, ", "))

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert embeddings: %w", err)
	}

	s.logger.Debug().Int("count", len(deduped)).Msg("embeddings upserted")
	return nil
}

// Upsert writes a single embedding.
func (s *Store) Upsert(ctx context.Context, e Embedding) error {
	return s.UpsertBatch(ctx, []Embedding{e})
}

// MissingPaper is a paper that has no stored embedding for a given model and
// source, along with the text to embed.
type MissingPaper struct {
	PaperID  int64
	Title    *string
	Abstract *string
}

// ListMissing returns up to limit papers without an embedding for the given
// model and source.
func (s *Store) ListMissing(ctx context.Context, model, source string, limit int) ([]MissingPaper, error) {
	query := `
		SELECT p.paper_id, p.title, p.abstract
		FROM papers p
		WHERE NOT EXISTS (
			SELECT 1 FROM paper_embeddings e
			WHERE e.paper_id = p.paper_id AND e.model = $1 AND e.source = $2
		)
		ORDER BY p.paper_id
		LIMIT $3`

	rows, err := s.db.Query(ctx, query, model, source, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list papers without embeddings: %w", err)
	}
	defer rows.Close()

	var papers []MissingPaper
	for rows.Next() {
		var p MissingPaper
		if err := rows.Scan(&p.PaperID, &p.Title, &p.Abstract); err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

// CountByModel returns the number of stored embeddings per model.
func (s *Store) CountByModel(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.Query(ctx, `SELECT model, COUNT(*) FROM paper_embeddings GROUP BY model`)
	if err != nil {
		return nil, fmt.Errorf("failed to count embeddings: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var model string
		var count int64
		if err := rows.Scan(&model, &count); err != nil {
			return nil, err
		}
		counts[model] = count
	}
	return counts, rows.Err()
}
