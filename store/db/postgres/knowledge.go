package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/relaydesk/relaydesk/store"
)

func (d *DB) CreateKnowledgeChunk(ctx context.Context, create *store.KnowledgeChunk) (*store.KnowledgeChunk, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	if create.Category == "" {
		create.Category = store.CategoryGeneral
	}

	stmt := `
		INSERT INTO knowledge_chunk (source, title, content, category, embedding, created_ts)
		VALUES (` + placeholders(6) + `)
		RETURNING id`

	vector := pgvector.NewVector(create.Embedding)
	if err := d.db.QueryRowContext(ctx, stmt,
		create.Source,
		create.Title,
		create.Content,
		create.Category,
		vector,
		create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create knowledge chunk")
	}

	return create, nil
}

func (d *DB) ListKnowledgeChunks(ctx context.Context, find *store.FindKnowledgeChunk) ([]*store.KnowledgeChunk, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.Source != nil {
		where, args = append(where, "source = "+placeholder(len(args)+1)), append(args, *find.Source)
	}
	if find.Category != nil {
		where, args = append(where, "category = "+placeholder(len(args)+1)), append(args, string(*find.Category))
	}

	query := `
		SELECT id, source, title, content, category, embedding, created_ts
		FROM knowledge_chunk
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id`
	if find.Limit != nil {
		query += " LIMIT " + placeholder(len(args)+1)
		args = append(args, *find.Limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list knowledge chunks")
	}
	defer rows.Close()

	list := []*store.KnowledgeChunk{}
	for rows.Next() {
		chunk := &store.KnowledgeChunk{}
		var vector pgvector.Vector
		if err := rows.Scan(&chunk.ID, &chunk.Source, &chunk.Title, &chunk.Content, &chunk.Category, &vector, &chunk.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan knowledge chunk")
		}
		chunk.Embedding = vector.Slice()
		list = append(list, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// SearchKnowledgeChunks returns the FetchK nearest chunks by cosine similarity.
// The <=> operator computes cosine distance, so similarity is 1 - distance and
// ordering by distance ascending yields most similar first.
func (d *DB) SearchKnowledgeChunks(ctx context.Context, search *store.SearchKnowledgeChunk) ([]*store.ScoredKnowledgeChunk, error) {
	fetchK := search.FetchK
	if fetchK <= 0 {
		fetchK = 20
	}

	where, args := []string{"embedding IS NOT NULL"}, []any{}
	if search.Category != nil {
		where, args = append(where, "category = "+placeholder(len(args)+1)), append(args, string(*search.Category))
	}

	vector := pgvector.NewVector(search.Vector)
	query := `
		SELECT id, source, title, content, category, embedding,
			1 - (embedding <=> ` + placeholder(len(args)+1) + `) AS score
		FROM knowledge_chunk
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY embedding <=> ` + placeholder(len(args)+2) + `
		LIMIT ` + placeholder(len(args)+3)
	args = append(args, vector, vector, fetchK)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search knowledge chunks")
	}
	defer rows.Close()

	results := []*store.ScoredKnowledgeChunk{}
	for rows.Next() {
		chunk := &store.KnowledgeChunk{}
		var chunkVector pgvector.Vector
		var score float32
		if err := rows.Scan(&chunk.ID, &chunk.Source, &chunk.Title, &chunk.Content, &chunk.Category, &chunkVector, &score); err != nil {
			return nil, errors.Wrap(err, "failed to scan knowledge search result")
		}
		chunk.Embedding = chunkVector.Slice()
		results = append(results, &store.ScoredKnowledgeChunk{Chunk: chunk, Score: score})
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

func (d *DB) DeleteKnowledgeChunks(ctx context.Context, delete *store.DeleteKnowledgeChunk) error {
	where, args := []string{"1 = 1"}, []any{}

	if delete.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *delete.ID)
	}
	if delete.Source != nil {
		where, args = append(where, "source = "+placeholder(len(args)+1)), append(args, *delete.Source)
	}

	stmt := `DELETE FROM knowledge_chunk WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to delete knowledge chunks")
	}
	return nil
}
