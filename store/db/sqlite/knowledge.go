package sqlite

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/relaydesk/relaydesk/store"
)

// Embeddings are stored as little-endian float32 BLOBs. Similarity search is
// computed in the Go application layer; the knowledge base is small enough
// that a full scan stays cheap.

func float32ArrayToBLOB(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	return buf
}

func blobToFloat32Array(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, errors.Errorf("invalid BLOB length: %d", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		bits := binary.LittleEndian.Uint32(blob[i*4 : i*4+4])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}

// cosineSimilarity computes cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct float32
	var normA float32
	var normB float32

	for i := 0; i < len(a); i++ {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}

func (d *DB) CreateKnowledgeChunk(ctx context.Context, create *store.KnowledgeChunk) (*store.KnowledgeChunk, error) {
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	if create.Category == "" {
		create.Category = store.CategoryGeneral
	}

	stmt := `
		INSERT INTO knowledge_chunk (source, title, content, category, embedding, created_ts)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`

	if err := d.db.QueryRowContext(ctx, stmt,
		create.Source,
		create.Title,
		create.Content,
		create.Category,
		float32ArrayToBLOB(create.Embedding),
		create.CreatedTs,
	).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create knowledge chunk")
	}

	return create, nil
}

func (d *DB) ListKnowledgeChunks(ctx context.Context, find *store.FindKnowledgeChunk) ([]*store.KnowledgeChunk, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.Source != nil {
		where, args = append(where, "source = ?"), append(args, *find.Source)
	}
	if find.Category != nil {
		where, args = append(where, "category = ?"), append(args, string(*find.Category))
	}

	query := `
		SELECT id, source, title, content, category, embedding, created_ts
		FROM knowledge_chunk
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY id`
	if find.Limit != nil {
		query += " LIMIT ?"
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
		var blob []byte
		if err := rows.Scan(&chunk.ID, &chunk.Source, &chunk.Title, &chunk.Content, &chunk.Category, &blob, &chunk.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan knowledge chunk")
		}
		if len(blob) > 0 {
			embedding, err := blobToFloat32Array(blob)
			if err != nil {
				return nil, errors.Wrap(err, "failed to decode embedding")
			}
			chunk.Embedding = embedding
		}
		list = append(list, chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

// SearchKnowledgeChunks scans candidate chunks and ranks them by cosine
// similarity computed in Go.
func (d *DB) SearchKnowledgeChunks(ctx context.Context, search *store.SearchKnowledgeChunk) ([]*store.ScoredKnowledgeChunk, error) {
	fetchK := search.FetchK
	if fetchK <= 0 {
		fetchK = 20
	}

	find := &store.FindKnowledgeChunk{Category: search.Category}
	chunks, err := d.ListKnowledgeChunks(ctx, find)
	if err != nil {
		return nil, err
	}

	results := []*store.ScoredKnowledgeChunk{}
	for _, chunk := range chunks {
		if len(chunk.Embedding) == 0 {
			continue
		}
		results = append(results, &store.ScoredKnowledgeChunk{
			Chunk: chunk,
			Score: cosineSimilarity(search.Vector, chunk.Embedding),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > fetchK {
		results = results[:fetchK]
	}
	return results, nil
}

func (d *DB) DeleteKnowledgeChunks(ctx context.Context, delete *store.DeleteKnowledgeChunk) error {
	where, args := []string{"1 = 1"}, []any{}

	if delete.ID != nil {
		where, args = append(where, "id = ?"), append(args, *delete.ID)
	}
	if delete.Source != nil {
		where, args = append(where, "source = ?"), append(args, *delete.Source)
	}

	stmt := `DELETE FROM knowledge_chunk WHERE ` + strings.Join(where, " AND ")
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to delete knowledge chunks")
	}
	return nil
}
