package store

// Category buckets knowledge content for per-category answer thresholds.
// Compliance answers (SOC2, HIPAA, GDPR, ISO27001) demand a higher retrieval
// confidence than general product information.
type Category string

const (
	CategoryGeneral    Category = "general"
	CategoryCompliance Category = "compliance"
	CategoryPricing    Category = "pricing"
)

// KnowledgeChunk is one embedded fragment of the support knowledge base.
type KnowledgeChunk struct {
	ID        int32
	Source    string // document the chunk came from, used as citation
	Title     string
	Content   string
	Category  Category
	Embedding []float32
	CreatedTs int64
}

// ScoredKnowledgeChunk is a retrieval candidate with its cosine similarity.
// The embedding stays attached so diversity re-ranking can run on the caller side.
type ScoredKnowledgeChunk struct {
	Chunk *KnowledgeChunk
	Score float32
}

type FindKnowledgeChunk struct {
	ID       *int32
	Source   *string
	Category *Category
	Limit    *int
}

// SearchKnowledgeChunk asks the driver for the FetchK nearest chunks by cosine
// similarity to Vector. Further narrowing (MMR, thresholds) happens above the store.
type SearchKnowledgeChunk struct {
	Vector   []float32
	FetchK   int
	Category *Category
}

type DeleteKnowledgeChunk struct {
	ID     *int32
	Source *string
}
