// Package answer produces grounded answers for information questions.
// Retrieval fetches a candidate pool from the knowledge index, MMR picks a
// diverse subset, and the LLM answers from that context with a self-reported
// confidence. The answerer reports facts; escalation decisions belong to the
// orchestrator, except where retrieval itself came up empty.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/relaydesk/relaydesk/ai/llm"
	"github.com/relaydesk/relaydesk/store"
)

// KnowledgeStore defines the retrieval interface.
type KnowledgeStore interface {
	SearchKnowledgeChunks(ctx context.Context, search *store.SearchKnowledgeChunk) ([]*store.ScoredKnowledgeChunk, error)
}

// LLMService defines the interface for grounded answer generation.
type LLMService interface {
	Chat(ctx context.Context, messages []llm.Message) (string, *llm.CallStats, error)
}

// EmbeddingService defines the interface for query embedding.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config holds the retrieval and scoring knobs.
type Config struct {
	// TopK is how many chunks reach the prompt after MMR.
	TopK int
	// FetchK is the candidate pool size fetched for MMR.
	FetchK int
	// Lambda balances relevance against diversity in MMR.
	Lambda float32
	// Kmin is the minimum number of chunks above SimilarityFloor for the
	// answer to count as well grounded.
	Kmin int
	// SimilarityFloor is the cosine score below which a chunk does not
	// count as supporting evidence.
	SimilarityFloor float32
	// LowConfidenceCeil caps the reported confidence when grounding is
	// thin, so the caller escalates.
	LowConfidenceCeil float32
	// MedConfCap caps pricing answers so enterprise tier questions always
	// land below the answer threshold.
	MedConfCap float32
	// DefaultConfidence is used when the model omits its confidence line.
	DefaultConfidence float32
	// DedupOverlap is the sentence token-overlap ratio treated as a repeat
	// of a recent reply.
	DedupOverlap float32
	// DemoSuffix appends a demo offer to general-category answers.
	DemoSuffix bool
}

func DefaultConfig() *Config {
	return &Config{
		TopK:              5,
		FetchK:            20,
		Lambda:            0.7,
		Kmin:              2,
		SimilarityFloor:   0.35,
		LowConfidenceCeil: 0.50,
		MedConfCap:        0.65,
		DefaultConfidence: 0.60,
		DedupOverlap:      0.80,
		DemoSuffix:        true,
	}
}

// Request is one answering task.
type Request struct {
	Query string
	// RecentAITurns carries the session's last AI replies for repetition
	// suppression, newest last.
	RecentAITurns []string
}

// Result is the answer produced for a Request.
type Result struct {
	Text             string
	Confidence       float32
	Citations        []string
	Category         store.Category
	ShouldEscalate   bool
	EscalationReason string
}

const noKnowledgeReply = "I don't have that information in my knowledge base. Let me connect you with someone who can help."

const demoSuffix = "Would you like to see it in action? I can set up a quick demo."

const answerSystemPrompt = `You are an expert support assistant. Use the provided context to answer the user's question.

INSTRUCTIONS:
1. Base your answer primarily on the provided context
2. Be specific and cite relevant information from the context
3. If the context doesn't contain enough information, say "I don't have that information"
4. Mention relevant timelines, pricing, or implementation details when available
5. Keep the answer concise

CONFIDENCE SCORING:
- High confidence (>0.8): context directly answers the question with specific details
- Medium confidence (0.6-0.8): context provides relevant but incomplete information
- Low confidence (<0.6): context is tangentially related or insufficient

End your reply with a final line in exactly this format:
CONFIDENCE: [score]`

// Service answers information questions from the knowledge index.
type Service struct {
	store    KnowledgeStore
	llm      LLMService
	embedder EmbeddingService
	config   *Config
}

func NewService(knowledgeStore KnowledgeStore, llmService LLMService, embedder EmbeddingService, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		store:    knowledgeStore,
		llm:      llmService,
		embedder: embedder,
		config:   config,
	}
}

// Answer runs the retrieval pipeline for req. Transport failures return an
// error; an empty or weakly grounded index returns an honest miss with
// ShouldEscalate set.
func (s *Service) Answer(ctx context.Context, req *Request) (*Result, error) {
	startTime := time.Now()
	query := normalizeQuery(req.Query)

	queryVector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}

	candidates, err := s.store.SearchKnowledgeChunks(ctx, &store.SearchKnowledgeChunk{
		Vector: queryVector,
		FetchK: s.config.FetchK,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}

	aboveFloor := 0
	for _, c := range candidates {
		if c.Score >= s.config.SimilarityFloor {
			aboveFloor++
		}
	}
	if len(candidates) == 0 || aboveFloor == 0 {
		return &Result{
			Text:             noKnowledgeReply,
			Confidence:       0,
			ShouldEscalate:   true,
			EscalationReason: "no relevant knowledge found",
		}, nil
	}

	selected := maximalMarginalRelevance(candidates, s.config.TopK, s.config.Lambda)
	category := detectCategory(selected)

	response, _, err := s.llm.Chat(ctx, []llm.Message{
		llm.SystemPrompt(answerSystemPrompt),
		llm.UserMessage(buildAnswerPrompt(query, selected)),
	})
	if err != nil {
		return nil, fmt.Errorf("answer generation failed: %w", err)
	}

	text, confidence := parseConfidence(response, s.config.DefaultConfidence)
	if aboveFloor < s.config.Kmin && confidence > s.config.LowConfidenceCeil {
		confidence = s.config.LowConfidenceCeil
	}
	if category == store.CategoryPricing && confidence > s.config.MedConfCap {
		confidence = s.config.MedConfCap
	}

	text = dedupeAgainstRecent(text, req.RecentAITurns, s.config.DedupOverlap)
	if s.config.DemoSuffix && category == store.CategoryGeneral && confidence >= s.config.LowConfidenceCeil {
		text = text + "\n\n" + demoSuffix
	}

	result := &Result{
		Text:       text,
		Confidence: confidence,
		Citations:  citations(selected),
		Category:   category,
	}

	slog.Debug("answer generated",
		"category", category,
		"confidence", confidence,
		"candidates", len(candidates),
		"above_floor", aboveFloor,
		"citations", len(result.Citations),
		"duration_ms", time.Since(startTime).Milliseconds(),
	)
	return result, nil
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

func buildAnswerPrompt(query string, chunks []*store.ScoredKnowledgeChunk) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, c.Chunk.Title, c.Chunk.Content)
	}
	fmt.Fprintf(&b, "Question: %s", query)
	return b.String()
}

// detectCategory flags the answer category from the retrieved chunks.
// Compliance wins over pricing: a single compliance chunk in the selection
// is enough to suppress sales framing.
func detectCategory(chunks []*store.ScoredKnowledgeChunk) store.Category {
	category := store.CategoryGeneral
	for i, c := range chunks {
		if c.Chunk.Category == store.CategoryCompliance {
			return store.CategoryCompliance
		}
		if i == 0 && c.Chunk.Category == store.CategoryPricing {
			category = store.CategoryPricing
		}
	}
	return category
}

// parseConfidence extracts the trailing CONFIDENCE line, returning the reply
// with the line removed. Missing or malformed scores fall back to def;
// parsed scores are clamped to [0,1].
func parseConfidence(response string, def float32) (string, float32) {
	idx := strings.LastIndex(response, "CONFIDENCE:")
	if idx < 0 {
		return strings.TrimSpace(response), def
	}

	text := strings.TrimSpace(response[:idx])
	rest := strings.TrimSpace(response[idx+len("CONFIDENCE:"):])
	rest = strings.Trim(rest, "[]")
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return text, def
	}
	score, err := strconv.ParseFloat(strings.Trim(fields[0], "[]"), 32)
	if err != nil {
		return text, def
	}
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return text, float32(score)
}

func citations(chunks []*store.ScoredKnowledgeChunk) []string {
	seen := make(map[string]bool)
	var titles []string
	for _, c := range chunks {
		title := strings.TrimSpace(c.Chunk.Title)
		if title == "" || seen[title] {
			continue
		}
		seen[title] = true
		titles = append(titles, title)
	}
	return titles
}

// dedupeAgainstRecent drops sentences that restate a recent AI reply. When
// the whole answer is a repeat, the first sentence is kept with an explicit
// callback framing instead of echoing it verbatim.
func dedupeAgainstRecent(text string, recentAITurns []string, overlapThreshold float32) string {
	if len(recentAITurns) == 0 {
		return text
	}

	var recentSentences [][]string
	for _, turn := range recentAITurns {
		for _, sentence := range splitSentences(turn) {
			recentSentences = append(recentSentences, tokenize(sentence))
		}
	}
	if len(recentSentences) == 0 {
		return text
	}

	sentences := splitSentences(text)
	var kept []string
	for _, sentence := range sentences {
		tokens := tokenize(sentence)
		repeat := false
		for _, prior := range recentSentences {
			if tokenOverlap(tokens, prior) >= overlapThreshold {
				repeat = true
				break
			}
		}
		if !repeat {
			kept = append(kept, sentence)
		}
	}

	if len(kept) == len(sentences) {
		return text
	}
	if len(kept) == 0 {
		return "As mentioned earlier: " + sentences[0]
	}
	return strings.Join(kept, " ")
}

func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(text[start : i+1]); s != "" && s != "." {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func tokenize(sentence string) []string {
	return strings.Fields(strings.ToLower(strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return ' '
	}, sentence)))
}

func tokenOverlap(a, b []string) float32 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[t] = true
	}
	common := 0
	for _, t := range a {
		if set[t] {
			common++
		}
	}
	return float32(common) / float32(len(a))
}
