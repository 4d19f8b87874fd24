package v1

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/relaydesk/relaydesk/store"
)

type createKnowledgeRequest struct {
	Source   string `json:"source"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Category string `json:"category"`
}

type knowledgeResponse struct {
	ID       int32          `json:"id"`
	Source   string         `json:"source"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Category store.Category `json:"category"`
}

// handleCreateKnowledge ingests one knowledge chunk: the content is
// embedded and stored for retrieval. Requires the embedding service.
func (s *APIV1Service) handleCreateKnowledge(c echo.Context) error {
	if s.embedder == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "embedding service not configured")
	}

	var req createKnowledgeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Source = strings.TrimSpace(req.Source)
	req.Content = strings.TrimSpace(req.Content)
	if req.Source == "" || req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source and content are required")
	}

	category := store.Category(req.Category)
	switch category {
	case store.CategoryGeneral, store.CategoryCompliance, store.CategoryPricing:
	case "":
		category = store.CategoryGeneral
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown category")
	}

	ctx := c.Request().Context()
	vector, err := s.embedder.Embed(ctx, req.Content)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "failed to embed content")
	}

	chunk, err := s.Store.CreateKnowledgeChunk(ctx, &store.KnowledgeChunk{
		Source:    req.Source,
		Title:     req.Title,
		Content:   req.Content,
		Category:  category,
		Embedding: vector,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store knowledge chunk")
	}

	return c.JSON(http.StatusOK, convertKnowledge(chunk))
}

func (s *APIV1Service) handleListKnowledge(c echo.Context) error {
	find := &store.FindKnowledgeChunk{}
	if source := c.QueryParam("source"); source != "" {
		find.Source = &source
	}
	if raw := c.QueryParam("category"); raw != "" {
		category := store.Category(raw)
		find.Category = &category
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		find.Limit = &limit
	}

	chunks, err := s.Store.ListKnowledgeChunks(c.Request().Context(), find)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list knowledge chunks")
	}

	resp := make([]*knowledgeResponse, 0, len(chunks))
	for _, chunk := range chunks {
		resp = append(resp, convertKnowledge(chunk))
	}
	return c.JSON(http.StatusOK, map[string]any{"chunks": resp})
}

// handleDeleteKnowledge removes chunks by id or by source document.
func (s *APIV1Service) handleDeleteKnowledge(c echo.Context) error {
	del := &store.DeleteKnowledgeChunk{}
	if raw := c.QueryParam("id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
		}
		id32 := int32(id)
		del.ID = &id32
	}
	if source := c.QueryParam("source"); source != "" {
		del.Source = &source
	}
	if del.ID == nil && del.Source == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "id or source is required")
	}

	if err := s.Store.DeleteKnowledgeChunks(c.Request().Context(), del); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete knowledge chunks")
	}
	return c.NoContent(http.StatusOK)
}

func convertKnowledge(chunk *store.KnowledgeChunk) *knowledgeResponse {
	return &knowledgeResponse{
		ID:       chunk.ID,
		Source:   chunk.Source,
		Title:    chunk.Title,
		Content:  chunk.Content,
		Category: chunk.Category,
	}
}
