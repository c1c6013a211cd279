package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"medrag/pipeline"
	"medrag/types"
)

type QueryHandler struct {
	pipeline *pipeline.Pipeline
}

func NewQueryHandler(p *pipeline.Pipeline) *QueryHandler {
	return &QueryHandler{
		pipeline: p,
	}
}

func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var params types.QueryParams
	if c.BodyParser(&params) != nil {
		return ErrBadRequest()
	}

	if errors := types.Validate(&params); len(errors) > 0 {
		return NewValidationError(errors)
	}

	answer := h.pipeline.Query(context.Background(), params.User, params.Prompt, params.TopK)
	if answer == nil {
		return ErrPipelineFailed()
	}

	sources := make([]types.Source, len(answer.Sources))
	for i, rec := range answer.Sources {
		sources[i] = types.Source{
			Title:     rec.Metadata["title"],
			ChunkText: rec.Content,
			Score:     rec.Score,
		}
	}

	resp := &types.SearchResponse{
		Answer:    answer.Text,
		Sources:   sources,
		Timestamp: time.Now(),
	}
	return c.JSON(resp)
}
