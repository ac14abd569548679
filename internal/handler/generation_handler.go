package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studio-schedule-api/internal/service"
	"github.com/noah-isme/studio-schedule-api/pkg/response"
)

type generationRunner interface {
	RunOnce(ctx context.Context) (*service.GenerationReport, error)
}

// GenerationHandler triggers the generation-ahead job on demand.
type GenerationHandler struct {
	runner generationRunner
}

// NewGenerationHandler constructs the handler.
func NewGenerationHandler(scheduler *service.GenerationScheduler) *GenerationHandler {
	return &GenerationHandler{runner: scheduler}
}

// Run godoc
// @Summary Run occurrence generation now
// @Tags Series
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /generation/run [post]
func (h *GenerationHandler) Run(c *gin.Context) {
	report, err := h.runner.RunOnce(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
