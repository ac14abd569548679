package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studio-schedule-api/internal/dto"
	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/internal/service"
	"github.com/noah-isme/studio-schedule-api/pkg/response"
)

type occurrenceService interface {
	UpdateOccurrence(ctx context.Context, id string, req dto.UpdateOccurrenceRequest, requestID string) (*models.Occurrence, []string, error)
	CancelOccurrence(ctx context.Context, id string, req dto.CancelOccurrenceRequest, requestID string) (*models.Occurrence, []string, error)
}

// OccurrenceHandler exposes single-occurrence edits.
type OccurrenceHandler struct {
	service occurrenceService
}

// NewOccurrenceHandler constructs the handler.
func NewOccurrenceHandler(svc *service.SeriesService) *OccurrenceHandler {
	return &OccurrenceHandler{service: svc}
}

// Register mounts the occurrence routes on rg.
func (h *OccurrenceHandler) Register(rg gin.IRouter) {
	rg.PATCH("/occurrences/:id", h.Update)
	rg.POST("/occurrences/:id/cancel", h.Cancel)
}

// Update godoc
// @Summary Override one occurrence
// @Description Marks the occurrence as an exception so later series edits leave it alone.
// @Tags Occurrences
// @Accept json
// @Produce json
// @Param id path string true "Occurrence ID"
// @Param payload body dto.UpdateOccurrenceRequest true "Override payload"
// @Success 200 {object} response.Envelope
// @Router /occurrences/{id} [patch]
func (h *OccurrenceHandler) Update(c *gin.Context) {
	var req dto.UpdateOccurrenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "occurrence"))
		return
	}
	occ, warnings, err := h.service.UpdateOccurrence(c.Request.Context(), c.Param("id"), req, requestIDFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, occ, nil, response.Warnings(warnings))
}

// Cancel godoc
// @Summary Cancel one occurrence
// @Tags Occurrences
// @Accept json
// @Produce json
// @Param id path string true "Occurrence ID"
// @Param payload body dto.CancelOccurrenceRequest true "Cancel payload"
// @Success 200 {object} response.Envelope
// @Router /occurrences/{id}/cancel [post]
func (h *OccurrenceHandler) Cancel(c *gin.Context) {
	var req dto.CancelOccurrenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "cancel"))
		return
	}
	occ, warnings, err := h.service.CancelOccurrence(c.Request.Context(), c.Param("id"), req, requestIDFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, occ, nil, response.Warnings(warnings))
}
