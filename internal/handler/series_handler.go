package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studio-schedule-api/internal/dto"
	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/internal/service"
	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
	"github.com/noah-isme/studio-schedule-api/pkg/response"
)

type seriesService interface {
	Create(ctx context.Context, req dto.CreateSeriesRequest, requestID string) (*models.Series, error)
	Get(ctx context.Context, id string) (*models.Series, error)
	List(ctx context.Context, query dto.ListSeriesQuery) ([]models.Series, *models.Pagination, error)
	Pause(ctx context.Context, id, requestID string) (*models.Series, error)
	Resume(ctx context.Context, id, requestID string) (*models.Series, error)
	End(ctx context.Context, id string, req dto.EndSeriesRequest, requestID string) (*dto.EndSeriesResponse, error)
	AddSkipDate(ctx context.Context, id string, req dto.SkipDateRequest, requestID string) (*dto.SkipDateResponse, error)
	Materialize(ctx context.Context, id string, req dto.MaterializeRequest) ([]models.Occurrence, error)
	Occurrences(ctx context.Context, id string, query dto.OccurrenceQuery) ([]models.Occurrence, error)
	Preview(ctx context.Context, seriesID string, req dto.PreviewRequest) (*dto.PreviewResponse, error)
	Apply(ctx context.Context, seriesID string, req dto.ApplyRequest, requestID string) (*models.CommitResult, error)
	Describe(req dto.DescribeRequest) (*dto.DescribeResponse, error)
}

// SeriesHandler exposes class series endpoints.
type SeriesHandler struct {
	service seriesService
}

// NewSeriesHandler constructs the handler.
func NewSeriesHandler(svc *service.SeriesService) *SeriesHandler {
	return &SeriesHandler{service: svc}
}

// Register mounts the series routes on rg.
func (h *SeriesHandler) Register(rg gin.IRouter) {
	rg.POST("/series", h.Create)
	rg.GET("/series", h.List)
	rg.GET("/series/:id", h.Get)
	rg.POST("/series/:id/pause", h.Pause)
	rg.POST("/series/:id/resume", h.Resume)
	rg.POST("/series/:id/end", h.End)
	rg.POST("/series/:id/skip-dates", h.AddSkipDate)
	rg.POST("/series/:id/materialize", h.Materialize)
	rg.GET("/series/:id/occurrences", h.Occurrences)
	rg.POST("/series/:id/preview", h.Preview)
	rg.POST("/series/:id/apply", h.Apply)
	rg.POST("/recurrence/describe", h.Describe)
}

// Create godoc
// @Summary Create a recurring class series
// @Tags Series
// @Accept json
// @Produce json
// @Param payload body dto.CreateSeriesRequest true "Series payload"
// @Success 201 {object} response.Envelope
// @Router /series [post]
func (h *SeriesHandler) Create(c *gin.Context) {
	var req dto.CreateSeriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "series"))
		return
	}
	series, err := h.service.Create(c.Request.Context(), req, requestIDFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("ETag", versionETag(series.Version))
	response.Created(c, series)
}

// List godoc
// @Summary List class series
// @Tags Series
// @Produce json
// @Param status query []string false "Status filter"
// @Param instructorId query string false "Instructor filter"
// @Param locationId query string false "Location filter"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /series [get]
func (h *SeriesHandler) List(c *gin.Context) {
	var query dto.ListSeriesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "query"))
		return
	}
	list, pagination, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, pagination)
}

// Get godoc
// @Summary Get a class series
// @Description The ETag carries the series version expected by apply.
// @Tags Series
// @Produce json
// @Param id path string true "Series ID"
// @Success 200 {object} response.Envelope
// @Router /series/{id} [get]
func (h *SeriesHandler) Get(c *gin.Context) {
	series, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("ETag", versionETag(series.Version))
	response.JSON(c, http.StatusOK, series, nil)
}

// Pause godoc
// @Summary Pause generation for a series
// @Tags Series
// @Produce json
// @Param id path string true "Series ID"
// @Success 200 {object} response.Envelope
// @Router /series/{id}/pause [post]
func (h *SeriesHandler) Pause(c *gin.Context) {
	series, err := h.service.Pause(c.Request.Context(), c.Param("id"), requestIDFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, series, nil)
}

// Resume godoc
// @Summary Resume a paused series
// @Tags Series
// @Produce json
// @Param id path string true "Series ID"
// @Success 200 {object} response.Envelope
// @Router /series/{id}/resume [post]
func (h *SeriesHandler) Resume(c *gin.Context) {
	series, err := h.service.Resume(c.Request.Context(), c.Param("id"), requestIDFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, series, nil)
}

// End godoc
// @Summary End a series and cancel its upcoming occurrences
// @Tags Series
// @Accept json
// @Produce json
// @Param id path string true "Series ID"
// @Param payload body dto.EndSeriesRequest false "End payload"
// @Success 200 {object} response.Envelope
// @Router /series/{id}/end [post]
func (h *SeriesHandler) End(c *gin.Context) {
	var req dto.EndSeriesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, bindError(err, "end"))
			return
		}
	}
	result, err := h.service.End(c.Request.Context(), c.Param("id"), req, requestIDFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	result.CancelledOccurrenceIDs = nonNilIDs(result.CancelledOccurrenceIDs)
	response.JSON(c, http.StatusOK, result, nil, response.Warnings(result.Warnings))
}

// AddSkipDate godoc
// @Summary Exclude a date from a series
// @Tags Series
// @Accept json
// @Produce json
// @Param id path string true "Series ID"
// @Param payload body dto.SkipDateRequest true "Skip date payload"
// @Success 200 {object} response.Envelope
// @Router /series/{id}/skip-dates [post]
func (h *SeriesHandler) AddSkipDate(c *gin.Context) {
	var req dto.SkipDateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "skip date"))
		return
	}
	result, err := h.service.AddSkipDate(c.Request.Context(), c.Param("id"), req, requestIDFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil, response.Warnings(result.Warnings))
}

// Materialize godoc
// @Summary Generate occurrences ahead
// @Tags Series
// @Accept json
// @Produce json
// @Param id path string true "Series ID"
// @Param payload body dto.MaterializeRequest false "Materialize payload"
// @Success 200 {object} response.Envelope
// @Router /series/{id}/materialize [post]
func (h *SeriesHandler) Materialize(c *gin.Context) {
	var req dto.MaterializeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, bindError(err, "materialize"))
			return
		}
	}
	created, err := h.service.Materialize(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if created == nil {
		created = []models.Occurrence{}
	}
	response.JSON(c, http.StatusOK, dto.MaterializeResponse{Created: created}, nil)
}

// Occurrences godoc
// @Summary List a series' occurrences
// @Tags Occurrences
// @Produce json
// @Param id path string true "Series ID"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /series/{id}/occurrences [get]
func (h *SeriesHandler) Occurrences(c *gin.Context) {
	var query dto.OccurrenceQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, bindError(err, "query"))
		return
	}
	list, err := h.service.Occurrences(c.Request.Context(), c.Param("id"), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, list, nil)
}

// Preview godoc
// @Summary Preview the impact of an edit
// @Tags Changes
// @Accept json
// @Produce json
// @Param id path string true "Series ID"
// @Param payload body dto.PreviewRequest true "Preview payload"
// @Success 200 {object} response.Envelope
// @Router /series/{id}/preview [post]
func (h *SeriesHandler) Preview(c *gin.Context) {
	var req dto.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "preview"))
		return
	}
	result, err := h.service.Preview(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("ETag", versionETag(result.Resolution.SeriesVersion))
	response.JSON(c, http.StatusOK, result, nil)
}

// Apply godoc
// @Summary Commit an edit across a scope
// @Description expectedVersion may be sent in the body or as If-Match.
// @Tags Changes
// @Accept json
// @Produce json
// @Param id path string true "Series ID"
// @Param If-Match header string false "Series version"
// @Param payload body dto.ApplyRequest true "Apply payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /series/{id}/apply [post]
func (h *SeriesHandler) Apply(c *gin.Context) {
	var req dto.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "apply"))
		return
	}
	version, ok, err := ifMatchVersion(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	if ok {
		if req.ExpectedVersion != 0 && req.ExpectedVersion != version {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "If-Match and expectedVersion disagree"))
			return
		}
		req.ExpectedVersion = version
	}
	result, err := h.service.Apply(c.Request.Context(), c.Param("id"), req, requestIDFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	for _, s := range result.Series {
		if s.ID == c.Param("id") {
			c.Header("ETag", versionETag(s.Version))
		}
	}
	response.JSON(c, http.StatusOK, result, nil, response.Warnings(result.Warnings))
}

// Describe godoc
// @Summary Describe a recurrence rule
// @Tags Recurrence
// @Accept json
// @Produce json
// @Param payload body dto.DescribeRequest true "Rule payload"
// @Success 200 {object} response.Envelope
// @Router /recurrence/describe [post]
func (h *SeriesHandler) Describe(c *gin.Context) {
	var req dto.DescribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, bindError(err, "describe"))
		return
	}
	result, err := h.service.Describe(req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

func nonNilIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
