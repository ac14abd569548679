package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/internal/recurrence"
	"github.com/noah-isme/studio-schedule-api/internal/service"
	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
	"github.com/noah-isme/studio-schedule-api/pkg/response"
)

type calendarFeed interface {
	Token(ctx context.Context, seriesID string) (*service.FeedToken, error)
	Render(ctx context.Context, seriesID, token string, window models.DateRange) ([]byte, error)
}

// CalendarHandler serves iCalendar subscriptions for a series.
type CalendarHandler struct {
	feed calendarFeed
}

// NewCalendarHandler constructs the handler.
func NewCalendarHandler(feed *service.CalendarFeed) *CalendarHandler {
	return &CalendarHandler{feed: feed}
}

// Register mounts the calendar routes on rg.
func (h *CalendarHandler) Register(rg gin.IRouter) {
	rg.POST("/series/:id/calendar-token", h.Token)
	rg.GET("/series/:id/calendar.ics", h.Feed)
}

// Token godoc
// @Summary Issue a calendar subscription token
// @Tags Calendar
// @Produce json
// @Param id path string true "Series ID"
// @Success 201 {object} response.Envelope
// @Router /series/{id}/calendar-token [post]
func (h *CalendarHandler) Token(c *gin.Context) {
	token, err := h.feed.Token(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, token)
}

// Feed godoc
// @Summary Series occurrences as an iCalendar feed
// @Tags Calendar
// @Produce text/calendar
// @Param id path string true "Series ID"
// @Param token query string false "Subscription token"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Success 200 {string} string "VCALENDAR"
// @Router /series/{id}/calendar.ics [get]
func (h *CalendarHandler) Feed(c *gin.Context) {
	from, err := dateQuery(c, "from")
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := dateQuery(c, "to")
	if err != nil {
		response.Error(c, err)
		return
	}

	body, err := h.feed.Render(c.Request.Context(), c.Param("id"), c.Query("token"), models.DateRange{From: from, To: to})
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=300")
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", body)
}

func dateQuery(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := recurrence.ParseDate(raw)
	if err != nil {
		return time.Time{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid "+name+" date")
	}
	return d, nil
}
