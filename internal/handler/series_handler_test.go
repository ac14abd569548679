package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studio-schedule-api/internal/dto"
	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/internal/service"
	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
)

type seriesServiceMock struct {
	series   map[string]*models.Series
	applied  *dto.ApplyRequest
	listed   dto.ListSeriesQuery
	warnings []string
}

func newSeriesServiceMock() *seriesServiceMock {
	return &seriesServiceMock{series: map[string]*models.Series{
		"series-1": {ID: "series-1", Name: "Morning Flow", Status: models.SeriesStatusActive, Version: 3},
	}}
}

func (m *seriesServiceMock) lookup(id string) (*models.Series, error) {
	s, ok := m.series[id]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "series not found")
	}
	return s, nil
}

func (m *seriesServiceMock) Create(_ context.Context, req dto.CreateSeriesRequest, _ string) (*models.Series, error) {
	s := &models.Series{ID: "series-new", Name: req.Name, Version: 1}
	m.series[s.ID] = s
	return s, nil
}

func (m *seriesServiceMock) Get(_ context.Context, id string) (*models.Series, error) {
	return m.lookup(id)
}

func (m *seriesServiceMock) List(_ context.Context, query dto.ListSeriesQuery) ([]models.Series, *models.Pagination, error) {
	m.listed = query
	return []models.Series{*m.series["series-1"]}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 1}, nil
}

func (m *seriesServiceMock) Pause(_ context.Context, id, _ string) (*models.Series, error) {
	return m.lookup(id)
}

func (m *seriesServiceMock) Resume(_ context.Context, id, _ string) (*models.Series, error) {
	return m.lookup(id)
}

func (m *seriesServiceMock) End(_ context.Context, id string, _ dto.EndSeriesRequest, _ string) (*dto.EndSeriesResponse, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return &dto.EndSeriesResponse{Series: *s, Warnings: m.warnings}, nil
}

func (m *seriesServiceMock) AddSkipDate(_ context.Context, id string, _ dto.SkipDateRequest, _ string) (*dto.SkipDateResponse, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return &dto.SkipDateResponse{Series: *s, CancelledOccurrenceIDs: []string{}}, nil
}

func (m *seriesServiceMock) Materialize(context.Context, string, dto.MaterializeRequest) ([]models.Occurrence, error) {
	return nil, nil
}

func (m *seriesServiceMock) Occurrences(context.Context, string, dto.OccurrenceQuery) ([]models.Occurrence, error) {
	return []models.Occurrence{}, nil
}

func (m *seriesServiceMock) Preview(_ context.Context, id string, req dto.PreviewRequest) (*dto.PreviewResponse, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return &dto.PreviewResponse{Resolution: models.Resolution{SeriesID: id, Scope: models.EditScope(req.Scope), SeriesVersion: s.Version}}, nil
}

func (m *seriesServiceMock) Apply(_ context.Context, id string, req dto.ApplyRequest, _ string) (*models.CommitResult, error) {
	m.applied = &req
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if req.ExpectedVersion != s.Version {
		return nil, appErrors.Clone(appErrors.ErrConcurrentModification, "series was modified concurrently")
	}
	next := *s
	next.Version++
	return &models.CommitResult{Series: []models.Series{next}, Warnings: m.warnings}, nil
}

func (m *seriesServiceMock) Describe(req dto.DescribeRequest) (*dto.DescribeResponse, error) {
	return &dto.DescribeResponse{Rule: req.Rule, Description: "Weekly on Monday"}, nil
}

func newSeriesRouter(svc seriesService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	(&SeriesHandler{service: svc}).Register(r)
	return r
}

func perform(r http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestSeriesHandlerGetSetsETag(t *testing.T) {
	r := newSeriesRouter(newSeriesServiceMock())

	w := perform(r, http.MethodGet, "/series/series-1", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"3"`, w.Header().Get("ETag"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestSeriesHandlerGetNotFound(t *testing.T) {
	r := newSeriesRouter(newSeriesServiceMock())

	w := perform(r, http.MethodGet, "/series/missing", nil, nil)

	require.Equal(t, http.StatusNotFound, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["code"])
}

func TestSeriesHandlerCreate(t *testing.T) {
	r := newSeriesRouter(newSeriesServiceMock())

	w := perform(r, http.MethodPost, "/series", []byte(`{"name":"Evening Yin"}`), nil)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `"1"`, w.Header().Get("ETag"))
}

func TestSeriesHandlerCreateMalformed(t *testing.T) {
	r := newSeriesRouter(newSeriesServiceMock())

	w := perform(r, http.MethodPost, "/series", []byte(`{"name":`), nil)

	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, "VALIDATION_ERROR", body["error"].(map[string]any)["code"])
}

func TestSeriesHandlerListBindsQuery(t *testing.T) {
	svc := newSeriesServiceMock()
	r := newSeriesRouter(svc)

	w := perform(r, http.MethodGet, "/series?status=active&status=paused&page=2&pageSize=5", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"active", "paused"}, svc.listed.Status)
	assert.Equal(t, 2, svc.listed.Page)
	assert.Equal(t, 5, svc.listed.PageSize)
	body := decodeEnvelope(t, w)
	assert.EqualValues(t, 1, body["pagination"].(map[string]any)["total_count"])
}

func TestSeriesHandlerApply(t *testing.T) {
	payload := []byte(`{"fromDate":"2024-01-22","scope":"this_and_following","changes":{"capacity":12}}`)

	tests := []struct {
		name        string
		body        []byte
		ifMatch     string
		wantStatus  int
		wantVersion int
	}{
		{name: "if-match supplies version", body: payload, ifMatch: `"3"`, wantStatus: http.StatusOK, wantVersion: 3},
		{name: "weak tag accepted", body: payload, ifMatch: `W/"3"`, wantStatus: http.StatusOK, wantVersion: 3},
		{name: "stale version conflicts", body: payload, ifMatch: `"2"`, wantStatus: http.StatusConflict, wantVersion: 2},
		{
			name:       "header and body disagree",
			body:       []byte(`{"fromDate":"2024-01-22","scope":"entire_series","expectedVersion":2}`),
			ifMatch:    `"3"`,
			wantStatus: http.StatusBadRequest,
		},
		{name: "garbage tag", body: payload, ifMatch: `"abc"`, wantStatus: http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := newSeriesServiceMock()
			r := newSeriesRouter(svc)

			w := perform(r, http.MethodPost, "/series/series-1/apply", tc.body, map[string]string{"If-Match": tc.ifMatch})

			require.Equal(t, tc.wantStatus, w.Code)
			if tc.wantVersion == 0 {
				assert.Nil(t, svc.applied)
				return
			}
			require.NotNil(t, svc.applied)
			assert.Equal(t, tc.wantVersion, svc.applied.ExpectedVersion)
			if tc.wantStatus == http.StatusOK {
				assert.Equal(t, `"4"`, w.Header().Get("ETag"))
			}
		})
	}
}

func TestSeriesHandlerApplySurfacesWarnings(t *testing.T) {
	svc := newSeriesServiceMock()
	svc.warnings = []string{"capacity_reduced notification: booking service unavailable"}
	r := newSeriesRouter(svc)

	w := perform(r, http.MethodPost, "/series/series-1/apply",
		[]byte(`{"fromDate":"2024-01-08","scope":"entire_series","expectedVersion":3,"changes":{"capacity":8}}`), nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeEnvelope(t, w)
	warnings := body["meta"].(map[string]any)["warnings"].([]any)
	assert.Len(t, warnings, 1)
}

func TestSeriesHandlerPreviewETag(t *testing.T) {
	r := newSeriesRouter(newSeriesServiceMock())

	w := perform(r, http.MethodPost, "/series/series-1/preview", []byte(`{"fromDate":"2024-01-22","scope":"this_only"}`), nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `"3"`, w.Header().Get("ETag"))
}

func TestSeriesHandlerEndWithoutBody(t *testing.T) {
	r := newSeriesRouter(newSeriesServiceMock())

	w := perform(r, http.MethodPost, "/series/series-1/end", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, []any{}, body["data"].(map[string]any)["cancelledOccurrenceIds"])
}

func TestSeriesHandlerMaterializeReturnsEmptyList(t *testing.T) {
	r := newSeriesRouter(newSeriesServiceMock())

	w := perform(r, http.MethodPost, "/series/series-1/materialize", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeEnvelope(t, w)
	assert.Equal(t, []any{}, body["data"].(map[string]any)["created"])
}

type occurrenceServiceMock struct {
	cancelled dto.CancelOccurrenceRequest
	warnings  []string
}

func (m *occurrenceServiceMock) UpdateOccurrence(_ context.Context, id string, req dto.UpdateOccurrenceRequest, _ string) (*models.Occurrence, []string, error) {
	occ := &models.Occurrence{ID: id, IsException: true}
	if req.StartTime != nil {
		occ.StartTime = *req.StartTime
	}
	return occ, nil, nil
}

func (m *occurrenceServiceMock) CancelOccurrence(_ context.Context, id string, req dto.CancelOccurrenceRequest, _ string) (*models.Occurrence, []string, error) {
	m.cancelled = req
	return &models.Occurrence{ID: id, Status: models.OccurrenceStatusCancelled}, m.warnings, nil
}

func TestOccurrenceHandlerRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &occurrenceServiceMock{}
	r := gin.New()
	(&OccurrenceHandler{service: svc}).Register(r)

	w := perform(r, http.MethodPatch, "/occurrences/occ-1", []byte(`{"startTime":"10:00"}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]any)
	assert.Equal(t, "10:00", data["startTime"])
	assert.Equal(t, true, data["isException"])

	w = perform(r, http.MethodPost, "/occurrences/occ-1/cancel", []byte(`{"reason":"studio flooded"}`), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "studio flooded", svc.cancelled.Reason)
}

type calendarFeedMock struct {
	window models.DateRange
	token  string
}

func (m *calendarFeedMock) Token(_ context.Context, seriesID string) (*service.FeedToken, error) {
	return &service.FeedToken{Token: "tok-" + seriesID, ExpiresAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)}, nil
}

func (m *calendarFeedMock) Render(_ context.Context, _ string, token string, window models.DateRange) ([]byte, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired feed token")
	}
	m.window = window
	m.token = token
	return []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"), nil
}

func TestCalendarHandlerFeed(t *testing.T) {
	gin.SetMode(gin.TestMode)
	feed := &calendarFeedMock{}
	r := gin.New()
	(&CalendarHandler{feed: feed}).Register(r)

	w := perform(r, http.MethodGet, "/series/series-1/calendar.ics?token=good&from=2024-01-01&to=2024-01-31", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/calendar; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "BEGIN:VCALENDAR")
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), feed.window.To)

	w = perform(r, http.MethodGet, "/series/series-1/calendar.ics?token=bad", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = perform(r, http.MethodGet, "/series/series-1/calendar.ics?token=good&from=01/02/2024", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(r, http.MethodPost, "/series/series-1/calendar-token", nil, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "tok-series-1", decodeEnvelope(t, w)["data"].(map[string]any)["token"])
}

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	healthy := NewMetricsHandler(service.NewMetricsService(), map[string]Pinger{
		"postgres": PingFunc(func(context.Context) error { return nil }),
	})
	broken := NewMetricsHandler(nil, map[string]Pinger{
		"redis": PingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	r := gin.New()
	r.GET("/ready", healthy.Ready)
	r.GET("/ready-broken", broken.Ready)
	r.GET("/metrics", healthy.Prometheus)
	r.GET("/metrics/summary", broken.Summary)

	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/ready", nil, nil).Code)
	w := perform(r, http.MethodGet, "/ready-broken", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
	assert.Equal(t, http.StatusOK, perform(r, http.MethodGet, "/metrics", nil, nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, perform(r, http.MethodGet, "/metrics/summary", nil, nil).Code)
}

func TestSeriesHandlerEndReportsWarnings(t *testing.T) {
	svc := newSeriesServiceMock()
	svc.warnings = []string{"occurrences_cancelled notification: queue notifications: queue is full"}
	r := newSeriesRouter(svc)

	w := perform(r, http.MethodPost, "/series/series-1/end", nil, nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeEnvelope(t, w)
	meta := body["meta"].(map[string]any)
	assert.Equal(t, []any{svc.warnings[0]}, meta["warnings"])
	assert.NotContains(t, body["data"].(map[string]any), "warnings")
}

func TestOccurrenceHandlerCancelReportsWarnings(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &occurrenceServiceMock{warnings: []string{"occurrences_cancelled notification: booking service unavailable"}}
	r := gin.New()
	(&OccurrenceHandler{service: svc}).Register(r)

	w := perform(r, http.MethodPost, "/occurrences/occ-1/cancel", []byte(`{"reason":"studio flooded"}`), nil)

	require.Equal(t, http.StatusOK, w.Code)
	meta := decodeEnvelope(t, w)["meta"].(map[string]any)
	assert.Equal(t, []any{svc.warnings[0]}, meta["warnings"])
}
