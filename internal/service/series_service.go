package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/studio-schedule-api/internal/dto"
	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/internal/recurrence"
	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
)

// Directory confirms that instructor and location references exist.
type Directory interface {
	InstructorExists(ctx context.Context, id string) (bool, error)
	LocationExists(ctx context.Context, id string) (bool, error)
}

// SeriesService is the entry point for series lifecycle, previews and edits.
type SeriesService struct {
	store     *SeriesStore
	resolver  *EditScopeResolver
	impact    *ImpactCalculator
	applier   *ChangeApplier
	directory Directory
	bookings  BookingSource
	notifier  notificationSink
	audit     auditLogger
	cache     *PreviewCache
	validator *validator.Validate
	logger    *zap.Logger
}

// SeriesServiceOption configures the service.
type SeriesServiceOption func(*SeriesService)

// WithDirectory validates references on create and on edits that change them.
func WithDirectory(directory Directory) SeriesServiceOption {
	return func(s *SeriesService) {
		s.directory = directory
	}
}

// WithPreviewCache caches previews keyed by series version.
func WithPreviewCache(cache *PreviewCache) SeriesServiceOption {
	return func(s *SeriesService) {
		s.cache = cache
	}
}

// WithServiceNotifier routes skip-date and end-series cancellations to the booking subsystem.
func WithServiceNotifier(n notificationSink) SeriesServiceOption {
	return func(s *SeriesService) {
		s.notifier = n
	}
}

// WithServiceAudit records audit rows for lifecycle operations.
func WithServiceAudit(audit auditLogger) SeriesServiceOption {
	return func(s *SeriesService) {
		s.audit = audit
	}
}

// NewSeriesService wires the scheduling components together.
func NewSeriesService(store *SeriesStore, resolver *EditScopeResolver, impact *ImpactCalculator, applier *ChangeApplier, bookings BookingSource, validate *validator.Validate, logger *zap.Logger, opts ...SeriesServiceOption) *SeriesService {
	if validate == nil {
		validate = validator.New()
	}
	registerValidations(validate)
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SeriesService{
		store:     store,
		resolver:  resolver,
		impact:    impact,
		applier:   applier,
		bookings:  bookings,
		validator: validate,
		logger:    logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.cache.Enabled() && store != nil {
		store.OnMaterialized(func(ctx context.Context, seriesID string) {
			_ = s.cache.InvalidateSeries(ctx, seriesID)
		})
	}
	return s
}

// Create validates the request, persists the series and materializes it to the horizon.
func (s *SeriesService) Create(ctx context.Context, req dto.CreateSeriesRequest, requestID string) (*models.Series, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	rule, err := recurrence.Parse(req.Rule)
	if err != nil {
		return nil, ruleError(err)
	}
	start, _ := recurrence.ParseDate(req.StartDate)
	if !rule.Start.IsZero() && !recurrence.DateOf(rule.Start).Equal(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rule DTSTART disagrees with startDate")
	}
	end, err := requestEnd(rule, req.EndDate, req.OccurrenceCount)
	if err != nil {
		return nil, err
	}
	if end.Type == recurrence.EndOnDate && end.Until.Before(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "endDate precedes startDate")
	}
	if err := validateTimes(req.StartTime, req.EndTime); err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, &req.InstructorID, &req.LocationID); err != nil {
		return nil, err
	}

	series := models.Series{
		ID:           s.store.newID(),
		Name:         req.Name,
		InstructorID: req.InstructorID,
		LocationID:   req.LocationID,
		RoomID:       req.RoomID,
		Rule:         rule.Pattern().String(),
		StartDate:    start,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Capacity:     req.Capacity,
		PriceCents:   req.PriceCents,
		Status:       models.SeriesStatusActive,
	}
	series.SetEnd(end)
	for _, raw := range req.SkipDates {
		d, _ := recurrence.ParseDate(raw)
		if !series.HasSkipDate(d) {
			series.SkipDates = append(series.SkipDates, dateKey(d))
		}
	}

	committed, err := s.store.repo.Commit(ctx, models.ChangeSet{Series: []models.Series{series}})
	if err != nil {
		return nil, repoError(err, "series", series.ID, "failed to create series")
	}
	created := committed[0]
	if _, err := s.store.Materialize(ctx, created.ID); err != nil {
		s.logger.Warn("initial materialization failed", zap.String("series_id", created.ID), zap.Error(err))
	}
	s.emitAudit(ctx, models.AuditActionSeriesCreate, created.ID, nil, req, requestID)
	return &created, nil
}

func requestEnd(rule recurrence.Rule, endDate *string, count *int) (recurrence.EndCondition, error) {
	if endDate != nil && count != nil {
		return recurrence.EndCondition{}, appErrors.Clone(appErrors.ErrValidation, "endDate and occurrenceCount are mutually exclusive")
	}
	switch {
	case endDate != nil:
		until, _ := recurrence.ParseDate(*endDate)
		return recurrence.OnDate(until), nil
	case count != nil:
		return recurrence.AfterCount(*count), nil
	case rule.End.Type != "":
		return rule.End, nil
	default:
		return recurrence.Never(), nil
	}
}

func (s *SeriesService) checkReferences(ctx context.Context, instructorID, locationID *string) error {
	if s.directory == nil {
		return nil
	}
	if instructorID != nil {
		ok, err := s.directory.InstructorExists(ctx, *instructorID)
		if err != nil {
			return appErrors.Internal(err, "failed to verify instructor")
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("instructor %s does not exist", *instructorID))
		}
	}
	if locationID != nil {
		ok, err := s.directory.LocationExists(ctx, *locationID)
		if err != nil {
			return appErrors.Internal(err, "failed to verify location")
		}
		if !ok {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("location %s does not exist", *locationID))
		}
	}
	return nil
}

// Get returns a series.
func (s *SeriesService) Get(ctx context.Context, id string) (*models.Series, error) {
	return s.store.GetSeries(ctx, id)
}

// List returns a page of series.
func (s *SeriesService) List(ctx context.Context, query dto.ListSeriesQuery) ([]models.Series, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, validationError(err)
	}
	filter := models.SeriesFilter{
		InstructorID: query.InstructorID,
		LocationID:   query.LocationID,
		Page:         query.Page,
		PageSize:     query.PageSize,
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	for _, status := range query.Status {
		filter.Status = append(filter.Status, models.SeriesStatus(status))
	}
	list, total, err := s.store.repo.ListSeries(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Internal(err, "failed to list series")
	}
	return list, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// Pause stops generation for a series.
func (s *SeriesService) Pause(ctx context.Context, id, requestID string) (*models.Series, error) {
	return s.transition(ctx, id, models.SeriesStatusPaused, requestID)
}

// Resume restarts generation and materializes up to the horizon.
func (s *SeriesService) Resume(ctx context.Context, id, requestID string) (*models.Series, error) {
	series, err := s.transition(ctx, id, models.SeriesStatusActive, requestID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Materialize(ctx, id); err != nil {
		s.logger.Warn("materialize after resume failed", zap.String("series_id", id), zap.Error(err))
	}
	return series, nil
}

func (s *SeriesService) transition(ctx context.Context, id string, to models.SeriesStatus, requestID string) (*models.Series, error) {
	series, err := s.store.Transition(ctx, id, to)
	if err != nil {
		return nil, err
	}
	s.emitAudit(ctx, models.AuditActionSeriesStatus, id, nil, map[string]string{"status": string(to)}, requestID)
	return series, nil
}

// End terminates a series and cancels its upcoming occurrences.
func (s *SeriesService) End(ctx context.Context, id string, req dto.EndSeriesRequest, requestID string) (*dto.EndSeriesResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	series, cancelled, err := s.store.End(ctx, id, req.Reason)
	if err != nil {
		return nil, err
	}
	warnings := s.notifyCancelled(ctx, id, cancelled, req.Reason, requestID)
	s.emitAudit(ctx, models.AuditActionSeriesStatus, id, nil, map[string]any{"status": models.SeriesStatusEnded, "cancelled": len(cancelled)}, requestID)
	return &dto.EndSeriesResponse{Series: *series, CancelledOccurrenceIDs: nonNil(cancelled), Warnings: warnings}, nil
}

// AddSkipDate excludes a date and cancels the occurrence already generated for it.
func (s *SeriesService) AddSkipDate(ctx context.Context, id string, req dto.SkipDateRequest, requestID string) (*dto.SkipDateResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	date, _ := recurrence.ParseDate(req.Date)
	series, cancelled, err := s.store.AddSkipDate(ctx, id, date, req.Reason)
	if err != nil {
		return nil, err
	}
	warnings := s.notifyCancelled(ctx, id, cancelled, req.Reason, requestID)
	s.emitAudit(ctx, models.AuditActionSkipDate, id, nil, req, requestID)
	return &dto.SkipDateResponse{Series: *series, CancelledOccurrenceIDs: nonNil(cancelled), Warnings: warnings}, nil
}

// Materialize generates occurrences through the requested date or the horizon.
func (s *SeriesService) Materialize(ctx context.Context, id string, req dto.MaterializeRequest) ([]models.Occurrence, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	if req.Through == nil {
		return s.store.Materialize(ctx, id)
	}
	through, _ := recurrence.ParseDate(*req.Through)
	return s.store.MaterializeUntil(ctx, id, through)
}

// Occurrences lists a series' occurrences in an optional date window.
func (s *SeriesService) Occurrences(ctx context.Context, id string, query dto.OccurrenceQuery) ([]models.Occurrence, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, validationError(err)
	}
	var window models.DateRange
	if query.From != "" {
		window.From, _ = recurrence.ParseDate(query.From)
	}
	if query.To != "" {
		window.To, _ = recurrence.ParseDate(query.To)
	}
	return s.store.GetOccurrences(ctx, id, window)
}

// UpdateOccurrence turns one occurrence into an exception. Notification failures
// are returned as warnings.
func (s *SeriesService) UpdateOccurrence(ctx context.Context, id string, req dto.UpdateOccurrenceRequest, requestID string) (*models.Occurrence, []string, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, validationError(err)
	}
	overrides := models.OccurrenceOverrides{
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		InstructorID: req.InstructorID,
		LocationID:   req.LocationID,
		RoomID:       req.RoomID,
		Capacity:     req.Capacity,
		PriceCents:   req.PriceCents,
	}
	if req.Date != nil {
		d, _ := recurrence.ParseDate(*req.Date)
		overrides.Date = &d
	}
	if err := s.checkReferences(ctx, req.InstructorID, req.LocationID); err != nil {
		return nil, nil, err
	}
	occ, err := s.store.ApplyException(ctx, id, overrides)
	if err != nil {
		return nil, nil, err
	}
	warnings := s.dispatch(ctx, Notification{Kind: NotificationOccurrencesChanged, SeriesID: occ.SeriesID, OccurrenceIDs: []string{occ.ID}, RequestID: requestID})
	s.emitAudit(ctx, models.AuditActionOccurrenceEdit, occ.SeriesID, nil, map[string]any{"occurrenceId": id, "overrides": overrides}, requestID)
	return occ, warnings, nil
}

// CancelOccurrence cancels one occurrence.
func (s *SeriesService) CancelOccurrence(ctx context.Context, id string, req dto.CancelOccurrenceRequest, requestID string) (*models.Occurrence, []string, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, validationError(err)
	}
	occ, err := s.store.Cancel(ctx, id, req.Reason)
	if err != nil {
		return nil, nil, err
	}
	warnings := s.notifyCancelled(ctx, occ.SeriesID, []string{occ.ID}, req.Reason, requestID)
	s.emitAudit(ctx, models.AuditActionOccurrenceCancel, occ.SeriesID, nil, map[string]any{"occurrenceId": id, "reason": req.Reason}, requestID)
	return occ, warnings, nil
}

// Preview resolves the scope and computes its impact without writing anything.
func (s *SeriesService) Preview(ctx context.Context, seriesID string, req dto.PreviewRequest) (*dto.PreviewResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	from, _ := recurrence.ParseDate(req.FromDate)
	scope := models.EditScope(req.Scope)
	var changes models.SeriesChanges
	if req.Changes != nil {
		var err error
		if changes, err = toSeriesChanges(*req.Changes); err != nil {
			return nil, err
		}
	}

	series, err := s.store.GetSeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	// Only the resolution is cached. Impact follows booking state, which changes
	// without a series version bump, so it is recomputed on every call.
	key := PreviewKey(seriesID, series.Version, scope, dateKey(from))
	var res models.Resolution
	hit, _ := s.cache.Get(ctx, key, &res)
	if !hit {
		resolved, err := s.resolver.Resolve(ctx, seriesID, from, scope)
		if err != nil {
			return nil, err
		}
		res = *resolved
		if res.SeriesVersion == series.Version {
			_ = s.cache.Set(ctx, key, res, 0)
		}
	}

	impact, err := s.impact.Compute(ctx, impactTargets(&res, changes))
	if err != nil {
		return nil, err
	}
	out := &dto.PreviewResponse{Resolution: res, Impact: impact, Cached: hit}
	return s.withOverflow(ctx, out, changes)
}

// withOverflow projects a capacity change onto current bookings.
func (s *SeriesService) withOverflow(ctx context.Context, out *dto.PreviewResponse, changes models.SeriesChanges) (*dto.PreviewResponse, error) {
	if changes.Capacity == nil || changes.Cancel || s.bookings == nil {
		return out, nil
	}
	targets := impactTargets(&out.Resolution, changes)
	occs, err := s.store.repo.ListOccurrencesByIDs(ctx, targets)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load occurrences")
	}
	for i := range occs {
		occs[i].Capacity = *changes.Capacity
	}
	stats, err := s.bookings.Stats(ctx, targets)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load booking stats")
	}
	out.OverCapacity = overflow(occs, stats)
	return out, nil
}

// Apply commits a change previewed at ExpectedVersion.
func (s *SeriesService) Apply(ctx context.Context, seriesID string, req dto.ApplyRequest, requestID string) (*models.CommitResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	changes, err := toSeriesChanges(req.Changes)
	if err != nil {
		return nil, err
	}
	if err := s.checkReferences(ctx, changes.InstructorID, changes.LocationID); err != nil {
		return nil, err
	}
	from, _ := recurrence.ParseDate(req.FromDate)
	result, err := s.applier.Apply(ctx, ApplyRequest{
		SeriesID:        seriesID,
		FromDate:        from,
		Scope:           models.EditScope(req.Scope),
		Changes:         changes,
		Policy:          models.ClientResolutionPolicy(req.Policy),
		ExpectedVersion: req.ExpectedVersion,
		RequestID:       requestID,
	})
	if err != nil {
		return nil, err
	}
	_ = s.cache.InvalidateSeries(ctx, seriesID)
	return result, nil
}

// Describe parses a rule and previews its first dates.
func (s *SeriesService) Describe(req dto.DescribeRequest) (*dto.DescribeResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err)
	}
	rule, err := recurrence.Parse(req.Rule)
	if err != nil {
		return nil, ruleError(err)
	}
	out := &dto.DescribeResponse{Rule: rule.String(), Description: rule.Describe()}

	start := rule.Start
	if req.StartDate != nil {
		start, _ = recurrence.ParseDate(*req.StartDate)
	}
	if start.IsZero() {
		return out, nil
	}
	end, err := requestEnd(rule, req.EndDate, req.Count)
	if err != nil {
		return nil, err
	}
	if n, err := EstimateOccurrences(rule, start, end); err == nil && !end.IsNever() {
		out.EstimatedOccurrences = &n
	}
	limit := req.Preview
	if limit <= 0 {
		limit = 5
	}
	seq, err := recurrence.Generate(rule, start, end, nil, start.AddDate(5, 0, 0))
	if err != nil {
		return nil, ruleError(err)
	}
	for d := range seq {
		out.NextDates = append(out.NextDates, dateKey(d))
		if len(out.NextDates) == limit {
			break
		}
	}
	return out, nil
}

// EstimateOccurrences counts the dates a finite rule yields. Open-ended rules are
// counted over one year.
func EstimateOccurrences(rule recurrence.Rule, start time.Time, end recurrence.EndCondition) (int, error) {
	horizon := start.AddDate(1, 0, 0)
	if !end.IsNever() {
		horizon = start.AddDate(50, 0, 0)
	}
	dates, err := recurrence.Dates(rule, start, end, nil, horizon)
	if err != nil {
		return 0, ruleError(err)
	}
	return len(dates), nil
}

func (s *SeriesService) notifyCancelled(ctx context.Context, seriesID string, ids []string, reason, requestID string) []string {
	if len(ids) == 0 {
		return nil
	}
	return s.dispatch(ctx, Notification{
		Kind:          NotificationOccurrencesCancelled,
		SeriesID:      seriesID,
		OccurrenceIDs: ids,
		Reason:        reason,
		RequestID:     requestID,
	})
}

// dispatch queues n after a commit. The commit stands either way; a failure comes
// back as a warning.
func (s *SeriesService) dispatch(ctx context.Context, n Notification) []string {
	if s.notifier == nil {
		return nil
	}
	if err := s.notifier.Dispatch(ctx, n); err != nil {
		return []string{err.Error()}
	}
	return nil
}

func (s *SeriesService) emitAudit(ctx context.Context, action, seriesID string, scope *string, payload any, requestID string) {
	if s.audit == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("marshal audit payload", zap.Error(err))
		return
	}
	entry := &models.AuditLog{Action: action, Resource: "series", ResourceID: seriesID, Scope: scope, Payload: body}
	if requestID != "" {
		entry.RequestID = &requestID
	}
	if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("write audit log", zap.String("action", action), zap.Error(err))
	}
}

func toSeriesChanges(req dto.ChangesRequest) (models.SeriesChanges, error) {
	changes := models.SeriesChanges{
		OccurrenceOverrides: models.OccurrenceOverrides{
			StartTime:    req.StartTime,
			EndTime:      req.EndTime,
			InstructorID: req.InstructorID,
			LocationID:   req.LocationID,
			RoomID:       req.RoomID,
			Capacity:     req.Capacity,
			PriceCents:   req.PriceCents,
		},
		Name:         req.Name,
		Rule:         req.Rule,
		Cancel:       req.Cancel,
		CancelReason: req.CancelReason,
	}
	if req.Date != nil {
		d, err := recurrence.ParseDate(*req.Date)
		if err != nil {
			return models.SeriesChanges{}, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		changes.Date = &d
	}
	return changes, nil
}
