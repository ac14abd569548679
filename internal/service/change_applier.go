package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/internal/recurrence"
	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
)

const reasonRecurrenceChanged = "recurrence changed"

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type notificationSink interface {
	Dispatch(ctx context.Context, n Notification) error
}

// ApplyRequest is a validated edit across a scope.
//
// ExpectedVersion is the series version the caller previewed. Zero skips the check
// for internal callers that resolve and apply in one step.
type ApplyRequest struct {
	SeriesID        string
	FromDate        time.Time
	Scope           models.EditScope
	Changes         models.SeriesChanges
	Policy          models.ClientResolutionPolicy
	ExpectedVersion int
	RequestID       string
}

// ChangeApplier commits edits and cancellations atomically under the series lock.
type ChangeApplier struct {
	store    *SeriesStore
	impact   *ImpactCalculator
	bookings BookingSource
	notifier notificationSink
	audit    auditLogger
	metrics  *MetricsService
	logger   *zap.Logger
}

// ChangeApplierOption configures the applier.
type ChangeApplierOption func(*ChangeApplier)

// WithNotifier routes post-commit notifications.
func WithNotifier(n notificationSink) ChangeApplierOption {
	return func(a *ChangeApplier) {
		a.notifier = n
	}
}

// WithAuditLogger records an audit row per commit.
func WithAuditLogger(audit auditLogger) ChangeApplierOption {
	return func(a *ChangeApplier) {
		a.audit = audit
	}
}

// WithApplierMetrics attaches metrics collection.
func WithApplierMetrics(metrics *MetricsService) ChangeApplierOption {
	return func(a *ChangeApplier) {
		a.metrics = metrics
	}
}

// NewChangeApplier constructs the applier.
func NewChangeApplier(store *SeriesStore, impact *ImpactCalculator, bookings BookingSource, logger *zap.Logger, opts ...ChangeApplierOption) *ChangeApplier {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &ChangeApplier{store: store, impact: impact, bookings: bookings, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

type changePlan struct {
	changes     models.ChangeSet
	newSeriesID string
	updated     []string
	cancelled   []string
	created     []string
	changed     []string
	shrunk      []models.Occurrence
	index       map[string]int
}

func (p *changePlan) put(occ models.Occurrence) {
	if p.index == nil {
		p.index = make(map[string]int)
	}
	if i, ok := p.index[occ.ID]; ok {
		p.changes.Occurrences[i] = occ
		return
	}
	p.index[occ.ID] = len(p.changes.Occurrences)
	p.changes.Occurrences = append(p.changes.Occurrences, occ)
}

// shrunkActive drops occurrences the plan also cancels.
func (p *changePlan) shrunkActive() []models.Occurrence {
	if len(p.cancelled) == 0 {
		return p.shrunk
	}
	cancelled := make(map[string]bool, len(p.cancelled))
	for _, id := range p.cancelled {
		cancelled[id] = true
	}
	out := make([]models.Occurrence, 0, len(p.shrunk))
	for _, occ := range p.shrunk {
		if !cancelled[occ.ID] {
			out = append(out, occ)
		}
	}
	return out
}

// Apply resolves the scope again under the lock, rejects a stale ExpectedVersion and
// commits one change set. Notifications are queued after the commit; their failures
// come back as warnings.
func (a *ChangeApplier) Apply(ctx context.Context, req ApplyRequest) (*models.CommitResult, error) {
	if err := a.validate(&req); err != nil {
		return nil, err
	}

	unlock, err := a.store.lock(ctx, req.SeriesID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	series, err := a.store.GetSeries(ctx, req.SeriesID)
	if err != nil {
		return nil, err
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != series.Version {
		a.metrics.RecordCommit(req.Scope, CommitOutcomeConflict)
		return nil, appErrors.Clone(appErrors.ErrConcurrentModification,
			fmt.Sprintf("series is at version %d, expected %d", series.Version, req.ExpectedVersion))
	}
	occurrences, err := a.store.repo.ListOccurrences(ctx, series.ID, models.DateRange{})
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list occurrences")
	}
	res, err := resolveScope(*series, occurrences, req.FromDate, req.Scope)
	if err != nil {
		return nil, err
	}

	var plan *changePlan
	switch {
	case req.Scope == models.EditScopeThisOnly:
		plan, err = a.planSingle(*series, occurrences, res, req.Changes)
	case res.RequiresSplit:
		plan, err = a.planSplit(*series, occurrences, res, req.Changes)
	default:
		plan, err = a.planInPlace(*series, occurrences, res, req.Changes)
	}
	if err != nil {
		return nil, err
	}

	impact, err := a.impact.Compute(ctx, impactTargets(res, req.Changes))
	if err != nil {
		return nil, err
	}
	over, err := a.overCapacity(ctx, plan.shrunkActive())
	if err != nil {
		return nil, err
	}

	committed, err := a.store.repo.Commit(ctx, plan.changes)
	if err != nil {
		outcome := CommitOutcomeFailed
		if isConflict(err) {
			outcome = CommitOutcomeConflict
		}
		a.metrics.RecordCommit(req.Scope, outcome)
		return nil, repoError(err, "series", req.SeriesID, "failed to commit change")
	}
	a.metrics.RecordCommit(req.Scope, CommitOutcomeApplied)
	a.metrics.AddMaterialized(len(plan.created))

	result := &models.CommitResult{
		Resolution:             *res,
		Series:                 committed,
		UpdatedOccurrenceIDs:   nonNil(plan.updated),
		CancelledOccurrenceIDs: nonNil(plan.cancelled),
		CreatedOccurrenceIDs:   nonNil(plan.created),
		PreservedExceptionIDs:  []string{},
		OverCapacity:           over,
		Impact:                 impact,
	}
	if !req.Changes.Cancel {
		result.PreservedExceptionIDs = res.PreservedExceptionIDs
	}
	if plan.newSeriesID != "" {
		id := plan.newSeriesID
		result.NewSeriesID = &id
	}

	a.logger.Info("series change applied",
		zap.String("series_id", req.SeriesID),
		zap.String("scope", string(req.Scope)),
		zap.String("from_date", dateKey(res.FromDate)),
		zap.Int("updated", len(plan.updated)),
		zap.Int("cancelled", len(plan.cancelled)),
		zap.Int("created", len(plan.created)),
		zap.Bool("split", plan.newSeriesID != ""),
		zap.String("request_id", req.RequestID),
	)

	result.Warnings = a.notify(ctx, req, plan, over)
	a.recordAudit(ctx, req, result)
	return result, nil
}

func (a *ChangeApplier) validate(req *ApplyRequest) error {
	if !req.Scope.Valid() {
		return appErrors.Clone(appErrors.ErrInvalidScope, fmt.Sprintf("unknown edit scope %q", req.Scope))
	}
	if !req.Policy.Valid() {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown client resolution policy %q", req.Policy))
	}
	c := req.Changes
	if c.Empty() {
		return appErrors.Clone(appErrors.ErrValidation, "no changes provided")
	}
	if c.Cancel && (c.Name != nil || c.Rule != nil || !c.OccurrenceOverrides.Empty()) {
		return appErrors.Clone(appErrors.ErrValidation, "cancellation cannot be combined with other changes")
	}
	if req.Scope == models.EditScopeThisOnly && (c.Rule != nil || c.Name != nil) {
		return appErrors.Clone(appErrors.ErrInvalidScope, "name and recurrence changes need a series scope")
	}
	if req.Scope != models.EditScopeThisOnly && c.Date != nil {
		return appErrors.Clone(appErrors.ErrInvalidScope, "rescheduling to a date needs the this_only scope")
	}
	if c.Name != nil && *c.Name == "" {
		return appErrors.Clone(appErrors.ErrValidation, "name must not be empty")
	}
	if err := validateOverrides(c.OccurrenceOverrides); err != nil {
		return err
	}
	for _, t := range []*string{c.StartTime, c.EndTime} {
		if t == nil {
			continue
		}
		if _, err := clockMinutes(*t); err != nil {
			return appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
	}
	if c.Rule != nil {
		rule, err := recurrence.Parse(*c.Rule)
		if err != nil {
			return ruleError(err)
		}
		canonical := rule.Pattern().String()
		req.Changes.Rule = &canonical
	}
	return nil
}

// planSingle edits or cancels the one occurrence on fromDate.
func (a *ChangeApplier) planSingle(series models.Series, occurrences []models.Occurrence, res *models.Resolution, c models.SeriesChanges) (*changePlan, error) {
	target, ok := findOccurrence(occurrences, res.AffectedOccurrenceIDs[0])
	if !ok {
		return nil, notFound("occurrence", res.AffectedOccurrenceIDs[0])
	}
	if target.Status != models.OccurrenceStatusScheduled {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("occurrence is %s", target.Status))
	}
	plan := &changePlan{changes: models.ChangeSet{Series: []models.Series{series}}}
	if c.Cancel {
		cancelOccurrence(&target, c.CancelReason)
		plan.cancelled = append(plan.cancelled, target.ID)
		plan.put(target)
		return plan, nil
	}
	before := target
	c.OccurrenceOverrides.ApplyTo(&target)
	target.Date = recurrence.DateOf(target.Date)
	if err := validateTimes(target.StartTime, target.EndTime); err != nil {
		return nil, err
	}
	target.IsException = true
	plan.track(before, target)
	plan.updated = append(plan.updated, target.ID)
	plan.put(target)
	return plan, nil
}

// planInPlace changes the series defaults. Non-exception scheduled occurrences in
// scope inherit them; exceptions are left alone. Cancelling every occurrence ends the
// series.
func (a *ChangeApplier) planInPlace(series models.Series, occurrences []models.Occurrence, res *models.Resolution, c models.SeriesChanges) (*changePlan, error) {
	if series.Status == models.SeriesStatusEnded {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "series has ended")
	}
	inScope := make(map[string]bool, len(res.AffectedOccurrenceIDs))
	for _, id := range res.AffectedOccurrenceIDs {
		inScope[id] = true
	}

	updated := series
	plan := &changePlan{}
	if c.Cancel {
		for _, occ := range occurrences {
			if !inScope[occ.ID] || occ.Status != models.OccurrenceStatusScheduled {
				continue
			}
			cancelOccurrence(&occ, c.CancelReason)
			plan.cancelled = append(plan.cancelled, occ.ID)
			plan.put(occ)
		}
		updated.Status = models.SeriesStatusEnded
		plan.changes.Series = []models.Series{updated}
		return plan, nil
	}

	c.ApplyToSeries(&updated)
	if err := validateTimes(updated.StartTime, updated.EndTime); err != nil {
		return nil, err
	}
	owned := make([]models.Occurrence, len(occurrences))
	copy(owned, occurrences)
	for i := range owned {
		occ := &owned[i]
		if !inScope[occ.ID] || occ.Status != models.OccurrenceStatusScheduled || occ.IsException {
			continue
		}
		before := *occ
		occ.InheritDefaults(updated)
		if plan.track(before, *occ) {
			plan.updated = append(plan.updated, occ.ID)
			plan.put(*occ)
		}
	}
	plan.changes.Series = []models.Series{updated}
	if c.Rule != nil && !sameRule(series.Rule, updated.Rule) {
		if err := a.reconcile(plan, updated, owned); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// planSplit ends the series the day before fromDate and hands the remainder to a new
// series carrying the changes. Occurrences whose slot is on or after fromDate move
// with stable ids. A cancellation only truncates the original series.
func (a *ChangeApplier) planSplit(series models.Series, occurrences []models.Occurrence, res *models.Resolution, c models.SeriesChanges) (*changePlan, error) {
	if series.Status == models.SeriesStatusEnded {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "series has ended")
	}
	from := res.FromDate
	rule, err := series.ParsedRule()
	if err != nil {
		return nil, ruleError(err)
	}

	original := series
	original.SkipDates = nil
	child := series
	child.SkipDates = nil
	for _, skip := range series.SkipDateList() {
		if skip.Before(from) {
			original.SkipDates = append(original.SkipDates, dateKey(skip))
		} else {
			child.SkipDates = append(child.SkipDates, dateKey(skip))
		}
	}

	end := series.End()
	if end.Type == recurrence.EndAfterCount {
		used, err := recurrence.CountBefore(rule, series.StartDate, series.SkipDateList(), from)
		if err != nil {
			return nil, ruleError(err)
		}
		remaining := end.Count - used
		if remaining < 1 {
			remaining = 1
		}
		end = recurrence.AfterCount(remaining)
	}
	original.SetEnd(recurrence.OnDate(from.AddDate(0, 0, -1)))

	plan := &changePlan{}
	inScope := make(map[string]bool, len(res.AffectedOccurrenceIDs))
	for _, id := range res.AffectedOccurrenceIDs {
		inScope[id] = true
	}

	if c.Cancel {
		for _, occ := range occurrences {
			if !inScope[occ.ID] || occ.Status != models.OccurrenceStatusScheduled {
				continue
			}
			cancelOccurrence(&occ, c.CancelReason)
			plan.cancelled = append(plan.cancelled, occ.ID)
			plan.put(occ)
		}
		plan.changes.Series = []models.Series{original}
		return plan, nil
	}

	child.ID = a.store.newID()
	parent := series.ID
	child.ParentSeriesID = &parent
	child.Version = 0
	child.StartDate = from
	child.CreatedAt = time.Time{}
	child.UpdatedAt = time.Time{}
	child.Rule = rule.Anchor(series.StartDate).Pattern().String()
	child.SetEnd(end)
	c.ApplyToSeries(&child)
	if err := validateTimes(child.StartTime, child.EndTime); err != nil {
		return nil, err
	}
	plan.newSeriesID = child.ID
	plan.changes.Series = []models.Series{original, child}

	var owned []models.Occurrence
	for _, occ := range occurrences {
		if recurrence.DateOf(occ.OriginalDate).Before(from) {
			continue
		}
		before := occ
		occ.SeriesID = child.ID
		if occ.Status == models.OccurrenceStatusScheduled && !occ.IsException {
			occ.InheritDefaults(child)
		}
		plan.track(before, occ)
		if inScope[occ.ID] {
			plan.updated = append(plan.updated, occ.ID)
		}
		plan.put(occ)
		owned = append(owned, occ)
	}
	if c.Rule != nil && !sameRule(series.Rule, *c.Rule) {
		if err := a.reconcile(plan, child, owned); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// reconcile aligns owned occurrences with a changed recurrence: scheduled
// non-exception occurrences the rule no longer yields are cancelled and newly
// yielded dates up to the horizon are materialized.
func (a *ChangeApplier) reconcile(plan *changePlan, series models.Series, owned []models.Occurrence) error {
	rule, err := series.ParsedRule()
	if err != nil {
		return ruleError(err)
	}
	horizon := a.store.HorizonDate()
	limit := horizon
	for _, occ := range owned {
		if occ.OriginalDate.After(limit) {
			limit = recurrence.DateOf(occ.OriginalDate)
		}
	}
	dates, err := recurrence.Dates(rule, series.StartDate, series.End(), series.SkipDateList(), limit)
	if err != nil {
		return ruleError(err)
	}
	produced := recurrence.NewDateSet(dates)
	taken := make(map[time.Time]bool, len(owned))
	for _, occ := range owned {
		taken[recurrence.DateOf(occ.OriginalDate)] = true
		if occ.Status != models.OccurrenceStatusScheduled || occ.IsException || produced.Has(occ.OriginalDate) {
			continue
		}
		cancelOccurrence(&occ, reasonRecurrenceChanged)
		plan.cancelled = append(plan.cancelled, occ.ID)
		plan.updated = removeID(plan.updated, occ.ID)
		plan.changed = removeID(plan.changed, occ.ID)
		plan.put(occ)
	}
	if !series.Generates() {
		return nil
	}
	for _, d := range dates {
		if d.After(horizon) || taken[d] {
			continue
		}
		occ := models.NewOccurrence(a.store.newID(), series, d)
		plan.created = append(plan.created, occ.ID)
		plan.put(occ)
	}
	return nil
}

// track records attribute changes clients care about and reports whether anything
// besides the owning series changed.
func (p *changePlan) track(before, after models.Occurrence) bool {
	changed := !before.Date.Equal(after.Date) || before.StartTime != after.StartTime || before.EndTime != after.EndTime ||
		before.InstructorID != after.InstructorID || before.LocationID != after.LocationID || !sameRoom(before.RoomID, after.RoomID)
	if changed {
		p.changed = append(p.changed, after.ID)
	}
	if after.Capacity < before.Capacity {
		p.shrunk = append(p.shrunk, after)
	}
	return changed || before.Capacity != after.Capacity || before.PriceCents != after.PriceCents
}

func (a *ChangeApplier) overCapacity(ctx context.Context, shrunk []models.Occurrence) ([]models.CapacityOverflow, error) {
	if len(shrunk) == 0 || a.bookings == nil {
		return nil, nil
	}
	stats, err := a.bookings.Stats(ctx, occurrenceIDs(shrunk))
	if err != nil {
		return nil, appErrors.Internal(err, "failed to load booking stats")
	}
	return overflow(shrunk, stats), nil
}

func (a *ChangeApplier) notify(ctx context.Context, req ApplyRequest, plan *changePlan, over []models.CapacityOverflow) []string {
	if a.notifier == nil {
		return nil
	}
	var notes []Notification
	if len(plan.cancelled) > 0 {
		reason := req.Changes.CancelReason
		if reason == "" {
			reason = reasonRecurrenceChanged
		}
		notes = append(notes, Notification{Kind: NotificationOccurrencesCancelled, OccurrenceIDs: plan.cancelled, Reason: reason})
	}
	if len(plan.changed) > 0 {
		notes = append(notes, Notification{Kind: NotificationOccurrencesChanged, OccurrenceIDs: plan.changed})
	}
	if len(over) > 0 {
		notes = append(notes, Notification{Kind: NotificationCapacityReduced, Overflow: over})
	}
	if req.Policy != "" && len(plan.cancelled)+len(plan.changed) > 0 {
		touched := append(append([]string(nil), plan.cancelled...), plan.changed...)
		notes = append(notes, Notification{Kind: NotificationClientResolution, OccurrenceIDs: touched, Policy: req.Policy})
	}

	var warnings []string
	for _, n := range notes {
		n.SeriesID = req.SeriesID
		n.RequestID = req.RequestID
		if err := a.notifier.Dispatch(ctx, n); err != nil {
			warnings = append(warnings, err.Error())
		}
	}
	return warnings
}

func (a *ChangeApplier) recordAudit(ctx context.Context, req ApplyRequest, result *models.CommitResult) {
	if a.audit == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"fromDate":  dateKey(req.FromDate),
		"changes":   req.Changes,
		"policy":    req.Policy,
		"version":   req.ExpectedVersion,
		"updated":   len(result.UpdatedOccurrenceIDs),
		"cancelled": len(result.CancelledOccurrenceIDs),
		"created":   len(result.CreatedOccurrenceIDs),
		"newSeries": result.NewSeriesID,
	})
	if err != nil {
		a.logger.Warn("marshal audit payload", zap.Error(err))
		return
	}
	scope := string(req.Scope)
	entry := &models.AuditLog{
		Action:     models.AuditActionSeriesApply,
		Resource:   "series",
		ResourceID: req.SeriesID,
		Scope:      &scope,
		Payload:    payload,
	}
	if req.RequestID != "" {
		id := req.RequestID
		entry.RequestID = &id
	}
	if err := a.audit.CreateAuditLog(ctx, entry); err != nil {
		a.logger.Warn("write audit log", zap.String("series_id", req.SeriesID), zap.Error(err))
	}
}

// impactTargets are the occurrences a change actually alters: exceptions are left
// out of edits but included in cancellations.
func impactTargets(res *models.Resolution, c models.SeriesChanges) []string {
	if c.Cancel || len(res.PreservedExceptionIDs) == 0 || res.Scope == models.EditScopeThisOnly {
		return res.AffectedOccurrenceIDs
	}
	preserved := make(map[string]bool, len(res.PreservedExceptionIDs))
	for _, id := range res.PreservedExceptionIDs {
		preserved[id] = true
	}
	out := make([]string, 0, len(res.AffectedOccurrenceIDs))
	for _, id := range res.AffectedOccurrenceIDs {
		if !preserved[id] {
			out = append(out, id)
		}
	}
	return out
}

func findOccurrence(list []models.Occurrence, id string) (models.Occurrence, bool) {
	for _, occ := range list {
		if occ.ID == id {
			return occ, true
		}
	}
	return models.Occurrence{}, false
}

func sameRule(a, b string) bool {
	ra, errA := recurrence.Parse(a)
	rb, errB := recurrence.Parse(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return ra.SamePattern(rb)
}

func sameRoom(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
