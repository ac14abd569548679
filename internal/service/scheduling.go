package service

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/studio-schedule-api/internal/models"
	"github.com/noah-isme/studio-schedule-api/internal/recurrence"
	appErrors "github.com/noah-isme/studio-schedule-api/pkg/errors"
)

// Commit outcomes reported to metrics.
const (
	CommitOutcomeApplied  = "applied"
	CommitOutcomeConflict = "conflict"
	CommitOutcomeFailed   = "failed"
)

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// NewValidator returns a validator with the scheduling tags registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	registerValidations(v)
	return v
}

func registerValidations(v *validator.Validate) {
	_ = v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		return clockPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("civil_date", func(fl validator.FieldLevel) bool {
		_, err := recurrence.ParseDate(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("edit_scope", func(fl validator.FieldLevel) bool {
		return models.EditScope(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("resolution_policy", func(fl validator.FieldLevel) bool {
		return models.ClientResolutionPolicy(fl.Field().String()).Valid()
	})
}

func validationError(err error) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
}

// clockMinutes converts HH:MM into minutes after midnight.
func clockMinutes(value string) (int, error) {
	if !clockPattern.MatchString(value) {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	h, _ := strconv.Atoi(value[:2])
	m, _ := strconv.Atoi(value[3:])
	return h*60 + m, nil
}

func validateTimes(start, end string) error {
	from, err := clockMinutes(start)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	to, err := clockMinutes(end)
	if err != nil {
		return appErrors.Clone(appErrors.ErrValidation, err.Error())
	}
	if to <= from {
		return appErrors.Clone(appErrors.ErrValidation, "end time must be after start time")
	}
	return nil
}

// occurrenceEnd returns the instant an occurrence finishes in loc.
func occurrenceEnd(occ models.Occurrence, loc *time.Location) time.Time {
	minutes, err := clockMinutes(occ.EndTime)
	if err != nil {
		minutes = 24 * 60
	}
	d := occ.Date
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc).Add(time.Duration(minutes) * time.Minute)
}

// occurrenceStart returns the instant an occurrence begins in loc.
func occurrenceStart(occ models.Occurrence, loc *time.Location) time.Time {
	minutes, _ := clockMinutes(occ.StartTime)
	d := occ.Date
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc).Add(time.Duration(minutes) * time.Minute)
}

func notFound(kind, id string) error {
	return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s %s not found", kind, id))
}

// repoError maps store failures to typed errors.
func repoError(err error, kind, id, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(kind, id)
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Internal(err, message)
}

func ruleError(err error) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return appErrors.Clone(appErrors.ErrInvalidRule, err.Error())
}

func isConflict(err error) bool {
	return errors.Is(err, appErrors.ErrConcurrentModification)
}

func dateKey(t time.Time) string {
	return recurrence.DateOf(t).Format(recurrence.DateLayout)
}

func occurrenceIDs(list []models.Occurrence) []string {
	ids := make([]string, 0, len(list))
	for _, occ := range list {
		ids = append(ids, occ.ID)
	}
	return ids
}
