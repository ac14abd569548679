package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Audit actions recorded for series changes.
const (
	AuditActionSeriesCreate     = "SERIES_CREATE"
	AuditActionSeriesApply      = "SERIES_APPLY"
	AuditActionSeriesStatus     = "SERIES_STATUS"
	AuditActionSkipDate         = "SERIES_SKIP_DATE"
	AuditActionOccurrenceEdit   = "OCCURRENCE_EDIT"
	AuditActionOccurrenceCancel = "OCCURRENCE_CANCEL"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID         string         `db:"id" json:"id"`
	Action     string         `db:"action" json:"action"`
	Resource   string         `db:"resource" json:"resource"`
	ResourceID string         `db:"resource_id" json:"resource_id"`
	Scope      *string        `db:"scope" json:"scope,omitempty"`
	Payload    types.JSONText `db:"payload" json:"payload,omitempty"`
	RequestID  *string        `db:"request_id" json:"request_id,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}
