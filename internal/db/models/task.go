package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"

	"github.com/terrado/geosyncsrv/pkg/types"
)

// Task is the audit row of one unit of async work. Rows transition linearly
// through pending -> running -> succesful|failed and are never replayed in
// place.
type Task struct {
	UUID     uuid.UUID       `db:"uuid"`
	Action   string          `db:"action"`
	State    types.TaskState `db:"state"`
	Starting time.Time       `db:"starting"`
	End      *time.Time      `db:"end_at"`
	// Extras carries structured context: dataset, resource, error.
	Extras pgtype.JSONB `db:"extras"`
}

// ExtractorTask references an extraction job running on the remote extractor
// service. Success stays nil until the job reaches a terminal state.
type ExtractorTask struct {
	UUID               uuid.UUID      `db:"uuid"`
	Username           types.Username `db:"username"`
	TargetModel        string         `db:"target_model"`
	TargetID           string         `db:"target_id"`
	Query              pgtype.JSONB   `db:"query"`
	Success            *bool          `db:"success"`
	SubmissionDatetime time.Time      `db:"submission_datetime"`
	StartDatetime      *time.Time     `db:"start_datetime"`
	StopDatetime       *time.Time     `db:"stop_datetime"`
	// Details is the opaque remote handle (status URL and friends).
	Details pgtype.JSONB `db:"details"`
}
