package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/types"
)

func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	if t.UUID == uuid.Nil {
		t.UUID = uuid.New()
	}
	if t.State == "" {
		t.State = types.TaskPending
	}
	query := `
		INSERT INTO tasks (uuid, action, state, extras)
		VALUES ($1, $2, $3, $4)
		RETURNING starting;`
	err := s.q.QueryRowContext(ctx, query, t.UUID, t.Action, t.State, t.Extras).Scan(&t.Starting)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("action", t.Action).Msg("failed to insert task")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	query := `SELECT uuid, action, state, starting, end_at, extras FROM tasks WHERE uuid = $1;`
	var t models.Task
	err := s.q.QueryRowContext(ctx, query, id).
		Scan(&t.UUID, &t.Action, &t.State, &t.Starting, &t.End, &t.Extras)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("task not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("uuid", id.String()).Msg("failed to retrieve task")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return &t, nil
}

// UpdateTaskState advances the task. Tasks move forward only; terminal states
// also stamp end_at and record the error in extras.
func (s *Store) UpdateTaskState(ctx context.Context, id uuid.UUID, state types.TaskState, taskErr string) error {
	query := `
		UPDATE tasks
		SET state = $2,
			end_at = CASE WHEN $2 IN ('succesful', 'failed') THEN now() ELSE end_at END,
			extras = CASE WHEN $3 <> '' THEN extras || jsonb_build_object('error', $3::text) ELSE extras END
		WHERE uuid = $1
		RETURNING uuid;`
	var updated string
	err := s.q.QueryRowContext(ctx, query, id, state, taskErr).Scan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dberror.ErrNotFound.Msg("task not found for update")
		}
		log.Ctx(ctx).Error().Err(err).Str("uuid", id.String()).Msg("failed to update task state")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) ListTasks(ctx context.Context, state types.TaskState) ([]models.Task, error) {
	query := `SELECT uuid, action, state, starting, end_at, extras FROM tasks`
	var args []any
	if state != "" {
		query += ` WHERE state = $1`
		args = append(args, state)
	}
	query += ` ORDER BY starting;`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list tasks")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.UUID, &t.Action, &t.State, &t.Starting, &t.End, &t.Extras); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

func (s *Store) CreateExtractorTask(ctx context.Context, t *models.ExtractorTask) error {
	if t.UUID == uuid.Nil {
		t.UUID = uuid.New()
	}
	query := `
		INSERT INTO extractor_tasks (uuid, username, target_model, target_id, query, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING submission_datetime;`
	err := s.q.QueryRowContext(ctx, query, t.UUID, t.Username, t.TargetModel, t.TargetID,
		t.Query, t.Details).Scan(&t.SubmissionDatetime)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("uuid", t.UUID.String()).Msg("failed to insert extractor task")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) GetExtractorTask(ctx context.Context, id uuid.UUID) (*models.ExtractorTask, error) {
	query := `
		SELECT uuid, username, target_model, target_id, query, success,
			submission_datetime, start_datetime, stop_datetime, details
		FROM extractor_tasks WHERE uuid = $1;`
	var t models.ExtractorTask
	err := s.q.QueryRowContext(ctx, query, id).Scan(&t.UUID, &t.Username, &t.TargetModel,
		&t.TargetID, &t.Query, &t.Success, &t.SubmissionDatetime, &t.StartDatetime,
		&t.StopDatetime, &t.Details)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("extractor task not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("uuid", id.String()).Msg("failed to retrieve extractor task")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return &t, nil
}

func (s *Store) UpdateExtractorTask(ctx context.Context, t *models.ExtractorTask) error {
	query := `
		UPDATE extractor_tasks
		SET success = $2, start_datetime = $3, stop_datetime = $4, details = $5
		WHERE uuid = $1
		RETURNING uuid;`
	var updated string
	err := s.q.QueryRowContext(ctx, query, t.UUID, t.Success, t.StartDatetime,
		t.StopDatetime, t.Details).Scan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dberror.ErrNotFound.Msg("extractor task not found for update")
		}
		log.Ctx(ctx).Error().Err(err).Str("uuid", t.UUID.String()).Msg("failed to update extractor task")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) ListExtractorTasks(ctx context.Context, username types.Username) ([]models.ExtractorTask, error) {
	query := `
		SELECT uuid, username, target_model, target_id, query, success,
			submission_datetime, start_datetime, stop_datetime, details
		FROM extractor_tasks`
	var args []any
	if username != "" {
		query += ` WHERE username = $1`
		args = append(args, username)
	}
	query += ` ORDER BY submission_datetime DESC;`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list extractor tasks")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []models.ExtractorTask
	for rows.Next() {
		var t models.ExtractorTask
		if err := rows.Scan(&t.UUID, &t.Username, &t.TargetModel, &t.TargetID, &t.Query,
			&t.Success, &t.SubmissionDatetime, &t.StartDatetime, &t.StopDatetime, &t.Details); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}
