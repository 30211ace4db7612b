// Package tasks is the durable background work queue. Task rows live in
// PostgreSQL so pending work survives restarts; a runner drains them with
// bounded concurrency, and every row keeps its terminal state and error for
// the admin surface.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/internal/metrics"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// Actions the runner knows about.
const (
	ActionHarvest      = "harvest"
	ActionResourceSync = "resource_sync"
)

// Payload is the structured context of one task, stored in extras.
type Payload struct {
	Dataset  types.Slug `json:"dataset,omitempty"`
	Resource uuid.UUID  `json:"resource,omitempty"`
	Source   uuid.UUID  `json:"source,omitempty"`
}

// Handler executes one task. A non-nil error fails the row.
type Handler func(ctx context.Context, p Payload) error

type Runner struct {
	db       db.CatalogDb
	handlers map[string]Handler
	interval time.Duration
	workers  int
}

func NewRunner(store db.CatalogDb, interval time.Duration, workers int) *Runner {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if workers <= 0 {
		workers = 4
	}
	return &Runner{
		db:       store,
		handlers: map[string]Handler{},
		interval: interval,
		workers:  workers,
	}
}

// Register binds an action to its handler. Not safe once Start has run.
func (r *Runner) Register(action string, h Handler) {
	r.handlers[action] = h
}

// Enqueue persists a pending task. The runner picks it up on its next scan.
func (r *Runner) Enqueue(ctx context.Context, action string, p Payload) (uuid.UUID, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return uuid.Nil, err
	}
	t := &models.Task{Action: action}
	if err := t.Extras.Set(raw); err != nil {
		return uuid.Nil, err
	}
	if err := r.db.CreateTask(ctx, t); err != nil {
		return uuid.Nil, err
	}
	return t.UUID, nil
}

// Start drains pending tasks until the context is cancelled. Each scan runs
// the pending rows through a bounded worker pool and waits for them before
// the next tick.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) drain(ctx context.Context) {
	pending, err := r.db.ListTasks(ctx, types.TaskPending)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("tasks: scan failed")
		return
	}
	if len(pending) == 0 {
		return
	}

	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup
	for i := range pending {
		if ctx.Err() != nil {
			break
		}
		t := pending[i]
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			r.runOne(ctx, &t)
		}()
	}
	wg.Wait()
}

func (r *Runner) runOne(ctx context.Context, t *models.Task) {
	handler, ok := r.handlers[t.Action]
	if !ok {
		r.finish(ctx, t, fmt.Errorf("no handler for action %q", t.Action))
		return
	}
	if err := r.db.UpdateTaskState(ctx, t.UUID, types.TaskRunning, ""); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("task", t.UUID.String()).Msg("tasks: claim failed")
		return
	}

	var p Payload
	if t.Extras.Status == pgtype.Present {
		if err := json.Unmarshal(t.Extras.Bytes, &p); err != nil {
			r.finish(ctx, t, fmt.Errorf("malformed extras: %w", err))
			return
		}
	}

	start := time.Now()
	err := handler(ctx, p)
	log.Ctx(ctx).Info().
		Str("task", t.UUID.String()).
		Str("action", t.Action).
		Dur("elapsed", time.Since(start)).
		Err(err).
		Msg("tasks: task finished")
	r.finish(ctx, t, err)
}

func (r *Runner) finish(ctx context.Context, t *models.Task, err error) {
	state := types.TaskSucceeded
	detail := ""
	if err != nil {
		state = types.TaskFailed
		detail = err.Error()
	}
	metrics.Tasks.WithLabelValues(t.Action, string(state)).Inc()
	if uerr := r.db.UpdateTaskState(ctx, t.UUID, state, detail); uerr != nil {
		log.Ctx(ctx).Error().Err(uerr).Str("task", t.UUID.String()).Msg("tasks: state update failed")
	}
}
