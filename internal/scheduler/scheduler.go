// Package scheduler turns declared synchronization frequencies into queued
// work. Once a day it scans the synchronizable resources and the harvest
// sources, and enqueues one task for everything whose calendar matches the
// current date. A target already pending in the queue is skipped, so the
// startup scan of a restart does not duplicate what the day's first scan
// enqueued.
package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/tasks"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// Due reports whether the frequency's calendar matches the given date.
// Weekly work runs on Mondays; bimonthly on the 1st and 15th; monthly on
// the 1st; quarterly on the first day of January, April, July and October;
// biannual on the first day of January and July; annual on January 1st.
// Continuous and realtime degrade to daily, never and unknown match nothing.
func Due(f types.UpdateFrequency, day time.Time) bool {
	switch f {
	case types.FrequencyDaily, types.FrequencyContinuous, types.FrequencyRealtime:
		return true
	case types.FrequencyWeekly:
		return day.Weekday() == time.Monday
	case types.FrequencyBimonthly:
		return day.Day() == 1 || day.Day() == 15
	case types.FrequencyMonthly:
		return day.Day() == 1
	case types.FrequencyQuarterly:
		return day.Day() == 1 && (day.Month() == time.January || day.Month() == time.April ||
			day.Month() == time.July || day.Month() == time.October)
	case types.FrequencyBiannual:
		return day.Day() == 1 && (day.Month() == time.January || day.Month() == time.July)
	case types.FrequencyAnnual:
		return day.Day() == 1 && day.Month() == time.January
	default:
		return false
	}
}

// Enqueuer is the slice of the task runner the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, action string, p tasks.Payload) (uuid.UUID, error)
}

type Scheduler struct {
	db    db.CatalogDb
	queue Enqueuer
	now   func() time.Time
}

func New(store db.CatalogDb, queue Enqueuer) *Scheduler {
	return &Scheduler{db: store, queue: queue, now: time.Now}
}

// Start runs one scan immediately, then one per day shortly after midnight,
// until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for {
		s.Scan(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.untilNextScan()):
		}
	}
}

// untilNextScan targets 00:05 local time the next day so date-based
// matching never races midnight.
func (s *Scheduler) untilNextScan() time.Duration {
	now := s.now()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 5, 0, 0, now.Location()).AddDate(0, 0, 1)
	return next.Sub(now)
}

// Scan enqueues the work due today: a refresh task per due synchronizable
// resource and a harvest task per due source. A target whose task is still
// pending is skipped.
func (s *Scheduler) Scan(ctx context.Context) {
	today := s.now()
	queued := s.pendingTargets(ctx)

	resources, err := s.db.ListSynchronizableResources(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("scheduler: resource scan failed")
	} else {
		for i := range resources {
			r := &resources[i]
			if !Due(r.SyncFrequency, today) {
				continue
			}
			p := tasks.Payload{Dataset: r.Dataset, Resource: r.CkanID}
			if queued[targetKey(tasks.ActionResourceSync, p)] {
				continue
			}
			if _, err := s.queue.Enqueue(ctx, tasks.ActionResourceSync, p); err != nil {
				log.Ctx(ctx).Error().Err(err).Str("resource", r.CkanID.String()).Msg("scheduler: enqueue failed")
			}
		}
	}

	sources, err := s.db.ListRemoteSources(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("scheduler: source scan failed")
		return
	}
	for i := range sources {
		src := &sources[i]
		if !Due(src.SyncFrequency, today) {
			continue
		}
		p := tasks.Payload{Source: src.ID}
		if queued[targetKey(tasks.ActionHarvest, p)] {
			continue
		}
		if _, err := s.queue.Enqueue(ctx, tasks.ActionHarvest, p); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("source", src.ID.String()).Msg("scheduler: enqueue failed")
		}
	}
}

// pendingTargets keys the queue's pending rows by action and payload. A
// lookup failure degrades to enqueueing everything due, which the queue
// tolerates.
func (s *Scheduler) pendingTargets(ctx context.Context) map[string]bool {
	rows, err := s.db.ListTasks(ctx, types.TaskPending)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("scheduler: pending task lookup failed")
		return nil
	}
	keys := make(map[string]bool, len(rows))
	for i := range rows {
		var p tasks.Payload
		if len(rows[i].Extras.Bytes) > 0 {
			if err := json.Unmarshal(rows[i].Extras.Bytes, &p); err != nil {
				continue
			}
		}
		keys[targetKey(rows[i].Action, p)] = true
	}
	return keys
}

func targetKey(action string, p tasks.Payload) string {
	return action + "/" + string(p.Dataset) + "/" + p.Resource.String() + "/" + p.Source.String()
}
