package scheduler

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/internal/tasks"
	"github.com/terrado/geosyncsrv/pkg/types"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

func TestDue(t *testing.T) {
	monday := date(2026, time.September, 7)
	tuesday := date(2026, time.September, 8)

	tests := []struct {
		name string
		f    types.UpdateFrequency
		day  time.Time
		want bool
	}{
		{"daily always", types.FrequencyDaily, tuesday, true},
		{"continuous degrades to daily", types.FrequencyContinuous, tuesday, true},
		{"weekly on monday", types.FrequencyWeekly, monday, true},
		{"weekly not tuesday", types.FrequencyWeekly, tuesday, false},
		{"bimonthly on the 1st", types.FrequencyBimonthly, date(2026, time.March, 1), true},
		{"bimonthly on the 15th", types.FrequencyBimonthly, date(2026, time.March, 15), true},
		{"bimonthly mid month", types.FrequencyBimonthly, date(2026, time.March, 14), false},
		{"monthly on the 1st", types.FrequencyMonthly, date(2026, time.March, 1), true},
		{"monthly on the 2nd", types.FrequencyMonthly, date(2026, time.March, 2), false},
		{"quarterly in april", types.FrequencyQuarterly, date(2026, time.April, 1), true},
		{"quarterly in may", types.FrequencyQuarterly, date(2026, time.May, 1), false},
		{"biannual in july", types.FrequencyBiannual, date(2026, time.July, 1), true},
		{"biannual in april", types.FrequencyBiannual, date(2026, time.April, 1), false},
		{"annual on jan 1", types.FrequencyAnnual, date(2026, time.January, 1), true},
		{"annual on jul 1", types.FrequencyAnnual, date(2026, time.July, 1), false},
		{"never", types.FrequencyNever, monday, false},
		{"unknown", types.FrequencyUnknown, monday, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Due(tt.f, tt.day))
		})
	}
}

type fakeQueue struct {
	enqueued []string
}

func (f *fakeQueue) Enqueue(_ context.Context, action string, p tasks.Payload) (uuid.UUID, error) {
	key := action
	if p.Resource != uuid.Nil {
		key += ":" + p.Resource.String()
	}
	if p.Source != uuid.Nil {
		key += ":" + p.Source.String()
	}
	f.enqueued = append(f.enqueued, key)
	return uuid.New(), nil
}

type fakeScanDb struct {
	db.CatalogDb

	resources []models.Resource
	sources   []models.RemoteSource
	pending   []models.Task
}

func (f *fakeScanDb) ListTasks(_ context.Context, state types.TaskState) ([]models.Task, error) {
	if state != types.TaskPending {
		return nil, nil
	}
	return f.pending, nil
}

func (f *fakeScanDb) ListSynchronizableResources(context.Context) ([]models.Resource, error) {
	return f.resources, nil
}

func (f *fakeScanDb) ListRemoteSources(context.Context) ([]models.RemoteSource, error) {
	return f.sources, nil
}

func TestScanEnqueuesDueWorkOnce(t *testing.T) {
	due := models.Resource{CkanID: uuid.New(), Dataset: "releves", SyncFrequency: types.FrequencyMonthly, Synchronization: true}
	notDue := models.Resource{CkanID: uuid.New(), Dataset: "stations", SyncFrequency: types.FrequencyWeekly, Synchronization: true}
	src := models.RemoteSource{ID: uuid.New(), SyncFrequency: types.FrequencyDaily}

	store := &fakeScanDb{resources: []models.Resource{due, notDue}, sources: []models.RemoteSource{src}}
	queue := &fakeQueue{}
	s := New(store, queue)
	// Sunday March 1st: monthly is due, weekly is not.
	s.now = func() time.Time { return date(2026, time.March, 1) }

	s.Scan(context.Background())

	require.Len(t, queue.enqueued, 2)
	assert.Contains(t, queue.enqueued, tasks.ActionResourceSync+":"+due.CkanID.String())
	assert.Contains(t, queue.enqueued, tasks.ActionHarvest+":"+src.ID.String())
}

func TestScanSkipsPendingTargets(t *testing.T) {
	due := models.Resource{CkanID: uuid.New(), Dataset: "releves", SyncFrequency: types.FrequencyDaily, Synchronization: true}
	src := models.RemoteSource{ID: uuid.New(), SyncFrequency: types.FrequencyDaily}

	// The harvest of src is already waiting in the queue, as after a restart
	// following the day's first scan.
	raw, err := json.Marshal(tasks.Payload{Source: src.ID})
	require.NoError(t, err)
	row := models.Task{Action: tasks.ActionHarvest, State: types.TaskPending}
	require.NoError(t, row.Extras.Set(raw))

	store := &fakeScanDb{
		resources: []models.Resource{due},
		sources:   []models.RemoteSource{src},
		pending:   []models.Task{row},
	}
	queue := &fakeQueue{}
	s := New(store, queue)
	s.now = func() time.Time { return date(2026, time.March, 2) }

	s.Scan(context.Background())

	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, tasks.ActionResourceSync+":"+due.CkanID.String(), queue.enqueued[0])
}
