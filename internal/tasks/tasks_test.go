package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/types"
)

type fakeTaskDb struct {
	db.CatalogDb

	mu    sync.Mutex
	tasks map[uuid.UUID]models.Task
}

func newFakeTaskDb() *fakeTaskDb {
	return &fakeTaskDb{tasks: map[uuid.UUID]models.Task{}}
}

func (f *fakeTaskDb) CreateTask(_ context.Context, t *models.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.UUID == uuid.Nil {
		t.UUID = uuid.New()
	}
	t.State = types.TaskPending
	f.tasks[t.UUID] = *t
	return nil
}

func (f *fakeTaskDb) ListTasks(_ context.Context, state types.TaskState) ([]models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Task
	for _, t := range f.tasks {
		if t.State == state {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTaskDb) UpdateTaskState(_ context.Context, id uuid.UUID, state types.TaskState, taskErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return dberror.ErrNotFound
	}
	t.State = state
	f.tasks[id] = t
	return nil
}

func (f *fakeTaskDb) state(id uuid.UUID) types.TaskState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[id].State
}

func TestRunnerDrainsQueue(t *testing.T) {
	store := newFakeTaskDb()
	r := NewRunner(store, time.Minute, 2)

	var mu sync.Mutex
	var handled []types.Slug
	r.Register(ActionResourceSync, func(_ context.Context, p Payload) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, p.Dataset)
		return nil
	})
	r.Register(ActionHarvest, func(context.Context, Payload) error {
		return errors.New("remote unavailable")
	})

	okID, err := r.Enqueue(context.Background(), ActionResourceSync, Payload{Dataset: "releves"})
	require.NoError(t, err)
	failID, err := r.Enqueue(context.Background(), ActionHarvest, Payload{Source: uuid.New()})
	require.NoError(t, err)
	strayID, err := r.Enqueue(context.Background(), "no_such_action", Payload{})
	require.NoError(t, err)

	r.drain(context.Background())

	assert.Equal(t, types.TaskSucceeded, store.state(okID))
	assert.Equal(t, types.TaskFailed, store.state(failID))
	assert.Equal(t, types.TaskFailed, store.state(strayID))
	assert.Equal(t, []types.Slug{"releves"}, handled)
}

func TestEnqueueRoundTripsPayload(t *testing.T) {
	store := newFakeTaskDb()
	r := NewRunner(store, time.Minute, 1)

	resource := uuid.New()
	var got Payload
	r.Register(ActionResourceSync, func(_ context.Context, p Payload) error {
		got = p
		return nil
	})

	_, err := r.Enqueue(context.Background(), ActionResourceSync, Payload{Dataset: "releves", Resource: resource})
	require.NoError(t, err)
	r.drain(context.Background())

	assert.Equal(t, types.Slug("releves"), got.Dataset)
	assert.Equal(t, resource, got.Resource)
}
