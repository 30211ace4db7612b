package extractor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/internal/notify"
	"github.com/terrado/geosyncsrv/pkg/types"
)

type fakeExtractorDb struct {
	db.CatalogDb

	tasks map[uuid.UUID]models.ExtractorTask
}

func newFakeExtractorDb() *fakeExtractorDb {
	return &fakeExtractorDb{tasks: map[uuid.UUID]models.ExtractorTask{}}
}

func (f *fakeExtractorDb) CreateExtractorTask(_ context.Context, t *models.ExtractorTask) error {
	if t.UUID == uuid.Nil {
		t.UUID = uuid.New()
	}
	t.SubmissionDatetime = time.Now().UTC()
	f.tasks[t.UUID] = *t
	return nil
}

func (f *fakeExtractorDb) GetExtractorTask(_ context.Context, id uuid.UUID) (*models.ExtractorTask, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, dberror.ErrNotFound
	}
	return &t, nil
}

func (f *fakeExtractorDb) UpdateExtractorTask(_ context.Context, t *models.ExtractorTask) error {
	if _, ok := f.tasks[t.UUID]; !ok {
		return dberror.ErrNotFound
	}
	f.tasks[t.UUID] = *t
	return nil
}

func (f *fakeExtractorDb) ListExtractorTasks(context.Context, types.Username) ([]models.ExtractorTask, error) {
	var out []models.ExtractorTask
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, nil
}

type fakeRecipients struct{ events []notify.Notification }

func (f *fakeRecipients) Notify(_ context.Context, n notify.Notification) {
	f.events = append(f.events, n)
}

// fakeService emulates the extraction service: one job, status switchable.
type fakeService struct {
	status  string
	aborted bool
}

func (f *fakeService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"status_url": "/jobs/1"})
	})
	mux.HandleFunc("/jobs/1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			f.aborted = true
			w.WriteHeader(http.StatusNoContent)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status":       f.status,
			"download_url": "https://extract.example.org/out.zip",
		})
	})
	return mux
}

func newTestService(t *testing.T, remote *fakeService) (*Service, *fakeExtractorDb, *fakeRecipients) {
	t.Helper()
	srv := httptest.NewServer(remote.handler())
	t.Cleanup(srv.Close)
	store := newFakeExtractorDb()
	recipients := &fakeRecipients{}
	return New(store, srv.URL, 5*time.Second, recipients), store, recipients
}

func TestSubmitRecordsJob(t *testing.T) {
	svc, store, _ := newTestService(t, &fakeService{status: "pending"})

	task, err := svc.Submit(context.Background(), "carol", "resource", "abc",
		json.RawMessage(`{"footprint": "POLYGON((0 0,1 0,1 1,0 0))"}`))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, task.UUID)

	stored := store.tasks[task.UUID]
	assert.Equal(t, types.Username("carol"), stored.Username)
	assert.Nil(t, stored.Success)
}

func TestPollClosesFinishedJobs(t *testing.T) {
	remote := &fakeService{status: "running"}
	svc, store, recipients := newTestService(t, remote)

	task, err := svc.Submit(context.Background(), "carol", "resource", "abc", json.RawMessage(`{}`))
	require.NoError(t, err)

	svc.Poll(context.Background())
	open := store.tasks[task.UUID]
	require.Nil(t, open.Success)
	assert.NotNil(t, open.StartDatetime)

	remote.status = "success"
	svc.Poll(context.Background())

	closed := store.tasks[task.UUID]
	require.NotNil(t, closed.Success)
	assert.True(t, *closed.Success)
	assert.NotNil(t, closed.StopDatetime)

	require.Len(t, recipients.events, 1)
	assert.Equal(t, notify.EventExtractionSucceeded, recipients.events[0].Event)
	assert.Equal(t, []types.Username{"carol"}, recipients.events[0].Recipients)
}

func TestAbortOnlyWhileOpen(t *testing.T) {
	remote := &fakeService{status: "pending"}
	svc, store, _ := newTestService(t, remote)

	task, err := svc.Submit(context.Background(), "carol", "resource", "abc", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.NoError(t, svc.Abort(context.Background(), task.UUID))
	assert.True(t, remote.aborted)
	aborted := store.tasks[task.UUID]
	require.NotNil(t, aborted.Success)
	assert.False(t, *aborted.Success)

	err = svc.Abort(context.Background(), task.UUID)
	require.ErrorIs(t, err, ErrJobClosed)
}
