package apis

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/internal/common"
	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/internal/tasks"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// fakeStore panics on any store method a test does not seed; that is the
// point, handlers must only touch what their route needs.
type fakeStore struct {
	db.CatalogDb

	profiles  map[types.Username]*models.Profile
	nexuses   []models.Nexus
	orgs      map[types.Slug]*models.Organisation
	datasets  map[types.Slug]*models.Dataset
	resources map[uuid.UUID]*models.Resource
	layers    map[types.Slug]*models.Layer
	sources   map[uuid.UUID]*models.RemoteSource
	taskRows  map[uuid.UUID]*models.Task
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:  map[types.Username]*models.Profile{},
		orgs:      map[types.Slug]*models.Organisation{},
		datasets:  map[types.Slug]*models.Dataset{},
		resources: map[uuid.UUID]*models.Resource{},
		layers:    map[types.Slug]*models.Layer{},
		sources:   map[uuid.UUID]*models.RemoteSource{},
		taskRows:  map[uuid.UUID]*models.Task{},
	}
}

func (s *fakeStore) GetProfile(_ context.Context, u types.Username) (*models.Profile, error) {
	if p, ok := s.profiles[u]; ok {
		return p, nil
	}
	return nil, dberror.ErrNotFound
}

func (s *fakeStore) ListProfiles(context.Context) ([]models.Profile, error) {
	var out []models.Profile
	for _, p := range s.profiles {
		out = append(out, *p)
	}
	return out, nil
}

func (s *fakeStore) NexusesForProfile(_ context.Context, u types.Username) ([]models.Nexus, error) {
	var out []models.Nexus
	for _, n := range s.nexuses {
		if n.Username == u {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *fakeStore) GetOrganisation(_ context.Context, slug types.Slug) (*models.Organisation, error) {
	if o, ok := s.orgs[slug]; ok {
		return o, nil
	}
	return nil, dberror.ErrNotFound
}

func (s *fakeStore) ListOrganisations(context.Context) ([]models.Organisation, error) {
	var out []models.Organisation
	for _, o := range s.orgs {
		out = append(out, *o)
	}
	return out, nil
}

func (s *fakeStore) GetDataset(_ context.Context, slug types.Slug) (*models.Dataset, error) {
	if d, ok := s.datasets[slug]; ok {
		return d, nil
	}
	return nil, dberror.ErrNotFound
}

func (s *fakeStore) ListDatasets(_ context.Context, _ db.DatasetFilter) ([]models.Dataset, error) {
	var out []models.Dataset
	for _, d := range s.datasets {
		out = append(out, *d)
	}
	return out, nil
}

func (s *fakeStore) GetResource(_ context.Context, id uuid.UUID) (*models.Resource, error) {
	if r, ok := s.resources[id]; ok {
		return r, nil
	}
	return nil, dberror.ErrNotFound
}

func (s *fakeStore) ListResources(_ context.Context, dataset types.Slug) ([]models.Resource, error) {
	var out []models.Resource
	for _, r := range s.resources {
		if r.Dataset == dataset {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) GetLayer(_ context.Context, name types.Slug) (*models.Layer, error) {
	if l, ok := s.layers[name]; ok {
		return l, nil
	}
	return nil, dberror.ErrNotFound
}

func (s *fakeStore) ListLayersByResource(_ context.Context, id uuid.UUID) ([]models.Layer, error) {
	var out []models.Layer
	for _, l := range s.layers {
		if l.Resource == id {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *fakeStore) GetRemoteSourceByID(_ context.Context, id uuid.UUID) (*models.RemoteSource, error) {
	if src, ok := s.sources[id]; ok {
		return src, nil
	}
	return nil, dberror.ErrNotFound
}

func (s *fakeStore) ListRemoteSources(context.Context) ([]models.RemoteSource, error) {
	var out []models.RemoteSource
	for _, src := range s.sources {
		out = append(out, *src)
	}
	return out, nil
}

func (s *fakeStore) UpsertRemoteSource(_ context.Context, src *models.RemoteSource) error {
	s.sources[src.ID] = src
	return nil
}

func (s *fakeStore) GetTask(_ context.Context, id uuid.UUID) (*models.Task, error) {
	if t, ok := s.taskRows[id]; ok {
		return t, nil
	}
	return nil, dberror.ErrNotFound
}

// fakeCatalog records manager calls.
type fakeCatalog struct {
	CatalogService

	savedDatasets  []*models.Dataset
	savedResources []*models.Resource
	localPaths     []string
	deletedSlugs   []types.Slug
	published      map[types.Slug]bool
	err            error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{published: map[types.Slug]bool{}}
}

func (c *fakeCatalog) SaveDataset(_ context.Context, d *models.Dataset) error {
	if c.err != nil {
		return c.err
	}
	if d.Slug == "" {
		d.Slug = types.Slugify(d.Title)
	}
	c.savedDatasets = append(c.savedDatasets, d)
	return nil
}

func (c *fakeCatalog) DeleteDataset(_ context.Context, slug types.Slug) error {
	c.deletedSlugs = append(c.deletedSlugs, slug)
	return c.err
}

func (c *fakeCatalog) SetDatasetPublished(_ context.Context, slug types.Slug, published bool) error {
	c.published[slug] = published
	return c.err
}

func (c *fakeCatalog) SaveResource(_ context.Context, r *models.Resource, localPath string) error {
	if c.err != nil {
		return c.err
	}
	c.savedResources = append(c.savedResources, r)
	c.localPaths = append(c.localPaths, localPath)
	return nil
}

func (c *fakeCatalog) DeleteResource(_ context.Context, _ uuid.UUID) error {
	return c.err
}

type fakeQueue struct {
	enqueued []string
}

func (q *fakeQueue) Enqueue(_ context.Context, action string, p tasks.Payload) (uuid.UUID, error) {
	q.enqueued = append(q.enqueued, action+":"+p.Source.String())
	return uuid.New(), nil
}

type fakeExtractor struct {
	submitted []json.RawMessage
	aborted   []uuid.UUID
}

func (e *fakeExtractor) Submit(_ context.Context, username types.Username, targetModel, targetID string, query json.RawMessage) (*models.ExtractorTask, error) {
	e.submitted = append(e.submitted, query)
	return &models.ExtractorTask{UUID: uuid.New(), Username: username}, nil
}

func (e *fakeExtractor) Abort(_ context.Context, id uuid.UUID) error {
	e.aborted = append(e.aborted, id)
	return nil
}

type fakeStyles struct {
	styles map[string]string
	gets   int
	puts   int
}

func (s *fakeStyles) GetStyle(_ context.Context, workspace, name string) (string, error) {
	s.gets++
	return s.styles[workspace+"/"+name], nil
}

func (s *fakeStyles) UpdateStyle(_ context.Context, workspace, name, sld string) error {
	s.puts++
	if s.styles == nil {
		s.styles = map[string]string{}
	}
	s.styles[workspace+"/"+name] = sld
	return nil
}

type fakeCache struct {
	values map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{values: map[string][]byte{}}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := c.values[key]
	return v, ok
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte) {
	c.values[key] = value
}

func (c *fakeCache) Invalidate(_ context.Context, key string) {
	delete(c.values, key)
}

type fakeTracking struct {
	total, recent int64
}

func (t *fakeTracking) TrackingSummary(context.Context, string) (int64, int64, error) {
	return t.total, t.recent, nil
}

// injectActor stands in for the actor-loading middleware.
func injectActor(actor common.Actor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := common.SetActorInContext(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
