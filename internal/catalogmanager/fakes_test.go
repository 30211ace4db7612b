package catalogmanager

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/internal/adapters/ckan"
	"github.com/terrado/geosyncsrv/internal/adapters/mra"
	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/internal/notify"
	"github.com/terrado/geosyncsrv/internal/spatial"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// fakeStore is an in-memory CatalogDb covering the slice the managers
// exercise. The embedded interface panics on anything a test reaches that
// the fake does not implement.
type fakeStore struct {
	db.CatalogDb

	orgs      map[types.Slug]models.Organisation
	profiles  map[types.Username]models.Profile
	datasets  map[types.Slug]models.Dataset
	resources map[uuid.UUID]models.Resource
	layers    map[types.Slug]models.Layer
	formats   map[types.Slug]models.ResourceFormat
	members   map[types.Slug][]types.Username
	nexuses   map[string]models.Nexus
	crs       []models.SupportedCrs
}

func nexusKey(username types.Username, org types.Slug, role models.NexusRole) string {
	return string(username) + "|" + string(org) + "|" + string(role)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orgs:      map[types.Slug]models.Organisation{},
		profiles:  map[types.Username]models.Profile{},
		datasets:  map[types.Slug]models.Dataset{},
		resources: map[uuid.UUID]models.Resource{},
		layers:    map[types.Slug]models.Layer{},
		formats:   map[types.Slug]models.ResourceFormat{},
		members:   map[types.Slug][]types.Username{},
		nexuses:   map[string]models.Nexus{},
		crs:       []models.SupportedCrs{{Authority: "EPSG", Code: 2154}},
	}
}

func (f *fakeStore) clone() *fakeStore {
	c := newFakeStore()
	for k, v := range f.orgs {
		c.orgs[k] = v
	}
	for k, v := range f.profiles {
		c.profiles[k] = v
	}
	for k, v := range f.datasets {
		c.datasets[k] = v
	}
	for k, v := range f.resources {
		c.resources[k] = v
	}
	for k, v := range f.layers {
		c.layers[k] = v
	}
	for k, v := range f.formats {
		c.formats[k] = v
	}
	for k, v := range f.members {
		c.members[k] = v
	}
	for k, v := range f.nexuses {
		c.nexuses[k] = v
	}
	c.crs = f.crs
	return c
}

func (f *fakeStore) adopt(c *fakeStore) {
	f.orgs, f.profiles, f.datasets, f.nexuses = c.orgs, c.profiles, c.datasets, c.nexuses
	f.resources, f.layers, f.formats, f.members = c.resources, c.layers, c.formats, c.members
}

func (f *fakeStore) CreateNexus(_ context.Context, n *models.Nexus) error {
	k := nexusKey(n.Username, n.Organisation, n.Role)
	if _, ok := f.nexuses[k]; ok {
		return dberror.ErrAlreadyExists
	}
	f.nexuses[k] = *n
	return nil
}

func (f *fakeStore) ValidateNexus(_ context.Context, username types.Username, org types.Slug, role models.NexusRole, when time.Time) error {
	k := nexusKey(username, org, role)
	n, ok := f.nexuses[k]
	if !ok {
		return dberror.ErrNotFound
	}
	n.ValidatedOn = &when
	f.nexuses[k] = n
	return nil
}

func (f *fakeStore) DeleteNexus(_ context.Context, username types.Username, org types.Slug, role models.NexusRole) error {
	delete(f.nexuses, nexusKey(username, org, role))
	return nil
}

// WithTx mimics transactional semantics: fn runs against a copy and the
// copy replaces the live maps only on success.
func (f *fakeStore) WithTx(ctx context.Context, fn func(db.CatalogDb) error) error {
	c := f.clone()
	if err := fn(c); err != nil {
		return err
	}
	f.adopt(c)
	return nil
}

func (f *fakeStore) CreateOrganisation(_ context.Context, org *models.Organisation) error {
	if _, ok := f.orgs[org.Slug]; ok {
		return dberror.ErrAlreadyExists
	}
	f.orgs[org.Slug] = *org
	return nil
}

func (f *fakeStore) GetOrganisation(_ context.Context, slug types.Slug) (*models.Organisation, error) {
	org, ok := f.orgs[slug]
	if !ok {
		return nil, dberror.ErrNotFound
	}
	return &org, nil
}

func (f *fakeStore) UpdateOrganisation(_ context.Context, org *models.Organisation) error {
	if _, ok := f.orgs[org.Slug]; !ok {
		return dberror.ErrNotFound
	}
	f.orgs[org.Slug] = *org
	return nil
}

func (f *fakeStore) SetOrganisationCkanID(_ context.Context, slug types.Slug, ckanID uuid.UUID) error {
	org, ok := f.orgs[slug]
	if !ok || org.CkanID != uuid.Nil {
		return dberror.ErrAlreadyExists
	}
	org.CkanID = ckanID
	f.orgs[slug] = org
	return nil
}

func (f *fakeStore) DeleteOrganisation(_ context.Context, slug types.Slug) error {
	delete(f.orgs, slug)
	return nil
}

func (f *fakeStore) ActiveMemberUsernames(_ context.Context, org types.Slug) ([]types.Username, error) {
	return f.members[org], nil
}

func (f *fakeStore) PropagatePartner(_ context.Context, _ types.Slug, _ bool) error {
	return nil
}

func (f *fakeStore) GetProfile(_ context.Context, username types.Username) (*models.Profile, error) {
	p, ok := f.profiles[username]
	if !ok {
		return nil, dberror.ErrNotFound
	}
	return &p, nil
}

func (f *fakeStore) CreateProfile(_ context.Context, p *models.Profile) error {
	f.profiles[p.Username] = *p
	return nil
}

func (f *fakeStore) UpdateProfile(_ context.Context, p *models.Profile) error {
	f.profiles[p.Username] = *p
	return nil
}

func (f *fakeStore) DeleteProfile(_ context.Context, username types.Username) error {
	delete(f.profiles, username)
	return nil
}

func (f *fakeStore) CreateDataset(_ context.Context, d *models.Dataset) error {
	if _, ok := f.datasets[d.Slug]; ok {
		return dberror.ErrAlreadyExists
	}
	f.datasets[d.Slug] = *d
	return nil
}

func (f *fakeStore) GetDataset(_ context.Context, slug types.Slug) (*models.Dataset, error) {
	d, ok := f.datasets[slug]
	if !ok {
		return nil, dberror.ErrNotFound
	}
	return &d, nil
}

func (f *fakeStore) ListDatasets(_ context.Context, filter db.DatasetFilter) ([]models.Dataset, error) {
	var out []models.Dataset
	for _, d := range f.datasets {
		if filter.Organisation != "" && d.Organisation != filter.Organisation {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeStore) UpdateDataset(_ context.Context, d *models.Dataset) error {
	if _, ok := f.datasets[d.Slug]; !ok {
		return dberror.ErrNotFound
	}
	f.datasets[d.Slug] = *d
	return nil
}

func (f *fakeStore) DeleteDataset(_ context.Context, slug types.Slug) error {
	delete(f.datasets, slug)
	return nil
}

func (f *fakeStore) CreateResource(_ context.Context, r *models.Resource) error {
	f.resources[r.CkanID] = *r
	return nil
}

func (f *fakeStore) GetResource(_ context.Context, ckanID uuid.UUID) (*models.Resource, error) {
	r, ok := f.resources[ckanID]
	if !ok {
		return nil, dberror.ErrNotFound
	}
	return &r, nil
}

func (f *fakeStore) ListResources(_ context.Context, dataset types.Slug) ([]models.Resource, error) {
	var out []models.Resource
	for _, r := range f.resources {
		if r.Dataset == dataset {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateResource(_ context.Context, r *models.Resource) error {
	f.resources[r.CkanID] = *r
	return nil
}

func (f *fakeStore) DeleteResource(_ context.Context, ckanID uuid.UUID) error {
	delete(f.resources, ckanID)
	return nil
}

func (f *fakeStore) CreateLayer(_ context.Context, l *models.Layer) error {
	f.layers[l.Name] = *l
	return nil
}

func (f *fakeStore) ListLayersByResource(_ context.Context, resource uuid.UUID) ([]models.Layer, error) {
	var out []models.Layer
	for _, l := range f.layers {
		if l.Resource == resource {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteLayer(_ context.Context, name types.Slug) error {
	delete(f.layers, name)
	return nil
}

func (f *fakeStore) GetResourceFormat(_ context.Context, slug types.Slug) (*models.ResourceFormat, error) {
	fm, ok := f.formats[slug]
	if !ok {
		return nil, dberror.ErrNotFound
	}
	return &fm, nil
}

func (f *fakeStore) ListSupportedCrs(_ context.Context) ([]models.SupportedCrs, error) {
	return f.crs, nil
}

// fakeCkan records the catalog mutations the managers issue.
type fakeCkan struct {
	DataCatalog

	orgs         map[string]string // name -> id
	published    []ckan.DatasetPayload
	publishErr   error
	states       map[string]string
	resources    map[string]ckan.ResourcePayload
	views        []string
	purged       []string
	deleted      []string
	users        []string
	userStates   []string
	memberships  []string
	groupMembers []string
}

func newFakeCkan() *fakeCkan {
	return &fakeCkan{
		orgs:      map[string]string{},
		states:    map[string]string{},
		resources: map[string]ckan.ResourcePayload{},
	}
}

func (f *fakeCkan) CreateUser(_ context.Context, u ckan.UserPayload) (string, error) {
	f.users = append(f.users, u.Name)
	return uuid.NewString(), nil
}

func (f *fakeCkan) UpdateUser(_ context.Context, _ ckan.UserPayload) error { return nil }

func (f *fakeCkan) UserAPIKey(_ context.Context, name string) (string, error) {
	return name + "-key", nil
}

func (f *fakeCkan) SetUserState(_ context.Context, name string, active bool) error {
	state := "deleted"
	if active {
		state = "active"
	}
	f.userStates = append(f.userStates, name+":"+state)
	return nil
}

func (f *fakeCkan) AddOrganisationMember(_ context.Context, org, username, role string) error {
	f.memberships = append(f.memberships, org+"/"+username+"/"+role)
	return nil
}

func (f *fakeCkan) RemoveOrganisationMember(_ context.Context, org, username string) error {
	f.memberships = append(f.memberships, "-"+org+"/"+username)
	return nil
}

func (f *fakeCkan) AddGroupMember(_ context.Context, group, username string) error {
	f.groupMembers = append(f.groupMembers, group+"/"+username)
	return nil
}

func (f *fakeCkan) RemoveGroupMember(_ context.Context, group, username string) error {
	f.groupMembers = append(f.groupMembers, "-"+group+"/"+username)
	return nil
}

func (f *fakeCkan) CreateOrganisation(_ context.Context, org ckan.OrganisationPayload) (string, error) {
	id := uuid.NewString()
	f.orgs[org.Name] = id
	return id, nil
}

func (f *fakeCkan) UpdateOrganisation(_ context.Context, _ ckan.OrganisationPayload) error {
	return nil
}

func (f *fakeCkan) OrganisationExists(_ context.Context, name string) (bool, error) {
	_, ok := f.orgs[name]
	return ok, nil
}

func (f *fakeCkan) PurgeOrganisation(_ context.Context, name string) error {
	delete(f.orgs, name)
	return nil
}

func (f *fakeCkan) PublishDataset(_ context.Context, d ckan.DatasetPayload) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, d)
	return nil
}

func (f *fakeCkan) SetDatasetState(_ context.Context, id, state string) error {
	f.states[id] = state
	return nil
}

func (f *fakeCkan) DeleteDataset(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeCkan) PurgeDataset(_ context.Context, id string) error {
	f.purged = append(f.purged, id)
	return nil
}

func (f *fakeCkan) CreateResource(_ context.Context, r ckan.ResourcePayload) (string, error) {
	f.resources[r.ID] = r
	return r.ID, nil
}

func (f *fakeCkan) UpdateResource(_ context.Context, r ckan.ResourcePayload) error {
	f.resources[r.ID] = r
	return nil
}

func (f *fakeCkan) DeleteResource(_ context.Context, id string) error {
	delete(f.resources, id)
	return nil
}

func (f *fakeCkan) EnsureResourceView(_ context.Context, resourceID, viewType, _ string) error {
	f.views = append(f.views, resourceID+":"+viewType)
	return nil
}

// fakeMeta records metadata record deletions.
type fakeMeta struct {
	deleted []string
}

func (f *fakeMeta) DeleteRecord(_ context.Context, identifier string) error {
	f.deleted = append(f.deleted, identifier)
	return nil
}

// fakeEngine records map-engine teardown calls.
type fakeEngine struct {
	mraFake

	deletedLayers        []string
	deletedStyles        []string
	deletedFeaturetypes  []string
	deletedCoverages     []string
	deletedCoveragestores []string
}

// mraFake satisfies the ingest.MapEngine creation surface the managers do
// not reach in these tests.
type mraFake struct{}

func (mraFake) GetOrCreateWorkspace(context.Context, string) error { return nil }
func (mraFake) DeleteWorkspace(context.Context, string) error      { return nil }
func (mraFake) EnableOWS(context.Context, string, bool) error      { return nil }
func (mraFake) GetOrCreateDatastore(context.Context, string, mra.Datastore) error {
	return nil
}
func (mraFake) DeleteDatastore(context.Context, string, string) error { return nil }
func (mraFake) CreateLayerGroup(context.Context, string, string, []string) error {
	return nil
}
func (mraFake) DeleteLayerGroup(context.Context, string, string) error { return nil }
func (mraFake) CreateFeaturetype(context.Context, string, string, mra.Featuretype) error {
	return nil
}
func (mraFake) CreateCoveragestore(context.Context, string, string, string) error { return nil }
func (mraFake) CreateCoverage(context.Context, string, string, string, string) error {
	return nil
}
func (mraFake) GetCoverageBbox(context.Context, string, string, string) (types.Bbox, error) {
	return types.Bbox{}, nil
}
func (mraFake) CreateStyle(context.Context, string, string, string) error { return nil }
func (mraFake) SetDefaultStyle(context.Context, string, string, string) error {
	return nil
}

func (f *fakeEngine) DeleteLayer(_ context.Context, name string) error {
	f.deletedLayers = append(f.deletedLayers, name)
	return nil
}

func (f *fakeEngine) DeleteStyle(_ context.Context, _ string, name string) error {
	f.deletedStyles = append(f.deletedStyles, name)
	return nil
}

func (f *fakeEngine) DeleteFeaturetype(_ context.Context, _, _, name string) error {
	f.deletedFeaturetypes = append(f.deletedFeaturetypes, name)
	return nil
}

func (f *fakeEngine) DeleteCoverage(_ context.Context, _, _, name string) error {
	f.deletedCoverages = append(f.deletedCoverages, name)
	return nil
}

func (f *fakeEngine) DeleteCoveragestore(_ context.Context, _, name string) error {
	f.deletedCoveragestores = append(f.deletedCoveragestores, name)
	return nil
}

// fakeFeatures records dropped tables.
type fakeFeatures struct {
	dropped []types.Slug
}

func (f *fakeFeatures) CreateLayerTable(context.Context, types.Slug, []spatial.Field) error {
	return nil
}

func (f *fakeFeatures) InsertFeatures(context.Context, types.Slug, []spatial.Field, int, []spatial.Feature) error {
	return nil
}

func (f *fakeFeatures) LayerBbox(context.Context, types.Slug) (types.Bbox, error) {
	return types.Bbox{}, nil
}

func (f *fakeFeatures) DropLayerTable(_ context.Context, name types.Slug) error {
	f.dropped = append(f.dropped, name)
	return nil
}

// fakeIngestor returns canned layers keyed by the resource id.
type fakeIngestor struct {
	layers []models.Layer
	err    error
	runs   int
}

func (f *fakeIngestor) Run(_ context.Context, _ string, resource uuid.UUID, _ string, _ []models.SupportedCrs) ([]models.Layer, error) {
	f.runs++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.Layer, len(f.layers))
	copy(out, f.layers)
	for i := range out {
		out[i].Resource = resource
	}
	return out, nil
}

// fakeNotifier collects raised events.
type fakeNotifier struct {
	events []notify.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n notify.Notification) {
	f.events = append(f.events, n)
}

func (f *fakeNotifier) eventNames() string {
	var names []string
	for _, e := range f.events {
		names = append(names, string(e.Event))
	}
	return strings.Join(names, ",")
}
