package harvester

import (
	"context"
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
	"github.com/terrado/geosyncsrv/pkg/types"
)

type fakeDb struct {
	db.CatalogDb

	source    models.RemoteSource
	licenses  []models.License
	categories []models.Category
	formats   []models.ResourceFormat
	licMaps   []models.MappingLicence
	catMaps   []models.MappingCategory
	datasets  map[types.Slug]models.Dataset
	links     map[string]models.HarvestedDataset
	resources map[types.Slug][]models.Resource
	nexuses   map[string]models.Nexus
}

func newFakeDb(src models.RemoteSource) *fakeDb {
	return &fakeDb{
		source:    src,
		datasets:  map[types.Slug]models.Dataset{},
		links:     map[string]models.HarvestedDataset{},
		resources: map[types.Slug][]models.Resource{},
		nexuses:   map[string]models.Nexus{},
	}
}

func nexusKey(username types.Username, org types.Slug, role models.NexusRole) string {
	return string(username) + "/" + string(org) + "/" + string(role)
}

func (f *fakeDb) CreateNexus(_ context.Context, n *models.Nexus) error {
	k := nexusKey(n.Username, n.Organisation, n.Role)
	if _, ok := f.nexuses[k]; ok {
		return dberror.ErrAlreadyExists
	}
	f.nexuses[k] = *n
	return nil
}

func (f *fakeDb) ValidateNexus(_ context.Context, username types.Username, org types.Slug, role models.NexusRole, when time.Time) error {
	k := nexusKey(username, org, role)
	n, ok := f.nexuses[k]
	if !ok {
		return dberror.ErrNotFound
	}
	n.ValidatedOn = &when
	f.nexuses[k] = n
	return nil
}

func (f *fakeDb) GetRemoteSourceByID(_ context.Context, id uuid.UUID) (*models.RemoteSource, error) {
	if id != f.source.ID {
		return nil, dberror.ErrNotFound
	}
	src := f.source
	return &src, nil
}

func (f *fakeDb) ListLicenses(context.Context) ([]models.License, error) {
	return f.licenses, nil
}

func (f *fakeDb) ListCategories(context.Context) ([]models.Category, error) {
	return f.categories, nil
}

func (f *fakeDb) ListResourceFormats(context.Context) ([]models.ResourceFormat, error) {
	return f.formats, nil
}

func (f *fakeDb) ListMappingLicences(context.Context, uuid.UUID) ([]models.MappingLicence, error) {
	return f.licMaps, nil
}

func (f *fakeDb) ListMappingCategories(context.Context, uuid.UUID) ([]models.MappingCategory, error) {
	return f.catMaps, nil
}

func (f *fakeDb) GetDataset(_ context.Context, slug types.Slug) (*models.Dataset, error) {
	d, ok := f.datasets[slug]
	if !ok {
		return nil, dberror.ErrNotFound
	}
	return &d, nil
}

func (f *fakeDb) UpsertHarvestedDataset(_ context.Context, h *models.HarvestedDataset) error {
	f.links[h.RemoteIdentifier] = *h
	return nil
}

func (f *fakeDb) ListHarvestedDatasets(context.Context, uuid.UUID) ([]models.HarvestedDataset, error) {
	var out []models.HarvestedDataset
	for _, l := range f.links {
		out = append(out, l)
	}
	return out, nil
}

func (f *fakeDb) DeleteHarvestedDataset(_ context.Context, _ uuid.UUID, remoteID string) error {
	delete(f.links, remoteID)
	return nil
}

func (f *fakeDb) ListResources(_ context.Context, dataset types.Slug) ([]models.Resource, error) {
	return f.resources[dataset], nil
}

func (f *fakeDb) GetResourceFormat(_ context.Context, slug types.Slug) (*models.ResourceFormat, error) {
	for i := range f.formats {
		if f.formats[i].Slug == slug {
			return &f.formats[i], nil
		}
	}
	return nil, dberror.ErrNotFound
}

// fakeWriter records the catalog mutations a cycle issues.
type fakeWriter struct {
	saved     map[types.Slug]models.Dataset
	resources []models.Resource
	deleted   []types.Slug
	activated []types.Slug
	failSlug  types.Slug
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{saved: map[types.Slug]models.Dataset{}}
}

func (f *fakeWriter) SaveDataset(_ context.Context, d *models.Dataset) error {
	if d.Slug == f.failSlug {
		return dberror.ErrDatabase.Msg("boom")
	}
	f.saved[d.Slug] = *d
	return nil
}

func (f *fakeWriter) DeleteDataset(_ context.Context, slug types.Slug) error {
	f.deleted = append(f.deleted, slug)
	return nil
}

func (f *fakeWriter) SaveResource(_ context.Context, r *models.Resource, _ string) error {
	f.resources = append(f.resources, *r)
	return nil
}

func (f *fakeWriter) SetDatasetPublished(_ context.Context, slug types.Slug, published bool) error {
	if published {
		f.activated = append(f.activated, slug)
	}
	return nil
}

// fakeMeta records metadata-catalog mirroring.
type fakeMeta struct {
	nextID    string
	created   []string
	updated   []string
	published []string
}

func (f *fakeMeta) CreateRecord(_ context.Context, metadata string) (string, error) {
	f.created = append(f.created, metadata)
	return f.nextID, nil
}

func (f *fakeMeta) UpdateRecord(_ context.Context, metadata string) error {
	f.updated = append(f.updated, metadata)
	return nil
}

func (f *fakeMeta) PublishRecord(_ context.Context, id string) error {
	f.published = append(f.published, id)
	return nil
}

type fakeFetcher struct {
	records []Record
	err     error
}

func (f *fakeFetcher) Fetch(context.Context, *models.RemoteSource) ([]Record, error) {
	return f.records, f.err
}

func testSource() models.RemoteSource {
	return models.RemoteSource{
		ID:           uuid.New(),
		Kind:         types.RemoteCkan,
		Organisation: "meteo-centre",
		URL:          "https://remote.example.org",
		SyncWith:     []string{"meteo-remote"},
	}
}

func testHarvester(store *fakeDb, writer *fakeWriter, fetcher Fetcher) *Harvester {
	return New(store, writer, map[types.RemoteKind]Fetcher{types.RemoteCkan: fetcher}, Options{
		HarvestUser:    "harvest",
		DefaultLicense: "notspecified",
	})
}

func TestRunCreatesAndActivates(t *testing.T) {
	src := testSource()
	store := newFakeDb(src)
	store.licenses = []models.License{{Slug: "odbl", Title: "Open Database License"}}
	store.categories = []models.Category{{Slug: "environment", Name: "Environnement"}}
	store.formats = []models.ResourceFormat{{
		Slug: "csv", Extension: "csv", MimeTypes: []string{"text/csv"}, Protocol: "WWW:DOWNLOAD",
	}}
	writer := newFakeWriter()
	fetcher := &fakeFetcher{records: []Record{
		{
			Identifier:  "abc-123",
			RemoteOrg:   "meteo-remote",
			Title:       "Relevés 2025",
			License:     "Open Database License",
			Categories:  []string{"Environnement", "inconnue"},
			Frequency:   types.FrequencyMonthly,
			Resources:   []RecordResource{{Name: "CSV", URL: "https://remote/x.csv", Mimetype: "text/csv"}},
		},
		{Identifier: "def-456", RemoteOrg: "meteo-remote", Title: "Stations"},
	}}

	report, err := testHarvester(store, writer, fetcher).Run(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Created)
	assert.Zero(t, report.Skipped)

	d, ok := writer.saved["sync-abc-123"]
	require.True(t, ok)
	assert.Equal(t, types.Username("harvest"), d.Editor)
	assert.Equal(t, types.Slug("odbl"), d.LicenseSlug)
	assert.Equal(t, []types.Slug{"environment"}, d.Categories)
	assert.Equal(t, src.ID, d.RemoteSourceID)
	assert.True(t, d.Slug.IsHarvested())
	// The save mid-cycle keeps the dataset a draft. Only the activation
	// pass at the end of the cycle flips the batch live.
	assert.False(t, d.Published)

	// Unknown frequency degrades rather than failing validation.
	assert.Equal(t, types.FrequencyUnknown, writer.saved["sync-def-456"].UpdateFrequency)

	require.Len(t, writer.resources, 1)
	assert.Equal(t, types.SourceReferenced, writer.resources[0].SourceKind)
	assert.Equal(t, "https://remote/x.csv", writer.resources[0].ReferencedURL)

	assert.Len(t, store.links, 2)
	assert.ElementsMatch(t, []types.Slug{"sync-abc-123", "sync-def-456"}, writer.activated)
}

func TestRunEnsuresHarvestContributor(t *testing.T) {
	src := testSource()
	store := newFakeDb(src)
	writer := newFakeWriter()
	fetcher := &fakeFetcher{records: []Record{{Identifier: "abc", Title: "Relevés"}}}
	h := testHarvester(store, writer, fetcher)

	_, err := h.Run(context.Background(), src.ID)
	require.NoError(t, err)

	n, ok := store.nexuses[nexusKey("harvest", src.Organisation, models.NexusContributor)]
	require.True(t, ok)
	require.NotNil(t, n.ValidatedOn)

	// An existing nexus survives the next cycle untouched.
	validated := *n.ValidatedOn
	_, err = h.Run(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, validated, *store.nexuses[nexusKey("harvest", src.Organisation, models.NexusContributor)].ValidatedOn)
}

func TestRunSkipsBrokenRecord(t *testing.T) {
	src := testSource()
	store := newFakeDb(src)
	writer := newFakeWriter()
	writer.failSlug = "sync-bad"
	fetcher := &fakeFetcher{records: []Record{
		{Identifier: "bad", Title: "Cassé"},
		{Identifier: "good", Title: "Valide"},
		{Title: "sans identifiant"},
	}}

	report, err := testHarvester(store, writer, fetcher).Run(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 2, report.Skipped)
	assert.Contains(t, writer.saved, types.Slug("sync-good"))
	assert.NotContains(t, store.links, "bad")
}

func TestRunReconcilesDeletions(t *testing.T) {
	src := testSource()
	store := newFakeDb(src)
	store.links["gone"] = models.HarvestedDataset{
		SourceID: src.ID, Dataset: "sync-gone", RemoteIdentifier: "gone",
	}
	writer := newFakeWriter()
	fetcher := &fakeFetcher{records: []Record{{Identifier: "kept", Title: "Toujours là"}}}

	report, err := testHarvester(store, writer, fetcher).Run(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)
	assert.Contains(t, writer.deleted, types.Slug("sync-gone"))
	assert.NotContains(t, store.links, "gone")
	assert.Contains(t, store.links, "kept")
}

func TestRunMirrorsMetadata(t *testing.T) {
	src := testSource()
	store := newFakeDb(src)
	writer := newFakeWriter()
	geonetID := uuid.New()
	meta := &fakeMeta{nextID: geonetID.String()}
	fetcher := &fakeFetcher{records: []Record{
		{Identifier: "iso-1", Title: "Occupation du sol", Metadata: "<gmd:MD_Metadata/>"},
	}}

	h := New(store, writer, map[types.RemoteKind]Fetcher{types.RemoteCkan: fetcher}, Options{
		HarvestUser: "harvest", DefaultLicense: "notspecified", Metadata: meta,
	})
	_, err := h.Run(context.Background(), src.ID)
	require.NoError(t, err)

	require.Len(t, meta.created, 1)
	assert.Equal(t, []string{geonetID.String()}, meta.published)
	assert.Equal(t, geonetID, writer.saved["sync-iso-1"].GeonetID)

	// A second cycle finds the identifier on the dataset and updates in
	// place instead of inserting again.
	store.datasets["sync-iso-1"] = writer.saved["sync-iso-1"]
	_, err = h.Run(context.Background(), src.ID)
	require.NoError(t, err)
	assert.Len(t, meta.created, 1)
	assert.Len(t, meta.updated, 1)
}

func TestResolveLicenseChain(t *testing.T) {
	rs := &resolver{
		licenses: []models.License{
			{Slug: "odbl", Title: "Open Database License", AlternateTitles: []string{"ODbL 1.0"}},
			{Slug: "lo", Title: "Licence Ouverte"},
		},
		licenceMap:     map[string]types.Slug{"weird-remote-name": "lo"},
		defaultLicense: "notspecified",
	}

	tests := []struct {
		remote string
		want   types.Slug
	}{
		{"odbl", "odbl"},
		{"Open Database License", "odbl"},
		{"ODbL 1.0", "odbl"},
		{"weird-remote-name", "lo"},
		{"no such license", "notspecified"},
		{"", "notspecified"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rs.resolveLicense(tt.remote), tt.remote)
	}
}

func TestDcatFetcherParsesFeed(t *testing.T) {
	feed := `{
		"dataset": [
			{
				"identifier": "rainfall-2025",
				"title": "Relevés pluviométriques",
				"description": "Cumuls mensuels",
				"keyword": ["pluie"],
				"theme": ["Environnement"],
				"license": "odbl",
				"publisher": {"name": "meteo-remote"},
				"distribution": [
					{"title": "CSV", "downloadURL": "https://remote/r.csv", "mediaType": "text/csv"}
				]
			},
			{
				"identifier": "other-org",
				"title": "Autre",
				"publisher": {"name": "someone-else"}
			}
		]
	}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(feed))
	}))
	defer srv.Close()

	fetcher, err := NewDcatFetcher(5 * time.Second)
	require.NoError(t, err)

	src := testSource()
	src.Kind = types.RemoteDcat
	src.URL = srv.URL
	records, err := fetcher.Fetch(context.Background(), &src)
	require.NoError(t, err)

	// The publisher filter keeps sync_with organisations only.
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "rainfall-2025", rec.Identifier)
	assert.Equal(t, []string{"pluie"}, rec.Keywords)
	assert.Equal(t, []string{"Environnement"}, rec.Categories)
	require.Len(t, rec.Resources, 1)
	assert.Equal(t, "https://remote/r.csv", rec.Resources[0].URL)
}

func TestDcatFetcherRejectsInvalidFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"dataset": [{"title": "sans identifiant"}]}`))
	}))
	defer srv.Close()

	fetcher, err := NewDcatFetcher(5 * time.Second)
	require.NoError(t, err)

	src := testSource()
	src.URL = srv.URL
	_, err = fetcher.Fetch(context.Background(), &src)
	require.ErrorContains(t, err, "rejected")
}
