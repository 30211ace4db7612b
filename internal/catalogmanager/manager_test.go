package catalogmanager

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrado/geosyncsrv/internal/adapters/remote"
	"github.com/terrado/geosyncsrv/internal/common"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/types"
)

type testRig struct {
	m        *Manager
	store    *fakeStore
	ckan     *fakeCkan
	meta     *fakeMeta
	engine   *fakeEngine
	features *fakeFeatures
	ingestor *fakeIngestor
	notifier *fakeNotifier
}

func newTestRig() *testRig {
	r := &testRig{
		store:    newFakeStore(),
		ckan:     newFakeCkan(),
		meta:     &fakeMeta{},
		engine:   &fakeEngine{},
		features: &fakeFeatures{},
		ingestor: &fakeIngestor{},
		notifier: &fakeNotifier{},
	}
	r.m = New(r.store, r.ckan, r.meta, r.engine, r.features, r.ingestor, r.notifier, Options{})
	return r
}

func adminCtx() context.Context {
	return common.SetActorInContext(context.Background(), common.Actor{Username: "alice", IsAdmin: true})
}

func contributorCtx(org types.Slug) context.Context {
	return common.SetActorInContext(context.Background(), common.Actor{
		Username:      "bob",
		Organisation:  org,
		ContributorOf: []types.Slug{org},
	})
}

func seedOrganisation(r *testRig, slug types.Slug) {
	r.store.orgs[slug] = models.Organisation{Slug: slug, LegalName: "Météo Centre"}
}

func seedDataset(r *testRig, slug types.Slug, org types.Slug) models.Dataset {
	d := models.Dataset{
		Slug:            slug,
		CkanID:          uuid.New(),
		Title:           "Relevés pluviométriques",
		Organisation:    org,
		LicenseSlug:     "odbl",
		UpdateFrequency: types.FrequencyMonthly,
		Published:       true,
	}
	r.store.datasets[slug] = d
	return d
}

func TestSaveDatasetCreatesAndPublishes(t *testing.T) {
	r := newTestRig()
	seedOrganisation(r, "meteo-centre")

	d := &models.Dataset{
		Title:           "Relevés pluviométriques",
		Organisation:    "meteo-centre",
		LicenseSlug:     "odbl",
		UpdateFrequency: types.FrequencyMonthly,
		Keywords:        []string{"pluie", "climat"},
		Published:       true,
	}
	require.NoError(t, r.m.SaveDataset(contributorCtx("meteo-centre"), d))

	assert.Equal(t, types.Slug("releves-pluviometriques"), d.Slug)
	assert.NotEqual(t, uuid.Nil, d.CkanID)

	stored, ok := r.store.datasets[d.Slug]
	require.True(t, ok)
	assert.Equal(t, types.Username("bob"), stored.Editor)

	// The organisation counterpart is created lazily on first publication.
	assert.Contains(t, r.ckan.orgs, "meteo-centre")
	assert.NotEqual(t, uuid.Nil, r.store.orgs["meteo-centre"].CkanID)

	require.Len(t, r.ckan.published, 1)
	p := r.ckan.published[0]
	assert.Equal(t, "releves-pluviometriques", p.Name)
	assert.Equal(t, "active", p.State)
	assert.False(t, p.Private)
	assert.Len(t, p.Tags, 2)

	assert.Equal(t, "dataset_created", r.notifier.eventNames())
}

func TestSaveDatasetDraftIsPrivate(t *testing.T) {
	r := newTestRig()
	seedOrganisation(r, "meteo-centre")

	d := &models.Dataset{
		Title:           "Relevés pluviométriques",
		Organisation:    "meteo-centre",
		LicenseSlug:     "odbl",
		UpdateFrequency: types.FrequencyMonthly,
	}
	require.NoError(t, r.m.SaveDataset(contributorCtx("meteo-centre"), d))

	// An unpublished dataset pushes as a private draft.
	require.Len(t, r.ckan.published, 1)
	p := r.ckan.published[0]
	assert.Equal(t, "draft", p.State)
	assert.True(t, p.Private)
}

func TestSaveDatasetRollsBackOnPublishFailure(t *testing.T) {
	r := newTestRig()
	seedOrganisation(r, "meteo-centre")
	r.ckan.publishErr = remote.ErrValidationRejected.Msg("license_id: unknown")

	d := &models.Dataset{
		Title:           "Relevés pluviométriques",
		Organisation:    "meteo-centre",
		LicenseSlug:     "odbl",
		UpdateFrequency: types.FrequencyMonthly,
	}
	err := r.m.SaveDataset(contributorCtx("meteo-centre"), d)
	require.ErrorIs(t, err, ErrValidation)

	// The rejected publication leaves no local row behind.
	assert.Empty(t, r.store.datasets)
	assert.Empty(t, r.notifier.events)
}

func TestSaveDatasetRejectsOutsiders(t *testing.T) {
	r := newTestRig()
	seedOrganisation(r, "meteo-centre")

	d := &models.Dataset{
		Title:           "Relevés pluviométriques",
		Organisation:    "meteo-centre",
		LicenseSlug:     "odbl",
		UpdateFrequency: types.FrequencyMonthly,
	}
	err := r.m.SaveDataset(contributorCtx("autre-org"), d)
	require.ErrorIs(t, err, ErrPermission)
}

func TestHarvestedDatasetsAreReadOnly(t *testing.T) {
	r := newTestRig()
	seedOrganisation(r, "meteo-centre")
	d := seedDataset(r, "sync-abc123", "meteo-centre")
	d.RemoteSourceID = uuid.New()
	r.store.datasets[d.Slug] = d

	err := r.m.DeleteDataset(adminCtx(), d.Slug)
	require.ErrorIs(t, err, ErrPermission)

	// Background jobs carry no actor and keep write access.
	require.NoError(t, r.m.DeleteDataset(context.Background(), d.Slug))
	assert.Empty(t, r.store.datasets)
}

func TestSaveResourceIngestsArchive(t *testing.T) {
	r := newTestRig()
	seedOrganisation(r, "meteo-centre")
	d := seedDataset(r, "releves", "meteo-centre")
	r.store.formats["shp"] = models.ResourceFormat{
		Slug: "shp", Extension: "shp", IsGis: true, CkanView: "geo_view",
		MimeTypes: []string{"application/zip"},
	}
	r.ingestor.layers = []models.Layer{{
		Name: "l0123", Type: types.LayerVector,
		Bbox: types.Bbox{MinX: 1.8, MinY: 47.7, MaxX: 2.0, MaxY: 47.95},
	}}

	res := &models.Resource{
		Dataset:         d.Slug,
		Title:           "Stations 2025",
		FormatSlug:      "shp",
		SourceKind:      types.SourceUploaded,
		UploadedPath:    "stations.zip",
		RestrictedLevel: types.RestrictedPublic,
	}
	require.NoError(t, r.m.SaveResource(contributorCtx("meteo-centre"), res, "/tmp/stations.zip"))

	assert.Equal(t, 1, r.ingestor.runs)
	require.Len(t, r.store.layers, 1)
	assert.Equal(t, res.CkanID, r.store.layers["l0123"].Resource)
	assert.Equal(t, 1.8, res.Bbox.MinX)

	// The dataset extent follows its resources.
	assert.Equal(t, res.Bbox, r.store.datasets[d.Slug].Bbox)
	require.Len(t, r.ckan.published, 1)

	payload := r.ckan.resources[res.CkanID.String()]
	assert.Equal(t, d.CkanID.String(), payload.PackageID)
	assert.Equal(t, "SHP", payload.Format)
	assert.Contains(t, payload.URL, "/download")
	assert.Contains(t, r.ckan.views, res.CkanID.String()+":geo_view")
}

func TestSaveResourceReportsIngestFailure(t *testing.T) {
	r := newTestRig()
	seedOrganisation(r, "meteo-centre")
	d := seedDataset(r, "releves", "meteo-centre")
	r.store.formats["shp"] = models.ResourceFormat{Slug: "shp", Extension: "shp", IsGis: true}
	r.ingestor.err = remote.ErrRemote.Msg("engine unavailable")

	res := &models.Resource{
		Dataset:         d.Slug,
		Title:           "Stations 2025",
		FormatSlug:      "shp",
		SourceKind:      types.SourceUploaded,
		UploadedPath:    "stations.zip",
		RestrictedLevel: types.RestrictedPublic,
	}
	err := r.m.SaveResource(contributorCtx("meteo-centre"), res, "/tmp/stations.zip")
	require.Error(t, err)
	assert.Empty(t, r.store.resources)
	assert.Equal(t, "resource_failed", r.notifier.eventNames())
}

func TestDeleteDatasetCascades(t *testing.T) {
	r := newTestRig()
	seedOrganisation(r, "meteo-centre")
	d := seedDataset(r, "releves", "meteo-centre")
	d.GeonetID = uuid.New()
	r.store.datasets[d.Slug] = d

	resID := uuid.New()
	r.store.resources[resID] = models.Resource{
		CkanID: resID, Dataset: d.Slug, Title: "Stations",
		SourceKind: types.SourceUploaded, UploadedPath: "stations.zip",
		RestrictedLevel: types.RestrictedPublic,
	}
	r.store.layers["lvec"] = models.Layer{Name: "lvec", Type: types.LayerVector, Resource: resID}
	r.store.layers["lras"] = models.Layer{Name: "lras", Type: types.LayerRaster, Resource: resID}

	require.NoError(t, r.m.DeleteDataset(adminCtx(), d.Slug))

	assert.Contains(t, r.engine.deletedFeaturetypes, "lvec")
	assert.Contains(t, r.features.dropped, types.Slug("lvec"))
	assert.Contains(t, r.engine.deletedCoverages, "lras")
	assert.Contains(t, r.engine.deletedCoveragestores, "lras-store")
	assert.Len(t, r.engine.deletedLayers, 2)

	assert.Contains(t, r.ckan.deleted, d.CkanID.String())
	assert.Contains(t, r.ckan.purged, d.CkanID.String())
	assert.Contains(t, r.meta.deleted, d.GeonetID.String())

	assert.Empty(t, r.store.datasets)
	assert.Empty(t, r.store.resources)
	assert.Empty(t, r.store.layers)
	assert.Equal(t, "dataset_deleted", r.notifier.eventNames())
}

func TestConfirmMembershipMirrorsEditor(t *testing.T) {
	r := newTestRig()
	seedOrganisation(r, "meteo-centre")
	r.store.profiles["carol"] = models.Profile{Username: "carol", Email: "carol@example.org", IsActive: true}

	require.NoError(t, r.m.RequestMembership(context.Background(), "carol", "meteo-centre", models.NexusContributor))
	err := r.m.RequestMembership(context.Background(), "carol", "meteo-centre", models.NexusContributor)
	require.ErrorIs(t, err, ErrConflict)

	require.NoError(t, r.m.ConfirmMembership(adminCtx(), "carol", "meteo-centre", models.NexusContributor))

	n := r.store.nexuses[nexusKey("carol", "meteo-centre", models.NexusContributor)]
	require.NotNil(t, n.ValidatedOn)
	assert.Contains(t, r.ckan.memberships, "meteo-centre/carol/editor")
	assert.Equal(t, "membership_confirmed", r.notifier.eventNames())
}

func TestRequestMembershipReferentImpliesContributor(t *testing.T) {
	r := newTestRig()
	seedOrganisation(r, "meteo-centre")

	require.NoError(t, r.m.RequestMembership(context.Background(), "carol", "meteo-centre", models.NexusReferent))

	assert.Contains(t, r.store.nexuses, nexusKey("carol", "meteo-centre", models.NexusReferent))
	assert.Contains(t, r.store.nexuses, nexusKey("carol", "meteo-centre", models.NexusContributor))

	// An already subscribed contributor can still request the referent role.
	require.NoError(t, r.m.RequestMembership(context.Background(), "dave", "meteo-centre", models.NexusContributor))
	require.NoError(t, r.m.RequestMembership(context.Background(), "dave", "meteo-centre", models.NexusReferent))
}

func TestSaveProfileCreateStoresRemoteKey(t *testing.T) {
	r := newTestRig()

	p := &models.Profile{Username: "eve", Email: "eve@example.org", IsActive: true}
	require.NoError(t, r.m.SaveProfile(adminCtx(), p))

	stored := r.store.profiles["eve"]
	assert.Equal(t, "eve-key", stored.CkanAPIKey)
	assert.Contains(t, r.ckan.users, "eve")
}

func TestSaveProfileTogglesPartnerGroup(t *testing.T) {
	r := newTestRig()
	r.store.profiles["dave"] = models.Profile{Username: "dave", Email: "dave@example.org", IsActive: true}

	p := &models.Profile{Username: "dave", Email: "dave@example.org", IsActive: true, IsPartner: true}
	require.NoError(t, r.m.SaveProfile(adminCtx(), p))
	assert.Contains(t, r.ckan.groupMembers, "partner-group/dave")

	p.IsPartner = false
	require.NoError(t, r.m.SaveProfile(adminCtx(), p))
	assert.Contains(t, r.ckan.groupMembers, "-partner-group/dave")
}

func TestSaveProfileKeepsPrivilegesFromNonAdmins(t *testing.T) {
	r := newTestRig()
	r.store.profiles["dave"] = models.Profile{Username: "dave", Email: "dave@example.org", IsActive: true}

	ctx := common.SetActorInContext(context.Background(), common.Actor{Username: "dave"})
	p := &models.Profile{Username: "dave", Email: "new@example.org", IsActive: true, IsAdmin: true, IsPartner: true}
	require.NoError(t, r.m.SaveProfile(ctx, p))

	stored := r.store.profiles["dave"]
	assert.Equal(t, "new@example.org", stored.Email)
	assert.False(t, stored.IsAdmin)
	assert.False(t, stored.IsPartner)
}

func TestSaveOrganisationDerivesSlugOnce(t *testing.T) {
	r := newTestRig()

	org := &models.Organisation{LegalName: "Météo Centre"}
	require.NoError(t, r.m.SaveOrganisation(adminCtx(), org))
	assert.Equal(t, types.Slug("meteo-centre"), org.Slug)
	assert.Equal(t, "organisation_created", r.notifier.eventNames())

	dup := &models.Organisation{LegalName: "Météo Centre"}
	err := r.m.SaveOrganisation(adminCtx(), dup)
	require.ErrorIs(t, err, ErrConflict)
}

func TestDeleteOrganisationRefusesWhileDatasetsRemain(t *testing.T) {
	r := newTestRig()
	seedOrganisation(r, "meteo-centre")
	seedDataset(r, "releves", "meteo-centre")

	err := r.m.DeleteOrganisation(adminCtx(), "meteo-centre")
	require.ErrorIs(t, err, ErrConflict)
}
