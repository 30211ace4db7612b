// Package db exposes the catalog store: every domain entity of the
// synchronization hub behind one interface, implemented over PostgreSQL in
// the postgresql subpackage. Multi-step domain mutations run inside WithTx.
package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/internal/db/dbmanager"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/internal/db/postgresql"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// DatasetFilter narrows ListDatasets. Nil Harvested means both populations.
type DatasetFilter = postgresql.DatasetFilter

type CatalogDb interface {
	// Organisations
	CreateOrganisation(ctx context.Context, org *models.Organisation) error
	GetOrganisation(ctx context.Context, slug types.Slug) (*models.Organisation, error)
	ListOrganisations(ctx context.Context) ([]models.Organisation, error)
	UpdateOrganisation(ctx context.Context, org *models.Organisation) error
	SetOrganisationCkanID(ctx context.Context, slug types.Slug, ckanID uuid.UUID) error
	DeleteOrganisation(ctx context.Context, slug types.Slug) error
	// ActiveMemberUsernames returns the usernames of active confirmed members
	// of the organisation, without duplicates.
	ActiveMemberUsernames(ctx context.Context, org types.Slug) ([]types.Username, error)

	// Profiles
	CreateProfile(ctx context.Context, p *models.Profile) error
	GetProfile(ctx context.Context, username types.Username) (*models.Profile, error)
	ListProfiles(ctx context.Context) ([]models.Profile, error)
	UpdateProfile(ctx context.Context, p *models.Profile) error
	DeleteProfile(ctx context.Context, username types.Username) error
	// PropagatePartner mirrors Organisation.is_partner onto member profiles.
	PropagatePartner(ctx context.Context, org types.Slug, partner bool) error
	// Recipient queries for the notification hub.
	AdminUsernames(ctx context.Context) ([]types.Username, error)
	ReferentUsernames(ctx context.Context, org types.Slug) ([]types.Username, error)
	PartnerUsernames(ctx context.Context) ([]types.Username, error)

	// Contributor / referent nexus
	CreateNexus(ctx context.Context, n *models.Nexus) error
	ValidateNexus(ctx context.Context, username types.Username, org types.Slug, role models.NexusRole, when time.Time) error
	DeleteNexus(ctx context.Context, username types.Username, org types.Slug, role models.NexusRole) error
	ListNexuses(ctx context.Context, org types.Slug, role models.NexusRole) ([]models.Nexus, error)
	NexusesForProfile(ctx context.Context, username types.Username) ([]models.Nexus, error)

	// Datasets
	CreateDataset(ctx context.Context, d *models.Dataset) error
	GetDataset(ctx context.Context, slug types.Slug) (*models.Dataset, error)
	GetDatasetByCkanID(ctx context.Context, ckanID uuid.UUID) (*models.Dataset, error)
	ListDatasets(ctx context.Context, filter DatasetFilter) ([]models.Dataset, error)
	UpdateDataset(ctx context.Context, d *models.Dataset) error
	DeleteDataset(ctx context.Context, slug types.Slug) error

	// Resources
	CreateResource(ctx context.Context, r *models.Resource) error
	GetResource(ctx context.Context, ckanID uuid.UUID) (*models.Resource, error)
	ListResources(ctx context.Context, dataset types.Slug) ([]models.Resource, error)
	UpdateResource(ctx context.Context, r *models.Resource) error
	DeleteResource(ctx context.Context, ckanID uuid.UUID) error
	// ListSynchronizableResources returns downloaded-URL resources with the
	// synchronization flag on, for the refresh scheduler.
	ListSynchronizableResources(ctx context.Context) ([]models.Resource, error)

	// Layers
	CreateLayer(ctx context.Context, l *models.Layer) error
	GetLayer(ctx context.Context, name types.Slug) (*models.Layer, error)
	ListLayersByResource(ctx context.Context, resource uuid.UUID) ([]models.Layer, error)
	ListLayersByDataset(ctx context.Context, dataset types.Slug) ([]models.Layer, error)
	DeleteLayer(ctx context.Context, name types.Slug) error

	// Tasks
	CreateTask(ctx context.Context, t *models.Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	UpdateTaskState(ctx context.Context, id uuid.UUID, state types.TaskState, taskErr string) error
	ListTasks(ctx context.Context, state types.TaskState) ([]models.Task, error)

	// Extraction jobs
	CreateExtractorTask(ctx context.Context, t *models.ExtractorTask) error
	GetExtractorTask(ctx context.Context, id uuid.UUID) (*models.ExtractorTask, error)
	UpdateExtractorTask(ctx context.Context, t *models.ExtractorTask) error
	ListExtractorTasks(ctx context.Context, username types.Username) ([]models.ExtractorTask, error)

	// Harvest sources
	UpsertRemoteSource(ctx context.Context, s *models.RemoteSource) error
	GetRemoteSource(ctx context.Context, org types.Slug, kind types.RemoteKind) (*models.RemoteSource, error)
	GetRemoteSourceByID(ctx context.Context, id uuid.UUID) (*models.RemoteSource, error)
	ListRemoteSources(ctx context.Context) ([]models.RemoteSource, error)
	DeleteRemoteSource(ctx context.Context, id uuid.UUID) error
	UpsertHarvestedDataset(ctx context.Context, h *models.HarvestedDataset) error
	GetHarvestedDataset(ctx context.Context, sourceID uuid.UUID, remoteID string) (*models.HarvestedDataset, error)
	ListHarvestedDatasets(ctx context.Context, sourceID uuid.UUID) ([]models.HarvestedDataset, error)
	ListHarvestedDatasetsByRemoteOrg(ctx context.Context, sourceID uuid.UUID, remoteOrg string) ([]models.HarvestedDataset, error)
	DeleteHarvestedDataset(ctx context.Context, sourceID uuid.UUID, remoteID string) error
	ListMappingLicences(ctx context.Context, sourceID uuid.UUID) ([]models.MappingLicence, error)
	ListMappingCategories(ctx context.Context, sourceID uuid.UUID) ([]models.MappingCategory, error)

	// Reference tables
	GetLicense(ctx context.Context, slug types.Slug) (*models.License, error)
	ListLicenses(ctx context.Context) ([]models.License, error)
	GetCategory(ctx context.Context, slug types.Slug) (*models.Category, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	GetResourceFormat(ctx context.Context, slug types.Slug) (*models.ResourceFormat, error)
	ListResourceFormats(ctx context.Context) ([]models.ResourceFormat, error)
	ListSupportedCrs(ctx context.Context) ([]models.SupportedCrs, error)
	GetJurisdiction(ctx context.Context, code string) (*models.Jurisdiction, error)

	// WithTx runs fn against a transaction-bound view of the store and
	// commits when fn returns nil.
	WithTx(ctx context.Context, fn func(CatalogDb) error) error
}

type catalogDb struct {
	*postgresql.Store
	pool *dbmanager.Pool
}

// New wraps a pool into the catalog store.
func New(pool *dbmanager.Pool) CatalogDb {
	return &catalogDb{Store: postgresql.NewStore(pool), pool: pool}
}

func (c *catalogDb) WithTx(ctx context.Context, fn func(CatalogDb) error) error {
	return c.pool.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(&txCatalogDb{Store: postgresql.NewStore(tx)})
	})
}

// txCatalogDb is the transaction-bound view. Nested WithTx reuses the
// enclosing transaction; savepoints are not used.
type txCatalogDb struct {
	*postgresql.Store
}

func (c *txCatalogDb) WithTx(ctx context.Context, fn func(CatalogDb) error) error {
	return fn(c)
}
