// Package apis mounts the REST surface. Handlers stay thin: decode, call
// the catalog manager or a service, normalize the response. Permission
// decisions live in the managers; handlers only gate on authentication
// where anonymity would be indistinguishable from background work.
package apis

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/internal/tasks"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// CatalogService is the slice of the catalog manager the handlers call.
type CatalogService interface {
	SaveOrganisation(ctx context.Context, org *models.Organisation) error
	DeleteOrganisation(ctx context.Context, slug types.Slug) error
	SaveProfile(ctx context.Context, p *models.Profile) error
	DeleteProfile(ctx context.Context, username types.Username) error
	RequestMembership(ctx context.Context, username types.Username, org types.Slug, role models.NexusRole) error
	ConfirmMembership(ctx context.Context, username types.Username, org types.Slug, role models.NexusRole) error
	RevokeMembership(ctx context.Context, username types.Username, org types.Slug, role models.NexusRole) error
	SaveDataset(ctx context.Context, d *models.Dataset) error
	SetDatasetPublished(ctx context.Context, slug types.Slug, published bool) error
	DeleteDataset(ctx context.Context, slug types.Slug) error
	SaveResource(ctx context.Context, r *models.Resource, localPath string) error
	DeleteResource(ctx context.Context, ckanID uuid.UUID) error
}

// TaskQueue enqueues durable background work.
type TaskQueue interface {
	Enqueue(ctx context.Context, action string, p tasks.Payload) (uuid.UUID, error)
}

// ExtractionService drives the remote extraction jobs.
type ExtractionService interface {
	Submit(ctx context.Context, username types.Username, targetModel, targetID string, query json.RawMessage) (*models.ExtractorTask, error)
	Abort(ctx context.Context, id uuid.UUID) error
}

// StyleEngine is the map-engine slice behind the layer-style subresource.
type StyleEngine interface {
	GetStyle(ctx context.Context, workspace, name string) (string, error)
	UpdateStyle(ctx context.Context, workspace, name, sld string) error
}

// StyleCache fronts style reads; a miss is never an error.
type StyleCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
	Invalidate(ctx context.Context, key string)
}

// TrackingSource reports data-catalog view counts for a package.
type TrackingSource interface {
	TrackingSummary(ctx context.Context, packageID string) (total, recent int64, err error)
}

type API struct {
	store     db.CatalogDb
	catalog   CatalogService
	queue     TaskQueue
	extractor ExtractionService
	styles    StyleEngine
	cache     StyleCache
	tracking  TrackingSource
	// storageRoot is the directory resource uploads are staged under.
	storageRoot string
}

type Options struct {
	Tracking    TrackingSource // nil skips view counts on dataset reads
	StorageRoot string
}

func New(store db.CatalogDb, catalog CatalogService, queue TaskQueue,
	extractor ExtractionService, styles StyleEngine, styleCache StyleCache,
	opts Options) *API {
	if opts.StorageRoot == "" {
		opts.StorageRoot = "/var/lib/geosyncsrv/storage"
	}
	return &API{
		store:       store,
		catalog:     catalog,
		queue:       queue,
		extractor:   extractor,
		styles:      styles,
		cache:       styleCache,
		tracking:    opts.Tracking,
		storageRoot: opts.StorageRoot,
	}
}
