// Package catalogmanager owns the domain semantics: every mutation on
// organisations, profiles, datasets, resources and layers runs here as a
// deterministic sequence of local persistence and remote side effects.
// Local steps run inside one transaction; remote steps are ordered after
// local persistence and before commit, so a remote failure rolls everything
// back while compensations clean up partial remote state.
package catalogmanager

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/internal/adapters/ckan"
	"github.com/terrado/geosyncsrv/internal/adapters/remote"
	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/internal/ingest"
	"github.com/terrado/geosyncsrv/internal/notify"
)

// DataCatalog is the slice of the CKAN client the managers drive.
type DataCatalog interface {
	CreateUser(ctx context.Context, u ckan.UserPayload) (string, error)
	UpdateUser(ctx context.Context, u ckan.UserPayload) error
	SetUserState(ctx context.Context, name string, active bool) error
	UserAPIKey(ctx context.Context, name string) (string, error)

	CreateOrganisation(ctx context.Context, org ckan.OrganisationPayload) (string, error)
	UpdateOrganisation(ctx context.Context, org ckan.OrganisationPayload) error
	OrganisationExists(ctx context.Context, name string) (bool, error)
	PurgeOrganisation(ctx context.Context, name string) error
	AddOrganisationMember(ctx context.Context, org, username, role string) error
	RemoveOrganisationMember(ctx context.Context, org, username string) error
	AddGroupMember(ctx context.Context, group, username string) error
	RemoveGroupMember(ctx context.Context, group, username string) error

	PublishDataset(ctx context.Context, d ckan.DatasetPayload) error
	SetDatasetState(ctx context.Context, id, state string) error
	DeleteDataset(ctx context.Context, id string) error
	PurgeDataset(ctx context.Context, id string) error

	CreateResource(ctx context.Context, r ckan.ResourcePayload) (string, error)
	UpdateResource(ctx context.Context, r ckan.ResourcePayload) error
	DeleteResource(ctx context.Context, id string) error
	EnsureResourceView(ctx context.Context, resourceID, viewType, title string) error
}

// MetadataCatalog is the slice of the CSW client the managers drive.
type MetadataCatalog interface {
	DeleteRecord(ctx context.Context, identifier string) error
}

// Ingestor runs the ingestion pipeline for one uploaded archive.
type Ingestor interface {
	Run(ctx context.Context, workspace string, resource uuid.UUID, path string, supported []models.SupportedCrs) ([]models.Layer, error)
}

// Manager wires the catalog store to the remote collaborators. One instance
// serves the whole process; all state is per-call.
type Manager struct {
	db       db.CatalogDb
	ckan     DataCatalog
	csw      MetadataCatalog
	engine   ingest.MapEngine
	features ingest.FeatureStore
	ingestor Ingestor
	notifier notify.Notifier

	// partnerGroup is the data-catalog group whose membership mirrors
	// is_partner flags.
	partnerGroup string
	// datastore is the map-engine datastore vector featuretypes live in.
	datastore   string
	storageRoot string
	extraCrs    []models.SupportedCrs
}

type Options struct {
	PartnerGroup string
	Datastore    string
	StorageRoot  string
	// ExtraCrs extends the supported CRS table with process-local entries,
	// typically loaded from the proj.4 lookup file.
	ExtraCrs []models.SupportedCrs
}

func New(store db.CatalogDb, dataCatalog DataCatalog, metaCatalog MetadataCatalog,
	engine ingest.MapEngine, features ingest.FeatureStore, ingestor Ingestor,
	notifier notify.Notifier, opts Options) *Manager {
	if opts.PartnerGroup == "" {
		opts.PartnerGroup = "partner-group"
	}
	if opts.Datastore == "" {
		opts.Datastore = "geodata"
	}
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Manager{
		db:           store,
		ckan:         dataCatalog,
		csw:          metaCatalog,
		engine:       engine,
		features:     features,
		ingestor:     ingestor,
		notifier:     notifier,
		partnerGroup: opts.PartnerGroup,
		datastore:    opts.Datastore,
		storageRoot:  opts.StorageRoot,
		extraCrs:     opts.ExtraCrs,
	}
}

// mapRemoteErr folds adapter errors onto the domain taxonomy at the
// orchestration boundary.
func mapRemoteErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, remote.ErrNotFound):
		return ErrNotFound.Err(err)
	case errors.Is(err, remote.ErrConflict):
		return ErrConflict.Err(err)
	case errors.Is(err, remote.ErrValidationRejected):
		return ErrValidation.Err(err)
	case errors.Is(err, remote.ErrRemote):
		return ErrRemoteUnavailable.Err(err)
	}
	return err
}

// tolerateNotFound swallows missing-remote-entity errors so deletion
// sequences keep going.
func tolerateNotFound(err error) error {
	if err == nil || errors.Is(err, remote.ErrNotFound) || errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
