package catalogmanager

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/adapters/ckan"
	"github.com/terrado/geosyncsrv/internal/common"
	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/internal/notify"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// SaveDataset creates or updates a dataset and publishes it to the data
// catalog. The slug derives from the title on first save. The local row is
// written inside a transaction and the remote publication happens before
// commit, so a rejected publication leaves no local trace.
func (m *Manager) SaveDataset(ctx context.Context, d *models.Dataset) error {
	actor := common.ActorFromContext(ctx)
	if d.IsHarvested() && actor.Username != "" {
		return ErrHarvestedReadOnly
	}
	if d.Slug == "" {
		d.Slug = types.Slugify(d.Title)
	}
	if err := validateDataset(d); err != nil {
		return err
	}
	if actor.Username != "" && !actor.IsAdmin &&
		!actor.IsReferentOf(d.Organisation) && !actor.IsContributorOf(d.Organisation) {
		return ErrPermission.Msg("dataset edition requires a membership in the organisation")
	}
	if d.Editor == "" {
		d.Editor = actor.Username
	}

	org, err := m.EnsureOrganisationInCatalog(ctx, d.Organisation)
	if err != nil {
		return err
	}

	created := false
	err = m.db.WithTx(ctx, func(store db.CatalogDb) error {
		existing, err := store.GetDataset(ctx, d.Slug)
		switch {
		case errors.Is(err, dberror.ErrNotFound):
			created = true
			if d.CkanID == uuid.Nil {
				d.CkanID = uuid.New()
			}
			if d.DatePublication.IsZero() {
				d.DatePublication = time.Now().UTC()
			}
			if err := store.CreateDataset(ctx, d); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			d.CkanID = existing.CkanID
			d.GeonetID = existing.GeonetID
			d.Bbox = datasetBbox(ctx, store, d)
			if err := store.UpdateDataset(ctx, d); err != nil {
				return err
			}
		}
		if err := m.ckan.PublishDataset(ctx, m.datasetPayload(d, org)); err != nil {
			return mapRemoteErr(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	event := notify.EventDatasetUpdated
	if created {
		event = notify.EventDatasetCreated
	}
	m.notifier.Notify(ctx, notify.Notification{
		Event:        event,
		Actor:        actor.Username,
		Target:       string(d.Slug),
		Organisation: d.Organisation,
		Link:         "/dataset/" + string(d.Slug),
	})
	return nil
}

// SetDatasetPublished flips the catalog-side visibility without touching the
// dataset body.
func (m *Manager) SetDatasetPublished(ctx context.Context, slug types.Slug, published bool) error {
	d, err := m.db.GetDataset(ctx, slug)
	if err != nil {
		return err
	}
	actor := common.ActorFromContext(ctx)
	if actor.Username != "" && !actor.IsAdmin &&
		!actor.IsReferentOf(d.Organisation) && !actor.IsContributorOf(d.Organisation) {
		return ErrPermission.Msg("dataset edition requires a membership in the organisation")
	}
	state := "draft"
	if published {
		state = "active"
	}
	if err := m.ckan.SetDatasetState(ctx, d.CkanID.String(), state); err != nil {
		return mapRemoteErr(err)
	}
	d.Published = published
	return m.db.UpdateDataset(ctx, d)
}

// DeleteDataset tears a dataset down outermost first: map-server objects and
// feature tables of each resource, catalog resources, the package itself,
// then the metadata record, and the local rows last. Remote entities already
// gone are tolerated at every step.
func (m *Manager) DeleteDataset(ctx context.Context, slug types.Slug) error {
	d, err := m.db.GetDataset(ctx, slug)
	if err != nil {
		return err
	}
	actor := common.ActorFromContext(ctx)
	if d.IsHarvested() && actor.Username != "" {
		return ErrHarvestedReadOnly
	}
	if actor.Username != "" && !actor.IsAdmin &&
		!actor.IsReferentOf(d.Organisation) && actor.Username != d.Editor {
		return ErrPermission.Msg("datasets are deleted by admins, referents or their editor")
	}

	resources, err := m.db.ListResources(ctx, slug)
	if err != nil {
		return err
	}
	for i := range resources {
		if err := m.teardownResource(ctx, &resources[i]); err != nil {
			return err
		}
		if err := m.db.DeleteResource(ctx, resources[i].CkanID); err != nil {
			return err
		}
	}

	if err := tolerateNotFound(m.ckan.DeleteDataset(ctx, d.CkanID.String())); err != nil {
		return mapRemoteErr(err)
	}
	if err := tolerateNotFound(m.ckan.PurgeDataset(ctx, d.CkanID.String())); err != nil {
		return mapRemoteErr(err)
	}
	if d.GeonetID != uuid.Nil {
		if err := tolerateNotFound(m.csw.DeleteRecord(ctx, d.GeonetID.String())); err != nil {
			return mapRemoteErr(err)
		}
	}
	if err := m.db.DeleteDataset(ctx, slug); err != nil {
		return err
	}

	m.notifier.Notify(ctx, notify.Notification{
		Event:        notify.EventDatasetDeleted,
		Actor:        actor.Username,
		Target:       string(slug),
		Organisation: d.Organisation,
	})
	return nil
}

// datasetPayload maps a dataset row onto the catalog package shape.
func (m *Manager) datasetPayload(d *models.Dataset, org *models.Organisation) ckan.DatasetPayload {
	p := ckan.DatasetPayload{
		ID:        d.CkanID.String(),
		Name:      string(d.Slug),
		Title:     d.Title,
		Notes:     d.Description,
		OwnerOrg:  org.CkanID.String(),
		LicenseID: string(d.LicenseSlug),
		State:     "active",
		Private:   !d.Published,
	}
	if !d.Published {
		p.State = "draft"
	}
	for _, kw := range d.Keywords {
		p.Tags = append(p.Tags, ckan.Tag{Name: kw})
	}
	for _, cat := range d.Categories {
		p.Groups = append(p.Groups, ckan.Group{Name: string(cat)})
	}
	if d.UpdateFrequency != "" {
		p.Extras = append(p.Extras, ckan.Extra{Key: "update_frequency", Value: string(d.UpdateFrequency)})
	}
	if !d.Bbox.IsZero() {
		if spatial, err := d.Bbox.GeoJSON(); err == nil {
			p.Extras = append(p.Extras, ckan.Extra{Key: "spatial", Value: spatial})
		}
	}
	return p
}

// datasetBbox is the union of the dataset's resource extents. A lookup
// failure degrades to the stored extent rather than failing the save.
func datasetBbox(ctx context.Context, store db.CatalogDb, d *models.Dataset) types.Bbox {
	resources, err := store.ListResources(ctx, d.Slug)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("dataset", string(d.Slug)).Msg("bbox recomputation skipped")
		return d.Bbox
	}
	var bbox types.Bbox
	for i := range resources {
		bbox = bbox.Union(resources[i].Bbox)
	}
	return bbox
}
