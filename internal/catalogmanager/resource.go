package catalogmanager

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/adapters/ckan"
	"github.com/terrado/geosyncsrv/internal/common"
	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/internal/notify"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// SaveResource creates or updates a resource. Uploaded and downloaded GIS
// archives run through the ingestion pipeline, replacing any layers a
// previous version materialized. The catalog counterpart is written before
// the local row so a remote rejection leaves nothing behind.
func (m *Manager) SaveResource(ctx context.Context, r *models.Resource, localPath string) error {
	if err := validateResource(r); err != nil {
		return err
	}
	d, err := m.db.GetDataset(ctx, r.Dataset)
	if err != nil {
		return err
	}
	actor := common.ActorFromContext(ctx)
	if d.IsHarvested() && actor.Username != "" {
		return ErrHarvestedReadOnly
	}
	if actor.Username != "" && !actor.IsAdmin &&
		!actor.IsReferentOf(d.Organisation) && !actor.IsContributorOf(d.Organisation) {
		return ErrPermission.Msg("resource edition requires a membership in the organisation")
	}

	format, err := m.db.GetResourceFormat(ctx, r.FormatSlug)
	if err != nil {
		if errors.Is(err, dberror.ErrNotFound) {
			return ErrValidation.Msg("unknown resource format")
		}
		return err
	}

	created := r.CkanID == uuid.Nil
	var previous *models.Resource
	if created {
		r.CkanID = uuid.New()
	} else {
		previous, err = m.db.GetResource(ctx, r.CkanID)
		if err != nil {
			return err
		}
	}

	if format.IsGis && localPath != "" {
		if previous != nil {
			if err := m.teardownResource(ctx, previous); err != nil {
				return err
			}
		}
		supported, err := m.db.ListSupportedCrs(ctx)
		if err != nil {
			return err
		}
		supported = append(supported, m.extraCrs...)
		layers, err := m.ingestor.Run(ctx, string(d.Organisation), r.CkanID, localPath, supported)
		if err != nil {
			m.notifier.Notify(ctx, notify.Notification{
				Event:        notify.EventResourceFailed,
				Actor:        actor.Username,
				Target:       r.Title,
				Organisation: d.Organisation,
				Link:         "/dataset/" + string(d.Slug),
			})
			return err
		}
		var bbox types.Bbox
		names := make([]string, 0, len(layers))
		for i := range layers {
			if err := m.db.CreateLayer(ctx, &layers[i]); err != nil {
				return err
			}
			bbox = bbox.Union(layers[i].Bbox)
			names = append(names, string(layers[i].Name))
		}
		r.Bbox = bbox
		// A multi-layer archive also gets one group so the whole resource
		// renders as a single map layer.
		if len(names) > 1 {
			if err := m.engine.CreateLayerGroup(ctx, string(d.Organisation), layerGroupName(r.CkanID), names); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("resource", r.CkanID.String()).Msg("layer group not created")
			}
		}
	}

	restricted, err := ProjectRestricted(ctx, m.db, r, d.Organisation)
	if err != nil {
		return err
	}

	payload := m.resourcePayload(r, d, format, restricted)
	if created {
		if _, err := m.ckan.CreateResource(ctx, payload); err != nil {
			return mapRemoteErr(err)
		}
	} else if err := m.ckan.UpdateResource(ctx, payload); err != nil {
		return mapRemoteErr(err)
	}
	if format.CkanView != "" {
		if err := m.ckan.EnsureResourceView(ctx, r.CkanID.String(), format.CkanView, r.Title); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("resource", r.CkanID.String()).Msg("resource view not ensured")
		}
	}

	r.LastUpdate = time.Now().UTC()
	if created {
		err = m.db.CreateResource(ctx, r)
	} else {
		err = m.db.UpdateResource(ctx, r)
	}
	if err != nil {
		return err
	}

	if err := m.refreshDatasetExtent(ctx, d); err != nil {
		return err
	}

	event := notify.EventResourceUpdated
	if created {
		event = notify.EventResourceCreated
	}
	m.notifier.Notify(ctx, notify.Notification{
		Event:        event,
		Actor:        actor.Username,
		Target:       r.Title,
		Organisation: d.Organisation,
		Link:         "/dataset/" + string(d.Slug),
	})
	return nil
}

// DeleteResource removes the resource's map-engine objects, feature tables,
// catalog counterpart and local row, in that order. Remote entities already
// gone are tolerated.
func (m *Manager) DeleteResource(ctx context.Context, ckanID uuid.UUID) error {
	r, err := m.db.GetResource(ctx, ckanID)
	if err != nil {
		return err
	}
	d, err := m.db.GetDataset(ctx, r.Dataset)
	if err != nil {
		return err
	}
	actor := common.ActorFromContext(ctx)
	if d.IsHarvested() && actor.Username != "" {
		return ErrHarvestedReadOnly
	}
	if actor.Username != "" && !actor.IsAdmin &&
		!actor.IsReferentOf(d.Organisation) && !actor.IsContributorOf(d.Organisation) {
		return ErrPermission.Msg("resource deletion requires a membership in the organisation")
	}

	if err := m.teardownResource(ctx, r); err != nil {
		return err
	}
	if err := tolerateNotFound(m.ckan.DeleteResource(ctx, ckanID.String())); err != nil {
		return mapRemoteErr(err)
	}
	if err := m.db.DeleteResource(ctx, ckanID); err != nil {
		return err
	}
	if err := m.refreshDatasetExtent(ctx, d); err != nil {
		return err
	}

	m.notifier.Notify(ctx, notify.Notification{
		Event:        notify.EventResourceDeleted,
		Actor:        actor.Username,
		Target:       r.Title,
		Organisation: d.Organisation,
	})
	return nil
}

// teardownResource removes every layer the resource materialized: the
// map-engine layer and style, the featuretype or coverage, and the feature
// table. Individual failures are logged and skipped so the sweep always
// reaches the tables; the layer rows go last.
func (m *Manager) teardownResource(ctx context.Context, r *models.Resource) error {
	d, err := m.db.GetDataset(ctx, r.Dataset)
	if err != nil {
		return err
	}
	workspace := string(d.Organisation)

	layers, err := m.db.ListLayersByResource(ctx, r.CkanID)
	if err != nil {
		return err
	}
	if len(layers) > 1 {
		if err := m.engine.DeleteLayerGroup(ctx, workspace, layerGroupName(r.CkanID)); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("resource", r.CkanID.String()).Msg("teardown: layer group")
		}
	}
	for i := range layers {
		l := &layers[i]
		name := string(l.Name)
		if err := m.engine.DeleteLayer(ctx, name); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("layer", name).Msg("teardown: layer")
		}
		if err := m.engine.DeleteStyle(ctx, workspace, name+"-default"); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("style", name+"-default").Msg("teardown: style")
		}
		switch l.Type {
		case types.LayerVector:
			if err := m.engine.DeleteFeaturetype(ctx, workspace, m.datastore, name); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("featuretype", name).Msg("teardown: featuretype")
			}
			if err := m.features.DropLayerTable(ctx, l.Name); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("table", name).Msg("teardown: table")
			}
		case types.LayerRaster:
			store := name + "-store"
			if err := m.engine.DeleteCoverage(ctx, workspace, store, name); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("coverage", name).Msg("teardown: coverage")
			}
			if err := m.engine.DeleteCoveragestore(ctx, workspace, store); err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("coveragestore", store).Msg("teardown: coveragestore")
			}
		}
		if err := m.db.DeleteLayer(ctx, l.Name); err != nil {
			return err
		}
	}
	return nil
}

// layerGroupName derives the map-engine group name of a multi-layer
// resource from its identifier.
func layerGroupName(id uuid.UUID) string {
	return "g" + strings.ReplaceAll(id.String(), "-", "")
}

// refreshDatasetExtent recomputes the dataset bbox from its resources and
// republishes when it moved.
func (m *Manager) refreshDatasetExtent(ctx context.Context, d *models.Dataset) error {
	bbox := datasetBbox(ctx, m.db, d)
	if bbox == d.Bbox {
		return nil
	}
	d.Bbox = bbox
	if err := m.db.UpdateDataset(ctx, d); err != nil {
		return err
	}
	org, err := m.db.GetOrganisation(ctx, d.Organisation)
	if err != nil {
		return err
	}
	if err := m.ckan.PublishDataset(ctx, m.datasetPayload(d, org)); err != nil {
		return mapRemoteErr(err)
	}
	return nil
}

// resourcePayload maps a resource row onto the catalog resource shape. The
// URL points at the platform download endpoint for held files and at the
// source itself for references.
func (m *Manager) resourcePayload(r *models.Resource, d *models.Dataset, format *models.ResourceFormat, restricted string) ckan.ResourcePayload {
	url := r.SourceValue()
	if r.SourceKind != types.SourceReferenced {
		url = "/dataset/" + string(d.Slug) + "/resource/" + r.CkanID.String() + "/download"
	}
	mimetype := ""
	if len(format.MimeTypes) > 0 {
		mimetype = format.MimeTypes[0]
	}
	return ckan.ResourcePayload{
		ID:          r.CkanID.String(),
		PackageID:   d.CkanID.String(),
		Name:        r.Title,
		Description: r.Description,
		URL:         url,
		Format:      strings.ToUpper(format.Extension),
		Mimetype:    mimetype,
		Restricted:  restricted,
	}
}
