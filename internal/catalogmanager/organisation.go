package catalogmanager

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/internal/adapters/ckan"
	"github.com/terrado/geosyncsrv/internal/common"
	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/internal/notify"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// SaveOrganisation creates or updates an organisation. The slug derives from
// the legal name on first save and never changes afterwards. is_partner is
// propagated to every member profile; the data-catalog counterpart is only
// updated when it already exists, since its creation is deferred to the
// first dataset publication.
func (m *Manager) SaveOrganisation(ctx context.Context, org *models.Organisation) error {
	if org.LegalName == "" {
		return ErrValidation.Msg("legal name is required")
	}
	actor := common.ActorFromContext(ctx)
	if org.Slug == "" {
		if actor.Username != "" && !actor.IsAdmin {
			return ErrPermission.Msg("only admins may create an organisation")
		}
		org.Slug = types.Slugify(org.LegalName)
	} else if actor.Username != "" && !actor.IsAdmin && !actor.IsReferentOf(org.Slug) {
		return ErrPermission.Msg("only admins and referents may edit an organisation")
	}

	existing, err := m.db.GetOrganisation(ctx, org.Slug)
	switch {
	case errors.Is(err, dberror.ErrNotFound):
		if err := m.db.CreateOrganisation(ctx, org); err != nil {
			if errors.Is(err, dberror.ErrAlreadyExists) {
				return ErrConflict.Msg("an organisation with this name already exists")
			}
			return err
		}
		m.notifier.Notify(ctx, notify.Notification{
			Event:        notify.EventOrganisationCreated,
			Actor:        actor.Username,
			Target:       string(org.Slug),
			Organisation: org.Slug,
			Link:         "/organisation/" + string(org.Slug),
		})
	case err != nil:
		return err
	default:
		// ckan_id never moves once set.
		org.CkanID = existing.CkanID
		org.GeonetID = existing.GeonetID
		if err := m.db.UpdateOrganisation(ctx, org); err != nil {
			return err
		}
	}

	if err := m.db.PropagatePartner(ctx, org.Slug, org.IsPartner); err != nil {
		return err
	}

	if org.CkanID != uuid.Nil {
		exists, err := m.ckan.OrganisationExists(ctx, string(org.Slug))
		if err != nil {
			return mapRemoteErr(err)
		}
		if exists {
			err := m.ckan.UpdateOrganisation(ctx, ckan.OrganisationPayload{
				ID:          org.CkanID.String(),
				Name:        string(org.Slug),
				Title:       org.LegalName,
				Description: org.Website,
				ImageURL:    org.Logo,
			})
			if err != nil {
				return mapRemoteErr(err)
			}
		}
	}
	return nil
}

// EnsureOrganisationInCatalog lazily creates the data-catalog counterpart.
// A dataset is never pushed before its organisation exists remotely.
func (m *Manager) EnsureOrganisationInCatalog(ctx context.Context, slug types.Slug) (*models.Organisation, error) {
	org, err := m.db.GetOrganisation(ctx, slug)
	if err != nil {
		return nil, err
	}
	if org.CkanID != uuid.Nil {
		return org, nil
	}
	id, err := m.ckan.CreateOrganisation(ctx, ckan.OrganisationPayload{
		Name:     string(org.Slug),
		Title:    org.LegalName,
		ImageURL: org.Logo,
	})
	if err != nil {
		return nil, mapRemoteErr(err)
	}
	ckanID, err := uuid.Parse(id)
	if err != nil {
		return nil, ErrRemoteUnavailable.Msg("data catalog returned a malformed organisation id")
	}
	if err := m.db.SetOrganisationCkanID(ctx, org.Slug, ckanID); err != nil {
		return nil, err
	}
	org.CkanID = ckanID
	return org, nil
}

// DeleteOrganisation removes the organisation and its remote counterparts.
// Missing remote entities are tolerated; the local row goes last.
func (m *Manager) DeleteOrganisation(ctx context.Context, slug types.Slug) error {
	actor := common.ActorFromContext(ctx)
	if actor.Username != "" && !actor.IsAdmin {
		return ErrPermission.Msg("only admins may delete an organisation")
	}
	org, err := m.db.GetOrganisation(ctx, slug)
	if err != nil {
		return err
	}

	datasets, err := m.db.ListDatasets(ctx, db.DatasetFilter{Organisation: slug})
	if err != nil {
		return err
	}
	if len(datasets) > 0 {
		return ErrConflict.Msg("organisation still owns datasets")
	}

	if org.GeonetID != uuid.Nil {
		if err := tolerateNotFound(m.csw.DeleteRecord(ctx, org.GeonetID.String())); err != nil {
			return mapRemoteErr(err)
		}
	}
	if org.CkanID != uuid.Nil {
		if err := tolerateNotFound(m.ckan.PurgeOrganisation(ctx, string(slug))); err != nil {
			return mapRemoteErr(err)
		}
	}
	// With no datasets left the workspace holds no layers, only the empty
	// datastore, so the map engine side tears down store then workspace.
	if err := tolerateNotFound(m.engine.DeleteDatastore(ctx, string(slug), m.datastore)); err != nil {
		return mapRemoteErr(err)
	}
	if err := tolerateNotFound(m.engine.DeleteWorkspace(ctx, string(slug))); err != nil {
		return mapRemoteErr(err)
	}
	return m.db.DeleteOrganisation(ctx, slug)
}
