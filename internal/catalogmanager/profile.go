package catalogmanager

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/adapters/ckan"
	"github.com/terrado/geosyncsrv/internal/adapters/remote"
	"github.com/terrado/geosyncsrv/internal/common"
	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/internal/notify"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// SaveProfile creates or updates a profile and keeps the data-catalog user in
// step. Activation toggles propagate as user state, is_partner drives the
// partner group membership.
func (m *Manager) SaveProfile(ctx context.Context, p *models.Profile) error {
	if p.Username == "" || p.Email == "" {
		return ErrValidation.Msg("username and email are required")
	}
	actor := common.ActorFromContext(ctx)
	if actor.Username != "" && !actor.IsAdmin && actor.Username != p.Username {
		return ErrPermission.Msg("profiles are self-service or admin-managed")
	}
	existing, err := m.db.GetProfile(ctx, p.Username)
	if err == nil && !actor.IsAdmin {
		// Privilege flags and activation are admin-only fields.
		p.IsAdmin = existing.IsAdmin
		p.IsPartner = existing.IsPartner
		p.IsActive = existing.IsActive
	}
	switch {
	case errors.Is(err, dberror.ErrNotFound):
		if _, err := m.ckan.CreateUser(ctx, ckan.UserPayload{
			Name:     string(p.Username),
			Email:    p.Email,
			Fullname: p.FirstName + " " + p.LastName,
		}); err != nil && !errors.Is(err, remote.ErrConflict) {
			// A user left behind by an earlier deactivation is reused as is.
			return mapRemoteErr(err)
		}
		if key, err := m.ckan.UserAPIKey(ctx, string(p.Username)); err == nil {
			p.CkanAPIKey = key
		} else {
			log.Ctx(ctx).Warn().Err(err).Str("username", string(p.Username)).
				Msg("user api key not retrieved")
		}
		if err := m.db.CreateProfile(ctx, p); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if err := m.db.UpdateProfile(ctx, p); err != nil {
			return err
		}
		if err := m.ckan.UpdateUser(ctx, ckan.UserPayload{
			Name:     string(p.Username),
			Email:    p.Email,
			Fullname: p.FirstName + " " + p.LastName,
		}); err != nil {
			return mapRemoteErr(err)
		}
		if existing.IsActive != p.IsActive {
			if err := m.ckan.SetUserState(ctx, string(p.Username), p.IsActive); err != nil {
				return mapRemoteErr(err)
			}
		}
		if existing.IsPartner != p.IsPartner {
			if err := m.syncPartnerGroup(ctx, p.Username, p.IsPartner); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) syncPartnerGroup(ctx context.Context, username types.Username, partner bool) error {
	var err error
	if partner {
		err = m.ckan.AddGroupMember(ctx, m.partnerGroup, string(username))
	} else {
		err = tolerateNotFound(m.ckan.RemoveGroupMember(ctx, m.partnerGroup, string(username)))
	}
	if err != nil {
		return mapRemoteErr(err)
	}
	return nil
}

// RequestMembership records a pending contributor or referent subscription.
// The nexus stays unvalidated until an admin confirms it.
func (m *Manager) RequestMembership(ctx context.Context, username types.Username, org types.Slug, role models.NexusRole) error {
	if role != models.NexusContributor && role != models.NexusReferent {
		return ErrValidation.Msg("unknown membership role")
	}
	if _, err := m.db.GetOrganisation(ctx, org); err != nil {
		return err
	}
	n := &models.Nexus{Username: username, Organisation: org, Role: role}
	if err := m.db.CreateNexus(ctx, n); err != nil {
		if errors.Is(err, dberror.ErrAlreadyExists) {
			return ErrConflict.Msg("membership already requested")
		}
		return err
	}
	// A referent of an organisation is also one of its contributors.
	if role == models.NexusReferent {
		c := &models.Nexus{Username: username, Organisation: org, Role: models.NexusContributor}
		if err := m.db.CreateNexus(ctx, c); err != nil && !errors.Is(err, dberror.ErrAlreadyExists) {
			return err
		}
	}
	return nil
}

// ConfirmMembership validates a pending nexus and mirrors it on the data
// catalog as an editor membership.
func (m *Manager) ConfirmMembership(ctx context.Context, username types.Username, org types.Slug, role models.NexusRole) error {
	actor := common.ActorFromContext(ctx)
	if actor.Username != "" && !actor.IsAdmin && !actor.IsReferentOf(org) {
		return ErrPermission.Msg("only admins and referents may confirm memberships")
	}
	if err := m.db.ValidateNexus(ctx, username, org, role, time.Now().UTC()); err != nil {
		return err
	}
	if err := m.ckan.AddOrganisationMember(ctx, string(org), string(username), "editor"); err != nil {
		return mapRemoteErr(err)
	}
	m.notifier.Notify(ctx, notify.Notification{
		Event:        notify.EventMembershipConfirmed,
		Actor:        actor.Username,
		Target:       string(username),
		Organisation: org,
		Recipients:   []types.Username{username},
	})
	return nil
}

// RevokeMembership deletes a nexus row. A validated row also loses its data
// catalog membership; a missing remote membership is tolerated.
func (m *Manager) RevokeMembership(ctx context.Context, username types.Username, org types.Slug, role models.NexusRole) error {
	actor := common.ActorFromContext(ctx)
	if actor.Username != "" && !actor.IsAdmin && !actor.IsReferentOf(org) && actor.Username != username {
		return ErrPermission.Msg("memberships are revoked by admins, referents or the member")
	}
	if err := m.db.DeleteNexus(ctx, username, org, role); err != nil {
		return err
	}
	if err := tolerateNotFound(m.ckan.RemoveOrganisationMember(ctx, string(org), string(username))); err != nil {
		return mapRemoteErr(err)
	}
	return nil
}

// DeleteProfile deactivates the remote user then removes the local row.
func (m *Manager) DeleteProfile(ctx context.Context, username types.Username) error {
	actor := common.ActorFromContext(ctx)
	if actor.Username != "" && !actor.IsAdmin && actor.Username != username {
		return ErrPermission.Msg("profiles are deleted by admins or their owner")
	}
	if err := tolerateNotFound(m.ckan.SetUserState(ctx, string(username), false)); err != nil {
		return mapRemoteErr(err)
	}
	return m.db.DeleteProfile(ctx, username)
}
