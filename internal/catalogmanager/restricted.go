package catalogmanager

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/terrado/geosyncsrv/internal/common"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// Restricted is the access-control projection pushed to the data catalog's
// restricted extension. Levels above only_allowed_users collapse onto it:
// the catalog only understands explicit user lists, so organisation-based
// levels are resolved to their current membership at push time.
type Restricted struct {
	Level        string   `json:"level"`
	AllowedUsers []string `json:"allowed_users,omitempty"`
}

// memberLister resolves an organisation to its active confirmed members.
type memberLister interface {
	ActiveMemberUsernames(ctx context.Context, org types.Slug) ([]types.Username, error)
}

// ProjectRestricted computes the restricted JSON for a resource.
// parentOrg is the organisation owning the resource's dataset. The
// allowed_users list is sorted and free of duplicates.
func ProjectRestricted(ctx context.Context, db memberLister, r *models.Resource, parentOrg types.Slug) (string, error) {
	var proj Restricted
	switch r.RestrictedLevel {
	case types.RestrictedPublic, "":
		proj.Level = string(types.RestrictedPublic)
	case types.RestrictedRegistered:
		proj.Level = string(types.RestrictedRegistered)
	case types.RestrictedOnlyAllowedUsers:
		proj.Level = string(types.RestrictedOnlyAllowedUsers)
		proj.AllowedUsers = dedupeUsernames(r.ProfilesAllowed)
	case types.RestrictedSameOrganisation:
		members, err := db.ActiveMemberUsernames(ctx, parentOrg)
		if err != nil {
			return "", err
		}
		proj.Level = string(types.RestrictedOnlyAllowedUsers)
		proj.AllowedUsers = dedupeUsernames(members)
	case types.RestrictedAnyOrganisation:
		var all []types.Username
		for _, org := range r.OrganisationsAllowed {
			members, err := db.ActiveMemberUsernames(ctx, org)
			if err != nil {
				return "", err
			}
			all = append(all, members...)
		}
		proj.Level = string(types.RestrictedOnlyAllowedUsers)
		proj.AllowedUsers = dedupeUsernames(all)
	default:
		return "", ErrValidation.Msg("unknown restricted level " + string(r.RestrictedLevel))
	}
	raw, err := json.Marshal(proj)
	if err != nil {
		return "", ErrCatalog.Err(err)
	}
	return string(raw), nil
}

func dedupeUsernames(users []types.Username) []string {
	seen := make(map[string]bool, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		if u == "" || seen[string(u)] {
			continue
		}
		seen[string(u)] = true
		out = append(out, string(u))
	}
	sort.Strings(out)
	return out
}

// IsProfileAuthorized decides resource access for one actor. ownOrg is the
// actor's home organisation.
func IsProfileAuthorized(actor *common.Actor, active bool, r *models.Resource) bool {
	switch r.RestrictedLevel {
	case types.RestrictedPublic, "":
		return true
	case types.RestrictedRegistered:
		return actor != nil && active
	case types.RestrictedOnlyAllowedUsers:
		if actor == nil {
			return false
		}
		for _, u := range r.ProfilesAllowed {
			if u == actor.Username {
				return true
			}
		}
		return false
	case types.RestrictedSameOrganisation, types.RestrictedAnyOrganisation:
		if actor == nil || actor.Organisation == "" {
			return false
		}
		for _, org := range r.OrganisationsAllowed {
			if org == actor.Organisation {
				return true
			}
		}
		return false
	}
	return false
}
