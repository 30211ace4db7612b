package models

import (
	"time"

	"github.com/terrado/geosyncsrv/pkg/types"
)

// Profile is a user's catalog identity, one per account.
type Profile struct {
	Username     types.Username `db:"username"`
	Email        string         `db:"email"`
	FirstName    string         `db:"first_name"`
	LastName     string         `db:"last_name"`
	Organisation types.Slug     `db:"organisation"` // home organisation, empty when none
	Phone        string         `db:"phone"`
	IsActive     bool           `db:"is_active"`
	IsMember     bool           `db:"is_member"` // home-org membership confirmed
	IsPartner    bool           `db:"is_partner"`
	IsAdmin      bool           `db:"is_admin"`
	SftpPassword string         `db:"sftp_password"`
	CkanAPIKey   string         `db:"ckan_api_key"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

// NexusRole discriminates the two profile/organisation nexus sets.
type NexusRole string

const (
	NexusContributor NexusRole = "contributor"
	NexusReferent    NexusRole = "referent"
)

// Nexus is one row of the contributors-of / referents-of sets. ValidatedOn
// stays nil until an admin confirms the subscription.
type Nexus struct {
	Username     types.Username `db:"username"`
	Organisation types.Slug     `db:"organisation"`
	Role         NexusRole      `db:"role"`
	CreatedOn    time.Time      `db:"created_on"`
	ValidatedOn  *time.Time     `db:"validated_on"`
}
