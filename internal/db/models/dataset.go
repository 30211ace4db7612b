package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/pkg/types"
)

/*
	Datasets carry an authored|harvested discriminator: harvested rows point
	at their remote source and may not be edited by end users. The slug of a
	harvested dataset always starts with "sync-"; a partial index keeps the
	two populations cheap to query separately.

	Indexes:
	    "datasets_pkey" PRIMARY KEY, btree (slug)
	    "datasets_ckan_id_key" UNIQUE CONSTRAINT, btree (ckan_id)
	    "datasets_authored_idx" btree (organisation) WHERE remote_source_id IS NULL
	    "datasets_harvested_idx" btree (remote_source_id) WHERE remote_source_id IS NOT NULL
*/

type Dataset struct {
	Slug            types.Slug            `db:"slug"`
	CkanID          uuid.UUID             `db:"ckan_id"`
	Title           string                `db:"title"`
	Description     string                `db:"description"`
	Keywords        []string              `db:"keywords"`
	Categories      []types.Slug          `db:"categories"`
	DataTypes       []string              `db:"data_types"`
	LicenseSlug     types.Slug            `db:"license_slug"`
	Organisation    types.Slug            `db:"organisation"`
	Editor          types.Username        `db:"editor"`
	DateCreation    time.Time             `db:"date_creation"`
	DatePublication time.Time             `db:"date_publication"`
	DateModification time.Time            `db:"date_modification"`
	UpdateFrequency types.UpdateFrequency `db:"update_frequency"`
	GeoCover        types.GeoCover        `db:"geocover"`
	Granularity     string                `db:"granularity"`
	Bbox            types.Bbox            `db:"bbox"`
	OwnerName       string                `db:"owner_name"`
	OwnerEmail      string                `db:"owner_email"`
	BroadcasterName string                `db:"broadcaster_name"`
	BroadcasterEmail string               `db:"broadcaster_email"`
	Published       bool                  `db:"published"`
	Thumbnail       string                `db:"thumbnail"`
	GeonetID        uuid.UUID             `db:"geonet_id"`
	Support         string                `db:"support"`
	// Harvest provenance; zero for authored datasets.
	RemoteSourceID uuid.UUID `db:"remote_source_id"`
	RemoteID       string    `db:"remote_id"`
}

// IsHarvested reports whether the dataset is materialized by a harvester.
func (d *Dataset) IsHarvested() bool {
	return d.RemoteSourceID != uuid.Nil
}
