package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/pkg/types"
)

// RemoteSource is one harvest source. Kind picks the protocol; SyncWith is
// the remote organisation slugs to mirror (CKAN/DCAT); GetRecords is the
// stored request body (CSW).
type RemoteSource struct {
	ID            uuid.UUID             `db:"id"`
	Kind          types.RemoteKind      `db:"kind"`
	Organisation  types.Slug            `db:"organisation"` // 1:1 local target
	URL           string                `db:"url"`
	SyncWith      []string              `db:"sync_with"`
	GetRecords    string                `db:"getrecords"`
	SyncFrequency types.UpdateFrequency `db:"sync_frequency"`
	CreatedAt     time.Time             `db:"created_at"`
	UpdatedAt     time.Time             `db:"updated_at"`
}

// HarvestedDataset links a local dataset to the remote record it mirrors.
// The (source, remote identifier) pair is the idempotency key of a harvest.
type HarvestedDataset struct {
	SourceID           uuid.UUID  `db:"source_id"`
	Dataset            types.Slug `db:"dataset"`
	RemoteIdentifier   string     `db:"remote_identifier"`
	RemoteOrganisation string     `db:"remote_organisation"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

// MappingLicence and MappingCategory override harvest resolution per source.
type MappingLicence struct {
	SourceID uuid.UUID  `db:"source_id"`
	Remote   string     `db:"remote"`
	License  types.Slug `db:"license"`
}

type MappingCategory struct {
	SourceID uuid.UUID  `db:"source_id"`
	Remote   string     `db:"remote"`
	Category types.Slug `db:"category"`
}
