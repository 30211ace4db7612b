package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/pkg/types"
)

// Resource is a downloadable or referenceable artifact attached to exactly
// one dataset. The source union is total and exclusive: exactly one of
// UploadedPath, DownloadedURL, ReferencedURL and FtpPath is set, matching
// SourceKind.
type Resource struct {
	CkanID      uuid.UUID        `db:"ckan_id"`
	Dataset     types.Slug       `db:"dataset"`
	Title       string           `db:"title"`
	Description string           `db:"description"`
	Language    string           `db:"language"`
	FormatSlug  types.Slug       `db:"format_slug"`
	DataType    types.ResourceDataType `db:"data_type"`

	SourceKind    types.SourceKind `db:"source_kind"`
	UploadedPath  string           `db:"uploaded_path"`
	DownloadedURL string           `db:"downloaded_url"`
	ReferencedURL string           `db:"referenced_url"`
	FtpPath       string           `db:"ftp_path"`

	// Synchronization policy, meaningful for downloaded-URL sources only.
	SyncFrequency   types.UpdateFrequency `db:"sync_frequency"`
	Synchronization bool                  `db:"synchronization"`

	Crs      string     `db:"crs"`
	Encoding string     `db:"encoding"`
	Bbox     types.Bbox `db:"bbox"`

	RestrictedLevel      types.RestrictedLevel `db:"restricted_level"`
	ProfilesAllowed      []types.Username      `db:"profiles_allowed"`
	OrganisationsAllowed []types.Slug          `db:"organisations_allowed"`

	Extractable    bool      `db:"extractable"`
	OgcServices    bool      `db:"ogc_services"`
	GeoRestriction bool      `db:"geo_restriction"`
	LastUpdate     time.Time `db:"last_update"`
}

// SourceValue returns the value of the active source arm.
func (r *Resource) SourceValue() string {
	switch r.SourceKind {
	case types.SourceUploaded:
		return r.UploadedPath
	case types.SourceDownloaded:
		return r.DownloadedURL
	case types.SourceReferenced:
		return r.ReferencedURL
	case types.SourceFtp:
		return r.FtpPath
	}
	return ""
}
