package models

import (
	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/pkg/types"
)

// Layer is a GIS surface materialized from a resource. Name doubles as the
// feature-store table name (vector) or the coverage name (raster).
type Layer struct {
	Name     types.Slug      `db:"name"`
	Type     types.LayerType `db:"type"`
	Resource uuid.UUID       `db:"resource"`
	Bbox     types.Bbox      `db:"bbox"`
}
