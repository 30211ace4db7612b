package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Bbox is an EPSG:4326 bounding box. The zero value means "no extent" and is
// the identity of Union.
type Bbox struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
}

func NewBbox(minx, miny, maxx, maxy float64) Bbox {
	return Bbox{MinX: minx, MinY: miny, MaxX: maxx, MaxY: maxy}
}

// BboxFromBounds converts go-geom bounds into a Bbox.
func BboxFromBounds(b *geom.Bounds) Bbox {
	if b == nil {
		return Bbox{}
	}
	return Bbox{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)}
}

func (b Bbox) IsZero() bool {
	return b == Bbox{}
}

// Union returns the smallest box covering both operands. The zero box is
// absorbed.
func (b Bbox) Union(o Bbox) Bbox {
	if b.IsZero() {
		return o
	}
	if o.IsZero() {
		return b
	}
	r := b
	if o.MinX < r.MinX {
		r.MinX = o.MinX
	}
	if o.MinY < r.MinY {
		r.MinY = o.MinY
	}
	if o.MaxX > r.MaxX {
		r.MaxX = o.MaxX
	}
	if o.MaxY > r.MaxY {
		r.MaxY = o.MaxY
	}
	return r
}

// Contains reports whether o lies fully within b.
func (b Bbox) Contains(o Bbox) bool {
	if b.IsZero() || o.IsZero() {
		return false
	}
	return o.MinX >= b.MinX && o.MinY >= b.MinY && o.MaxX <= b.MaxX && o.MaxY <= b.MaxY
}

// Polygon renders the box as a closed EPSG:4326 polygon.
func (b Bbox) Polygon() *geom.Polygon {
	return geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{{
		{b.MinX, b.MinY},
		{b.MinX, b.MaxY},
		{b.MaxX, b.MaxY},
		{b.MaxX, b.MinY},
		{b.MinX, b.MinY},
	}}).SetSRID(4326)
}

// GeoJSON renders the box as the spatial extra the data catalog expects.
func (b Bbox) GeoJSON() (string, error) {
	raw, err := geojson.Marshal(b.Polygon())
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// WKT renders ST_GeomFromText input for the catalog store.
func (b Bbox) WKT() string {
	return fmt.Sprintf("POLYGON((%g %g,%g %g,%g %g,%g %g,%g %g))",
		b.MinX, b.MinY, b.MinX, b.MaxY, b.MaxX, b.MaxY, b.MaxX, b.MinY, b.MinX, b.MinY)
}

// Value and Scan store the box as JSON in the catalog store.
func (b Bbox) Value() (driver.Value, error) {
	if b.IsZero() {
		return nil, nil
	}
	return json.Marshal(b)
}

func (b *Bbox) Scan(src any) error {
	if src == nil {
		*b = Bbox{}
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, b)
	case string:
		return json.Unmarshal([]byte(v), b)
	}
	return fmt.Errorf("unsupported bbox column type %T", src)
}
