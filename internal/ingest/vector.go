package ingest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	shp "github.com/jonas-p/go-shp"
	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/terrado/geosyncsrv/internal/spatial"
)

// VectorLayer is one decoded layer ready for the feature store: its schema,
// its features as WKT in the source SRS, and its geometry class for styling.
type VectorLayer struct {
	Name          string
	GeometryClass string
	Srid          int
	Fields        []spatial.Field
	Features      []spatial.Feature
}

// ReadVectorFile decodes one extracted file into a layer. Shapefiles and
// GeoJSON are the recognized vector formats; other extensions return
// NotOGR so the caller can keep scanning the archive.
func ReadVectorFile(path string, srid int) (*VectorLayer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		return readShapefile(path, srid)
	case ".geojson", ".json":
		return readGeoJSON(path)
	}
	return nil, ErrNotOGR.Msg("not a recognized vector format")
}

func readShapefile(path string, srid int) (*VectorLayer, error) {
	r, err := shp.Open(path)
	if err != nil {
		return nil, ErrDataDecoding.MsgErr("could not open the shapefile", err)
	}
	defer r.Close()

	dbfFields := r.Fields()
	layer := &VectorLayer{
		Name:          strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		GeometryClass: geometryClass(r.GeometryType),
		Srid:          srid,
	}
	for _, f := range dbfFields {
		layer.Fields = append(layer.Fields, spatial.Field{
			Name:  f.String(),
			Kind:  fieldKind(f),
			Width: int(f.Size),
		})
	}

	for r.Next() {
		row, shape := r.Shape()
		text, err := shapeWKT(shape)
		if err != nil {
			return nil, err
		}
		attrs := make([]any, len(dbfFields))
		for i, f := range dbfFields {
			attrs[i] = parseAttribute(r.ReadAttribute(row, i), f)
		}
		layer.Features = append(layer.Features, spatial.Feature{Attributes: attrs, WKT: text})
	}
	if err := r.Err(); err != nil {
		return nil, ErrDataDecoding.MsgErr("could not read the shapefile", err)
	}
	if len(layer.Features) == 0 {
		return nil, ErrWrongData.Msg("shapefile contains no feature")
	}
	return layer, nil
}

func fieldKind(f shp.Field) spatial.FieldKind {
	switch f.Fieldtype {
	case 'N':
		if f.Precision > 0 {
			return spatial.FieldFloat
		}
		return spatial.FieldInt
	case 'F':
		return spatial.FieldFloat
	case 'D':
		return spatial.FieldDate
	case 'L':
		return spatial.FieldBool
	}
	return spatial.FieldString
}

// parseAttribute converts the DBF string value into the declared column
// type. Unparseable values become NULL rather than failing the whole layer.
func parseAttribute(value string, f shp.Field) any {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	switch fieldKind(f) {
	case spatial.FieldInt:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
		return nil
	case spatial.FieldFloat:
		if x, err := strconv.ParseFloat(value, 64); err == nil {
			return x
		}
		return nil
	case spatial.FieldDate:
		if t, err := time.Parse("20060102", value); err == nil {
			return t
		}
		return nil
	case spatial.FieldBool:
		switch strings.ToUpper(value) {
		case "T", "Y", "1":
			return true
		case "F", "N", "0":
			return false
		}
		return nil
	}
	return value
}

func geometryClass(t shp.ShapeType) string {
	switch t {
	case shp.POINT, shp.POINTZ, shp.POINTM:
		return "Point"
	case shp.MULTIPOINT, shp.MULTIPOINTZ, shp.MULTIPOINTM:
		return "MultiPoint"
	case shp.POLYLINE, shp.POLYLINEZ, shp.POLYLINEM:
		return "MultiLineString"
	case shp.POLYGON, shp.POLYGONZ, shp.POLYGONM:
		return "MultiPolygon"
	}
	return "Geometry"
}

// shapeWKT renders one shapefile record as WKT. Each polygon part becomes
// its own shell; ring/hole reconstruction is left to the database.
func shapeWKT(shape shp.Shape) (string, error) {
	var g geom.T
	switch s := shape.(type) {
	case *shp.Point:
		g = geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointZ:
		g = geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.MultiPoint:
		g = geom.NewMultiPointFlat(geom.XY, flatCoords(s.Points))
	case *shp.PolyLine:
		g = geom.NewMultiLineStringFlat(geom.XY, flatCoords(s.Points), partEnds(s.Parts, len(s.Points)))
	case *shp.Polygon:
		ends := partEnds(s.Parts, len(s.Points))
		endss := make([][]int, len(ends))
		for i, e := range ends {
			endss[i] = []int{e}
		}
		g = geom.NewMultiPolygonFlat(geom.XY, flatCoords(s.Points), endss)
	default:
		return "", ErrNotSupported.Msg("unsupported shape type")
	}
	text, err := wkt.Marshal(g)
	if err != nil {
		return "", ErrDataDecoding.Err(err)
	}
	return text, nil
}

func flatCoords(points []shp.Point) []float64 {
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}

func partEnds(parts []int32, total int) []int {
	ends := make([]int, 0, len(parts))
	for i := range parts {
		end := total
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		ends = append(ends, end*2)
	}
	if len(ends) == 0 {
		ends = []int{total * 2}
	}
	return ends
}

// readGeoJSON decodes a feature collection. GeoJSON is always 4326.
func readGeoJSON(path string) (*VectorLayer, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrDataDecoding.Err(err)
	}
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, ErrDataDecoding.MsgErr("could not decode the feature collection", err)
	}
	if len(fc.Features) == 0 {
		return nil, ErrWrongData.Msg("feature collection is empty")
	}

	layer := &VectorLayer{
		Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Srid: 4326,
	}
	// Schema from the first feature; everything serializes as text since
	// GeoJSON properties carry no declared types.
	names := make([]string, 0, len(fc.Features[0].Properties))
	for name := range fc.Features[0].Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		layer.Fields = append(layer.Fields, spatial.Field{Name: name, Kind: spatial.FieldString})
	}

	classes := map[string]bool{}
	for _, ft := range fc.Features {
		if ft.Geometry == nil {
			continue
		}
		text, err := wkt.Marshal(ft.Geometry)
		if err != nil {
			return nil, ErrDataDecoding.Err(err)
		}
		classes[geomClassOf(ft.Geometry)] = true
		attrs := make([]any, len(names))
		for i, name := range names {
			if v, ok := ft.Properties[name]; ok && v != nil {
				attrs[i] = stringify(v)
			}
		}
		layer.Features = append(layer.Features, spatial.Feature{Attributes: attrs, WKT: text})
	}
	if len(layer.Features) == 0 {
		return nil, ErrWrongData.Msg("feature collection has no geometry")
	}
	layer.GeometryClass = soleClass(classes)
	return layer, nil
}

func geomClassOf(g geom.T) string {
	switch g.(type) {
	case *geom.Point:
		return "Point"
	case *geom.MultiPoint:
		return "MultiPoint"
	case *geom.LineString, *geom.MultiLineString:
		return "MultiLineString"
	case *geom.Polygon, *geom.MultiPolygon:
		return "MultiPolygon"
	}
	return "Geometry"
}

// soleClass returns the single geometry class, or "Geometry" when mixed.
func soleClass(classes map[string]bool) string {
	if len(classes) == 1 {
		for c := range classes {
			return c
		}
	}
	return "Geometry"
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	}
	raw, _ := json.Marshal(v)
	return string(raw)
}
