// Package spatial manages the feature database: one PostGIS table per vector
// layer, created from field descriptors at ingestion time and dropped when
// the resource goes away. Geometries are stored in EPSG:4326; reprojection
// happens in the database at insert time.
package spatial

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/db/dbmanager"
	"github.com/terrado/geosyncsrv/pkg/apperrors"
	"github.com/terrado/geosyncsrv/pkg/types"
)

var (
	ErrFeatureStore  apperrors.Error = apperrors.New("feature store error").SetStatusCode(500)
	ErrInvalidSchema                 = ErrFeatureStore.New("invalid layer schema").SetStatusCode(400)
)

// FieldKind is the portable column type of a layer attribute.
type FieldKind string

const (
	FieldString FieldKind = "string"
	FieldInt    FieldKind = "integer"
	FieldFloat  FieldKind = "float"
	FieldDate   FieldKind = "date"
	FieldBool   FieldKind = "boolean"
)

// Field describes one attribute column of a layer table. Width only applies
// to string fields; zero means text.
type Field struct {
	Name  string
	Kind  FieldKind
	Width int
}

func (f Field) columnType() (string, error) {
	switch f.Kind {
	case FieldString:
		if f.Width > 0 {
			return "character varying(" + strconv.Itoa(f.Width) + ")", nil
		}
		return "text", nil
	case FieldInt:
		return "bigint", nil
	case FieldFloat:
		return "double precision", nil
	case FieldDate:
		return "date", nil
	case FieldBool:
		return "boolean", nil
	}
	return "", ErrInvalidSchema.Msg("unsupported field kind " + string(f.Kind))
}

// Store writes layer tables into the feature database. readerRole is granted
// read access on every table so the map server can serve them.
type Store struct {
	pool       *dbmanager.Pool
	readerRole string
}

func New(pool *dbmanager.Pool, readerRole string) *Store {
	return &Store{pool: pool, readerRole: readerRole}
}

// CreateLayerTable creates the table for one vector layer and its indexes,
// then grants read access to the map reader role. The table name is the layer
// name, which is already a slug; it is still quoted defensively.
func (s *Store) CreateLayerTable(ctx context.Context, name types.Slug, fields []Field) error {
	if name == "" {
		return ErrInvalidSchema.Msg("layer name must be provided")
	}
	cols := make([]string, 0, len(fields)+2)
	cols = append(cols, `fid serial PRIMARY KEY`)
	seen := map[string]bool{"fid": true, "the_geom": true}
	for _, f := range fields {
		col := ColumnName(f.Name)
		if col == "" || seen[col] {
			return ErrInvalidSchema.Msg("invalid or duplicate field name " + f.Name)
		}
		seen[col] = true
		typ, err := f.columnType()
		if err != nil {
			return err
		}
		cols = append(cols, quoteIdent(col)+" "+typ)
	}
	cols = append(cols, `the_geom geometry(Geometry, 4326)`)

	table := quoteIdent(string(name))
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s (%s);`, table, strings.Join(cols, ", ")),
		fmt.Sprintf(`CREATE INDEX %s ON %s USING gist (the_geom);`,
			quoteIdent(string(name)+"_geom_idx"), table),
		fmt.Sprintf(`CREATE INDEX %s ON %s USING btree (fid);`,
			quoteIdent(string(name)+"_fid_idx"), table),
		fmt.Sprintf(`GRANT SELECT ON %s TO %s;`, table, quoteIdent(s.readerRole)),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.ExecContext(ctx, stmt); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("layer", string(name)).Msg("failed to create layer table")
			return ErrFeatureStore.Err(err)
		}
	}
	return nil
}

// Feature is one row to insert: attribute values in field order plus the
// geometry as WKT in the source SRS.
type Feature struct {
	Attributes []any
	WKT        string
}

// InsertFeatures loads features into the layer table, reprojecting each
// geometry from srid to 4326 in the database. Attribute count must match the
// field descriptors used at table creation.
func (s *Store) InsertFeatures(ctx context.Context, name types.Slug, fields []Field, srid int, features []Feature) error {
	if len(features) == 0 {
		return nil
	}
	cols := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		cols = append(cols, quoteIdent(ColumnName(f.Name)))
	}
	cols = append(cols, "the_geom")

	placeholders := make([]string, 0, len(fields)+1)
	for i := range fields {
		placeholders = append(placeholders, "$"+strconv.Itoa(i+1))
	}
	placeholders = append(placeholders,
		fmt.Sprintf("ST_Transform(ST_GeomFromText($%d, %d), 4326)", len(fields)+1, srid))

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s);`,
		quoteIdent(string(name)), strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	for _, ft := range features {
		if len(ft.Attributes) != len(fields) {
			return ErrInvalidSchema.Msg("attribute count does not match layer schema")
		}
		args := append(append([]any{}, ft.Attributes...), ft.WKT)
		if _, err := s.pool.ExecContext(ctx, query, args...); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("layer", string(name)).Msg("failed to insert feature")
			return ErrFeatureStore.Err(err)
		}
	}
	return nil
}

// LayerBbox returns the extent of the layer in EPSG:4326. An empty table
// yields a zero bbox and no error.
func (s *Store) LayerBbox(ctx context.Context, name types.Slug) (types.Bbox, error) {
	query := fmt.Sprintf(
		`SELECT ST_XMin(e), ST_YMin(e), ST_XMax(e), ST_YMax(e)
		 FROM (SELECT ST_Extent(the_geom) AS e FROM %s) AS ext WHERE e IS NOT NULL;`,
		quoteIdent(string(name)))
	var b types.Bbox
	rows, err := s.pool.QueryContext(ctx, query)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("layer", string(name)).Msg("failed to compute layer extent")
		return types.Bbox{}, ErrFeatureStore.Err(err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&b.MinX, &b.MinY, &b.MaxX, &b.MaxY); err != nil {
			return types.Bbox{}, ErrFeatureStore.Err(err)
		}
	}
	if err := rows.Err(); err != nil {
		return types.Bbox{}, ErrFeatureStore.Err(err)
	}
	return b, nil
}

// DropLayerTable removes the layer table. Missing tables are not an error so
// that teardown stays idempotent.
func (s *Store) DropLayerTable(ctx context.Context, name types.Slug) error {
	query := fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, quoteIdent(string(name)))
	if _, err := s.pool.ExecContext(ctx, query); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("layer", string(name)).Msg("failed to drop layer table")
		return ErrFeatureStore.Err(err)
	}
	return nil
}

// ColumnName folds an attribute name to a safe lowercase identifier the way
// table names are slugged. Leading digits get an underscore prefix.
func ColumnName(name string) string {
	col := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range col {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_', r == '-', r == ' ':
			b.WriteByte('_')
		}
	}
	col = b.String()
	if col == "" {
		return ""
	}
	if col[0] >= '0' && col[0] <= '9' {
		col = "_" + col
	}
	if len(col) > 63 {
		col = col[:63]
	}
	return col
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
