// Package ingest turns uploaded geospatial archives into feature-store
// tables and map-engine layers. A run either completes for every layer of
// the archive or tears down everything it created.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/adapters/mra"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/internal/spatial"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// FeatureStore is the slice of the feature database the pipeline needs.
type FeatureStore interface {
	CreateLayerTable(ctx context.Context, name types.Slug, fields []spatial.Field) error
	InsertFeatures(ctx context.Context, name types.Slug, fields []spatial.Field, srid int, features []spatial.Feature) error
	LayerBbox(ctx context.Context, name types.Slug) (types.Bbox, error)
	DropLayerTable(ctx context.Context, name types.Slug) error
}

// MapEngine is the slice of the map-engine client the pipeline and the
// catalog manager drive.
type MapEngine interface {
	GetOrCreateWorkspace(ctx context.Context, name string) error
	DeleteWorkspace(ctx context.Context, name string) error
	EnableOWS(ctx context.Context, workspace string, enabled bool) error
	GetOrCreateDatastore(ctx context.Context, workspace string, ds mra.Datastore) error
	DeleteDatastore(ctx context.Context, workspace, name string) error
	CreateFeaturetype(ctx context.Context, workspace, datastore string, ft mra.Featuretype) error
	DeleteFeaturetype(ctx context.Context, workspace, datastore, name string) error
	CreateCoveragestore(ctx context.Context, workspace, name, filePath string) error
	DeleteCoveragestore(ctx context.Context, workspace, name string) error
	CreateCoverage(ctx context.Context, workspace, store, name, title string) error
	GetCoverageBbox(ctx context.Context, workspace, store, name string) (types.Bbox, error)
	DeleteCoverage(ctx context.Context, workspace, store, name string) error
	CreateStyle(ctx context.Context, workspace, name, sld string) error
	DeleteStyle(ctx context.Context, workspace, name string) error
	SetDefaultStyle(ctx context.Context, layer, workspace, style string) error
	DeleteLayer(ctx context.Context, name string) error
	CreateLayerGroup(ctx context.Context, workspace, name string, layers []string) error
	DeleteLayerGroup(ctx context.Context, workspace, name string) error
}

// Pipeline ingests one archive for one resource.
type Pipeline struct {
	features  FeatureStore
	engine    MapEngine
	datastore mra.Datastore
	maxLayers int
	maxBytes  int64
}

func NewPipeline(features FeatureStore, engine MapEngine, datastore mra.Datastore, maxLayers int, maxBytes int64) *Pipeline {
	return &Pipeline{
		features:  features,
		engine:    engine,
		datastore: datastore,
		maxLayers: maxLayers,
		maxBytes:  maxBytes,
	}
}

// Run ingests the archive at path into the workspace (the owning
// organisation's slug) and returns the created layers. On failure every
// artifact created during this run is removed before the error returns.
func (p *Pipeline) Run(ctx context.Context, workspace string, resource uuid.UUID, path string, supported []models.SupportedCrs) ([]models.Layer, error) {
	staging, err := os.MkdirTemp(filepath.Dir(path), "ingest-")
	if err != nil {
		return nil, ErrCritical.Err(err)
	}
	defer Cleanup(staging)

	files, err := ExtractArchive(path, staging, p.maxBytes)
	if err != nil {
		return nil, err
	}

	vectors, rasters := classify(files)
	if len(vectors) == 0 && len(rasters) == 0 {
		return nil, ErrNotOGR.Msg("the archive contains no geographic layer")
	}
	if len(vectors)+len(rasters) > p.maxLayers {
		return nil, ErrTooManyLayers.Msg("too many layers in one archive")
	}

	if err := p.engine.GetOrCreateWorkspace(ctx, workspace); err != nil {
		return nil, ErrCritical.Err(err)
	}
	// OWS publication is a workspace-level setting.
	if err := p.engine.EnableOWS(ctx, workspace, true); err != nil {
		return nil, ErrCritical.Err(err)
	}
	if len(vectors) > 0 {
		if err := p.engine.GetOrCreateDatastore(ctx, workspace, p.datastore); err != nil {
			return nil, ErrCritical.Err(err)
		}
	}

	var layers []models.Layer
	var created createdArtifacts
	fail := func(cause error) ([]models.Layer, error) {
		p.teardown(ctx, workspace, created)
		return nil, cause
	}

	for _, file := range vectors {
		layer, err := p.ingestVector(ctx, workspace, resource, file, supported, &created)
		if err != nil {
			return fail(err)
		}
		layers = append(layers, *layer)
	}
	for _, file := range rasters {
		layer, err := p.ingestRaster(ctx, workspace, resource, file, &created)
		if err != nil {
			return fail(err)
		}
		layers = append(layers, *layer)
	}
	return layers, nil
}

type createdArtifacts struct {
	tables         []types.Slug
	featuretypes   []string
	coverages      [][2]string // store, coverage
	coveragestores []string
	styles         []string
	layers         []string
}

func (p *Pipeline) ingestVector(ctx context.Context, workspace string, resource uuid.UUID, file string, supported []models.SupportedCrs, created *createdArtifacts) (*models.Layer, error) {
	srid := 4326
	if strings.EqualFold(filepath.Ext(file), ".shp") {
		prj, err := os.ReadFile(strings.TrimSuffix(file, filepath.Ext(file)) + ".prj")
		if err != nil {
			return nil, ErrNotFoundSrs.Msg("the shapefile carries no projection file")
		}
		srid, err = ResolveSrs(string(prj), supported)
		if err != nil {
			return nil, err
		}
	}

	vec, err := ReadVectorFile(file, srid)
	if err != nil {
		return nil, err
	}

	// Table names are fresh UUIDs so reingestion never collides with the
	// layers it replaces.
	table := types.Slug("l" + strings.ReplaceAll(uuid.NewString(), "-", ""))
	if err := p.features.CreateLayerTable(ctx, table, vec.Fields); err != nil {
		return nil, ErrCritical.Err(err)
	}
	created.tables = append(created.tables, table)
	if err := p.features.InsertFeatures(ctx, table, vec.Fields, vec.Srid, vec.Features); err != nil {
		return nil, ErrCritical.Err(err)
	}
	bbox, err := p.features.LayerBbox(ctx, table)
	if err != nil {
		return nil, ErrCritical.Err(err)
	}

	ft := mra.Featuretype{Name: string(table), Title: vec.Name, Bbox: bbox}
	if err := p.engine.CreateFeaturetype(ctx, workspace, p.datastore.Name, ft); err != nil {
		return nil, ErrCritical.Err(err)
	}
	created.featuretypes = append(created.featuretypes, string(table))

	if err := p.attachDefaultStyle(ctx, workspace, string(table), types.LayerVector, vec.GeometryClass, created); err != nil {
		return nil, err
	}
	return &models.Layer{Name: table, Type: types.LayerVector, Resource: resource, Bbox: bbox}, nil
}

func (p *Pipeline) ingestRaster(ctx context.Context, workspace string, resource uuid.UUID, file string, created *createdArtifacts) (*models.Layer, error) {
	name := "l" + strings.ReplaceAll(uuid.NewString(), "-", "")
	store := name + "-store"

	if err := p.engine.CreateCoveragestore(ctx, workspace, store, file); err != nil {
		return nil, ErrCritical.Err(err)
	}
	created.coveragestores = append(created.coveragestores, store)

	title := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	if err := p.engine.CreateCoverage(ctx, workspace, store, name, title); err != nil {
		return nil, ErrCritical.Err(err)
	}
	created.coverages = append(created.coverages, [2]string{store, name})

	// The engine computes the raster extent when it opens the file; read
	// it back rather than decoding the raster here.
	bbox, err := p.engine.GetCoverageBbox(ctx, workspace, store, name)
	if err != nil {
		return nil, ErrCritical.Err(err)
	}

	if err := p.attachDefaultStyle(ctx, workspace, name, types.LayerRaster, "", created); err != nil {
		return nil, err
	}
	return &models.Layer{Name: types.Slug(name), Type: types.LayerRaster, Resource: resource, Bbox: bbox}, nil
}

func (p *Pipeline) attachDefaultStyle(ctx context.Context, workspace, layer string, lt types.LayerType, geometryClass string, created *createdArtifacts) error {
	style := layer + "-default"
	sld := mra.DefaultStyle(style, lt, geometryClass)
	if err := p.engine.CreateStyle(ctx, workspace, style, sld); err != nil {
		return ErrCritical.Err(err)
	}
	created.styles = append(created.styles, style)
	if err := p.engine.SetDefaultStyle(ctx, layer, workspace, style); err != nil {
		return ErrCritical.Err(err)
	}
	created.layers = append(created.layers, layer)
	return nil
}

// teardown removes everything created during a failed run, in reverse
// creation order. Individual failures are logged and skipped so the sweep
// always reaches the tables.
func (p *Pipeline) teardown(ctx context.Context, workspace string, created createdArtifacts) {
	for i := len(created.layers) - 1; i >= 0; i-- {
		if err := p.engine.DeleteLayer(ctx, created.layers[i]); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("layer", created.layers[i]).Msg("teardown: layer")
		}
	}
	for i := len(created.styles) - 1; i >= 0; i-- {
		if err := p.engine.DeleteStyle(ctx, workspace, created.styles[i]); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("style", created.styles[i]).Msg("teardown: style")
		}
	}
	for i := len(created.coverages) - 1; i >= 0; i-- {
		c := created.coverages[i]
		if err := p.engine.DeleteCoverage(ctx, workspace, c[0], c[1]); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("coverage", c[1]).Msg("teardown: coverage")
		}
	}
	for i := len(created.coveragestores) - 1; i >= 0; i-- {
		if err := p.engine.DeleteCoveragestore(ctx, workspace, created.coveragestores[i]); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("store", created.coveragestores[i]).Msg("teardown: coveragestore")
		}
	}
	for i := len(created.featuretypes) - 1; i >= 0; i-- {
		if err := p.engine.DeleteFeaturetype(ctx, workspace, p.datastore.Name, created.featuretypes[i]); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("featuretype", created.featuretypes[i]).Msg("teardown: featuretype")
		}
	}
	for i := len(created.tables) - 1; i >= 0; i-- {
		if err := p.features.DropLayerTable(ctx, created.tables[i]); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("table", string(created.tables[i])).Msg("teardown: table")
		}
	}
}

// classify splits extracted files into vector entry points and rasters.
// Shapefile sidecars (.dbf, .shx, .prj) ride along with their .shp.
func classify(files []string) (vectors, rasters []string) {
	for _, f := range files {
		switch strings.ToLower(filepath.Ext(f)) {
		case ".shp", ".geojson", ".json":
			vectors = append(vectors, f)
		case ".tif", ".tiff":
			rasters = append(rasters, f)
		}
	}
	return vectors, rasters
}
