// Package mra drives the map engine through its REST facade. The remote
// model is a nested tree: workspace, then datastore with featuretypes for
// vectors or coveragestore with coverages for rasters, plus styles, layers
// and layer groups at the top. Every node supports the same five verbs:
// get, exists, create, delete and get-or-create, so orchestration sequences
// stay symmetric between creation and teardown.
package mra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/terrado/geosyncsrv/internal/adapters/remote"
	"github.com/terrado/geosyncsrv/pkg/types"
)

type Client struct {
	tr *remote.Client
}

func New(url, username, password string, timeout time.Duration) *Client {
	return &Client{tr: remote.NewClient("mra", url, timeout, remote.BasicAuth(username, password))}
}

func (c *Client) getJSON(ctx context.Context, path string) (gjson.Result, error) {
	rsp, err := c.tr.Do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(rsp.Body), nil
}

func (c *Client) exists(ctx context.Context, path string) (bool, error) {
	_, err := c.tr.Do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return remote.ErrCritical.Err(err)
	}
	_, err = c.tr.Do(ctx, http.MethodPost, path, body, "application/json")
	return err
}

func (c *Client) putJSON(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return remote.ErrCritical.Err(err)
	}
	_, err = c.tr.Do(ctx, http.MethodPut, path, body, "application/json")
	return err
}

func (c *Client) delete(ctx context.Context, path string) error {
	_, err := c.tr.Do(ctx, http.MethodDelete, path, nil, "")
	return err
}

// Workspaces

func (c *Client) WorkspaceExists(ctx context.Context, name string) (bool, error) {
	return c.exists(ctx, "/workspaces/"+name+".json")
}

func (c *Client) CreateWorkspace(ctx context.Context, name string) error {
	return c.postJSON(ctx, "/workspaces.json", map[string]any{
		"workspace": map[string]string{"name": name},
	})
}

func (c *Client) GetOrCreateWorkspace(ctx context.Context, name string) error {
	ok, err := c.WorkspaceExists(ctx, name)
	if err != nil || ok {
		return err
	}
	return c.CreateWorkspace(ctx, name)
}

func (c *Client) DeleteWorkspace(ctx context.Context, name string) error {
	return c.delete(ctx, "/workspaces/"+name+".json")
}

// Datastores (vector side)

// Datastore describes a PostGIS-backed store inside a workspace.
type Datastore struct {
	Name     string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	Schema   string
}

func (c *Client) DatastoreExists(ctx context.Context, workspace, name string) (bool, error) {
	return c.exists(ctx, "/workspaces/"+workspace+"/datastores/"+name+".json")
}

func (c *Client) CreateDatastore(ctx context.Context, workspace string, ds Datastore) error {
	return c.postJSON(ctx, "/workspaces/"+workspace+"/datastores.json", map[string]any{
		"dataStore": map[string]any{
			"name": ds.Name,
			"connectionParameters": map[string]any{
				"dbtype":   "postgis",
				"host":     ds.Host,
				"port":     ds.Port,
				"database": ds.Database,
				"user":     ds.User,
				"passwd":   ds.Password,
				"schema":   ds.Schema,
			},
		},
	})
}

func (c *Client) GetOrCreateDatastore(ctx context.Context, workspace string, ds Datastore) error {
	ok, err := c.DatastoreExists(ctx, workspace, ds.Name)
	if err != nil || ok {
		return err
	}
	return c.CreateDatastore(ctx, workspace, ds)
}

func (c *Client) DeleteDatastore(ctx context.Context, workspace, name string) error {
	return c.delete(ctx, "/workspaces/"+workspace+"/datastores/"+name+".json")
}

// Featuretypes

// Featuretype registers one PostGIS table as an OGC layer.
type Featuretype struct {
	Name  string
	Title string
	Bbox  types.Bbox
}

func (c *Client) FeaturetypeExists(ctx context.Context, workspace, datastore, name string) (bool, error) {
	return c.exists(ctx, featuretypePath(workspace, datastore, name))
}

func (c *Client) CreateFeaturetype(ctx context.Context, workspace, datastore string, ft Featuretype) error {
	payload := map[string]any{
		"featureType": map[string]any{
			"name":  ft.Name,
			"title": ft.Title,
			"nativeBoundingBox": map[string]any{
				"minx": ft.Bbox.MinX, "miny": ft.Bbox.MinY,
				"maxx": ft.Bbox.MaxX, "maxy": ft.Bbox.MaxY,
				"crs": "EPSG:4326",
			},
			"srs": "EPSG:4326",
		},
	}
	return c.postJSON(ctx, "/workspaces/"+workspace+"/datastores/"+datastore+"/featuretypes.json", payload)
}

func (c *Client) DeleteFeaturetype(ctx context.Context, workspace, datastore, name string) error {
	return c.delete(ctx, featuretypePath(workspace, datastore, name))
}

func featuretypePath(workspace, datastore, name string) string {
	return "/workspaces/" + workspace + "/datastores/" + datastore + "/featuretypes/" + name + ".json"
}

// Coveragestores and coverages (raster side)

func (c *Client) CoveragestoreExists(ctx context.Context, workspace, name string) (bool, error) {
	return c.exists(ctx, "/workspaces/"+workspace+"/coveragestores/"+name+".json")
}

// CreateCoveragestore registers a raster file already present on the map
// engine host. The engine reads the file directly; no table is involved.
func (c *Client) CreateCoveragestore(ctx context.Context, workspace, name, filePath string) error {
	return c.postJSON(ctx, "/workspaces/"+workspace+"/coveragestores.json", map[string]any{
		"coverageStore": map[string]any{
			"name": name,
			"type": "GeoTIFF",
			"url":  "file://" + filePath,
		},
	})
}

func (c *Client) DeleteCoveragestore(ctx context.Context, workspace, name string) error {
	return c.delete(ctx, "/workspaces/"+workspace+"/coveragestores/"+name+".json")
}

func (c *Client) CreateCoverage(ctx context.Context, workspace, store, name, title string) error {
	return c.postJSON(ctx, "/workspaces/"+workspace+"/coveragestores/"+store+"/coverages.json", map[string]any{
		"coverage": map[string]any{"name": name, "title": title},
	})
}

// GetCoverageBbox reads the bbox the engine computed when it opened the
// raster. This is how raster extents get into the catalog.
func (c *Client) GetCoverageBbox(ctx context.Context, workspace, store, name string) (types.Bbox, error) {
	result, err := c.getJSON(ctx, "/workspaces/"+workspace+"/coveragestores/"+store+"/coverages/"+name+".json")
	if err != nil {
		return types.Bbox{}, err
	}
	box := result.Get("coverage.latLonBoundingBox")
	if !box.Exists() {
		return types.Bbox{}, remote.ErrCritical.Msg("coverage carries no bounding box")
	}
	return types.Bbox{
		MinX: box.Get("minx").Float(),
		MinY: box.Get("miny").Float(),
		MaxX: box.Get("maxx").Float(),
		MaxY: box.Get("maxy").Float(),
	}, nil
}

func (c *Client) DeleteCoverage(ctx context.Context, workspace, store, name string) error {
	return c.delete(ctx, "/workspaces/"+workspace+"/coveragestores/"+store+"/coverages/"+name+".json")
}

// Styles

func (c *Client) StyleExists(ctx context.Context, workspace, name string) (bool, error) {
	return c.exists(ctx, "/workspaces/"+workspace+"/styles/"+name+".json")
}

// CreateStyle uploads an SLD document. The document is normalized first so
// hand-authored SLDs from desktop tools render the same as generated ones.
func (c *Client) CreateStyle(ctx context.Context, workspace, name, sld string) error {
	body := []byte(NormalizeSLD(sld))
	path := fmt.Sprintf("/workspaces/%s/styles.sld?name=%s", workspace, name)
	_, err := c.tr.Do(ctx, http.MethodPost, path, body, "application/vnd.ogc.sld+xml")
	return err
}

func (c *Client) UpdateStyle(ctx context.Context, workspace, name, sld string) error {
	body := []byte(NormalizeSLD(sld))
	path := "/workspaces/" + workspace + "/styles/" + name + ".sld"
	_, err := c.tr.Do(ctx, http.MethodPut, path, body, "application/vnd.ogc.sld+xml")
	return err
}

func (c *Client) GetStyle(ctx context.Context, workspace, name string) (string, error) {
	rsp, err := c.tr.Do(ctx, http.MethodGet, "/workspaces/"+workspace+"/styles/"+name+".sld", nil, "")
	if err != nil {
		return "", err
	}
	return string(rsp.Body), nil
}

func (c *Client) DeleteStyle(ctx context.Context, workspace, name string) error {
	return c.delete(ctx, "/workspaces/"+workspace+"/styles/"+name+".json")
}

// Layers

// SetDefaultStyle attaches the style as the layer default. The engine keeps
// the style list untouched; only defaultStyle moves.
func (c *Client) SetDefaultStyle(ctx context.Context, layer, workspace, style string) error {
	return c.putJSON(ctx, "/layers/"+layer+".json", map[string]any{
		"layer": map[string]any{
			"defaultStyle": map[string]string{"name": style, "workspace": workspace},
		},
	})
}

func (c *Client) DeleteLayer(ctx context.Context, name string) error {
	return c.delete(ctx, "/layers/"+name+".json")
}

// Layer groups

func (c *Client) CreateLayerGroup(ctx context.Context, workspace, name string, layers []string) error {
	return c.postJSON(ctx, "/workspaces/"+workspace+"/layergroups.json", map[string]any{
		"layerGroup": map[string]any{"name": name, "layers": layers},
	})
}

func (c *Client) DeleteLayerGroup(ctx context.Context, workspace, name string) error {
	return c.delete(ctx, "/workspaces/"+workspace+"/layergroups/"+name+".json")
}

// OWS settings

// EnableOWS switches WMS/WFS publication on or off for the workspace.
func (c *Client) EnableOWS(ctx context.Context, workspace string, enabled bool) error {
	return c.putJSON(ctx, "/services/ows/workspaces/"+workspace+"/settings.json", map[string]any{
		"settings": map[string]any{"enabled": enabled},
	})
}
