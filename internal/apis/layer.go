package apis

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/internal/adapters/mra"
	"github.com/terrado/geosyncsrv/internal/catalogmanager"
	"github.com/terrado/geosyncsrv/internal/common"
	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/httpx"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// layerWorkspace resolves a layer to the map-engine workspace it lives in,
// which is the slug of the organisation owning the parent dataset.
func (a *API) layerWorkspace(r *http.Request) (types.Slug, string, error) {
	ctx := r.Context()
	name := types.Slug(chi.URLParam(r, "name"))
	layer, err := a.store.GetLayer(ctx, name)
	if err != nil {
		return "", "", asNotFound(err)
	}
	res, err := a.store.GetResource(ctx, layer.Resource)
	if err != nil {
		return "", "", asNotFound(err)
	}
	d, err := a.store.GetDataset(ctx, res.Dataset)
	if err != nil {
		return "", "", asNotFound(err)
	}
	return name, string(d.Organisation), nil
}

func sldCacheKey(name types.Slug) string {
	return "sld:" + string(name)
}

func (a *API) getLayerStyle(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	name, workspace, err := a.layerWorkspace(r)
	if err != nil {
		return nil, err
	}
	key := sldCacheKey(name)
	if raw, ok := a.cache.Get(ctx, key); ok {
		return &httpx.Response{StatusCode: http.StatusOK, Response: string(raw)}, nil
	}
	sld, err := a.styles.GetStyle(ctx, workspace, string(name)+"-default")
	if err != nil {
		return nil, err
	}
	a.cache.Set(ctx, key, []byte(sld))
	return &httpx.Response{StatusCode: http.StatusOK, Response: sld}, nil
}

func (a *API) putLayerStyle(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	name, workspace, err := a.layerWorkspace(r)
	if err != nil {
		return nil, err
	}
	actor := common.ActorFromContext(ctx)
	org := types.Slug(workspace)
	if actor.Username != "" && !actor.IsAdmin &&
		!actor.IsReferentOf(org) && !actor.IsContributorOf(org) {
		return nil, catalogmanager.ErrPermission
	}
	if r.Body == nil {
		return nil, httpx.ErrInvalidRequest()
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, httpx.ErrUnableToReadRequest()
	}
	if len(raw) == 0 {
		return nil, httpx.ErrInvalidRequest("empty style body")
	}
	sld := mra.NormalizeSLD(string(raw))
	if err := a.styles.UpdateStyle(ctx, workspace, string(name)+"-default", sld); err != nil {
		return nil, err
	}
	a.cache.Invalidate(ctx, sldCacheKey(name))
	return &httpx.Response{StatusCode: http.StatusOK}, nil
}

// checkResourceAccess answers the front office's access question for one
// (resource, user) pair.
func (a *API) checkResourceAccess(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	q := r.URL.Query()

	id := q.Get("resource")
	username := types.Username(q.Get("user"))
	if id == "" {
		return nil, httpx.ErrInvalidRequest("resource is required")
	}
	ckanID, err := uuid.Parse(id)
	if err != nil {
		return nil, httpx.ErrInvalidRequest("malformed resource id")
	}
	resource, err := a.store.GetResource(ctx, ckanID)
	if err != nil {
		return nil, asNotFound(err)
	}

	actor, active, err := a.actorFor(ctx, username)
	if err != nil {
		return nil, err
	}
	access := "denied"
	if catalogmanager.IsProfileAuthorized(actor, active, resource) {
		access = "granted"
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   map[string]string{"access": access},
	}, nil
}

// actorFor builds the access-control view of a user. An unknown or empty
// username maps to the anonymous (nil) actor.
func (a *API) actorFor(ctx context.Context, username types.Username) (*common.Actor, bool, error) {
	if username == "" {
		return nil, false, nil
	}
	p, err := a.store.GetProfile(ctx, username)
	if errors.Is(err, dberror.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	actor := &common.Actor{
		Username:     p.Username,
		Organisation: p.Organisation,
		IsAdmin:      p.IsAdmin,
	}
	nexuses, err := a.store.NexusesForProfile(ctx, username)
	if err != nil {
		return nil, false, err
	}
	for _, n := range nexuses {
		if n.ValidatedOn == nil {
			continue
		}
		switch n.Role {
		case models.NexusReferent:
			actor.ReferentOf = append(actor.ReferentOf, n.Organisation)
		case models.NexusContributor:
			actor.ContributorOf = append(actor.ContributorOf, n.Organisation)
		}
	}
	return actor, p.IsActive, nil
}
