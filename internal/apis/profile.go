package apis

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/terrado/geosyncsrv/internal/catalogmanager"
	"github.com/terrado/geosyncsrv/internal/common"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/httpx"
	"github.com/terrado/geosyncsrv/pkg/types"
)

func (a *API) listProfiles(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	actor := common.ActorFromContext(ctx)
	if !actor.IsAdmin {
		return nil, catalogmanager.ErrPermission
	}
	profiles, err := a.store.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: profiles}, nil
}

func (a *API) getProfile(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	username := types.Username(chi.URLParam(r, "username"))
	actor := common.ActorFromContext(ctx)
	if !actor.IsAdmin && actor.Username != username {
		return nil, catalogmanager.ErrPermission
	}
	p, err := a.store.GetProfile(ctx, username)
	if err != nil {
		return nil, asNotFound(err)
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: p}, nil
}

func (a *API) createProfile(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	var p models.Profile
	if err := decodeBody(r, &p); err != nil {
		return nil, err
	}
	if err := a.catalog.SaveProfile(ctx, &p); err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/user/" + string(p.Username),
		Response:   p,
	}, nil
}

func (a *API) updateProfile(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	var p models.Profile
	if err := decodeBody(r, &p); err != nil {
		return nil, err
	}
	p.Username = types.Username(chi.URLParam(r, "username"))
	if err := a.catalog.SaveProfile(ctx, &p); err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: p}, nil
}

func (a *API) deleteProfile(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	username := types.Username(chi.URLParam(r, "username"))
	if err := a.catalog.DeleteProfile(ctx, username); err != nil {
		return nil, err
	}
	return nil, nil
}

// membershipReq names the organisation nexus a membership call targets.
type membershipReq struct {
	Organisation types.Slug       `json:"organisation"`
	Role         models.NexusRole `json:"role"`
}

func (req *membershipReq) validate() error {
	if req.Organisation == "" {
		return httpx.ErrInvalidRequest("organisation is required")
	}
	switch req.Role {
	case models.NexusContributor, models.NexusReferent:
		return nil
	}
	return httpx.ErrInvalidRequest("unknown role")
}

func (a *API) requestMembership(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	username := types.Username(chi.URLParam(r, "username"))
	var req membershipReq
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := a.catalog.RequestMembership(ctx, username, req.Organisation, req.Role); err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusCreated}, nil
}

func (a *API) confirmMembership(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	username := types.Username(chi.URLParam(r, "username"))
	var req membershipReq
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := a.catalog.ConfirmMembership(ctx, username, req.Organisation, req.Role); err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK}, nil
}

func (a *API) revokeMembership(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	username := types.Username(chi.URLParam(r, "username"))
	var req membershipReq
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := a.catalog.RevokeMembership(ctx, username, req.Organisation, req.Role); err != nil {
		return nil, err
	}
	return nil, nil
}
