package apis

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/httpx"
	"github.com/terrado/geosyncsrv/pkg/types"
)

func (a *API) listOrganisations(r *http.Request) (*httpx.Response, error) {
	orgs, err := a.store.ListOrganisations(r.Context())
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: orgs}, nil
}

func (a *API) getOrganisation(r *http.Request) (*httpx.Response, error) {
	slug := types.Slug(chi.URLParam(r, "slug"))
	org, err := a.store.GetOrganisation(r.Context(), slug)
	if err != nil {
		return nil, asNotFound(err)
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: org}, nil
}

func (a *API) createOrganisation(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	var org models.Organisation
	if err := decodeBody(r, &org); err != nil {
		return nil, err
	}
	// The slug is derived from the legal name on first save.
	org.Slug = ""
	if err := a.catalog.SaveOrganisation(ctx, &org); err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/organisation/" + string(org.Slug),
		Response:   org,
	}, nil
}

func (a *API) updateOrganisation(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	var org models.Organisation
	if err := decodeBody(r, &org); err != nil {
		return nil, err
	}
	org.Slug = types.Slug(chi.URLParam(r, "slug"))
	if err := a.catalog.SaveOrganisation(ctx, &org); err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: org}, nil
}

func (a *API) deleteOrganisation(r *http.Request) (*httpx.Response, error) {
	slug := types.Slug(chi.URLParam(r, "slug"))
	if err := a.catalog.DeleteOrganisation(r.Context(), slug); err != nil {
		return nil, err
	}
	return nil, nil
}
