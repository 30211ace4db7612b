package apis

import (
	"net/http"

	"github.com/terrado/geosyncsrv/pkg/httpx"
)

// Reference-table listings, public.

func (a *API) listLicenses(r *http.Request) (*httpx.Response, error) {
	list, err := a.store.ListLicenses(r.Context())
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: list}, nil
}

func (a *API) listCategories(r *http.Request) (*httpx.Response, error) {
	list, err := a.store.ListCategories(r.Context())
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: list}, nil
}

func (a *API) listResourceFormats(r *http.Request) (*httpx.Response, error) {
	list, err := a.store.ListResourceFormats(r.Context())
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: list}, nil
}

func (a *API) listSupportedCrs(r *http.Request) (*httpx.Response, error) {
	list, err := a.store.ListSupportedCrs(r.Context())
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: list}, nil
}
