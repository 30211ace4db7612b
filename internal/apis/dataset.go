package apis

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/httpx"
	"github.com/terrado/geosyncsrv/pkg/types"
)

func (a *API) listDatasets(r *http.Request) (*httpx.Response, error) {
	q := r.URL.Query()
	filter := db.DatasetFilter{
		Organisation: types.Slug(q.Get("organisation")),
		Editor:       types.Username(q.Get("editor")),
	}
	switch q.Get("harvested") {
	case "true":
		t := true
		filter.Harvested = &t
	case "false":
		f := false
		filter.Harvested = &f
	}
	datasets, err := a.store.ListDatasets(r.Context(), filter)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: datasets}, nil
}

// datasetRsp decorates a dataset read with data-catalog view counts.
type datasetRsp struct {
	*models.Dataset
	ViewsTotal  int64 `json:"views_total"`
	ViewsRecent int64 `json:"views_recent"`
}

func (a *API) getDataset(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	slug := types.Slug(chi.URLParam(r, "slug"))
	d, err := a.store.GetDataset(ctx, slug)
	if err != nil {
		return nil, asNotFound(err)
	}
	rsp := datasetRsp{Dataset: d}
	if a.tracking != nil {
		total, recent, err := a.tracking.TrackingSummary(ctx, d.CkanID.String())
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("dataset", string(slug)).
				Msg("tracking summary unavailable")
		} else {
			rsp.ViewsTotal, rsp.ViewsRecent = total, recent
		}
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: rsp}, nil
}

func (a *API) createDataset(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	var d models.Dataset
	if err := decodeBody(r, &d); err != nil {
		return nil, err
	}
	d.Slug = ""
	if err := a.catalog.SaveDataset(ctx, &d); err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/dataset/" + string(d.Slug),
		Response:   d,
	}, nil
}

func (a *API) updateDataset(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	var d models.Dataset
	if err := decodeBody(r, &d); err != nil {
		return nil, err
	}
	d.Slug = types.Slug(chi.URLParam(r, "slug"))
	if err := a.catalog.SaveDataset(ctx, &d); err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: d}, nil
}

func (a *API) publishDataset(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	slug := types.Slug(chi.URLParam(r, "slug"))
	var req struct {
		Published bool `json:"published"`
	}
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if err := a.catalog.SetDatasetPublished(ctx, slug, req.Published); err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK}, nil
}

func (a *API) deleteDataset(r *http.Request) (*httpx.Response, error) {
	slug := types.Slug(chi.URLParam(r, "slug"))
	if err := a.catalog.DeleteDataset(r.Context(), slug); err != nil {
		return nil, err
	}
	return nil, nil
}
