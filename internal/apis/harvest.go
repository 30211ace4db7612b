package apis

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/internal/catalogmanager"
	"github.com/terrado/geosyncsrv/internal/common"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/internal/tasks"
	"github.com/terrado/geosyncsrv/pkg/httpx"
	"github.com/terrado/geosyncsrv/pkg/types"
)

func requireAdmin(r *http.Request) error {
	if !common.ActorFromContext(r.Context()).IsAdmin {
		return catalogmanager.ErrPermission
	}
	return nil
}

func (a *API) listRemoteSources(r *http.Request) (*httpx.Response, error) {
	if err := requireAdmin(r); err != nil {
		return nil, err
	}
	sources, err := a.store.ListRemoteSources(r.Context())
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: sources}, nil
}

func (a *API) saveRemoteSource(r *http.Request) (*httpx.Response, error) {
	if err := requireAdmin(r); err != nil {
		return nil, err
	}
	var src models.RemoteSource
	if err := decodeBody(r, &src); err != nil {
		return nil, err
	}
	if src.URL == "" || src.Organisation == "" {
		return nil, httpx.ErrInvalidRequest("url and organisation are required")
	}
	switch src.Kind {
	case types.RemoteCkan, types.RemoteCsw, types.RemoteDcat:
	default:
		return nil, httpx.ErrInvalidRequest("unknown source kind")
	}
	created := src.ID == uuid.Nil
	if created {
		src.ID = uuid.New()
	}
	if err := a.store.UpsertRemoteSource(r.Context(), &src); err != nil {
		return nil, err
	}
	if created {
		return &httpx.Response{
			StatusCode: http.StatusCreated,
			Location:   "/remote-source/" + src.ID.String(),
			Response:   src,
		}, nil
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: src}, nil
}

func (a *API) deleteRemoteSource(r *http.Request) (*httpx.Response, error) {
	if err := requireAdmin(r); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, httpx.ErrInvalidRequest("malformed source id")
	}
	if err := a.store.DeleteRemoteSource(r.Context(), id); err != nil {
		return nil, asNotFound(err)
	}
	return nil, nil
}

// triggerHarvest enqueues an out-of-calendar harvest cycle.
func (a *API) triggerHarvest(r *http.Request) (*httpx.Response, error) {
	if err := requireAdmin(r); err != nil {
		return nil, err
	}
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, httpx.ErrInvalidRequest("malformed source id")
	}
	if _, err := a.store.GetRemoteSourceByID(ctx, id); err != nil {
		return nil, asNotFound(err)
	}
	taskID, err := a.queue.Enqueue(ctx, tasks.ActionHarvest, tasks.Payload{Source: id})
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusAccepted,
		Response:   map[string]string{"task": taskID.String()},
	}, nil
}
