package apis

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/internal/common"
	"github.com/terrado/geosyncsrv/pkg/httpx"
	"github.com/terrado/geosyncsrv/pkg/types"
)

func (a *API) listTasks(r *http.Request) (*httpx.Response, error) {
	if err := requireAdmin(r); err != nil {
		return nil, err
	}
	state := types.TaskState(r.URL.Query().Get("state"))
	list, err := a.store.ListTasks(r.Context(), state)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: list}, nil
}

func (a *API) getTask(r *http.Request) (*httpx.Response, error) {
	if err := requireAdmin(r); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		return nil, httpx.ErrInvalidRequest("malformed task id")
	}
	t, err := a.store.GetTask(r.Context(), id)
	if err != nil {
		return nil, asNotFound(err)
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: t}, nil
}

// extractionReq is an extraction job submission.
type extractionReq struct {
	TargetModel string          `json:"target_model"`
	TargetID    string          `json:"target_id"`
	Query       json.RawMessage `json:"query"`
}

func (a *API) submitExtraction(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	actor := common.ActorFromContext(ctx)
	if actor.Username == "" {
		return nil, httpx.ErrUnauthorized()
	}
	var req extractionReq
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}
	if len(req.Query) == 0 {
		return nil, httpx.ErrInvalidRequest("query is required")
	}
	t, err := a.extractor.Submit(ctx, actor.Username, req.TargetModel, req.TargetID, req.Query)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{
		StatusCode: http.StatusCreated,
		Location:   "/extraction/" + t.UUID.String(),
		Response:   t,
	}, nil
}

// listExtractions returns the actor's own jobs; admins may pass ?user= to
// inspect another account, or nothing to list everything.
func (a *API) listExtractions(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	actor := common.ActorFromContext(ctx)
	username := actor.Username
	if actor.IsAdmin {
		username = types.Username(r.URL.Query().Get("user"))
	} else if username == "" {
		return nil, httpx.ErrUnauthorized()
	}
	list, err := a.store.ListExtractorTasks(ctx, username)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: list}, nil
}

func (a *API) getExtraction(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		return nil, httpx.ErrInvalidRequest("malformed job id")
	}
	t, err := a.store.GetExtractorTask(ctx, id)
	if err != nil {
		return nil, asNotFound(err)
	}
	actor := common.ActorFromContext(ctx)
	if !actor.IsAdmin && actor.Username != t.Username {
		return nil, httpx.ErrNotFound()
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: t}, nil
}

func (a *API) abortExtraction(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		return nil, httpx.ErrInvalidRequest("malformed job id")
	}
	t, err := a.store.GetExtractorTask(ctx, id)
	if err != nil {
		return nil, asNotFound(err)
	}
	actor := common.ActorFromContext(ctx)
	if !actor.IsAdmin && actor.Username != t.Username {
		return nil, httpx.ErrNotFound()
	}
	if err := a.extractor.Abort(ctx, id); err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK}, nil
}
