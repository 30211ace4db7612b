package apis

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/internal/catalogmanager"
	"github.com/terrado/geosyncsrv/internal/common"
	"github.com/terrado/geosyncsrv/pkg/httpx"
)

// downloadResource streams an uploaded resource or redirects to its source
// URL. Raw handler: the body is a file, not JSON.
func (a *API) downloadResource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		httpx.ErrInvalidRequest("malformed resource id").Send(w)
		return
	}
	res, err := a.store.GetResource(ctx, id)
	if err != nil {
		httpx.ErrNotFound().Send(w)
		return
	}

	// The in-context actor has already passed the activity check in the
	// actor-loading middleware.
	actor := common.ActorFromContext(ctx)
	var ap *common.Actor
	active := false
	if actor.Username != "" {
		ap, active = &actor, true
	}
	if !catalogmanager.IsProfileAuthorized(ap, active, res) {
		(&httpx.Error{StatusCode: http.StatusForbidden, Description: "access denied"}).Send(w)
		return
	}

	switch {
	case res.UploadedPath != "":
		http.ServeFile(w, r, res.UploadedPath)
	case res.SourceValue() != "":
		http.Redirect(w, r, res.SourceValue(), http.StatusFound)
	default:
		httpx.ErrNotFound().Send(w)
	}
}
