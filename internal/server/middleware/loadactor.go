package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/terrado/geosyncsrv/internal/common"
	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/httpx"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// ActorHeader is set by the session gateway in front of the service.
const ActorHeader = "X-Remote-User"

type profileSource interface {
	GetProfile(ctx context.Context, username types.Username) (*models.Profile, error)
	NexusesForProfile(ctx context.Context, username types.Username) ([]models.Nexus, error)
}

// LoadActor resolves the gateway's user header into the request actor.
// Anonymous reads pass through with an empty actor; anonymous mutations are
// rejected here because an empty username downstream means trusted
// background work.
func LoadActor(store profileSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			username := types.Username(r.Header.Get(ActorHeader))
			if username == "" {
				switch r.Method {
				case http.MethodGet, http.MethodHead, http.MethodOptions:
					next.ServeHTTP(w, r)
				default:
					httpx.ErrUnauthorized().Send(w)
				}
				return
			}

			p, err := store.GetProfile(ctx, username)
			if errors.Is(err, dberror.ErrNotFound) {
				httpx.ErrUnauthorized().Send(w)
				return
			}
			if err != nil {
				(&httpx.Error{
					StatusCode:  http.StatusInternalServerError,
					Description: "profile lookup failed",
				}).Send(w)
				return
			}
			if !p.IsActive {
				httpx.ErrUnauthorized().Send(w)
				return
			}

			actor := common.Actor{
				Username:     p.Username,
				Organisation: p.Organisation,
				IsAdmin:      p.IsAdmin,
			}
			nexuses, err := store.NexusesForProfile(ctx, username)
			if err != nil {
				(&httpx.Error{
					StatusCode:  http.StatusInternalServerError,
					Description: "profile lookup failed",
				}).Send(w)
				return
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
			next.ServeHTTP(w, r.WithContext(common.SetActorInContext(ctx, actor)))
		})
	}
}
