// Package common holds the request context plumbing shared by the REST
// surface and the managers.
package common

import (
	"context"

	"github.com/terrado/geosyncsrv/pkg/types"
)

// Actor is the authenticated identity a mutation runs as. Handlers resolve it
// from the session gateway; background work (harvests, refreshes) runs as the
// configured harvest user.
type Actor struct {
	Username types.Username
	// Organisation is the actor's home organisation slug, empty when none.
	Organisation types.Slug
	IsAdmin      bool
	// ReferentOf and ContributorOf carry the validated nexus rows only.
	ReferentOf    []types.Slug
	ContributorOf []types.Slug
}

// IsReferentOf reports whether the actor is a confirmed referent of the
// organisation.
func (a Actor) IsReferentOf(org types.Slug) bool {
	for _, o := range a.ReferentOf {
		if o == org {
			return true
		}
	}
	return false
}

func (a Actor) IsContributorOf(org types.Slug) bool {
	for _, o := range a.ContributorOf {
		if o == org {
			return true
		}
	}
	return false
}

type ctxActorKeyType string

const ctxActorKey ctxActorKeyType = "GeoSyncActor"

func SetActorInContext(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, ctxActorKey, actor)
}

func ActorFromContext(ctx context.Context) Actor {
	if actor, ok := ctx.Value(ctxActorKey).(Actor); ok {
		return actor
	}
	return Actor{}
}

type ctxRequestIdKeyType string

const ctxRequestIdKey ctxRequestIdKeyType = "GeoSyncRequestId"

func SetRequestIdInContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxRequestIdKey, id)
}

func RequestIdFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxRequestIdKey).(string); ok {
		return id
	}
	return ""
}
