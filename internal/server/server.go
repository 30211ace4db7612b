// Package server assembles the chi router: middleware chain, REST routes,
// metrics and health endpoints.
package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/apis"
	"github.com/terrado/geosyncsrv/internal/config"
	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/server/middleware"
	"github.com/terrado/geosyncsrv/pkg/httpx"
)

const serverVersion = "geosyncsrv 1.0.0"

type GeoSyncServer struct {
	Router *chi.Mux
	api    *apis.API
	store  db.CatalogDb
}

func CreateNewServer(store db.CatalogDb, api *apis.API) *GeoSyncServer {
	return &GeoSyncServer{
		Router: chi.NewRouter(),
		api:    api,
		store:  store,
	}
}

func (s *GeoSyncServer) MountHandlers() {
	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.RequestLogger)
	s.Router.Use(middleware.Metrics)
	if config.Config().Server.HandleCORS {
		s.Router.Use(s.HandleCORS)
	}

	s.Router.Get("/version", s.getVersion)
	s.Router.Get("/healthz", s.getHealth)
	s.Router.Handle("/metrics", promhttp.Handler())

	s.Router.Group(func(r chi.Router) {
		r.Use(middleware.LoadActor(s.store))
		s.api.Router(r)
	})

	if log.Trace().Enabled() {
		walkFunc := func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			fmt.Printf("%s %s\n", method, route)
			return nil
		}
		if err := chi.Walk(s.Router, walkFunc); err != nil {
			log.Error().Err(err).Msg("route walk failed")
		}
	}
}

func (s *GeoSyncServer) getVersion(w http.ResponseWriter, r *http.Request) {
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, map[string]string{
		"server_version": serverVersion,
	})
}

func (s *GeoSyncServer) getHealth(w http.ResponseWriter, r *http.Request) {
	httpx.SendJsonRsp(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *GeoSyncServer) HandleCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Remote-User")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
