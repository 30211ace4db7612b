package apis

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/terrado/geosyncsrv/pkg/httpx"
)

type handlerParam struct {
	Method  string
	Path    string
	Handler httpx.RequestHandler
}

func (a *API) handlers() []handlerParam {
	return []handlerParam{
		// Profiles and memberships
		{Method: http.MethodGet, Path: "/user", Handler: a.listProfiles},
		{Method: http.MethodPost, Path: "/user", Handler: a.createProfile},
		{Method: http.MethodGet, Path: "/user/{username}", Handler: a.getProfile},
		{Method: http.MethodPut, Path: "/user/{username}", Handler: a.updateProfile},
		{Method: http.MethodDelete, Path: "/user/{username}", Handler: a.deleteProfile},
		{Method: http.MethodPost, Path: "/user/{username}/membership", Handler: a.requestMembership},
		{Method: http.MethodPut, Path: "/user/{username}/membership", Handler: a.confirmMembership},
		{Method: http.MethodDelete, Path: "/user/{username}/membership", Handler: a.revokeMembership},

		// Organisations
		{Method: http.MethodGet, Path: "/organisation", Handler: a.listOrganisations},
		{Method: http.MethodPost, Path: "/organisation", Handler: a.createOrganisation},
		{Method: http.MethodGet, Path: "/organisation/{slug}", Handler: a.getOrganisation},
		{Method: http.MethodPut, Path: "/organisation/{slug}", Handler: a.updateOrganisation},
		{Method: http.MethodDelete, Path: "/organisation/{slug}", Handler: a.deleteOrganisation},

		// Datasets
		{Method: http.MethodGet, Path: "/dataset", Handler: a.listDatasets},
		{Method: http.MethodPost, Path: "/dataset", Handler: a.createDataset},
		{Method: http.MethodGet, Path: "/dataset/{slug}", Handler: a.getDataset},
		{Method: http.MethodPut, Path: "/dataset/{slug}", Handler: a.updateDataset},
		{Method: http.MethodDelete, Path: "/dataset/{slug}", Handler: a.deleteDataset},
		{Method: http.MethodPut, Path: "/dataset/{slug}/publish", Handler: a.publishDataset},

		// Resources and layers
		{Method: http.MethodGet, Path: "/dataset/{slug}/resource", Handler: a.listResources},
		{Method: http.MethodPost, Path: "/dataset/{slug}/resource", Handler: a.createResource},
		{Method: http.MethodGet, Path: "/dataset/{slug}/resource/{uuid}", Handler: a.getResource},
		{Method: http.MethodPut, Path: "/dataset/{slug}/resource/{uuid}", Handler: a.updateResource},
		{Method: http.MethodDelete, Path: "/dataset/{slug}/resource/{uuid}", Handler: a.deleteResource},
		{Method: http.MethodGet, Path: "/dataset/{slug}/resource/{uuid}/layer", Handler: a.listResourceLayers},
		{Method: http.MethodGet, Path: "/layer/{name}/style", Handler: a.getLayerStyle},
		{Method: http.MethodPut, Path: "/layer/{name}/style", Handler: a.putLayerStyle},

		// Access control
		{Method: http.MethodGet, Path: "/resource-access", Handler: a.checkResourceAccess},

		// Harvest sources
		{Method: http.MethodGet, Path: "/remote-source", Handler: a.listRemoteSources},
		{Method: http.MethodPut, Path: "/remote-source", Handler: a.saveRemoteSource},
		{Method: http.MethodDelete, Path: "/remote-source/{id}", Handler: a.deleteRemoteSource},
		{Method: http.MethodPost, Path: "/remote-source/{id}/harvest", Handler: a.triggerHarvest},

		// Tasks and extractions
		{Method: http.MethodGet, Path: "/task", Handler: a.listTasks},
		{Method: http.MethodGet, Path: "/task/{uuid}", Handler: a.getTask},
		{Method: http.MethodPost, Path: "/extraction", Handler: a.submitExtraction},
		{Method: http.MethodGet, Path: "/extraction", Handler: a.listExtractions},
		{Method: http.MethodGet, Path: "/extraction/{uuid}", Handler: a.getExtraction},
		{Method: http.MethodPut, Path: "/extraction/{uuid}/abort", Handler: a.abortExtraction},

		// Reference tables
		{Method: http.MethodGet, Path: "/license", Handler: a.listLicenses},
		{Method: http.MethodGet, Path: "/category", Handler: a.listCategories},
		{Method: http.MethodGet, Path: "/resource-format", Handler: a.listResourceFormats},
		{Method: http.MethodGet, Path: "/supported-crs", Handler: a.listSupportedCrs},
	}
}

func (a *API) Router(r chi.Router) {
	for _, h := range a.handlers() {
		r.Method(h.Method, h.Path, httpx.WrapHttpRsp(h.Handler))
	}
	// File download bypasses the JSON wrapper.
	r.Get("/dataset/{slug}/resource/{uuid}/download", a.downloadResource)
}
