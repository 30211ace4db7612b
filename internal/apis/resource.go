package apis

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/httpx"
	"github.com/terrado/geosyncsrv/pkg/types"
)

const maxUploadMemory = 32 << 20

func (a *API) listResources(r *http.Request) (*httpx.Response, error) {
	slug := types.Slug(chi.URLParam(r, "slug"))
	if _, err := a.store.GetDataset(r.Context(), slug); err != nil {
		return nil, asNotFound(err)
	}
	resources, err := a.store.ListResources(r.Context(), slug)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: resources}, nil
}

func (a *API) getResource(r *http.Request) (*httpx.Response, error) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		return nil, httpx.ErrInvalidRequest("malformed resource id")
	}
	res, err := a.store.GetResource(r.Context(), id)
	if err != nil {
		return nil, asNotFound(err)
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: res}, nil
}

func (a *API) createResource(r *http.Request) (*httpx.Response, error) {
	return a.saveResource(r, uuid.Nil)
}

func (a *API) updateResource(r *http.Request) (*httpx.Response, error) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		return nil, httpx.ErrInvalidRequest("malformed resource id")
	}
	return a.saveResource(r, id)
}

// saveResource decodes a resource save. A multipart body carries the
// metadata in a "resource" part and the archive in a "file" part; the file
// is staged under the storage root before the manager runs.
func (a *API) saveResource(r *http.Request, id uuid.UUID) (*httpx.Response, error) {
	ctx := r.Context()
	slug := types.Slug(chi.URLParam(r, "slug"))

	var res models.Resource
	localPath := ""

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			return nil, httpx.ErrInvalidRequest("malformed multipart body")
		}
		meta := r.FormValue("resource")
		if meta == "" {
			return nil, httpx.ErrInvalidRequest("missing resource part")
		}
		if err := json.Unmarshal([]byte(meta), &res); err != nil {
			return nil, httpx.ErrInvalidRequest("malformed resource part")
		}
		res.CkanID = id
		if res.CkanID == uuid.Nil {
			res.CkanID = uuid.New()
		}
		staged, err := a.stageUpload(r, res.CkanID)
		if err != nil {
			return nil, err
		}
		if staged != "" {
			localPath = staged
			res.SourceKind = types.SourceUploaded
			res.UploadedPath = staged
		}
	} else {
		if err := decodeBody(r, &res); err != nil {
			return nil, err
		}
		res.CkanID = id
	}

	res.Dataset = slug
	created := id == uuid.Nil
	if err := a.catalog.SaveResource(ctx, &res, localPath); err != nil {
		return nil, err
	}
	if created {
		return &httpx.Response{
			StatusCode: http.StatusCreated,
			Location:   "/dataset/" + string(slug) + "/resource/" + res.CkanID.String(),
			Response:   res,
		}, nil
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: res}, nil
}

// stageUpload copies the "file" part under <storageRoot>/<resource id>/.
// Returns "" when the request carries no file.
func (a *API) stageUpload(r *http.Request, id uuid.UUID) (string, error) {
	file, header, err := r.FormFile("file")
	if err == http.ErrMissingFile {
		return "", nil
	}
	if err != nil {
		return "", httpx.ErrInvalidRequest("malformed file part")
	}
	defer file.Close()

	dir := filepath.Join(a.storageRoot, id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := filepath.Base(header.Filename)
	if name == "" || name == "." {
		name = "upload"
	}
	dst := filepath.Join(dir, name)
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		os.Remove(dst)
		return "", err
	}
	return dst, nil
}

func (a *API) deleteResource(r *http.Request) (*httpx.Response, error) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		return nil, httpx.ErrInvalidRequest("malformed resource id")
	}
	if err := a.catalog.DeleteResource(r.Context(), id); err != nil {
		return nil, err
	}
	// The staging directory goes with the resource.
	os.RemoveAll(filepath.Join(a.storageRoot, id.String()))
	return nil, nil
}

func (a *API) listResourceLayers(r *http.Request) (*httpx.Response, error) {
	id, err := uuid.Parse(chi.URLParam(r, "uuid"))
	if err != nil {
		return nil, httpx.ErrInvalidRequest("malformed resource id")
	}
	layers, err := a.store.ListLayersByResource(r.Context(), id)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: layers}, nil
}
