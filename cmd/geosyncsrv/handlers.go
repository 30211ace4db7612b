package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/terrado/geosyncsrv/internal/adapters/remote"
	"github.com/terrado/geosyncsrv/internal/catalogmanager"
	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/harvester"
	"github.com/terrado/geosyncsrv/internal/tasks"
	"github.com/terrado/geosyncsrv/pkg/apperrors"
)

var errBadTask = apperrors.New("malformed task payload")

func harvestHandler(h *harvester.Harvester) tasks.Handler {
	return func(ctx context.Context, p tasks.Payload) error {
		if p.Source == uuid.Nil {
			return errBadTask.Msg("harvest task without a source")
		}
		_, err := h.Run(ctx, p.Source)
		return err
	}
}

// resourceSyncHandler re-downloads a downloaded-URL resource and replays the
// save, re-running ingestion when the resource is a GIS format.
func resourceSyncHandler(store db.CatalogDb, catalog *catalogmanager.Manager,
	storageRoot string, timeout time.Duration) tasks.Handler {
	return func(ctx context.Context, p tasks.Payload) error {
		if p.Resource == uuid.Nil {
			return errBadTask.Msg("resource sync task without a resource")
		}
		res, err := store.GetResource(ctx, p.Resource)
		if err != nil {
			return err
		}
		if res.DownloadedURL == "" {
			// The synchronization flag only makes sense on downloaded
			// sources; stale flags are not an error.
			return nil
		}
		localPath, err := fetchToStaging(ctx, res.DownloadedURL, res.CkanID, storageRoot, timeout)
		if err != nil {
			return err
		}
		return catalog.SaveResource(ctx, res, localPath)
	}
}

func fetchToStaging(ctx context.Context, rawURL string, id uuid.UUID,
	storageRoot string, timeout time.Duration) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errBadTask.Msg("malformed source url").Err(err)
	}
	client := remote.NewClient("resource-sync", u.Scheme+"://"+u.Host, timeout, remote.NoAuth())
	rsp, err := client.Do(ctx, http.MethodGet, u.RequestURI(), nil, "")
	if err != nil {
		return "", err
	}

	dir := filepath.Join(storageRoot, id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	name := filepath.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		name = "download"
	}
	dst := filepath.Join(dir, name)
	if err := os.WriteFile(dst, rsp.Body, 0o644); err != nil {
		return "", err
	}
	return dst, nil
}
