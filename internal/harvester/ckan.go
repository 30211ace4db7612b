package harvester

import (
	"context"
	"time"

	"github.com/terrado/geosyncsrv/internal/adapters/ckan"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// CkanFetcher pulls the packages of the remote organisations listed in
// sync_with, one action-API call per organisation.
type CkanFetcher struct {
	timeout time.Duration
}

func NewCkanFetcher(timeout time.Duration) *CkanFetcher {
	return &CkanFetcher{timeout: timeout}
}

func (f *CkanFetcher) Fetch(ctx context.Context, src *models.RemoteSource) ([]Record, error) {
	client := ckan.NewManager(src.URL, "", f.timeout)
	var out []Record
	for _, org := range src.SyncWith {
		records, err := client.ListOrganisationRecords(ctx, org)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if rec.State != "" && rec.State != "active" {
				continue
			}
			out = append(out, ckanRecord(org, rec))
		}
	}
	return out, nil
}

func ckanRecord(org string, rec ckan.Record) Record {
	license := rec.LicenseID
	if license == "" {
		license = rec.LicenseTitle
	}
	r := Record{
		Identifier:  rec.ID,
		RemoteOrg:   org,
		Title:       rec.Title,
		Description: rec.Notes,
		Keywords:    rec.Tags,
		Categories:  rec.Groups,
		License:     license,
		Frequency:   types.ParseUpdateFrequency(rec.Frequency),
	}
	for _, res := range rec.Resources {
		r.Resources = append(r.Resources, RecordResource{
			Name:     res.Name,
			URL:      res.URL,
			Format:   res.Format,
			Mimetype: res.Mimetype,
		})
	}
	return r
}
