package harvester

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/adapters/csw"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// CswFetcher pulls metadata records with the source's stored GetRecords
// request, paging until the catalog is exhausted.
type CswFetcher struct {
	timeout time.Duration
}

func NewCswFetcher(timeout time.Duration) *CswFetcher {
	return &CswFetcher{timeout: timeout}
}

func (f *CswFetcher) Fetch(ctx context.Context, src *models.RemoteSource) ([]Record, error) {
	client := csw.New(src.URL, "", "", f.timeout)
	records, err := client.GetPackages(ctx, src.GetRecords)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		r := cswRecord(rec)
		// The summary listing has no ISO body; one GetRecordById per record
		// fills it in. A record without it still harvests, it just is not
		// mirrored into the platform metadata catalog.
		if iso, err := client.GetRecord(ctx, rec.Identifier); err == nil {
			r.Metadata = iso
		} else {
			log.Ctx(ctx).Debug().Err(err).Str("remote_id", rec.Identifier).
				Msg("harvest: full metadata record not retrieved")
		}
		out = append(out, r)
	}
	return out, nil
}

func cswRecord(rec csw.Record) Record {
	r := Record{
		Identifier:  rec.Identifier,
		Title:       rec.Title,
		Description: rec.Abstract,
		Keywords:    rec.Keywords,
		// ISO keywords double as category candidates; unmatched ones are
		// dropped during resolution.
		Categories: rec.Keywords,
		Frequency:  types.FrequencyUnknown,
	}
	for _, ref := range rec.References {
		if ref.URL == "" {
			continue
		}
		r.Resources = append(r.Resources, RecordResource{
			URL:      ref.URL,
			Protocol: ref.Protocol,
			Format:   formatFromProtocol(ref.Protocol),
		})
	}
	return r
}

// formatFromProtocol maps the common OGC and download protocol identifiers
// to an extension hint.
func formatFromProtocol(protocol string) string {
	p := strings.ToUpper(protocol)
	switch {
	case strings.Contains(p, "WMS"):
		return "wms"
	case strings.Contains(p, "WFS"):
		return "wfs"
	case strings.Contains(p, "DOWNLOAD"):
		return "zip"
	default:
		return ""
	}
}
