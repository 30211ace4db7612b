package harvester

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"

	"github.com/terrado/geosyncsrv/internal/adapters/remote"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// dcatSchema is the shape a feed must satisfy before parsing: a dataset
// array whose entries carry at least an identifier and a title. Everything
// else is optional and read leniently.
const dcatSchema = `{
	"type": "object",
	"required": ["dataset"],
	"properties": {
		"dataset": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["identifier", "title"],
				"properties": {
					"identifier": {"type": "string", "minLength": 1},
					"title": {"type": "string", "minLength": 1},
					"description": {"type": "string"},
					"keyword": {"type": "array", "items": {"type": "string"}},
					"theme": {"type": "array", "items": {"type": "string"}},
					"license": {"type": "string"},
					"accrualPeriodicity": {"type": "string"},
					"distribution": {"type": "array"}
				}
			}
		}
	}
}`

// DcatFetcher pulls a DCAT feed (data.json style), validates it against the
// minimal schema and keeps the publishers listed in sync_with.
type DcatFetcher struct {
	timeout time.Duration
	schema  *gojsonschema.Schema
}

func NewDcatFetcher(timeout time.Duration) (*DcatFetcher, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(dcatSchema))
	if err != nil {
		return nil, err
	}
	return &DcatFetcher{timeout: timeout, schema: schema}, nil
}

func (f *DcatFetcher) Fetch(ctx context.Context, src *models.RemoteSource) ([]Record, error) {
	client := remote.NewClient("dcat", src.URL, f.timeout, remote.NoAuth())
	rsp, err := client.Do(ctx, http.MethodGet, "", nil, "")
	if err != nil {
		return nil, err
	}

	result, err := f.schema.Validate(gojsonschema.NewBytesLoader(rsp.Body))
	if err != nil {
		return nil, fmt.Errorf("dcat feed is not JSON: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("dcat feed rejected: %s", result.Errors()[0].String())
	}

	wanted := map[string]bool{}
	for _, org := range src.SyncWith {
		wanted[org] = true
	}

	var out []Record
	gjson.GetBytes(rsp.Body, "dataset").ForEach(func(_, ds gjson.Result) bool {
		publisher := ds.Get("publisher.name").String()
		if len(wanted) > 0 && !wanted[publisher] {
			return true
		}
		out = append(out, dcatRecord(ds, publisher))
		return true
	})
	return out, nil
}

func dcatRecord(ds gjson.Result, publisher string) Record {
	r := Record{
		Identifier:  ds.Get("identifier").String(),
		RemoteOrg:   publisher,
		Title:       ds.Get("title").String(),
		Description: ds.Get("description").String(),
		License:     ds.Get("license").String(),
		Frequency:   types.ParseUpdateFrequency(ds.Get("accrualPeriodicity").String()),
	}
	ds.Get("keyword").ForEach(func(_, kw gjson.Result) bool {
		r.Keywords = append(r.Keywords, kw.String())
		return true
	})
	ds.Get("theme").ForEach(func(_, th gjson.Result) bool {
		r.Categories = append(r.Categories, th.String())
		return true
	})
	ds.Get("distribution").ForEach(func(_, dist gjson.Result) bool {
		url := dist.Get("downloadURL").String()
		if url == "" {
			url = dist.Get("accessURL").String()
		}
		if url == "" {
			return true
		}
		r.Resources = append(r.Resources, RecordResource{
			Name:     dist.Get("title").String(),
			URL:      url,
			Format:   dist.Get("format").String(),
			Mimetype: dist.Get("mediaType").String(),
		})
		return true
	})
	return r
}
