package models

import (
	"strconv"

	"github.com/terrado/geosyncsrv/pkg/types"
)

// Reference tables. These change by curation, not by synchronization.

type License struct {
	Slug            types.Slug `db:"slug"`
	Title           string     `db:"title"`
	AlternateTitles []string   `db:"alternate_titles"`
	AlternateURLs   []string   `db:"alternate_urls"`
	ODConformance   string     `db:"od_conformance"`
	OSDConformance  string     `db:"osd_conformance"`
	Maintainer      string     `db:"maintainer"`
	URL             string     `db:"url"`
}

type Category struct {
	Slug            types.Slug `db:"slug"`
	Name            string     `db:"name"`
	ISOTopic        string     `db:"iso_topic"`
	AlternateTitles []string   `db:"alternate_titles"`
	CkanID          string     `db:"ckan_id"` // group id in the data catalog
}

// ResourceFormat describes one accepted resource format: its extension, the
// MIME types and protocols it travels as, the data-catalog view to attach,
// and whether the ingestion pipeline applies.
type ResourceFormat struct {
	Slug      types.Slug `db:"slug"`
	Extension string     `db:"extension"`
	MimeTypes []string   `db:"mimetypes"`
	Protocol  string     `db:"protocol"`
	CkanView  string     `db:"ckan_view"` // recline_view, text_view, geo_view, pdf_view or empty
	IsGis     bool       `db:"is_gis"`
}

type SupportedCrs struct {
	Authority   string `db:"authority"`
	Code        int    `db:"code"`
	Description string `db:"description"`
	// Proj4Regex matches proj.4 strings during last-resort SRS resolution.
	Proj4Regex string `db:"proj4_regex"`
}

func (c SupportedCrs) String() string {
	return c.Authority + ":" + strconv.Itoa(c.Code)
}

type Jurisdiction struct {
	Code     string   `db:"code"`
	Name     string   `db:"name"`
	Communes []string `db:"communes"` // INSEE codes
}

type Commune struct {
	INSEE string `db:"insee"`
	Name  string `db:"name"`
}

type ExtractorSupportedFormat struct {
	Slug types.Slug      `db:"slug"`
	Name string          `db:"name"`
	Type types.LayerType `db:"type"`
}

type BaseMap struct {
	Slug types.Slug `db:"slug"`
	Name string     `db:"name"`
	URL  string     `db:"url"`
}
