package harvester

import (
	"strings"

	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// Record is a remote dataset normalized across protocols, the unit of one
// harvest upsert.
type Record struct {
	Identifier  string
	RemoteOrg   string
	Title       string
	Description string
	Keywords    []string
	// Categories and License carry the remote vocabulary; resolution to
	// local slugs happens against the reference tables.
	Categories []string
	License    string
	Frequency  types.UpdateFrequency
	Resources  []RecordResource
	// Metadata is the raw ISO 19139 document when the protocol carries one,
	// mirrored into the platform metadata catalog.
	Metadata string
}

// RecordResource is one distribution of a remote record. Protocol and
// Mimetype form the identity of a resource across harvest cycles.
type RecordResource struct {
	Name     string
	URL      string
	Format   string
	Mimetype string
	Protocol string
}

// resolver holds the per-cycle resolution tables, loaded once per run.
type resolver struct {
	licenses       []models.License
	categories     []models.Category
	formats        []models.ResourceFormat
	licenceMap     map[string]types.Slug
	categoryMap    map[string]types.Slug
	defaultLicense types.Slug
}

// resolveLicense maps a remote license value to a local slug: exact slug,
// then title, then alternate titles, then the per-source mapping, then the
// platform default.
func (rs *resolver) resolveLicense(remote string) types.Slug {
	needle := strings.ToLower(strings.TrimSpace(remote))
	if needle != "" {
		for _, l := range rs.licenses {
			if string(l.Slug) == needle || strings.ToLower(l.Title) == needle {
				return l.Slug
			}
		}
		for _, l := range rs.licenses {
			for _, alt := range l.AlternateTitles {
				if strings.ToLower(alt) == needle {
					return l.Slug
				}
			}
			for _, u := range l.AlternateURLs {
				if strings.ToLower(u) == needle {
					return l.Slug
				}
			}
		}
		if slug, ok := rs.licenceMap[needle]; ok {
			return slug
		}
	}
	return rs.defaultLicense
}

// resolveCategory maps a remote theme to a local category slug, empty when
// nothing matches. Unmatched themes are dropped, not invented.
func (rs *resolver) resolveCategory(remote string) types.Slug {
	needle := strings.ToLower(strings.TrimSpace(remote))
	if needle == "" {
		return ""
	}
	for _, c := range rs.categories {
		if string(c.Slug) == needle || strings.ToLower(c.Name) == needle {
			return c.Slug
		}
	}
	for _, c := range rs.categories {
		for _, alt := range c.AlternateTitles {
			if strings.ToLower(alt) == needle {
				return c.Slug
			}
		}
	}
	if slug, ok := rs.categoryMap[needle]; ok {
		return slug
	}
	return ""
}

// resolveFormat picks the local format for a distribution, matching the
// mimetype first and the extension second.
func (rs *resolver) resolveFormat(r RecordResource) (*models.ResourceFormat, bool) {
	mimetype := strings.ToLower(strings.TrimSpace(r.Mimetype))
	if mimetype != "" {
		for i := range rs.formats {
			for _, mt := range rs.formats[i].MimeTypes {
				if strings.ToLower(mt) == mimetype {
					return &rs.formats[i], true
				}
			}
		}
	}
	ext := strings.ToLower(strings.TrimSpace(r.Format))
	ext = strings.TrimPrefix(ext, ".")
	if ext != "" {
		for i := range rs.formats {
			if strings.ToLower(rs.formats[i].Extension) == ext {
				return &rs.formats[i], true
			}
		}
	}
	return nil, false
}
