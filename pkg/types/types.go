package types

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Username identifies a platform account across the catalog and the data
// catalog. Slug identifies organisations, datasets and layers; it is URL-safe,
// lowercase and stable once pushed to the data catalog.
type Username string
type Slug string

func (s Slug) String() string { return string(s) }
func (s Slug) IsNil() bool    { return s == "" }

// HarvestSlugPrefix marks datasets materialized by a harvester.
const HarvestSlugPrefix = "sync-"

// HarvestSlugMaxLen bounds harvested slugs, remote identifier included.
const HarvestSlugMaxLen = 100

func (s Slug) IsHarvested() bool {
	return strings.HasPrefix(string(s), HarvestSlugPrefix)
}

// HarvestSlug derives the slug of a harvested dataset from its remote
// identifier, truncated to HarvestSlugMaxLen.
func HarvestSlug(remoteID string) Slug {
	s := HarvestSlugPrefix + string(Slugify(remoteID))
	if len(s) > HarvestSlugMaxLen {
		s = s[:HarvestSlugMaxLen]
	}
	return Slug(strings.Trim(s, "-"))
}

var slugInvalidRe = regexp.MustCompile(`[^a-z0-9-]+`)
var slugDashRe = regexp.MustCompile(`-{2,}`)

// Slugify derives a URL-safe lowercase slug from a free-form title.
func Slugify(title string) Slug {
	s := strings.ToLower(strings.TrimSpace(title))
	s = strings.Map(func(r rune) rune {
		if repl, ok := slugRunes[r]; ok {
			return repl
		}
		return r
	}, s)
	s = slugInvalidRe.ReplaceAllString(s, "-")
	s = slugDashRe.ReplaceAllString(s, "-")
	return Slug(strings.Trim(s, "-"))
}

// Accent folding for the common French characters of this catalog's titles.
var slugRunes = map[rune]rune{
	'à': 'a', 'â': 'a', 'ä': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'î': 'i', 'ï': 'i',
	'ô': 'o', 'ö': 'o',
	'ù': 'u', 'û': 'u', 'ü': 'u',
	'ç': 'c',
	' ': '-', '_': '-', '\'': '-',
}

var slugRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

func ValidSlug(s string) bool {
	return slugRe.MatchString(s)
}

// CkanID is the opaque UUID an entity shares with the data catalog.
type CkanID = uuid.UUID

// UpdateFrequency is the declared refresh cadence of a dataset.
type UpdateFrequency string

const (
	FrequencyNever      UpdateFrequency = "never"
	FrequencyDaily      UpdateFrequency = "daily"
	FrequencyWeekly     UpdateFrequency = "weekly"
	FrequencyBimonthly  UpdateFrequency = "bimonthly"
	FrequencyMonthly    UpdateFrequency = "monthly"
	FrequencyQuarterly  UpdateFrequency = "quarterly"
	FrequencyBiannual   UpdateFrequency = "biannual"
	FrequencyAnnual     UpdateFrequency = "annual"
	FrequencyContinuous UpdateFrequency = "continuous"
	FrequencyRealtime   UpdateFrequency = "realtime"
	FrequencyUnknown    UpdateFrequency = "unknown"
)

var updateFrequencies = map[UpdateFrequency]bool{
	FrequencyNever: true, FrequencyDaily: true, FrequencyWeekly: true,
	FrequencyBimonthly: true, FrequencyMonthly: true, FrequencyQuarterly: true,
	FrequencyBiannual: true, FrequencyAnnual: true, FrequencyContinuous: true,
	FrequencyRealtime: true, FrequencyUnknown: true,
}

// UpdateFrequencies lists every recognized cadence value, stable order.
func UpdateFrequencies() []string {
	return []string{
		string(FrequencyNever), string(FrequencyDaily), string(FrequencyWeekly),
		string(FrequencyBimonthly), string(FrequencyMonthly), string(FrequencyQuarterly),
		string(FrequencyBiannual), string(FrequencyAnnual), string(FrequencyContinuous),
		string(FrequencyRealtime), string(FrequencyUnknown),
	}
}

// ParseUpdateFrequency normalizes a remote frequency value, mapping anything
// unrecognized to unknown.
func ParseUpdateFrequency(s string) UpdateFrequency {
	f := UpdateFrequency(strings.ToLower(strings.TrimSpace(s)))
	if updateFrequencies[f] {
		return f
	}
	return FrequencyUnknown
}

func (f UpdateFrequency) Valid() bool { return updateFrequencies[f] }

// RestrictedLevel is the access-control enum projected onto the data
// catalog's restricted extension.
type RestrictedLevel string

const (
	RestrictedPublic           RestrictedLevel = "public"
	RestrictedRegistered       RestrictedLevel = "registered"
	RestrictedOnlyAllowedUsers RestrictedLevel = "only_allowed_users"
	RestrictedSameOrganisation RestrictedLevel = "same_organization"
	RestrictedAnyOrganisation  RestrictedLevel = "any_organization"
)

var restrictedLevels = map[RestrictedLevel]bool{
	RestrictedPublic: true, RestrictedRegistered: true,
	RestrictedOnlyAllowedUsers: true, RestrictedSameOrganisation: true,
	RestrictedAnyOrganisation: true,
}

func (l RestrictedLevel) Valid() bool { return restrictedLevels[l] }

// ResourceDataType classifies a resource's role within its dataset.
type ResourceDataType string

const (
	ResourceDataRaw     ResourceDataType = "raw"
	ResourceDataAnnexe  ResourceDataType = "annexe"
	ResourceDataService ResourceDataType = "service"
)

func (t ResourceDataType) Valid() bool {
	return t == ResourceDataRaw || t == ResourceDataAnnexe || t == ResourceDataService
}

// SourceKind discriminates the resource source union. Exactly one source is
// set on every resource.
type SourceKind string

const (
	SourceUploaded   SourceKind = "uploaded"
	SourceDownloaded SourceKind = "downloaded"
	SourceReferenced SourceKind = "referenced"
	SourceFtp        SourceKind = "ftp"
)

// LayerType tells a vector table from a raster coverage.
type LayerType string

const (
	LayerVector LayerType = "vector"
	LayerRaster LayerType = "raster"
)

// GeoCover is the declared geographic coverage of a dataset.
type GeoCover string

const (
	CoverInternational GeoCover = "international"
	CoverEuropean      GeoCover = "european"
	CoverNational      GeoCover = "national"
	CoverRegional      GeoCover = "regional"
	CoverDepartmental  GeoCover = "departmental"
	CoverCommunal      GeoCover = "communal"
	CoverJurisdiction  GeoCover = "jurisdiction"
)

// TaskState tracks async work. The "succesful" spelling is shared with task
// rows already written by earlier releases.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succesful"
	TaskFailed    TaskState = "failed"
	TaskUnknown   TaskState = "unknown"
)

// RemoteKind discriminates harvest sources.
type RemoteKind string

const (
	RemoteCkan RemoteKind = "ckan"
	RemoteCsw  RemoteKind = "csw"
	RemoteDcat RemoteKind = "dcat"
)

// NewCkanID allocates the opaque identifier shared with the data catalog.
func NewCkanID() CkanID {
	return uuid.New()
}
