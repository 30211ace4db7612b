// Package harvester mirrors remote open-data catalogs into the platform.
// One run reconciles one source: remote records are upserted as harvested
// datasets, records gone from the remote are deleted locally, and the whole
// cycle ends by activating what it touched. Individual record failures are
// logged and skipped so one broken record never aborts a cycle.
package harvester

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/adapters/remote"
	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/types"
)

// Fetcher pulls the records of one source. One implementation per protocol.
type Fetcher interface {
	Fetch(ctx context.Context, src *models.RemoteSource) ([]Record, error)
}

// CatalogWriter is the slice of the catalog manager a harvest drives.
type CatalogWriter interface {
	SaveDataset(ctx context.Context, d *models.Dataset) error
	DeleteDataset(ctx context.Context, slug types.Slug) error
	SaveResource(ctx context.Context, r *models.Resource, localPath string) error
	SetDatasetPublished(ctx context.Context, slug types.Slug, published bool) error
}

// MetadataWriter mirrors harvested ISO records into the platform metadata
// catalog.
type MetadataWriter interface {
	CreateRecord(ctx context.Context, metadata string) (string, error)
	UpdateRecord(ctx context.Context, metadata string) error
	PublishRecord(ctx context.Context, identifier string) error
}

type Harvester struct {
	db       db.CatalogDb
	catalog  CatalogWriter
	meta     MetadataWriter
	fetchers map[types.RemoteKind]Fetcher

	// harvestUser signs harvested datasets as their editor.
	harvestUser    types.Username
	defaultLicense types.Slug
}

type Options struct {
	HarvestUser    types.Username
	DefaultLicense types.Slug
	// Metadata receives the ISO documents of records that carry one. Nil
	// disables mirroring.
	Metadata MetadataWriter
}

func New(store db.CatalogDb, catalog CatalogWriter, fetchers map[types.RemoteKind]Fetcher, opts Options) *Harvester {
	if opts.HarvestUser == "" {
		opts.HarvestUser = "harvest"
	}
	if opts.DefaultLicense == "" {
		opts.DefaultLicense = "notspecified"
	}
	return &Harvester{
		db:             store,
		catalog:        catalog,
		meta:           opts.Metadata,
		fetchers:       fetchers,
		harvestUser:    opts.HarvestUser,
		defaultLicense: opts.DefaultLicense,
	}
}

// Report sums up one cycle.
type Report struct {
	Created int
	Updated int
	Deleted int
	Skipped int
}

// Run harvests one source. A fetch failure aborts before anything changes.
// A cancellation mid-cycle rolls back the datasets this cycle created, so
// an interrupted first harvest leaves no half-mirrored catalog behind.
func (h *Harvester) Run(ctx context.Context, sourceID uuid.UUID) (*Report, error) {
	src, err := h.db.GetRemoteSourceByID(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	fetcher, ok := h.fetchers[src.Kind]
	if !ok {
		return nil, fmt.Errorf("no fetcher for %q sources", src.Kind)
	}

	records, err := fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", src.URL, err)
	}

	rs, err := h.loadResolver(ctx, src)
	if err != nil {
		return nil, err
	}

	// The harvest account signs every dataset it mirrors, so the target
	// organisation must list it as a contributor before the first record
	// lands.
	if err := h.ensureContributor(ctx, src.Organisation); err != nil {
		return nil, err
	}

	report := &Report{}
	seen := map[string]bool{}
	var createdSlugs []types.Slug
	for i := range records {
		if err := ctx.Err(); err != nil {
			h.rollback(ctx, createdSlugs)
			return nil, err
		}
		rec := &records[i]
		if rec.Identifier == "" {
			report.Skipped++
			continue
		}
		created, err := h.upsertRecord(ctx, src, rec, rs)
		if err != nil {
			report.Skipped++
			log.Ctx(ctx).Error().Err(err).
				Str("source", src.URL).
				Str("remote_id", rec.Identifier).
				Msg("harvest: record skipped")
			continue
		}
		seen[rec.Identifier] = true
		if created {
			report.Created++
			createdSlugs = append(createdSlugs, types.HarvestSlug(rec.Identifier))
		} else {
			report.Updated++
		}
	}

	deleted, err := h.reconcile(ctx, src, seen)
	if err != nil {
		return report, err
	}
	report.Deleted = deleted

	// Activation closes the cycle: everything upserted goes live at once.
	for remoteID := range seen {
		slug := types.HarvestSlug(remoteID)
		if err := h.catalog.SetDatasetPublished(ctx, slug, true); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("dataset", string(slug)).Msg("harvest: activation failed")
		}
	}

	log.Ctx(ctx).Info().
		Str("source", src.URL).
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("deleted", report.Deleted).
		Int("skipped", report.Skipped).
		Msg("harvest: cycle complete")
	return report, nil
}

// ensureContributor grants the harvest account a validated contributor
// nexus on the organisation. An existing nexus is left untouched.
func (h *Harvester) ensureContributor(ctx context.Context, org types.Slug) error {
	n := &models.Nexus{Username: h.harvestUser, Organisation: org, Role: models.NexusContributor}
	err := h.db.CreateNexus(ctx, n)
	switch {
	case errors.Is(err, dberror.ErrAlreadyExists):
		return nil
	case err != nil:
		return err
	}
	return h.db.ValidateNexus(ctx, h.harvestUser, org, models.NexusContributor, time.Now().UTC())
}

func (h *Harvester) loadResolver(ctx context.Context, src *models.RemoteSource) (*resolver, error) {
	rs := &resolver{
		licenceMap:     map[string]types.Slug{},
		categoryMap:    map[string]types.Slug{},
		defaultLicense: h.defaultLicense,
	}
	var err error
	if rs.licenses, err = h.db.ListLicenses(ctx); err != nil {
		return nil, err
	}
	if rs.categories, err = h.db.ListCategories(ctx); err != nil {
		return nil, err
	}
	if rs.formats, err = h.db.ListResourceFormats(ctx); err != nil {
		return nil, err
	}
	licMaps, err := h.db.ListMappingLicences(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range licMaps {
		rs.licenceMap[strings.ToLower(m.Remote)] = m.License
	}
	catMaps, err := h.db.ListMappingCategories(ctx, src.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range catMaps {
		rs.categoryMap[strings.ToLower(m.Remote)] = m.Category
	}
	return rs, nil
}

// upsertRecord mirrors one remote record as a harvested dataset with
// referenced resources. It reports whether the dataset was created.
func (h *Harvester) upsertRecord(ctx context.Context, src *models.RemoteSource, rec *Record, rs *resolver) (bool, error) {
	slug := types.HarvestSlug(rec.Identifier)

	created := false
	d, err := h.db.GetDataset(ctx, slug)
	switch {
	case errors.Is(err, dberror.ErrNotFound):
		created = true
		d = &models.Dataset{Slug: slug}
	case err != nil:
		return false, err
	}

	d.Title = rec.Title
	d.Description = rec.Description
	d.Keywords = rec.Keywords
	d.Organisation = src.Organisation
	d.Editor = h.harvestUser
	d.LicenseSlug = rs.resolveLicense(rec.License)
	d.UpdateFrequency = rec.Frequency
	if !d.UpdateFrequency.Valid() {
		d.UpdateFrequency = types.FrequencyUnknown
	}
	d.RemoteSourceID = src.ID
	d.RemoteID = rec.Identifier
	// Everything stays a draft while the cycle runs. The activation pass at
	// the end of Run flips the whole batch live at once.
	d.Published = false
	d.Categories = d.Categories[:0]
	for _, cat := range rec.Categories {
		if slug := rs.resolveCategory(cat); slug != "" {
			d.Categories = append(d.Categories, slug)
		}
	}

	if h.meta != nil && rec.Metadata != "" {
		if err := h.mirrorMetadata(ctx, d, rec); err != nil {
			return false, err
		}
	}

	if err := h.catalog.SaveDataset(ctx, d); err != nil {
		return false, err
	}
	if err := h.db.UpsertHarvestedDataset(ctx, &models.HarvestedDataset{
		SourceID:           src.ID,
		Dataset:            slug,
		RemoteIdentifier:   rec.Identifier,
		RemoteOrganisation: rec.RemoteOrg,
	}); err != nil {
		return created, err
	}

	if err := h.upsertResources(ctx, d, rec, rs); err != nil {
		return created, err
	}
	return created, nil
}

// mirrorMetadata copies the record's ISO document into the platform
// metadata catalog and makes it visible. A record already mirrored is
// updated in place; one deleted remotely is recreated.
func (h *Harvester) mirrorMetadata(ctx context.Context, d *models.Dataset, rec *Record) error {
	if d.GeonetID != uuid.Nil {
		err := h.meta.UpdateRecord(ctx, rec.Metadata)
		if err == nil {
			return h.meta.PublishRecord(ctx, d.GeonetID.String())
		}
		if !errors.Is(err, remote.ErrNotFound) {
			return err
		}
	}
	id, err := h.meta.CreateRecord(ctx, rec.Metadata)
	if err != nil {
		return err
	}
	// The metadata catalog hands out uuid identifiers; anything else is
	// published but not retained on the dataset.
	if parsed, err := uuid.Parse(id); err == nil {
		d.GeonetID = parsed
	}
	return h.meta.PublishRecord(ctx, id)
}

// upsertResources mirrors the record's distributions. A (protocol, mimetype)
// pair identifies a resource across cycles so refreshed URLs update in place.
func (h *Harvester) upsertResources(ctx context.Context, d *models.Dataset, rec *Record, rs *resolver) error {
	existing, err := h.db.ListResources(ctx, d.Slug)
	if err != nil {
		return err
	}
	byIdentity := map[string]*models.Resource{}
	for i := range existing {
		format, err := h.db.GetResourceFormat(ctx, existing[i].FormatSlug)
		if err != nil {
			continue
		}
		mimetype := ""
		if len(format.MimeTypes) > 0 {
			mimetype = format.MimeTypes[0]
		}
		byIdentity[format.Protocol+"|"+mimetype] = &existing[i]
	}

	for _, rr := range rec.Resources {
		format, ok := rs.resolveFormat(rr)
		if !ok {
			log.Ctx(ctx).Debug().
				Str("dataset", string(d.Slug)).
				Str("format", rr.Format).
				Str("mimetype", rr.Mimetype).
				Msg("harvest: distribution format not recognized")
			continue
		}
		mimetype := ""
		if len(format.MimeTypes) > 0 {
			mimetype = format.MimeTypes[0]
		}
		r := byIdentity[format.Protocol+"|"+mimetype]
		if r == nil {
			r = &models.Resource{Dataset: d.Slug}
		}
		title := rr.Name
		if title == "" {
			title = d.Title
		}
		r.Title = title
		r.FormatSlug = format.Slug
		r.SourceKind = types.SourceReferenced
		r.ReferencedURL = rr.URL
		r.RestrictedLevel = types.RestrictedPublic
		if err := h.catalog.SaveResource(ctx, r, ""); err != nil {
			return err
		}
	}
	return nil
}

// reconcile deletes harvested datasets whose remote record is gone, and
// whole remote organisations dropped from sync_with.
func (h *Harvester) reconcile(ctx context.Context, src *models.RemoteSource, seen map[string]bool) (int, error) {
	links, err := h.db.ListHarvestedDatasets(ctx, src.ID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, link := range links {
		if seen[link.RemoteIdentifier] {
			continue
		}
		if err := h.catalog.DeleteDataset(ctx, link.Dataset); err != nil && !errors.Is(err, dberror.ErrNotFound) {
			log.Ctx(ctx).Error().Err(err).Str("dataset", string(link.Dataset)).Msg("harvest: deletion failed")
			continue
		}
		if err := h.db.DeleteHarvestedDataset(ctx, src.ID, link.RemoteIdentifier); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// rollback removes the datasets a cancelled cycle created.
func (h *Harvester) rollback(ctx context.Context, created []types.Slug) {
	ctx = context.WithoutCancel(ctx)
	for _, slug := range created {
		if err := h.catalog.DeleteDataset(ctx, slug); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("dataset", string(slug)).Msg("harvest: rollback failed")
		}
	}
}
