package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/types"
)

const datasetColumns = `slug, ckan_id, title, description, keywords, categories, data_types,
	license_slug, organisation, editor, date_creation, date_publication, date_modification,
	update_frequency, geocover, granularity, bbox, owner_name, owner_email,
	broadcaster_name, broadcaster_email, published, thumbnail, geonet_id, support,
	remote_source_id, remote_id`

// DatasetFilter narrows ListDatasets. Nil Harvested selects both populations.
type DatasetFilter struct {
	Organisation types.Slug
	Harvested    *bool
	SourceID     uuid.UUID
	Editor       types.Username
}

func (s *Store) CreateDataset(ctx context.Context, d *models.Dataset) error {
	if d.Slug == "" || d.Title == "" {
		return dberror.ErrInvalidInput.Msg("slug and title are required")
	}
	query := `
		INSERT INTO datasets (slug, ckan_id, title, description, keywords, categories, data_types,
			license_slug, organisation, editor, date_creation, date_publication, date_modification,
			update_frequency, geocover, granularity, bbox, owner_name, owner_email,
			broadcaster_name, broadcaster_email, published, thumbnail, geonet_id, support,
			remote_source_id, remote_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, NULLIF($26, $28), $27)
		ON CONFLICT (slug) DO NOTHING
		RETURNING slug;`
	var inserted string
	err := s.q.QueryRowContext(ctx, query,
		d.Slug, d.CkanID, d.Title, d.Description, textArray(d.Keywords),
		slugArray(d.Categories), textArray(d.DataTypes),
		d.LicenseSlug, d.Organisation, d.Editor, d.DateCreation, d.DatePublication, d.DateModification,
		d.UpdateFrequency, d.GeoCover, d.Granularity, d.Bbox, d.OwnerName, d.OwnerEmail,
		d.BroadcasterName, d.BroadcasterEmail, d.Published, d.Thumbnail, d.GeonetID, d.Support,
		d.RemoteSourceID, d.RemoteID, uuid.Nil,
	).Scan(&inserted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Ctx(ctx).Info().Str("slug", string(d.Slug)).Msg("dataset already exists")
			return dberror.ErrAlreadyExists.Msg("dataset already exists")
		}
		if derr := constraintErr(err); derr != nil {
			return derr
		}
		log.Ctx(ctx).Error().Err(err).Str("slug", string(d.Slug)).Msg("failed to insert dataset")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) GetDataset(ctx context.Context, slug types.Slug) (*models.Dataset, error) {
	if slug == "" {
		return nil, dberror.ErrInvalidInput.Msg("slug must be provided")
	}
	query := `SELECT ` + datasetColumns + ` FROM datasets WHERE slug = $1;`
	d, err := scanDataset(s.q.QueryRowContext(ctx, query, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("dataset not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("slug", string(slug)).Msg("failed to retrieve dataset")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return d, nil
}

func (s *Store) GetDatasetByCkanID(ctx context.Context, ckanID uuid.UUID) (*models.Dataset, error) {
	query := `SELECT ` + datasetColumns + ` FROM datasets WHERE ckan_id = $1;`
	d, err := scanDataset(s.q.QueryRowContext(ctx, query, ckanID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("dataset not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("ckan_id", ckanID.String()).Msg("failed to retrieve dataset")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return d, nil
}

func (s *Store) ListDatasets(ctx context.Context, filter DatasetFilter) ([]models.Dataset, error) {
	query := `SELECT ` + datasetColumns + ` FROM datasets WHERE 1=1`
	var args []any
	n := 0
	next := func(v any) string {
		n++
		args = append(args, v)
		return "$" + itoa(n)
	}
	if filter.Organisation != "" {
		query += ` AND organisation = ` + next(filter.Organisation)
	}
	if filter.Harvested != nil {
		if *filter.Harvested {
			query += ` AND remote_source_id IS NOT NULL`
		} else {
			query += ` AND remote_source_id IS NULL`
		}
	}
	if filter.SourceID != uuid.Nil {
		query += ` AND remote_source_id = ` + next(filter.SourceID)
	}
	if filter.Editor != "" {
		query += ` AND editor = ` + next(filter.Editor)
	}
	query += ` ORDER BY slug;`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list datasets")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []models.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

// UpdateDataset updates the mutable columns. Slug and ckan_id never change:
// slug <-> ckan_id stays a bijection over the dataset's lifetime.
func (s *Store) UpdateDataset(ctx context.Context, d *models.Dataset) error {
	query := `
		UPDATE datasets
		SET title = $2, description = $3, keywords = $4, categories = $5, data_types = $6,
			license_slug = $7, organisation = $8, editor = $9, date_publication = $10,
			date_modification = $11, update_frequency = $12, geocover = $13, granularity = $14,
			bbox = $15, owner_name = $16, owner_email = $17, broadcaster_name = $18,
			broadcaster_email = $19, published = $20, thumbnail = $21, geonet_id = $22, support = $23
		WHERE slug = $1
		RETURNING slug;`
	var updated string
	err := s.q.QueryRowContext(ctx, query,
		d.Slug, d.Title, d.Description, textArray(d.Keywords),
		slugArray(d.Categories), textArray(d.DataTypes),
		d.LicenseSlug, d.Organisation, d.Editor, d.DatePublication, d.DateModification,
		d.UpdateFrequency, d.GeoCover, d.Granularity, d.Bbox, d.OwnerName, d.OwnerEmail,
		d.BroadcasterName, d.BroadcasterEmail, d.Published, d.Thumbnail, d.GeonetID, d.Support,
	).Scan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dberror.ErrNotFound.Msg("dataset not found for update")
		}
		if derr := constraintErr(err); derr != nil {
			return derr
		}
		log.Ctx(ctx).Error().Err(err).Str("slug", string(d.Slug)).Msg("failed to update dataset")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) DeleteDataset(ctx context.Context, slug types.Slug) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM datasets WHERE slug = $1;`, slug); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("slug", string(slug)).Msg("failed to delete dataset")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func scanDataset(row rowScanner) (*models.Dataset, error) {
	var d models.Dataset
	var keywords, categories, dataTypes pgtype.TextArray
	var geonetID, remoteSourceID sql.NullString
	err := row.Scan(&d.Slug, &d.CkanID, &d.Title, &d.Description, &keywords, &categories,
		&dataTypes, &d.LicenseSlug, &d.Organisation, &d.Editor, &d.DateCreation,
		&d.DatePublication, &d.DateModification, &d.UpdateFrequency, &d.GeoCover,
		&d.Granularity, &d.Bbox, &d.OwnerName, &d.OwnerEmail, &d.BroadcasterName,
		&d.BroadcasterEmail, &d.Published, &d.Thumbnail, &geonetID, &d.Support,
		&remoteSourceID, &d.RemoteID)
	if err != nil {
		return nil, err
	}
	d.Keywords = fromTextArray(keywords)
	d.Categories = toSlugs(categories)
	d.DataTypes = fromTextArray(dataTypes)
	d.GeonetID = parseNullUUID(geonetID)
	d.RemoteSourceID = parseNullUUID(remoteSourceID)
	return &d, nil
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
