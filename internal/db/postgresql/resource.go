package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/types"
)

const resourceColumns = `ckan_id, dataset, title, description, language, format_slug, data_type,
	source_kind, uploaded_path, downloaded_url, referenced_url, ftp_path,
	sync_frequency, synchronization, crs, encoding, bbox,
	restricted_level, profiles_allowed, organisations_allowed,
	extractable, ogc_services, geo_restriction, last_update`

func (s *Store) CreateResource(ctx context.Context, r *models.Resource) error {
	if r.CkanID == uuid.Nil || r.Dataset == "" {
		return dberror.ErrInvalidInput.Msg("ckan id and dataset are required")
	}
	query := `
		INSERT INTO resources (ckan_id, dataset, title, description, language, format_slug,
			data_type, source_kind, uploaded_path, downloaded_url, referenced_url, ftp_path,
			sync_frequency, synchronization, crs, encoding, bbox, restricted_level,
			profiles_allowed, organisations_allowed, extractable, ogc_services, geo_restriction)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23)
		ON CONFLICT (ckan_id) DO NOTHING
		RETURNING ckan_id;`
	var inserted string
	err := s.q.QueryRowContext(ctx, query,
		r.CkanID, r.Dataset, r.Title, r.Description, r.Language, r.FormatSlug,
		r.DataType, r.SourceKind, r.UploadedPath, r.DownloadedURL, r.ReferencedURL, r.FtpPath,
		r.SyncFrequency, r.Synchronization, r.Crs, r.Encoding, r.Bbox, r.RestrictedLevel,
		usernameArray(r.ProfilesAllowed), slugArray(r.OrganisationsAllowed),
		r.Extractable, r.OgcServices, r.GeoRestriction,
	).Scan(&inserted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dberror.ErrAlreadyExists.Msg("resource already exists")
		}
		if derr := constraintErr(err); derr != nil {
			return derr
		}
		log.Ctx(ctx).Error().Err(err).Str("ckan_id", r.CkanID.String()).Msg("failed to insert resource")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) GetResource(ctx context.Context, ckanID uuid.UUID) (*models.Resource, error) {
	if ckanID == uuid.Nil {
		return nil, dberror.ErrInvalidInput.Msg("ckan id must be provided")
	}
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE ckan_id = $1;`
	r, err := scanResource(s.q.QueryRowContext(ctx, query, ckanID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("resource not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("ckan_id", ckanID.String()).Msg("failed to retrieve resource")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return r, nil
}

func (s *Store) ListResources(ctx context.Context, dataset types.Slug) ([]models.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources WHERE dataset = $1 ORDER BY ckan_id;`
	return s.queryResources(ctx, query, dataset)
}

// ListSynchronizableResources returns the downloaded-URL resources enrolled
// in scheduled refresh.
func (s *Store) ListSynchronizableResources(ctx context.Context) ([]models.Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resources
		WHERE source_kind = 'downloaded' AND synchronization = true
		ORDER BY ckan_id;`
	return s.queryResources(ctx, query)
}

func (s *Store) queryResources(ctx context.Context, query string, args ...any) ([]models.Resource, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list resources")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []models.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

func (s *Store) UpdateResource(ctx context.Context, r *models.Resource) error {
	query := `
		UPDATE resources
		SET title = $2, description = $3, language = $4, format_slug = $5, data_type = $6,
			source_kind = $7, uploaded_path = $8, downloaded_url = $9, referenced_url = $10,
			ftp_path = $11, sync_frequency = $12, synchronization = $13, crs = $14,
			encoding = $15, bbox = $16, restricted_level = $17, profiles_allowed = $18,
			organisations_allowed = $19, extractable = $20, ogc_services = $21,
			geo_restriction = $22, last_update = now()
		WHERE ckan_id = $1
		RETURNING ckan_id;`
	var updated string
	err := s.q.QueryRowContext(ctx, query,
		r.CkanID, r.Title, r.Description, r.Language, r.FormatSlug, r.DataType,
		r.SourceKind, r.UploadedPath, r.DownloadedURL, r.ReferencedURL, r.FtpPath,
		r.SyncFrequency, r.Synchronization, r.Crs, r.Encoding, r.Bbox, r.RestrictedLevel,
		usernameArray(r.ProfilesAllowed), slugArray(r.OrganisationsAllowed),
		r.Extractable, r.OgcServices, r.GeoRestriction,
	).Scan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dberror.ErrNotFound.Msg("resource not found for update")
		}
		if derr := constraintErr(err); derr != nil {
			return derr
		}
		log.Ctx(ctx).Error().Err(err).Str("ckan_id", r.CkanID.String()).Msg("failed to update resource")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) DeleteResource(ctx context.Context, ckanID uuid.UUID) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM resources WHERE ckan_id = $1;`, ckanID); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("ckan_id", ckanID.String()).Msg("failed to delete resource")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func scanResource(row rowScanner) (*models.Resource, error) {
	var r models.Resource
	var profiles, organisations pgtype.TextArray
	err := row.Scan(&r.CkanID, &r.Dataset, &r.Title, &r.Description, &r.Language,
		&r.FormatSlug, &r.DataType, &r.SourceKind, &r.UploadedPath, &r.DownloadedURL,
		&r.ReferencedURL, &r.FtpPath, &r.SyncFrequency, &r.Synchronization, &r.Crs,
		&r.Encoding, &r.Bbox, &r.RestrictedLevel, &profiles, &organisations,
		&r.Extractable, &r.OgcServices, &r.GeoRestriction, &r.LastUpdate)
	if err != nil {
		return nil, err
	}
	r.ProfilesAllowed = toUsernames(profiles)
	r.OrganisationsAllowed = toSlugs(organisations)
	return &r, nil
}
