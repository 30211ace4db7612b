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

func (s *Store) UpsertRemoteSource(ctx context.Context, src *models.RemoteSource) error {
	if src.ID == uuid.Nil {
		src.ID = uuid.New()
	}
	query := `
		INSERT INTO remote_sources (id, kind, organisation, url, sync_with, getrecords, sync_frequency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (organisation, kind) DO UPDATE
		SET url = EXCLUDED.url,
			sync_with = EXCLUDED.sync_with,
			getrecords = EXCLUDED.getrecords,
			sync_frequency = EXCLUDED.sync_frequency,
			updated_at = now()
		RETURNING id, created_at, updated_at;`
	err := s.q.QueryRowContext(ctx, query, src.ID, src.Kind, src.Organisation, src.URL,
		textArray(src.SyncWith), src.GetRecords, src.SyncFrequency).
		Scan(&src.ID, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		if derr := constraintErr(err); derr != nil {
			return derr
		}
		log.Ctx(ctx).Error().Err(err).Str("organisation", string(src.Organisation)).
			Str("kind", string(src.Kind)).Msg("failed to upsert remote source")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) GetRemoteSource(ctx context.Context, org types.Slug, kind types.RemoteKind) (*models.RemoteSource, error) {
	query := `
		SELECT id, kind, organisation, url, sync_with, getrecords, sync_frequency, created_at, updated_at
		FROM remote_sources WHERE organisation = $1 AND kind = $2;`
	return s.getRemoteSource(ctx, query, org, kind)
}

func (s *Store) GetRemoteSourceByID(ctx context.Context, id uuid.UUID) (*models.RemoteSource, error) {
	query := `
		SELECT id, kind, organisation, url, sync_with, getrecords, sync_frequency, created_at, updated_at
		FROM remote_sources WHERE id = $1;`
	return s.getRemoteSource(ctx, query, id)
}

func (s *Store) getRemoteSource(ctx context.Context, query string, args ...any) (*models.RemoteSource, error) {
	var src models.RemoteSource
	var syncWith pgtype.TextArray
	err := s.q.QueryRowContext(ctx, query, args...).Scan(&src.ID, &src.Kind, &src.Organisation,
		&src.URL, &syncWith, &src.GetRecords, &src.SyncFrequency, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("remote source not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to retrieve remote source")
		return nil, dberror.ErrDatabase.Err(err)
	}
	src.SyncWith = fromTextArray(syncWith)
	return &src, nil
}

func (s *Store) ListRemoteSources(ctx context.Context) ([]models.RemoteSource, error) {
	query := `
		SELECT id, kind, organisation, url, sync_with, getrecords, sync_frequency, created_at, updated_at
		FROM remote_sources ORDER BY organisation, kind;`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list remote sources")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []models.RemoteSource
	for rows.Next() {
		var src models.RemoteSource
		var syncWith pgtype.TextArray
		if err := rows.Scan(&src.ID, &src.Kind, &src.Organisation, &src.URL, &syncWith,
			&src.GetRecords, &src.SyncFrequency, &src.CreatedAt, &src.UpdatedAt); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		src.SyncWith = fromTextArray(syncWith)
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

func (s *Store) DeleteRemoteSource(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM remote_sources WHERE id = $1;`
	if _, err := s.q.ExecContext(ctx, query, id); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("id", id.String()).Msg("failed to delete remote source")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) UpsertHarvestedDataset(ctx context.Context, h *models.HarvestedDataset) error {
	query := `
		INSERT INTO harvested_datasets (source_id, dataset, remote_identifier, remote_organisation)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id, remote_identifier) DO UPDATE
		SET dataset = EXCLUDED.dataset,
			remote_organisation = EXCLUDED.remote_organisation,
			updated_at = now()
		RETURNING created_at, updated_at;`
	err := s.q.QueryRowContext(ctx, query, h.SourceID, h.Dataset, h.RemoteIdentifier,
		h.RemoteOrganisation).Scan(&h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("remote_identifier", h.RemoteIdentifier).
			Msg("failed to upsert harvested dataset")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) GetHarvestedDataset(ctx context.Context, sourceID uuid.UUID, remoteID string) (*models.HarvestedDataset, error) {
	query := `
		SELECT source_id, dataset, remote_identifier, remote_organisation, created_at, updated_at
		FROM harvested_datasets WHERE source_id = $1 AND remote_identifier = $2;`
	var h models.HarvestedDataset
	err := s.q.QueryRowContext(ctx, query, sourceID, remoteID).Scan(&h.SourceID, &h.Dataset,
		&h.RemoteIdentifier, &h.RemoteOrganisation, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("harvested dataset not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("remote_identifier", remoteID).
			Msg("failed to retrieve harvested dataset")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return &h, nil
}

func (s *Store) ListHarvestedDatasets(ctx context.Context, sourceID uuid.UUID) ([]models.HarvestedDataset, error) {
	query := `
		SELECT source_id, dataset, remote_identifier, remote_organisation, created_at, updated_at
		FROM harvested_datasets WHERE source_id = $1 ORDER BY remote_identifier;`
	return s.queryHarvestedDatasets(ctx, query, sourceID)
}

func (s *Store) ListHarvestedDatasetsByRemoteOrg(ctx context.Context, sourceID uuid.UUID, remoteOrg string) ([]models.HarvestedDataset, error) {
	query := `
		SELECT source_id, dataset, remote_identifier, remote_organisation, created_at, updated_at
		FROM harvested_datasets WHERE source_id = $1 AND remote_organisation = $2
		ORDER BY remote_identifier;`
	return s.queryHarvestedDatasets(ctx, query, sourceID, remoteOrg)
}

func (s *Store) queryHarvestedDatasets(ctx context.Context, query string, args ...any) ([]models.HarvestedDataset, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list harvested datasets")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []models.HarvestedDataset
	for rows.Next() {
		var h models.HarvestedDataset
		if err := rows.Scan(&h.SourceID, &h.Dataset, &h.RemoteIdentifier,
			&h.RemoteOrganisation, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

func (s *Store) DeleteHarvestedDataset(ctx context.Context, sourceID uuid.UUID, remoteID string) error {
	query := `DELETE FROM harvested_datasets WHERE source_id = $1 AND remote_identifier = $2;`
	if _, err := s.q.ExecContext(ctx, query, sourceID, remoteID); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("remote_identifier", remoteID).
			Msg("failed to delete harvested dataset")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) ListMappingLicences(ctx context.Context, sourceID uuid.UUID) ([]models.MappingLicence, error) {
	query := `SELECT source_id, remote, license FROM mapping_licences WHERE source_id = $1;`
	rows, err := s.q.QueryContext(ctx, query, sourceID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list licence mappings")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []models.MappingLicence
	for rows.Next() {
		var m models.MappingLicence
		if err := rows.Scan(&m.SourceID, &m.Remote, &m.License); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

func (s *Store) ListMappingCategories(ctx context.Context, sourceID uuid.UUID) ([]models.MappingCategory, error) {
	query := `SELECT source_id, remote, category FROM mapping_categories WHERE source_id = $1;`
	rows, err := s.q.QueryContext(ctx, query, sourceID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list category mappings")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []models.MappingCategory
	for rows.Next() {
		var m models.MappingCategory
		if err := rows.Scan(&m.SourceID, &m.Remote, &m.Category); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}
