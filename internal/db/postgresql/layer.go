package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/types"
)

func (s *Store) CreateLayer(ctx context.Context, l *models.Layer) error {
	if l.Name == "" || l.Resource == uuid.Nil {
		return dberror.ErrInvalidInput.Msg("layer name and resource are required")
	}
	query := `
		INSERT INTO layers (name, type, resource, bbox)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO NOTHING
		RETURNING name;`
	var inserted string
	err := s.q.QueryRowContext(ctx, query, l.Name, l.Type, l.Resource, l.Bbox).Scan(&inserted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dberror.ErrAlreadyExists.Msg("layer already exists")
		}
		log.Ctx(ctx).Error().Err(err).Str("name", string(l.Name)).Msg("failed to insert layer")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) GetLayer(ctx context.Context, name types.Slug) (*models.Layer, error) {
	query := `SELECT name, type, resource, bbox FROM layers WHERE name = $1;`
	var l models.Layer
	err := s.q.QueryRowContext(ctx, query, name).Scan(&l.Name, &l.Type, &l.Resource, &l.Bbox)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("layer not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("name", string(name)).Msg("failed to retrieve layer")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return &l, nil
}

func (s *Store) ListLayersByResource(ctx context.Context, resource uuid.UUID) ([]models.Layer, error) {
	query := `SELECT name, type, resource, bbox FROM layers WHERE resource = $1 ORDER BY name;`
	return s.queryLayers(ctx, query, resource)
}

func (s *Store) ListLayersByDataset(ctx context.Context, dataset types.Slug) ([]models.Layer, error) {
	query := `
		SELECT l.name, l.type, l.resource, l.bbox
		FROM layers l JOIN resources r ON r.ckan_id = l.resource
		WHERE r.dataset = $1
		ORDER BY l.name;`
	return s.queryLayers(ctx, query, dataset)
}

func (s *Store) queryLayers(ctx context.Context, query string, args ...any) ([]models.Layer, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list layers")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []models.Layer
	for rows.Next() {
		var l models.Layer
		if err := rows.Scan(&l.Name, &l.Type, &l.Resource, &l.Bbox); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

func (s *Store) DeleteLayer(ctx context.Context, name types.Slug) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM layers WHERE name = $1;`, name); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("name", string(name)).Msg("failed to delete layer")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}
