package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/types"
)

func (s *Store) GetLicense(ctx context.Context, slug types.Slug) (*models.License, error) {
	query := `
		SELECT slug, title, alternate_titles, alternate_urls, od_conformance, osd_conformance, maintainer, url
		FROM licenses WHERE slug = $1;`
	l, err := s.scanLicense(s.q.QueryRowContext(ctx, query, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("license not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("slug", string(slug)).Msg("failed to retrieve license")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return l, nil
}

func (s *Store) ListLicenses(ctx context.Context) ([]models.License, error) {
	query := `
		SELECT slug, title, alternate_titles, alternate_urls, od_conformance, osd_conformance, maintainer, url
		FROM licenses ORDER BY slug;`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list licenses")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []models.License
	for rows.Next() {
		l, err := s.scanLicense(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

func (s *Store) scanLicense(row rowScanner) (*models.License, error) {
	var l models.License
	var titles, urls pgtype.TextArray
	err := row.Scan(&l.Slug, &l.Title, &titles, &urls, &l.ODConformance,
		&l.OSDConformance, &l.Maintainer, &l.URL)
	if err != nil {
		return nil, err
	}
	l.AlternateTitles = fromTextArray(titles)
	l.AlternateURLs = fromTextArray(urls)
	return &l, nil
}

func (s *Store) GetCategory(ctx context.Context, slug types.Slug) (*models.Category, error) {
	query := `
		SELECT slug, name, iso_topic, alternate_titles, ckan_id
		FROM categories WHERE slug = $1;`
	c, err := s.scanCategory(s.q.QueryRowContext(ctx, query, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("category not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("slug", string(slug)).Msg("failed to retrieve category")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return c, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	query := `
		SELECT slug, name, iso_topic, alternate_titles, ckan_id
		FROM categories ORDER BY slug;`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list categories")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []models.Category
	for rows.Next() {
		c, err := s.scanCategory(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

func (s *Store) scanCategory(row rowScanner) (*models.Category, error) {
	var c models.Category
	var titles pgtype.TextArray
	if err := row.Scan(&c.Slug, &c.Name, &c.ISOTopic, &titles, &c.CkanID); err != nil {
		return nil, err
	}
	c.AlternateTitles = fromTextArray(titles)
	return &c, nil
}

func (s *Store) GetResourceFormat(ctx context.Context, slug types.Slug) (*models.ResourceFormat, error) {
	query := `
		SELECT slug, extension, mimetypes, protocol, ckan_view, is_gis
		FROM resource_formats WHERE slug = $1;`
	var f models.ResourceFormat
	var mimes pgtype.TextArray
	err := s.q.QueryRowContext(ctx, query, slug).
		Scan(&f.Slug, &f.Extension, &mimes, &f.Protocol, &f.CkanView, &f.IsGis)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("resource format not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("slug", string(slug)).Msg("failed to retrieve resource format")
		return nil, dberror.ErrDatabase.Err(err)
	}
	f.MimeTypes = fromTextArray(mimes)
	return &f, nil
}

func (s *Store) ListResourceFormats(ctx context.Context) ([]models.ResourceFormat, error) {
	query := `
		SELECT slug, extension, mimetypes, protocol, ckan_view, is_gis
		FROM resource_formats ORDER BY slug;`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list resource formats")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []models.ResourceFormat
	for rows.Next() {
		var f models.ResourceFormat
		var mimes pgtype.TextArray
		if err := rows.Scan(&f.Slug, &f.Extension, &mimes, &f.Protocol, &f.CkanView, &f.IsGis); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		f.MimeTypes = fromTextArray(mimes)
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

func (s *Store) ListSupportedCrs(ctx context.Context) ([]models.SupportedCrs, error) {
	query := `SELECT authority, code, description, proj4_regex FROM supported_crs ORDER BY authority, code;`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list supported crs")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []models.SupportedCrs
	for rows.Next() {
		var c models.SupportedCrs
		if err := rows.Scan(&c.Authority, &c.Code, &c.Description, &c.Proj4Regex); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

func (s *Store) GetJurisdiction(ctx context.Context, code string) (*models.Jurisdiction, error) {
	query := `SELECT code, name, communes FROM jurisdictions WHERE code = $1;`
	var j models.Jurisdiction
	var communes pgtype.TextArray
	err := s.q.QueryRowContext(ctx, query, code).Scan(&j.Code, &j.Name, &communes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("jurisdiction not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("code", code).Msg("failed to retrieve jurisdiction")
		return nil, dberror.ErrDatabase.Err(err)
	}
	j.Communes = fromTextArray(communes)
	return &j, nil
}
