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

const organisationColumns = `slug, ckan_id, legal_name, type_slug, jurisdiction, address, city,
	postcode, phone, email, website, logo, license_slug, is_active, is_partner, geonet_id,
	created_at, updated_at`

// CreateOrganisation inserts a new organisation. The slug must be unique; a
// duplicate returns ErrAlreadyExists.
func (s *Store) CreateOrganisation(ctx context.Context, org *models.Organisation) error {
	if org.Slug == "" || org.LegalName == "" {
		return dberror.ErrInvalidInput.Msg("slug and legal name are required")
	}
	query := `
		INSERT INTO organisations (slug, ckan_id, legal_name, type_slug, jurisdiction, address,
			city, postcode, phone, email, website, logo, license_slug, is_active, is_partner, geonet_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (slug) DO NOTHING
		RETURNING slug;`
	var inserted string
	err := s.q.QueryRowContext(ctx, query,
		org.Slug, org.CkanID, org.LegalName, org.TypeSlug, org.Jurisdiction, org.Address,
		org.City, org.Postcode, org.Phone, org.Email, org.Website, org.Logo,
		org.LicenseSlug, org.IsActive, org.IsPartner, org.GeonetID,
	).Scan(&inserted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Ctx(ctx).Info().Str("slug", string(org.Slug)).Msg("organisation already exists")
			return dberror.ErrAlreadyExists.Msg("organisation already exists")
		}
		if derr := constraintErr(err); derr != nil {
			return derr
		}
		log.Ctx(ctx).Error().Err(err).Str("slug", string(org.Slug)).Msg("failed to insert organisation")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) GetOrganisation(ctx context.Context, slug types.Slug) (*models.Organisation, error) {
	if slug == "" {
		return nil, dberror.ErrInvalidInput.Msg("slug must be provided")
	}
	query := `SELECT ` + organisationColumns + ` FROM organisations WHERE slug = $1;`
	org, err := scanOrganisation(s.q.QueryRowContext(ctx, query, slug))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("organisation not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("slug", string(slug)).Msg("failed to retrieve organisation")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return org, nil
}

func (s *Store) ListOrganisations(ctx context.Context) ([]models.Organisation, error) {
	query := `SELECT ` + organisationColumns + ` FROM organisations ORDER BY slug;`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list organisations")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []models.Organisation
	for rows.Next() {
		org, err := scanOrganisation(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, *org)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

// UpdateOrganisation updates every mutable column. The slug is the identity
// and never changes here.
func (s *Store) UpdateOrganisation(ctx context.Context, org *models.Organisation) error {
	query := `
		UPDATE organisations
		SET legal_name = $2, type_slug = $3, jurisdiction = $4, address = $5, city = $6,
			postcode = $7, phone = $8, email = $9, website = $10, logo = $11,
			license_slug = $12, is_active = $13, is_partner = $14, geonet_id = $15,
			updated_at = now()
		WHERE slug = $1
		RETURNING slug;`
	var updated string
	err := s.q.QueryRowContext(ctx, query,
		org.Slug, org.LegalName, org.TypeSlug, org.Jurisdiction, org.Address, org.City,
		org.Postcode, org.Phone, org.Email, org.Website, org.Logo,
		org.LicenseSlug, org.IsActive, org.IsPartner, org.GeonetID,
	).Scan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dberror.ErrNotFound.Msg("organisation not found for update")
		}
		if derr := constraintErr(err); derr != nil {
			return derr
		}
		log.Ctx(ctx).Error().Err(err).Str("slug", string(org.Slug)).Msg("failed to update organisation")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// SetOrganisationCkanID records the identifier allocated at the first
// publication. It never overwrites an existing one: slug <-> ckan_id is
// monotonic.
func (s *Store) SetOrganisationCkanID(ctx context.Context, slug types.Slug, ckanID uuid.UUID) error {
	query := `
		UPDATE organisations SET ckan_id = $2, updated_at = now()
		WHERE slug = $1 AND (ckan_id IS NULL OR ckan_id = $3)
		RETURNING slug;`
	var updated string
	err := s.q.QueryRowContext(ctx, query, slug, ckanID, uuid.Nil).Scan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dberror.ErrAlreadyExists.Msg("organisation already bound to a ckan id")
		}
		log.Ctx(ctx).Error().Err(err).Str("slug", string(slug)).Msg("failed to set organisation ckan id")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) DeleteOrganisation(ctx context.Context, slug types.Slug) error {
	if slug == "" {
		return dberror.ErrInvalidInput.Msg("slug must be provided")
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM organisations WHERE slug = $1;`, slug); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("slug", string(slug)).Msg("failed to delete organisation")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// ActiveMemberUsernames returns the active confirmed members of the
// organisation, ordered and without duplicates.
func (s *Store) ActiveMemberUsernames(ctx context.Context, org types.Slug) ([]types.Username, error) {
	query := `
		SELECT DISTINCT username FROM profiles
		WHERE organisation = $1 AND is_active = true AND is_member = true
		ORDER BY username;`
	rows, err := s.q.QueryContext(ctx, query, org)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("organisation", string(org)).Msg("failed to list members")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []types.Username
	for rows.Next() {
		var u types.Username
		if err := rows.Scan(&u); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganisation(row rowScanner) (*models.Organisation, error) {
	var org models.Organisation
	var ckanID, geonetID sql.NullString
	err := row.Scan(&org.Slug, &ckanID, &org.LegalName, &org.TypeSlug, &org.Jurisdiction,
		&org.Address, &org.City, &org.Postcode, &org.Phone, &org.Email, &org.Website,
		&org.Logo, &org.LicenseSlug, &org.IsActive, &org.IsPartner, &geonetID,
		&org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, err
	}
	org.CkanID = parseNullUUID(ckanID)
	org.GeonetID = parseNullUUID(geonetID)
	return &org, nil
}

func parseNullUUID(v sql.NullString) uuid.UUID {
	if !v.Valid {
		return uuid.Nil
	}
	id, err := uuid.Parse(v.String)
	if err != nil {
		return uuid.Nil
	}
	return id
}
