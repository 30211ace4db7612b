package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/types"
)

const profileColumns = `username, email, first_name, last_name, organisation, phone,
	is_active, is_member, is_partner, is_admin, sftp_password, ckan_api_key,
	created_at, updated_at`

func (s *Store) CreateProfile(ctx context.Context, p *models.Profile) error {
	if p.Username == "" {
		return dberror.ErrInvalidInput.Msg("username is required")
	}
	query := `
		INSERT INTO profiles (username, email, first_name, last_name, organisation, phone,
			is_active, is_member, is_partner, is_admin, sftp_password, ckan_api_key)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (username) DO NOTHING
		RETURNING username;`
	var inserted string
	err := s.q.QueryRowContext(ctx, query,
		p.Username, p.Email, p.FirstName, p.LastName, p.Organisation, p.Phone,
		p.IsActive, p.IsMember, p.IsPartner, p.IsAdmin, p.SftpPassword, p.CkanAPIKey,
	).Scan(&inserted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dberror.ErrAlreadyExists.Msg("profile already exists")
		}
		if derr := constraintErr(err); derr != nil {
			return derr
		}
		log.Ctx(ctx).Error().Err(err).Str("username", string(p.Username)).Msg("failed to insert profile")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, username types.Username) (*models.Profile, error) {
	if username == "" {
		return nil, dberror.ErrInvalidInput.Msg("username must be provided")
	}
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE username = $1;`
	p, err := scanProfile(s.q.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dberror.ErrNotFound.Msg("profile not found")
		}
		log.Ctx(ctx).Error().Err(err).Str("username", string(username)).Msg("failed to retrieve profile")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return p, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY username;`)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list profiles")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

func (s *Store) UpdateProfile(ctx context.Context, p *models.Profile) error {
	query := `
		UPDATE profiles
		SET email = $2, first_name = $3, last_name = $4, organisation = NULLIF($5, ''),
			phone = $6, is_active = $7, is_member = $8, is_partner = $9, is_admin = $10,
			sftp_password = $11, ckan_api_key = $12, updated_at = now()
		WHERE username = $1
		RETURNING username;`
	var updated string
	err := s.q.QueryRowContext(ctx, query,
		p.Username, p.Email, p.FirstName, p.LastName, p.Organisation, p.Phone,
		p.IsActive, p.IsMember, p.IsPartner, p.IsAdmin, p.SftpPassword, p.CkanAPIKey,
	).Scan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dberror.ErrNotFound.Msg("profile not found for update")
		}
		log.Ctx(ctx).Error().Err(err).Str("username", string(p.Username)).Msg("failed to update profile")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) DeleteProfile(ctx context.Context, username types.Username) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM profiles WHERE username = $1;`, username); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("username", string(username)).Msg("failed to delete profile")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// PropagatePartner mirrors the organisation's partner flag onto its members.
func (s *Store) PropagatePartner(ctx context.Context, org types.Slug, partner bool) error {
	query := `UPDATE profiles SET is_partner = $2, updated_at = now() WHERE organisation = $1;`
	if _, err := s.q.ExecContext(ctx, query, org, partner); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("organisation", string(org)).Msg("failed to propagate partner flag")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) CreateNexus(ctx context.Context, n *models.Nexus) error {
	if n.Username == "" || n.Organisation == "" {
		return dberror.ErrInvalidInput.Msg("username and organisation are required")
	}
	query := `
		INSERT INTO profile_organisation_nexus (username, organisation, role, validated_on)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username, organisation, role) DO NOTHING
		RETURNING created_on;`
	err := s.q.QueryRowContext(ctx, query, n.Username, n.Organisation, n.Role, n.ValidatedOn).
		Scan(&n.CreatedOn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dberror.ErrAlreadyExists.Msg("nexus already exists")
		}
		if derr := constraintErr(err); derr != nil {
			return derr
		}
		log.Ctx(ctx).Error().Err(err).Str("username", string(n.Username)).
			Str("organisation", string(n.Organisation)).Str("role", string(n.Role)).
			Msg("failed to insert nexus")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) ValidateNexus(ctx context.Context, username types.Username, org types.Slug, role models.NexusRole, when time.Time) error {
	query := `
		UPDATE profile_organisation_nexus SET validated_on = $4
		WHERE username = $1 AND organisation = $2 AND role = $3 AND validated_on IS NULL
		RETURNING username;`
	var updated string
	err := s.q.QueryRowContext(ctx, query, username, org, role, when).Scan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dberror.ErrNotFound.Msg("nexus not found or already validated")
		}
		log.Ctx(ctx).Error().Err(err).Str("username", string(username)).Msg("failed to validate nexus")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) DeleteNexus(ctx context.Context, username types.Username, org types.Slug, role models.NexusRole) error {
	query := `DELETE FROM profile_organisation_nexus WHERE username = $1 AND organisation = $2 AND role = $3;`
	if _, err := s.q.ExecContext(ctx, query, username, org, role); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("username", string(username)).Msg("failed to delete nexus")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (s *Store) ListNexuses(ctx context.Context, org types.Slug, role models.NexusRole) ([]models.Nexus, error) {
	query := `
		SELECT username, organisation, role, created_on, validated_on
		FROM profile_organisation_nexus
		WHERE organisation = $1 AND role = $2
		ORDER BY username;`
	return s.queryNexuses(ctx, query, org, role)
}

func (s *Store) NexusesForProfile(ctx context.Context, username types.Username) ([]models.Nexus, error) {
	query := `
		SELECT username, organisation, role, created_on, validated_on
		FROM profile_organisation_nexus
		WHERE username = $1
		ORDER BY organisation, role;`
	return s.queryNexuses(ctx, query, username)
}

func (s *Store) queryNexuses(ctx context.Context, query string, args ...any) ([]models.Nexus, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list nexuses")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()

	var out []models.Nexus
	for rows.Next() {
		var n models.Nexus
		if err := rows.Scan(&n.Username, &n.Organisation, &n.Role, &n.CreatedOn, &n.ValidatedOn); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var p models.Profile
	var org sql.NullString
	err := row.Scan(&p.Username, &p.Email, &p.FirstName, &p.LastName, &org, &p.Phone,
		&p.IsActive, &p.IsMember, &p.IsPartner, &p.IsAdmin, &p.SftpPassword, &p.CkanAPIKey,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Organisation = types.Slug(org.String)
	return &p, nil
}

// Recipient queries for the notification hub. All three return active
// profiles only.

func (s *Store) AdminUsernames(ctx context.Context) ([]types.Username, error) {
	query := `SELECT username FROM profiles WHERE is_admin = true AND is_active = true ORDER BY username;`
	return s.queryUsernames(ctx, query)
}

func (s *Store) ReferentUsernames(ctx context.Context, org types.Slug) ([]types.Username, error) {
	query := `
		SELECT n.username FROM profile_organisation_nexus n
		JOIN profiles p ON p.username = n.username
		WHERE n.organisation = $1 AND n.role = 'referent'
			AND n.validated_on IS NOT NULL AND p.is_active = true
		ORDER BY n.username;`
	return s.queryUsernames(ctx, query, org)
}

func (s *Store) PartnerUsernames(ctx context.Context) ([]types.Username, error) {
	query := `SELECT username FROM profiles WHERE is_partner = true AND is_active = true ORDER BY username;`
	return s.queryUsernames(ctx, query)
}

func (s *Store) queryUsernames(ctx context.Context, query string, args ...any) ([]types.Username, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list usernames")
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
