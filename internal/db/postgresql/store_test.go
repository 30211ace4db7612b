package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrado/geosyncsrv/internal/db/dberror"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/pkg/types"
)

func organisationFixture() *models.Organisation {
	return &models.Organisation{
		Slug:         "meteo-centre",
		LegalName:    "Météo Centre",
		TypeSlug:     "association",
		Jurisdiction: "45",
		IsActive:     true,
	}
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db), mock
}

func TestCreateOrganisation(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts and returns no error", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`INSERT INTO organisations`).
			WithArgs("meteo-centre", uuid.Nil, "Météo Centre", "association", "45", "", "",
				"", "", "", "", "", "", true, false, uuid.Nil).
			WillReturnRows(sqlmock.NewRows([]string{"slug"}).AddRow("meteo-centre"))

		org := organisationFixture()
		err := s.CreateOrganisation(ctx, org)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate slug maps to already exists", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`INSERT INTO organisations`).
			WillReturnError(sql.ErrNoRows)

		err := s.CreateOrganisation(ctx, organisationFixture())
		assert.ErrorIs(t, err, dberror.ErrAlreadyExists)
	})

	t.Run("rejects missing identity", func(t *testing.T) {
		s, _ := newMockStore(t)
		org := organisationFixture()
		org.Slug = ""
		err := s.CreateOrganisation(ctx, org)
		assert.ErrorIs(t, err, dberror.ErrInvalidInput)
	})
}

func TestGetOrganisation(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		s, mock := newMockStore(t)
		ckanID := uuid.New()
		rows := sqlmock.NewRows([]string{"slug", "ckan_id", "legal_name", "type_slug",
			"jurisdiction", "address", "city", "postcode", "phone", "email", "website",
			"logo", "license_slug", "is_active", "is_partner", "geonet_id", "created_at", "updated_at"}).
			AddRow("meteo-centre", ckanID.String(), "Météo Centre", "association", "45",
				"", "", "", "", "", "", "", "", true, false, nil, now, now)
		mock.ExpectQuery(`SELECT .* FROM organisations WHERE slug`).
			WithArgs("meteo-centre").WillReturnRows(rows)

		org, err := s.GetOrganisation(ctx, "meteo-centre")
		require.NoError(t, err)
		assert.Equal(t, ckanID, org.CkanID)
		assert.Equal(t, uuid.Nil, org.GeonetID)
		assert.Equal(t, "Météo Centre", org.LegalName)
	})

	t.Run("missing maps to not found", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`SELECT .* FROM organisations WHERE slug`).
			WithArgs("nope").WillReturnError(sql.ErrNoRows)

		_, err := s.GetOrganisation(ctx, "nope")
		assert.ErrorIs(t, err, dberror.ErrNotFound)
	})
}

func TestSetOrganisationCkanID(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("binds when unbound", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`UPDATE organisations SET ckan_id`).
			WithArgs("meteo-centre", id, uuid.Nil).
			WillReturnRows(sqlmock.NewRows([]string{"slug"}).AddRow("meteo-centre"))

		assert.NoError(t, s.SetOrganisationCkanID(ctx, "meteo-centre", id))
	})

	t.Run("never rebinds", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`UPDATE organisations SET ckan_id`).
			WillReturnError(sql.ErrNoRows)

		err := s.SetOrganisationCkanID(ctx, "meteo-centre", id)
		assert.ErrorIs(t, err, dberror.ErrAlreadyExists)
	})
}

func TestUpdateTaskState(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("terminal state stamps end", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`UPDATE tasks`).
			WithArgs(id, types.TaskSucceeded, "").
			WillReturnRows(sqlmock.NewRows([]string{"uuid"}).AddRow(id.String()))

		assert.NoError(t, s.UpdateTaskState(ctx, id, types.TaskSucceeded, ""))
	})

	t.Run("unknown task", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`UPDATE tasks`).WillReturnError(sql.ErrNoRows)

		err := s.UpdateTaskState(ctx, id, types.TaskFailed, "boom")
		assert.ErrorIs(t, err, dberror.ErrNotFound)
	})

	t.Run("driver failure maps to database error", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(`UPDATE tasks`).WillReturnError(errors.New("connection reset"))

		err := s.UpdateTaskState(ctx, id, types.TaskRunning, "")
		assert.ErrorIs(t, err, dberror.ErrDatabase)
	})
}

func TestGetHarvestedDataset(t *testing.T) {
	ctx := context.Background()
	sourceID := uuid.New()
	now := time.Now()

	s, mock := newMockStore(t)
	rows := sqlmock.NewRows([]string{"source_id", "dataset", "remote_identifier",
		"remote_organisation", "created_at", "updated_at"}).
		AddRow(sourceID.String(), "sync-releves-pluie", "rec-42", "ddt-45", now, now)
	mock.ExpectQuery(`SELECT .* FROM harvested_datasets`).
		WithArgs(sourceID, "rec-42").WillReturnRows(rows)

	h, err := s.GetHarvestedDataset(ctx, sourceID, "rec-42")
	require.NoError(t, err)
	assert.Equal(t, types.Slug("sync-releves-pluie"), h.Dataset)
	assert.True(t, h.Dataset.IsHarvested())
}
