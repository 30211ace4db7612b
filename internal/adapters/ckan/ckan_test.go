package ckan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	packages map[string]bool
	actions  []string
}

func (f *fakeCatalog) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		action := strings.TrimPrefix(r.URL.Path, actionPath)
		f.actions = append(f.actions, action)
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)

		switch action {
		case "package_show":
			id, _ := body["id"].(string)
			if !f.packages[id] {
				w.WriteHeader(http.StatusNotFound)
				w.Write([]byte(`{"success": false, "error": {"message": "Not found"}}`))
				return
			}
			w.Write([]byte(`{"success": true, "result": {"id": "` + id + `", "state": "active"}}`))
		case "package_create", "package_update":
			id, _ := body["id"].(string)
			f.packages[id] = true
			w.Write([]byte(`{"success": true, "result": {"id": "` + id + `"}}`))
		default:
			w.Write([]byte(`{"success": true, "result": {}}`))
		}
	}
}

func TestPublishDatasetUpserts(t *testing.T) {
	ctx := context.Background()
	cat := &fakeCatalog{packages: map[string]bool{}}
	srv := httptest.NewServer(cat.handler())
	defer srv.Close()
	m := NewManager(srv.URL, "key", time.Second)

	payload := DatasetPayload{ID: "abc-123", Name: "parcs", Title: "Parcs", OwnerOrg: "acme"}

	require.NoError(t, m.PublishDataset(ctx, payload))
	assert.Contains(t, cat.actions, "package_create")

	cat.actions = nil
	require.NoError(t, m.PublishDataset(ctx, payload))
	assert.Contains(t, cat.actions, "package_update")
	assert.NotContains(t, cat.actions, "package_create")

	rec, err := m.GetPackage(ctx, "abc-123")
	require.NoError(t, err)
	assert.Equal(t, "abc-123", rec.ID)
	assert.Equal(t, "active", rec.State)
}

func TestCallRejectsLogicalFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": false, "error": {"message": "name already in use"}}`))
	}))
	defer srv.Close()
	m := NewManager(srv.URL, "key", time.Second)

	_, err := m.CreateOrganisation(context.Background(), OrganisationPayload{Name: "acme"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name already in use")
}

func TestForUserSwitchesCredentials(t *testing.T) {
	ctx := context.Background()
	var seenAuth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = append(seenAuth, r.Header.Get("Authorization"))
		w.Write([]byte(`{"success": true, "result": {"id": "u1", "apikey": "marcel-key"}}`))
	}))
	defer srv.Close()
	m := NewManager(srv.URL, "admin-key", time.Second)

	key, err := m.UserAPIKey(ctx, "marcel")
	require.NoError(t, err)
	assert.Equal(t, "marcel-key", key)

	_, err = m.ForUser(key).GetUser(ctx, "marcel")
	require.NoError(t, err)
	require.Len(t, seenAuth, 2)
	assert.Equal(t, "admin-key", seenAuth[0])
	assert.Equal(t, "marcel-key", seenAuth[1])
}

func TestListOrganisationRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "result": {
			"name": "foo",
			"packages": [{
				"id": "d1", "name": "pluie", "title": "Pluie", "state": "active",
				"type": "dataset", "license_id": "lov2",
				"extras": [{"key": "update_frequency", "value": "monthly"}],
				"tags": [{"name": "meteo"}],
				"resources": [{"id": "r1", "url": "http://foo/r1.csv", "format": "CSV", "mimetype": "text/csv"}]
			}]
		}}`))
	}))
	defer srv.Close()
	m := NewManager(srv.URL, "key", time.Second)

	records, err := m.ListOrganisationRecords(context.Background(), "foo")
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "d1", rec.ID)
	assert.Equal(t, "monthly", rec.Frequency)
	assert.Equal(t, []string{"meteo"}, rec.Tags)
	require.Len(t, rec.Resources, 1)
	assert.Equal(t, "text/csv", rec.Resources[0].Mimetype)
}
