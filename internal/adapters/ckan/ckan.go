// Package ckan talks to the data catalog through its action API. Every call
// is idempotent by external identifier: PublishDataset updates the package
// when it already exists and creates it otherwise, so replays converge.
//
// Two access profiles exist. The Manager holds the privileged key and can
// mint per-user clients from the API key stored on each profile; user-scoped
// calls then carry the author's identity into the catalog's activity stream.
package ckan

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/terrado/geosyncsrv/internal/adapters/remote"
)

const actionPath = "/api/3/action/"

// Tag, Group and Extra are the repeated elements of a package payload.
type Tag struct {
	Name string `json:"name"`
}

type Group struct {
	Name string `json:"name"`
}

type Extra struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DatasetPayload is the package projection pushed on publish. Private mirrors
// the negation of the local published flag.
type DatasetPayload struct {
	ID       string  `json:"id,omitempty"`
	Name     string  `json:"name"`
	Title    string  `json:"title"`
	Notes    string  `json:"notes"`
	OwnerOrg string  `json:"owner_org"`
	Private  bool    `json:"private"`
	State    string  `json:"state,omitempty"`
	LicenseID string `json:"license_id,omitempty"`
	Tags     []Tag   `json:"tags"`
	Groups   []Group `json:"groups"`
	Extras   []Extra `json:"extras,omitempty"`
}

// ResourcePayload describes one resource of a package. Restricted is the
// access-control projection serialized as a JSON string, the way the
// catalog's restricted extension expects it.
type ResourcePayload struct {
	ID          string `json:"id,omitempty"`
	PackageID   string `json:"package_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	Format      string `json:"format,omitempty"`
	Mimetype    string `json:"mimetype,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Restricted  string `json:"restricted,omitempty"`
}

type UserPayload struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
	Fullname string `json:"fullname,omitempty"`
	State    string `json:"state,omitempty"`
}

type OrganisationPayload struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Record is a normalized remote package, the shape the harvester consumes.
type Record struct {
	ID           string
	Name         string
	Title        string
	Notes        string
	State        string
	Type         string
	Private      bool
	LicenseID    string
	LicenseTitle string
	Frequency    string
	Tags         []string
	Groups       []string
	Resources    []RemoteResource
}

type RemoteResource struct {
	ID       string
	Name     string
	URL      string
	Format   string
	Mimetype string
}

// Client is one authenticated view on the catalog.
type Client struct {
	tr *remote.Client
}

// Manager is the privileged client.
type Manager struct {
	Client
	url     string
	timeout time.Duration
}

func NewManager(url, apiKey string, timeout time.Duration) *Manager {
	return &Manager{
		Client:  Client{tr: remote.NewClient("ckan", url, timeout, remote.APIKeyAuth(apiKey))},
		url:     url,
		timeout: timeout,
	}
}

// ForUser returns a client bound to one user's API key. Calls made through it
// are attributed to that user on the remote side.
func (m *Manager) ForUser(apiKey string) *Client {
	return &Client{tr: remote.NewClient("ckan", m.url, m.timeout, remote.APIKeyAuth(apiKey))}
}

// call posts one action and returns the result subtree. The action API can
// answer 200 with success=false, which still maps onto the error taxonomy.
func (c *Client) call(ctx context.Context, action string, payload any) (gjson.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, remote.ErrCritical.Err(err)
	}
	rsp, err := c.tr.Do(ctx, http.MethodPost, actionPath+action, body, "application/json")
	if err != nil {
		return gjson.Result{}, err
	}
	parsed := gjson.ParseBytes(rsp.Body)
	if !parsed.Get("success").Bool() {
		msg := parsed.Get("error.message").String()
		if msg == "" {
			msg = parsed.Get("error").Raw
		}
		return gjson.Result{}, remote.ErrValidationRejected.Msg(msg)
	}
	return parsed.Get("result"), nil
}

// Users

func (c *Client) CreateUser(ctx context.Context, u UserPayload) (string, error) {
	result, err := c.call(ctx, "user_create", u)
	if err != nil {
		return "", err
	}
	return result.Get("id").String(), nil
}

func (c *Client) GetUser(ctx context.Context, name string) (gjson.Result, error) {
	return c.call(ctx, "user_show", map[string]string{"id": name})
}

func (c *Client) UpdateUser(ctx context.Context, u UserPayload) error {
	_, err := c.call(ctx, "user_update", u)
	return err
}

// SetUserState toggles the remote account. Deactivation maps to the catalog
// state "deleted"; the account is recoverable.
func (c *Client) SetUserState(ctx context.Context, name string, active bool) error {
	state := "deleted"
	if active {
		state = "active"
	}
	_, err := c.call(ctx, "user_patch", map[string]string{"id": name, "state": state})
	return err
}

// UserAPIKey returns the key stored on the remote account, for ForUser.
func (c *Client) UserAPIKey(ctx context.Context, name string) (string, error) {
	result, err := c.call(ctx, "user_show", map[string]any{"id": name, "include_plugin_extras": true})
	if err != nil {
		return "", err
	}
	return result.Get("apikey").String(), nil
}

// Organisations

func (c *Client) CreateOrganisation(ctx context.Context, org OrganisationPayload) (string, error) {
	result, err := c.call(ctx, "organization_create", org)
	if err != nil {
		return "", err
	}
	return result.Get("id").String(), nil
}

func (c *Client) UpdateOrganisation(ctx context.Context, org OrganisationPayload) error {
	_, err := c.call(ctx, "organization_update", org)
	return err
}

func (c *Client) OrganisationExists(ctx context.Context, name string) (bool, error) {
	_, err := c.call(ctx, "organization_show", map[string]string{"id": name})
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetOrganisation fetches one remote organisation, optionally with its full
// dataset listing. That listing is what a harvest cycle iterates.
func (c *Client) GetOrganisation(ctx context.Context, name string, includeDatasets bool) (gjson.Result, error) {
	return c.call(ctx, "organization_show", map[string]any{
		"id":               name,
		"include_datasets": includeDatasets,
	})
}

// PurgeOrganisation removes the organisation for good.
func (c *Client) PurgeOrganisation(ctx context.Context, name string) error {
	_, err := c.call(ctx, "organization_purge", map[string]string{"id": name})
	return err
}

func (c *Client) AddOrganisationMember(ctx context.Context, org, username, role string) error {
	_, err := c.call(ctx, "organization_member_create", map[string]string{
		"id": org, "username": username, "role": role,
	})
	return err
}

func (c *Client) RemoveOrganisationMember(ctx context.Context, org, username string) error {
	_, err := c.call(ctx, "organization_member_delete", map[string]string{
		"id": org, "username": username,
	})
	return err
}

// Groups (categories and the partner group)

func (c *Client) CreateGroup(ctx context.Context, name, title string) (string, error) {
	result, err := c.call(ctx, "group_create", map[string]string{"name": name, "title": title})
	if err != nil {
		return "", err
	}
	return result.Get("id").String(), nil
}

func (c *Client) AddGroupMember(ctx context.Context, group, username string) error {
	_, err := c.call(ctx, "group_member_create", map[string]string{
		"id": group, "username": username, "role": "member",
	})
	return err
}

func (c *Client) RemoveGroupMember(ctx context.Context, group, username string) error {
	_, err := c.call(ctx, "group_member_delete", map[string]string{
		"id": group, "username": username,
	})
	return err
}

// Datasets

func (c *Client) PackageExists(ctx context.Context, id string) (bool, error) {
	_, err := c.call(ctx, "package_show", map[string]string{"id": id})
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *Client) GetPackage(ctx context.Context, id string) (Record, error) {
	result, err := c.call(ctx, "package_show", map[string]string{"id": id})
	if err != nil {
		return Record{}, err
	}
	return parseRecord(result), nil
}

// PublishDataset upserts the package by id.
func (c *Client) PublishDataset(ctx context.Context, d DatasetPayload) error {
	exists, err := c.PackageExists(ctx, d.ID)
	if err != nil {
		return err
	}
	action := "package_create"
	if exists {
		action = "package_update"
	}
	_, err = c.call(ctx, action, d)
	return err
}

// SetDatasetState flips the package state, used at the end of a harvest
// cycle to activate everything created during it.
func (c *Client) SetDatasetState(ctx context.Context, id, state string) error {
	_, err := c.call(ctx, "package_patch", map[string]string{"id": id, "state": state})
	return err
}

func (c *Client) DeleteDataset(ctx context.Context, id string) error {
	_, err := c.call(ctx, "package_delete", map[string]string{"id": id})
	return err
}

func (c *Client) PurgeDataset(ctx context.Context, id string) error {
	_, err := c.call(ctx, "dataset_purge", map[string]string{"id": id})
	return err
}

// Resources

func (c *Client) CreateResource(ctx context.Context, r ResourcePayload) (string, error) {
	result, err := c.call(ctx, "resource_create", r)
	if err != nil {
		return "", err
	}
	return result.Get("id").String(), nil
}

func (c *Client) UpdateResource(ctx context.Context, r ResourcePayload) error {
	_, err := c.call(ctx, "resource_update", r)
	return err
}

func (c *Client) DeleteResource(ctx context.Context, id string) error {
	_, err := c.call(ctx, "resource_delete", map[string]string{"id": id})
	return err
}

// Resource views

// EnsureResourceView creates the hinted view or updates the existing one of
// the same type. View creation always follows resource creation.
func (c *Client) EnsureResourceView(ctx context.Context, resourceID, viewType, title string) error {
	views, err := c.call(ctx, "resource_view_list", map[string]string{"id": resourceID})
	if err != nil {
		return err
	}
	var existing string
	views.ForEach(func(_, v gjson.Result) bool {
		if v.Get("view_type").String() == viewType {
			existing = v.Get("id").String()
			return false
		}
		return true
	})
	if existing != "" {
		_, err = c.call(ctx, "resource_view_update", map[string]string{
			"id": existing, "title": title, "view_type": viewType,
		})
		return err
	}
	_, err = c.call(ctx, "resource_view_create", map[string]string{
		"resource_id": resourceID, "title": title, "view_type": viewType,
	})
	return err
}

// Tags

func (c *Client) EnsureTagVocabulary(ctx context.Context, name string, tags []string) error {
	payload := map[string]any{"name": name}
	if len(tags) > 0 {
		list := make([]Tag, 0, len(tags))
		for _, t := range tags {
			list = append(list, Tag{Name: t})
		}
		payload["tags"] = list
	}
	_, err := c.call(ctx, "vocabulary_create", payload)
	if errors.Is(err, remote.ErrConflict) || errors.Is(err, remote.ErrValidationRejected) {
		_, err = c.call(ctx, "vocabulary_update", payload)
	}
	return err
}

// TrackingSummary returns total and recent view counts for a package.
func (c *Client) TrackingSummary(ctx context.Context, packageID string) (total, recent int64, err error) {
	result, err := c.call(ctx, "package_show", map[string]any{
		"id": packageID, "include_tracking": true,
	})
	if err != nil {
		return 0, 0, err
	}
	return result.Get("tracking_summary.total").Int(),
		result.Get("tracking_summary.recent").Int(), nil
}

// ListOrganisationRecords returns the normalized datasets of one remote
// organisation.
func (c *Client) ListOrganisationRecords(ctx context.Context, org string) ([]Record, error) {
	result, err := c.GetOrganisation(ctx, org, true)
	if err != nil {
		return nil, err
	}
	var out []Record
	result.Get("packages").ForEach(func(_, pkg gjson.Result) bool {
		out = append(out, parseRecord(pkg))
		return true
	})
	return out, nil
}

func parseRecord(pkg gjson.Result) Record {
	rec := Record{
		ID:           pkg.Get("id").String(),
		Name:         pkg.Get("name").String(),
		Title:        pkg.Get("title").String(),
		Notes:        pkg.Get("notes").String(),
		State:        pkg.Get("state").String(),
		Type:         pkg.Get("type").String(),
		Private:      pkg.Get("private").Bool(),
		LicenseID:    pkg.Get("license_id").String(),
		LicenseTitle: pkg.Get("license_title").String(),
	}
	pkg.Get("extras").ForEach(func(_, e gjson.Result) bool {
		if e.Get("key").String() == "update_frequency" {
			rec.Frequency = e.Get("value").String()
			return false
		}
		return true
	})
	pkg.Get("tags").ForEach(func(_, t gjson.Result) bool {
		rec.Tags = append(rec.Tags, t.Get("name").String())
		return true
	})
	pkg.Get("groups").ForEach(func(_, g gjson.Result) bool {
		rec.Groups = append(rec.Groups, g.Get("name").String())
		return true
	})
	pkg.Get("resources").ForEach(func(_, r gjson.Result) bool {
		rec.Resources = append(rec.Resources, RemoteResource{
			ID:       r.Get("id").String(),
			Name:     r.Get("name").String(),
			URL:      r.Get("url").String(),
			Format:   r.Get("format").String(),
			Mimetype: r.Get("mimetype").String(),
		})
		return true
	})
	return rec
}
