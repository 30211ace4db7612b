// Package csw drives the metadata catalog: CSW 2.0.2 Transaction requests
// for record lifecycle, the catalog's md.publish endpoint for visibility, and
// GetRecords for harvesting. Requests authenticate with Basic auth.
package csw

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/terrado/geosyncsrv/internal/adapters/remote"
)

const (
	publicationPath = "/srv/eng/csw-publication"
	cswPath         = "/srv/eng/csw"
	publishPath     = "/srv/eng/md.publish"
)

// Client is the metadata-catalog handle, safe for concurrent use.
type Client struct {
	tr *remote.Client
}

func New(url, username, password string, timeout time.Duration) *Client {
	return &Client{tr: remote.NewClient("csw", url, timeout, remote.BasicAuth(username, password))}
}

// Record is one normalized metadata record from a GetRecords response. The
// harvester treats it the way it treats a data-catalog package.
type Record struct {
	Identifier string
	Title      string
	Abstract   string
	Type       string
	Keywords   []string
	// References are the distribution links of the record, with their
	// declared protocol.
	References []Reference
}

type Reference struct {
	Protocol string
	URL      string
}

func transactionEnvelope(verb, payload string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<csw:Transaction service="CSW" version="2.0.2"` +
		` xmlns:csw="http://www.opengis.net/cat/csw/2.0.2">` +
		`<csw:` + verb + `>` + payload + `</csw:` + verb + `>` +
		`</csw:Transaction>`
}

// CreateRecord inserts the ISO 19139 metadata document and returns the
// identifier the catalog assigned to it.
func (c *Client) CreateRecord(ctx context.Context, metadata string) (string, error) {
	body := transactionEnvelope("Insert", metadata)
	rsp, err := c.tr.Do(ctx, http.MethodPost, publicationPath, []byte(body), "application/xml")
	if err != nil {
		return "", err
	}
	var result struct {
		Inserted   int    `xml:"TransactionSummary>totalInserted"`
		Identifier string `xml:"InsertResult>BriefRecord>identifier"`
	}
	if err := xml.Unmarshal(rsp.Body, &result); err != nil {
		return "", remote.ErrCritical.MsgErr("unreadable transaction response", err)
	}
	if result.Inserted == 0 {
		return "", remote.ErrValidationRejected.Msg("metadata record was not inserted")
	}
	return result.Identifier, nil
}

// UpdateRecord replaces the record carrying the identifier embedded in the
// metadata document.
func (c *Client) UpdateRecord(ctx context.Context, metadata string) error {
	body := transactionEnvelope("Update", metadata)
	rsp, err := c.tr.Do(ctx, http.MethodPost, publicationPath, []byte(body), "application/xml")
	if err != nil {
		return err
	}
	var result struct {
		Updated int `xml:"TransactionSummary>totalUpdated"`
	}
	if err := xml.Unmarshal(rsp.Body, &result); err != nil {
		return remote.ErrCritical.MsgErr("unreadable transaction response", err)
	}
	if result.Updated == 0 {
		return remote.ErrNotFound.Msg("metadata record not found for update")
	}
	return nil
}

// DeleteRecord removes the record by identifier. A missing record is
// reported as NotFound so deletion sequences can tolerate it.
func (c *Client) DeleteRecord(ctx context.Context, identifier string) error {
	constraint := `<csw:Constraint version="1.1.0"` +
		` xmlns:ogc="http://www.opengis.net/ogc"><ogc:Filter>` +
		`<ogc:PropertyIsEqualTo><ogc:PropertyName>dc:identifier</ogc:PropertyName>` +
		`<ogc:Literal>` + xmlEscape(identifier) + `</ogc:Literal>` +
		`</ogc:PropertyIsEqualTo></ogc:Filter></csw:Constraint>`
	body := transactionEnvelope("Delete", constraint)
	rsp, err := c.tr.Do(ctx, http.MethodPost, publicationPath, []byte(body), "application/xml")
	if err != nil {
		return err
	}
	var result struct {
		Deleted int `xml:"TransactionSummary>totalDeleted"`
	}
	if err := xml.Unmarshal(rsp.Body, &result); err != nil {
		return remote.ErrCritical.MsgErr("unreadable transaction response", err)
	}
	if result.Deleted == 0 {
		return remote.ErrNotFound.Msg("metadata record not found for deletion")
	}
	return nil
}

// PublishRecord makes the record and its attachments publicly visible.
func (c *Client) PublishRecord(ctx context.Context, identifier string) error {
	q := url.Values{}
	q.Set("ids", identifier)
	q.Set("publicationType", "")
	_, err := c.tr.Do(ctx, http.MethodGet, publishPath+"?"+q.Encode(), nil, "")
	return err
}

// GetRecord fetches one record by identifier as raw ISO 19139.
func (c *Client) GetRecord(ctx context.Context, identifier string) (string, error) {
	q := url.Values{}
	q.Set("service", "CSW")
	q.Set("version", "2.0.2")
	q.Set("request", "GetRecordById")
	q.Set("id", identifier)
	q.Set("outputSchema", "http://www.isotc211.org/2005/gmd")
	q.Set("elementSetName", "full")
	rsp, err := c.tr.Do(ctx, http.MethodGet, cswPath+"?"+q.Encode(), nil, "")
	if err != nil {
		return "", err
	}
	if !strings.Contains(string(rsp.Body), "MD_Metadata") {
		return "", remote.ErrNotFound.Msg("metadata record not found")
	}
	return string(rsp.Body), nil
}

// GetPackages runs the stored GetRecords request of a harvest source and
// returns every record, following the catalog's paging via nextRecord.
func (c *Client) GetPackages(ctx context.Context, getRecords string) ([]Record, error) {
	var out []Record
	start := 1
	for {
		body := withStartPosition(getRecords, start)
		rsp, err := c.tr.Do(ctx, http.MethodPost, cswPath, []byte(body), "application/xml")
		if err != nil {
			return nil, err
		}
		page, next, err := parseGetRecordsResponse(rsp.Body)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if next <= 0 || next <= start {
			return out, nil
		}
		start = next
	}
}

// withStartPosition rewrites the startPosition attribute of the stored
// request so paging does not depend on how the source recorded it.
func withStartPosition(getRecords string, start int) string {
	attr := fmt.Sprintf(`startPosition="%d"`, start)
	if idx := strings.Index(getRecords, "startPosition="); idx >= 0 {
		open := strings.Index(getRecords[idx:], `"`)
		if open >= 0 {
			if rest := strings.Index(getRecords[idx+open+1:], `"`); rest >= 0 {
				return getRecords[:idx] + attr + getRecords[idx+open+1+rest+1:]
			}
		}
	}
	if idx := strings.Index(getRecords, "<csw:GetRecords"); idx >= 0 {
		insert := idx + len("<csw:GetRecords")
		return getRecords[:insert] + " " + attr + getRecords[insert:]
	}
	return getRecords
}

type getRecordsResponse struct {
	SearchResults struct {
		NextRecord int         `xml:"nextRecord,attr"`
		Records    []xmlRecord `xml:"SummaryRecord"`
		FullRecords []xmlRecord `xml:"Record"`
	} `xml:"SearchResults"`
}

type xmlRecord struct {
	Identifier string   `xml:"identifier"`
	Title      string   `xml:"title"`
	Abstract   string   `xml:"abstract"`
	Type       string   `xml:"type"`
	Subjects   []string `xml:"subject"`
	References []struct {
		Scheme string `xml:"scheme,attr"`
		Value  string `xml:",chardata"`
	} `xml:"references"`
}

func parseGetRecordsResponse(body []byte) ([]Record, int, error) {
	var rsp getRecordsResponse
	if err := xml.Unmarshal(body, &rsp); err != nil {
		return nil, 0, remote.ErrCritical.MsgErr("unreadable GetRecords response", err)
	}
	raw := rsp.SearchResults.Records
	if len(raw) == 0 {
		raw = rsp.SearchResults.FullRecords
	}
	out := make([]Record, 0, len(raw))
	for _, r := range raw {
		rec := Record{
			Identifier: strings.TrimSpace(r.Identifier),
			Title:      strings.TrimSpace(r.Title),
			Abstract:   strings.TrimSpace(r.Abstract),
			Type:       strings.TrimSpace(r.Type),
			Keywords:   r.Subjects,
		}
		for _, ref := range r.References {
			rec.References = append(rec.References, Reference{
				Protocol: ref.Scheme,
				URL:      strings.TrimSpace(ref.Value),
			})
		}
		out = append(out, rec)
	}
	return out, rsp.SearchResults.NextRecord, nil
}

func xmlEscape(s string) string {
	var b strings.Builder
	xml.EscapeText(&b, []byte(s))
	return b.String()
}
