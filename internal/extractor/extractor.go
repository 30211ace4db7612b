// Package extractor drives the remote extraction service: it submits jobs
// cut to a user's requested footprint, polls their status, and mirrors the
// outcome onto extractor task rows. A job may be aborted only while its
// outcome is still open.
package extractor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/terrado/geosyncsrv/internal/adapters/remote"
	"github.com/terrado/geosyncsrv/internal/db"
	"github.com/terrado/geosyncsrv/internal/db/models"
	"github.com/terrado/geosyncsrv/internal/notify"
	"github.com/terrado/geosyncsrv/pkg/apperrors"
	"github.com/terrado/geosyncsrv/pkg/types"
)

var (
	ErrExtractor = apperrors.New("extraction service error").SetStatusCode(http.StatusBadGateway)
	// ErrJobClosed rejects aborts on jobs that already reached an outcome.
	ErrJobClosed = apperrors.New("extraction job already finished").SetStatusCode(http.StatusConflict)
)

const jobsPath = "/jobs"

// details is the opaque remote handle stored per task. StatusURL is a path
// relative to the service base.
type details struct {
	StatusURL   string `json:"status_url"`
	DownloadURL string `json:"download_url,omitempty"`
}

type Service struct {
	db     db.CatalogDb
	client *remote.Client
	notify notify.Notifier
}

func New(store db.CatalogDb, url string, timeout time.Duration, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Service{
		db:     store,
		client: remote.NewClient("extractor", url, timeout, remote.NoAuth()),
		notify: notifier,
	}
}

// Submit sends one extraction job and records it. Query is the extraction
// request (footprint, format, target) forwarded verbatim.
func (s *Service) Submit(ctx context.Context, username types.Username, targetModel, targetID string, query json.RawMessage) (*models.ExtractorTask, error) {
	rsp, err := s.client.Do(ctx, http.MethodPost, jobsPath, query, "application/json")
	if err != nil {
		return nil, ErrExtractor.Err(err)
	}
	statusURL := gjson.GetBytes(rsp.Body, "status_url").String()
	if statusURL == "" {
		return nil, ErrExtractor.Msg("the extraction service returned no status url")
	}

	t := &models.ExtractorTask{
		Username:    username,
		TargetModel: targetModel,
		TargetID:    targetID,
	}
	if err := t.Query.Set([]byte(query)); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(details{StatusURL: statusURL})
	if err != nil {
		return nil, err
	}
	if err := t.Details.Set(raw); err != nil {
		return nil, err
	}
	if err := s.db.CreateExtractorTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Poll refreshes every open job. Terminal remote states close the task and
// notify the submitter; transient poll failures leave the row open for the
// next pass.
func (s *Service) Poll(ctx context.Context) {
	open, err := s.openTasks(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("extractor: poll scan failed")
		return
	}
	for i := range open {
		if ctx.Err() != nil {
			return
		}
		if err := s.pollOne(ctx, &open[i]); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("job", open[i].UUID.String()).Msg("extractor: poll failed")
		}
	}
}

func (s *Service) openTasks(ctx context.Context) ([]models.ExtractorTask, error) {
	all, err := s.db.ListExtractorTasks(ctx, "")
	if err != nil {
		return nil, err
	}
	var open []models.ExtractorTask
	for _, t := range all {
		if t.Success == nil {
			open = append(open, t)
		}
	}
	return open, nil
}

func (s *Service) pollOne(ctx context.Context, t *models.ExtractorTask) error {
	d, err := taskDetails(t)
	if err != nil {
		return err
	}
	rsp, err := s.client.Do(ctx, http.MethodGet, d.StatusURL, nil, "")
	if err != nil {
		return err
	}

	body := gjson.ParseBytes(rsp.Body)
	now := time.Now().UTC()
	if t.StartDatetime == nil && body.Get("status").String() != "pending" {
		t.StartDatetime = &now
	}

	switch body.Get("status").String() {
	case "success":
		ok := true
		t.Success = &ok
		t.StopDatetime = &now
		d.DownloadURL = body.Get("download_url").String()
		if err := s.closeTask(ctx, t, d); err != nil {
			return err
		}
		s.notify.Notify(ctx, notify.Notification{
			Event:      notify.EventExtractionSucceeded,
			Target:     t.TargetID,
			Link:       d.DownloadURL,
			Recipients: []types.Username{t.Username},
		})
	case "failure":
		ok := false
		t.Success = &ok
		t.StopDatetime = &now
		if err := s.closeTask(ctx, t, d); err != nil {
			return err
		}
		s.notify.Notify(ctx, notify.Notification{
			Event:      notify.EventExtractionFailed,
			Target:     t.TargetID,
			Recipients: []types.Username{t.Username},
		})
	default:
		// Still running: persist the start timestamp when it just moved.
		return s.db.UpdateExtractorTask(ctx, t)
	}
	return nil
}

func (s *Service) closeTask(ctx context.Context, t *models.ExtractorTask, d *details) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	if err := t.Details.Set(raw); err != nil {
		return err
	}
	return s.db.UpdateExtractorTask(ctx, t)
}

// Abort cancels an open job. Jobs that already reached an outcome are left
// untouched.
func (s *Service) Abort(ctx context.Context, id uuid.UUID) error {
	t, err := s.db.GetExtractorTask(ctx, id)
	if err != nil {
		return err
	}
	if t.Success != nil {
		return ErrJobClosed
	}
	d, err := taskDetails(t)
	if err != nil {
		return err
	}
	if _, err := s.client.Do(ctx, http.MethodDelete, d.StatusURL, nil, ""); err != nil {
		return ErrExtractor.Err(err)
	}
	ok := false
	t.Success = &ok
	now := time.Now().UTC()
	t.StopDatetime = &now
	return s.db.UpdateExtractorTask(ctx, t)
}

// Start polls open jobs on the interval until the context is cancelled.
func (s *Service) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

func taskDetails(t *models.ExtractorTask) (*details, error) {
	var d details
	if t.Details.Status == pgtype.Present {
		if err := json.Unmarshal(t.Details.Bytes, &d); err != nil {
			return nil, err
		}
	}
	if d.StatusURL == "" {
		return nil, ErrExtractor.Msg("the job carries no status url")
	}
	return &d, nil
}
