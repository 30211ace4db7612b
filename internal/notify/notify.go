// Package notify fans domain events out to the people who should hear about
// them. Events are fire and forget: a failed delivery is logged and never
// fails the mutation that raised it.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/terrado/geosyncsrv/pkg/types"
)

// Event names the hooks the managers raise.
type Event string

const (
	EventDatasetCreated      Event = "dataset_created"
	EventDatasetUpdated      Event = "dataset_updated"
	EventDatasetDeleted      Event = "dataset_deleted"
	EventResourceCreated     Event = "resource_created"
	EventResourceUpdated     Event = "resource_updated"
	EventResourceDeleted     Event = "resource_deleted"
	EventResourceFailed      Event = "resource_failed"
	EventOrganisationCreated Event = "organisation_created"
	EventMembershipConfirmed Event = "membership_confirmed"
	EventExtractionSucceeded Event = "extraction_succeeded"
	EventExtractionFailed    Event = "extraction_failed"
)

// Notification is one outbound message. Recipients are resolved by the hub
// from the recipient rules before delivery.
type Notification struct {
	Event  Event          `json:"event"`
	Actor  types.Username `json:"actor"`
	Target string         `json:"target"`
	// Link is the deep link into the front office.
	Link string `json:"link"`
	// Organisation scopes referent resolution; empty means platform-wide.
	Organisation types.Slug `json:"organisation,omitempty"`
	// IncludePartners extends delivery to partner profiles.
	IncludePartners bool             `json:"-"`
	Recipients      []types.Username `json:"recipients"`
	SentAt          time.Time        `json:"sent_at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// recipientResolver answers the recipient rules: platform admins and the
// referents of the target organisation.
type recipientResolver interface {
	AdminUsernames(ctx context.Context) ([]types.Username, error)
	ReferentUsernames(ctx context.Context, org types.Slug) ([]types.Username, error)
	PartnerUsernames(ctx context.Context) ([]types.Username, error)
}

// Hub posts notifications to the front-office webhook.
type Hub struct {
	resolver recipientResolver
	url      string
	http     *http.Client
}

func NewHub(resolver recipientResolver, webhookURL string, timeout time.Duration) *Hub {
	return &Hub{
		resolver: resolver,
		url:      webhookURL,
		http:     &http.Client{Timeout: timeout},
	}
}

// Notify resolves recipients and delivers the event. Every failure path logs
// and returns; notification loss never propagates.
func (h *Hub) Notify(ctx context.Context, n Notification) {
	if h.url == "" {
		return
	}
	n.SentAt = time.Now().UTC()
	n.Recipients = h.resolveRecipients(ctx, n)

	body, err := json.Marshal(n)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("event", string(n.Event)).Msg("notification marshal failed")
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("event", string(n.Event)).Msg("notification request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	rsp, err := h.http.Do(req)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("event", string(n.Event)).Msg("notification delivery failed")
		return
	}
	rsp.Body.Close()
	if rsp.StatusCode >= 300 {
		log.Ctx(ctx).Warn().Int("status", rsp.StatusCode).Str("event", string(n.Event)).
			Msg("notification rejected by the front office")
	}
}

func (h *Hub) resolveRecipients(ctx context.Context, n Notification) []types.Username {
	seen := map[types.Username]bool{}
	var out []types.Username
	add := func(users []types.Username, err error, source string) {
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("source", source).Msg("recipient resolution failed")
			return
		}
		for _, u := range users {
			if u == "" || seen[u] {
				continue
			}
			seen[u] = true
			out = append(out, u)
		}
	}

	if n.Actor != "" {
		add([]types.Username{n.Actor}, nil, "actor")
	}
	admins, err := h.resolver.AdminUsernames(ctx)
	add(admins, err, "admins")
	if n.Organisation != "" {
		referents, err := h.resolver.ReferentUsernames(ctx, n.Organisation)
		add(referents, err, "referents")
	}
	if n.IncludePartners {
		partners, err := h.resolver.PartnerUsernames(ctx)
		add(partners, err, "partners")
	}
	return out
}

// Discard is a Notifier for tests and for deployments without a front
// office.
type Discard struct{}

func (Discard) Notify(context.Context, Notification) {}
