package services

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"staysync/internal/domain/webhook"
	"staysync/internal/metrics"
	"staysync/internal/repository"
	sync_errors "staysync/pkg/errors"
	"staysync/pkg/logger"
)

type IngestorConfig struct {
	Provider     string
	Secret       string
	AllowedIPs   []string
	ReplayWindow time.Duration
	MaxBodyBytes int
}

// WebhookIngestor validates inbound partner deliveries and persists the
// accepted ones for asynchronous processing. Checks run cheapest first
// and every rejection is a hard 4xx at the transport layer; the partner
// retries rejected deliveries on its own schedule.
type WebhookIngestor struct {
	webhooks repository.WebhookRepository
	cfg      IngestorConfig
	log      *logger.Logger
	now      func() time.Time
}

func NewWebhookIngestor(webhooks repository.WebhookRepository, cfg IngestorConfig, log *logger.Logger) *WebhookIngestor {
	if cfg.Provider == "" {
		cfg.Provider = "channex"
	}
	return &WebhookIngestor{webhooks: webhooks, cfg: cfg, log: log, now: time.Now}
}

// Ingest runs the acceptance pipeline on one delivery. On success the
// returned record is queued in the received state; a duplicate of an
// already-accepted event returns ErrAlreadyExists so the caller can
// acknowledge without requeueing.
func (s *WebhookIngestor) Ingest(ctx context.Context, sourceIP, signature string, body []byte) (*webhook.Record, error) {
	if s.cfg.MaxBodyBytes > 0 && len(body) > s.cfg.MaxBodyBytes {
		metrics.WebhookIngested.WithLabelValues("too_large").Inc()
		return nil, sync_errors.ErrTooLarge
	}

	if len(s.cfg.AllowedIPs) > 0 && !s.ipAllowed(sourceIP) {
		metrics.WebhookIngested.WithLabelValues("forbidden").Inc()
		s.log.Warnf("webhook from disallowed ip %s rejected", sourceIP)
		return nil, sync_errors.ErrForbidden
	}

	if s.cfg.Secret != "" {
		if signature == "" || !VerifyHMAC(s.cfg.Secret, body, signature) {
			metrics.WebhookIngested.WithLabelValues("invalid_signature").Inc()
			s.log.Warnf("webhook from %s rejected: signature mismatch", sourceIP)
			return nil, sync_errors.ErrInvalidSignature
		}
	}

	env, err := webhook.ParseEnvelope(body)
	if err != nil {
		metrics.WebhookIngested.WithLabelValues("malformed").Inc()
		return nil, sync_errors.ErrInvalidInput
	}

	// Deliveries too far from now in either direction are treated as
	// replays. Events without a parseable timestamp pass through.
	if s.cfg.ReplayWindow > 0 {
		if ts, ok := env.EventTime(); ok {
			drift := s.now().Sub(ts)
			if drift < 0 {
				drift = -drift
			}
			if drift > s.cfg.ReplayWindow {
				metrics.WebhookIngested.WithLabelValues("stale_event").Inc()
				s.log.Warnf("webhook %s rejected: event time %s outside replay window", env.EventID(), ts)
				return nil, sync_errors.ErrStaleEvent
			}
		}
	}

	eventID := env.EventID()
	if eventID == "" {
		eventID = uuid.NewString()
	}

	dup, err := s.webhooks.HasActive(ctx, s.cfg.Provider, eventID)
	if err != nil {
		return nil, err
	}
	if dup {
		metrics.WebhookIngested.WithLabelValues("duplicate").Inc()
		return nil, sync_errors.ErrAlreadyExists
	}

	rec := &webhook.Record{
		ID:         uuid.New(),
		Provider:   s.cfg.Provider,
		EventID:    eventID,
		EventType:  env.KindName(),
		Payload:    body,
		SourceIP:   sourceIP,
		ReceivedAt: s.now(),
		Status:     webhook.StatusReceived,
	}
	if err := s.webhooks.Create(ctx, rec); err != nil {
		return nil, err
	}
	metrics.WebhookIngested.WithLabelValues("accepted").Inc()
	s.log.Infof("webhook %s (%s) accepted from %s", eventID, rec.EventType, sourceIP)
	return rec, nil
}

// Get returns one stored delivery record.
func (s *WebhookIngestor) Get(ctx context.Context, id uuid.UUID) (*webhook.Record, error) {
	return s.webhooks.GetByID(ctx, id)
}

// ipAllowed matches the source against the allowlist; entries may be
// single addresses or CIDR blocks.
func (s *WebhookIngestor) ipAllowed(sourceIP string) bool {
	addr := net.ParseIP(strings.TrimSpace(sourceIP))
	for _, entry := range s.cfg.AllowedIPs {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			if _, cidr, err := net.ParseCIDR(entry); err == nil && addr != nil && cidr.Contains(addr) {
				return true
			}
			continue
		}
		if entry == sourceIP {
			return true
		}
	}
	return false
}
