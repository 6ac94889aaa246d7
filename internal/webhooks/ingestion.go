// Package webhooks ingests provider webhooks: a synchronous verify-dedupe-enqueue fast path
// and an asynchronous processor that applies the mapped subscription transition.
package webhooks

import (
	"context"
	"time"

	"github.com/angelmondragon/tenantbilling-backend/internal/billingprovider"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
	"github.com/angelmondragon/tenantbilling-backend/pkg/metrics"
)

// Fast-path result statuses.
const (
	StatusAccepted         = "accepted"
	StatusAlreadyProcessed = "already_processed"
	StatusIgnored          = "ignored"
)

// IngestRequest is one webhook delivery as received over HTTP.
type IngestRequest struct {
	Provider  enums.BillingProvider
	Payload   []byte
	Signature string
}

// Result is the fast-path outcome.
type Result struct {
	Status    string `json:"status"`
	EventID   string `json:"event_id,omitempty"`
	EventType string `json:"event_type,omitempty"`
}

type ledgerReader interface {
	Exists(ctx context.Context, provider enums.BillingProvider, eventID string) (bool, error)
}

type inFlightGuard interface {
	CheckAndMark(ctx context.Context, provider enums.BillingProvider, eventID string) (bool, error)
	Clear(ctx context.Context, provider enums.BillingProvider, eventID string) error
}

// ServiceParams wires the fast path. Guard is optional.
type ServiceParams struct {
	Adapter  billingprovider.Adapter
	Ledger   ledgerReader
	Guard    inFlightGuard
	Enqueuer Enqueuer
	Metrics  *metrics.WebhookMetrics
	Logger   *logger.Logger
	Clock    func() time.Time
}

// Service is the webhook fast path. It makes no provider calls and mutates no subscription state.
type Service struct {
	adapter  billingprovider.Adapter
	ledger   ledgerReader
	guard    inFlightGuard
	enqueuer Enqueuer
	metrics  *metrics.WebhookMetrics
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	if p.Adapter == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing adapter required")
	}
	if p.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "webhook ledger required")
	}
	if p.Enqueuer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "webhook enqueuer required")
	}
	if p.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		adapter:  p.Adapter,
		ledger:   p.Ledger,
		guard:    p.Guard,
		enqueuer: p.Enqueuer,
		metrics:  p.Metrics,
		logg:     p.Logger,
		now:      clock,
	}, nil
}

// Provider is the provider this service accepts deliveries for.
func (s *Service) Provider() enums.BillingProvider {
	return s.adapter.Name()
}

// Ingest verifies, dedupes and enqueues one delivery. Event kinds the processor does not handle
// are acknowledged without being queued.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (Result, error) {
	provider := s.adapter.Name()
	if req.Provider != provider {
		return Result{}, pkgerrors.New(pkgerrors.CodeNotFound, "unknown webhook provider").
			WithDetails(map[string]any{"provider": string(req.Provider)})
	}
	ctx = s.logg.WithProvider(ctx, string(provider))

	if !s.adapter.VerifyWebhookSignature(ctx, req.Payload, req.Signature) {
		s.metrics.IncRequest(string(provider), metrics.WebhookInvalidSignature)
		return Result{}, pkgerrors.New(pkgerrors.CodeSignature, "invalid webhook signature")
	}

	evt, err := s.adapter.ParseWebhookEvent(req.Payload)
	if err != nil {
		s.metrics.IncRequest(string(provider), metrics.WebhookMalformed)
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
		}
		return Result{}, err
	}
	ctx = s.logg.WithWebhookEvent(ctx, "", evt.ID, evt.Type)
	result := Result{EventID: evt.ID, EventType: evt.Type}

	if !Handles(evt.Type) {
		s.metrics.IncRequest(string(provider), metrics.WebhookIgnored)
		s.logg.Info(ctx, "webhook.ignored")
		result.Status = StatusIgnored
		return result, nil
	}

	processed, err := s.ledger.Exists(ctx, provider, evt.ID)
	if err != nil {
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook ledger")
	}
	if processed {
		s.metrics.IncRequest(string(provider), metrics.WebhookDuplicate)
		s.logg.Info(ctx, "webhook.already_processed")
		result.Status = StatusAlreadyProcessed
		return result, nil
	}

	result.Status = StatusAccepted
	marked := false
	if s.guard != nil {
		inFlight, err := s.guard.CheckAndMark(ctx, provider, evt.ID)
		switch {
		case err != nil:
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook.guard_unavailable")
		case inFlight:
			s.metrics.IncRequest(string(provider), metrics.WebhookDuplicate)
			s.logg.Info(ctx, "webhook.in_flight")
			return result, nil
		default:
			marked = true
		}
	}

	task := Task{
		Provider:   provider,
		EventID:    evt.ID,
		EventType:  evt.Type,
		Payload:    req.Payload,
		ReceivedAt: s.now().UTC(),
	}
	if err := s.enqueuer.Enqueue(ctx, task); err != nil {
		s.metrics.IncRequest(string(provider), metrics.WebhookEnqueueFailed)
		s.logg.Error(ctx, "webhook.enqueue_failed", err)
		if marked {
			if clearErr := s.guard.Clear(ctx, provider, evt.ID); clearErr != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", clearErr.Error()), "webhook.guard_clear_failed")
			}
		}
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue webhook")
	}

	s.metrics.IncRequest(string(provider), metrics.WebhookAccepted)
	s.logg.Info(ctx, "webhook.accepted")
	return result, nil
}
