package webhooks

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenantbilling-backend/internal/billingprovider"
	"github.com/angelmondragon/tenantbilling-backend/internal/plans"
	"github.com/angelmondragon/tenantbilling-backend/internal/subscriptions"
	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
	"github.com/angelmondragon/tenantbilling-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// errDropped marks an event that parsed fine but cannot be applied to any subscription.
var errDropped = errors.New("webhook event dropped")

// handledEventTypes are the event kinds the processor maps to a subscription operation.
var handledEventTypes = map[string]bool{
	billingprovider.EventInvoicePaymentFailed:        true,
	billingprovider.EventInvoicePaymentSucceeded:     true,
	billingprovider.EventInvoicePaid:                 true,
	billingprovider.EventCustomerSubscriptionDeleted: true,
	billingprovider.EventCustomerSubscriptionUpdated: true,
	billingprovider.EventCheckoutSessionCompleted:    true,
}

// Handles reports whether events of eventType change subscription state.
func Handles(eventType string) bool {
	return handledEventTypes[eventType]
}

// ProcessorParams wires the asynchronous processor.
type ProcessorParams struct {
	Adapter       billingprovider.Adapter
	DB            txRunner
	Ledger        *Ledger
	Manager       *subscriptions.Manager
	Plans         plans.Repository
	DefaultPlanID string
	Metrics       *metrics.WebhookMetrics
	Logger        *logger.Logger
}

// Processor applies queued webhook tasks to subscriptions.
type Processor struct {
	adapter       billingprovider.Adapter
	db            txRunner
	ledger        *Ledger
	manager       *subscriptions.Manager
	plans         plans.Repository
	defaultPlanID string
	metrics       *metrics.WebhookMetrics
	logg          *logger.Logger
}

func NewProcessor(p ProcessorParams) (*Processor, error) {
	switch {
	case p.Adapter == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "billing adapter required")
	case p.DB == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	case p.Ledger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "webhook ledger required")
	case p.Manager == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription manager required")
	case p.Plans == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "plan repository required")
	case p.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Processor{
		adapter:       p.Adapter,
		db:            p.DB,
		ledger:        p.Ledger,
		manager:       p.Manager,
		plans:         p.Plans,
		defaultPlanID: p.DefaultPlanID,
		metrics:       p.Metrics,
		logg:          p.Logger,
	}, nil
}

// Process applies one task. A nil return means the task is finished, including duplicates and
// events that cannot be applied. Returned errors are retryable unless they carry CodeValidation.
func (p *Processor) Process(ctx context.Context, task Task) error {
	provider := p.adapter.Name()
	if task.Provider != provider {
		return pkgerrors.New(pkgerrors.CodeValidation, "task provider does not match adapter").
			WithDetails(map[string]any{"provider": string(task.Provider)})
	}
	evt, err := p.adapter.ParseWebhookEvent(task.Payload)
	if err != nil {
		p.metrics.IncProcessed(string(provider), task.EventType, metrics.EventFailed)
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeValidation, err, "parse queued webhook")
		}
		return err
	}
	ctx = p.logg.WithWebhookEvent(ctx, string(provider), evt.ID, evt.Type)

	outcome := metrics.EventApplied
	err = p.db.WithTx(ctx, func(tx *gorm.DB) error {
		inserted, err := p.ledger.WithTx(tx).Insert(ctx, provider, evt.ID, evt.Type)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert webhook ledger row")
		}
		if !inserted {
			outcome = metrics.EventDuplicate
			return nil
		}

		mgr := p.manager.WithTx(tx)
		applied, err := p.apply(ctx, mgr, evt)
		switch {
		case err == nil:
			if !applied {
				outcome = metrics.EventIgnored
			}
			return nil
		case errors.Is(err, errDropped):
			outcome = metrics.EventDropped
			p.logg.Warn(p.logg.WithField(ctx, "subscription_ref", evt.SubscriptionID), "webhook.subscription_not_found")
			return nil
		case subscriptions.IsInvalidTransition(err):
			outcome = metrics.EventDropped
			warnCtx := p.logg.WithFields(ctx, map[string]any{
				"subscription_ref": evt.SubscriptionID,
				"reason":           err.Error(),
			})
			p.logg.Warn(warnCtx, "webhook.transition_rejected")
			return nil
		default:
			return err
		}
	})
	if err != nil {
		p.metrics.IncProcessed(string(provider), evt.Type, metrics.EventFailed)
		p.logg.Error(ctx, "webhook.process_failed", err)
		return err
	}
	p.metrics.IncProcessed(string(provider), evt.Type, outcome)
	p.logg.Info(p.logg.WithField(ctx, "outcome", outcome), "webhook.processed")
	return nil
}

// apply dispatches evt to the mapped manager operation. It returns false for event kinds it does not handle.
func (p *Processor) apply(ctx context.Context, mgr *subscriptions.Manager, evt *billingprovider.Event) (bool, error) {
	opts := []subscriptions.EventOption{subscriptions.WithExternalEventID(evt.ID)}

	if evt.Type == billingprovider.EventCheckoutSessionCompleted {
		return true, p.completeCheckout(ctx, mgr, evt, opts)
	}
	if !Handles(evt.Type) {
		return false, nil
	}

	sub, err := p.findSubscription(ctx, mgr.Repository(), evt)
	if err != nil {
		return false, err
	}
	if sub == nil {
		return false, errDropped
	}

	switch evt.Type {
	case billingprovider.EventInvoicePaymentFailed:
		opts = append(opts, subscriptions.WithEventData(map[string]any{"invoice_id": evt.ObjectID}))
		return true, mgr.MarkPastDue(ctx, sub, opts...)

	case billingprovider.EventInvoicePaymentSucceeded, billingprovider.EventInvoicePaid:
		// The invoice settled when a trial starts must not end that trial.
		switch {
		case sub.Status == enums.SubscriptionStatusPastDue,
			sub.Status == enums.SubscriptionStatusTrialing && !evt.SettlesTrialStart():
			return true, mgr.Activate(ctx, sub, evt.SubscriptionID, opts...)
		default:
			data := map[string]any{
				"invoice_id": evt.ObjectID,
				"status":     string(sub.Status),
			}
			if evt.BillingReason != "" {
				data["billing_reason"] = evt.BillingReason
			}
			if evt.AmountPaid != nil {
				data["amount_paid"] = *evt.AmountPaid
			}
			return true, mgr.RecordPaymentSucceeded(ctx, sub, data, opts...)
		}

	case billingprovider.EventCustomerSubscriptionDeleted:
		return true, mgr.Cancel(ctx, sub, subscriptions.CancelOptions{Immediate: true, Reason: "provider_deleted"}, opts...)

	default:
		switch {
		case evt.CancelAtPeriodEnd:
			if evt.PeriodEnd != nil && sub.BillingPeriodEnd == nil {
				end := evt.PeriodEnd.UTC()
				sub.BillingPeriodEnd = &end
			}
			return true, mgr.Cancel(ctx, sub, subscriptions.CancelOptions{Reason: "provider_cancel_at_period_end"}, opts...)
		case evt.Status == "active" &&
			(sub.Status == enums.SubscriptionStatusTrialing || sub.Status == enums.SubscriptionStatusPastDue):
			return true, mgr.Activate(ctx, sub, evt.SubscriptionID, opts...)
		default:
			return true, mgr.SyncBillingPeriod(ctx, sub, evt.PeriodStart, evt.PeriodEnd, opts...)
		}
	}
}

func (p *Processor) findSubscription(ctx context.Context, repo subscriptions.Repository, evt *billingprovider.Event) (*models.Subscription, error) {
	if evt.SubscriptionID != "" {
		sub, err := repo.FindByExternalSubscriptionID(ctx, p.adapter.Name(), evt.SubscriptionID)
		if err != nil || sub != nil {
			return sub, err
		}
	}
	if raw := evt.Metadata[billingprovider.MetadataSubscriptionID]; raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, nil
		}
		return repo.FindByID(ctx, id)
	}
	return nil, nil
}

// completeCheckout creates or reuses the tenant's subscription and activates it.
func (p *Processor) completeCheckout(ctx context.Context, mgr *subscriptions.Manager, evt *billingprovider.Event, opts []subscriptions.EventOption) error {
	tenantID, err := uuid.Parse(evt.TenantID())
	if err != nil {
		return errDropped
	}
	repo := mgr.Repository()
	sub, err := repo.FindLatestByTenant(ctx, tenantID)
	if err != nil {
		return err
	}

	planID := evt.PlanID()
	if planID == "" && sub != nil {
		planID = sub.PlanID
	}
	if planID == "" {
		planID = p.defaultPlanID
	}
	plan, err := p.plans.FindByID(ctx, planID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout references unknown plan").
			WithDetails(map[string]any{"plan_id": planID})
	}

	if sub == nil {
		sub, err = mgr.Create(ctx, subscriptions.CreateParams{
			TenantID:           tenantID,
			PlanID:             plan.ID,
			Provider:           p.adapter.Name(),
			ExternalCustomerID: evt.CustomerID,
		}, opts...)
		if err != nil {
			return err
		}
	}
	if evt.CustomerID != "" {
		sub.ExternalCustomerID = evt.CustomerID
	}

	switch sub.Status {
	case enums.SubscriptionStatusCanceled:
		// A paid checkout cannot reopen a subscription inside its grace window. Support reconciles it.
		err := pkgerrors.New(pkgerrors.CodeInvalidTransition, "checkout completed for a canceled subscription").
			WithDetails(map[string]any{"operation": string(subscriptions.OpActivate), "from": string(sub.Status)})
		p.logg.Error(p.logg.WithFields(ctx, map[string]any{
			"checkout_id":      evt.ObjectID,
			"subscription_id":  sub.ID.String(),
			"tenant_id":        tenantID.String(),
			"subscription_ref": evt.SubscriptionID,
		}), "webhook.checkout_unapplied", err)
		return err
	case enums.SubscriptionStatusNone, enums.SubscriptionStatusExpired:
		if sub.PlanID != plan.ID {
			sub.PlanID = plan.ID
		}
		if err := mgr.StartTrial(ctx, sub, plan.TrialDays, opts...); err != nil {
			return err
		}
	}
	return mgr.Activate(ctx, sub, evt.SubscriptionID, opts...)
}
