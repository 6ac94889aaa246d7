// Package square implements the billing adapter on top of the Square subscriptions API.
package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/tenantbilling-backend/internal/billingprovider"
	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
	pkgsquare "github.com/angelmondragon/tenantbilling-backend/pkg/square"
)

const provider = enums.BillingProviderSquare

// Client is the subset of pkg/square the adapter depends on.
type Client interface {
	EnsureCustomer(ctx context.Context, params pkgsquare.CustomerCreateParams) (*sq.Customer, error)
	CreateCard(ctx context.Context, params pkgsquare.CardCreateParams) (*sq.Card, error)
	CreateSubscription(ctx context.Context, params pkgsquare.SubscriptionCreateParams) (*sq.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error)
	ResumeSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error)
	LocationID() string
	SigningSecret() string
}

// Adapter is the Square billing adapter.
type Adapter struct {
	client Client
	logg   *logger.Logger
}

var _ billingprovider.Adapter = (*Adapter)(nil)

// New returns a Square adapter.
func New(client Client, logg *logger.Logger) (*Adapter, error) {
	if client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square client required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Adapter{client: client, logg: logg}, nil
}

func (a *Adapter) Name() enums.BillingProvider {
	return provider
}

func (a *Adapter) CreateCustomer(ctx context.Context, tenant *models.Tenant, extra map[string]string) (*billingprovider.Customer, error) {
	if tenant == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant required")
	}
	params := pkgsquare.CustomerCreateParams{
		Email:       tenant.BillingEmail,
		CompanyName: tenant.Name,
		ReferenceID: tenant.ID.String(),
	}
	if note := extra["note"]; note != "" {
		params.Note = note
	}
	cust, err := a.client.EnsureCustomer(ctx, params)
	if err != nil {
		return nil, normalize("create customer", err)
	}
	return &billingprovider.Customer{ID: deref(cust.ID), Email: deref(cust.EmailAddress)}, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, tenant *models.Tenant, sub *models.Subscription, plan *models.Plan, paymentMethodToken string) (*billingprovider.ProviderSubscription, error) {
	if sub == nil || plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription and plan required")
	}
	if plan.ExternalPriceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeMissingPrerequisite, "plan has no square plan variation").
			WithDetails(map[string]any{"plan_id": plan.ID})
	}
	if sub.ExternalCustomerID == "" {
		cust, err := a.CreateCustomer(ctx, tenant, nil)
		if err != nil {
			return nil, err
		}
		sub.ExternalCustomerID = cust.ID
	}

	params := pkgsquare.SubscriptionCreateParams{
		LocationID:      a.client.LocationID(),
		PlanVariationID: plan.ExternalPriceID,
		CustomerID:      sub.ExternalCustomerID,
		IdempotencyKey:  "subscription-" + sub.ID.String(),
	}
	if token := strings.TrimSpace(paymentMethodToken); token != "" {
		card, err := a.client.CreateCard(ctx, pkgsquare.CardCreateParams{
			CustomerID:  sub.ExternalCustomerID,
			SourceID:    token,
			ReferenceID: sub.TenantID.String(),
		})
		if err != nil {
			return nil, normalize("create card", err)
		}
		params.CardID = deref(card.ID)
	}
	created, err := a.client.CreateSubscription(ctx, params)
	if err != nil {
		return nil, normalize("create subscription", err)
	}
	return toProviderSubscription(created), nil
}

func requireExternal(sub *models.Subscription) error {
	if sub == nil || sub.ExternalSubscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeMissingPrerequisite, "subscription has no provider id").
			WithDetails(map[string]any{"field": "external_subscription_id"})
	}
	return nil
}

// CancelSubscription schedules cancellation. Square always ends service at the charged-through date.
func (a *Adapter) CancelSubscription(ctx context.Context, sub *models.Subscription, immediate bool) (*billingprovider.ProviderSubscription, error) {
	if err := requireExternal(sub); err != nil {
		return nil, err
	}
	canceled, err := a.client.CancelSubscription(ctx, sub.ExternalSubscriptionID)
	if err != nil {
		return nil, normalize("cancel subscription", err)
	}
	if immediate {
		a.logg.Info(a.logg.WithSubscriptionID(ctx, sub.ID.String()), "square.cancel.scheduled_at_period_end")
	}
	return toProviderSubscription(canceled), nil
}

func (a *Adapter) ResumeSubscription(ctx context.Context, sub *models.Subscription) (*billingprovider.ProviderSubscription, error) {
	if err := requireExternal(sub); err != nil {
		return nil, err
	}
	current, err := a.client.GetSubscription(ctx, sub.ExternalSubscriptionID)
	if err != nil {
		return nil, normalize("get subscription", err)
	}
	switch {
	case current.Status != nil && *current.Status == sq.SubscriptionStatusPaused:
		resumed, err := a.client.ResumeSubscription(ctx, sub.ExternalSubscriptionID)
		if err != nil {
			return nil, normalize("resume subscription", err)
		}
		return toProviderSubscription(resumed), nil
	case deref(current.CanceledDate) != "":
		return nil, billingprovider.Unsupported(provider, "revert cancellation")
	default:
		return toProviderSubscription(current), nil
	}
}

func (a *Adapter) UpdateSubscription(context.Context, *models.Subscription, *models.Plan, billingprovider.UpdateOptions) (*billingprovider.ProviderSubscription, error) {
	return nil, billingprovider.Unsupported(provider, "plan swap")
}

func (a *Adapter) CreateCheckoutSession(context.Context, *models.Tenant, *models.Subscription, *models.Plan, billingprovider.CheckoutOptions) (*billingprovider.Session, error) {
	return nil, billingprovider.Unsupported(provider, "checkout session")
}

func (a *Adapter) CreatePortalSession(context.Context, string, billingprovider.PortalOptions) (*billingprovider.Session, error) {
	return nil, billingprovider.Unsupported(provider, "portal session")
}

// VerifyWebhookSignature checks a hex HMAC-SHA256 of the body keyed by the webhook secret.
func (a *Adapter) VerifyWebhookSignature(ctx context.Context, payload []byte, signature string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.logg.Error(ctx, "square.webhook.signature_panic", fmt.Errorf("%v", r))
			ok = false
		}
	}()
	secret := a.client.SigningSecret()
	if secret == "" {
		a.logg.Warn(ctx, "square.webhook.secret_missing")
		return false
	}
	provided, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(provided) == 0 {
		a.logg.Warn(ctx, "square.webhook.signature_invalid")
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), provided) {
		a.logg.Warn(ctx, "square.webhook.signature_invalid")
		return false
	}
	return true
}

func (a *Adapter) ParseWebhookEvent(payload []byte) (*billingprovider.Event, error) {
	return parseEvent(payload)
}

func normalize(op string, err error) error {
	status, code, detail := pkgsquare.ErrorDetails(err)
	return billingprovider.NormalizeError(provider, op, err,
		billingprovider.WithStatus(status),
		billingprovider.WithProviderCode(code),
		billingprovider.WithMessage(detail),
	)
}

func toProviderSubscription(s *sq.Subscription) *billingprovider.ProviderSubscription {
	if s == nil {
		return nil
	}
	ps := &billingprovider.ProviderSubscription{
		ID:                 deref(s.ID),
		CustomerID:         deref(s.CustomerID),
		PriceID:            deref(s.PlanVariationID),
		CurrentPeriodStart: parseDate(deref(s.StartDate)),
		CurrentPeriodEnd:   parseDate(deref(s.ChargedThroughDate)),
		CanceledAt:         parseDate(deref(s.CanceledDate)),
	}
	if s.Status != nil {
		ps.Status = strings.ToLower(string(*s.Status))
		ps.Paused = *s.Status == sq.SubscriptionStatusPaused
	}
	ps.CancelAtPeriodEnd = ps.CanceledAt != nil && ps.Status != "canceled"
	return ps
}

// parseDate reads Square's YYYY-MM-DD dates as UTC midnight.
func parseDate(value string) *time.Time {
	if value == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return nil
	}
	return &t
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
