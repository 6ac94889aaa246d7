// Package billingprovider defines the provider-neutral billing contract and its error normalization.
package billingprovider

import (
	"context"
	"encoding/json"
	"time"

	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
)

// Adapter is implemented once per payment provider. Callers never see provider SDK types.
type Adapter interface {
	Name() enums.BillingProvider
	CreateCustomer(ctx context.Context, tenant *models.Tenant, extra map[string]string) (*Customer, error)
	// CreateSubscription creates the customer first when sub has none and writes its id onto sub.
	CreateSubscription(ctx context.Context, tenant *models.Tenant, sub *models.Subscription, plan *models.Plan, paymentMethodToken string) (*ProviderSubscription, error)
	CancelSubscription(ctx context.Context, sub *models.Subscription, immediate bool) (*ProviderSubscription, error)
	ResumeSubscription(ctx context.Context, sub *models.Subscription) (*ProviderSubscription, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription, newPlan *models.Plan, opts UpdateOptions) (*ProviderSubscription, error)
	CreateCheckoutSession(ctx context.Context, tenant *models.Tenant, sub *models.Subscription, plan *models.Plan, opts CheckoutOptions) (*Session, error)
	CreatePortalSession(ctx context.Context, customerID string, opts PortalOptions) (*Session, error)
	// VerifyWebhookSignature fails closed and never panics.
	VerifyWebhookSignature(ctx context.Context, payload []byte, signature string) bool
	ParseWebhookEvent(payload []byte) (*Event, error)
}

// Customer is the provider's customer record.
type Customer struct {
	ID    string
	Email string
}

// ProviderSubscription is the provider's view of a subscription.
type ProviderSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CancelAtPeriodEnd  bool
	Paused             bool
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CanceledAt         *time.Time
	Metadata           map[string]string
}

// Session is a hosted checkout or portal flow.
type Session struct {
	ID  string
	URL string
}

// Proration selects how a plan swap is billed mid-cycle.
type Proration string

const (
	ProrationCreateProrations Proration = "create_prorations"
	ProrationAlwaysInvoice    Proration = "always_invoice"
	ProrationNone             Proration = "none"
)

// UpdateOptions tunes a plan swap.
type UpdateOptions struct {
	Proration Proration `json:"proration" validate:"omitempty,oneof=create_prorations always_invoice none"`
}

// ProrationOrDefault returns the requested policy, defaulting to create_prorations.
func (o UpdateOptions) ProrationOrDefault() Proration {
	if o.Proration == "" {
		return ProrationCreateProrations
	}
	return o.Proration
}

// CheckoutOptions override the configured checkout redirects.
type CheckoutOptions struct {
	SuccessURL string            `json:"success_url" validate:"omitempty,url"`
	CancelURL  string            `json:"cancel_url" validate:"omitempty,url"`
	TrialDays  int               `json:"trial_days" validate:"gte=0"`
	Metadata   map[string]string `json:"metadata"`
}

// PortalOptions override the configured portal return URL.
type PortalOptions struct {
	ReturnURL string `json:"return_url" validate:"omitempty,url"`
}

// Provider-neutral webhook event kinds. Adapters translate their own event names onto these.
const (
	EventInvoicePaymentFailed        = "invoice.payment_failed"
	EventInvoicePaymentSucceeded     = "invoice.payment_succeeded"
	EventInvoicePaid                 = "invoice.paid"
	EventCustomerSubscriptionDeleted = "customer.subscription.deleted"
	EventCustomerSubscriptionUpdated = "customer.subscription.updated"
	EventCheckoutSessionCompleted    = "checkout.session.completed"
)

// BillingReasonSubscriptionCreate marks the invoice a provider issues when a subscription is created.
const BillingReasonSubscriptionCreate = "subscription_create"

// Metadata keys carried on provider objects.
const (
	MetadataTenantID       = "tenant_id"
	MetadataSubscriptionID = "subscription_id"
	MetadataPlanID         = "plan_id"
)

// Event is a parsed webhook delivery.
type Event struct {
	ID                string                `json:"id"`
	Type              string                `json:"type"`
	ProviderType      string                `json:"provider_type"`
	Provider          enums.BillingProvider `json:"provider"`
	ObjectID          string                `json:"object_id"`
	SubscriptionID    string                `json:"subscription_id"`
	CustomerID        string                `json:"customer_id"`
	Status            string                `json:"status"`
	CancelAtPeriodEnd bool                  `json:"cancel_at_period_end"`
	PeriodStart       *time.Time            `json:"period_start,omitempty"`
	PeriodEnd         *time.Time            `json:"period_end,omitempty"`
	// AmountPaid is the invoice total in minor units; nil when the provider does not report it.
	AmountPaid        *int64                `json:"amount_paid,omitempty"`
	BillingReason     string                `json:"billing_reason,omitempty"`
	Metadata          map[string]string     `json:"metadata,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	Raw               json.RawMessage       `json:"-"`
}

// SettlesTrialStart reports whether a paid invoice is the one settled when a trial subscription is
// created: the subscription_create invoice or any invoice for zero.
func (e *Event) SettlesTrialStart() bool {
	if e == nil {
		return false
	}
	return e.BillingReason == BillingReasonSubscriptionCreate || (e.AmountPaid != nil && *e.AmountPaid == 0)
}

// TenantID returns the tenant reference carried in metadata.
func (e *Event) TenantID() string {
	if e == nil {
		return ""
	}
	return e.Metadata[MetadataTenantID]
}

// PlanID returns the plan reference carried in metadata.
func (e *Event) PlanID() string {
	if e == nil {
		return ""
	}
	return e.Metadata[MetadataPlanID]
}

// ValidateEvent rejects parsed events missing the fields ingestion depends on.
func ValidateEvent(e *Event) error {
	if e == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event missing")
	}
	missing := []string{}
	if e.ID == "" {
		missing = append(missing, "id")
	}
	if e.Type == "" {
		missing = append(missing, "type")
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event missing required fields").
			WithDetails(map[string]any{"missing": missing})
	}
	return nil
}

// SubscriptionMetadata builds the metadata attached to provider objects for a subscription.
func SubscriptionMetadata(tenant *models.Tenant, sub *models.Subscription, plan *models.Plan) map[string]string {
	md := map[string]string{}
	if tenant != nil {
		md[MetadataTenantID] = tenant.ID.String()
	}
	if sub != nil {
		md[MetadataSubscriptionID] = sub.ID.String()
	}
	if plan != nil {
		md[MetadataPlanID] = plan.ID
	}
	return md
}
