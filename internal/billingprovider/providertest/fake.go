// Package providertest offers an in-memory billing adapter for package tests.
package providertest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/angelmondragon/tenantbilling-backend/internal/billingprovider"
	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
)

// ValidSignature is the only signature the fake accepts.
const ValidSignature = "valid-signature"

// Adapter accepts ValidSignature and decodes payloads straight into billingprovider.Event.
type Adapter struct {
	Provider enums.BillingProvider

	mu    sync.Mutex
	Calls []string
}

// New returns a fake adapter for provider.
func New(provider enums.BillingProvider) *Adapter {
	return &Adapter{Provider: provider}
}

func (a *Adapter) record(op string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Calls = append(a.Calls, op)
}

func (a *Adapter) Name() enums.BillingProvider { return a.Provider }

func (a *Adapter) CreateCustomer(ctx context.Context, tenant *models.Tenant, extra map[string]string) (*billingprovider.Customer, error) {
	a.record("create_customer")
	return &billingprovider.Customer{ID: "cus_" + tenant.ID.String()}, nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, tenant *models.Tenant, sub *models.Subscription, plan *models.Plan, token string) (*billingprovider.ProviderSubscription, error) {
	a.record("create_subscription")
	if sub.ExternalCustomerID == "" {
		sub.ExternalCustomerID = "cus_" + tenant.ID.String()
	}
	return &billingprovider.ProviderSubscription{ID: "sub_" + sub.ID.String(), CustomerID: sub.ExternalCustomerID, PriceID: plan.ExternalPriceID}, nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, sub *models.Subscription, immediate bool) (*billingprovider.ProviderSubscription, error) {
	a.record("cancel_subscription")
	return &billingprovider.ProviderSubscription{ID: sub.ExternalSubscriptionID, CancelAtPeriodEnd: !immediate}, nil
}

func (a *Adapter) ResumeSubscription(ctx context.Context, sub *models.Subscription) (*billingprovider.ProviderSubscription, error) {
	a.record("resume_subscription")
	return &billingprovider.ProviderSubscription{ID: sub.ExternalSubscriptionID}, nil
}

func (a *Adapter) UpdateSubscription(ctx context.Context, sub *models.Subscription, plan *models.Plan, opts billingprovider.UpdateOptions) (*billingprovider.ProviderSubscription, error) {
	a.record("update_subscription")
	return &billingprovider.ProviderSubscription{ID: sub.ExternalSubscriptionID, PriceID: plan.ExternalPriceID}, nil
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, tenant *models.Tenant, sub *models.Subscription, plan *models.Plan, opts billingprovider.CheckoutOptions) (*billingprovider.Session, error) {
	a.record("create_checkout_session")
	return &billingprovider.Session{ID: "cs_test", URL: "https://checkout.test/cs_test"}, nil
}

func (a *Adapter) CreatePortalSession(ctx context.Context, customerID string, opts billingprovider.PortalOptions) (*billingprovider.Session, error) {
	a.record("create_portal_session")
	return &billingprovider.Session{ID: "bps_test", URL: "https://portal.test/bps_test"}, nil
}

func (a *Adapter) VerifyWebhookSignature(ctx context.Context, payload []byte, signature string) bool {
	return signature == ValidSignature
}

func (a *Adapter) ParseWebhookEvent(payload []byte) (*billingprovider.Event, error) {
	var event billingprovider.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid webhook payload")
	}
	event.Provider = a.Provider
	event.Raw = append(json.RawMessage(nil), payload...)
	if err := billingprovider.ValidateEvent(&event); err != nil {
		return nil, err
	}
	return &event, nil
}

// Payload encodes event as a payload the fake parses back.
func Payload(event billingprovider.Event) []byte {
	raw, _ := json.Marshal(event)
	return raw
}
