// Package stripe implements the billing adapter on top of stripe-go.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/angelmondragon/tenantbilling-backend/internal/billingprovider"
	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
	pkgstripe "github.com/angelmondragon/tenantbilling-backend/pkg/stripe"
	"github.com/angelmondragon/tenantbilling-backend/pkg/validate"
)

const provider = enums.BillingProviderStripe

// Params wires the adapter. Nil clients fall back to the stripe-go package APIs.
type Params struct {
	Client        *pkgstripe.Client
	Logger        *logger.Logger
	Customers     CustomerClient
	Subscriptions SubscriptionClient
	Checkout      CheckoutClient
	Portal        PortalClient
}

// Adapter is the Stripe billing adapter.
type Adapter struct {
	cfg           *pkgstripe.Client
	logg          *logger.Logger
	customers     CustomerClient
	subscriptions SubscriptionClient
	checkout      CheckoutClient
	portal        PortalClient
}

var _ billingprovider.Adapter = (*Adapter)(nil)

// New returns a Stripe adapter.
func New(p Params) (*Adapter, error) {
	if p.Client == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe client required")
	}
	if p.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	a := &Adapter{
		cfg:           p.Client,
		logg:          p.Logger,
		customers:     p.Customers,
		subscriptions: p.Subscriptions,
		checkout:      p.Checkout,
		portal:        p.Portal,
	}
	if a.customers == nil {
		a.customers = customerClient{}
	}
	if a.subscriptions == nil {
		a.subscriptions = subscriptionClient{}
	}
	if a.checkout == nil {
		a.checkout = checkoutClient{}
	}
	if a.portal == nil {
		a.portal = portalClient{}
	}
	return a, nil
}

func (a *Adapter) Name() enums.BillingProvider {
	return provider
}

func (a *Adapter) CreateCustomer(ctx context.Context, tenant *models.Tenant, extra map[string]string) (*billingprovider.Customer, error) {
	if tenant == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant required")
	}
	params := &stripe.CustomerParams{
		Name:     stripe.String(tenant.Name),
		Metadata: map[string]string{billingprovider.MetadataTenantID: tenant.ID.String()},
	}
	if tenant.BillingEmail != "" {
		params.Email = stripe.String(tenant.BillingEmail)
	}
	for k, v := range extra {
		params.Metadata[k] = v
	}
	cust, err := a.customers.New(ctx, params)
	if err != nil {
		return nil, a.normalize("create customer", err)
	}
	return &billingprovider.Customer{ID: cust.ID, Email: cust.Email}, nil
}

func (a *Adapter) ensureCustomer(ctx context.Context, tenant *models.Tenant, sub *models.Subscription) error {
	if sub.ExternalCustomerID != "" {
		return nil
	}
	cust, err := a.CreateCustomer(ctx, tenant, nil)
	if err != nil {
		return err
	}
	sub.ExternalCustomerID = cust.ID
	return nil
}

func (a *Adapter) CreateSubscription(ctx context.Context, tenant *models.Tenant, sub *models.Subscription, plan *models.Plan, paymentMethodToken string) (*billingprovider.ProviderSubscription, error) {
	if sub == nil || plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "subscription and plan required")
	}
	if plan.ExternalPriceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeMissingPrerequisite, "plan has no stripe price").
			WithDetails(map[string]any{"plan_id": plan.ID})
	}
	if err := a.ensureCustomer(ctx, tenant, sub); err != nil {
		return nil, err
	}
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(sub.ExternalCustomerID),
		Items:    []*stripe.SubscriptionItemsParams{{Price: stripe.String(plan.ExternalPriceID)}},
		Metadata: billingprovider.SubscriptionMetadata(tenant, sub, plan),
	}
	if paymentMethodToken != "" {
		params.DefaultPaymentMethod = stripe.String(paymentMethodToken)
	}
	if plan.TrialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(plan.TrialDays))
	}
	created, err := a.subscriptions.New(ctx, params)
	if err != nil {
		return nil, a.normalize("create subscription", err)
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

func (a *Adapter) CancelSubscription(ctx context.Context, sub *models.Subscription, immediate bool) (*billingprovider.ProviderSubscription, error) {
	if err := requireExternal(sub); err != nil {
		return nil, err
	}
	if immediate {
		canceled, err := a.subscriptions.Cancel(ctx, sub.ExternalSubscriptionID, &stripe.SubscriptionCancelParams{})
		if err != nil {
			return nil, a.normalize("cancel subscription", err)
		}
		return toProviderSubscription(canceled), nil
	}
	updated, err := a.subscriptions.Update(ctx, sub.ExternalSubscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return nil, a.normalize("cancel subscription", err)
	}
	return toProviderSubscription(updated), nil
}

func (a *Adapter) ResumeSubscription(ctx context.Context, sub *models.Subscription) (*billingprovider.ProviderSubscription, error) {
	if err := requireExternal(sub); err != nil {
		return nil, err
	}
	current, err := a.subscriptions.Get(ctx, sub.ExternalSubscriptionID, &stripe.SubscriptionParams{})
	if err != nil {
		return nil, a.normalize("get subscription", err)
	}
	if !current.CancelAtPeriodEnd && current.PauseCollection == nil {
		return toProviderSubscription(current), nil
	}
	params := &stripe.SubscriptionParams{}
	if current.CancelAtPeriodEnd {
		params.CancelAtPeriodEnd = stripe.Bool(false)
	}
	if current.PauseCollection != nil {
		params.AddExtra("pause_collection", "")
	}
	resumed, err := a.subscriptions.Update(ctx, sub.ExternalSubscriptionID, params)
	if err != nil {
		return nil, a.normalize("resume subscription", err)
	}
	return toProviderSubscription(resumed), nil
}

func (a *Adapter) UpdateSubscription(ctx context.Context, sub *models.Subscription, newPlan *models.Plan, opts billingprovider.UpdateOptions) (*billingprovider.ProviderSubscription, error) {
	if err := requireExternal(sub); err != nil {
		return nil, err
	}
	if newPlan == nil || newPlan.ExternalPriceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeMissingPrerequisite, "plan has no stripe price")
	}
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	current, err := a.subscriptions.Get(ctx, sub.ExternalSubscriptionID, &stripe.SubscriptionParams{})
	if err != nil {
		return nil, a.normalize("get subscription", err)
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeMissingPrerequisite, "stripe subscription has no items")
	}
	md := map[string]string{billingprovider.MetadataPlanID: newPlan.ID}
	updated, err := a.subscriptions.Update(ctx, sub.ExternalSubscriptionID, &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(current.Items.Data[0].ID),
			Price: stripe.String(newPlan.ExternalPriceID),
		}},
		ProrationBehavior: stripe.String(string(opts.ProrationOrDefault())),
		Metadata:          md,
	})
	if err != nil {
		return nil, a.normalize("update subscription", err)
	}
	return toProviderSubscription(updated), nil
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, tenant *models.Tenant, sub *models.Subscription, plan *models.Plan, opts billingprovider.CheckoutOptions) (*billingprovider.Session, error) {
	if tenant == nil || sub == nil || plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant, subscription and plan required")
	}
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	successURL := firstNonEmpty(opts.SuccessURL, a.cfg.SuccessURL())
	cancelURL := firstNonEmpty(opts.CancelURL, a.cfg.CancelURL())
	if successURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeMissingPrerequisite, "checkout success url required")
	}
	if plan.ExternalPriceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeMissingPrerequisite, "plan has no stripe price")
	}
	if err := a.ensureCustomer(ctx, tenant, sub); err != nil {
		return nil, err
	}

	md := billingprovider.SubscriptionMetadata(tenant, sub, plan)
	for k, v := range opts.Metadata {
		md[k] = v
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(sub.ExternalCustomerID),
		ClientReferenceID: stripe.String(tenant.ID.String()),
		SuccessURL:        stripe.String(successURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Price:    stripe.String(plan.ExternalPriceID),
			Quantity: stripe.Int64(1),
		}},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{Metadata: md},
		Metadata:         md,
	}
	if cancelURL != "" {
		params.CancelURL = stripe.String(cancelURL)
	}
	if opts.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(opts.TrialDays))
	}
	session, err := a.checkout.New(ctx, params)
	if err != nil {
		return nil, a.normalize("create checkout session", err)
	}
	return &billingprovider.Session{ID: session.ID, URL: session.URL}, nil
}

func (a *Adapter) CreatePortalSession(ctx context.Context, customerID string, opts billingprovider.PortalOptions) (*billingprovider.Session, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if err := validate.Struct(opts); err != nil {
		return nil, err
	}
	params := &stripe.BillingPortalSessionParams{Customer: stripe.String(customerID)}
	if returnURL := firstNonEmpty(opts.ReturnURL, a.cfg.PortalReturnURL()); returnURL != "" {
		params.ReturnURL = stripe.String(returnURL)
	}
	session, err := a.portal.New(ctx, params)
	if err != nil {
		return nil, a.normalize("create portal session", err)
	}
	return &billingprovider.Session{ID: session.ID, URL: session.URL}, nil
}

func (a *Adapter) VerifyWebhookSignature(ctx context.Context, payload []byte, signature string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.logg.Error(ctx, "stripe.webhook.signature_panic", fmt.Errorf("%v", r))
			ok = false
		}
	}()
	secret := a.cfg.SigningSecret()
	if secret == "" {
		a.logg.Warn(ctx, "stripe.webhook.secret_missing")
		return false
	}
	if strings.TrimSpace(signature) == "" {
		a.logg.Warn(ctx, "stripe.webhook.signature_missing")
		return false
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, signature, secret, a.cfg.SignatureTolerance()); err != nil {
		a.logg.Warn(a.logg.WithField(ctx, "reason", err.Error()), "stripe.webhook.signature_invalid")
		return false
	}
	return true
}

func (a *Adapter) ParseWebhookEvent(payload []byte) (*billingprovider.Event, error) {
	return parseEvent(payload)
}

func (a *Adapter) normalize(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return billingprovider.NormalizeError(provider, op, err,
			billingprovider.WithStatus(se.HTTPStatusCode),
			billingprovider.WithProviderCode(string(se.Code)),
			billingprovider.WithMessage(se.Msg),
		)
	}
	return billingprovider.NormalizeError(provider, op, err)
}

func toProviderSubscription(s *stripe.Subscription) *billingprovider.ProviderSubscription {
	if s == nil {
		return nil
	}
	ps := &billingprovider.ProviderSubscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Paused:            s.PauseCollection != nil,
		Metadata:          s.Metadata,
		CanceledAt:        unixPtr(s.CanceledAt),
	}
	if s.Customer != nil {
		ps.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		if item.Price != nil {
			ps.PriceID = item.Price.ID
		}
		ps.CurrentPeriodStart = unixPtr(item.CurrentPeriodStart)
		ps.CurrentPeriodEnd = unixPtr(item.CurrentPeriodEnd)
	}
	return ps
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
