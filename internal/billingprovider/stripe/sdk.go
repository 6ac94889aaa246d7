package stripe

import (
	"context"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
)

// CustomerClient is the subset of the Stripe customer API the adapter uses.
type CustomerClient interface {
	New(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error)
}

// SubscriptionClient is the subset of the Stripe subscription API the adapter uses.
type SubscriptionClient interface {
	New(ctx context.Context, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	Update(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	Cancel(ctx context.Context, id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error)
}

// CheckoutClient creates hosted checkout sessions.
type CheckoutClient interface {
	New(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// PortalClient creates billing portal sessions.
type PortalClient interface {
	New(ctx context.Context, params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
}

type customerClient struct{}

func (customerClient) New(ctx context.Context, params *stripe.CustomerParams) (*stripe.Customer, error) {
	params.Context = ctx
	return customer.New(params)
}

type subscriptionClient struct{}

func (subscriptionClient) New(ctx context.Context, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	params.Context = ctx
	return subscription.New(params)
}

func (subscriptionClient) Get(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	params.Context = ctx
	return subscription.Get(id, params)
}

func (subscriptionClient) Update(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	params.Context = ctx
	return subscription.Update(id, params)
}

func (subscriptionClient) Cancel(ctx context.Context, id string, params *stripe.SubscriptionCancelParams) (*stripe.Subscription, error) {
	params.Context = ctx
	return subscription.Cancel(id, params)
}

type checkoutClient struct{}

func (checkoutClient) New(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	params.Context = ctx
	return checkoutsession.New(params)
}

type portalClient struct{}

func (portalClient) New(ctx context.Context, params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	params.Context = ctx
	return portalsession.New(params)
}
