package square

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tenantbilling-backend/internal/billingprovider"
	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
	pkgsquare "github.com/angelmondragon/tenantbilling-backend/pkg/square"
)

const testSecret = "sq-signature-key"

type stubClient struct {
	customerParams pkgsquare.CustomerCreateParams
	cardParams     *pkgsquare.CardCreateParams
	subParams      pkgsquare.SubscriptionCreateParams
	current        *sq.Subscription
	createErr      error
	calls          []string
	secret         string
}

func strPtr(v string) *string { return &v }

func statusPtr(v sq.SubscriptionStatus) *sq.SubscriptionStatus { return &v }

func (s *stubClient) EnsureCustomer(_ context.Context, params pkgsquare.CustomerCreateParams) (*sq.Customer, error) {
	s.calls = append(s.calls, "ensure_customer")
	s.customerParams = params
	return &sq.Customer{ID: strPtr("sqcus_1"), EmailAddress: strPtr(params.Email)}, nil
}

func (s *stubClient) CreateCard(_ context.Context, params pkgsquare.CardCreateParams) (*sq.Card, error) {
	s.calls = append(s.calls, "create_card")
	s.cardParams = &params
	return &sq.Card{ID: strPtr("ccof_1")}, nil
}

func (s *stubClient) CreateSubscription(_ context.Context, params pkgsquare.SubscriptionCreateParams) (*sq.Subscription, error) {
	s.calls = append(s.calls, "create_subscription")
	s.subParams = params
	if s.createErr != nil {
		return nil, s.createErr
	}
	return &sq.Subscription{
		ID:                 strPtr("sqsub_1"),
		CustomerID:         strPtr(params.CustomerID),
		PlanVariationID:    strPtr(params.PlanVariationID),
		Status:             statusPtr(sq.SubscriptionStatusActive),
		StartDate:          strPtr("2026-10-01"),
		ChargedThroughDate: strPtr("2026-11-01"),
	}, nil
}

func (s *stubClient) CancelSubscription(_ context.Context, id string) (*sq.Subscription, error) {
	s.calls = append(s.calls, "cancel")
	return &sq.Subscription{ID: strPtr(id), Status: statusPtr(sq.SubscriptionStatusActive), CanceledDate: strPtr("2026-11-01")}, nil
}

func (s *stubClient) ResumeSubscription(_ context.Context, id string) (*sq.Subscription, error) {
	s.calls = append(s.calls, "resume")
	return &sq.Subscription{ID: strPtr(id), Status: statusPtr(sq.SubscriptionStatusActive)}, nil
}

func (s *stubClient) GetSubscription(_ context.Context, id string) (*sq.Subscription, error) {
	s.calls = append(s.calls, "get")
	return s.current, nil
}

func (s *stubClient) LocationID() string { return "LOC_1" }

func (s *stubClient) SigningSecret() string { return s.secret }

func newAdapter(t *testing.T) (*Adapter, *stubClient, *bytes.Buffer) {
	t.Helper()
	client := &stubClient{secret: testSecret}
	logs := &bytes.Buffer{}
	a, err := New(client, logger.New(logger.Options{ServiceName: "test", Output: logs}))
	require.NoError(t, err)
	return a, client, logs
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, nil)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestCreateSubscriptionVaultsCard(t *testing.T) {
	a, client, _ := newAdapter(t)
	tenant := &models.Tenant{ID: uuid.New(), Name: "Acme", BillingEmail: "billing@example.com"}
	sub := &models.Subscription{ID: uuid.New(), TenantID: tenant.ID}
	plan := &models.Plan{ID: "pro", ExternalPriceID: "PLAN_VAR_1"}

	ps, err := a.CreateSubscription(context.Background(), tenant, sub, plan, "cnon:card-nonce")
	require.NoError(t, err)

	assert.Equal(t, []string{"ensure_customer", "create_card", "create_subscription"}, client.calls)
	assert.Equal(t, tenant.ID.String(), client.customerParams.ReferenceID)
	assert.Equal(t, "sqcus_1", sub.ExternalCustomerID)
	assert.Equal(t, "cnon:card-nonce", client.cardParams.SourceID)
	assert.Equal(t, "ccof_1", client.subParams.CardID)
	assert.Equal(t, "LOC_1", client.subParams.LocationID)
	assert.Equal(t, "sqsub_1", ps.ID)
	assert.Equal(t, "active", ps.Status)
	require.NotNil(t, ps.CurrentPeriodEnd)
	assert.Equal(t, "2026-11-01", ps.CurrentPeriodEnd.Format("2006-01-02"))
}

func TestCreateSubscriptionNormalizesErrors(t *testing.T) {
	a, client, _ := newAdapter(t)
	client.createErr = errors.New("connection reset")
	sub := &models.Subscription{ID: uuid.New(), ExternalCustomerID: "sqcus_1"}

	_, err := a.CreateSubscription(context.Background(), nil, sub, &models.Plan{ID: "pro", ExternalPriceID: "PLAN_VAR_1"}, "")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeProvider))
	pe, ok := billingprovider.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, "create subscription", pe.Operation)
	assert.Equal(t, []string{"create_subscription"}, client.calls)
}

func TestCancelMarksPendingCancellation(t *testing.T) {
	a, _, _ := newAdapter(t)
	sub := &models.Subscription{ID: uuid.New(), ExternalSubscriptionID: "sqsub_1"}

	ps, err := a.CancelSubscription(context.Background(), sub, false)
	require.NoError(t, err)
	assert.True(t, ps.CancelAtPeriodEnd)
	require.NotNil(t, ps.CanceledAt)
}

func TestResumeSubscription(t *testing.T) {
	sub := &models.Subscription{ID: uuid.New(), ExternalSubscriptionID: "sqsub_1"}

	t.Run("paused is resumed", func(t *testing.T) {
		a, client, _ := newAdapter(t)
		client.current = &sq.Subscription{ID: strPtr("sqsub_1"), Status: statusPtr(sq.SubscriptionStatusPaused)}
		ps, err := a.ResumeSubscription(context.Background(), sub)
		require.NoError(t, err)
		assert.Equal(t, []string{"get", "resume"}, client.calls)
		assert.False(t, ps.Paused)
	})

	t.Run("nothing pending returns unchanged", func(t *testing.T) {
		a, client, _ := newAdapter(t)
		client.current = &sq.Subscription{ID: strPtr("sqsub_1"), Status: statusPtr(sq.SubscriptionStatusActive)}
		ps, err := a.ResumeSubscription(context.Background(), sub)
		require.NoError(t, err)
		assert.Equal(t, []string{"get"}, client.calls)
		assert.Equal(t, "active", ps.Status)
	})

	t.Run("pending cancel is unsupported", func(t *testing.T) {
		a, client, _ := newAdapter(t)
		client.current = &sq.Subscription{ID: strPtr("sqsub_1"), Status: statusPtr(sq.SubscriptionStatusActive), CanceledDate: strPtr("2026-11-01")}
		_, err := a.ResumeSubscription(context.Background(), sub)
		pe, ok := billingprovider.AsProviderError(err)
		require.True(t, ok)
		assert.Equal(t, billingprovider.ProviderCodeUnsupported, pe.Code)
	})
}

func TestUnsupportedOperations(t *testing.T) {
	a, _, _ := newAdapter(t)
	ctx := context.Background()

	_, err := a.UpdateSubscription(ctx, &models.Subscription{}, &models.Plan{}, billingprovider.UpdateOptions{})
	assertUnsupported(t, err)
	_, err = a.CreateCheckoutSession(ctx, &models.Tenant{}, &models.Subscription{}, &models.Plan{}, billingprovider.CheckoutOptions{})
	assertUnsupported(t, err)
	_, err = a.CreatePortalSession(ctx, "sqcus_1", billingprovider.PortalOptions{})
	assertUnsupported(t, err)
}

func assertUnsupported(t *testing.T, err error) {
	t.Helper()
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeProvider))
	pe, ok := billingprovider.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, billingprovider.ProviderCodeUnsupported, pe.Code)
}

func TestVerifyWebhookSignature(t *testing.T) {
	a, client, logs := newAdapter(t)
	payload := []byte(`{"event_id":"e1","type":"invoice.payment_made"}`)
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(payload)
	good := hex.EncodeToString(mac.Sum(nil))

	assert.True(t, a.VerifyWebhookSignature(context.Background(), payload, good))
	assert.False(t, a.VerifyWebhookSignature(context.Background(), payload, ""))
	assert.False(t, a.VerifyWebhookSignature(context.Background(), payload, "zz-not-hex"))
	assert.False(t, a.VerifyWebhookSignature(context.Background(), append(payload, ' '), good))
	assert.Contains(t, logs.String(), "square.webhook.signature_invalid")

	client.secret = ""
	assert.False(t, a.VerifyWebhookSignature(context.Background(), payload, good))
	assert.Contains(t, logs.String(), "square.webhook.secret_missing")
}

func TestParseWebhookEvent(t *testing.T) {
	cases := []struct {
		name              string
		payload           string
		wantType          string
		wantSubscription  string
		wantCancelPending bool
	}{
		{
			name:             "payment made",
			payload:          `{"type":"invoice.payment_made","event_id":"e1","created_at":"2026-10-01T00:00:00Z","data":{"type":"invoice","id":"inv_1","object":{"invoice":{"id":"inv_1","subscription_id":"sqsub_1","status":"PAID","primary_recipient":{"customer_id":"sqcus_1"}}}}}`,
			wantType:         billingprovider.EventInvoicePaid,
			wantSubscription: "sqsub_1",
		},
		{
			name:             "scheduled charge failed",
			payload:          `{"type":"invoice.scheduled_charge_failed","event_id":"e2","data":{"object":{"invoice":{"id":"inv_2","subscription_id":"sqsub_1"}}}}`,
			wantType:         billingprovider.EventInvoicePaymentFailed,
			wantSubscription: "sqsub_1",
		},
		{
			name:             "subscription canceled",
			payload:          `{"type":"subscription.updated","event_id":"e3","data":{"object":{"subscription":{"id":"sqsub_1","status":"CANCELED"}}}}`,
			wantType:         billingprovider.EventCustomerSubscriptionDeleted,
			wantSubscription: "sqsub_1",
		},
		{
			name:              "cancellation scheduled",
			payload:           `{"type":"subscription.updated","event_id":"e4","data":{"object":{"subscription":{"id":"sqsub_1","status":"ACTIVE","canceled_date":"2026-11-01","charged_through_date":"2026-11-01"}}}}`,
			wantType:          billingprovider.EventCustomerSubscriptionUpdated,
			wantSubscription:  "sqsub_1",
			wantCancelPending: true,
		},
		{
			name:     "unmapped type passes through",
			payload:  `{"type":"customer.created","event_id":"e5","data":{"id":"sqcus_1","object":{}}}`,
			wantType: "customer.created",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			evt, err := parseEvent([]byte(tc.payload))
			require.NoError(t, err)
			assert.Equal(t, tc.wantType, evt.Type)
			assert.Equal(t, tc.wantSubscription, evt.SubscriptionID)
			assert.Equal(t, tc.wantCancelPending, evt.CancelAtPeriodEnd)
		})
	}

	_, err := parseEvent([]byte(`{"type":"invoice.payment_made"}`))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
