package square

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/angelmondragon/tenantbilling-backend/internal/billingprovider"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
)

// Square notification types this adapter translates.
const (
	typeInvoicePaymentMade  = "invoice.payment_made"
	typeInvoiceChargeFailed = "invoice.scheduled_charge_failed"
	typeSubscriptionUpdated = "subscription.updated"
	typeSubscriptionCreated = "subscription.created"
	statusCanceled          = "CANCELED"
	statusDeactivated       = "DEACTIVATED"
)

type notification struct {
	MerchantID string `json:"merchant_id"`
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	CreatedAt  string `json:"created_at"`
	Data       *struct {
		Type   string `json:"type"`
		ID     string `json:"id"`
		Object struct {
			Subscription *subscriptionObject `json:"subscription"`
			Invoice      *invoiceObject      `json:"invoice"`
		} `json:"object"`
	} `json:"data"`
}

type subscriptionObject struct {
	ID                 string `json:"id"`
	CustomerID         string `json:"customer_id"`
	PlanVariationID    string `json:"plan_variation_id"`
	Status             string `json:"status"`
	StartDate          string `json:"start_date"`
	ChargedThroughDate string `json:"charged_through_date"`
	CanceledDate       string `json:"canceled_date"`
}

type invoiceObject struct {
	ID               string `json:"id"`
	SubscriptionID   string `json:"subscription_id"`
	Status           string `json:"status"`
	PrimaryRecipient *struct {
		CustomerID string `json:"customer_id"`
	} `json:"primary_recipient"`
}

func parseEvent(payload []byte) (*billingprovider.Event, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode square event")
	}
	evt := &billingprovider.Event{
		ID:           n.EventID,
		Type:         n.Type,
		ProviderType: n.Type,
		Provider:     provider,
		Metadata:     map[string]string{},
		Raw:          json.RawMessage(payload),
	}
	if ts, err := time.Parse(time.RFC3339, n.CreatedAt); err == nil {
		evt.CreatedAt = ts.UTC()
	}
	if err := billingprovider.ValidateEvent(evt); err != nil {
		return nil, err
	}
	if n.Data == nil {
		return evt, nil
	}
	evt.ObjectID = n.Data.ID

	switch {
	case n.Data.Object.Invoice != nil:
		inv := n.Data.Object.Invoice
		evt.ObjectID = inv.ID
		evt.SubscriptionID = inv.SubscriptionID
		evt.Status = strings.ToLower(inv.Status)
		if inv.PrimaryRecipient != nil {
			evt.CustomerID = inv.PrimaryRecipient.CustomerID
		}
		switch n.Type {
		case typeInvoicePaymentMade:
			evt.Type = billingprovider.EventInvoicePaid
		case typeInvoiceChargeFailed:
			evt.Type = billingprovider.EventInvoicePaymentFailed
		}
	case n.Data.Object.Subscription != nil:
		s := n.Data.Object.Subscription
		evt.ObjectID = s.ID
		evt.SubscriptionID = s.ID
		evt.CustomerID = s.CustomerID
		evt.Status = strings.ToLower(s.Status)
		evt.PeriodStart = parseDate(s.StartDate)
		evt.PeriodEnd = parseDate(s.ChargedThroughDate)
		if n.Type == typeSubscriptionUpdated || n.Type == typeSubscriptionCreated {
			evt.Type = billingprovider.EventCustomerSubscriptionUpdated
			switch {
			case s.Status == statusCanceled || s.Status == statusDeactivated:
				evt.Type = billingprovider.EventCustomerSubscriptionDeleted
			case s.CanceledDate != "":
				evt.CancelAtPeriodEnd = true
			}
		}
	}
	return evt, nil
}
