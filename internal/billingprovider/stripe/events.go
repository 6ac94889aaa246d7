package stripe

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/angelmondragon/tenantbilling-backend/internal/billingprovider"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
)

// expandableID decodes a Stripe reference that is either an id string or an expanded object.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type period struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type subscriptionObject struct {
	ID                string            `json:"id"`
	Customer          expandableID      `json:"customer"`
	Status            string            `json:"status"`
	CancelAtPeriodEnd bool              `json:"cancel_at_period_end"`
	Metadata          map[string]string `json:"metadata"`
	Items             struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

type invoiceObject struct {
	ID            string            `json:"id"`
	Customer      expandableID      `json:"customer"`
	Subscription  expandableID      `json:"subscription"`
	Status        string            `json:"status"`
	AmountPaid    *int64            `json:"amount_paid"`
	BillingReason string            `json:"billing_reason"`
	Metadata      map[string]string `json:"metadata"`
	PeriodStart   int64             `json:"period_start"`
	PeriodEnd     int64             `json:"period_end"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription expandableID      `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Lines struct {
		Data []struct {
			Period   period            `json:"period"`
			Metadata map[string]string `json:"metadata"`
		} `json:"data"`
	} `json:"lines"`
}

type checkoutSessionObject struct {
	ID                string            `json:"id"`
	Customer          expandableID      `json:"customer"`
	Subscription      expandableID      `json:"subscription"`
	Status            string            `json:"status"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

func parseEvent(payload []byte) (*billingprovider.Event, error) {
	var raw stripe.Event
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe event")
	}
	evt := &billingprovider.Event{
		ID:           raw.ID,
		Type:         string(raw.Type),
		ProviderType: string(raw.Type),
		Provider:     provider,
		Metadata:     map[string]string{},
		Raw:          json.RawMessage(payload),
	}
	if raw.Created > 0 {
		evt.CreatedAt = time.Unix(raw.Created, 0).UTC()
	}
	if err := billingprovider.ValidateEvent(evt); err != nil {
		return nil, err
	}
	if raw.Data == nil || len(raw.Data.Raw) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stripe event has no data object").
			WithDetails(map[string]any{"event_id": raw.ID})
	}

	var err error
	switch evt.Type {
	case billingprovider.EventInvoicePaymentFailed,
		billingprovider.EventInvoicePaymentSucceeded,
		billingprovider.EventInvoicePaid:
		err = fillFromInvoice(evt, raw.Data.Raw)
	case billingprovider.EventCustomerSubscriptionDeleted,
		billingprovider.EventCustomerSubscriptionUpdated,
		"customer.subscription.created",
		"customer.subscription.paused",
		"customer.subscription.resumed":
		err = fillFromSubscription(evt, raw.Data.Raw)
	case billingprovider.EventCheckoutSessionCompleted:
		err = fillFromCheckoutSession(evt, raw.Data.Raw)
	default:
		var obj struct {
			ID string `json:"id"`
		}
		err = json.Unmarshal(raw.Data.Raw, &obj)
		evt.ObjectID = obj.ID
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode stripe event object").
			WithDetails(map[string]any{"event_id": raw.ID, "event_type": evt.Type})
	}
	return evt, nil
}

func fillFromSubscription(evt *billingprovider.Event, data json.RawMessage) error {
	var obj subscriptionObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	evt.ObjectID = obj.ID
	evt.SubscriptionID = obj.ID
	evt.CustomerID = string(obj.Customer)
	evt.Status = obj.Status
	evt.CancelAtPeriodEnd = obj.CancelAtPeriodEnd
	mergeMetadata(evt.Metadata, obj.Metadata)
	if len(obj.Items.Data) > 0 {
		evt.PeriodStart = unixPtr(obj.Items.Data[0].CurrentPeriodStart)
		evt.PeriodEnd = unixPtr(obj.Items.Data[0].CurrentPeriodEnd)
	}
	return nil
}

func fillFromInvoice(evt *billingprovider.Event, data json.RawMessage) error {
	var obj invoiceObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	evt.ObjectID = obj.ID
	evt.CustomerID = string(obj.Customer)
	evt.Status = obj.Status
	evt.SubscriptionID = string(obj.Subscription)
	evt.AmountPaid = obj.AmountPaid
	evt.BillingReason = obj.BillingReason
	if obj.Parent != nil && obj.Parent.SubscriptionDetails != nil {
		if evt.SubscriptionID == "" {
			evt.SubscriptionID = string(obj.Parent.SubscriptionDetails.Subscription)
		}
		mergeMetadata(evt.Metadata, obj.Parent.SubscriptionDetails.Metadata)
	}
	mergeMetadata(evt.Metadata, obj.Metadata)
	if len(obj.Lines.Data) > 0 {
		line := obj.Lines.Data[0]
		mergeMetadata(evt.Metadata, line.Metadata)
		evt.PeriodStart = unixPtr(line.Period.Start)
		evt.PeriodEnd = unixPtr(line.Period.End)
	}
	if evt.PeriodStart == nil && evt.PeriodEnd == nil {
		evt.PeriodStart = unixPtr(obj.PeriodStart)
		evt.PeriodEnd = unixPtr(obj.PeriodEnd)
	}
	return nil
}

func fillFromCheckoutSession(evt *billingprovider.Event, data json.RawMessage) error {
	var obj checkoutSessionObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	evt.ObjectID = obj.ID
	evt.CustomerID = string(obj.Customer)
	evt.SubscriptionID = string(obj.Subscription)
	evt.Status = obj.Status
	mergeMetadata(evt.Metadata, obj.Metadata)
	if evt.Metadata[billingprovider.MetadataTenantID] == "" && obj.ClientReferenceID != "" {
		evt.Metadata[billingprovider.MetadataTenantID] = obj.ClientReferenceID
	}
	return nil
}

// mergeMetadata copies src into dst without overwriting keys already set.
func mergeMetadata(dst, src map[string]string) {
	for k, v := range src {
		if _, ok := dst[k]; !ok && v != "" {
			dst[k] = v
		}
	}
}
