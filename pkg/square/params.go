package square

import (
	"strings"

	sq "github.com/square/square-go-sdk"
)

// SubscriptionCreateParams contains the fields required to start a Square subscription.
type SubscriptionCreateParams struct {
	LocationID      string
	PlanVariationID string
	CustomerID      string
	CardID          string
	StartDate       string
	IdempotencyKey  string
}

func (p SubscriptionCreateParams) toSquareRequest(idempotencyKey string) *sq.CreateSubscriptionRequest {
	req := &sq.CreateSubscriptionRequest{
		IdempotencyKey: ptrString(idempotencyKey),
		LocationID:     p.LocationID,
		CustomerID:     p.CustomerID,
	}
	if trimmed := strings.TrimSpace(p.PlanVariationID); trimmed != "" {
		req.PlanVariationID = ptrString(trimmed)
	}
	if trimmed := strings.TrimSpace(p.CardID); trimmed != "" {
		req.CardID = ptrString(trimmed)
	}
	if trimmed := strings.TrimSpace(p.StartDate); trimmed != "" {
		req.StartDate = ptrString(trimmed)
	}
	return req
}

// CustomerCreateParams defines the payload to create a Square customer for a tenant.
type CustomerCreateParams struct {
	Email          string
	CompanyName    string
	ReferenceID    string
	Note           string
	IdempotencyKey string
}

func (p CustomerCreateParams) toSquareRequest(idempotencyKey string) *sq.CreateCustomerRequest {
	req := &sq.CreateCustomerRequest{
		IdempotencyKey: ptrString(idempotencyKey),
	}
	if trimmed := strings.TrimSpace(p.Email); trimmed != "" {
		req.EmailAddress = ptrString(trimmed)
	}
	if trimmed := strings.TrimSpace(p.CompanyName); trimmed != "" {
		req.CompanyName = ptrString(trimmed)
	}
	if trimmed := strings.TrimSpace(p.ReferenceID); trimmed != "" {
		req.ReferenceID = ptrString(trimmed)
	}
	if trimmed := strings.TrimSpace(p.Note); trimmed != "" {
		req.Note = ptrString(trimmed)
	}
	return req
}

// CardCreateParams groups the data needed to vault a card from a payment token.
type CardCreateParams struct {
	CustomerID     string
	SourceID       string
	ReferenceID    string
	IdempotencyKey string
}

func (p CardCreateParams) toSquareRequest(idempotencyKey string) *sq.CreateCardRequest {
	req := &sq.CreateCardRequest{
		IdempotencyKey: idempotencyKey,
		SourceID:       p.SourceID,
	}
	card := &sq.Card{}
	if trimmed := strings.TrimSpace(p.CustomerID); trimmed != "" {
		card.CustomerID = ptrString(trimmed)
	}
	if trimmed := strings.TrimSpace(p.ReferenceID); trimmed != "" {
		card.ReferenceID = ptrString(trimmed)
	}
	if card.CustomerID != nil || card.ReferenceID != nil {
		req.Card = card
	}
	return req
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}
