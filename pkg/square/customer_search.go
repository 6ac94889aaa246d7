package square

import (
	"context"
	"strings"

	sq "github.com/square/square-go-sdk"
)

// CustomerSearchParams identifies a tenant's Square customer. ReferenceID holds the tenant id.
type CustomerSearchParams struct {
	ReferenceID string
	Email       string
}

// SearchCustomer looks up by reference id first. The email lookup only returns a
// customer that has no reference id, so one tenant never adopts another's record.
func (c *Client) SearchCustomer(ctx context.Context, params CustomerSearchParams) (*sq.Customer, error) {
	if c == nil {
		return nil, errAccessTokenRequired
	}
	if ref := strings.TrimSpace(params.ReferenceID); ref != "" {
		customer, err := c.searchOne(ctx, &sq.CustomerFilter{ReferenceID: &sq.CustomerTextFilter{Exact: ptrString(ref)}})
		if err != nil || customer != nil {
			return customer, err
		}
	}
	email := strings.TrimSpace(params.Email)
	if email == "" {
		return nil, nil
	}
	customer, err := c.searchOne(ctx, &sq.CustomerFilter{EmailAddress: &sq.CustomerTextFilter{Exact: ptrString(email)}})
	if err != nil || customer == nil {
		return nil, err
	}
	if stringValue(customer.ReferenceID) != "" {
		c.logger.Info(c.logger.WithField(ctx, "customer_id", stringValue(customer.GetID())), "square.customer_email_match_skipped")
		return nil, nil
	}
	return customer, nil
}

func (c *Client) searchOne(ctx context.Context, filter *sq.CustomerFilter) (*sq.Customer, error) {
	req := &sq.SearchCustomersRequest{
		Query: &sq.CustomerQuery{Filter: filter},
		Limit: int64Ptr(1),
	}
	ctx = c.trace(ctx, "search_customer", nil)
	resp, err := c.sdk.Customers.Search(ctx, req)
	if err != nil {
		return nil, c.fail(ctx, "search customer", err)
	}
	customers := resp.GetCustomers()
	if len(customers) == 0 {
		return nil, nil
	}
	return customers[0], nil
}

// EnsureCustomer returns the tenant's existing customer or creates one.
func (c *Client) EnsureCustomer(ctx context.Context, params CustomerCreateParams) (*sq.Customer, error) {
	if c == nil {
		return nil, errAccessTokenRequired
	}
	customer, err := c.SearchCustomer(ctx, CustomerSearchParams{ReferenceID: params.ReferenceID, Email: params.Email})
	if err != nil {
		return nil, err
	}
	if customer != nil {
		return customer, nil
	}
	return c.CreateCustomer(ctx, params)
}
