package square

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/tenantbilling-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"
)

var (
	errAccessTokenRequired   = errors.New("square access token is required")
	errWebhookSecretRequired = errors.New("square webhook secret is required")
	errInvalidSquareEnv      = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired        = errors.New("square logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// Client wraps the Square SDK calls used for tenant billing: customers, vaulted cards and subscriptions.
type Client struct {
	sdk           *sqclient.Client
	environment   string
	webhookSecret string
	locationID    string
	logger        *logger.Logger
}

// NewClient initializes the Square wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}
	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}
	webhookSecret := strings.TrimSpace(cfg.WebhookSecret)
	if webhookSecret == "" {
		return nil, errWebhookSecretRequired
	}

	c := &Client{
		sdk: sqclient.NewClient(
			sqoption.WithBaseURL(baseURLs[env]),
			sqoption.WithToken(accessToken),
		),
		environment:   env,
		webhookSecret: webhookSecret,
		locationID:    strings.TrimSpace(cfg.LocationID),
		logger:        logg,
	}
	logg.Info(logg.WithFields(ctx, map[string]any{"square_env": env, "location_id": c.locationID}), "square.client_initialized")
	return c, nil
}

// Environment reports the normalized Square environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// LocationID returns the Square location subscriptions are created under.
func (c *Client) LocationID() string {
	if c == nil {
		return ""
	}
	return c.locationID
}

// SigningSecret returns the Square webhook secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// CreateSubscription starts a plan variation for a customer. The idempotency key defaults to a random one.
func (c *Client) CreateSubscription(ctx context.Context, params SubscriptionCreateParams) (*sq.Subscription, error) {
	req := params.toSquareRequest(idempotencyKey("subscription", params.IdempotencyKey))
	ctx = c.trace(ctx, "create_subscription", map[string]any{
		"location_id":       params.LocationID,
		"plan_variation_id": params.PlanVariationID,
		"customer_id":       params.CustomerID,
	})
	resp, err := c.sdk.Subscriptions.Create(ctx, req)
	if err != nil {
		return nil, c.fail(ctx, "create subscription", err)
	}
	return c.subscriptionResult(ctx, resp.GetSubscription()), nil
}

// CancelSubscription schedules cancellation at the end of the paid period.
func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error) {
	ctx = c.trace(ctx, "cancel_subscription", map[string]any{"square_subscription_id": subscriptionID})
	resp, err := c.sdk.Subscriptions.Cancel(ctx, &sq.CancelSubscriptionsRequest{SubscriptionID: subscriptionID})
	if err != nil {
		return nil, c.fail(ctx, "cancel subscription", err)
	}
	return c.subscriptionResult(ctx, resp.GetSubscription()), nil
}

// ResumeSubscription lifts a pause on the subscription.
func (c *Client) ResumeSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error) {
	ctx = c.trace(ctx, "resume_subscription", map[string]any{"square_subscription_id": subscriptionID})
	resp, err := c.sdk.Subscriptions.Resume(ctx, &sq.ResumeSubscriptionRequest{SubscriptionID: subscriptionID})
	if err != nil {
		return nil, c.fail(ctx, "resume subscription", err)
	}
	return c.subscriptionResult(ctx, resp.GetSubscription()), nil
}

func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*sq.Subscription, error) {
	ctx = c.trace(ctx, "get_subscription", map[string]any{"square_subscription_id": subscriptionID})
	resp, err := c.sdk.Subscriptions.Get(ctx, &sq.GetSubscriptionsRequest{SubscriptionID: subscriptionID})
	if err != nil {
		return nil, c.fail(ctx, "get subscription", err)
	}
	return c.subscriptionResult(ctx, resp.GetSubscription()), nil
}

// CreateCustomer creates a customer keyed by the tenant reference id.
func (c *Client) CreateCustomer(ctx context.Context, params CustomerCreateParams) (*sq.Customer, error) {
	req := params.toSquareRequest(idempotencyKey("customer", params.IdempotencyKey))
	ctx = c.trace(ctx, "create_customer", map[string]any{"reference_id": params.ReferenceID})
	resp, err := c.sdk.Customers.Create(ctx, req)
	if err != nil {
		return nil, c.fail(ctx, "create customer", err)
	}
	cust := resp.GetCustomer()
	c.logger.Debug(c.logger.WithField(ctx, "customer_id", stringValue(cust.GetID())), "square.customer_created")
	return cust, nil
}

// CreateCard vaults a card nonce on the customer. The nonce is never logged.
func (c *Client) CreateCard(ctx context.Context, params CardCreateParams) (*sq.Card, error) {
	req := params.toSquareRequest(idempotencyKey("card", params.IdempotencyKey))
	ctx = c.trace(ctx, "create_card", map[string]any{"customer_id": params.CustomerID})
	resp, err := c.sdk.Cards.Create(ctx, req)
	if err != nil {
		return nil, c.fail(ctx, "create card", err)
	}
	return resp.GetCard(), nil
}

// trace tags ctx with the operation and its identifiers and logs the outgoing call.
// fields must not carry card data or contact details.
func (c *Client) trace(ctx context.Context, op string, fields map[string]any) context.Context {
	tagged := map[string]any{"square_op": op}
	for k, v := range fields {
		if v != "" {
			tagged[k] = v
		}
	}
	ctx = c.logger.WithFields(ctx, tagged)
	c.logger.Debug(ctx, "square.request")
	return ctx
}

// fail maps an SDK error onto pkg/errors and logs it.
func (c *Client) fail(ctx context.Context, op string, err error) error {
	mapped := mapSquareError(err, op)
	c.logger.Error(ctx, "square.request_failed", mapped)
	return mapped
}

func (c *Client) subscriptionResult(ctx context.Context, sub *sq.Subscription) *sq.Subscription {
	c.logger.Debug(c.logger.WithFields(ctx, map[string]any{
		"square_subscription_id": stringValue(sub.GetID()),
		"square_status":          subscriptionStatusString(sub.GetStatus()),
	}), "square.subscription")
	return sub
}

// idempotencyKey keeps a caller-supplied key or mints "<prefix>-<uuid>".
func idempotencyKey(prefix, provided string) string {
	if key := strings.TrimSpace(provided); key != "" {
		return key
	}
	return prefix + "-" + uuid.NewString()
}

func mapSquareError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "square "+op+" failed")
	}
	code := domainCodeForStatus(apiErr.StatusCode)
	for _, sqErr := range squareErrors(apiErr) {
		switch {
		case sqErr.Code == sq.ErrorCodeIdempotencyKeyReused:
			code = pkgerrors.CodeIdempotency
		case sqErr.Category == sq.ErrorCategoryAuthenticationError:
			code = pkgerrors.CodeUnauthorized
		default:
			continue
		}
		break
	}
	return pkgerrors.Wrap(code, err, "square "+op+" failed").
		WithDetails(map[string]any{"status": apiErr.StatusCode})
}

// squareErrors decodes the {"errors":[...]} body the SDK keeps inside APIError.
func squareErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(inner.Error())), &payload); err != nil {
		return nil
	}
	out := payload.Errors[:0]
	for _, e := range payload.Errors {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeMissingPrerequisite
	}
	if status >= 400 && status < 500 {
		return pkgerrors.CodeValidation
	}
	return pkgerrors.CodeDependency
}

// ErrorDetails extracts the HTTP status and first Square error code from an SDK error chain.
func ErrorDetails(err error) (status int, code string, detail string) {
	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return 0, "", ""
	}
	if errs := squareErrors(apiErr); len(errs) > 0 {
		return apiErr.StatusCode, string(errs[0].Code), stringValue(errs[0].Detail)
	}
	return apiErr.StatusCode, "", ""
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func subscriptionStatusString(status *sq.SubscriptionStatus) string {
	if status == nil {
		return ""
	}
	return string(*status)
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	if _, ok := baseURLs[env]; !ok {
		return "", errInvalidSquareEnv
	}
	return env, nil
}
