// Package webhooks exposes the provider webhook endpoint.
package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/tenantbilling-backend/api/responses"
	"github.com/angelmondragon/tenantbilling-backend/internal/webhooks"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
)

const defaultMaxBodyBytes = 1 << 20

// Signature headers per provider.
const (
	StripeSignatureHeader = "Stripe-Signature"
	SquareSignatureHeader = "X-Square-Hmacsha256-Signature"
)

// Ingester is the webhook fast path for one provider.
type Ingester interface {
	Provider() enums.BillingProvider
	Ingest(ctx context.Context, req webhooks.IngestRequest) (webhooks.Result, error)
}

func signatureHeader(provider enums.BillingProvider) string {
	if provider == enums.BillingProviderSquare {
		return SquareSignatureHeader
	}
	return StripeSignatureHeader
}

// Webhook handles POST /api/v1/webhooks/{provider}: 202 when queued, 200 when already processed
// or when the event kind is acknowledged without processing.
func Webhook(ingesters []Ingester, maxBodyBytes int64, logg *logger.Logger) http.HandlerFunc {
	byProvider := make(map[enums.BillingProvider]Ingester, len(ingesters))
	for _, ing := range ingesters {
		if ing != nil {
			byProvider[ing.Provider()] = ing
		}
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		provider, err := enums.ParseBillingProvider(chi.URLParam(r, "provider"))
		ing, ok := byProvider[provider]
		if err != nil || !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "unknown webhook provider"))
			return
		}
		if logg != nil {
			ctx = logg.WithProvider(ctx, string(provider))
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "webhook payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		result, err := ing.Ingest(ctx, webhooks.IngestRequest{
			Provider:  provider,
			Payload:   payload,
			Signature: r.Header.Get(signatureHeader(provider)),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusAccepted
		switch result.Status {
		case webhooks.StatusAlreadyProcessed, webhooks.StatusIgnored:
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}
