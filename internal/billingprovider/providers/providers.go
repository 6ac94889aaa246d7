// Package providers builds the configured billing adapter for the executables.
package providers

import (
	"context"

	"github.com/angelmondragon/tenantbilling-backend/internal/billingprovider"
	squareadapter "github.com/angelmondragon/tenantbilling-backend/internal/billingprovider/square"
	stripeadapter "github.com/angelmondragon/tenantbilling-backend/internal/billingprovider/stripe"
	"github.com/angelmondragon/tenantbilling-backend/pkg/config"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
	pkgsquare "github.com/angelmondragon/tenantbilling-backend/pkg/square"
	pkgstripe "github.com/angelmondragon/tenantbilling-backend/pkg/stripe"
)

// FromConfig constructs only the adapter named by cfg.Billing.Provider, so the
// other provider's credentials may be left unset.
func FromConfig(ctx context.Context, cfg *config.Config, logg *logger.Logger) (billingprovider.Adapter, error) {
	return billingprovider.New(billingprovider.Params{
		Provider: cfg.Billing.Provider,
		Stripe: func() (billingprovider.Adapter, error) {
			client, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
			if err != nil {
				return nil, err
			}
			return stripeadapter.New(stripeadapter.Params{Client: client, Logger: logg})
		},
		Square: func() (billingprovider.Adapter, error) {
			client, err := pkgsquare.NewClient(ctx, cfg.Square, logg)
			if err != nil {
				return nil, err
			}
			return squareadapter.New(client, logg)
		},
	})
}
