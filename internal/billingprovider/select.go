package billingprovider

import (
	"fmt"

	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
)

// Params lists the constructors for each provider; only the configured one is invoked.
type Params struct {
	Provider string
	Stripe   func() (Adapter, error)
	Square   func() (Adapter, error)
}

// New picks the adapter named by Provider. It is called once at process start.
func New(p Params) (Adapter, error) {
	provider, err := enums.ParseBillingProvider(p.Provider)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unknown billing provider")
	}
	var build func() (Adapter, error)
	switch provider {
	case enums.BillingProviderStripe:
		build = p.Stripe
	case enums.BillingProviderSquare:
		build = p.Square
	}
	if build == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("%s adapter not wired", provider))
	}
	adapter, err := build()
	if err != nil {
		return nil, err
	}
	if adapter == nil || adapter.Name() != provider {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("%s constructor returned a mismatched adapter", provider))
	}
	return adapter, nil
}
