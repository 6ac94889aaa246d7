package billingprovider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
)

func TestNormalizeErrorWrapsAsProviderCode(t *testing.T) {
	cause := errors.New("card_declined: Your card was declined.")
	err := NormalizeError(enums.BillingProviderStripe, "create subscription", cause,
		WithStatus(402), WithProviderCode("card_declined"), WithMessage("Your card was declined."))

	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeProvider))
	meta := pkgerrors.MetadataFor(pkgerrors.As(err).Code())
	require.Equal(t, 502, meta.HTTPStatus)
	require.True(t, meta.Retryable)

	pe, ok := AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, enums.BillingProviderStripe, pe.Provider)
	require.Equal(t, "create subscription", pe.Operation)
	require.Equal(t, 402, pe.HTTPStatus)
	require.Equal(t, "card_declined", pe.Code)
	require.Equal(t, "Your card was declined.", pe.Message)
	require.ErrorIs(t, err, cause)
}

func TestNormalizeErrorPassesThroughNormalized(t *testing.T) {
	first := NormalizeError(enums.BillingProviderSquare, "cancel subscription", errors.New("boom"))
	require.Same(t, first, NormalizeError(enums.BillingProviderSquare, "other", first))
	require.NoError(t, NormalizeError(enums.BillingProviderSquare, "noop", nil))
}

func TestUnsupported(t *testing.T) {
	err := Unsupported(enums.BillingProviderSquare, "create portal session")
	pe, ok := AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, ProviderCodeUnsupported, pe.Code)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeProvider))
}
