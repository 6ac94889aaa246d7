package billingprovider

import (
	"errors"
	"fmt"

	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
)

// ProviderCodeUnsupported tags operations a provider does not offer.
const ProviderCodeUnsupported = "unsupported"

// ProviderError is the single error shape for every provider SDK failure.
type ProviderError struct {
	Provider   enums.BillingProvider
	Operation  string
	Message    string
	HTTPStatus int
	Code       string
	cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("%s %s: %s (%s)", e.Provider, e.Operation, e.Message, e.Code)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Operation, e.Message)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// ErrorOption adds provider detail to a normalized error.
type ErrorOption func(*ProviderError)

// WithStatus records the provider HTTP status.
func WithStatus(status int) ErrorOption {
	return func(e *ProviderError) { e.HTTPStatus = status }
}

// WithProviderCode records the provider's error code.
func WithProviderCode(code string) ErrorOption {
	return func(e *ProviderError) { e.Code = code }
}

// WithMessage replaces the message taken from the original error.
func WithMessage(msg string) ErrorOption {
	return func(e *ProviderError) {
		if msg != "" {
			e.Message = msg
		}
	}
}

// NormalizeError wraps err as a retryable provider error. Errors already normalized pass through.
func NormalizeError(provider enums.BillingProvider, op string, err error, opts ...ErrorOption) error {
	if err == nil {
		return nil
	}
	var existing *ProviderError
	if errors.As(err, &existing) {
		return err
	}
	pe := &ProviderError{
		Provider:  provider,
		Operation: op,
		Message:   err.Error(),
		cause:     err,
	}
	for _, opt := range opts {
		opt(pe)
	}
	return pkgerrors.Wrap(pkgerrors.CodeProvider, pe, fmt.Sprintf("%s %s failed", provider, op))
}

// Unsupported reports an operation the provider cannot perform.
func Unsupported(provider enums.BillingProvider, op string) error {
	pe := &ProviderError{
		Provider:  provider,
		Operation: op,
		Message:   fmt.Sprintf("%s does not support %s", provider, op),
		Code:      ProviderCodeUnsupported,
	}
	return pkgerrors.Wrap(pkgerrors.CodeProvider, pe, fmt.Sprintf("%s %s unsupported", provider, op))
}

// AsProviderError extracts a ProviderError from err's chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
