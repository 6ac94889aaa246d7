package subscriptions

import (
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
)

// Operation names a mutating lifecycle operation.
type Operation string

const (
	OpStartTrial        Operation = "start_trial"
	OpActivate          Operation = "activate"
	OpMarkPastDue       Operation = "mark_past_due"
	OpCancel            Operation = "cancel"
	OpExpire            Operation = "expire"
	OpChangePlan        Operation = "change_plan"
	OpSyncBillingPeriod Operation = "sync_billing_period"
)

// allowedSources is the transition graph: the statuses each operation may start from.
var allowedSources = map[Operation][]enums.SubscriptionStatus{
	OpStartTrial: {
		enums.SubscriptionStatusNone,
		enums.SubscriptionStatusExpired,
	},
	OpActivate: {
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusPastDue,
	},
	OpMarkPastDue: {
		enums.SubscriptionStatusActive,
	},
	OpCancel: {
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue,
	},
	OpExpire: {
		enums.SubscriptionStatusCanceled,
	},
	OpChangePlan: {
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue,
	},
	OpSyncBillingPeriod: {
		enums.SubscriptionStatusNone,
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusCanceled,
	},
}

// CanApply reports whether op is permitted from status.
func CanApply(op Operation, from enums.SubscriptionStatus) bool {
	for _, candidate := range allowedSources[op] {
		if candidate == from {
			return true
		}
	}
	return false
}

// AllowedSources returns a copy of the statuses op may start from.
func AllowedSources(op Operation) []enums.SubscriptionStatus {
	sources := allowedSources[op]
	out := make([]enums.SubscriptionStatus, len(sources))
	copy(out, sources)
	return out
}

func checkTransition(op Operation, from enums.SubscriptionStatus) error {
	if CanApply(op, from) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, "cannot "+string(op)+" from "+string(from)).
		WithDetails(map[string]any{
			"operation": string(op),
			"from":      string(from),
		})
}

// IsInvalidTransition reports whether err is a rejected state transition.
func IsInvalidTransition(err error) bool {
	return pkgerrors.IsCode(err, pkgerrors.CodeInvalidTransition)
}
