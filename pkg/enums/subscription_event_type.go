package enums

import "fmt"

// SubscriptionEventType labels entries in the append-only subscription audit trail.
type SubscriptionEventType string

const (
	SubscriptionEventCreated                 SubscriptionEventType = "created"
	SubscriptionEventTrialStarted            SubscriptionEventType = "trial_started"
	SubscriptionEventTrialEnded              SubscriptionEventType = "trial_ended"
	SubscriptionEventActivated               SubscriptionEventType = "activated"
	SubscriptionEventPaymentFailed           SubscriptionEventType = "payment_failed"
	SubscriptionEventPaymentSucceeded        SubscriptionEventType = "payment_succeeded"
	SubscriptionEventPlanChanged             SubscriptionEventType = "plan_changed"
	SubscriptionEventCanceled                SubscriptionEventType = "canceled"
	SubscriptionEventExpired                 SubscriptionEventType = "expired"
	SubscriptionEventUpdated                 SubscriptionEventType = "updated"
	SubscriptionEventResumed                 SubscriptionEventType = "resumed"
	SubscriptionEventGracePeriodNotification SubscriptionEventType = "grace_period_notification"
	SubscriptionEventGracePeriodExtended     SubscriptionEventType = "grace_period_extended"
)

var validSubscriptionEventTypes = []SubscriptionEventType{
	SubscriptionEventCreated,
	SubscriptionEventTrialStarted,
	SubscriptionEventTrialEnded,
	SubscriptionEventActivated,
	SubscriptionEventPaymentFailed,
	SubscriptionEventPaymentSucceeded,
	SubscriptionEventPlanChanged,
	SubscriptionEventCanceled,
	SubscriptionEventExpired,
	SubscriptionEventUpdated,
	SubscriptionEventResumed,
	SubscriptionEventGracePeriodNotification,
	SubscriptionEventGracePeriodExtended,
}

// String implements fmt.Stringer.
func (e SubscriptionEventType) String() string {
	return string(e)
}

// IsValid reports whether the value is known.
func (e SubscriptionEventType) IsValid() bool {
	for _, candidate := range validSubscriptionEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseSubscriptionEventType converts raw input into a SubscriptionEventType.
func ParseSubscriptionEventType(value string) (SubscriptionEventType, error) {
	for _, candidate := range validSubscriptionEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription event type %q", value)
}
