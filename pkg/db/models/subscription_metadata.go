package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// GracePeriodExtension records one manual extension of a grace window.
type GracePeriodExtension struct {
	Days   int       `json:"days"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// SubscriptionMetadata is the typed jsonb payload stored on subscriptions.
type SubscriptionMetadata struct {
	GracePeriodExtensions  []GracePeriodExtension `json:"grace_period_extensions,omitempty"`
	GraceNotificationsSent []int                  `json:"grace_notifications_sent,omitempty"`
}

// ExtensionDays sums every recorded extension.
func (m SubscriptionMetadata) ExtensionDays() int {
	total := 0
	for _, ext := range m.GracePeriodExtensions {
		total += ext.Days
	}
	return total
}

// NotificationSent reports whether the grace notification for day was delivered.
func (m SubscriptionMetadata) NotificationSent(day int) bool {
	for _, sent := range m.GraceNotificationsSent {
		if sent == day {
			return true
		}
	}
	return false
}

// MarkNotificationSent adds day to the sent set, keeping it sorted and unique.
func (m *SubscriptionMetadata) MarkNotificationSent(day int) {
	if m.NotificationSent(day) {
		return
	}
	m.GraceNotificationsSent = append(m.GraceNotificationsSent, day)
	sort.Ints(m.GraceNotificationsSent)
}

// AddExtension appends an extension record.
func (m *SubscriptionMetadata) AddExtension(ext GracePeriodExtension) {
	m.GracePeriodExtensions = append(m.GracePeriodExtensions, ext)
}

// Value implements driver.Valuer.
func (m SubscriptionMetadata) Value() (driver.Value, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *SubscriptionMetadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = SubscriptionMetadata{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("SubscriptionMetadata: unsupported Scan type %T", src)
	}
	if len(raw) == 0 {
		*m = SubscriptionMetadata{}
		return nil
	}
	var out SubscriptionMetadata
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("SubscriptionMetadata: decode: %w", err)
	}
	*m = out
	return nil
}
