package models

import (
	"testing"
	"time"
)

func TestSubscriptionMetadataMarkNotificationSentIsSetUnion(t *testing.T) {
	var meta SubscriptionMetadata
	meta.MarkNotificationSent(3)
	meta.MarkNotificationSent(1)
	meta.MarkNotificationSent(3)

	if got := meta.GraceNotificationsSent; len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("unexpected sent set %v", got)
	}
	if !meta.NotificationSent(1) || meta.NotificationSent(7) {
		t.Fatalf("NotificationSent mismatch for %v", meta.GraceNotificationsSent)
	}
}

func TestSubscriptionMetadataExtensionDaysSums(t *testing.T) {
	var meta SubscriptionMetadata
	meta.AddExtension(GracePeriodExtension{Days: 3, Reason: "support", At: time.Now()})
	meta.AddExtension(GracePeriodExtension{Days: 2, At: time.Now()})
	if got := meta.ExtensionDays(); got != 5 {
		t.Fatalf("expected 5 extension days, got %d", got)
	}
}

func TestSubscriptionMetadataScan(t *testing.T) {
	var meta SubscriptionMetadata
	if err := meta.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	raw := []byte(`{"grace_period_extensions":[{"days":4,"reason":"goodwill","at":"2026-01-02T00:00:00Z"}],"grace_notifications_sent":[1,3]}`)
	if err := meta.Scan(raw); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	if meta.ExtensionDays() != 4 || !meta.NotificationSent(3) {
		t.Fatalf("unexpected decoded metadata %+v", meta)
	}
	if err := meta.Scan(42); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}
