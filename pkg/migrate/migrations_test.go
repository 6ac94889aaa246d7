package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/tenantbilling-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, check := range checks {
		if !strings.Contains(content, check) {
			t.Fatalf("migration missing %q", check)
		}
	}
}

func TestSubscriptionsMigrationEnforcesSingleLiveRow(t *testing.T) {
	content := readMigration(t, "create_subscriptions")
	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS subscriptions",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_subscriptions_live_tenant",
		"WHERE status <> 'expired'",
		"CHECK (status NOT IN ('canceled', 'expired') OR ends_at IS NOT NULL)",
		"CREATE TABLE IF NOT EXISTS subscription_events",
	})
}

func TestWebhookLedgerMigrationIsUniquePerProviderEvent(t *testing.T) {
	content := readMigration(t, "create_processed_webhook_events")
	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS processed_webhook_events",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_processed_webhook_events_provider_event",
		"ON processed_webhook_events (provider, external_event_id)",
	})
}

func TestEnumMigrationCoversEveryStatus(t *testing.T) {
	content := readMigration(t, "create_billing_enums")
	assertContains(t, content, []string{
		"'none', 'trialing', 'active', 'past_due', 'canceled', 'expired'",
		"'grace_period_notification'",
		"'grace_period_extended'",
	})
}

func TestValidateDirAcceptsMigrations(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("ValidateDir: %v", err)
	}
}

func TestValidateDirRejectsBadFilename(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad-name.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename error")
	}
}

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Plan Limits!")
	if err != nil {
		t.Fatalf("CreateSQLMigration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_plan_limits.sql") {
		t.Fatalf("unexpected path %q", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
}
