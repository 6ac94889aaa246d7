// Package dbtest opens in-memory sqlite databases carrying the billing schema for package tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
)

// sqlite rendition of pkg/migrate/migrations; keep the two in step.
var schema = []string{
	`CREATE TABLE tenants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		billing_email TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		max_users INTEGER NOT NULL DEFAULT -1,
		max_workspaces INTEGER NOT NULL DEFAULT -1,
		max_boards INTEGER NOT NULL DEFAULT -1,
		max_storage_mb INTEGER NOT NULL DEFAULT -1,
		features TEXT NOT NULL DEFAULT '{}',
		price NUMERIC NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'USD',
		billing_interval TEXT NOT NULL DEFAULT 'monthly',
		trial_days INTEGER NOT NULL DEFAULT 0,
		external_price_id TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE subscriptions (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'none',
		provider TEXT NOT NULL,
		billing_period_start DATETIME,
		billing_period_end DATETIME,
		trial_ends_at DATETIME,
		ends_at DATETIME,
		cancelled_at DATETIME,
		external_customer_id TEXT,
		external_subscription_id TEXT,
		metadata TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_subscriptions_live_tenant ON subscriptions (tenant_id) WHERE status <> 'expired'`,
	`CREATE TABLE subscription_events (
		id TEXT PRIMARY KEY,
		subscription_id TEXT NOT NULL,
		type TEXT NOT NULL,
		data BLOB,
		external_event_id TEXT,
		created_at DATETIME
	)`,
	`CREATE TABLE processed_webhook_events (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		external_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		processed_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_processed_webhook_events_provider_event ON processed_webhook_events (provider, external_event_id)`,
	`CREATE TABLE notifications (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL,
		link TEXT,
		read_at DATETIME,
		created_at DATETIME
	)`,
	`CREATE TABLE tenant_memberships (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL
	)`,
	`CREATE TABLE workspaces (id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL)`,
	`CREATE TABLE boards (id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL)`,
	`CREATE TABLE attachments (id TEXT PRIMARY KEY, tenant_id TEXT NOT NULL, size_bytes INTEGER NOT NULL DEFAULT 0)`,
}

// Open returns a fresh, isolated in-memory database with the billing tables created.
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// the named in-memory database lives as long as one connection stays open
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetConnMaxLifetime(0)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v\n%s", err, stmt)
		}
	}
	return conn
}

// CreateTenant inserts a tenant row.
func CreateTenant(t testing.TB, conn *gorm.DB, name string) *models.Tenant {
	t.Helper()
	tenant := &models.Tenant{ID: uuid.New(), Name: name, BillingEmail: "billing@" + name + ".test"}
	if err := conn.Create(tenant).Error; err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return tenant
}

// PlanFixture describes a plan to seed; zero limits are stored as unlimited.
type PlanFixture struct {
	ID            string
	MaxUsers      int
	MaxWorkspaces int
	MaxBoards     int
	MaxStorageMB  int
	TrialDays     int
	Features      []string
}

// CreatePlan inserts a plan row.
func CreatePlan(t testing.TB, conn *gorm.DB, fx PlanFixture) *models.Plan {
	t.Helper()
	orUnlimited := func(v int) int {
		if v == 0 {
			return models.Unlimited
		}
		return v
	}
	plan := &models.Plan{
		ID:              fx.ID,
		Name:            fx.ID,
		MaxUsers:        orUnlimited(fx.MaxUsers),
		MaxWorkspaces:   orUnlimited(fx.MaxWorkspaces),
		MaxBoards:       orUnlimited(fx.MaxBoards),
		MaxStorageMB:    orUnlimited(fx.MaxStorageMB),
		Features:        pq.StringArray(fx.Features),
		Price:           decimal.RequireFromString("29.00"),
		Currency:        "USD",
		BillingInterval: enums.BillingIntervalMonthly,
		TrialDays:       fx.TrialDays,
		ExternalPriceID: "price_" + fx.ID,
	}
	if plan.Features == nil {
		plan.Features = pq.StringArray{}
	}
	if err := conn.Create(plan).Error; err != nil {
		t.Fatalf("create plan: %v", err)
	}
	return plan
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
