package subscriptions

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenantbilling-backend/internal/dbtest"
	"github.com/angelmondragon/tenantbilling-backend/pkg/db"
	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type graceFunc func(sub *models.Subscription) bool

func (f graceFunc) Elapsed(sub *models.Subscription) bool { return f(sub) }

type harness struct {
	conn    *gorm.DB
	manager *Manager
	tenant  *models.Tenant
	now     time.Time
}

func newHarness(t *testing.T, grace GraceWindow) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	h := &harness{conn: conn, now: testNow}
	m, err := NewManager(ManagerParams{
		Repo:   NewRepository(conn),
		Events: NewEventRepository(conn),
		DB:     db.NewFromGorm(conn),
		Grace:  grace,
		Clock:  func() time.Time { return h.now },
	})
	require.NoError(t, err)
	h.manager = m
	h.tenant = dbtest.CreateTenant(t, conn, "acme")
	dbtest.CreatePlan(t, conn, dbtest.PlanFixture{ID: "pro", TrialDays: 14})
	return h
}

func (h *harness) create(t *testing.T) *models.Subscription {
	t.Helper()
	sub, err := h.manager.Create(context.Background(), CreateParams{
		TenantID: h.tenant.ID,
		PlanID:   "pro",
		Provider: enums.BillingProviderStripe,
	})
	require.NoError(t, err)
	return sub
}

// seed writes a row directly in the given status, bypassing the state machine.
func (h *harness) seed(t *testing.T, status enums.SubscriptionStatus, mutate func(*models.Subscription)) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		TenantID: h.tenant.ID,
		PlanID:   "pro",
		Status:   status,
		Provider: enums.BillingProviderStripe,
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, h.conn.Create(sub).Error)
	return sub
}

func (h *harness) events(t *testing.T, sub *models.Subscription) []models.SubscriptionEvent {
	t.Helper()
	events, err := h.manager.Events().ListBySubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	return events
}

func (h *harness) reload(t *testing.T, sub *models.Subscription) *models.Subscription {
	t.Helper()
	got, err := h.manager.Repository().FindByID(context.Background(), sub.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}

func eventTypes(events []models.SubscriptionEvent) []enums.SubscriptionEventType {
	out := make([]enums.SubscriptionEventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func decodeData(t *testing.T, e models.SubscriptionEvent) map[string]any {
	t.Helper()
	var data map[string]any
	require.NoError(t, json.Unmarshal(e.Data, &data))
	return data
}

func TestNewManagerRequiresDependencies(t *testing.T) {
	_, err := NewManager(ManagerParams{})
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestExpiredIsAbsorbingExceptReactivation(t *testing.T) {
	for _, op := range []Operation{OpActivate, OpMarkPastDue, OpCancel, OpExpire, OpChangePlan, OpSyncBillingPeriod} {
		require.False(t, CanApply(op, enums.SubscriptionStatusExpired), "op %s", op)
	}
	require.True(t, CanApply(OpStartTrial, enums.SubscriptionStatusExpired))
	require.False(t, CanApply(OpMarkPastDue, enums.SubscriptionStatusTrialing), "trialing cannot skip to past_due")
}

func TestCheckTransitionDetails(t *testing.T) {
	err := checkTransition(OpExpire, enums.SubscriptionStatusActive)
	require.True(t, IsInvalidTransition(err))
	typed := pkgerrors.As(err)
	require.Equal(t, map[string]any{"operation": "expire", "from": "active"}, typed.Details())
	require.Equal(t, 409, pkgerrors.MetadataFor(typed.Code()).HTTPStatus)
}

func TestAllowedSourcesReturnsCopy(t *testing.T) {
	sources := AllowedSources(OpExpire)
	sources[0] = enums.SubscriptionStatusActive
	require.False(t, CanApply(OpExpire, enums.SubscriptionStatusActive))
}

func TestCreateEmitsCreatedAndRefusesSecondLiveRow(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.create(t)
	require.Equal(t, enums.SubscriptionStatusNone, sub.Status)
	require.Equal(t, []enums.SubscriptionEventType{enums.SubscriptionEventCreated}, eventTypes(h.events(t, sub)))

	_, err := h.manager.Create(context.Background(), CreateParams{
		TenantID: h.tenant.ID,
		PlanID:   "pro",
		Provider: enums.BillingProviderStripe,
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestStartTrialFromNone(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.create(t)

	require.NoError(t, h.manager.StartTrial(context.Background(), sub, 14))
	require.Equal(t, enums.SubscriptionStatusTrialing, sub.Status)
	require.NotNil(t, sub.TrialEndsAt)
	require.True(t, sub.TrialEndsAt.Equal(testNow.AddDate(0, 0, 14)))

	stored := h.reload(t, sub)
	require.Equal(t, enums.SubscriptionStatusTrialing, stored.Status)
	require.True(t, stored.TrialEndsAt.Equal(testNow.AddDate(0, 0, 14)))

	events := h.events(t, sub)
	require.Equal(t, []enums.SubscriptionEventType{enums.SubscriptionEventCreated, enums.SubscriptionEventTrialStarted}, eventTypes(events))
}

func TestStartTrialRejectedOutsideSources(t *testing.T) {
	for _, status := range []enums.SubscriptionStatus{
		enums.SubscriptionStatusTrialing,
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusPastDue,
		enums.SubscriptionStatusCanceled,
	} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t, nil)
			sub := h.seed(t, status, func(s *models.Subscription) {
				if status == enums.SubscriptionStatusCanceled {
					s.EndsAt = dbtest.Ptr(testNow)
				}
			})
			err := h.manager.StartTrial(context.Background(), sub, 7)
			require.True(t, IsInvalidTransition(err))
			require.Equal(t, status, h.reload(t, sub).Status)
			require.Empty(t, h.events(t, sub))
		})
	}
}

func TestStartTrialReactivatesExpiredRowInPlace(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, enums.SubscriptionStatusExpired, func(s *models.Subscription) {
		s.EndsAt = dbtest.Ptr(testNow.AddDate(0, 0, -30))
		s.CancelledAt = dbtest.Ptr(testNow.AddDate(0, 0, -40))
		s.Metadata.MarkNotificationSent(1)
	})

	require.NoError(t, h.manager.StartTrial(context.Background(), sub, 7))
	stored := h.reload(t, sub)
	require.Equal(t, enums.SubscriptionStatusTrialing, stored.Status)
	require.Nil(t, stored.EndsAt)
	require.Nil(t, stored.CancelledAt)
	require.Empty(t, stored.Metadata.GraceNotificationsSent)

	var count int64
	require.NoError(t, h.conn.Model(&models.Subscription{}).Where("tenant_id = ?", h.tenant.ID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestActivateFromTrialingOrdersTrialEndedFirst(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.create(t)
	require.NoError(t, h.manager.StartTrial(context.Background(), sub, 14))

	require.NoError(t, h.manager.Activate(context.Background(), sub, "sub_123", WithExternalEventID("evt_1")))
	stored := h.reload(t, sub)
	require.Equal(t, enums.SubscriptionStatusActive, stored.Status)
	require.Nil(t, stored.TrialEndsAt)
	require.Equal(t, "sub_123", stored.ExternalSubscriptionID)

	events := h.events(t, sub)
	require.Equal(t, []enums.SubscriptionEventType{
		enums.SubscriptionEventCreated,
		enums.SubscriptionEventTrialStarted,
		enums.SubscriptionEventTrialEnded,
		enums.SubscriptionEventActivated,
	}, eventTypes(events))
	activated := events[3]
	require.NotNil(t, activated.ExternalEventID)
	require.Equal(t, "evt_1", *activated.ExternalEventID)
	data := decodeData(t, activated)
	require.Equal(t, "trialing", data["from"])
	require.Equal(t, "active", data["to"])
}

func TestActivateFromPastDueSkipsTrialEnded(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, enums.SubscriptionStatusPastDue, func(s *models.Subscription) {
		s.ExternalSubscriptionID = "sub_keep"
	})

	require.NoError(t, h.manager.Activate(context.Background(), sub, ""))
	require.Equal(t, "sub_keep", h.reload(t, sub).ExternalSubscriptionID)
	require.Equal(t, []enums.SubscriptionEventType{enums.SubscriptionEventActivated}, eventTypes(h.events(t, sub)))
}

func TestActivateWhenActiveIsRejected(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, enums.SubscriptionStatusActive, nil)
	require.True(t, IsInvalidTransition(h.manager.Activate(context.Background(), sub, "")))
}

func TestMarkPastDue(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, enums.SubscriptionStatusActive, nil)

	require.NoError(t, h.manager.MarkPastDue(context.Background(), sub))
	require.Equal(t, enums.SubscriptionStatusPastDue, h.reload(t, sub).Status)
	require.Equal(t, []enums.SubscriptionEventType{enums.SubscriptionEventPaymentFailed}, eventTypes(h.events(t, sub)))

	require.True(t, IsInvalidTransition(h.manager.MarkPastDue(context.Background(), sub)))
	require.Len(t, h.events(t, sub), 1)
}

func TestCancelImmediateSetsEndsAtNow(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, enums.SubscriptionStatusActive, func(s *models.Subscription) {
		s.BillingPeriodEnd = dbtest.Ptr(testNow.AddDate(0, 0, 20))
	})

	require.NoError(t, h.manager.Cancel(context.Background(), sub, CancelOptions{Immediate: true, Reason: "too_expensive"}))
	stored := h.reload(t, sub)
	require.Equal(t, enums.SubscriptionStatusCanceled, stored.Status)
	require.True(t, stored.EndsAt.Equal(testNow))
	require.True(t, stored.CancelledAt.Equal(testNow))

	events := h.events(t, sub)
	require.Len(t, events, 1)
	require.Equal(t, "too_expensive", decodeData(t, events[0])["reason"])
}

func TestCancelAtPeriodEnd(t *testing.T) {
	periodEnd := testNow.AddDate(0, 0, 20)
	trialEnd := testNow.AddDate(0, 0, 5)
	cases := []struct {
		name   string
		status enums.SubscriptionStatus
		mutate func(*models.Subscription)
		want   time.Time
	}{
		{
			name:   "active uses billing period end",
			status: enums.SubscriptionStatusActive,
			mutate: func(s *models.Subscription) { s.BillingPeriodEnd = dbtest.Ptr(periodEnd) },
			want:   periodEnd,
		},
		{
			name:   "trialing falls back to trial end",
			status: enums.SubscriptionStatusTrialing,
			mutate: func(s *models.Subscription) { s.TrialEndsAt = dbtest.Ptr(trialEnd) },
			want:   trialEnd,
		},
		{
			name:   "nothing set falls back to now",
			status: enums.SubscriptionStatusPastDue,
			want:   testNow,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			sub := h.seed(t, tc.status, tc.mutate)
			require.NoError(t, h.manager.Cancel(context.Background(), sub, CancelOptions{}))
			stored := h.reload(t, sub)
			require.NotNil(t, stored.EndsAt)
			require.True(t, stored.EndsAt.Equal(tc.want), "ends_at %v want %v", stored.EndsAt, tc.want)
			require.Nil(t, stored.TrialEndsAt)
		})
	}
}

func TestCancelRejectedFromNone(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.create(t)
	require.True(t, IsInvalidTransition(h.manager.Cancel(context.Background(), sub, CancelOptions{Immediate: true})))
}

func TestProcessGracePeriodIsIdempotent(t *testing.T) {
	h := newHarness(t, graceFunc(func(*models.Subscription) bool { return true }))
	sub := h.seed(t, enums.SubscriptionStatusCanceled, func(s *models.Subscription) {
		s.EndsAt = dbtest.Ptr(testNow.AddDate(0, 0, -10))
	})

	expired, err := h.manager.ProcessGracePeriod(context.Background(), sub)
	require.NoError(t, err)
	require.NotNil(t, expired)
	require.Equal(t, enums.SubscriptionStatusExpired, expired.Status)

	again, err := h.manager.ProcessGracePeriod(context.Background(), sub)
	require.NoError(t, err)
	require.Nil(t, again)

	count, err := h.manager.Events().CountByType(context.Background(), sub.ID, enums.SubscriptionEventExpired)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestProcessGracePeriodWithinWindowIsNoop(t *testing.T) {
	h := newHarness(t, graceFunc(func(*models.Subscription) bool { return false }))
	sub := h.seed(t, enums.SubscriptionStatusCanceled, func(s *models.Subscription) {
		s.EndsAt = dbtest.Ptr(testNow.AddDate(0, 0, -3))
	})

	got, err := h.manager.ProcessGracePeriod(context.Background(), sub)
	require.NoError(t, err)
	require.Nil(t, got)
	require.Equal(t, enums.SubscriptionStatusCanceled, h.reload(t, sub).Status)
	require.Empty(t, h.events(t, sub))
}

func TestProcessGracePeriodRequiresGraceWindow(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, enums.SubscriptionStatusCanceled, func(s *models.Subscription) {
		s.EndsAt = dbtest.Ptr(testNow)
	})
	_, err := h.manager.ProcessGracePeriod(context.Background(), sub)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
}

func TestStaleStatusIsInvalidTransition(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, enums.SubscriptionStatusActive, nil)

	stale := *sub
	require.NoError(t, h.manager.MarkPastDue(context.Background(), sub))

	err := h.manager.Cancel(context.Background(), &stale, CancelOptions{Immediate: true})
	require.True(t, IsInvalidTransition(err))
	require.Equal(t, enums.SubscriptionStatusPastDue, h.reload(t, sub).Status)
	require.Equal(t, enums.SubscriptionStatusActive, stale.Status)
	require.Len(t, h.events(t, sub), 1)
}

func TestChangePlan(t *testing.T) {
	h := newHarness(t, nil)
	dbtest.CreatePlan(t, h.conn, dbtest.PlanFixture{ID: "team"})
	sub := h.seed(t, enums.SubscriptionStatusActive, nil)

	require.NoError(t, h.manager.ChangePlan(context.Background(), sub, "pro"))
	require.Empty(t, h.events(t, sub))

	require.NoError(t, h.manager.ChangePlan(context.Background(), sub, "team"))
	require.Equal(t, "team", h.reload(t, sub).PlanID)
	events := h.events(t, sub)
	require.Len(t, events, 1)
	data := decodeData(t, events[0])
	require.Equal(t, "pro", data["from_plan"])
	require.Equal(t, "team", data["to_plan"])
}

func TestSyncBillingPeriodSkipsUnchanged(t *testing.T) {
	h := newHarness(t, nil)
	start := testNow.AddDate(0, 0, -1)
	end := start.AddDate(0, 1, 0)
	sub := h.seed(t, enums.SubscriptionStatusActive, nil)

	require.NoError(t, h.manager.SyncBillingPeriod(context.Background(), sub, &start, &end))
	require.NoError(t, h.manager.SyncBillingPeriod(context.Background(), sub, &start, &end))
	stored := h.reload(t, sub)
	require.True(t, stored.BillingPeriodEnd.Equal(end))
	require.Equal(t, []enums.SubscriptionEventType{enums.SubscriptionEventUpdated}, eventTypes(h.events(t, sub)))
}

func TestRecordStateChangeDoesNotMutate(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, enums.SubscriptionStatusActive, nil)

	err := h.manager.RecordStateChange(context.Background(), sub,
		enums.SubscriptionStatusActive, enums.SubscriptionStatusActive,
		map[string]any{"source": "pause_collection"},
		WithEventType(enums.SubscriptionEventResumed),
	)
	require.NoError(t, err)
	require.NoError(t, h.manager.RecordPaymentSucceeded(context.Background(), sub, map[string]any{"amount": 2900}))

	events := h.events(t, sub)
	require.Equal(t, []enums.SubscriptionEventType{enums.SubscriptionEventResumed, enums.SubscriptionEventPaymentSucceeded}, eventTypes(events))
	require.Equal(t, "pause_collection", decodeData(t, events[0])["source"])
	require.Equal(t, enums.SubscriptionStatusActive, h.reload(t, sub).Status)
}

func TestUpdateMetadataPersistsWithEvent(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, enums.SubscriptionStatusCanceled, func(s *models.Subscription) {
		s.EndsAt = dbtest.Ptr(testNow)
	})

	applied, err := h.manager.UpdateMetadata(context.Background(), sub, enums.SubscriptionEventGracePeriodNotification,
		func(_ *models.Subscription, md *models.SubscriptionMetadata) (map[string]any, error) {
			md.MarkNotificationSent(3)
			return map[string]any{"day": 3}, nil
		})
	require.NoError(t, err)
	require.True(t, applied)
	require.True(t, sub.Metadata.NotificationSent(3))
	require.True(t, h.reload(t, sub).Metadata.NotificationSent(3))
	require.Len(t, h.events(t, sub), 1)
}

func TestUpdateMetadataAppliesToStoredRow(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, enums.SubscriptionStatusCanceled, func(s *models.Subscription) {
		s.EndsAt = dbtest.Ptr(testNow)
	})
	first, second := h.reload(t, sub), h.reload(t, sub)

	extend := func(_ *models.Subscription, md *models.SubscriptionMetadata) (map[string]any, error) {
		md.AddExtension(models.GracePeriodExtension{Days: 2, At: testNow})
		return nil, nil
	}
	_, err := h.manager.UpdateMetadata(context.Background(), first, enums.SubscriptionEventGracePeriodExtended, extend)
	require.NoError(t, err)
	_, err = h.manager.UpdateMetadata(context.Background(), second, enums.SubscriptionEventGracePeriodExtended, extend)
	require.NoError(t, err)

	require.Len(t, h.reload(t, sub).Metadata.GracePeriodExtensions, 2)
	require.Len(t, second.Metadata.GracePeriodExtensions, 2)
}

func TestUpdateMetadataUnchangedSkipsEvent(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, enums.SubscriptionStatusCanceled, nil)

	applied, err := h.manager.UpdateMetadata(context.Background(), sub, enums.SubscriptionEventGracePeriodNotification,
		func(*models.Subscription, *models.SubscriptionMetadata) (map[string]any, error) {
			return nil, ErrMetadataUnchanged
		})
	require.NoError(t, err)
	require.False(t, applied)
	require.Empty(t, h.events(t, sub))

	missing := &models.Subscription{ID: uuid.New(), Status: enums.SubscriptionStatusCanceled}
	_, err = h.manager.UpdateMetadata(context.Background(), missing, enums.SubscriptionEventGracePeriodNotification,
		func(*models.Subscription, *models.SubscriptionMetadata) (map[string]any, error) { return nil, nil })
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestWithTxJoinsCallerTransaction(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.seed(t, enums.SubscriptionStatusActive, nil)

	err := db.NewFromGorm(h.conn).WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := h.manager.WithTx(tx).MarkPastDue(context.Background(), sub); err != nil {
			return err
		}
		return pkgerrors.New(pkgerrors.CodeInternal, "abort")
	})
	require.Error(t, err)

	stored, err := NewRepository(h.conn).FindByID(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, enums.SubscriptionStatusActive, stored.Status)
	events, err := NewEventRepository(h.conn).ListBySubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestRequireSubscription(t *testing.T) {
	h := newHarness(t, nil)
	err := h.manager.Expire(context.Background(), &models.Subscription{ID: uuid.Nil})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
