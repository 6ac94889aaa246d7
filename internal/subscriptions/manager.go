package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
)

// GraceWindow answers whether a canceled subscription's grace period has run out.
type GraceWindow interface {
	Elapsed(sub *models.Subscription) bool
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ManagerParams wires the state manager.
type ManagerParams struct {
	Repo   Repository
	Events EventRepository
	DB     txRunner
	Grace  GraceWindow
	Logger *logger.Logger
	Clock  func() time.Time
}

// Manager applies lifecycle transitions and records one audit event per change.
type Manager struct {
	repo   Repository
	events EventRepository
	db     txRunner
	grace  GraceWindow
	logg   *logger.Logger
	now    func() time.Time
	stamps *eventClock
	tx     *gorm.DB
}

// eventClock hands out strictly increasing event timestamps so that events written in the
// same clock tick keep their order.
type eventClock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *eventClock) reserve(now time.Time, n int) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	base := now
	if !base.After(c.last) {
		base = c.last.Add(time.Microsecond)
	}
	if n > 0 {
		c.last = base.Add(time.Duration(n-1) * time.Microsecond)
	}
	return base
}

// NewManager validates dependencies and returns a manager.
func NewManager(p ManagerParams) (*Manager, error) {
	if p.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription repository required")
	}
	if p.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription event repository required")
	}
	if p.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		repo:   p.Repo,
		events: p.Events,
		db:     p.DB,
		grace:  p.Grace,
		logg:   p.Logger,
		now:    func() time.Time { return clock().UTC() },
		stamps: &eventClock{},
	}, nil
}

// WithTx returns a copy of the manager that runs inside the caller's transaction.
func (m *Manager) WithTx(tx *gorm.DB) *Manager {
	if tx == nil {
		return m
	}
	bound := *m
	bound.tx = tx
	bound.repo = m.repo.WithTx(tx)
	bound.events = m.events.WithTx(tx)
	return &bound
}

// Repository exposes the (possibly tx-bound) subscription repository.
func (m *Manager) Repository() Repository {
	return m.repo
}

// Events exposes the (possibly tx-bound) event repository.
func (m *Manager) Events() EventRepository {
	return m.events
}

// Now returns the manager clock in UTC.
func (m *Manager) Now() time.Time {
	return m.now()
}

type eventOptions struct {
	externalEventID string
	data            map[string]any
	eventType       enums.SubscriptionEventType
}

// EventOption decorates the event written by an operation.
type EventOption func(*eventOptions)

// WithExternalEventID tags the event with the provider event that caused it.
func WithExternalEventID(id string) EventOption {
	return func(o *eventOptions) {
		o.externalEventID = id
	}
}

// WithEventData merges extra fields into the event payload.
func WithEventData(data map[string]any) EventOption {
	return func(o *eventOptions) {
		if o.data == nil {
			o.data = map[string]any{}
		}
		for k, v := range data {
			o.data[k] = v
		}
	}
}

// WithEventType overrides the event type written by RecordStateChange.
func WithEventType(t enums.SubscriptionEventType) EventOption {
	return func(o *eventOptions) {
		o.eventType = t
	}
}

func collectOptions(opts []EventOption) eventOptions {
	var o eventOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

type pendingEvent struct {
	eventType enums.SubscriptionEventType
	data      map[string]any
}

type stores struct {
	repo   Repository
	events EventRepository
}

func (m *Manager) inTx(ctx context.Context, fn func(s stores) error) error {
	if m.tx != nil {
		return fn(stores{repo: m.repo, events: m.events})
	}
	return m.db.WithTx(ctx, func(tx *gorm.DB) error {
		return fn(stores{repo: m.repo.WithTx(tx), events: m.events.WithTx(tx)})
	})
}

// commit persists next (guarded on the status sub currently holds) plus the events, then
// copies next back into sub.
func (m *Manager) commit(ctx context.Context, sub, next *models.Subscription, opts eventOptions, events ...pendingEvent) error {
	expected := sub.Status
	now := m.now()
	err := m.inTx(ctx, func(s stores) error {
		if err := s.repo.Update(ctx, next, expected); err != nil {
			if errors.Is(err, ErrStaleStatus) {
				return pkgerrors.New(pkgerrors.CodeInvalidTransition, "subscription status changed concurrently").
					WithDetails(map[string]any{"from": string(expected)})
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
		}
		return m.appendEvents(ctx, s.events, next.ID, now, opts, events)
	})
	if err != nil {
		return err
	}
	*sub = *next
	return nil
}

func (m *Manager) appendEvents(ctx context.Context, repo EventRepository, subID uuid.UUID, now time.Time, opts eventOptions, events []pendingEvent) error {
	base := m.stamps.reserve(now, len(events))
	for i, pending := range events {
		data := map[string]any{}
		for k, v := range opts.data {
			data[k] = v
		}
		for k, v := range pending.data {
			data[k] = v
		}
		raw, err := json.Marshal(data)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode event data")
		}
		event := &models.SubscriptionEvent{
			SubscriptionID: subID,
			Type:           pending.eventType,
			Data:           raw,
			CreatedAt:      base.Add(time.Duration(i) * time.Microsecond),
		}
		if opts.externalEventID != "" {
			id := opts.externalEventID
			event.ExternalEventID = &id
		}
		if err := repo.Append(ctx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append subscription event")
		}
	}
	return nil
}

func clone(sub *models.Subscription) *models.Subscription {
	next := *sub
	next.Metadata.GracePeriodExtensions = append([]models.GracePeriodExtension(nil), sub.Metadata.GracePeriodExtensions...)
	next.Metadata.GraceNotificationsSent = append([]int(nil), sub.Metadata.GraceNotificationsSent...)
	return &next
}

func requireSubscription(sub *models.Subscription) error {
	if sub == nil || sub.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription required")
	}
	return nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// CreateParams describes a new subscription row.
type CreateParams struct {
	TenantID           uuid.UUID
	PlanID             string
	Provider           enums.BillingProvider
	ExternalCustomerID string
}

// Create inserts the tenant's status=none subscription. It refuses when a live row exists.
func (m *Manager) Create(ctx context.Context, p CreateParams, opts ...EventOption) (*models.Subscription, error) {
	if p.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id required")
	}
	if p.PlanID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan id required")
	}
	if !p.Provider.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown billing provider")
	}

	o := collectOptions(opts)
	now := m.now()
	sub := &models.Subscription{
		ID:                 uuid.New(),
		TenantID:           p.TenantID,
		PlanID:             p.PlanID,
		Status:             enums.SubscriptionStatusNone,
		Provider:           p.Provider,
		ExternalCustomerID: p.ExternalCustomerID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err := m.inTx(ctx, func(s stores) error {
		live, err := s.repo.FindActiveByTenant(ctx, p.TenantID)
		if err != nil {
			return err
		}
		if live != nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "tenant already has a live subscription").
				WithDetails(map[string]any{"subscription_id": live.ID.String(), "status": string(live.Status)})
		}
		if err := s.repo.Create(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
		}
		return m.appendEvents(ctx, s.events, sub.ID, now, o, []pendingEvent{{
			eventType: enums.SubscriptionEventCreated,
			data:      map[string]any{"plan_id": p.PlanID, "provider": string(p.Provider)},
		}})
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// StartTrial moves a none or expired subscription into trialing for the given number of days.
func (m *Manager) StartTrial(ctx context.Context, sub *models.Subscription, days int, opts ...EventOption) error {
	if err := requireSubscription(sub); err != nil {
		return err
	}
	if err := checkTransition(OpStartTrial, sub.Status); err != nil {
		return err
	}
	if days < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "trial days must not be negative")
	}

	now := m.now()
	trialEnd := now.AddDate(0, 0, days)
	next := clone(sub)
	next.Status = enums.SubscriptionStatusTrialing
	next.TrialEndsAt = timePtr(trialEnd)
	next.BillingPeriodStart = timePtr(now)
	next.BillingPeriodEnd = nil
	next.EndsAt = nil
	next.CancelledAt = nil
	next.Metadata = models.SubscriptionMetadata{}

	return m.commit(ctx, sub, next, collectOptions(opts), pendingEvent{
		eventType: enums.SubscriptionEventTrialStarted,
		data: map[string]any{
			"from":          string(sub.Status),
			"trial_days":    days,
			"trial_ends_at": trialEnd,
		},
	})
}

// Activate marks a trialing or past-due subscription active.
func (m *Manager) Activate(ctx context.Context, sub *models.Subscription, externalSubID string, opts ...EventOption) error {
	if err := requireSubscription(sub); err != nil {
		return err
	}
	if err := checkTransition(OpActivate, sub.Status); err != nil {
		return err
	}

	from := sub.Status
	next := clone(sub)
	next.Status = enums.SubscriptionStatusActive
	next.TrialEndsAt = nil
	if externalSubID != "" {
		next.ExternalSubscriptionID = externalSubID
	}

	var events []pendingEvent
	if from == enums.SubscriptionStatusTrialing {
		trialData := map[string]any{}
		if sub.TrialEndsAt != nil {
			trialData["trial_ends_at"] = *sub.TrialEndsAt
		}
		events = append(events, pendingEvent{eventType: enums.SubscriptionEventTrialEnded, data: trialData})
	}
	events = append(events, pendingEvent{
		eventType: enums.SubscriptionEventActivated,
		data:      map[string]any{"from": string(from), "to": string(next.Status)},
	})
	return m.commit(ctx, sub, next, collectOptions(opts), events...)
}

// MarkPastDue flags an active subscription whose payment failed.
func (m *Manager) MarkPastDue(ctx context.Context, sub *models.Subscription, opts ...EventOption) error {
	if err := requireSubscription(sub); err != nil {
		return err
	}
	if err := checkTransition(OpMarkPastDue, sub.Status); err != nil {
		return err
	}

	next := clone(sub)
	next.Status = enums.SubscriptionStatusPastDue
	return m.commit(ctx, sub, next, collectOptions(opts), pendingEvent{
		eventType: enums.SubscriptionEventPaymentFailed,
		data:      map[string]any{"from": string(sub.Status), "to": string(next.Status)},
	})
}

// CancelOptions controls when a cancellation takes effect.
type CancelOptions struct {
	Immediate bool
	Reason    string
	Feedback  string
}

// Cancel ends a trialing, active or past-due subscription now or at the end of its current period.
func (m *Manager) Cancel(ctx context.Context, sub *models.Subscription, co CancelOptions, opts ...EventOption) error {
	if err := requireSubscription(sub); err != nil {
		return err
	}
	if err := checkTransition(OpCancel, sub.Status); err != nil {
		return err
	}

	now := m.now()
	endsAt := now
	if !co.Immediate {
		switch {
		case sub.BillingPeriodEnd != nil:
			endsAt = sub.BillingPeriodEnd.UTC()
		case sub.Status == enums.SubscriptionStatusTrialing && sub.TrialEndsAt != nil:
			endsAt = sub.TrialEndsAt.UTC()
		}
	}

	next := clone(sub)
	next.Status = enums.SubscriptionStatusCanceled
	next.EndsAt = timePtr(endsAt)
	next.CancelledAt = timePtr(now)
	next.TrialEndsAt = nil

	data := map[string]any{
		"from":      string(sub.Status),
		"immediate": co.Immediate,
		"ends_at":   endsAt,
	}
	if co.Reason != "" {
		data["reason"] = co.Reason
	}
	if co.Feedback != "" {
		data["feedback"] = co.Feedback
	}
	return m.commit(ctx, sub, next, collectOptions(opts), pendingEvent{
		eventType: enums.SubscriptionEventCanceled,
		data:      data,
	})
}

// Expire moves a canceled subscription into the terminal expired status.
func (m *Manager) Expire(ctx context.Context, sub *models.Subscription, opts ...EventOption) error {
	if err := requireSubscription(sub); err != nil {
		return err
	}
	if err := checkTransition(OpExpire, sub.Status); err != nil {
		return err
	}

	now := m.now()
	next := clone(sub)
	next.Status = enums.SubscriptionStatusExpired
	next.EndsAt = timePtr(now)

	data := map[string]any{"from": string(sub.Status)}
	if sub.EndsAt != nil {
		data["canceled_ends_at"] = *sub.EndsAt
	}
	return m.commit(ctx, sub, next, collectOptions(opts), pendingEvent{
		eventType: enums.SubscriptionEventExpired,
		data:      data,
	})
}

// ProcessGracePeriod expires sub when it is canceled and its grace window has elapsed.
// It returns the expired subscription, or nil when nothing was done.
func (m *Manager) ProcessGracePeriod(ctx context.Context, sub *models.Subscription, opts ...EventOption) (*models.Subscription, error) {
	if err := requireSubscription(sub); err != nil {
		return nil, err
	}
	if m.grace == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "grace window not configured")
	}
	if sub.Status != enums.SubscriptionStatusCanceled || !m.grace.Elapsed(sub) {
		return nil, nil
	}
	if err := m.Expire(ctx, sub, opts...); err != nil {
		return nil, err
	}
	if m.logg != nil {
		logCtx := m.logg.WithTenantID(ctx, sub.TenantID.String())
		logCtx = m.logg.WithSubscriptionID(logCtx, sub.ID.String())
		m.logg.Info(logCtx, "subscription.expired")
	}
	return sub, nil
}

// ChangePlan swaps the plan reference of a trialing, active or past-due subscription.
func (m *Manager) ChangePlan(ctx context.Context, sub *models.Subscription, planID string, opts ...EventOption) error {
	if err := requireSubscription(sub); err != nil {
		return err
	}
	if planID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "plan id required")
	}
	if err := checkTransition(OpChangePlan, sub.Status); err != nil {
		return err
	}
	if sub.PlanID == planID {
		return nil
	}

	next := clone(sub)
	next.PlanID = planID
	return m.commit(ctx, sub, next, collectOptions(opts), pendingEvent{
		eventType: enums.SubscriptionEventPlanChanged,
		data:      map[string]any{"from_plan": sub.PlanID, "to_plan": planID},
	})
}

// SyncBillingPeriod stores the period reported by the provider. Unchanged periods write nothing.
func (m *Manager) SyncBillingPeriod(ctx context.Context, sub *models.Subscription, start, end *time.Time, opts ...EventOption) error {
	if err := requireSubscription(sub); err != nil {
		return err
	}
	if err := checkTransition(OpSyncBillingPeriod, sub.Status); err != nil {
		return err
	}
	if sameTime(sub.BillingPeriodStart, start) && sameTime(sub.BillingPeriodEnd, end) {
		return nil
	}

	next := clone(sub)
	data := map[string]any{
		"from": string(sub.Status),
		"to":   string(sub.Status),
	}
	if start != nil {
		next.BillingPeriodStart = timePtr(start.UTC())
		data["billing_period_start"] = start.UTC()
	}
	if end != nil {
		next.BillingPeriodEnd = timePtr(end.UTC())
		data["billing_period_end"] = end.UTC()
	}
	return m.commit(ctx, sub, next, collectOptions(opts), pendingEvent{
		eventType: enums.SubscriptionEventUpdated,
		data:      data,
	})
}

func sameTime(current, incoming *time.Time) bool {
	if incoming == nil {
		return true
	}
	return current != nil && current.Equal(*incoming)
}

// RecordPaymentSucceeded writes a payment_succeeded audit event without touching state.
func (m *Manager) RecordPaymentSucceeded(ctx context.Context, sub *models.Subscription, data map[string]any, opts ...EventOption) error {
	opts = append(opts, WithEventType(enums.SubscriptionEventPaymentSucceeded))
	return m.record(ctx, sub, data, opts)
}

// RecordStateChange writes an audit event describing an externally observed change.
// The event type defaults to updated. The subscription is not mutated.
func (m *Manager) RecordStateChange(ctx context.Context, sub *models.Subscription, from, to enums.SubscriptionStatus, extra map[string]any, opts ...EventOption) error {
	data := map[string]any{"from": string(from), "to": string(to)}
	for k, v := range extra {
		data[k] = v
	}
	return m.record(ctx, sub, data, opts)
}

func (m *Manager) record(ctx context.Context, sub *models.Subscription, data map[string]any, opts []EventOption) error {
	if err := requireSubscription(sub); err != nil {
		return err
	}
	o := collectOptions(opts)
	eventType := o.eventType
	if eventType == "" {
		eventType = enums.SubscriptionEventUpdated
	}
	if !eventType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown subscription event type")
	}
	now := m.now()
	return m.inTx(ctx, func(s stores) error {
		return m.appendEvents(ctx, s.events, sub.ID, now, o, []pendingEvent{{eventType: eventType, data: data}})
	})
}

// ErrMetadataUnchanged, returned by a MetadataMutation, skips the write and the event.
var ErrMetadataUnchanged = errors.New("subscription metadata unchanged")

// MetadataMutation edits md, a copy of the locked row's metadata. current is the locked row.
// The returned map becomes the event payload.
type MetadataMutation func(current *models.Subscription, md *models.SubscriptionMetadata) (map[string]any, error)

// UpdateMetadata locks sub's row, applies mutate to the stored metadata and persists the result
// together with one event of the given type. Status is left unchanged. It reports false when
// mutate returned ErrMetadataUnchanged. sub is refreshed from the stored row on success.
func (m *Manager) UpdateMetadata(ctx context.Context, sub *models.Subscription, eventType enums.SubscriptionEventType, mutate MetadataMutation, opts ...EventOption) (bool, error) {
	if err := requireSubscription(sub); err != nil {
		return false, err
	}
	if mutate == nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "metadata mutation required")
	}
	if !eventType.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "unknown subscription event type")
	}
	o := collectOptions(opts)
	now := m.now()
	var stored *models.Subscription
	applied := false
	err := m.inTx(ctx, func(s stores) error {
		current, err := s.repo.FindByIDForUpdate(ctx, sub.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock subscription")
		}
		if current == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found").
				WithDetails(map[string]any{"subscription_id": sub.ID.String()})
		}
		next := clone(current)
		data, err := mutate(current, &next.Metadata)
		if errors.Is(err, ErrMetadataUnchanged) {
			stored = current
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.repo.Update(ctx, next, current.Status); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription metadata")
		}
		stored, applied = next, true
		return m.appendEvents(ctx, s.events, next.ID, now, o, []pendingEvent{{eventType: eventType, data: data}})
	})
	if err != nil {
		return false, err
	}
	*sub = *stored
	return applied, nil
}

// FindActiveByTenant loads the tenant's live subscription, or nil.
func (m *Manager) FindActiveByTenant(ctx context.Context, tenantID uuid.UUID) (*models.Subscription, error) {
	return m.repo.FindActiveByTenant(ctx, tenantID)
}
