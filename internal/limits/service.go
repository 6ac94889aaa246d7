package limits

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/angelmondragon/tenantbilling-backend/internal/plans"
	"github.com/angelmondragon/tenantbilling-backend/internal/subscriptions"
	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
	"github.com/angelmondragon/tenantbilling-backend/pkg/logger"
)

const (
	defaultWarningThreshold = 0.8
	bytesPerMB              = 1024 * 1024
)

type graceChecker interface {
	IsWithinGracePeriod(sub *models.Subscription) bool
}

// ServiceParams wires the limit service. DefaultPlanID applies to tenants without a live subscription.
type ServiceParams struct {
	Subscriptions    subscriptions.Repository
	Plans            plans.Repository
	Usage            UsageReader
	Grace            graceChecker
	DefaultPlanID    string
	WarningThreshold float64
	Logger           *logger.Logger
}

// Service answers quota, feature and action checks for tenants.
type Service struct {
	subs          subscriptions.Repository
	plans         plans.Repository
	usage         UsageReader
	grace         graceChecker
	defaultPlanID string
	threshold     float64
	logg          *logger.Logger
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.Subscriptions == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription repository required")
	case p.Plans == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "plan repository required")
	case p.Usage == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "usage reader required")
	case p.Grace == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "grace checker required")
	case p.Logger == nil:
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	threshold := p.WarningThreshold
	if threshold == 0 {
		threshold = defaultWarningThreshold
	}
	if threshold <= 0 || threshold >= 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "warning threshold must be between 0 and 1")
	}
	return &Service{
		subs:          p.Subscriptions,
		plans:         p.Plans,
		usage:         p.Usage,
		grace:         p.Grace,
		defaultPlanID: p.DefaultPlanID,
		threshold:     threshold,
		logg:          p.Logger,
	}, nil
}

func (s *Service) CanAddUsers(ctx context.Context, tenantID uuid.UUID, count int) (Result, error) {
	return s.checkCount(ctx, tenantID, ResourceUsers, count)
}

func (s *Service) CanCreateWorkspaces(ctx context.Context, tenantID uuid.UUID, count int) (Result, error) {
	return s.checkCount(ctx, tenantID, ResourceWorkspaces, count)
}

func (s *Service) CanCreateBoards(ctx context.Context, tenantID uuid.UUID, count int) (Result, error) {
	return s.checkCount(ctx, tenantID, ResourceBoards, count)
}

// CanUploadStorage checks whether sizeBytes more fits in the plan's storage quota.
func (s *Service) CanUploadStorage(ctx context.Context, tenantID uuid.UUID, sizeBytes int64) (Result, error) {
	if sizeBytes < 0 {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "upload size must not be negative")
	}
	plan, err := s.resolvePlan(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}
	current, err := s.current(ctx, tenantID, ResourceStorage)
	if err != nil {
		return Result{}, err
	}
	return evaluate(ResourceStorage, current, limitFor(plan, ResourceStorage), toMB(sizeBytes)), nil
}

func (s *Service) checkCount(ctx context.Context, tenantID uuid.UUID, resource Resource, count int) (Result, error) {
	if count < 0 {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "count must not be negative").
			WithDetails(map[string]any{"resource": string(resource)})
	}
	plan, err := s.resolvePlan(ctx, tenantID)
	if err != nil {
		return Result{}, err
	}
	current, err := s.current(ctx, tenantID, resource)
	if err != nil {
		return Result{}, err
	}
	return evaluate(resource, current, limitFor(plan, resource), float64(count)), nil
}

func (s *Service) HasFeature(ctx context.Context, tenantID uuid.UUID, feature string) (FeatureResult, error) {
	if feature == "" {
		return FeatureResult{}, pkgerrors.New(pkgerrors.CodeValidation, "feature required")
	}
	plan, err := s.resolvePlan(ctx, tenantID)
	if err != nil {
		return FeatureResult{}, err
	}
	if plan.HasFeature(feature) {
		return FeatureResult{Allowed: true, Feature: feature}, nil
	}
	return FeatureResult{
		Feature: feature,
		Message: fmt.Sprintf("feature %q is not included in the %s plan", feature, plan.Name),
	}, nil
}

// EnforceLimit returns CodeLimitExceeded when amount more of resource does not fit.
// Storage amounts are in bytes.
func (s *Service) EnforceLimit(ctx context.Context, tenantID uuid.UUID, resource Resource, amount int64) error {
	var (
		res       Result
		err       error
		requested float64
	)
	switch resource {
	case ResourceUsers:
		res, err = s.CanAddUsers(ctx, tenantID, int(amount))
		requested = float64(amount)
	case ResourceWorkspaces:
		res, err = s.CanCreateWorkspaces(ctx, tenantID, int(amount))
		requested = float64(amount)
	case ResourceBoards:
		res, err = s.CanCreateBoards(ctx, tenantID, int(amount))
		requested = float64(amount)
	case ResourceStorage:
		res, err = s.CanUploadStorage(ctx, tenantID, amount)
		requested = toMB(amount)
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown resource").
			WithDetails(map[string]any{"resource": string(resource)})
	}
	if err != nil {
		return err
	}
	if res.Allowed {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeLimitExceeded, res.Message).WithDetails(map[string]any{
		"resource":  string(resource),
		"current":   res.Current,
		"limit":     res.Limit,
		"requested": requested,
	})
}

func (s *Service) EnforceFeature(ctx context.Context, tenantID uuid.UUID, feature string) error {
	res, err := s.HasFeature(ctx, tenantID, feature)
	if err != nil {
		return err
	}
	if res.Allowed {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeLimitExceeded, res.Message).
		WithDetails(map[string]any{"feature": feature})
}

// CanPerformAction gates action on the tenant's subscription status.
// Write actions need an active or trialing subscription; read actions also survive past_due and the grace period.
func (s *Service) CanPerformAction(ctx context.Context, tenantID uuid.UUID, action Action) (ActionResult, error) {
	write, read := writeActions[action], readActions[action]
	if !write && !read {
		return ActionResult{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown action").
			WithDetails(map[string]any{"action": string(action)})
	}
	sub, err := s.subs.FindActiveByTenant(ctx, tenantID)
	if err != nil {
		return ActionResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		latest, err := s.subs.FindLatestByTenant(ctx, tenantID)
		if err != nil {
			return ActionResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
		}
		if latest != nil && latest.Status == enums.SubscriptionStatusExpired {
			return ActionResult{Reason: ReasonExpired, Status: latest.Status}, nil
		}
		return ActionResult{Reason: ReasonNoSubscription, Status: enums.SubscriptionStatusNone}, nil
	}

	res := ActionResult{Status: sub.Status}
	switch sub.Status {
	case enums.SubscriptionStatusActive, enums.SubscriptionStatusTrialing:
		res.Allowed = true
	case enums.SubscriptionStatusNone:
		res.Reason = ReasonNoSubscription
	case enums.SubscriptionStatusPastDue:
		res.Allowed = read
	case enums.SubscriptionStatusCanceled:
		if read && !s.grace.IsWithinGracePeriod(sub) {
			res.Reason = ReasonGracePeriodEnded
			return res, nil
		}
		res.Allowed = read
	case enums.SubscriptionStatusExpired:
		res.Reason = ReasonExpired
	}
	if !res.Allowed && res.Reason == "" {
		res.Reason = ReasonSubscriptionStatus
	}
	return res, nil
}

func (s *Service) GetCurrentUsage(ctx context.Context, tenantID uuid.UUID) (map[Resource]Usage, error) {
	plan, err := s.resolvePlan(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make(map[Resource]Usage, len(Resources))
	for _, resource := range Resources {
		current, err := s.current(ctx, tenantID, resource)
		if err != nil {
			return nil, err
		}
		limit := limitFor(plan, resource)
		out[resource] = Usage{Current: current, Limit: limit, Percentage: percentage(current, limit)}
	}
	return out, nil
}

// GetLimitWarnings reports resources at or above threshold of their limit.
// A zero threshold uses the configured default.
func (s *Service) GetLimitWarnings(ctx context.Context, tenantID uuid.UUID, threshold float64) ([]Warning, error) {
	if threshold == 0 {
		threshold = s.threshold
	}
	if threshold <= 0 || threshold >= 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "threshold must be between 0 and 1").
			WithDetails(map[string]any{"threshold": threshold})
	}
	usage, err := s.GetCurrentUsage(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var warnings []Warning
	for _, resource := range Resources {
		u := usage[resource]
		if u.Limit == models.Unlimited {
			continue
		}
		exceeded := u.Current >= float64(u.Limit)
		if !exceeded && u.Current < threshold*float64(u.Limit) {
			continue
		}
		w := Warning{
			Resource:   resource,
			Current:    u.Current,
			Limit:      u.Limit,
			Percentage: u.Percentage,
			Severity:   SeverityWarning,
			Exceeded:   exceeded,
		}
		if exceeded {
			w.Severity = SeverityError
		}
		warnings = append(warnings, w)
	}
	return warnings, nil
}

// resolvePlan returns the plan of the tenant's live subscription, falling back to the default plan.
func (s *Service) resolvePlan(ctx context.Context, tenantID uuid.UUID) (*models.Plan, error) {
	sub, err := s.subs.FindActiveByTenant(ctx, tenantID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	planID := s.defaultPlanID
	if sub != nil {
		planID = sub.PlanID
	}
	if planID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tenant has no subscription").
			WithDetails(map[string]any{"tenant_id": tenantID.String()})
	}
	plan, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found").
			WithDetails(map[string]any{"plan_id": planID})
	}
	if sub == nil {
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"tenant_id": tenantID.String(),
			"plan_id":   planID,
		}), "limits.default_plan")
	}
	return plan, nil
}

func (s *Service) current(ctx context.Context, tenantID uuid.UUID, resource Resource) (float64, error) {
	var (
		n   int64
		err error
	)
	switch resource {
	case ResourceUsers:
		n, err = s.usage.CountActiveUsers(ctx, tenantID)
	case ResourceWorkspaces:
		n, err = s.usage.CountWorkspaces(ctx, tenantID)
	case ResourceBoards:
		n, err = s.usage.CountBoards(ctx, tenantID)
	case ResourceStorage:
		n, err = s.usage.StorageBytes(ctx, tenantID)
		if err == nil {
			return toMB(n), nil
		}
	}
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read usage").
			WithDetails(map[string]any{"resource": string(resource)})
	}
	return float64(n), nil
}

func evaluate(resource Resource, current float64, limit int, requested float64) Result {
	if limit == models.Unlimited {
		return Result{Allowed: true, Current: current, Limit: models.Unlimited, Available: models.Unlimited}
	}
	available := math.Max(float64(limit)-current, 0)
	res := Result{
		Allowed:   requested <= available,
		Current:   current,
		Limit:     limit,
		Available: available,
	}
	if !res.Allowed {
		res.Message = limitMessage(resource, current, limit, requested)
	}
	return res
}

func limitMessage(resource Resource, current float64, limit int, requested float64) string {
	if resource == ResourceStorage {
		return fmt.Sprintf("storage limit reached: %.2f MB used of %d MB, upload needs %.2f MB", current, limit, requested)
	}
	return fmt.Sprintf("%s limit reached: %d of %d used, %d requested", resource, int64(current), limit, int64(requested))
}

func limitFor(plan *models.Plan, resource Resource) int {
	switch resource {
	case ResourceUsers:
		return plan.MaxUsers
	case ResourceWorkspaces:
		return plan.MaxWorkspaces
	case ResourceBoards:
		return plan.MaxBoards
	case ResourceStorage:
		return plan.MaxStorageMB
	}
	return 0
}

// toMB converts bytes to megabytes rounded up to two decimals.
func toMB(bytes int64) float64 {
	return math.Ceil(float64(bytes)/bytesPerMB*100) / 100
}

func percentage(current float64, limit int) float64 {
	switch {
	case limit == models.Unlimited:
		return 0
	case limit == 0:
		if current > 0 {
			return 100
		}
		return 0
	}
	return math.Round(current/float64(limit)*10000) / 100
}
