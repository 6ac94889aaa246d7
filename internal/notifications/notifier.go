package notifications

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/tenantbilling-backend/pkg/db/models"
	"github.com/angelmondragon/tenantbilling-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/tenantbilling-backend/pkg/errors"
)

const billingLink = "/settings/billing"

// GraceNotice is the content of one grace-period reminder.
type GraceNotice struct {
	Tenant         *models.Tenant
	Subscription   *models.Subscription
	Day            int
	GracePeriodEnd time.Time
	DaysRemaining  int
}

// Notifier persists in-app notifications for grace-period reminders.
type Notifier struct {
	repo Repository
}

// NewNotifier returns a notifier writing through repo.
func NewNotifier(repo Repository) (*Notifier, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	return &Notifier{repo: repo}, nil
}

// WithTx binds the notifier to the caller's transaction.
func (n *Notifier) WithTx(tx *gorm.DB) *Notifier {
	if tx == nil {
		return n
	}
	return &Notifier{repo: n.repo.WithTx(tx)}
}

// NotifyGracePeriod writes the reminder for notice.Day of the grace window.
func (n *Notifier) NotifyGracePeriod(ctx context.Context, notice GraceNotice) (*models.Notification, error) {
	if notice.Tenant == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant required")
	}
	link := billingLink
	row := &models.Notification{
		TenantID: notice.Tenant.ID,
		Type:     enums.NotificationTypeGracePeriod,
		Title:    graceTitle(notice.DaysRemaining),
		Message: fmt.Sprintf(
			"The subscription for %s was canceled. Access continues until %s; reactivate before then to keep your data available.",
			notice.Tenant.Name, notice.GracePeriodEnd.UTC().Format("January 2, 2006"),
		),
		Link: &link,
	}
	if err := n.repo.Create(ctx, row); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create grace notification")
	}
	return row, nil
}

func graceTitle(daysRemaining int) string {
	switch {
	case daysRemaining <= 0:
		return "Your access ends today"
	case daysRemaining == 1:
		return "Your access ends in 1 day"
	default:
		return fmt.Sprintf("Your access ends in %d days", daysRemaining)
	}
}
