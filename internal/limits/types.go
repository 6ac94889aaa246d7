// Package limits evaluates plan quotas and features against a tenant's current usage.
package limits

import "github.com/angelmondragon/tenantbilling-backend/pkg/enums"

// Resource is a quota-bearing plan dimension.
type Resource string

const (
	ResourceUsers      Resource = "users"
	ResourceWorkspaces Resource = "workspaces"
	ResourceBoards     Resource = "boards"
	ResourceStorage    Resource = "storage"
)

// Resources lists every quota in reporting order.
var Resources = []Resource{ResourceUsers, ResourceWorkspaces, ResourceBoards, ResourceStorage}

// Action is a tenant operation gated on subscription status.
type Action string

const (
	ActionCreateBoard     Action = "create_board"
	ActionCreateWorkspace Action = "create_workspace"
	ActionInviteUser      Action = "invite_user"
	ActionUploadFile      Action = "upload_file"
	ActionUpdateBoard     Action = "update_board"
	ActionViewBoard       Action = "view_board"
	ActionExportData      Action = "export_data"
)

var writeActions = map[Action]bool{
	ActionCreateBoard:     true,
	ActionCreateWorkspace: true,
	ActionInviteUser:      true,
	ActionUploadFile:      true,
	ActionUpdateBoard:     true,
}

var readActions = map[Action]bool{
	ActionViewBoard:  true,
	ActionExportData: true,
}

// Denial reasons reported by CanPerformAction.
const (
	ReasonSubscriptionStatus = "subscription_status"
	ReasonExpired            = "expired"
	ReasonNoSubscription     = "no_subscription"
	ReasonGracePeriodEnded   = "grace_period_ended"
)

// Warning severities.
const (
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// Result answers a quota check. Storage figures are in MB. Limit and Available are -1 when unlimited.
type Result struct {
	Allowed   bool    `json:"allowed"`
	Current   float64 `json:"current"`
	Limit     int     `json:"limit"`
	Available float64 `json:"available"`
	Message   string  `json:"message,omitempty"`
}

type FeatureResult struct {
	Allowed bool   `json:"allowed"`
	Feature string `json:"feature"`
	Message string `json:"message,omitempty"`
}

type ActionResult struct {
	Allowed bool                     `json:"allowed"`
	Reason  string                   `json:"reason,omitempty"`
	Status  enums.SubscriptionStatus `json:"status"`
}

// Usage is one resource's consumption. Percentage is 0 for unlimited resources.
type Usage struct {
	Current    float64 `json:"current"`
	Limit      int     `json:"limit"`
	Percentage float64 `json:"percentage"`
}

type Warning struct {
	Resource   Resource `json:"resource"`
	Current    float64  `json:"current"`
	Limit      int      `json:"limit"`
	Percentage float64  `json:"percentage"`
	Severity   string   `json:"severity"`
	Exceeded   bool     `json:"exceeded"`
}
