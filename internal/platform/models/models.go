package models

type SubscriptionStatus string

const (
	SubscriptionStatusNone     SubscriptionStatus = "none"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid   SubscriptionStatus = "unpaid"
)

// Billable reports whether seats and a next billing date may be recorded
// for a team in this status.
func (s SubscriptionStatus) Billable() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrialing
}

// Terminal reports whether the subscription is gone and its billing fields
// must be cleared.
func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCanceled || s == SubscriptionStatusUnpaid
}

const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationDeclined = "declined"
)

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	CreatedAt int64  `json:"created_at"`
	DeletedAt *int64 `json:"deleted_at,omitempty"`
}

type Team struct {
	ID                   string             `json:"id"`
	Name                 string             `json:"name"`
	StripeCustomerID     string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string             `json:"stripe_subscription_id,omitempty"`
	StripeProductID      string             `json:"stripe_product_id,omitempty"`
	PlanName             string             `json:"plan_name,omitempty"`
	SubscriptionStatus   SubscriptionStatus `json:"subscription_status"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	SeatsBilled          *int64             `json:"seats_billed,omitempty"`
	NextBillingDate      *int64             `json:"next_billing_date,omitempty"`
	BillingEventAt       int64              `json:"billing_event_at,omitempty"`
	CreatedAt            int64              `json:"created_at"`
	UpdatedAt            int64              `json:"updated_at"`
}

type Membership struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	TeamID    string `json:"team_id"`
	Role      string `json:"role"`
	CreatedAt int64  `json:"created_at"`
}

// Member is a roster entry: a membership joined with its user.
type Member struct {
	Membership
	User *User `json:"user"`
}

type TeamWithMembers struct {
	Team
	Members []*Member `json:"members"`
}

type TeamSummary struct {
	TeamID   string `json:"team_id"`
	TeamName string `json:"team_name"`
	Role     string `json:"role"`
}

type Invitation struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	InvitedBy string `json:"invited_by"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// InvitationDetails is a pending invitation as shown to the invitee.
type InvitationDetails struct {
	ID        string `json:"id"`
	TeamID    string `json:"team_id"`
	TeamName  string `json:"team_name"`
	InvitedBy string `json:"invited_by"`
	Role      string `json:"role"`
	CreatedAt int64  `json:"created_at"`
}
