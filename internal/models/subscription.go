package models

import "time"

// SubscriptionStatus mirrors the payment processor's subscription state.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusTrialing SubscriptionStatus = "TRIALING"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
	SubscriptionStatusNone     SubscriptionStatus = "NONE"
)

// Subscription is the local mirror of a user's billing state. One per user;
// the authoritative state machine lives with the payment processor and is
// synchronised through webhook events.
type Subscription struct {
	ID                   string             `db:"id" json:"id"`
	UserID               string             `db:"user_id" json:"user_id"`
	Plan                 string             `db:"plan" json:"plan"`
	BillingCycle         string             `db:"billing_cycle" json:"billing_cycle"`
	Status               SubscriptionStatus `db:"status" json:"status"`
	StripeCustomerID     *string            `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string            `db:"stripe_subscription_id" json:"stripe_subscription_id,omitempty"`
	StripePriceID        *string            `db:"stripe_price_id" json:"stripe_price_id,omitempty"`
	CurrentPeriodStart   *time.Time         `db:"current_period_start" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time         `db:"current_period_end" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool               `db:"cancel_at_period_end" json:"cancel_at_period_end"`
	CreatedAt            time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at" json:"updated_at"`
}

// CheckoutRequest starts a hosted checkout session for a plan.
type CheckoutRequest struct {
	PriceID string `json:"price_id" validate:"required"`
	Plan    string `json:"plan" validate:"required"`
	Cycle   string `json:"cycle" validate:"required,oneof=monthly yearly"`
}

// CheckoutResponse returns the hosted checkout redirect URL.
type CheckoutResponse struct {
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
}

// PortalResponse returns the hosted billing portal redirect URL.
type PortalResponse struct {
	PortalURL string `json:"portal_url"`
}
