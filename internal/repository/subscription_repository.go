package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tutorstack/tutorstack-api/internal/models"
)

// SubscriptionRepository provides database access for billing mirrors.
type SubscriptionRepository struct {
	db *sqlx.DB
}

// NewSubscriptionRepository creates a new instance of SubscriptionRepository.
func NewSubscriptionRepository(db *sqlx.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, user_id, plan, billing_cycle, status, stripe_customer_id, stripe_subscription_id, stripe_price_id, current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at`

// FindByUserID returns the subscription for a user.
func (r *SubscriptionRepository) FindByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE user_id = $1 LIMIT 1`, subscriptionColumns)
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, userID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find subscription by user: %w", err)
	}
	return &sub, nil
}

// FindByStripeSubscriptionID returns the subscription mirroring the external id.
func (r *SubscriptionRepository) FindByStripeSubscriptionID(ctx context.Context, stripeID string) (*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE stripe_subscription_id = $1 LIMIT 1`, subscriptionColumns)
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, stripeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find subscription by stripe id: %w", err)
	}
	return &sub, nil
}

// FindByStripeCustomerID returns the subscription for the external customer.
func (r *SubscriptionRepository) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE stripe_customer_id = $1 LIMIT 1`, subscriptionColumns)
	var sub models.Subscription
	if err := r.db.GetContext(ctx, &sub, query, customerID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find subscription by customer id: %w", err)
	}
	return &sub, nil
}

// Create inserts a new subscription mirror.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	const query = `INSERT INTO subscriptions (id, user_id, plan, billing_cycle, status, stripe_customer_id, stripe_subscription_id, stripe_price_id, current_period_start, current_period_end, cancel_at_period_end, created_at, updated_at)
		VALUES (:id, :user_id, :plan, :billing_cycle, :status, :stripe_customer_id, :stripe_subscription_id, :stripe_price_id, :current_period_start, :current_period_end, :cancel_at_period_end, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// Update replaces the mirrored billing state.
func (r *SubscriptionRepository) Update(ctx context.Context, sub *models.Subscription) error {
	sub.UpdatedAt = time.Now().UTC()
	const query = `UPDATE subscriptions SET plan = :plan, billing_cycle = :billing_cycle, status = :status, stripe_customer_id = :stripe_customer_id, stripe_subscription_id = :stripe_subscription_id, stripe_price_id = :stripe_price_id, current_period_start = :current_period_start, current_period_end = :current_period_end, cancel_at_period_end = :cancel_at_period_end, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}
