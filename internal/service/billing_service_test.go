package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78"
	"go.uber.org/zap"

	"github.com/tutorstack/tutorstack-api/internal/models"
)

type mockSubscriptionRepo struct {
	subs map[string]models.Subscription
}

func (m *mockSubscriptionRepo) FindByUserID(ctx context.Context, userID string) (*models.Subscription, error) {
	for _, sub := range m.subs {
		if sub.UserID == userID {
			copied := sub
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockSubscriptionRepo) FindByStripeSubscriptionID(ctx context.Context, stripeID string) (*models.Subscription, error) {
	for _, sub := range m.subs {
		if sub.StripeSubscriptionID != nil && *sub.StripeSubscriptionID == stripeID {
			copied := sub
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockSubscriptionRepo) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Subscription, error) {
	for _, sub := range m.subs {
		if sub.StripeCustomerID != nil && *sub.StripeCustomerID == customerID {
			copied := sub
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockSubscriptionRepo) Create(ctx context.Context, sub *models.Subscription) error {
	if m.subs == nil {
		m.subs = make(map[string]models.Subscription)
	}
	if sub.ID == "" {
		sub.ID = "sub-mirror-1"
	}
	m.subs[sub.ID] = *sub
	return nil
}

func (m *mockSubscriptionRepo) Update(ctx context.Context, sub *models.Subscription) error {
	m.subs[sub.ID] = *sub
	return nil
}

type mockBillingUserRepo struct {
	users map[string]models.User
}

func (m *mockBillingUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := m.users[id]; ok {
		copied := user
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func newBillingService(subs *mockSubscriptionRepo, users *mockBillingUserRepo) *BillingService {
	return NewBillingService(subs, users, validator.New(), zap.NewNop(), BillingConfig{
		SecretKey:     "sk_test_x",
		WebhookSecret: "whsec_x",
	})
}

func subscriptionEvent(t *testing.T, eventType string, payload interface{}) stripe.Event {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return stripe.Event{
		ID:   "evt_1",
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestBillingServiceGetSubscriptionDefaultsToNone(t *testing.T) {
	svc := newBillingService(&mockSubscriptionRepo{}, &mockBillingUserRepo{})

	sub, err := svc.GetSubscription(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusNone, sub.Status)
	assert.Equal(t, "user-1", sub.UserID)
}

func TestBillingServiceHandleCheckoutCompleted(t *testing.T) {
	subs := &mockSubscriptionRepo{}
	users := &mockBillingUserRepo{users: map[string]models.User{
		"user-1": {ID: "user-1", Username: "sam@example.com"},
	}}
	svc := newBillingService(subs, users)

	event := subscriptionEvent(t, "checkout.session.completed", map[string]interface{}{
		"id":                  "cs_1",
		"client_reference_id": "user-1",
		"customer":            map[string]interface{}{"id": "cus_1"},
		"subscription":        map[string]interface{}{"id": "sub_1"},
		"metadata":            map[string]string{"plan": "pro", "cycle": "monthly"},
	})
	require.NoError(t, svc.HandleEvent(context.Background(), event))

	mirror, err := subs.FindByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, mirror.StripeCustomerID)
	assert.Equal(t, "cus_1", *mirror.StripeCustomerID)
	require.NotNil(t, mirror.StripeSubscriptionID)
	assert.Equal(t, "sub_1", *mirror.StripeSubscriptionID)
	assert.Equal(t, "pro", mirror.Plan)
	assert.Equal(t, "monthly", mirror.BillingCycle)
}

func TestBillingServiceHandleCheckoutUnknownUserIsAcknowledged(t *testing.T) {
	subs := &mockSubscriptionRepo{}
	svc := newBillingService(subs, &mockBillingUserRepo{})

	event := subscriptionEvent(t, "checkout.session.completed", map[string]interface{}{
		"id":                  "cs_1",
		"client_reference_id": "ghost",
	})
	require.NoError(t, svc.HandleEvent(context.Background(), event))
	assert.Empty(t, subs.subs)
}

func TestBillingServiceHandleSubscriptionLifecycle(t *testing.T) {
	subs := &mockSubscriptionRepo{subs: map[string]models.Subscription{
		"sub-mirror-1": {ID: "sub-mirror-1", UserID: "user-1", StripeCustomerID: stripe.String("cus_1")},
	}}
	svc := newBillingService(subs, &mockBillingUserRepo{})

	periodStart := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)

	created := subscriptionEvent(t, "customer.subscription.created", map[string]interface{}{
		"id":                   "sub_1",
		"customer":             map[string]interface{}{"id": "cus_1"},
		"status":               "active",
		"current_period_start": periodStart.Unix(),
		"current_period_end":   periodEnd.Unix(),
		"items": map[string]interface{}{
			"data": []map[string]interface{}{{"price": map[string]interface{}{"id": "price_1"}}},
		},
	})
	require.NoError(t, svc.HandleEvent(context.Background(), created))

	mirror := subs.subs["sub-mirror-1"]
	assert.Equal(t, models.SubscriptionStatusActive, mirror.Status)
	require.NotNil(t, mirror.StripePriceID)
	assert.Equal(t, "price_1", *mirror.StripePriceID)
	require.NotNil(t, mirror.CurrentPeriodEnd)
	assert.Equal(t, periodEnd, *mirror.CurrentPeriodEnd)

	deleted := subscriptionEvent(t, "customer.subscription.deleted", map[string]interface{}{
		"id":       "sub_1",
		"customer": map[string]interface{}{"id": "cus_1"},
		"status":   "canceled",
	})
	require.NoError(t, svc.HandleEvent(context.Background(), deleted))
	assert.Equal(t, models.SubscriptionStatusCanceled, subs.subs["sub-mirror-1"].Status)
}

func TestBillingServiceHandleSubscriptionCreatesFromMetadata(t *testing.T) {
	subs := &mockSubscriptionRepo{}
	svc := newBillingService(subs, &mockBillingUserRepo{})

	event := subscriptionEvent(t, "customer.subscription.created", map[string]interface{}{
		"id":       "sub_9",
		"customer": map[string]interface{}{"id": "cus_9"},
		"status":   "trialing",
		"metadata": map[string]string{"user_id": "user-9", "plan": "basic", "cycle": "yearly"},
	})
	require.NoError(t, svc.HandleEvent(context.Background(), event))

	mirror, err := subs.FindByUserID(context.Background(), "user-9")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusTrialing, mirror.Status)
	assert.Equal(t, "basic", mirror.Plan)
	assert.Equal(t, "yearly", mirror.BillingCycle)
}

func TestBillingServiceHandleEventIgnoresUnknownTypes(t *testing.T) {
	svc := newBillingService(&mockSubscriptionRepo{}, &mockBillingUserRepo{})
	require.NoError(t, svc.HandleEvent(context.Background(), stripe.Event{Type: "invoice.finalized", Data: &stripe.EventData{Raw: []byte(`{}`)}}))
}

func TestBillingServiceVerifyWebhookRejectsBadSignature(t *testing.T) {
	svc := newBillingService(&mockSubscriptionRepo{}, &mockBillingUserRepo{})
	_, err := svc.VerifyWebhook([]byte(`{}`), "t=1,v1=bogus")
	require.Error(t, err)
}

func TestMapSubscriptionStatus(t *testing.T) {
	assert.Equal(t, models.SubscriptionStatusActive, mapSubscriptionStatus(stripe.SubscriptionStatusActive))
	assert.Equal(t, models.SubscriptionStatusTrialing, mapSubscriptionStatus(stripe.SubscriptionStatusTrialing))
	assert.Equal(t, models.SubscriptionStatusPastDue, mapSubscriptionStatus(stripe.SubscriptionStatusPastDue))
	assert.Equal(t, models.SubscriptionStatusPastDue, mapSubscriptionStatus(stripe.SubscriptionStatusUnpaid))
	assert.Equal(t, models.SubscriptionStatusCanceled, mapSubscriptionStatus(stripe.SubscriptionStatusCanceled))
	assert.Equal(t, models.SubscriptionStatusCanceled, mapSubscriptionStatus(stripe.SubscriptionStatusIncompleteExpired))
	assert.Equal(t, models.SubscriptionStatusNone, mapSubscriptionStatus(stripe.SubscriptionStatusIncomplete))
}
