package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"

	"github.com/tutorstack/tutorstack-api/internal/models"
	appErrors "github.com/tutorstack/tutorstack-api/pkg/errors"
)

type subscriptionRepository interface {
	FindByUserID(ctx context.Context, userID string) (*models.Subscription, error)
	FindByStripeSubscriptionID(ctx context.Context, stripeID string) (*models.Subscription, error)
	FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Subscription, error)
	Create(ctx context.Context, sub *models.Subscription) error
	Update(ctx context.Context, sub *models.Subscription) error
}

type billingUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// BillingConfig carries processor credentials and checkout routing.
type BillingConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	PortalReturn  string
}

// BillingService mirrors the payment processor's subscription state. The
// processor owns the billing state machine; this service creates hosted
// checkout and portal sessions and applies webhook events to the local
// mirror. Webhook handling is idempotent so replayed deliveries are harmless.
type BillingService struct {
	subs      subscriptionRepository
	users     billingUserRepository
	stripe    *client.API
	validator *validator.Validate
	logger    *zap.Logger
	config    BillingConfig
}

// NewBillingService constructs a BillingService instance.
func NewBillingService(subs subscriptionRepository, users billingUserRepository, validate *validator.Validate, logger *zap.Logger, config BillingConfig) *BillingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	sc := &client.API{}
	sc.Init(config.SecretKey, nil)
	return &BillingService{
		subs:      subs,
		users:     users,
		stripe:    sc,
		validator: validate,
		logger:    logger,
		config:    config,
	}
}

// GetSubscription returns the caller's billing mirror. Users without any
// billing history get an empty mirror in the NONE state rather than an error.
func (s *BillingService) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	sub, err := s.subs.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &models.Subscription{UserID: userID, Status: models.SubscriptionStatusNone}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	return sub, nil
}

// CreateCheckout starts a hosted checkout session for the caller. An
// existing customer id is reused so the processor keeps one customer per
// account.
func (s *BillingService) CreateCheckout(ctx context.Context, identity models.Identity, req models.CheckoutRequest) (*models.CheckoutResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid checkout payload")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(s.config.SuccessURL),
		CancelURL:  stripe.String(s.config.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		ClientReferenceID: stripe.String(identity.UserID),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				"user_id": identity.UserID,
				"plan":    req.Plan,
				"cycle":   req.Cycle,
			},
		},
	}
	params.Context = ctx

	existing, err := s.subs.FindByUserID(ctx, identity.UserID)
	if err == nil && existing.StripeCustomerID != nil {
		params.Customer = existing.StripeCustomerID
	} else {
		params.CustomerEmail = stripe.String(identity.Username)
	}

	session, err := s.stripe.CheckoutSessions.New(params)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create checkout session")
	}

	return &models.CheckoutResponse{SessionID: session.ID, CheckoutURL: session.URL}, nil
}

// CreatePortal starts a hosted billing portal session for the caller.
// Requires an existing customer record.
func (s *BillingService) CreatePortal(ctx context.Context, identity models.Identity) (*models.PortalResponse, error) {
	sub, err := s.subs.FindByUserID(ctx, identity.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no billing history for this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	if sub.StripeCustomerID == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no billing history for this account")
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  sub.StripeCustomerID,
		ReturnURL: stripe.String(s.config.PortalReturn),
	}
	params.Context = ctx

	session, err := s.stripe.BillingPortalSessions.New(params)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create portal session")
	}

	return &models.PortalResponse{PortalURL: session.URL}, nil
}

// VerifyWebhook checks the processor's signature over the raw payload and
// returns the parsed event.
func (s *BillingService) VerifyWebhook(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.config.WebhookSecret)
	if err != nil {
		return stripe.Event{}, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid webhook signature")
	}
	return event, nil
}

// HandleEvent applies one webhook event to the local mirror. Unknown event
// types are acknowledged and skipped.
func (s *BillingService) HandleEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed checkout event")
		}
		return s.applyCheckoutCompleted(ctx, &session)

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed subscription event")
		}
		return s.applySubscriptionState(ctx, &sub)

	default:
		s.logger.Debug("ignoring webhook event", zap.String("type", string(event.Type)))
		return nil
	}
}

// applyCheckoutCompleted records the customer linkage established by a
// completed checkout. The subscription state itself arrives through the
// subsequent subscription events.
func (s *BillingService) applyCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	userID := session.ClientReferenceID
	if userID == "" {
		s.logger.Warn("checkout event without client reference", zap.String("session_id", session.ID))
		return nil
	}

	if _, err := s.users.FindByID(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("checkout event for unknown user", zap.String("user_id", userID))
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	mirror, err := s.subs.FindByUserID(ctx, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
	}
	if mirror == nil {
		mirror = &models.Subscription{UserID: userID, Status: models.SubscriptionStatusNone}
	}

	if session.Customer != nil {
		mirror.StripeCustomerID = stripe.String(session.Customer.ID)
	}
	if session.Subscription != nil {
		mirror.StripeSubscriptionID = stripe.String(session.Subscription.ID)
	}
	if session.Metadata != nil {
		if plan, ok := session.Metadata["plan"]; ok {
			mirror.Plan = plan
		}
		if cycle, ok := session.Metadata["cycle"]; ok {
			mirror.BillingCycle = cycle
		}
	}

	if mirror.ID == "" {
		return s.subs.Create(ctx, mirror)
	}
	return s.subs.Update(ctx, mirror)
}

// applySubscriptionState synchronises the mirror with a subscription event.
// Lookup prefers the subscription id, falling back to the customer id for
// mirrors created before the first subscription event arrived.
func (s *BillingService) applySubscriptionState(ctx context.Context, sub *stripe.Subscription) error {
	mirror, err := s.subs.FindByStripeSubscriptionID(ctx, sub.ID)
	if errors.Is(err, sql.ErrNoRows) && sub.Customer != nil {
		mirror, err = s.subs.FindByStripeCustomerID(ctx, sub.Customer.ID)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			userID := sub.Metadata["user_id"]
			if userID == "" {
				s.logger.Warn("subscription event with no local mirror", zap.String("subscription_id", sub.ID))
				return nil
			}
			mirror = &models.Subscription{UserID: userID}
		} else {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load subscription")
		}
	}

	mirror.StripeSubscriptionID = stripe.String(sub.ID)
	if sub.Customer != nil {
		mirror.StripeCustomerID = stripe.String(sub.Customer.ID)
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		mirror.StripePriceID = stripe.String(sub.Items.Data[0].Price.ID)
	}
	mirror.Status = mapSubscriptionStatus(sub.Status)
	mirror.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	if sub.CurrentPeriodStart > 0 {
		start := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		mirror.CurrentPeriodStart = &start
	}
	if sub.CurrentPeriodEnd > 0 {
		end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		mirror.CurrentPeriodEnd = &end
	}
	if plan, ok := sub.Metadata["plan"]; ok && plan != "" {
		mirror.Plan = plan
	}
	if cycle, ok := sub.Metadata["cycle"]; ok && cycle != "" {
		mirror.BillingCycle = cycle
	}

	if mirror.ID == "" {
		return s.subs.Create(ctx, mirror)
	}
	return s.subs.Update(ctx, mirror)
}

// mapSubscriptionStatus translates processor states into the local set.
func mapSubscriptionStatus(status stripe.SubscriptionStatus) models.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return models.SubscriptionStatusActive
	case stripe.SubscriptionStatusTrialing:
		return models.SubscriptionStatusTrialing
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.SubscriptionStatusPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return models.SubscriptionStatusCanceled
	default:
		return models.SubscriptionStatusNone
	}
}
