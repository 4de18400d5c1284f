package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tutorstack/tutorstack-api/internal/models"
	"github.com/tutorstack/tutorstack-api/internal/service"
	appErrors "github.com/tutorstack/tutorstack-api/pkg/errors"
	"github.com/tutorstack/tutorstack-api/pkg/jobs"
	"github.com/tutorstack/tutorstack-api/pkg/response"
)

// WebhookJobType identifies billing webhook jobs on the background queue.
const WebhookJobType = "billing_webhook"

// BillingHandler wires subscription billing endpoints.
type BillingHandler struct {
	service *service.BillingService
	queue   *jobs.Queue
}

// NewBillingHandler creates a new handler. The queue absorbs webhook
// processing so deliveries are acknowledged fast and retried on failure.
func NewBillingHandler(svc *service.BillingService, queue *jobs.Queue) *BillingHandler {
	return &BillingHandler{service: svc, queue: queue}
}

// Subscription returns the caller's billing mirror.
func (h *BillingHandler) Subscription(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	sub, err := h.service.GetSubscription(c.Request.Context(), identity.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, sub, nil)
}

// Checkout starts a hosted checkout session.
func (h *BillingHandler) Checkout(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid checkout payload"))
		return
	}

	res, err := h.service.CreateCheckout(c.Request.Context(), identity, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// Portal starts a hosted billing portal session.
func (h *BillingHandler) Portal(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	res, err := h.service.CreatePortal(c.Request.Context(), identity)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, res, nil)
}

// Webhook receives processor events. The signature is verified over the raw
// body before anything is parsed; valid events are queued for asynchronous
// application so the processor gets a fast acknowledgement.
func (h *BillingHandler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "failed to read webhook body"))
		return
	}

	event, err := h.service.VerifyWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		response.Error(c, err)
		return
	}

	if h.queue != nil {
		if err := h.queue.Enqueue(jobs.Job{ID: event.ID, Type: WebhookJobType, Payload: event}); err == nil {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		// Queue unavailable; fall through to synchronous handling.
	}

	if err := h.service.HandleEvent(c.Request.Context(), event); err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
