package controllers

import (
	"encoding/json"
	"io"
	"net/http"

	apperrors "orders-service/common/errors"
	"orders-service/common/logger"
	"orders-service/common/validation"
	"orders-service/models"
	"orders-service/services"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"
)

const maxWebhookBody = int64(65536)

// WebhookController receives Stripe webhooks and applies charge.succeeded
// as a payment confirmation.
type WebhookController struct {
	orders    services.OrderService
	validator *validation.RequestValidator
	secret    string
	logger    *zap.Logger
}

func NewWebhookController(orders services.OrderService, validator *validation.RequestValidator, secret string, logger *zap.Logger) *WebhookController {
	return &WebhookController{orders: orders, validator: validator, secret: secret, logger: logger}
}

// StripeWebhook handles POST /payments/webhook
func (wc *WebhookController) StripeWebhook(c *gin.Context) {
	log := logger.For(c, wc.logger)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "failed to read body"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), wc.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		log.Warn("stripe webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	log.Info("processing stripe webhook", zap.String("event_type", string(event.Type)), zap.String("event_id", event.ID))

	switch event.Type {
	case "charge.succeeded":
		if status := wc.handleChargeSucceeded(c, event, log); status != http.StatusOK {
			c.JSON(status, gin.H{"error": "failed to apply payment"})
			return
		}
	default:
		log.Debug("ignoring stripe event", zap.String("event_type", string(event.Type)))
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// handleChargeSucceeded returns the status to answer Stripe with. Anything
// but 200 makes Stripe retry the delivery.
func (wc *WebhookController) handleChargeSucceeded(c *gin.Context, event stripe.Event, log *zap.Logger) int {
	var charge stripe.Charge
	if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
		log.Error("failed to unmarshal charge", zap.Error(err))
		return http.StatusOK
	}

	evt := models.PaidOrderEvent{
		OrderID:         charge.Metadata["orderId"],
		StripePaymentID: charge.ID,
		ReceiptURL:      charge.ReceiptURL,
	}
	if err := wc.validator.Struct(&evt); err != nil {
		log.Warn("charge without a usable order reference", zap.String("charge_id", charge.ID), zap.Error(err))
		return http.StatusOK
	}

	err := wc.orders.PaidOrder(c.Request.Context(), &evt)
	switch apperrors.KindOf(err) {
	case "":
		return http.StatusOK
	case apperrors.KindNotFound:
		log.Warn("charge for unknown order", zap.String("order_id", evt.OrderID), zap.String("charge_id", charge.ID))
		return http.StatusOK
	default:
		log.Error("failed to apply charge", zap.String("order_id", evt.OrderID), zap.Error(err))
		return http.StatusInternalServerError
	}
}
