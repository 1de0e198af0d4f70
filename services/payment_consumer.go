package services

import (
	"context"
	"encoding/json"
	"errors"

	apperrors "orders-service/common/errors"
	"orders-service/common/validation"
	"orders-service/models"
	aws_pkg "orders-service/pkg/aws"

	"go.uber.org/zap"
)

// Poller hands queue messages to a handler until ctx is done.
// *aws.SQSConsumer implements it.
type Poller interface {
	StartPolling(ctx context.Context, handler aws_pkg.MessageHandler) error
}

// SQSPaymentConsumer applies payment confirmations delivered through an SQS
// queue, usually fed by an SNS topic.
type SQSPaymentConsumer struct {
	poller    Poller
	orders    OrderService
	validator *validation.RequestValidator
	logger    *zap.Logger
}

func NewSQSPaymentConsumer(poller Poller, orders OrderService, validator *validation.RequestValidator, logger *zap.Logger) *SQSPaymentConsumer {
	return &SQSPaymentConsumer{
		poller:    poller,
		orders:    orders,
		validator: validator,
		logger:    logger.With(zap.String("component", "sqs_payment_consumer")),
	}
}

// Start polls until ctx is cancelled.
func (c *SQSPaymentConsumer) Start(ctx context.Context) error {
	c.logger.Info("starting payment events queue consumer")

	err := c.poller.StartPolling(ctx, c.handleMessage)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// handleMessage returns an error only when the message should be redelivered.
func (c *SQSPaymentConsumer) handleMessage(ctx context.Context, body string) error {
	var envelope struct {
		Type    string `json:"Type"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && envelope.Message != "" {
		body = envelope.Message
	}

	var evt models.PaidOrderEvent
	if err := json.Unmarshal([]byte(body), &evt); err != nil {
		c.logger.Error("dropping malformed payment event", zap.Error(err), zap.String("payload", body))
		return nil
	}
	if err := c.validator.Struct(&evt); err != nil {
		c.logger.Error("dropping invalid payment event", zap.String("order_id", evt.OrderID), zap.Error(err))
		return nil
	}

	err := c.orders.PaidOrder(ctx, &evt)
	switch apperrors.KindOf(err) {
	case "":
		return nil
	case apperrors.KindNotFound, apperrors.KindValidation:
		c.logger.Warn("dropping payment event", zap.String("order_id", evt.OrderID), zap.Error(err))
		return nil
	default:
		c.logger.Error("payment event failed, leaving for redelivery",
			zap.String("order_id", evt.OrderID), zap.Error(err))
		return err
	}
}
