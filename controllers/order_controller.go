package controllers

import (
	"context"
	"encoding/json"

	"orders-service/common/logger"
	"orders-service/common/validation"
	"orders-service/models"
	"orders-service/services"

	"go.uber.org/zap"
)

// OrderController serves the order message patterns on the bus. Each
// handler decodes strictly, validates and delegates to the order service.
type OrderController struct {
	orders    services.OrderService
	validator *validation.RequestValidator
	logger    *zap.Logger
}

func NewOrderController(orders services.OrderService, validator *validation.RequestValidator, logger *zap.Logger) *OrderController {
	return &OrderController{orders: orders, validator: validator, logger: logger}
}

func (oc *OrderController) CreateOrder(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var req models.CreateOrderRequest
	if err := oc.validator.Decode(data, &req); err != nil {
		return nil, err
	}
	return oc.orders.CreateOrder(ctx, &req)
}

func (oc *OrderController) FindAllOrders(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var req models.PaginationOrdersRequest
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	if err := oc.validator.Decode(data, &req); err != nil {
		return nil, err
	}
	return oc.orders.FindAll(ctx, &req)
}

// FindOneOrder takes the order id as a bare JSON string.
func (oc *OrderController) FindOneOrder(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var id string
	if err := oc.validator.Decode(data, &id); err != nil {
		return nil, err
	}
	if err := oc.validator.Var("id", id, "required,uuid"); err != nil {
		return nil, err
	}
	return oc.orders.FindOne(ctx, id)
}

func (oc *OrderController) ChangeOrderStatus(ctx context.Context, data json.RawMessage) (interface{}, error) {
	var req models.StatusOrderRequest
	if err := oc.validator.Decode(data, &req); err != nil {
		return nil, err
	}
	return oc.orders.ChangeOrderStatus(ctx, &req)
}

// PaymentSucceeded handles the payment-confirmation event. There is no
// caller to answer, so failures are only logged.
func (oc *OrderController) PaymentSucceeded(ctx context.Context, data json.RawMessage) {
	log := logger.For(ctx, oc.logger)

	var evt models.PaidOrderEvent
	if err := oc.validator.Decode(data, &evt); err != nil {
		log.Warn("dropping invalid payment confirmation", zap.Error(err))
		return
	}
	if err := oc.orders.PaidOrder(ctx, &evt); err != nil {
		log.Error("payment confirmation failed", zap.String("order_id", evt.OrderID), zap.Error(err))
	}
}
