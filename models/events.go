package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderEventCreated       = "order_created"
	OrderEventCancelled     = "order_cancelled"
	OrderEventStatusChanged = "order_status_changed"
	OrderEventPaid          = "order_paid"
)

// OrderEvent is published to Kafka and SNS after order state changes.
type OrderEvent struct {
	Type        string          `json:"type"`
	OrderID     string          `json:"orderId"`
	Status      OrderStatus     `json:"status"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	TotalItems  int             `json:"totalItems"`
	Timestamp   time.Time       `json:"timestamp"`
}

func NewOrderEvent(eventType string, order *Order) OrderEvent {
	return OrderEvent{
		Type:        eventType,
		OrderID:     order.ID.String(),
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		TotalItems:  order.TotalItems,
		Timestamp:   time.Now().UTC(),
	}
}
