package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateOrderItem accepts the product id as a JSON string or number.
type CreateOrderItem struct {
	ProductID ProductID `json:"productId" validate:"required,max=64,productid"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
}

type CreateOrderRequest struct {
	Items []CreateOrderItem `json:"items" validate:"required,min=1,dive"`
}

const (
	DefaultPage  = 1
	DefaultLimit = 10
)

type PaginationOrdersRequest struct {
	Page   int         `json:"page" form:"page" validate:"omitempty,min=1"`
	Limit  int         `json:"limit" form:"limit" validate:"omitempty,min=1"`
	Status OrderStatus `json:"status,omitempty" form:"status" validate:"omitempty,oneof=PENDING PAID DELIVERED CANCELLED"`
}

// Normalize fills in the default page and limit.
func (p *PaginationOrdersRequest) Normalize() {
	if p.Page < 1 {
		p.Page = DefaultPage
	}
	if p.Limit < 1 {
		p.Limit = DefaultLimit
	}
}

type StatusOrderRequest struct {
	ID     string      `json:"id" validate:"required,uuid"`
	Status OrderStatus `json:"status" validate:"required,oneof=PENDING PAID DELIVERED CANCELLED"`
}

// PaidOrderEvent is the payment-confirmation notification.
type PaidOrderEvent struct {
	OrderID         string `json:"orderId" validate:"required,uuid"`
	StripePaymentID string `json:"stripePaymentId" validate:"required,max=255"`
	ReceiptURL      string `json:"receiptUrl" validate:"required,url"`
}

type Pagination struct {
	TotalItems  int64 `json:"totalItems"`
	TotalPages  int64 `json:"totalPages"`
	CurrentPage int   `json:"currentPage"`
}

type OrderListResponse struct {
	Data       []Order    `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// OrderItemView is an order item enriched with the product name.
type OrderItemView struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// OrderView is an order with enriched items, returned by create and find-one.
type OrderView struct {
	ID             uuid.UUID       `json:"id"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	TotalItems     int             `json:"totalItems"`
	Status         OrderStatus     `json:"status"`
	Paid           bool            `json:"paid"`
	PaidAt         *time.Time      `json:"paidAt"`
	StripeChargeID *string         `json:"stripeChargeId"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	OrderItems     []OrderItemView `json:"OrderItem"`
	Receipt        *OrderReceipt   `json:"OrderReceipt,omitempty"`
}

type CreateOrderResponse struct {
	Order          *OrderView      `json:"order"`
	PaymentSession json.RawMessage `json:"paymentSession"`
}

type PaymentSessionItem struct {
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

type PaymentSessionRequest struct {
	OrderID  string               `json:"orderId"`
	Currency string               `json:"currency"`
	Items    []PaymentSessionItem `json:"items"`
}
