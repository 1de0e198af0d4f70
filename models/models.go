package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// OrderStatusList is the enum accepted by every validating caller.
var OrderStatusList = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

func (s OrderStatus) Valid() bool {
	for _, v := range OrderStatusList {
		if s == v {
			return true
		}
	}
	return false
}

type Order struct {
	ID             uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TotalAmount    decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"totalAmount"`
	TotalItems     int             `gorm:"not null" json:"totalItems"`
	Status         OrderStatus     `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	Paid           bool            `gorm:"not null;default:false" json:"paid"`
	PaidAt         *time.Time      `json:"paidAt"`
	StripeChargeID *string         `gorm:"type:varchar(255)" json:"stripeChargeId"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
	OrderItems     []OrderItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"OrderItem,omitempty"`
	Receipt        *OrderReceipt   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"OrderReceipt,omitempty"`
}

// OrderItem is immutable once its order is created. Price is the unit price
// at creation time.
type OrderItem struct {
	ID        uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID   uuid.UUID       `gorm:"type:uuid;not null;index" json:"orderId"`
	ProductID string          `gorm:"type:varchar(64);not null" json:"productId"`
	Quantity  int             `gorm:"not null" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
}

type OrderReceipt struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	OrderID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"orderId"`
	ReceiptURL string    `gorm:"type:text;not null" json:"receiptUrl"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}
