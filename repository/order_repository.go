package repository

import (
	"context"
	"time"

	"orders-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentConfirmation is what a payment-succeeded notification applies to an order.
type PaymentConfirmation struct {
	ChargeID   string
	ReceiptURL string
	PaidAt     time.Time
}

// OrderRepository defines the interface for order data access
type OrderRepository interface {
	CreateWithItems(ctx context.Context, order *models.Order) error
	FindAll(ctx context.Context, page, limit int, status models.OrderStatus) ([]models.Order, int64, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) (*models.Order, error)
	MarkPaid(ctx context.Context, id uuid.UUID, payment PaymentConfirmation) (*models.Order, bool, error)
}

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

// CreateWithItems inserts the order and its items. gorm wraps the insert and
// its associations in one transaction.
func (r *GormOrderRepository) CreateWithItems(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func byStatus(status models.OrderStatus) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if status == "" {
			return db
		}
		return db.Where("status = ?", string(status))
	}
}

// FindAll returns one page of orders without items, newest first, plus the
// number of orders matching the filter.
func (r *GormOrderRepository) FindAll(ctx context.Context, page, limit int, status models.OrderStatus) ([]models.Order, int64, error) {
	var orders []models.Order
	var total int64

	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Scopes(byStatus(status)).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := r.db.WithContext(ctx).
		Scopes(byStatus(status)).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, 0, err
	}

	return orders, total, nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order

	if err := r.db.WithContext(ctx).
		Preload("OrderItems").
		Preload("Receipt").
		First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}

	return &order, nil
}

func (r *GormOrderRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateStatus sets the status without checking the transition and returns
// the updated row. It returns gorm.ErrRecordNotFound when no row matched.
func (r *GormOrderRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.OrderStatus) (*models.Order, error) {
	var order models.Order

	res := r.db.WithContext(ctx).
		Model(&order).
		Clauses(clause.Returning{}).
		Where("id = ?", id).
		Update("status", string(status))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &order, nil
}

// MarkPaid records a payment on the order and upserts its receipt in one
// transaction. The order row is locked for the duration. A confirmation that
// is already fully applied is skipped, and the returned bool reports whether
// anything changed.
func (r *GormOrderRepository) MarkPaid(ctx context.Context, id uuid.UUID, payment PaymentConfirmation) (*models.Order, bool, error) {
	var order models.Order
	applied := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&order, "id = ?", id).Error; err != nil {
			return err
		}

		var receipts []models.OrderReceipt
		if err := tx.Where("order_id = ?", id).Limit(1).Find(&receipts).Error; err != nil {
			return err
		}

		if len(receipts) == 1 && alreadyApplied(&order, &receipts[0], payment) {
			order.Receipt = &receipts[0]
			return nil
		}

		paidAt := payment.PaidAt
		if order.PaidAt != nil {
			paidAt = *order.PaidAt
		}
		chargeID := payment.ChargeID

		if err := tx.Model(&order).Updates(map[string]interface{}{
			"status":           string(models.OrderStatusPaid),
			"paid":             true,
			"paid_at":          paidAt,
			"stripe_charge_id": chargeID,
		}).Error; err != nil {
			return err
		}
		order.Status = models.OrderStatusPaid
		order.Paid = true
		order.PaidAt = &paidAt
		order.StripeChargeID = &chargeID

		receipt := models.OrderReceipt{OrderID: id, ReceiptURL: payment.ReceiptURL}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"receipt_url", "updated_at"}),
		}).Create(&receipt).Error; err != nil {
			return err
		}
		order.Receipt = &receipt

		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return &order, applied, nil
}

func alreadyApplied(order *models.Order, receipt *models.OrderReceipt, payment PaymentConfirmation) bool {
	return order.Paid &&
		order.Status == models.OrderStatusPaid &&
		order.StripeChargeID != nil && *order.StripeChargeID == payment.ChargeID &&
		receipt.ReceiptURL == payment.ReceiptURL
}
