package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "orders-service/common/errors"
	"orders-service/common/logger"
	"orders-service/models"
	"orders-service/repository"
	aws_pkg "orders-service/pkg/aws"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const paymentCurrency = "usd"

// MetricsRecorder counts business events. *aws.MetricsClient implements it.
type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
}

// OrderService defines the interface for order business logic
type OrderService interface {
	CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.CreateOrderResponse, error)
	FindAll(ctx context.Context, req *models.PaginationOrdersRequest) (*models.OrderListResponse, error)
	FindOne(ctx context.Context, id string) (*models.OrderView, error)
	ChangeOrderStatus(ctx context.Context, req *models.StatusOrderRequest) (*models.Order, error)
	PaidOrder(ctx context.Context, evt *models.PaidOrderEvent) error
}

type orderService struct {
	repo     repository.OrderRepository
	products ProductClient
	catalog  ProductClient
	payments PaymentClient
	events   EventPublisher
	metrics  MetricsRecorder
	retry    RetryConfig
	logger   *zap.Logger
}

// OrderServiceDeps groups the collaborators of the order service. Events and
// Metrics may be nil.
//
// Products validates the items of a new order and must always reach the
// product service. Catalog only resolves names for FindOne and may be a
// cache; it defaults to Products.
type OrderServiceDeps struct {
	Repo     repository.OrderRepository
	Products ProductClient
	Catalog  ProductClient
	Payments PaymentClient
	Events   EventPublisher
	Metrics  MetricsRecorder
	Retry    RetryConfig
	Logger   *zap.Logger
}

func NewOrderService(deps OrderServiceDeps) OrderService {
	if deps.Retry.Attempts < 1 {
		deps.Retry = DefaultRetryConfig(1)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Catalog == nil {
		deps.Catalog = deps.Products
	}
	return &orderService{
		repo:     deps.Repo,
		products: deps.Products,
		catalog:  deps.Catalog,
		payments: deps.Payments,
		events:   deps.Events,
		metrics:  deps.Metrics,
		retry:    deps.Retry,
		logger:   deps.Logger,
	}
}

// CreateOrder validates the products, persists the order with its items and
// opens a payment session for it. If no session can be opened the order is
// cancelled and the upstream error returned.
func (s *orderService) CreateOrder(ctx context.Context, req *models.CreateOrderRequest) (*models.CreateOrderResponse, error) {
	log := logger.For(ctx, s.logger)

	productIDs := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		productIDs = append(productIDs, string(item.ProductID))
	}

	products, err := s.products.ValidateProducts(ctx, distinct(productIDs))
	if err != nil {
		log.Info("product validation rejected order", zap.Error(err))
		return nil, err
	}
	byID := models.IndexProducts(products)

	total := decimal.Zero
	totalItems := 0
	items := make([]models.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		productID := string(item.ProductID)
		product, ok := byID[productID]
		if !ok {
			return nil, apperrors.Defect(fmt.Sprintf("Product %s missing from product lookup", productID))
		}
		total = total.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		totalItems += item.Quantity
		items = append(items, models.OrderItem{
			ID:        uuid.New(),
			ProductID: productID,
			Quantity:  item.Quantity,
			Price:     product.Price,
		})
	}

	order := &models.Order{
		ID:          uuid.New(),
		TotalAmount: total,
		TotalItems:  totalItems,
		Status:      models.OrderStatusPending,
		OrderItems:  items,
	}
	if err := s.repo.CreateWithItems(ctx, order); err != nil {
		log.Error("failed to persist order", zap.Error(err))
		return nil, apperrors.Internal("Failed to create order", err)
	}
	log = log.With(zap.String("order_id", order.ID.String()))
	log.Info("order created", zap.String("total_amount", order.TotalAmount.StringFixed(2)), zap.Int("total_items", order.TotalItems))
	s.publish(ctx, models.OrderEventCreated, order)

	view, err := buildOrderView(order, byID)
	if err != nil {
		return nil, err
	}

	sessionReq := paymentSessionRequest(order, byID)
	session, err := retryWithBackoff(ctx, s.retry, isTransient, func() (json.RawMessage, error) {
		return s.payments.CreatePaymentSession(ctx, sessionReq)
	})
	if err != nil {
		log.Error("payment session failed, cancelling order", zap.Error(err))
		s.cancel(ctx, order)
		return nil, err
	}

	s.count(ctx, aws_pkg.MetricOrdersCreated, nil)
	return &models.CreateOrderResponse{Order: view, PaymentSession: session}, nil
}

// cancel marks an order whose payment session could not be opened. It runs
// on a context detached from the caller, which may already be done.
func (s *orderService) cancel(ctx context.Context, order *models.Order) {
	bgCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer done()

	s.count(bgCtx, aws_pkg.MetricOrdersFailed, nil)

	cancelled, err := s.repo.UpdateStatus(bgCtx, order.ID, models.OrderStatusCancelled)
	if err != nil {
		logger.For(ctx, s.logger).Error("failed to cancel order",
			zap.String("order_id", order.ID.String()), zap.Error(err))
		return
	}
	s.publish(bgCtx, models.OrderEventCancelled, cancelled)
}

// FindAll returns a page of orders without items.
func (s *orderService) FindAll(ctx context.Context, req *models.PaginationOrdersRequest) (*models.OrderListResponse, error) {
	req.Normalize()

	orders, total, err := s.repo.FindAll(ctx, req.Page, req.Limit, req.Status)
	if err != nil {
		logger.For(ctx, s.logger).Error("failed to fetch orders", zap.Error(err))
		return nil, apperrors.Internal("Failed to fetch orders", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}

	return &models.OrderListResponse{
		Data: orders,
		Pagination: models.Pagination{
			TotalItems:  total,
			TotalPages:  calculateTotalPages(total, req.Limit),
			CurrentPage: req.Page,
		},
	}, nil
}

// FindOne returns the order with its items named after their products.
func (s *orderService) FindOne(ctx context.Context, id string) (*models.OrderView, error) {
	orderID, err := uuid.Parse(id)
	if err != nil {
		return nil, orderNotFound(id)
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderNotFound(id)
		}
		logger.For(ctx, s.logger).Error("failed to fetch order", zap.String("order_id", id), zap.Error(err))
		return nil, apperrors.Internal("Failed to fetch order", err)
	}

	var byID map[string]models.Product
	if len(order.OrderItems) > 0 {
		productIDs := make([]string, 0, len(order.OrderItems))
		for _, item := range order.OrderItems {
			productIDs = append(productIDs, item.ProductID)
		}
		products, err := s.catalog.ValidateProducts(ctx, distinct(productIDs))
		if err != nil {
			return nil, err
		}
		byID = models.IndexProducts(products)
	}

	return buildOrderView(order, byID)
}

// ChangeOrderStatus sets the status of an existing order. Transitions are
// not checked.
func (s *orderService) ChangeOrderStatus(ctx context.Context, req *models.StatusOrderRequest) (*models.Order, error) {
	orderID, err := uuid.Parse(req.ID)
	if err != nil {
		return nil, orderNotFound(req.ID)
	}

	exists, err := s.repo.Exists(ctx, orderID)
	if err != nil {
		return nil, apperrors.Internal("Failed to fetch order", err)
	}
	if !exists {
		return nil, orderNotFound(req.ID)
	}

	order, err := s.repo.UpdateStatus(ctx, orderID, req.Status)
	if err != nil {
		// deleted between the check and the update
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderNotFound(req.ID)
		}
		logger.For(ctx, s.logger).Error("failed to update order status", zap.String("order_id", req.ID), zap.Error(err))
		return nil, apperrors.Internal("Failed to update order", err)
	}

	logger.For(ctx, s.logger).Info("order status changed",
		zap.String("order_id", req.ID), zap.String("status", string(req.Status)))
	s.count(ctx, aws_pkg.MetricOrderStatusChanged, map[string]string{"Status": string(req.Status)})
	s.publish(ctx, models.OrderEventStatusChanged, order)
	return order, nil
}

// PaidOrder applies a payment confirmation. Delivery is at least once, so a
// confirmation that was already applied is a no-op.
func (s *orderService) PaidOrder(ctx context.Context, evt *models.PaidOrderEvent) error {
	log := logger.For(ctx, s.logger).With(zap.String("order_id", evt.OrderID))

	orderID, err := uuid.Parse(evt.OrderID)
	if err != nil {
		return orderNotFound(evt.OrderID)
	}

	order, applied, err := s.repo.MarkPaid(ctx, orderID, repository.PaymentConfirmation{
		ChargeID:   evt.StripePaymentID,
		ReceiptURL: evt.ReceiptURL,
		PaidAt:     time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("payment confirmation for unknown order")
			return orderNotFound(evt.OrderID)
		}
		log.Error("failed to mark order paid", zap.Error(err))
		return apperrors.Internal("Failed to mark order paid", err)
	}

	if !applied {
		log.Info("payment confirmation already applied", zap.String("charge_id", evt.StripePaymentID))
		return nil
	}

	log.Info("order paid", zap.String("charge_id", evt.StripePaymentID))
	s.count(ctx, aws_pkg.MetricPaymentSucceeded, nil)
	s.publish(ctx, models.OrderEventPaid, order)
	return nil
}

// publish is best effort; failures are logged only.
func (s *orderService) publish(ctx context.Context, eventType string, order *models.Order) {
	if s.events == nil || order == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, models.NewOrderEvent(eventType, order)); err != nil {
		logger.For(ctx, s.logger).Warn("failed to publish order event",
			zap.String("type", eventType), zap.String("order_id", order.ID.String()), zap.Error(err))
	}
}

func (s *orderService) count(ctx context.Context, metric string, dims map[string]string) {
	if s.metrics == nil {
		return
	}
	if err := s.metrics.RecordCount(ctx, metric, dims); err != nil {
		logger.For(ctx, s.logger).Debug("failed to record metric", zap.String("metric", metric), zap.Error(err))
	}
}

func orderNotFound(id string) *apperrors.Error {
	return apperrors.NotFound(fmt.Sprintf("Order id: %s not found", id))
}

func buildOrderView(order *models.Order, products map[string]models.Product) (*models.OrderView, error) {
	items := make([]models.OrderItemView, 0, len(order.OrderItems))
	for _, item := range order.OrderItems {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, apperrors.Defect(fmt.Sprintf("Product %s missing from product lookup", item.ProductID))
		}
		items = append(items, models.OrderItemView{
			ProductID: item.ProductID,
			Name:      product.Name,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}

	return &models.OrderView{
		ID:             order.ID,
		TotalAmount:    order.TotalAmount,
		TotalItems:     order.TotalItems,
		Status:         order.Status,
		Paid:           order.Paid,
		PaidAt:         order.PaidAt,
		StripeChargeID: order.StripeChargeID,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
		OrderItems:     items,
		Receipt:        order.Receipt,
	}, nil
}

func paymentSessionRequest(order *models.Order, products map[string]models.Product) models.PaymentSessionRequest {
	items := make([]models.PaymentSessionItem, 0, len(order.OrderItems))
	for _, item := range order.OrderItems {
		items = append(items, models.PaymentSessionItem{
			Name:     products[item.ProductID].Name,
			Price:    item.Price.InexactFloat64(),
			Quantity: item.Quantity,
		})
	}
	return models.PaymentSessionRequest{
		OrderID:  order.ID.String(),
		Currency: paymentCurrency,
		Items:    items,
	}
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func calculateTotalPages(total int64, limit int) int64 {
	if limit == 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}
