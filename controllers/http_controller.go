package controllers

import (
	"net/http"

	apperrors "orders-service/common/errors"
	"orders-service/common/validation"
	"orders-service/models"
	"orders-service/services"

	"github.com/gin-gonic/gin"
)

const maxPageLimit = 100

// HTTPOrderController exposes the order commands over REST. Errors are left
// on the gin context for apperrors.ErrorMiddleware to render.
type HTTPOrderController struct {
	orders    services.OrderService
	validator *validation.RequestValidator
}

func NewHTTPOrderController(orders services.OrderService, validator *validation.RequestValidator) *HTTPOrderController {
	return &HTTPOrderController{orders: orders, validator: validator}
}

// CreateOrder handles POST /orders
func (hc *HTTPOrderController) CreateOrder(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		_ = c.Error(apperrors.Validation("Invalid request body", nil))
		return
	}

	var req models.CreateOrderRequest
	if err := hc.validator.Decode(body, &req); err != nil {
		_ = c.Error(err)
		return
	}

	resp, err := hc.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// ListOrders handles GET /orders?page&limit&status
func (hc *HTTPOrderController) ListOrders(c *gin.Context) {
	var req models.PaginationOrdersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		_ = c.Error(apperrors.Validation("Invalid query", map[string]string{"query": err.Error()}))
		return
	}
	if req.Limit > maxPageLimit {
		req.Limit = maxPageLimit
	}
	if err := hc.validator.Struct(&req); err != nil {
		_ = c.Error(err)
		return
	}

	resp, err := hc.orders.FindAll(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetOrder handles GET /orders/:id
func (hc *HTTPOrderController) GetOrder(c *gin.Context) {
	id := c.Param("id")
	if err := hc.validator.Var("id", id, "required,uuid"); err != nil {
		_ = c.Error(err)
		return
	}

	order, err := hc.orders.FindOne(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ChangeOrderStatus handles PATCH /orders/:id with body {status}
func (hc *HTTPOrderController) ChangeOrderStatus(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		_ = c.Error(apperrors.Validation("Invalid request body", nil))
		return
	}

	var patch struct {
		Status models.OrderStatus `json:"status"`
	}
	if err := hc.validator.Decode(body, &patch); err != nil {
		_ = c.Error(err)
		return
	}

	req := models.StatusOrderRequest{ID: c.Param("id"), Status: patch.Status}
	if err := hc.validator.Struct(&req); err != nil {
		_ = c.Error(err)
		return
	}

	order, err := hc.orders.ChangeOrderStatus(c.Request.Context(), &req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (hc *HTTPOrderController) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "orders-service"})
}
