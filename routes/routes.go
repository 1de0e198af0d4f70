package routes

import (
	"orders-service/controllers"
	"orders-service/messaging"

	"github.com/gin-gonic/gin"
)

// Patterns names the bus patterns the service answers on.
type Patterns struct {
	PaymentSucceeded string
}

const (
	PatternCreateOrder       = "createOrder"
	PatternFindAllOrders     = "findAllOrders"
	PatternFindOneOrder      = "findOneOrder"
	PatternChangeOrderStatus = "changeOrderStatus"
)

// PatternRegistrar is implemented by *messaging.Server.
type PatternRegistrar interface {
	Handle(pattern string, h messaging.HandlerFunc) error
	HandleEvent(pattern string, h messaging.EventHandlerFunc) error
}

func RegisterMessagePatterns(s PatternRegistrar, oc *controllers.OrderController, p Patterns) error {
	handlers := []struct {
		pattern string
		handler messaging.HandlerFunc
	}{
		{PatternCreateOrder, oc.CreateOrder},
		{PatternFindAllOrders, oc.FindAllOrders},
		{PatternFindOneOrder, oc.FindOneOrder},
		{PatternChangeOrderStatus, oc.ChangeOrderStatus},
	}
	for _, h := range handlers {
		if err := s.Handle(h.pattern, h.handler); err != nil {
			return err
		}
	}
	return s.HandleEvent(p.PaymentSucceeded, oc.PaymentSucceeded)
}

// RegisterOrderRoutes mounts the REST mirror of the order commands. wc may be
// nil when no webhook secret is configured.
func RegisterOrderRoutes(r *gin.Engine, hc *controllers.HTTPOrderController, wc *controllers.WebhookController) {
	r.GET("/health", hc.Health)

	orderRoutes := r.Group("/orders")
	orderRoutes.POST("", hc.CreateOrder)
	orderRoutes.GET("", hc.ListOrders)
	orderRoutes.GET("/:id", hc.GetOrder)
	orderRoutes.PATCH("/:id", hc.ChangeOrderStatus)

	if wc != nil {
		r.POST("/payments/webhook", wc.StripeWebhook)
	}
}
