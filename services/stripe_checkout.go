package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	apperrors "orders-service/common/errors"
	"orders-service/models"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/checkout/session"
	"go.uber.org/zap"
)

// StripeCheckoutClient opens Stripe Checkout sessions directly instead of
// asking the payments service over the bus.
type StripeCheckoutClient struct {
	successURL string
	cancelURL  string
	logger     *zap.Logger

	newSession func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewStripeCheckoutClient(secretKey, successURL, cancelURL string, logger *zap.Logger) *StripeCheckoutClient {
	stripe.Key = secretKey
	return &StripeCheckoutClient{
		successURL: successURL,
		cancelURL:  cancelURL,
		logger:     logger,
		newSession: session.New,
	}
}

type checkoutSession struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	SuccessURL string `json:"successUrl"`
	CancelURL  string `json:"cancelUrl"`
	OrderID    string `json:"orderId"`
}

func (c *StripeCheckoutClient) CreatePaymentSession(ctx context.Context, req models.PaymentSessionRequest) (json.RawMessage, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"orderId": req.OrderID},
		},
	}
	params.Context = ctx

	for _, item := range req.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(req.Currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
				UnitAmount: stripe.Int64(unitAmount(item.Price)),
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}

	sess, err := c.newSession(params)
	if err != nil {
		c.logger.Error("stripe checkout session failed", zap.String("order_id", req.OrderID), zap.Error(err))
		return nil, stripeError(err)
	}

	c.logger.Info("stripe checkout session created", zap.String("order_id", req.OrderID), zap.String("session_id", sess.ID))
	return json.Marshal(checkoutSession{
		ID:         sess.ID,
		URL:        sess.URL,
		SuccessURL: c.successURL,
		CancelURL:  c.cancelURL,
		OrderID:    req.OrderID,
	})
}

// unitAmount converts a price to the smallest currency unit.
func unitAmount(price float64) int64 {
	return decimal.NewFromFloat(price).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func stripeError(err error) *apperrors.Error {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		e := apperrors.Upstream(serr.Msg, err)
		if serr.HTTPStatusCode >= http.StatusInternalServerError {
			e.Status = http.StatusServiceUnavailable
		}
		return e
	}
	return apperrors.Upstream("Payment provider request failed", err)
}
