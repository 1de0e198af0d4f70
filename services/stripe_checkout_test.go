package services

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	apperrors "orders-service/common/errors"
	"orders-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

func TestStripeCheckoutClient_BuildsSession(t *testing.T) {
	var captured *stripe.CheckoutSessionParams
	c := &StripeCheckoutClient{
		successURL: "https://shop.example/success",
		cancelURL:  "https://shop.example/cancel",
		logger:     zap.NewNop(),
		newSession: func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
			captured = params
			return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/cs_test_1"}, nil
		},
	}

	raw, err := c.CreatePaymentSession(context.Background(), models.PaymentSessionRequest{
		OrderID:  "8a4f7c3e-0b9d-4d0c-9d0e-2f6b1c1a2b3c",
		Currency: "usd",
		Items: []models.PaymentSessionItem{
			{Name: "Keyboard", Price: 19.99, Quantity: 2},
			{Name: "Cable", Price: 0.1, Quantity: 1},
		},
	})
	require.NoError(t, err)

	require.NotNil(t, captured)
	assert.Equal(t, "payment", *captured.Mode)
	assert.Equal(t, "8a4f7c3e-0b9d-4d0c-9d0e-2f6b1c1a2b3c", captured.PaymentIntentData.Metadata["orderId"])
	require.Len(t, captured.LineItems, 2)
	assert.Equal(t, int64(1999), *captured.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, int64(2), *captured.LineItems[0].Quantity)
	assert.Equal(t, "Keyboard", *captured.LineItems[0].PriceData.ProductData.Name)
	assert.Equal(t, int64(10), *captured.LineItems[1].PriceData.UnitAmount)

	var out map[string]string
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "cs_test_1", out["id"])
	assert.Equal(t, "https://checkout.stripe.com/c/cs_test_1", out["url"])
	assert.Equal(t, "https://shop.example/success", out["successUrl"])
	assert.Equal(t, "https://shop.example/cancel", out["cancelUrl"])
}

func TestStripeCheckoutClient_Errors(t *testing.T) {
	c := &StripeCheckoutClient{logger: zap.NewNop()}

	c.newSession = func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, &stripe.Error{Msg: "Invalid currency", HTTPStatusCode: http.StatusBadRequest}
	}
	_, err := c.CreatePaymentSession(context.Background(), models.PaymentSessionRequest{OrderID: "o1", Currency: "xxx"})
	appErr := apperrors.From(err)
	assert.Equal(t, apperrors.KindUpstream, appErr.Kind)
	assert.Equal(t, "Invalid currency", appErr.Message)
	assert.False(t, isTransient(err))

	c.newSession = func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
		return nil, &stripe.Error{Msg: "Service unavailable", HTTPStatusCode: http.StatusBadGateway}
	}
	_, err = c.CreatePaymentSession(context.Background(), models.PaymentSessionRequest{OrderID: "o1", Currency: "usd"})
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.From(err).Status)
	assert.True(t, isTransient(err))
}

func TestUnitAmount(t *testing.T) {
	assert.Equal(t, int64(1999), unitAmount(19.99))
	assert.Equal(t, int64(30), unitAmount(0.3))
	assert.Equal(t, int64(100), unitAmount(1))
}
