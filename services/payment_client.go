package services

import (
	"context"
	"encoding/json"

	"orders-service/models"
)

// PaymentClient opens a payment session for an order. The session body is
// passed through to the caller unchanged.
type PaymentClient interface {
	CreatePaymentSession(ctx context.Context, req models.PaymentSessionRequest) (json.RawMessage, error)
}

type BusPaymentClient struct {
	bus     Requester
	subject string
}

func NewBusPaymentClient(bus Requester, subject string) *BusPaymentClient {
	return &BusPaymentClient{bus: bus, subject: subject}
}

func (c *BusPaymentClient) CreatePaymentSession(ctx context.Context, req models.PaymentSessionRequest) (json.RawMessage, error) {
	var session json.RawMessage
	if err := c.bus.Request(ctx, c.subject, req, &session); err != nil {
		return nil, err
	}
	return session, nil
}
