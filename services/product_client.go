package services

import (
	"context"

	"orders-service/models"
)

// Requester sends a request over the bus and decodes the reply into out.
// *messaging.Client implements it.
type Requester interface {
	Request(ctx context.Context, subject string, payload, out interface{}) error
}

// ProductClient validates product ids with the product service.
// ValidateProducts returns one product per known id and fails when any id is
// unknown.
type ProductClient interface {
	ValidateProducts(ctx context.Context, ids []string) ([]models.Product, error)
}

type BusProductClient struct {
	bus     Requester
	subject string
}

func NewBusProductClient(bus Requester, subject string) *BusProductClient {
	return &BusProductClient{bus: bus, subject: subject}
}

func (c *BusProductClient) ValidateProducts(ctx context.Context, ids []string) ([]models.Product, error) {
	var products []models.Product
	if err := c.bus.Request(ctx, c.subject, ids, &products); err != nil {
		return nil, err
	}
	return products, nil
}
