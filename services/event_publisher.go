package services

import (
	"context"
	"encoding/json"
	"errors"

	"orders-service/models"
	aws_pkg "orders-service/pkg/aws"
)

// EventPublisher publishes order lifecycle events. *kafka.Producer
// implements it.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, evt models.OrderEvent) error
}

// SNSEventPublisher publishes order events to an SNS topic with the event
// type as a message attribute.
type SNSEventPublisher struct {
	client   aws_pkg.SNSPublisher
	topicArn string
}

func NewSNSEventPublisher(client aws_pkg.SNSPublisher, topicArn string) *SNSEventPublisher {
	return &SNSEventPublisher{client: client, topicArn: topicArn}
}

func (p *SNSEventPublisher) PublishOrderEvent(ctx context.Context, evt models.OrderEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.topicArn, body, map[string]string{"eventType": evt.Type})
}

// MultiPublisher sends every event to each publisher and joins the errors.
type MultiPublisher []EventPublisher

func (m MultiPublisher) PublishOrderEvent(ctx context.Context, evt models.OrderEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishOrderEvent(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
