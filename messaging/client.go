package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	apperrors "orders-service/common/errors"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Conn is the part of *nats.Conn the client needs.
type Conn interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
	Publish(subj string, data []byte) error
}

// Client sends requests and events to sibling services.
type Client struct {
	conn    Conn
	timeout time.Duration
	logger  *zap.Logger
}

func NewClient(conn Conn, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{conn: conn, timeout: timeout, logger: logger}
}

// Request sends payload on subject and decodes the reply response into out.
// Every call is bounded by the client timeout. Failures are returned as
// UPSTREAM or UPSTREAM_TIMEOUT errors.
func (c *Client) Request(ctx context.Context, subject string, payload, out interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Internal("Failed to encode request", err)
	}
	packet, err := json.Marshal(Packet{
		Pattern: PatternFor(subject),
		Data:    data,
		ID:      uuid.NewString(),
	})
	if err != nil {
		return apperrors.Internal("Failed to encode request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	msg, err := c.conn.RequestWithContext(ctx, subject, packet)
	if err != nil {
		c.logger.Warn("bus request failed",
			zap.String("subject", subject),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return requestError(subject, err)
	}

	var reply Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return apperrors.Upstream(fmt.Sprintf("Invalid reply from %s", subject), err)
	}
	if len(reply.Err) > 0 && string(reply.Err) != "null" {
		return remoteError(subject, reply.Err)
	}

	if out != nil {
		if len(reply.Response) == 0 {
			return apperrors.Upstream(fmt.Sprintf("Empty reply from %s", subject), nil)
		}
		if err := json.Unmarshal(reply.Response, out); err != nil {
			return apperrors.Upstream(fmt.Sprintf("Invalid reply from %s", subject), err)
		}
	}
	return nil
}

// Emit publishes an event packet. Events have no reply.
func (c *Client) Emit(subject string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	packet, err := json.Marshal(Packet{Pattern: PatternFor(subject), Data: data})
	if err != nil {
		return err
	}
	return c.conn.Publish(subject, packet)
}

func requestError(subject string, err error) *apperrors.Error {
	switch {
	case errors.Is(err, nats.ErrNoResponders):
		e := apperrors.Upstream(fmt.Sprintf("No service is listening on %s", subject), err)
		e.Status = http.StatusServiceUnavailable
		return e
	case errors.Is(err, nats.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Timeout(fmt.Sprintf("Request to %s timed out", subject), err)
	default:
		return apperrors.Upstream(fmt.Sprintf("Request to %s failed", subject), err)
	}
}
