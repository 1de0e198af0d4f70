package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "orders-service/common/errors"
	"orders-service/common/logger"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// HandlerFunc serves a request pattern. The returned value becomes the
// reply response; a returned error becomes the reply err.
type HandlerFunc func(ctx context.Context, data json.RawMessage) (interface{}, error)

// EventHandlerFunc serves an event pattern. Events have no reply.
type EventHandlerFunc func(ctx context.Context, data json.RawMessage)

// Subscriber is the part of *nats.Conn the server needs.
type Subscriber interface {
	QueueSubscribe(subj, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

const (
	metricBusRequests = "BusRequests"
	metricBusLatency  = "BusLatency"
)

type MetricsRecorder interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
}

// ServerConfig bounds how the server runs handlers.
type ServerConfig struct {
	Queue          string
	MaxInFlight    int64
	HandlerTimeout time.Duration
}

// Server dispatches inbound bus messages to handlers. Messages are handled
// concurrently, at most MaxInFlight at a time.
type Server struct {
	conn    Subscriber
	cfg     ServerConfig
	sem     *semaphore.Weighted
	logger  *zap.Logger
	metrics MetricsRecorder

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu      sync.Mutex
	subs    []*nats.Subscription
	closing bool
}

func NewServer(conn Subscriber, cfg ServerConfig, metrics MetricsRecorder, logger *zap.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		conn:    conn,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(cfg.MaxInFlight),
		logger:  logger,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Handle subscribes a request/reply handler on pattern.
func (s *Server) Handle(pattern string, h HandlerFunc) error {
	return s.subscribe(pattern, func(msg *nats.Msg) {
		reply := s.process(pattern, msg.Data, h)
		if msg.Reply == "" {
			s.logger.Warn("request without reply subject", zap.String("pattern", pattern))
			return
		}
		if err := msg.Respond(reply); err != nil {
			s.logger.Error("failed to send reply", zap.String("pattern", pattern), zap.Error(err))
		}
	})
}

// HandleEvent subscribes an event handler on pattern.
func (s *Server) HandleEvent(pattern string, h EventHandlerFunc) error {
	return s.subscribe(pattern, func(msg *nats.Msg) {
		s.processEvent(pattern, msg.Data, h)
	})
}

func (s *Server) subscribe(pattern string, serve func(msg *nats.Msg)) error {
	sub, err := s.conn.QueueSubscribe(pattern, s.cfg.Queue, func(msg *nats.Msg) {
		s.deliver(msg, serve)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", pattern, err)
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	s.logger.Info("bus pattern registered", zap.String("pattern", pattern), zap.String("queue", s.cfg.Queue))
	return nil
}

// deliver runs serve on its own goroutine once a slot is free. It blocks
// while the server is saturated. Messages that get a slot after Shutdown
// began are dropped.
func (s *Server) deliver(msg *nats.Msg, serve func(msg *nats.Msg)) {
	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		s.sem.Release(1)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)
		serve(msg)
	}()
}

func (s *Server) process(pattern string, data []byte, h HandlerFunc) []byte {
	var packet Packet
	if err := json.Unmarshal(data, &packet); err != nil {
		reply, _ := newReply("", nil, apperrors.Validation("Malformed packet", map[string]string{"packet": err.Error()}))
		return reply
	}

	requestID := packet.ID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	ctx, cancel := context.WithTimeout(logger.WithRequestID(s.ctx, requestID), s.cfg.HandlerTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.call(ctx, pattern, packet.Data, h)
	s.record(ctx, pattern, start, err)

	reply, mErr := newReply(packet.ID, resp, err)
	if mErr != nil {
		logger.For(ctx, s.logger).Error("failed to encode reply", zap.String("pattern", pattern), zap.Error(mErr))
		reply, _ = newReply(packet.ID, nil, apperrors.Defect("Failed to encode reply"))
	}
	return reply
}

func (s *Server) call(ctx context.Context, pattern string, data json.RawMessage, h HandlerFunc) (resp interface{}, err error) {
	log := logger.For(ctx, s.logger).With(zap.String("pattern", pattern))
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panicked", zap.Any("panic", r), zap.Stack("stack"))
			resp, err = nil, apperrors.Defect("Internal error while handling "+pattern)
		}
	}()

	resp, err = h(ctx, data)
	if err != nil {
		appErr := apperrors.From(err)
		if appErr.Status >= 500 {
			log.Error("request failed", zap.String("kind", string(appErr.Kind)), zap.Error(err))
		} else {
			log.Info("request rejected", zap.String("kind", string(appErr.Kind)), zap.String("message", appErr.Message))
		}
	}
	return resp, err
}

func (s *Server) processEvent(pattern string, data []byte, h EventHandlerFunc) {
	var packet Packet
	if err := json.Unmarshal(data, &packet); err != nil {
		s.logger.Warn("dropping malformed event", zap.String("pattern", pattern), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(logger.WithRequestID(s.ctx, uuid.NewString()), s.cfg.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.For(ctx, s.logger).Error("event handler panicked",
				zap.String("pattern", pattern), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	h(ctx, packet.Data)
}

func (s *Server) record(ctx context.Context, pattern string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	dims := map[string]string{"Pattern": pattern, "Outcome": "ok"}
	if err != nil {
		dims["Outcome"] = string(apperrors.KindOf(err))
	}
	_ = s.metrics.RecordCount(ctx, metricBusRequests, dims)
	_ = s.metrics.RecordLatency(ctx, metricBusLatency, time.Since(start), map[string]string{"Pattern": pattern})
}

// Shutdown stops intake and waits for in-flight handlers until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("unsubscribe failed", zap.String("subject", sub.Subject), zap.Error(err))
		}
	}
	s.subs = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}
