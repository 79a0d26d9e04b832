package external

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/storekit/commerce-core/internal/core/domain"
)

const (
	EventOrderCreated  = "order.created"
	EventOrderStatus   = "order.status_changed"
	EventOrderShipped  = "order.shipped"
	EventPaymentFailed = "order.payment_failed"
)

// OrderEvent is the wire format for order notifications. Downstream
// consumers (email delivery, reconciliation jobs, analytics) subscribe to
// the topic; this core only publishes.
type OrderEvent struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"`
	Total      float64   `json:"total"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// KafkaNotifier publishes order events to a Kafka topic.
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (n *KafkaNotifier) SendOrderConfirmation(ctx context.Context, order *domain.Order) error {
	return n.publish(ctx, EventOrderCreated, order, "")
}

func (n *KafkaNotifier) SendStatusUpdate(ctx context.Context, order *domain.Order) error {
	return n.publish(ctx, EventOrderStatus, order, "")
}

func (n *KafkaNotifier) SendShippingConfirmation(ctx context.Context, order *domain.Order) error {
	return n.publish(ctx, EventOrderShipped, order, "")
}

func (n *KafkaNotifier) SendPaymentFailed(ctx context.Context, order *domain.Order, reason string) error {
	return n.publish(ctx, EventPaymentFailed, order, reason)
}

func (n *KafkaNotifier) publish(ctx context.Context, eventType string, order *domain.Order, reason string) error {
	event := OrderEvent{
		Type:       eventType,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		Total:      order.Total,
		Reason:     reason,
		OccurredAt: time.Now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(order.ID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier logs events instead of publishing them. Used when no broker
// is configured and in tests.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendOrderConfirmation(_ context.Context, order *domain.Order) error {
	n.logger.Info("order confirmation", zap.String("order_id", order.ID), zap.String("user_id", order.UserID))
	return nil
}

func (n *LogNotifier) SendStatusUpdate(_ context.Context, order *domain.Order) error {
	n.logger.Info("order status update", zap.String("order_id", order.ID), zap.String("status", string(order.Status)))
	return nil
}

func (n *LogNotifier) SendShippingConfirmation(_ context.Context, order *domain.Order) error {
	n.logger.Info("shipping confirmation", zap.String("order_id", order.ID))
	return nil
}

func (n *LogNotifier) SendPaymentFailed(_ context.Context, order *domain.Order, reason string) error {
	n.logger.Warn("payment failed", zap.String("order_id", order.ID), zap.String("reason", reason))
	return nil
}
