package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datasaz/ecommerce-core/internal/domain/order"
)

const producerName = "checkout-core"

var _ order.Notifier = (*KafkaNotifier)(nil)

// KafkaNotifier publishes order lifecycle events to kafka. Events are keyed
// by order id so all events for one order land on the same partition in
// order.
type KafkaNotifier struct {
	producer *Producer
	lg       *zap.Logger
}

// NewKafkaNotifier returns a KafkaNotifier publishing through the given
// producer.
func NewKafkaNotifier(producer *Producer, lg *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, lg: lg.Named("notify")}
}

// OrderCreated publishes an OrderCreated event for the new order.
func (n *KafkaNotifier) OrderCreated(_ context.Context, o *order.Order) {
	items := make([]ItemLine, len(o.Items))
	for i, item := range o.Items {
		items[i] = ItemLine{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
		}
	}
	n.publish(o.ID, EventOrderCreated, OrderCreatedPayload{
		OrderID:    o.ID,
		BuyerID:    o.BuyerID,
		Items:      items,
		Discount:   o.Discount,
		VAT:        o.VAT,
		Total:      o.Total,
		CouponCode: o.CouponCode,
		Status:     string(o.Status),
	})
}

// OrderStatusChanged publishes an OrderStatusChanged event carrying both the
// previous and the new status.
func (n *KafkaNotifier) OrderStatusChanged(_ context.Context, o *order.Order, previous order.Status) {
	n.publish(o.ID, EventOrderStatusChanged, OrderStatusChangedPayload{
		OrderID:        o.ID,
		BuyerID:        o.BuyerID,
		PreviousStatus: string(previous),
		Status:         string(o.Status),
	})
}

func (n *KafkaNotifier) publish(orderID, eventType string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		n.lg.Warn("marshaling event payload",
			zap.String("event_type", eventType),
			zap.Error(err))
		return
	}
	env, err := json.Marshal(Envelope{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producerName,
		CorrelationID: orderID,
		Payload:       body,
	})
	if err != nil {
		n.lg.Warn("marshaling event envelope",
			zap.String("event_type", eventType),
			zap.Error(err))
		return
	}
	n.producer.Publish([]byte(orderID), env)
}

var _ order.Notifier = (*LogNotifier)(nil)

// LogNotifier is the notifier used when no kafka brokers are configured. It
// writes each event to the log and drops it.
type LogNotifier struct {
	lg *zap.Logger
}

// NewLogNotifier returns a LogNotifier writing to lg.
func NewLogNotifier(lg *zap.Logger) *LogNotifier {
	return &LogNotifier{lg: lg.Named("notify")}
}

func (n *LogNotifier) OrderCreated(_ context.Context, o *order.Order) {
	n.lg.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("buyer_id", o.BuyerID),
		zap.String("total", o.Total.String()))
}

func (n *LogNotifier) OrderStatusChanged(_ context.Context, o *order.Order, previous order.Status) {
	n.lg.Info("order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(previous)),
		zap.String("to", string(o.Status)))
}
