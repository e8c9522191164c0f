package notify

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
)

// Envelope is the wire frame every order event travels in. Payload holds the
// event-specific body.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

type ItemLine struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
}

type OrderCreatedPayload struct {
	OrderID    string          `json:"order_id"`
	BuyerID    string          `json:"buyer_id"`
	Items      []ItemLine      `json:"items"`
	Discount   decimal.Decimal `json:"discount"`
	VAT        decimal.Decimal `json:"vat"`
	Total      decimal.Decimal `json:"total"`
	CouponCode string          `json:"coupon_code,omitempty"`
	Status     string          `json:"status"`
}

type OrderStatusChangedPayload struct {
	OrderID        string `json:"order_id"`
	BuyerID        string `json:"buyer_id"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
}
