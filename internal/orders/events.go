package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventDeliveryUpdated    = "DeliveryUpdated"
	EventGuestOrderReceived = "GuestOrderReceived"
)

const EnvelopeVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g. "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order or guest order id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type ItemPrice struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type OrderPlacedPayload struct {
	OrderID  string          `json:"order_id"`
	UserID   string          `json:"user_id"`
	Items    []ItemPrice     `json:"items"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
}

type OrderStatusChangedPayload struct {
	OrderID   string `json:"order_id"`
	From      Status `json:"from"`
	To        Status `json:"to"`
	Restocked bool   `json:"restocked"`
}

type DeliveryUpdatedPayload struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	Courier        string `json:"courier,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type GuestOrderReceivedPayload struct {
	GuestOrderID string          `json:"guest_order_id"`
	CustomerName string          `json:"customer_name"`
	BusinessName string          `json:"business_name"`
	Phone        string          `json:"phone"`
	TotalItems   int             `json:"total_items"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

func toItemPrices(items []OrderItem) []ItemPrice {
	out := make([]ItemPrice, 0, len(items))
	for _, it := range items {
		out = append(out, ItemPrice{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}
	return out
}
