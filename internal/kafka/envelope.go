package kafka

import (
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
)

const EventPaymentAuthorized = "PaymentAuthorized"

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // sale_id
	Payload       json.RawMessage `json:"payload"`
}

type SaleEventPayload struct {
	SaleID     string       `json:"sale_id"`
	SlotID     string       `json:"slot_id"`
	Quantity   int          `json:"quantity"`
	TotalPrice int64        `json:"total_price"`
	State      domain.State `json:"state"`
	Reason     string       `json:"reason,omitempty"`
}

// PaymentAuthorizedPayload comes from the payment provider bridge. SaleID
// and TTLMinutes are optional; without SaleID the authorization is only
// recorded for a later confirm call.
type PaymentAuthorizedPayload struct {
	PaymentRef string `json:"payment_ref"`
	Amount     int64  `json:"amount"`
	SaleID     string `json:"sale_id,omitempty"`
	TTLMinutes *int   `json:"ttl_minutes,omitempty"`
}
