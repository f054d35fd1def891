package httpx

import (
	"time"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
)

// saleView is the public shape of a sale. The pickup code is left out and
// only returned by the payment endpoints.
type saleView struct {
	ID           string         `json:"id"`
	SlotID       string         `json:"slot_id"`
	ProductID    string         `json:"product_id"`
	UserID       *string        `json:"user_id,omitempty"`
	Quantity     int            `json:"quantity"`
	UnitPrice    int64          `json:"unit_price"`
	TotalPrice   int64          `json:"total_price"`
	State        domain.State   `json:"state"`
	PaymentRef   *string        `json:"payment_ref,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ReservedAt   *time.Time     `json:"reserved_at,omitempty"`
	PaidAt       *time.Time     `json:"paid_at,omitempty"`
	FulfilledAt  *time.Time     `json:"fulfilled_at,omitempty"`
	CanceledAt   *time.Time     `json:"canceled_at,omitempty"`
	ExpiredAt    *time.Time     `json:"expired_at,omitempty"`
	CancelReason *string        `json:"cancel_reason,omitempty"`
	Notes        *string        `json:"notes,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type paidSaleView struct {
	saleView
	PickupCode *string `json:"pickup_code"`
}

func toSaleView(s domain.Sale) saleView {
	return saleView{
		ID:           s.ID,
		SlotID:       s.SlotID,
		ProductID:    s.ProductID,
		UserID:       s.UserID,
		Quantity:     s.Quantity,
		UnitPrice:    s.UnitPrice,
		TotalPrice:   s.TotalPrice,
		State:        s.State,
		PaymentRef:   s.PaymentRef,
		ExpiresAt:    s.ExpiresAt,
		CreatedAt:    s.CreatedAt,
		ReservedAt:   s.ReservedAt,
		PaidAt:       s.PaidAt,
		FulfilledAt:  s.FulfilledAt,
		CanceledAt:   s.CanceledAt,
		ExpiredAt:    s.ExpiredAt,
		CancelReason: s.CancelReason,
		Notes:        s.Notes,
		Metadata:     s.Metadata,
	}
}

func toPaidSaleView(s domain.Sale) paidSaleView {
	return paidSaleView{saleView: toSaleView(s), PickupCode: s.PickupCode}
}

type slotView struct {
	ID            string    `json:"id"`
	MachineID     string    `json:"machine_id"`
	SlotNumber    int       `json:"slot_number"`
	ProductID     *string   `json:"product_id,omitempty"`
	Capacity      int       `json:"capacity"`
	Available     int       `json:"available"`
	Reserved      int       `json:"reserved"`
	PriceOverride *int64    `json:"price_override,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toSlotView(s domain.Slot) slotView {
	return slotView{
		ID:            s.ID,
		MachineID:     s.MachineID,
		SlotNumber:    s.SlotNumber,
		ProductID:     s.ProductID,
		Capacity:      s.Capacity,
		Available:     s.Available,
		Reserved:      s.Reserved,
		PriceOverride: s.PriceOverride,
		Active:        s.Active,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
}
