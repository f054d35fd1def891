package domain

import "time"

const (
	MinSlotCapacity = 1
	MaxSlotCapacity = 50

	MinSaleQuantity = 1
	MaxSaleQuantity = 100

	MinPickupTTLMinutes = 1
	MaxPickupTTLMinutes = 1440
)

// Slot is one dispensing position in a machine. Available and Reserved are
// only ever changed through the ledger.
type Slot struct {
	ID            string
	MachineID     string
	SlotNumber    int
	ProductID     *string
	Capacity      int
	Available     int
	Reserved      int
	PriceOverride *int64
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CheckCounters verifies available + reserved <= capacity with both non-negative.
func (s Slot) CheckCounters() error {
	if s.Available < 0 || s.Reserved < 0 {
		return NewRuleError("slot %s: negative counters (available=%d reserved=%d)", s.ID, s.Available, s.Reserved)
	}
	if s.Available+s.Reserved > s.Capacity {
		return NewRuleError("slot %s: available %d + reserved %d exceeds capacity %d", s.ID, s.Available, s.Reserved, s.Capacity)
	}
	return nil
}

func (s Slot) Validate() error {
	if s.MachineID == "" {
		return NewValidationError("machine_id is required")
	}
	if s.SlotNumber <= 0 {
		return NewValidationError("slot_number must be positive")
	}
	if s.Capacity < MinSlotCapacity || s.Capacity > MaxSlotCapacity {
		return NewValidationError("capacity must be in [%d,%d]", MinSlotCapacity, MaxSlotCapacity)
	}
	if s.PriceOverride != nil && *s.PriceOverride <= 0 {
		return NewValidationError("price_override must be positive")
	}
	if s.ProductID != nil && *s.ProductID == "" {
		return NewValidationError("product_id must not be blank")
	}
	return s.CheckCounters()
}

type Sale struct {
	ID         string
	SlotID     string
	ProductID  string
	UserID     *string
	Quantity   int
	UnitPrice  int64
	TotalPrice int64
	State      State

	PickupCode *string
	PaymentRef *string
	ExpiresAt  *time.Time

	CreatedAt   time.Time
	ReservedAt  *time.Time
	PaidAt      *time.Time
	FulfilledAt *time.Time
	CanceledAt  *time.Time
	ExpiredAt   *time.Time
	UpdatedAt   time.Time

	CancelReason *string
	Notes        *string
	Metadata     map[string]any
}

// PastDeadline reports whether the sale carries an expires_at that lies before now.
func (s Sale) PastDeadline(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// Clone returns a copy that shares no pointers with s.
func (s Sale) Clone() Sale {
	c := s
	c.UserID = clonePtr(s.UserID)
	c.PickupCode = clonePtr(s.PickupCode)
	c.PaymentRef = clonePtr(s.PaymentRef)
	c.ExpiresAt = clonePtr(s.ExpiresAt)
	c.ReservedAt = clonePtr(s.ReservedAt)
	c.PaidAt = clonePtr(s.PaidAt)
	c.FulfilledAt = clonePtr(s.FulfilledAt)
	c.CanceledAt = clonePtr(s.CanceledAt)
	c.ExpiredAt = clonePtr(s.ExpiredAt)
	c.CancelReason = clonePtr(s.CancelReason)
	c.Notes = clonePtr(s.Notes)
	if s.Metadata != nil {
		c.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

func (s Slot) Clone() Slot {
	c := s
	c.ProductID = clonePtr(s.ProductID)
	c.PriceOverride = clonePtr(s.PriceOverride)
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
