package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
	"github.com/ariefcatur/go-vending-sales/internal/pricing"
)

type SlotStore interface {
	CreateSlot(ctx context.Context, slot domain.Slot) (domain.Slot, error)
	GetSlot(ctx context.Context, id string) (domain.Slot, error)
	ListSlots(ctx context.Context, machineID string) ([]domain.Slot, error)
	DeleteSlot(ctx context.Context, id string) error
}

type PriceWriter interface {
	PutPrice(ctx context.Context, e pricing.Entry) error
}

// AdminHandler exposes slot administration and the price list.
type AdminHandler struct {
	Slots  SlotStore
	Prices PriceWriter // optional
}

func (h *AdminHandler) Register(r chi.Router) {
	r.Post("/slots", h.createSlot)
	r.Get("/slots", h.listSlots)
	r.Get("/slots/{id}", h.getSlot)
	r.Delete("/slots/{id}", h.deleteSlot)
	if h.Prices != nil {
		r.Post("/prices", h.putPrice)
	}
}

type createSlotReq struct {
	MachineID     string  `json:"machine_id"`
	SlotNumber    int     `json:"slot_number"`
	ProductID     *string `json:"product_id"`
	Capacity      int     `json:"capacity"`
	Available     int     `json:"available"`
	PriceOverride *int64  `json:"price_override"`
	Active        *bool   `json:"active"`
}

func (h *AdminHandler) createSlot(w http.ResponseWriter, r *http.Request) {
	var req createSlotReq
	if !decode(w, r, &req) {
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	slot, err := h.Slots.CreateSlot(ctx, domain.Slot{
		MachineID:     req.MachineID,
		SlotNumber:    req.SlotNumber,
		ProductID:     req.ProductID,
		Capacity:      req.Capacity,
		Available:     req.Available,
		PriceOverride: req.PriceOverride,
		Active:        active,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotView(slot))
}

func (h *AdminHandler) getSlot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	slot, err := h.Slots.GetSlot(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotView(slot))
}

func (h *AdminHandler) listSlots(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	slots, err := h.Slots.ListSlots(ctx, r.URL.Query().Get("machine_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]slotView, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotView(s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) deleteSlot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Slots.DeleteSlot(ctx, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type putPriceReq struct {
	ProductID  string     `json:"product_id"`
	LocationID string     `json:"location_id"`
	MachineID  string     `json:"machine_id"`
	Amount     int64      `json:"amount"`
	ValidFrom  *time.Time `json:"valid_from"`
	ValidTo    *time.Time `json:"valid_to"`
}

func (h *AdminHandler) putPrice(w http.ResponseWriter, r *http.Request) {
	var req putPriceReq
	if !decode(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, codeMissingField, "product_id is required")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "amount must be positive")
		return
	}
	if req.MachineID != "" && req.LocationID != "" {
		writeError(w, http.StatusBadRequest, codeValidation, "set machine_id or location_id, not both")
		return
	}
	e := pricing.Entry{
		ProductID:  req.ProductID,
		LocationID: req.LocationID,
		MachineID:  req.MachineID,
		Amount:     req.Amount,
		ValidTo:    req.ValidTo,
	}
	if req.ValidFrom != nil {
		e.ValidFrom = *req.ValidFrom
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Prices.PutPrice(ctx, e); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
