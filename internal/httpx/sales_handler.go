package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-vending-sales/internal/sales"
)

// StatusCache holds encoded sale views keyed by sale id. Put carries the
// view's updated_at so a view older than the last invalidation is dropped.
type StatusCache interface {
	Get(ctx context.Context, saleID string) ([]byte, bool, error)
	Put(ctx context.Context, saleID string, version time.Time, view []byte) error
}

type SalesHandler struct {
	Sales    *sales.Service
	Checkout *sales.Checkout
	Cache    StatusCache // optional
	Log      *zap.Logger
}

func (h *SalesHandler) Register(r chi.Router) {
	r.Post("/sales", h.create)
	r.Post("/sales/checkout", h.createAndPay)
	r.Get("/sales/{id}", h.get)
	r.Patch("/sales/{id}", h.update)
	r.Delete("/sales/{id}", h.delete)
	r.Post("/sales/{id}/reserve", h.reserve)
	r.Post("/sales/{id}/pay", h.pay)
	r.Post("/sales/{id}/pickup", h.pickup)
	r.Post("/sales/{id}/cancel", h.cancel)
}

type createSaleReq struct {
	SlotID    string         `json:"slot_id"`
	ProductID string         `json:"product_id"`
	Quantity  int            `json:"quantity"`
	UserID    *string        `json:"user_id"`
	Notes     *string        `json:"notes"`
	Metadata  map[string]any `json:"metadata"`
}

func (r createSaleReq) input() sales.CreateInput {
	return sales.CreateInput{
		SlotID:    r.SlotID,
		ProductID: r.ProductID,
		Quantity:  r.Quantity,
		UserID:    r.UserID,
		Notes:     r.Notes,
		Metadata:  r.Metadata,
	}
}

type checkoutReq struct {
	createSaleReq
	PaymentRef string `json:"payment_ref"`
	TTLMinutes *int   `json:"ttl_minutes"`
}

type payReq struct {
	PaymentRef string `json:"payment_ref"`
	TTLMinutes *int   `json:"ttl_minutes"`
}

type pickupReq struct {
	Code string `json:"code"`
}

type cancelReq struct {
	Reason *string `json:"reason"`
}

type updateSaleReq struct {
	Quantity *int           `json:"quantity"`
	UserID   *string        `json:"user_id"`
	Notes    *string        `json:"notes"`
	Metadata map[string]any `json:"metadata"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return false
	}
	return true
}

func (h *SalesHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSaleReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sale, err := h.Sales.Create(ctx, req.input())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleView(sale))
}

func (h *SalesHandler) createAndPay(w http.ResponseWriter, r *http.Request) {
	var req checkoutReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	sale, err := h.Checkout.CreateAndPay(ctx, sales.CheckoutInput{
		CreateInput: req.input(),
		PaymentRef:  req.PaymentRef,
		TTLMinutes:  req.TTLMinutes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaidSaleView(sale))
}

func (h *SalesHandler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Cache != nil {
		if b, ok, err := h.Cache.Get(ctx, id); err == nil && ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(b)
			return
		} else if err != nil {
			h.logger().Warn("status cache read failed", zap.String("sale_id", id), zap.Error(err))
		}
	}

	sale, err := h.Sales.Get(ctx, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	b, err := json.Marshal(toSaleView(sale))
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
		return
	}
	if h.Cache != nil {
		if err := h.Cache.Put(ctx, id, sale.UpdatedAt, b); err != nil {
			h.logger().Warn("status cache write failed", zap.String("sale_id", id), zap.Error(err))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *SalesHandler) update(w http.ResponseWriter, r *http.Request) {
	var req updateSaleReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sale, err := h.Sales.Update(ctx, chi.URLParam(r, "id"), sales.Patch{
		Quantity: req.Quantity,
		UserID:   req.UserID,
		Notes:    req.Notes,
		Metadata: req.Metadata,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleView(sale))
}

func (h *SalesHandler) delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Sales.Delete(ctx, chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SalesHandler) reserve(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sale, err := h.Sales.Reserve(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleView(sale))
}

func (h *SalesHandler) pay(w http.ResponseWriter, r *http.Request) {
	var req payReq
	if !decode(w, r, &req) {
		return
	}
	if req.PaymentRef == "" {
		writeError(w, http.StatusBadRequest, codeMissingField, "payment_ref is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	sale, err := h.Checkout.Pay(ctx, sales.PaymentInput{
		SaleID:     chi.URLParam(r, "id"),
		PaymentRef: req.PaymentRef,
		TTLMinutes: req.TTLMinutes,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaidSaleView(sale))
}

func (h *SalesHandler) pickup(w http.ResponseWriter, r *http.Request) {
	var req pickupReq
	if !decode(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, codeMissingField, "code is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sale, err := h.Sales.ConfirmPickup(ctx, chi.URLParam(r, "id"), req.Code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleView(sale))
}

func (h *SalesHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sale, err := h.Sales.Cancel(ctx, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleView(sale))
}

func (h *SalesHandler) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}
