package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-vending-sales/internal/domain"
	"github.com/ariefcatur/go-vending-sales/internal/payment"
	"github.com/ariefcatur/go-vending-sales/internal/sales"
)

const (
	codeNotFound           = "not_found"
	codeInvalidRequestBody = "invalid_request_body"
	codeMissingField       = "missing_required_field"
	codeValidation         = "validation_failed"
	codeSlotConflict       = "slot_conflict"
	codeInsufficientStock  = "insufficient_stock"
	codeBusinessRule       = "business_rule_violation"
	codeNoPrice            = "no_price_defined"
	codePaymentNotFound    = "payment_not_found"
	codePaymentMismatch    = "payment_amount_mismatch"
	codePaymentUsed        = "payment_already_used"
	codeLockTimeout        = "lock_timeout"
	codeInternalError      = "internal_error"
)

type errorResponse struct {
	Error  string       `json:"error"`
	Code   string       `json:"code"`
	Phase  string       `json:"phase,omitempty"`
	SaleID string       `json:"sale_id,omitempty"`
	State  domain.State `json:"state,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// classify maps the error taxonomy onto an HTTP status and a stable code.
// Order matters: ErrSlotConflict is also a validation error and
// ErrLockTimeout is also a store error.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrSlotConflict):
		return http.StatusConflict, codeSlotConflict
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, codeInsufficientStock
	case errors.Is(err, payment.ErrPaymentAlreadyUsed):
		return http.StatusConflict, codePaymentUsed
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, codeValidation
	case errors.Is(err, domain.ErrNoPriceDefined):
		return http.StatusUnprocessableEntity, codeNoPrice
	case errors.Is(err, domain.ErrBusinessRule):
		return http.StatusUnprocessableEntity, codeBusinessRule
	case errors.Is(err, payment.ErrPaymentNotFound):
		return http.StatusUnprocessableEntity, codePaymentNotFound
	case errors.Is(err, payment.ErrAmountMismatch):
		return http.StatusUnprocessableEntity, codePaymentMismatch
	case errors.Is(err, domain.ErrLockTimeout):
		return http.StatusServiceUnavailable, codeLockTimeout
	}
	return http.StatusInternalServerError, codeInternalError
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	resp := errorResponse{Error: msg, Code: code}

	var pe *sales.PhaseError
	if errors.As(err, &pe) {
		resp.Phase = string(pe.Phase)
		resp.SaleID = pe.SaleID
		resp.State = pe.State
	}
	writeJSON(w, status, resp)
}
