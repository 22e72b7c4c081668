package api

import (
	"errors"
	"net/http"

	"spadesk/internal/models"
)

// RequireDepositRequest is the body of POST /api/reservations/{id}/deposit.
type RequireDepositRequest struct {
	Amount int64 `json:"amount"`
}

// PaymentRequest is the body of POST /api/reservations/{id}/deposit/payments.
type PaymentRequest struct {
	Amount    int64  `json:"amount"`
	Method    string `json:"method"`
	Reference string `json:"reference,omitempty"`
}

// DepositResponse pairs the deposit record with what is left to pay at checkout.
type DepositResponse struct {
	Deposit    *models.DepositRecord `json:"deposit,omitempty"`
	BalanceDue int64                 `json:"balance_due"`
}

// GET /api/reservations/{id}/deposit
func (s *HTTPServer) handleGetDeposit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	balance, err := s.svc.BalanceDue(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	rec, err := s.svc.GetDeposit(r.Context(), id)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DepositResponse{Deposit: rec, BalanceDue: balance})
}

// POST /api/reservations/{id}/deposit
func (s *HTTPServer) handleRequireDeposit(w http.ResponseWriter, r *http.Request) {
	var req RequireDepositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := s.svc.RequireDeposit(r.Context(), r.PathValue("id"), req.Amount)
	s.writeDeposit(w, r, rec, err)
}

// POST /api/reservations/{id}/deposit/payments
func (s *HTTPServer) handlePayDeposit(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rec, err := s.svc.PayDeposit(r.Context(), r.PathValue("id"), req.Amount, models.PaymentMethod(req.Method), req.Reference)
	s.writeDeposit(w, r, rec, err)
}

// POST /api/reservations/{id}/deposit/refund
func (s *HTTPServer) handleRefundDeposit(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.RefundDeposit(r.Context(), r.PathValue("id"))
	s.writeDeposit(w, r, rec, err)
}

func (s *HTTPServer) writeDeposit(w http.ResponseWriter, r *http.Request, rec *models.DepositRecord, err error) {
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	balance, err := s.svc.BalanceDue(r.Context(), rec.ReservationID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DepositResponse{Deposit: rec, BalanceDue: balance})
}
