package models

import "time"

// PaymentMethod is how a deposit was paid.
type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCard         PaymentMethod = "card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodVoucher      PaymentMethod = "voucher"
)

// ParsePaymentMethod validates a payment method string.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch PaymentMethod(s) {
	case MethodCash, MethodCard, MethodBankTransfer, MethodVoucher:
		return PaymentMethod(s), true
	}
	return "", false
}

// RequiresReference reports whether a payment with this method must carry a reference.
func (m PaymentMethod) RequiresReference() bool {
	return m != MethodCash
}

// DepositRecord tracks the deposit of a reservation with DepositRequired set.
type DepositRecord struct {
	ReservationID  string        `json:"reservation_id"`
	AmountRequired int64         `json:"amount_required"`
	AmountPaid     int64         `json:"amount_paid"`
	Method         PaymentMethod `json:"method,omitempty"`
	Reference      string        `json:"reference,omitempty"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
	RefundedAt     *time.Time    `json:"refunded_at,omitempty"`
}

// Outstanding is the part of the requirement not yet paid.
func (d *DepositRecord) Outstanding() int64 {
	if d.AmountPaid >= d.AmountRequired {
		return 0
	}
	return d.AmountRequired - d.AmountPaid
}

// IsPaid reports whether the requirement is fully covered.
func (d *DepositRecord) IsPaid() bool {
	return d.AmountRequired > 0 && d.AmountPaid >= d.AmountRequired
}

// IsRefunded reports whether the deposit has been returned.
func (d *DepositRecord) IsRefunded() bool {
	return d.RefundedAt != nil
}
