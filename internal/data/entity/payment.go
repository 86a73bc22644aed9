package entity

import (
	"time"

	"github.com/google/uuid"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusSuccess || s == PaymentStatusFailed
}

// Payment is one checkout attempt. TransactionID is the gateway idempotency key.
type Payment struct {
	Base
	BookingID     uuid.UUID     `db:"booking_id"`
	UserID        uuid.UUID     `db:"user_id"`
	TransactionID string        `db:"transaction_id"`
	Amount        float64       `db:"amount"`
	Currency      string        `db:"currency"`
	Status        PaymentStatus `db:"status"`
	ValidationID  *string       `db:"validation_id"`
	Method        *string       `db:"method"`
	ErrorMessage  *string       `db:"error_message"`
	PaidAt        *time.Time    `db:"paid_at"`
}
