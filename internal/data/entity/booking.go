package entity

import (
	"errors"
	"fmt"
	"math"
	"time"

	"roadside-dispatch/pkg/geo"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingStatusPending        BookingStatus = "pending"
	BookingStatusConfirmed      BookingStatus = "confirmed"
	BookingStatusOnTheWay       BookingStatus = "on_the_way"
	BookingStatusDiagnosing     BookingStatus = "diagnosing"
	BookingStatusEstimateSent   BookingStatus = "estimate_sent"
	BookingStatusInProgress     BookingStatus = "in_progress"
	BookingStatusPaymentPending BookingStatus = "payment_pending"
	BookingStatusCompleted      BookingStatus = "completed"
	BookingStatusCancelled      BookingStatus = "cancelled"
)

// bookingFlow is the forward path. cancelled sits outside it.
var bookingFlow = []BookingStatus{
	BookingStatusPending,
	BookingStatusConfirmed,
	BookingStatusOnTheWay,
	BookingStatusDiagnosing,
	BookingStatusEstimateSent,
	BookingStatusInProgress,
	BookingStatusPaymentPending,
	BookingStatusCompleted,
}

var (
	ErrUnknownStatus      = errors.New("unknown booking status")
	ErrBookingTerminal    = errors.New("booking is already closed")
	ErrBackwardTransition = errors.New("booking status can only move forward")
)

func (s BookingStatus) rank() int {
	for i, st := range bookingFlow {
		if st == s {
			return i
		}
	}
	return -1
}

func (s BookingStatus) Valid() bool {
	return s == BookingStatusCancelled || s.rank() >= 0
}

func (s BookingStatus) Terminal() bool {
	return s == BookingStatusCompleted || s == BookingStatusCancelled
}

// Next returns the following stage on the forward path.
func (s BookingStatus) Next() (BookingStatus, bool) {
	r := s.rank()
	if r < 0 || r == len(bookingFlow)-1 {
		return "", false
	}
	return bookingFlow[r+1], true
}

// Precedes reports whether s comes strictly before other on the forward path.
func (s BookingStatus) Precedes(other BookingStatus) bool {
	a, b := s.rank(), other.rank()
	return a >= 0 && b >= 0 && a < b
}

func ParseBookingStatus(v string) (BookingStatus, bool) {
	s := BookingStatus(v)
	return s, s.Valid()
}

// BookingStatuses lists the whole vocabulary in flow order.
func BookingStatuses() []BookingStatus {
	out := make([]BookingStatus, 0, len(bookingFlow)+1)
	out = append(out, bookingFlow...)
	return append(out, BookingStatusCancelled)
}

type BillItem struct {
	Description string  `json:"description"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
}

func (i BillItem) Total() float64 {
	return float64(i.Quantity) * i.UnitPrice
}

// BillTotal sums the items, rounded to cents.
func BillTotal(items []BillItem) float64 {
	var total float64
	for _, item := range items {
		total += item.Total()
	}
	return math.Round(total*100) / 100
}

type PaymentDetails struct {
	TransactionID *string    `db:"payment_transaction_id"`
	Amount        *float64   `db:"payment_amount"`
	Method        *string    `db:"payment_method"`
	SubmittedAt   *time.Time `db:"payment_submitted_at"`
}

type Booking struct {
	Base
	BookingNumber      string        `db:"booking_number"`
	UserID             uuid.UUID     `db:"user_id"`
	GarageID           *uuid.UUID    `db:"garage_id"`
	AssignedMechanicID *uuid.UUID    `db:"assigned_mechanic_id"`
	Status             BookingStatus `db:"status"`
	VehicleType        string        `db:"vehicle_type"`
	ProblemDescription string        `db:"problem_description"`
	Address            *string       `db:"address"`
	Location           geo.Point     // lat, lng columns
	Notes              *string       `db:"notes"`
	EstimatedCost      *float64      `db:"estimated_cost"`
	ActualCost         *float64      `db:"actual_cost"`
	BillItems          []BillItem    `db:"bill_items"`
	Payment            PaymentDetails
	IsPaymentSubmitted bool       `db:"is_payment_submitted"`
	IsPaymentApproved  bool       `db:"is_payment_approved"`
	IsPaid             bool       `db:"is_paid"`
	ConfirmedAt        *time.Time `db:"confirmed_at"`
	StartedAt          *time.Time `db:"started_at"`
	CompletedAt        *time.Time `db:"completed_at"`
	CancelledAt        *time.Time `db:"cancelled_at"`

	// Loaded from booking_otps, not stored on the row.
	StartOTP      *BookingOTP
	CompletionOTP *BookingOTP
}

// CheckTransition validates a move to `to` against the status graph.
// Stage skipping is allowed here; callers restrict it per role.
func (b *Booking) CheckTransition(to BookingStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	if b.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrBookingTerminal, b.Status)
	}
	if to == BookingStatusCancelled {
		return nil
	}
	if !b.Status.Precedes(to) {
		return fmt.Errorf("%w: %s -> %s", ErrBackwardTransition, b.Status, to)
	}
	return nil
}

// ApplyStatus moves the booking to `to` and stamps the matching timestamp once.
func (b *Booking) ApplyStatus(to BookingStatus, now time.Time) error {
	if err := b.CheckTransition(to); err != nil {
		return err
	}

	b.Status = to
	b.UpdatedAt = now

	switch to {
	case BookingStatusConfirmed:
		stampOnce(&b.ConfirmedAt, now)
	case BookingStatusInProgress:
		stampOnce(&b.StartedAt, now)
	case BookingStatusCompleted:
		stampOnce(&b.CompletedAt, now)
	case BookingStatusCancelled:
		stampOnce(&b.CancelledAt, now)
	}
	return nil
}

// SetEstimate records the quote sent to the requester. ActualCost follows the
// bill items when there are any.
func (b *Booking) SetEstimate(estimated *float64, items []BillItem) {
	if estimated != nil {
		v := *estimated
		b.EstimatedCost = &v
	}
	if len(items) > 0 {
		b.BillItems = items
		total := BillTotal(items)
		b.ActualCost = &total
	}
}

// PayableAmount is what the requester is charged at checkout.
func (b *Booking) PayableAmount() float64 {
	if b.ActualCost != nil && *b.ActualCost > 0 {
		return *b.ActualCost
	}
	if b.EstimatedCost != nil {
		return *b.EstimatedCost
	}
	return 0
}

// MarkPaymentSubmitted records a reconciled gateway payment awaiting human confirmation.
func (b *Booking) MarkPaymentSubmitted(p *Payment, now time.Time) {
	txn := p.TransactionID
	amount := p.Amount
	b.Payment = PaymentDetails{
		TransactionID: &txn,
		Amount:        &amount,
		Method:        p.Method,
		SubmittedAt:   &now,
	}
	b.IsPaymentSubmitted = true
	b.IsPaymentApproved = false
	b.IsPaid = false
	b.UpdatedAt = now
}

func stampOnce(field **time.Time, now time.Time) {
	if *field == nil {
		t := now
		*field = &t
	}
}
